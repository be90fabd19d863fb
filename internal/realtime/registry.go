package realtime

import (
	"sort"
	"sync"
)

// Registry maps topics to the connections currently joined to them.
// Membership belongs to a connection, not to an identity: two sockets opened
// by the same donor are two independent members.
type Registry struct {
	mu     sync.RWMutex
	topics map[Topic]map[*Client]struct{}
	joined map[*Client]map[Topic]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		topics: make(map[Topic]map[*Client]struct{}),
		joined: make(map[*Client]map[Topic]struct{}),
	}
}

func (r *Registry) Join(c *Client, topics ...Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, topic := range topics {
		if topic.IsZero() {
			continue
		}
		members := r.topics[topic]
		if members == nil {
			members = make(map[*Client]struct{})
			r.topics[topic] = members
		}
		members[c] = struct{}{}

		memberships := r.joined[c]
		if memberships == nil {
			memberships = make(map[Topic]struct{})
			r.joined[c] = memberships
		}
		memberships[topic] = struct{}{}
	}
}

func (r *Registry) Leave(c *Client, topic Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(c, topic)
}

// LeaveAll drops every membership of c.
func (r *Registry) LeaveAll(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic := range r.joined[c] {
		r.leaveLocked(c, topic)
	}
	delete(r.joined, c)
}

func (r *Registry) leaveLocked(c *Client, topic Topic) {
	if members, ok := r.topics[topic]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.topics, topic)
		}
	}
	if memberships, ok := r.joined[c]; ok {
		delete(memberships, topic)
		if len(memberships) == 0 {
			delete(r.joined, c)
		}
	}
}

// Members returns a snapshot of topic's members.
func (r *Registry) Members(topic Topic) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.topics[topic]
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// Topics returns the group names c belongs to, sorted.
func (r *Registry) Topics(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.joined[c]))
	for topic := range r.joined[c] {
		out = append(out, topic.String())
	}
	sort.Strings(out)
	return out
}

// Connections counts distinct connections holding at least one membership.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.joined)
}
