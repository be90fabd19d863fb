package realtime

import (
	"sync"

	"bloodlink/api/internal/identity"
)

// Client is one realtime connection's outbound side.
type Client struct {
	id     string
	caller identity.Caller
	send   chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(id string, caller identity.Caller, buffer int) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{
		id:     id,
		caller: caller,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string               { return c.id }
func (c *Client) Caller() identity.Caller { return c.caller }

// Send exposes queued frames to the connection writer.
func (c *Client) Send() <-chan []byte { return c.send }

// Done is closed when the connection is shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

// enqueue never blocks. A full buffer or a closed client drops the frame.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
