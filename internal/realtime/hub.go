package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Hub delivers events to topic members. Delivery is at most once and only to
// connections that are joined when Dispatch runs.
type Hub struct {
	registry *Registry
	aliases  bool
	logger   logrus.FieldLogger
}

func NewHub(registry *Registry, legacyAliases bool, logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{registry: registry, aliases: legacyAliases, logger: logger.WithField("component", "realtime")}
}

func (h *Hub) Registry() *Registry { return h.registry }

// Dispatch sends event to every member of topic and reports how many
// connections received the primary frame. An alias frame that does not fit
// does not count against delivery.
func (h *Hub) Dispatch(topic Topic, event Event) (int, error) {
	if topic.IsZero() {
		return 0, fmt.Errorf("dispatch %s: empty topic", event.Name)
	}
	frames, err := h.encode(event)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, client := range h.registry.Members(topic) {
		fields := logrus.Fields{
			"topic":     topic.String(),
			"event":     string(event.Name),
			"client_id": client.ID(),
		}
		if !client.enqueue(frames[0]) {
			h.logger.WithFields(fields).Warn("realtime frame dropped")
			continue
		}
		delivered++
		for _, alias := range frames[1:] {
			if !client.enqueue(alias) {
				h.logger.WithFields(fields).Warn("realtime alias frame dropped")
			}
		}
	}

	h.logger.WithFields(logrus.Fields{
		"topic":     topic.String(),
		"event":     string(event.Name),
		"delivered": delivered,
	}).Debug("realtime dispatch")
	return delivered, nil
}

func (h *Hub) encode(event Event) ([][]byte, error) {
	primary, err := json.Marshal(Frame{Event: event.Name, Data: event.Payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event.Name, err)
	}
	frames := [][]byte{primary}
	if !h.aliases {
		return frames, nil
	}
	if alias, ok := event.Name.Alias(); ok {
		legacy, err := json.Marshal(Frame{Event: alias, Data: event.Payload})
		if err != nil {
			return nil, fmt.Errorf("encode %s frame: %w", alias, err)
		}
		frames = append(frames, legacy)
	}
	return frames, nil
}
