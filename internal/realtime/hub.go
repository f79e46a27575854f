// Package realtime streams a participant's notifications to their open WebSocket connections.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// Subscriber subscribes to participant channels and invokes handler for incoming events.
type Subscriber interface {
	SubscribeParticipant(participantID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains participant_id -> set of connections. Each participant with at least one
// local connection has one Redis subscription, so any instance can serve the stream.
type Hub struct {
	participants map[uuid.UUID]map[string]*Client
	subs         map[uuid.UUID]func()
	mu           sync.RWMutex
	logger       *zap.Logger
	sub          Subscriber
}

// NewHub creates a new WebSocket hub. sub may be nil for single-process setups.
func NewHub(logger *zap.Logger, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		participants: make(map[uuid.UUID]map[string]*Client),
		subs:         make(map[uuid.UUID]func()),
		logger:       logger,
		sub:          sub,
	}
}

// Register adds a client. The first client of a participant starts their subscription.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.participants[c.ParticipantID] == nil {
		h.participants[c.ParticipantID] = make(map[string]*Client)
		if h.sub != nil {
			id := c.ParticipantID
			cancel, err := h.sub.SubscribeParticipant(id, func(event string, payload []byte) {
				h.Deliver(id, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("participant subscription failed", zap.String("participant_id", id.String()), zap.Error(err))
			} else {
				h.subs[id] = cancel
			}
		}
	}
	h.participants[c.ParticipantID][c.ID] = c
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("participant_id", c.ParticipantID.String()))
}

// Unregister removes a client. The last client of a participant cancels their subscription.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.participants[c.ParticipantID]
	if !ok {
		return
	}
	if _, ok := m[c.ID]; !ok {
		return
	}
	delete(m, c.ID)
	close(c.send)
	if len(m) == 0 {
		delete(h.participants, c.ParticipantID)
		if cancel, ok := h.subs[c.ParticipantID]; ok {
			cancel()
			delete(h.subs, c.ParticipantID)
		}
	}
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("participant_id", c.ParticipantID.String()))
}

// Deliver sends an event to every local connection of the participant. Slow clients miss messages.
func (h *Hub) Deliver(participantID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			h.logger.Warn("marshal hub payload", zap.String("event", event), zap.Error(err))
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.participants[participantID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Connected returns the number of local connections for a participant.
func (h *Hub) Connected(participantID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.participants[participantID])
}
