package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Session is one registered transport connection. Deliver must not block:
// implementations buffer internally and drop when the buffer is full.
type Session interface {
	ID() string
	Deliver(msg Message)
	Kick(reason string)
}

// Hub tracks the sessions connected to this process and their channel
// subscriptions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]Session
	channels map[string]map[string]struct{} // channel -> session ids
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]Session),
		channels: make(map[string]map[string]struct{}),
		logger:   logger,
	}
}

func (h *Hub) Register(s Session) {
	h.mu.Lock()
	h.sessions[s.ID()] = s
	h.mu.Unlock()

	h.logger.Debug("Session registered", zap.String("sessionID", s.ID()))
}

// Unregister removes the session and all of its channel subscriptions. It is
// a no-op when another session has already replaced this id.
func (h *Hub) Unregister(s Session) {
	h.mu.Lock()
	if cur, ok := h.sessions[s.ID()]; ok && cur == s {
		delete(h.sessions, s.ID())
		for _, members := range h.channels {
			delete(members, s.ID())
		}
	}
	h.mu.Unlock()

	h.logger.Debug("Session unregistered", zap.String("sessionID", s.ID()))
}

func (h *Hub) Join(sessionID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[sessionID]; !ok {
		return
	}
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]struct{})
		h.channels[channel] = members
	}
	members[sessionID] = struct{}{}
}

func (h *Hub) Get(sessionID string) (Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[sessionID]
	return s, ok
}

func (h *Hub) channelSessions(channel string) []Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Session, 0, len(h.channels[channel]))
	for id := range h.channels[channel] {
		if s, ok := h.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// HubNotifier delivers events to sessions registered in the local hub. It is
// the single-instance Notifier; RedisNotifier wraps it for multi-instance
// deployments.
type HubNotifier struct {
	hub    *Hub
	logger *zap.Logger
}

func NewHubNotifier(hub *Hub, logger *zap.Logger) *HubNotifier {
	return &HubNotifier{hub: hub, logger: logger}
}

func (n *HubNotifier) Broadcast(_ context.Context, channel string, event Event, payload any) error {
	msg, err := NewMessage(event, payload)
	if err != nil {
		return err
	}
	for _, s := range n.hub.channelSessions(channel) {
		s.Deliver(msg)
	}
	return nil
}

func (n *HubNotifier) Unicast(_ context.Context, sessionID string, event Event, payload any) error {
	msg, err := NewMessage(event, payload)
	if err != nil {
		return err
	}
	s, ok := n.hub.Get(sessionID)
	if !ok {
		// The session may have raced away; callers treat this as delivered.
		n.logger.Debug("Unicast to unknown session",
			zap.String("sessionID", sessionID),
			zap.String("event", string(event)),
		)
		return nil
	}
	s.Deliver(msg)
	return nil
}

func (n *HubNotifier) CloseSession(_ context.Context, sessionID, reason string) error {
	s, ok := n.hub.Get(sessionID)
	if !ok {
		return nil
	}
	s.Kick(reason)
	return nil
}
