package runtime

import (
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

// Hub tracks every open session. It is the only place that can reach
// all connections at once, used by emergency shutdown and by presence
// checks for currently connected agents.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	log      zerolog.Logger
}

// NewHub returns an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		sessions: make(map[*Session]struct{}),
		log:      log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) add(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// Count returns the number of open sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// IsConnected reports whether an authenticated session is bound to the
// given agent identity.
func (h *Hub) IsConnected(agentID string) bool {
	if agentID == "" {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if s.AgentID() == agentID {
			return true
		}
	}
	return false
}

// CloseAll closes every open session with a normal-closure status.
func (h *Hub) CloseAll(reason string) {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[*Session]struct{})
	h.mu.Unlock()

	for _, s := range sessions {
		s.close(websocket.StatusNormalClosure, reason)
	}
	if len(sessions) > 0 {
		h.log.Info().Int("sessions", len(sessions)).Str("reason", reason).Msg("closed all sessions")
	}
}
