// Package presence answers "is this agent online" for the decision
// pipeline. Liveness is derived from the event log: an agent counts as
// online when it pinged within the configured window.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/liminal-foundation/lre-core/internal/store"
)

// Checker reports agent liveness.
type Checker interface {
	IsOnline(ctx context.Context, agentID string) (bool, error)
}

// StoreChecker derives liveness from persisted system_ping events.
type StoreChecker struct {
	store  *store.Store
	window time.Duration
}

// NewStoreChecker considers an agent online when its latest ping is no
// older than window.
func NewStoreChecker(s *store.Store, window time.Duration) *StoreChecker {
	return &StoreChecker{store: s, window: window}
}

// IsOnline reports whether the agent pinged within the window. An agent
// with no recorded pings is offline.
func (c *StoreChecker) IsOnline(ctx context.Context, agentID string) (bool, error) {
	if agentID == "" {
		return false, nil
	}
	agents, err := c.store.RecentAgents(ctx, c.window)
	if err != nil {
		return false, errors.Wrap(err, "presence lookup")
	}
	for _, a := range agents {
		if a.AgentID == agentID {
			return a.Status == "ONLINE", nil
		}
	}
	return false, nil
}

// StaticChecker holds a fixed liveness table. Used by tests and the CLI,
// where no ping history exists.
type StaticChecker struct {
	mu     sync.RWMutex
	online map[string]bool
}

// NewStaticChecker marks the given agents online.
func NewStaticChecker(online ...string) *StaticChecker {
	m := make(map[string]bool, len(online))
	for _, id := range online {
		m[id] = true
	}
	return &StaticChecker{online: m}
}

// Set marks one agent online or offline.
func (c *StaticChecker) Set(agentID string, online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online[agentID] = online
}

// IsOnline reports the configured liveness for the agent.
func (c *StaticChecker) IsOnline(_ context.Context, agentID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online[agentID], nil
}
