// Package execution maps decision actions to their handlers. The set of
// actions is assembled statically at startup; there is no dynamic
// discovery.
package execution

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/rs/zerolog"
)

// ErrUnknownAction is returned when no handler is registered for an
// action name.
var ErrUnknownAction = errors.New("unknown action")

// Request carries one decision into a handler.
type Request struct {
	TraceID string
	AgentID string
	Action  string
	Target  string
	Payload json.RawMessage
}

// ActionFunc executes one decision and returns its result payload.
type ActionFunc func(ctx context.Context, req Request) (any, error)

// Registry holds the action table. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
	log     zerolog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		actions: make(map[string]ActionFunc),
		log:     log.With().Str("component", "execution").Logger(),
	}
}

// Register binds a handler to an action name, replacing any previous
// binding.
func (r *Registry) Register(name string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; exists {
		r.log.Warn().Str("action", name).Msg("action handler replaced")
	}
	r.actions[name] = fn
}

// Has reports whether an action is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Actions lists all registered action names.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	return out
}

// Execute runs the handler for req.Action.
func (r *Registry) Execute(ctx context.Context, req Request) (any, error) {
	r.mu.RLock()
	fn, ok := r.actions[req.Action]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(ErrUnknownAction, req.Action)
	}
	return fn(ctx, req)
}
