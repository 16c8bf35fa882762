// Package routing resolves a decision action to the route that will
// execute it.
package routing

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// DefaultRoute handles actions with no explicit entry.
const DefaultRoute = "direct"

// ErrUnroutable is returned for actions the table cannot resolve.
var ErrUnroutable = errors.New("unroutable action")

// Route is a resolved destination for a decision.
type Route struct {
	Action string
	Target string
}

// Router resolves an action name to a route.
type Router interface {
	Resolve(ctx context.Context, action string) (Route, error)
}

// Table is a Router backed by a fixed action map. Actions absent from
// the map resolve to the default route; an empty-string action never
// resolves.
type Table struct {
	mu     sync.RWMutex
	routes map[string]string
}

// NewTable builds a routing table with the given explicit routes.
func NewTable(routes map[string]string) *Table {
	m := make(map[string]string, len(routes))
	for k, v := range routes {
		m[k] = v
	}
	return &Table{routes: m}
}

// Register adds or replaces the route for an action.
func (t *Table) Register(action, target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[action] = target
}

// Resolve maps an action to its route. Unknown actions fall back to the
// default route.
func (t *Table) Resolve(_ context.Context, action string) (Route, error) {
	if action == "" {
		return Route{}, errors.Wrap(ErrUnroutable, "empty action")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if target, ok := t.routes[action]; ok {
		return Route{Action: action, Target: target}, nil
	}
	return Route{Action: action, Target: DefaultRoute}, nil
}
