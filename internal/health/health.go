// Package health tracks component liveness and aggregates it into a
// single service flag served by the health endpoint.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Pinger is implemented by components that expose a health probe.
// Ping must return nil when the component is healthy.
type Pinger interface {
	HealthPing(ctx context.Context) error
}

// PingerFunc adapts a plain function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

// HealthPing calls f.
func (f PingerFunc) HealthPing(ctx context.Context) error { return f(ctx) }

// Checker probes one component on an interval and caches the result.
type Checker struct {
	name    string
	target  Pinger
	timeout time.Duration
	healthy atomic.Bool
	log     zerolog.Logger
}

// NewChecker builds a component checker. It reports unhealthy until the
// first successful probe.
func NewChecker(name string, target Pinger, timeout time.Duration, log zerolog.Logger) *Checker {
	return &Checker{
		name:    name,
		target:  target,
		timeout: timeout,
		log:     log.With().Str("component", "health").Str("target", name).Logger(),
	}
}

// Name identifies the component.
func (c *Checker) Name() string { return c.name }

// IsHealthy returns the cached probe result.
func (c *Checker) IsHealthy() bool { return c.healthy.Load() }

// Start probes on the interval until ctx is cancelled.
func (c *Checker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probe(ctx)
		}
	}
}

func (c *Checker) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.target.HealthPing(pctx)
	was := c.healthy.Swap(err == nil)
	if err != nil && was {
		c.log.Error().Err(err).Msg("component unhealthy")
	}
	if err == nil && !was {
		c.log.Info().Msg("component healthy")
	}
}

// Service aggregates component checkers into one flag.
type Service struct {
	checkers []*Checker
}

// NewService wraps the given checkers.
func NewService(checkers ...*Checker) *Service {
	return &Service{checkers: checkers}
}

// IsHealthy reports whether every component is healthy.
func (s *Service) IsHealthy() bool {
	for _, c := range s.checkers {
		if !c.IsHealthy() {
			return false
		}
	}
	return true
}

// Components returns the per-component states.
func (s *Service) Components() map[string]bool {
	out := make(map[string]bool, len(s.checkers))
	for _, c := range s.checkers {
		out[c.Name()] = c.IsHealthy()
	}
	return out
}
