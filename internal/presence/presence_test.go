package presence

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/liminal-foundation/lre-core/internal/protocol"
	"github.com/liminal-foundation/lre-core/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "lre.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func recordPing(t *testing.T, s *store.Store, traceID, agentID string) {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"agent_id": agentID})
	_, _, err := s.AppendEvent(context.Background(), store.EventRecord{
		TraceID:   traceID,
		Type:      protocol.EventSystemPing,
		Direction: store.DirectionInbound,
		Payload:   payload,
	})
	if err != nil {
		t.Fatalf("append ping: %v", err)
	}
}

func TestStoreChecker(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	recordPing(t, s, "11111111-1111-4111-8111-111111111111", "agent-1")

	c := NewStoreChecker(s, 30*time.Second)

	online, err := c.IsOnline(ctx, "agent-1")
	if err != nil {
		t.Fatalf("IsOnline: %v", err)
	}
	if !online {
		t.Fatalf("agent-1 should be online after a fresh ping")
	}

	online, err = c.IsOnline(ctx, "agent-2")
	if err != nil {
		t.Fatalf("IsOnline: %v", err)
	}
	if online {
		t.Fatalf("agent with no pings reported online")
	}

	if online, _ := c.IsOnline(ctx, ""); online {
		t.Fatalf("empty agent id reported online")
	}
}

func TestStaticChecker(t *testing.T) {
	ctx := context.Background()
	c := NewStaticChecker("agent-1")

	if online, _ := c.IsOnline(ctx, "agent-1"); !online {
		t.Fatalf("agent-1 should be online")
	}
	if online, _ := c.IsOnline(ctx, "agent-2"); online {
		t.Fatalf("agent-2 should be offline")
	}

	c.Set("agent-2", true)
	if online, _ := c.IsOnline(ctx, "agent-2"); !online {
		t.Fatalf("agent-2 should be online after Set")
	}
}
