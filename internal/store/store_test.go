package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lre.db")
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func inbound(traceID, typ string, payload string) EventRecord {
	rec := EventRecord{
		TraceID:   traceID,
		Type:      typ,
		Direction: DirectionInbound,
	}
	if payload != "" {
		rec.Payload = json.RawMessage(payload)
	}
	return rec
}

func TestAppendEvent_AssignsMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var last int64
	for i := 0; i < 3; i++ {
		payload := fmt.Sprintf(`{"n":%d}`, i)
		id, dup, err := s.AppendEvent(ctx, inbound("trace-a", "system_ping", payload))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if dup {
			t.Fatalf("append %d flagged duplicate", i)
		}
		if id <= last {
			t.Fatalf("ids not increasing: %d after %d", id, last)
		}
		last = id
	}
}

func outbound(traceID, typ string, payload string) EventRecord {
	rec := inbound(traceID, typ, payload)
	rec.Direction = DirectionOutbound
	return rec
}

func TestResponseFor_PairsWithOwnRequest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Two request/response pairs of the same type on one trace. Each
	// inbound id must resolve to the response written right after it.
	req1, _, err := s.AppendEvent(ctx, inbound("trace-a", "fetch_history", `{"limit":10}`))
	if err != nil {
		t.Fatalf("append req1: %v", err)
	}
	if _, _, err := s.AppendEvent(ctx, outbound("trace-a", "history_result", `{"count":10}`)); err != nil {
		t.Fatalf("append resp1: %v", err)
	}
	req2, _, err := s.AppendEvent(ctx, inbound("trace-a", "fetch_history", `{"limit":3}`))
	if err != nil {
		t.Fatalf("append req2: %v", err)
	}
	if _, _, err := s.AppendEvent(ctx, outbound("trace-a", "history_result", `{"count":3}`)); err != nil {
		t.Fatalf("append resp2: %v", err)
	}

	rec, err := s.ResponseFor(ctx, "trace-a", "history_result", req1)
	if err != nil {
		t.Fatalf("response for req1: %v", err)
	}
	if string(rec.Payload) != `{"count":10}` {
		t.Fatalf("req1 response payload = %s", rec.Payload)
	}

	rec, err = s.ResponseFor(ctx, "trace-a", "history_result", req2)
	if err != nil {
		t.Fatalf("response for req2: %v", err)
	}
	if string(rec.Payload) != `{"count":3}` {
		t.Fatalf("req2 response payload = %s", rec.Payload)
	}
}

func TestResponseFor_NoResponseYet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, _, err := s.AppendEvent(ctx, inbound("trace-a", "fetch_history", `{"limit":10}`))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.ResponseFor(ctx, "trace-a", "history_result", id); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendEvent_DedupTriple(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := inbound("trace-a", "echo_payload", `{"msg":"hi"}`)
	id1, dup1, err := s.AppendEvent(ctx, rec)
	if err != nil || dup1 {
		t.Fatalf("first append: id=%d dup=%v err=%v", id1, dup1, err)
	}
	id2, dup2, err := s.AppendEvent(ctx, rec)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if !dup2 || id2 != id1 {
		t.Fatalf("expected duplicate with same id, got id=%d dup=%v", id2, dup2)
	}

	// Same trace and type but different payload is a distinct record.
	id3, dup3, err := s.AppendEvent(ctx, inbound("trace-a", "echo_payload", `{"msg":"other"}`))
	if err != nil || dup3 || id3 == id1 {
		t.Fatalf("distinct payload should insert: id=%d dup=%v err=%v", id3, dup3, err)
	}

	recs, err := s.History(ctx, Filter{TraceID: "trace-a"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected exactly 2 persisted records, got %d", len(recs))
	}
}

func TestAppendEvent_OutboundNotDeduped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := EventRecord{TraceID: "trace-a", Type: "system_pong", Direction: DirectionOutbound}
	id1, _, err := s.AppendEvent(ctx, rec)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	id2, dup, err := s.AppendEvent(ctx, rec)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if dup || id2 == id1 {
		t.Fatalf("outbound records must not dedup: id1=%d id2=%d dup=%v", id1, id2, dup)
	}
}

func TestHistory_ArrivalOrderPerTrace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		rec := inbound("trace-ord", "log_message", fmt.Sprintf(`{"seq":%d}`, i))
		// distinct client timestamps must not affect arrival order
		rec.Timestamp = time.Now().Add(-time.Duration(i) * time.Hour).UTC().Format(time.RFC3339)
		if _, _, err := s.AppendEvent(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	recs, err := s.History(ctx, Filter{TraceID: "trace-ord"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("expected 5 records, got %d", len(recs))
	}
	// newest first: seq 4 down to 0
	for i, rec := range recs {
		var p struct{ Seq int }
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if p.Seq != 4-i {
			t.Fatalf("arrival order broken at %d: got seq %d", i, p.Seq)
		}
	}
}

func TestHistory_FiltersAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		if _, _, err := s.AppendEvent(ctx, inbound("trace-t", "system_ping", fmt.Sprintf(`{"agent_id":"a1","n":%d}`, i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, _, err := s.AppendEvent(ctx, inbound("trace-t", "echo_payload", `{"agent_id":"a2"}`)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, _, err := s.AppendEvent(ctx, inbound("trace-other", "system_ping", `{"agent_id":"a1"}`)); err != nil {
		t.Fatalf("append: %v", err)
	}

	// trace filter + limit returns the two most recent
	recs, err := s.History(ctx, Filter{TraceID: "trace-t", Limit: 2})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("limit not applied: got %d", len(recs))
	}
	if recs[0].CreatedAt < recs[1].CreatedAt {
		t.Fatalf("not newest first")
	}

	// conjunctive filters
	recs, err = s.History(ctx, Filter{TraceID: "trace-t", Type: "system_ping", AgentID: "a1"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("conjunctive filter wrong: got %d", len(recs))
	}

	// agent filter alone spans traces
	recs, err = s.History(ctx, Filter{AgentID: "a1"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 6 {
		t.Fatalf("agent filter wrong: got %d", len(recs))
	}
}

func TestRecentAgents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, _, err := s.AppendEvent(ctx, inbound("t1", "system_ping", `{"agent_id":"fresh"}`)); err != nil {
		t.Fatalf("append: %v", err)
	}
	stale := inbound("t2", "system_ping", `{"agent_id":"stale"}`)
	stale.CreatedAt = nowUnix() - 120
	if _, _, err := s.AppendEvent(ctx, stale); err != nil {
		t.Fatalf("append: %v", err)
	}
	// events without agent_id are excluded
	if _, _, err := s.AppendEvent(ctx, inbound("t3", "system_ping", `{"other":"x"}`)); err != nil {
		t.Fatalf("append: %v", err)
	}

	agents, err := s.RecentAgents(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("recent agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	byID := map[string]AgentStatus{}
	for _, a := range agents {
		byID[a.AgentID] = a
	}
	if byID["fresh"].Status != "ONLINE" {
		t.Fatalf("fresh agent should be ONLINE: %+v", byID["fresh"])
	}
	if byID["stale"].Status != "OFFLINE" {
		t.Fatalf("stale agent should be OFFLINE: %+v", byID["stale"])
	}
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if _, _, err := s.AppendEvent(ctx, inbound(fmt.Sprintf("t%d", i), "system_ping", fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, _, err := s.AppendEvent(ctx, inbound("t0", "echo_payload", `{"x":1}`)); err != nil {
		t.Fatalf("append: %v", err)
	}

	st, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalEvents != 4 || st.UniqueTraces != 3 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.EventTypes["system_ping"] != 3 || st.EventTypes["echo_payload"] != 1 {
		t.Fatalf("type counts wrong: %+v", st.EventTypes)
	}
}

func TestAppendEvent_ExtractsAgentID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, _, err := s.AppendEvent(ctx, inbound("t1", "system_ping", `{"agent_id":"bot-7"}`)); err != nil {
		t.Fatalf("append: %v", err)
	}
	recs, err := s.History(ctx, Filter{TraceID: "t1"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 1 || recs[0].AgentID != "bot-7" {
		t.Fatalf("agent_id not extracted: %+v", recs)
	}
}
