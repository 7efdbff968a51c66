package directory

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAgentIdempotentOnSameIPPort(t *testing.T) {
	// (R1) register_agent is idempotent w.r.t. (ip,port).
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.UpsertAgent("agent-X", "10.0.0.7", 8765, 50+i); err != nil {
			t.Fatalf("UpsertAgent() error = %v", err)
		}
	}

	n, err := s.AgentsCount()
	if err != nil {
		t.Fatalf("AgentsCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("AgentsCount() = %d, want 1", n)
	}
}

func TestUpsertAgentRewritesIDOnDuplicateIPPort(t *testing.T) {
	// Scenario 6: duplicate-IP registration rewrites agent_id, one row
	// remains.
	s := newTestStore(t)

	if err := s.UpsertAgent("X", "10.0.0.7", 8765, 10); err != nil {
		t.Fatalf("UpsertAgent() error = %v", err)
	}
	if err := s.UpsertAgent("Y", "10.0.0.7", 8765, 20); err != nil {
		t.Fatalf("UpsertAgent() error = %v", err)
	}

	n, err := s.AgentsCount()
	if err != nil {
		t.Fatalf("AgentsCount() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("AgentsCount() = %d, want 1", n)
	}

	agent, found, err := s.GetAgent("Y")
	if err != nil || !found {
		t.Fatalf("GetAgent(Y) = (_, %v, %v), want found", found, err)
	}
	if agent.IP != "10.0.0.7" || agent.Port != 8765 {
		t.Errorf("GetAgent(Y) = %+v, want ip=10.0.0.7 port=8765", agent)
	}

	if _, found, _ := s.GetAgent("X"); found {
		t.Errorf("GetAgent(X) still found after rewrite, want gone")
	}
}

func TestCurrentAggregatorSingletonLifecycle(t *testing.T) {
	// (R2, R3) update_aggregator idempotent; clear then get returns
	// no_aggregator.
	s := newTestStore(t)

	for i := 0; i < 2; i++ {
		if err := s.UpdateCurrentAggregator("agg-1", "10.0.0.1", 8765); err != nil {
			t.Fatalf("UpdateCurrentAggregator() error = %v", err)
		}
	}

	cur, ok, err := s.GetCurrentAggregator()
	if err != nil || !ok {
		t.Fatalf("GetCurrentAggregator() = (_, %v, %v), want ok", ok, err)
	}
	if cur.AggregatorID != "agg-1" {
		t.Errorf("AggregatorID = %s, want agg-1", cur.AggregatorID)
	}

	if err := s.ClearCurrentAggregator(); err != nil {
		t.Fatalf("ClearCurrentAggregator() error = %v", err)
	}
	if _, ok, err := s.GetCurrentAggregator(); err != nil || ok {
		t.Errorf("GetCurrentAggregator() after clear = (_, %v, %v), want not ok", ok, err)
	}
}

func TestCleanupStaleAgents(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertAgent("stale", "10.0.0.2", 8765, 1); err != nil {
		t.Fatalf("UpsertAgent() error = %v", err)
	}
	// Force last_seen into the past directly; UpsertAgent always stamps
	// "now".
	if _, err := s.db.Exec(`UPDATE agents SET last_seen = ? WHERE agent_id = ?`, time.Now().Add(-time.Hour), "stale"); err != nil {
		t.Fatalf("backdate last_seen: %v", err)
	}

	n, err := s.CleanupStaleAgents(time.Minute)
	if err != nil {
		t.Fatalf("CleanupStaleAgents() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CleanupStaleAgents() evicted %d, want 1", n)
	}
}

func TestListStaleAgentIDsAndDeleteAgents(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertAgent("stale-1", "10.0.0.2", 8765, 1); err != nil {
		t.Fatalf("UpsertAgent() error = %v", err)
	}
	if err := s.UpsertAgent("stale-2", "10.0.0.3", 8766, 1); err != nil {
		t.Fatalf("UpsertAgent() error = %v", err)
	}
	if err := s.UpsertAgent("fresh", "10.0.0.4", 8767, 1); err != nil {
		t.Fatalf("UpsertAgent() error = %v", err)
	}
	for _, id := range []string{"stale-1", "stale-2"} {
		if _, err := s.db.Exec(`UPDATE agents SET last_seen = ? WHERE agent_id = ?`, time.Now().Add(-time.Hour), id); err != nil {
			t.Fatalf("backdate last_seen: %v", err)
		}
	}

	ids, err := s.ListStaleAgentIDs(time.Minute)
	if err != nil {
		t.Fatalf("ListStaleAgentIDs() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ListStaleAgentIDs() = %v, want 2 stale ids", ids)
	}

	// Deleting a subset (as Sweeper does for the shard it owns) must
	// leave the rest untouched.
	n, err := s.DeleteAgents([]string{"stale-1"})
	if err != nil {
		t.Fatalf("DeleteAgents() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteAgents() removed %d, want 1", n)
	}

	remaining, err := s.ListStaleAgentIDs(time.Minute)
	if err != nil {
		t.Fatalf("ListStaleAgentIDs() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0] != "stale-2" {
		t.Errorf("ListStaleAgentIDs() after partial delete = %v, want [stale-2]", remaining)
	}

	if n, err := s.DeleteAgents(nil); err != nil || n != 0 {
		t.Errorf("DeleteAgents(nil) = (%d, %v), want (0, nil)", n, err)
	}
}

func TestBarrierLifecycle(t *testing.T) {
	s := newTestStore(t)

	if err := s.InitBarrier(1, 3, "agg-1", "waiting_models"); err != nil {
		t.Fatalf("InitBarrier() error = %v", err)
	}
	if err := s.NotifyAgentBarrierArrival("A"); err != nil {
		t.Fatalf("NotifyAgentBarrierArrival() error = %v", err)
	}
	if err := s.NotifyAgentBarrierArrival("A"); err != nil { // idempotent re-arrival
		t.Fatalf("NotifyAgentBarrierArrival() repeated error = %v", err)
	}

	b, ok, err := s.GetBarrier()
	if err != nil || !ok {
		t.Fatalf("GetBarrier() = (_, %v, %v), want ok", ok, err)
	}
	if b.ModelsReceived != 1 {
		t.Errorf("ModelsReceived = %d, want 1 (duplicate arrival must not double-count)", b.ModelsReceived)
	}
	if len(b.AgentsReady) != 1 || b.AgentsReady[0] != "A" {
		t.Errorf("AgentsReady = %v, want [A]", b.AgentsReady)
	}

	if err := s.ResetBarrier(); err != nil {
		t.Fatalf("ResetBarrier() error = %v", err)
	}
	b, _, _ = s.GetBarrier()
	if b.ModelsReceived != 0 || len(b.AgentsReady) != 0 {
		t.Errorf("barrier not reset: %+v", b)
	}
}
