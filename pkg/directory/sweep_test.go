package directory

import (
	"testing"
	"time"
)

// TestSweeperPartitionsDeletesByShard exercises the actual defect this
// file used to have: a single sweepOnce call must delete only the stale
// agent_ids whose rendezvous shard matches the current cursor, not every
// stale row in the table.
func TestSweeperPartitionsDeletesByShard(t *testing.T) {
	s := newTestStore(t)

	const n = 20
	for i := 0; i < n; i++ {
		id := agentIDForShardTest(i)
		if err := s.UpsertAgent(id, "10.0.0.1", 8765+i, 1); err != nil {
			t.Fatalf("UpsertAgent(%s) error = %v", id, err)
		}
		if _, err := s.db.Exec(`UPDATE agents SET last_seen = ? WHERE agent_id = ?`, time.Now().Add(-time.Hour), id); err != nil {
			t.Fatalf("backdate last_seen: %v", err)
		}
	}

	sw := NewSweeper(s, time.Minute)

	totalDeleted := 0
	for pass := 0; pass < sweepShardCount; pass++ {
		before, err := s.ListStaleAgentIDs(time.Minute)
		if err != nil {
			t.Fatalf("ListStaleAgentIDs() error = %v", err)
		}
		sw.sweepOnce()
		after, err := s.ListStaleAgentIDs(time.Minute)
		if err != nil {
			t.Fatalf("ListStaleAgentIDs() error = %v", err)
		}
		deletedThisPass := len(before) - len(after)
		if deletedThisPass == len(before) && pass < sweepShardCount-1 {
			t.Errorf("pass %d deleted every remaining stale row (%d); expected a partial, shard-scoped delete", pass, deletedThisPass)
		}
		totalDeleted += deletedThisPass
	}

	remaining, err := s.ListStaleAgentIDs(time.Minute)
	if err != nil {
		t.Fatalf("ListStaleAgentIDs() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("after one full cycle of %d passes, %d stale agents remain, want 0", sweepShardCount, len(remaining))
	}
	if totalDeleted != n {
		t.Errorf("total deleted across %d passes = %d, want %d", sweepShardCount, totalDeleted, n)
	}
}

func agentIDForShardTest(i int) string {
	return "agent-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
