package aggregator

import (
	"net"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/fl-coordination/fabric/pkg/federation"
	"github.com/fl-coordination/fabric/pkg/wire"
)

func newTestServer(t *testing.T, cfg federation.AggregatorConfig) *Server {
	t.Helper()
	s, err := NewServer("agg-1", cfg, nil, nil, "")
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return s
}

func TestCheckTerminationJudgesMaxRounds(t *testing.T) {
	s := newTestServer(t, federation.AggregatorConfig{MaxRounds: 5})
	s.round = 5

	s.checkTerminationJudges()

	if !s.trainingTerminated {
		t.Fatal("trainingTerminated = false, want true")
	}
	if s.pendingTerminationMsg == nil || s.pendingTerminationMsg.Reason != "max_rounds_reached" {
		t.Errorf("pendingTerminationMsg = %+v, want reason max_rounds_reached", s.pendingTerminationMsg)
	}
}

func TestEarlyStoppingRecallPlateau(t *testing.T) {
	// Scenario 4: recall sequence 0.80, 0.801, 0.7995, 0.801, 0.799 with
	// min_delta=0.001, patience=3: the streak reaches patience on the
	// fourth observation and is 4 after the fifth, so the judge fires.
	s := newTestServer(t, federation.AggregatorConfig{
		EarlyStoppingMinDelta: 0.001,
		EarlyStoppingPatience: 3,
		MaxRounds:             1000,
	})

	// 0.8+0.001 is exactly representable as 0.801 in float64, so
	// bestGlobalRecall only ever improves on the first observation; every
	// later recall (including the repeated 0.801) fails the strict ">"
	// improvement check and the streak climbs every round after that.
	recalls := []float64{0.80, 0.801, 0.7995, 0.801, 0.799}
	wantStreak := []int{0, 1, 2, 3, 4}

	for i, r := range recalls {
		s.mu.Lock()
		s.applyRecallLocked(r)
		got := s.roundsWithoutImprove
		s.mu.Unlock()
		if got != wantStreak[i] {
			t.Errorf("after recall %v: roundsWithoutImprove = %d, want %d", r, got, wantStreak[i])
		}
	}

	s.checkTerminationJudges()
	if !s.trainingTerminated {
		t.Fatal("trainingTerminated = false, want true after patience exhausted")
	}
	if s.pendingTerminationMsg.Reason != "early_stopping" {
		t.Errorf("Reason = %s, want early_stopping", s.pendingTerminationMsg.Reason)
	}
}

func TestHandlePollingPriorityOrder(t *testing.T) {
	s := newTestServer(t, federation.AggregatorConfig{})
	s.id = "agg-1"
	s.agentSet = []AgentEntry{{AgentID: "A"}}
	s.clusterModelIDs = []string{"model-1"}
	s.round = 2

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Termination takes priority over everything else.
	s.pendingTerminationMsg = &wire.Termination{Reason: "max_rounds_reached", FinalRound: 2}
	s.pendingRotationMsg = &wire.Rotation{NewAggregatorID: "B"}

	done := make(chan struct{})
	go func() {
		s.handlePolling(server, mustPayload(t, wire.Polling{Round: 1, AgentID: "A"}))
		close(done)
	}()

	kind, payload, err := wire.ReadFrame(client, 5*time.Second)
	<-done
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if kind != wire.KindTermination {
		t.Fatalf("kind = %v, want KindTermination", kind)
	}
	var term wire.Termination
	if err := wire.DecodePayload(payload, &term); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if term.Reason != "max_rounds_reached" {
		t.Errorf("Reason = %s, want max_rounds_reached", term.Reason)
	}
}

func mustPayload(t *testing.T, msg wire.Polling) []byte {
	t.Helper()
	b, err := cbor.Marshal(msg)
	if err != nil {
		t.Fatalf("cbor.Marshal() error = %v", err)
	}
	return b
}
