package agent

import (
	"testing"

	"github.com/fl-coordination/fabric/pkg/federation"
)

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	return NewAgent("agent-1", "10.0.0.5", federation.AgentConfig{ExchSocket: 9000}, "", nil, nil, nil)
}

func TestStateTransitionTable(t *testing.T) {
	a := newTestAgent(t)

	if got := a.currentState(); got != StateWaitingGM {
		t.Fatalf("initial state = %v, want waiting_gm", got)
	}

	a.mu.Lock()
	a.state = StateGMReady
	ok := a.fire("train_started")
	a.mu.Unlock()
	if !ok || a.currentState() != StateTraining {
		t.Fatalf("gm_ready+train_started = (%v, %v), want (true, training)", ok, a.currentState())
	}

	a.mu.Lock()
	ok = a.fire("train_finished")
	a.mu.Unlock()
	if !ok || a.currentState() != StateSending {
		t.Fatalf("training+train_finished = (%v, %v), want (true, sending)", ok, a.currentState())
	}

	a.mu.Lock()
	ok = a.fire("uploaded")
	a.mu.Unlock()
	if !ok || a.currentState() != StateWaitingGM {
		t.Fatalf("sending+uploaded = (%v, %v), want (true, waiting_gm)", ok, a.currentState())
	}

	a.mu.Lock()
	ok = a.fire("gm_arrived")
	a.mu.Unlock()
	if !ok || a.currentState() != StateGMReady {
		t.Fatalf("waiting_gm+gm_arrived = (%v, %v), want (true, gm_ready)", ok, a.currentState())
	}
}

func TestFireRejectsInvalidEvent(t *testing.T) {
	a := newTestAgent(t)

	a.mu.Lock()
	ok := a.fire("train_finished") // not valid from waiting_gm
	a.mu.Unlock()
	if ok {
		t.Fatalf("fire(train_finished) from waiting_gm = true, want false")
	}
	if a.currentState() != StateWaitingGM {
		t.Fatalf("state changed after rejected event: %v", a.currentState())
	}
}

func TestReceiveGlobalModelForcesGMReadyDuringTraining(t *testing.T) {
	a := newTestAgent(t)
	a.mu.Lock()
	a.state = StateTraining
	a.mu.Unlock()

	a.receiveGlobalModel(7, "model-7", nil)

	if got := a.currentState(); got != StateGMReady {
		t.Fatalf("state after receiveGlobalModel during training = %v, want gm_ready", got)
	}
}
