package agent

import (
	"net"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/fl-coordination/fabric/pkg/federation"
	"github.com/fl-coordination/fabric/pkg/wire"
)

func TestHandlePushClusterModel(t *testing.T) {
	a := NewAgent("agent-9", "10.0.0.9", federation.AgentConfig{ExchSocket: 9000, Polling: false}, "", nil, nil, nil)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	dist := wire.ClusterModelDist{AggregatorID: "agg-1", ModelID: "model-9", Round: 3, ClusterModels: wire.ModelDict{"w": {1, 2}}}
	payload, err := cbor.Marshal(dist)
	if err != nil {
		t.Fatalf("cbor.Marshal() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		a.handlePush(server, wire.KindClusterModelDist, payload)
		close(done)
	}()

	kind, _, err := wire.ReadFrame(client, 5*time.Second)
	<-done
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if kind != wire.KindAck {
		t.Fatalf("kind = %v, want KindAck", kind)
	}
	if a.currentState() != StateGMReady {
		t.Fatalf("state after pushed cluster model = %v, want gm_ready", a.currentState())
	}
	a.mu.Lock()
	round := a.round
	modelID := a.clusterModelID
	a.mu.Unlock()
	if round != 3 || modelID != "model-9" {
		t.Fatalf("round/modelID = %d/%s, want 3/model-9", round, modelID)
	}
}

func TestElectionWinnerMatchesPackage(t *testing.T) {
	scores := map[string]int{"a": 10, "b": 90}
	if got := electionWinner(scores); got != "b" {
		t.Fatalf("electionWinner() = %v, want b", got)
	}
}
