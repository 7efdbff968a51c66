package agent

import (
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/fl-coordination/fabric/pkg/federation"
	"github.com/fl-coordination/fabric/pkg/wire"
)

// ListenAndServe starts the push listener on exch_socket. It is only
// useful in push mode (cfg.Polling == false); polling-mode agents never
// receive unsolicited connections and this returns immediately.
func (a *Agent) ListenAndServe() error {
	if a.cfg.Polling {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.ExchSocket))
	if err != nil {
		return err
	}
	go func() {
		<-a.stop
		ln.Close()
	}()
	return wire.Serve(ln, a.handlePush)
}

// handlePush dispatches a pushed cluster-model distribution or rotation
// notice, mirroring wait_models's two-branch dispatch.
func (a *Agent) handlePush(conn net.Conn, kind wire.Kind, payload []byte) {
	switch kind {
	case wire.KindRotation:
		var msg wire.Rotation
		if err := wire.DecodePayload(payload, &msg); err != nil {
			log.Printf("agent: malformed pushed rotation: %v", err)
			_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "malformed_rotation"}, 5*time.Second)
			return
		}
		_ = wire.WriteFrame(conn, wire.KindAck, wire.Ack{}, 5*time.Second)
		a.handleRotation(msg)
	case wire.KindClusterModelDist:
		var msg wire.ClusterModelDist
		if err := wire.DecodePayload(payload, &msg); err != nil {
			log.Printf("agent: malformed pushed cluster model: %v", err)
			_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "malformed_cluster_model"}, 5*time.Second)
			return
		}
		_ = wire.WriteFrame(conn, wire.KindAck, wire.Ack{}, 5*time.Second)
		a.receiveGlobalModel(msg.Round, msg.ModelID, msg.ClusterModels)
	default:
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "unexpected_msg_kind"}, 5*time.Second)
	}
}

// processPolling sends one poll request and dispatches the reply in
// priority order: termination, rotation, new cluster model, ack. A
// string of consecutive no-reply failures past maxPollingFailures
// means the aggregator is presumed dead; the process exits so its
// supervisor restarts discovery, per spec §4.7 step 6.
func (a *Agent) processPolling() {
	a.mu.Lock()
	msg := wire.Polling{Round: a.round, AgentID: a.id}
	addr := fmt.Sprintf("%s:%d", a.aggrIP, a.recvSocket)
	a.mu.Unlock()

	kind, payload, err := wire.RoundTrip(addr, wire.KindPolling, msg, 10*time.Second)
	if err != nil {
		a.mu.Lock()
		a.pollingFailures++
		failures := a.pollingFailures
		a.mu.Unlock()
		log.Printf("agent: polling failed (%d/%d): %v", failures, a.maxPollingFailures, err)
		if failures >= a.maxPollingFailures {
			log.Printf("agent: aggregator presumed dead after %d polling failures, exiting", failures)
			os.Exit(1)
		}
		return
	}

	a.mu.Lock()
	a.pollingFailures = 0
	a.mu.Unlock()

	switch kind {
	case wire.KindTermination:
		var term wire.Termination
		if err := wire.DecodePayload(payload, &term); err != nil {
			log.Printf("agent: malformed termination reply: %v", err)
			return
		}
		log.Printf("agent: training terminated (%s), final round %d, final recall %.4f", term.Reason, term.FinalRound, term.FinalRecall)
		os.Exit(0)
	case wire.KindRotation:
		var rot wire.Rotation
		if err := wire.DecodePayload(payload, &rot); err != nil {
			log.Printf("agent: malformed rotation reply: %v", err)
			return
		}
		a.handleRotation(rot)
	case wire.KindClusterModelDist:
		var dist wire.ClusterModelDist
		if err := wire.DecodePayload(payload, &dist); err != nil {
			log.Printf("agent: malformed cluster model reply: %v", err)
			return
		}
		a.receiveGlobalModel(dist.Round, dist.ModelID, dist.ClusterModels)
	case wire.KindAck:
		log.Printf("agent: polled, no update yet")
	default:
		log.Printf("agent: unexpected polling reply kind %v", kind)
	}
}

// receiveGlobalModel records a newly arrived cluster model and forces
// the client state to gm_ready regardless of the current state — this
// bypass (rather than going through fire's transition table) is what
// lets a push interrupt an in-progress training pass, per spec §5's
// ordering guarantee (iii).
func (a *Agent) receiveGlobalModel(round int, modelID string, model wire.ModelDict) {
	a.mu.Lock()
	a.round = round
	a.clusterModelID = modelID
	a.clusterModel = model
	a.state = StateGMReady
	a.mu.Unlock()
	log.Printf("agent: global model %s received for round %d", modelID, round)
}

// handleRotation applies a rotation notice: winner is decided by IP
// equality against this node's advertised address (not agent_id, which
// the directory may have rewritten on a restart), per spec §9's
// resolved Open Question. Either outcome persists its new role to the
// config file and exits for the supervisor to restart it.
func (a *Agent) handleRotation(msg wire.Rotation) {
	iAmWinner := a.advertisedIP() == msg.NewAggregatorIP
	log.Printf("agent: rotation notice, winner=%s at %s", msg.NewAggregatorID, msg.NewAggregatorIP)

	if a.configPath != "" {
		cfg := a.cfg
		if iAmWinner {
			cfg.Role = federation.RoleAggregator
			cfg.AggrIP = a.advertisedIP()
		} else {
			cfg.Role = federation.RoleAgent
			cfg.AggrIP = msg.NewAggregatorIP
		}
		if err := federation.SaveAgentConfig(&cfg, a.configPath); err != nil {
			log.Printf("agent: failed to persist rotation config: %v", err)
		}
	}

	if iAmWinner {
		log.Printf("agent: selected as new aggregator, exiting to restart in that role")
	} else {
		log.Printf("agent: lost rotation, exiting to re-register with %s", msg.NewAggregatorIP)
	}
	os.Exit(0)
}
