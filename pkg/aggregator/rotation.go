package aggregator

import (
	"log"
	"math/rand"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fl-coordination/fabric/pkg/election"
	"github.com/fl-coordination/fabric/pkg/federation"
	"github.com/fl-coordination/fabric/pkg/wire"
)

const rotationPushRetries = 5

// runRotation executes steps 1-4 of the rotation protocol (spec §4.4) and,
// when push-mode is enabled, drives step 5's direct delivery leg. Step 5's
// polling-reply leg and step 6's hand-off trigger live in handlePolling,
// since that is where "every agent has been notified" is actually observed.
func (s *Server) runRotation() {
	s.mu.Lock()
	scores := make(map[string]int, len(s.agentSet)+1)
	for _, a := range s.agentSet {
		scores[a.AgentID] = rand.Intn(100) + 1
	}
	scores[s.id] = rand.Intn(100) + 1

	winnerID, _, ok := election.WinnerScore(scores)
	if !ok {
		s.mu.Unlock()
		log.Printf("aggregator: rotation: no candidates")
		return
	}

	var winnerIP string
	var winnerRegPort int
	if winnerID == s.id {
		winnerIP = s.cfg.AggrIP
		winnerRegPort = s.cfg.RegSocket
	} else {
		for _, a := range s.agentSet {
			if a.AgentID == winnerID {
				winnerIP = a.IP
				winnerRegPort = s.cfg.RegSocket
				break
			}
		}
	}

	notice := wire.Rotation{
		NewAggregatorID:        winnerID,
		NewAggregatorIP:        winnerIP,
		NewAggregatorRegSocket: winnerRegPort,
		ModelID:                lastOrEmpty(s.clusterModelIDs),
		Round:                  s.round,
		ClusterModels:          s.clusterModels,
		RandScores:             scores,
	}
	s.pendingRotationMsg = &notice
	s.rotationNotifiedAgents = map[string]bool{}
	agents := append([]AgentEntry(nil), s.agentSet...)
	pushMode := !s.cfg.Polling
	s.mu.Unlock()

	log.Printf("aggregator: rotation notice published, winner=%s", winnerID)
	s.report.ReportEvent(s.id, "info", "rotation", "rotation notice published", map[string]interface{}{
		"winner_id": winnerID, "winner_ip": winnerIP, "round": s.round,
	})

	if pushMode {
		s.pushRotationNotices(agents, notice)
	}
}

// pushRotationNotices delivers the rotation notice directly to each
// agent's exch_socket, retrying up to rotationPushRetries times per spec
// §4.4 step 5. A failed delivery after the retry budget is only logged:
// the rotation is not cancelled, and that agent can still receive the
// notice through the polling leg.
func (s *Server) pushRotationNotices(agents []AgentEntry, notice wire.Rotation) {
	for _, a := range agents {
		addr := net.JoinHostPort(a.IP, strconv.Itoa(a.ExchPort))
		delivered := false
		for attempt := 0; attempt < rotationPushRetries; attempt++ {
			if _, _, err := wire.RoundTrip(addr, wire.KindRotation, notice, 5*time.Second); err == nil {
				delivered = true
				break
			}
			time.Sleep(time.Second)
		}
		if delivered {
			s.mu.Lock()
			s.rotationNotifiedAgents[a.AgentID] = true
			allDone := s.allAgentsNotified()
			s.mu.Unlock()
			if allDone {
				s.selfDemote()
			}
		} else {
			log.Printf("aggregator: rotation: push to %s unreachable after %d retries", a.AgentID, rotationPushRetries)
		}
	}
}

// allAgentsNotified reports whether every currently-registered agent has
// received the pending rotation notice. Caller holds s.mu.
func (s *Server) allAgentsNotified() bool {
	for _, a := range s.agentSet {
		if !s.rotationNotifiedAgents[a.AgentID] {
			return false
		}
	}
	return len(s.agentSet) > 0
}

// selfDemoteLocked is selfDemote's caller-holds-lock counterpart
// for the polling path, where the lock is already held.
func (s *Server) selfDemoteLocked() {
	winner := s.pendingRotationMsg.NewAggregatorID
	winnerIP := s.pendingRotationMsg.NewAggregatorIP
	s.pendingRotationMsg = nil
	s.rotationNotifiedAgents = map[string]bool{}
	s.lastRotationRound = s.round
	if winner == s.id {
		return
	}
	go s.exitForRotation(winnerIP)
}

// selfDemote is the unlocked entry point used by the push-mode delivery
// path, which observes allAgentsNotified outside the handler's lock.
func (s *Server) selfDemote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfDemoteLocked()
}

// exitForRotation persists this node's demotion to agent role and exits;
// the external role-supervisor (spec §9) respawns it in its new role,
// mirroring pkg/agent's handleRotation on the other side of the same
// hand-off. winnerIP is the newly elected aggregator's address, which
// becomes this node's aggr_ip once it comes back up as an agent.
func (s *Server) exitForRotation(winnerIP string) {
	if s.configPath != "" {
		agentCfg := federation.AgentConfig{
			DeviceIP:        s.cfg.AggrIP,
			AggrIP:          winnerIP,
			RegSocket:       s.cfg.RegSocket,
			ExchSocket:      s.cfg.ExchSocket,
			DBIP:            s.cfg.DBIP,
			DBPort:          s.cfg.DBPort,
			Polling:         s.cfg.Polling,
			InitWeightsFlag: s.cfg.InitWeightsFlag,
			Role:            federation.RoleAgent,
		}
		if err := federation.SaveAgentConfig(&agentCfg, s.configPath); err != nil {
			log.Printf("aggregator: failed to persist demotion config: %v", err)
		}
	}
	log.Printf("aggregator: rotation complete, demoting to agent and exiting")
	os.Exit(0)
}

func lastOrEmpty(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[len(ids)-1]
}
