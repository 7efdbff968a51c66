package agent

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/fl-coordination/fabric/pkg/election"
	"github.com/fl-coordination/fabric/pkg/federation"
	"github.com/fl-coordination/fabric/pkg/ferr"
	"github.com/fl-coordination/fabric/pkg/wire"
)

const maxParticipateDepth = 5

// Bootstrap runs the full discovery sequence of spec §4.7: register,
// wait out the grace period, discover or elect an aggregator, then
// complete the participation handshake.
func (a *Agent) Bootstrap() error {
	score := a.register()
	a.awaitGracePeriod()

	aggrIP, aggrPort, err := a.discoverOrElect(score)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.aggrIP = aggrIP
	a.aggrRegSocket = aggrPort
	a.mu.Unlock()

	return a.participate(0)
}

// register posts this agent's (id, ip, port, score) to the directory
// with a fresh random score, per spec §4.7 step 1. The registered port
// is reg_socket, not exch_socket: it is what elect_aggregator looks up
// to construct the winner's serving address once promoted.
func (a *Agent) register() int {
	score := rand.Intn(100) + 1
	if err := a.dir.RegisterAgent(a.id, a.advertisedIP(), a.cfg.RegSocket, score); err != nil {
		log.Printf("agent: register_agent failed: %v", err)
	}
	return score
}

func (a *Agent) advertisedIP() string {
	if a.cfg.DeviceIP != "" && a.cfg.DeviceIP != "CHANGE_ME" {
		return a.cfg.DeviceIP
	}
	return a.ip
}

// awaitGracePeriod waits registration_grace_period, polling
// get_agents_count every 3s and breaking early once expected_num_agents
// have registered, per spec §4.7 step 2 / 6-SUPPLEMENT.
func (a *Agent) awaitGracePeriod() {
	grace := a.cfg.RegistrationGracePeriod
	if grace <= 0 {
		grace = 30 * time.Second
	}
	const checkInterval = 3 * time.Second

	elapsed := time.Duration(0)
	for elapsed < grace {
		time.Sleep(checkInterval)
		elapsed += checkInterval

		count, err := a.dir.GetAgentsCount()
		if err != nil {
			log.Printf("agent: get_agents_count during grace period failed: %v", err)
			continue
		}
		if a.cfg.ExpectedNumAgents > 0 && count >= a.cfg.ExpectedNumAgents {
			log.Printf("agent: %d/%d expected agents registered, ending grace period early", count, a.cfg.ExpectedNumAgents)
			return
		}
	}
}

// discoverOrElect implements spec §4.7 steps 3-4: use the current
// aggregator if the directory has one, otherwise run an election over
// every registered agent's score and confirm the written winner.
func (a *Agent) discoverOrElect(myScore int) (ip string, regSocket int, err error) {
	reply, err := a.dir.GetAggregator()
	if err != nil {
		return "", 0, ferr.New(ferr.Transient, "discoverOrElect.get_aggregator", err)
	}
	if reply.Found {
		return reply.IP, reply.Port, nil
	}

	log.Printf("agent: no aggregator registered, starting election")
	scores, err := a.dir.GetAllAgents()
	if err != nil {
		return "", 0, ferr.New(ferr.Transient, "discoverOrElect.get_all_agents", err)
	}

	minAgents := a.cfg.ElectionMinAgents
	if minAgents <= 0 {
		minAgents = 1
	}
	if len(scores) < minAgents {
		time.Sleep(3 * time.Second)
		scores, err = a.dir.GetAllAgents()
		if err != nil {
			return "", 0, ferr.New(ferr.Transient, "discoverOrElect.get_all_agents_retry", err)
		}
	}
	if len(scores) == 0 {
		return "", 0, ferr.New(ferr.ElectionFailed, "discoverOrElect", fmt.Errorf("no registered agents"))
	}

	elected, err := a.dir.ElectAggregator(scores)
	if err != nil || !elected.Elected {
		return "", 0, ferr.New(ferr.ElectionFailed, "discoverOrElect.elect_aggregator", err)
	}

	// Re-query instead of trusting the election reply directly: a
	// concurrent election request from another agent may have written a
	// different winner by the time this reply arrives.
	time.Sleep(2 * time.Second)
	confirmed, err := a.dir.GetAggregator()
	if err != nil || !confirmed.Found {
		return "", 0, ferr.New(ferr.ElectionFailed, "discoverOrElect.confirm", err)
	}

	if confirmed.IP == a.advertisedIP() {
		log.Printf("agent: confirmed as elected aggregator")
		a.promoteSelf()
		return "", 0, ferr.New(ferr.Fatal, "discoverOrElect", fmt.Errorf("promoted to aggregator, exiting"))
	}

	log.Printf("agent: %s elected aggregator, waiting for it to start", confirmed.IP)
	time.Sleep(10 * time.Second)
	return confirmed.IP, confirmed.Port, nil
}

// promoteSelf persists role=aggregator to this node's config file so the
// external supervisor restarts it in the aggregator role. reg_socket is
// left untouched: it is the fixed registration port every node dials,
// regardless of which node currently holds the aggregator role.
func (a *Agent) promoteSelf() {
	if a.configPath == "" {
		return
	}
	cfg := a.cfg
	cfg.Role = federation.RoleAggregator
	cfg.AggrIP = a.advertisedIP()
	if err := federation.SaveAgentConfig(&cfg, a.configPath); err != nil {
		log.Printf("agent: failed to persist promotion: %v", err)
	}
}

// participate sends the join handshake and, on repeated no-reply,
// falls back to clearing the stale aggregator and re-electing, per
// spec §4.7 step 5 / 6-SUPPLEMENT's bounded-recursion note.
func (a *Agent) participate(depth int) error {
	if depth >= maxParticipateDepth {
		return ferr.New(ferr.Fatal, "participate", fmt.Errorf("exhausted %d re-election attempts", maxParticipateDepth))
	}

	a.mu.Lock()
	msg := wire.Participate{
		AgentName:   "agent",
		AgentID:     a.id,
		ModelID:     a.localModelID,
		LocalModels: a.localModel,
		InitWeights: a.cfg.InitWeightsFlag,
		ExchSocket:  a.cfg.ExchSocket,
		GeneTime:    clockNow(),
		AgentIP:     a.advertisedIP(),
		Round:       a.round,
	}
	addr := fmt.Sprintf("%s:%d", a.aggrIP, a.aggrRegSocket)
	a.mu.Unlock()

	var welcome wire.Welcome
	var lastErr error
	for attempt := 1; attempt <= 12; attempt++ {
		_, payload, err := wire.RoundTrip(addr, wire.KindParticipate, msg, 10*time.Second)
		if err == nil {
			if decErr := wire.DecodePayload(payload, &welcome); decErr != nil {
				lastErr = decErr
				break
			}
			lastErr = nil
			break
		}
		lastErr = err
		backoff := attempt
		if backoff > 10 {
			backoff = 10
		}
		time.Sleep(time.Duration(backoff) * time.Second)
	}

	if lastErr != nil {
		log.Printf("agent: participate handshake failed after retries: %v", lastErr)
		_ = a.dir.ClearAggregator()
		score := a.register()
		newIP, newPort, err := a.discoverOrElect(score)
		if err != nil {
			return err
		}
		a.mu.Lock()
		a.aggrIP = newIP
		a.aggrRegSocket = newPort
		a.mu.Unlock()
		return a.participate(depth + 1)
	}

	a.mu.Lock()
	a.id = welcome.AgentID
	a.round = welcome.Round
	a.exchSocket = welcome.ExchSocket
	a.recvSocket = welcome.RecvSocket
	a.clusterModel = welcome.ClusterModels
	a.clusterModelID = welcome.ModelID
	if len(welcome.ClusterModels) > 0 {
		a.fire("gm_arrived")
	}
	a.mu.Unlock()

	log.Printf("agent: welcomed by aggregator %s for round %d", welcome.AggregatorID, welcome.Round)
	return nil
}

// electionWinner is exposed for tests that want to cross-check this
// package's use of pkg/election against a raw score map.
func electionWinner(scores map[string]int) string { return election.Winner(scores) }
