package aggregator

import (
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/fl-coordination/fabric/pkg/dashboard"
	"github.com/fl-coordination/fabric/pkg/metrics"
	"github.com/fl-coordination/fabric/pkg/wire"
)

// Run drives the round loop of spec §4.2 until Stop is called. It is
// meant to run in its own goroutine alongside ListenAndServe.
func (s *Server) Run() {
	ticker := time.NewTicker(s.cfg.RoundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Server) runOnce() {
	// Step 1: pre-check.
	s.mu.Lock()
	n := len(s.agentSet)
	rotationPending := s.pendingRotationMsg != nil
	s.mu.Unlock()
	if n == 0 || rotationPending {
		return
	}

	// Step 2: open barrier.
	if err := s.dir.InitBarrier(s.round, n, s.id, "waiting_models"); err != nil {
		log.Printf("aggregator: init_barrier: %v", err)
	}
	start := clockNow()

	// Step 3: wait for uploads.
	deadline := start.Add(s.cfg.AggregationTimeout)
	lastProgressLog := start
	for {
		s.mu.Lock()
		have := len(s.localModelsBuffer)
		s.mu.Unlock()
		if have >= s.cfg.AggregationThreshold {
			break
		}
		if clockNow().After(deadline) {
			break
		}
		if clockNow().Sub(lastProgressLog) >= 10*time.Second {
			log.Printf("aggregator: round %d waiting on uploads, have %d/%d", s.round, have, s.cfg.AggregationThreshold)
			lastProgressLog = clockNow()
		}
		time.Sleep(2 * time.Second)
	}

	s.mu.Lock()
	updates := s.localModelsBuffer
	s.localModelsBuffer = nil
	s.mu.Unlock()

	if len(updates) == 0 {
		log.Printf("aggregator: round %d abandoned, no uploads", s.round)
		if err := s.dir.ResetBarrier(); err != nil {
			log.Printf("aggregator: reset_barrier: %v", err)
		}
		return
	}

	// Step 4: aggregate.
	s.mu.Lock()
	flatGlobal := s.flatten(s.clusterModels)
	alg := s.algorithm
	bytesReceived := s.bytesReceived
	s.bytesReceived = 0
	s.mu.Unlock()

	aggregateStart := clockNow()
	newFlat, err := alg.Aggregate(updates, flatGlobal)
	aggregationDuration := clockNow().Sub(aggregateStart)
	if err != nil {
		log.Printf("aggregator: aggregate round %d: %v", s.round, err)
		return
	}

	s.mu.Lock()
	newModel := s.unflatten(newFlat)
	s.clusterModels = newModel
	modelID := uuid.NewString()
	s.clusterModelIDs = append(s.clusterModelIDs, modelID)
	agentCount := len(s.agentSet)
	round := s.round
	s.mu.Unlock()

	// Step 5: persist.
	pushMsg := wire.PushModel{
		ComponentID: s.id,
		Round:       round,
		ModelType:   wire.ModelTypeCluster,
		ModelID:     modelID,
		GenTime:     clockNow(),
		Meta:        map[string]float64{"num_samples": float64(len(updates))},
		Payload:     newModel,
	}
	var bytesSent int64
	if encoded, err := wire.Encode(wire.KindPushModel, pushMsg); err == nil {
		bytesSent = int64(len(encoded))
	}
	if err := s.dir.PushModel(pushMsg); err != nil {
		log.Printf("aggregator: push_model cluster: %v", err)
	}
	if err := s.dir.UpdateBarrierState("distributing"); err != nil {
		log.Printf("aggregator: update_barrier_state: %v", err)
	}

	// Step 6: increment round.
	s.mu.Lock()
	s.round++
	round = s.round
	s.mu.Unlock()

	// Push-mode distribution: also send the new cluster model straight to
	// each agent's exch_socket; the polling reply stays available.
	if !s.cfg.Polling {
		s.mu.Lock()
		agents := append([]AgentEntry(nil), s.agentSet...)
		s.mu.Unlock()
		dist := wire.ClusterModelDist{AggregatorID: s.id, ModelID: modelID, Round: round, ClusterModels: newModel}
		for _, a := range agents {
			addr := net.JoinHostPort(a.IP, itoa(a.ExchPort))
			if _, _, err := wire.RoundTrip(addr, wire.KindClusterModelDist, dist, 5*time.Second); err != nil {
				log.Printf("aggregator: push cluster model to %s: %v", a.AgentID, err)
			}
		}
	}

	// Step 7: emit metrics.
	s.mu.Lock()
	bestRecall := s.bestGlobalRecall
	roundsWithoutImprove := s.roundsWithoutImprove
	s.mu.Unlock()

	if s.metrics != nil {
		if err := s.metrics.Write(metrics.Row{
			Round:                round,
			AgentCount:           agentCount,
			ModelID:              modelID,
			GlobalRecall:         bestRecall,
			BestGlobalRecall:     bestRecall,
			RoundsWithoutImprove: roundsWithoutImprove,
			AggregationDuration:  aggregationDuration,
			BytesSent:            bytesSent,
			BytesReceived:        bytesReceived,
			Timestamp:            clockNow(),
		}); err != nil {
			log.Printf("aggregator: metrics sink: %v", err)
		}
	}

	endTime := clockNow()
	s.report.ReportRound(dashboard.RoundSummary{
		RoundNumber:      round,
		Algorithm:        s.cfg.Algorithm.Name,
		StartTime:        start,
		EndTime:          &endTime,
		ParticipantCount: agentCount,
		UpdatesReceived:  len(updates),
		GlobalRecall:     &bestRecall,
		Status:           "distributed",
	})
	s.report.ReportRoundMetrics(dashboard.RoundMetrics{
		RoundNumber:          round,
		AggregationDuration:  aggregationDuration,
		BytesSent:            bytesSent,
		BytesReceived:        bytesReceived,
		RoundsWithoutImprove: roundsWithoutImprove,
		BestGlobalRecall:     bestRecall,
	})

	// Step 8: rotation decision.
	s.mu.Lock()
	shouldRotate := round >= s.cfg.RotationMinRounds &&
		round-s.lastRotationRound >= s.cfg.RotationInterval &&
		len(s.agentSet) > 0
	s.mu.Unlock()

	if !shouldRotate {
		if err := s.dir.ResetBarrier(); err != nil {
			log.Printf("aggregator: reset_barrier: %v", err)
		}
		return
	}

	// Step 9: schedule rotation.
	if err := s.dir.UpdateBarrierState("rotation"); err != nil {
		log.Printf("aggregator: update_barrier_state(rotation): %v", err)
	}
	time.Sleep(s.cfg.RotationDelay)
	s.runRotation()
}
