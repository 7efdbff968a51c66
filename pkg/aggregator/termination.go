package aggregator

import "github.com/fl-coordination/fabric/pkg/wire"

// applyRecallLocked updates best-recall bookkeeping for the judges in
// checkTerminationJudges. Caller holds s.mu.
func (s *Server) applyRecallLocked(globalRecall float64) {
	if globalRecall > s.bestGlobalRecall+s.cfg.EarlyStoppingMinDelta {
		s.bestGlobalRecall = globalRecall
		s.roundsWithoutImprove = 0
	} else {
		s.roundsWithoutImprove++
	}
}

// checkTerminationJudges runs the two termination judges of spec §4.5.
// The first to fire wins; it is idempotent once trainingTerminated is set.
func (s *Server) checkTerminationJudges() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trainingTerminated {
		return
	}

	if s.round >= s.cfg.MaxRounds {
		s.trainingTerminated = true
		s.pendingTerminationMsg = &wire.Termination{
			Reason:      "max_rounds_reached",
			FinalRound:  s.round,
			FinalRecall: s.bestGlobalRecall,
		}
		s.report.ReportEvent(s.id, "info", "termination", "training terminated: max rounds reached",
			map[string]interface{}{"round": s.round, "recall": s.bestGlobalRecall})
		return
	}

	if s.roundsWithoutImprove >= s.cfg.EarlyStoppingPatience {
		s.trainingTerminated = true
		s.pendingTerminationMsg = &wire.Termination{
			Reason:      "early_stopping",
			FinalRound:  s.round,
			FinalRecall: s.bestGlobalRecall,
		}
		s.report.ReportEvent(s.id, "info", "termination", "training terminated: early stopping",
			map[string]interface{}{"round": s.round, "recall": s.bestGlobalRecall})
	}
}
