package agent

import (
	"fmt"
	"log"
	"time"

	"github.com/fl-coordination/fabric/pkg/wire"
)

const exchangeTick = 5 * time.Second

// Run drives the exchange loop: every 5s it dispatches on the current
// client state, per spec §4.6's "exchange loop ticks every 5s" rule.
func (a *Agent) Run() {
	ticker := time.NewTicker(exchangeTick)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

func (a *Agent) tick() {
	switch a.currentState() {
	case StateSending:
		a.sendModels()
	case StateWaitingGM:
		if a.cfg.Polling {
			a.processPolling()
		} else {
			log.Printf("agent: waiting for global model")
		}
	case StateTraining:
		log.Printf("agent: training in progress")
	case StateGMReady:
		go a.runTraining()
	}
}

// runTraining consumes the current global model via the external
// trainer collaborator, transitioning gm_ready -> training -> sending.
// If a newer global model arrives mid-training (forced to gm_ready by
// receiveGlobalModel), the freshly trained result is discarded in favor
// of the newer global, per spec §5's ordering guarantee (iii).
func (a *Agent) runTraining() {
	a.mu.Lock()
	if !a.fire("train_started") {
		a.mu.Unlock()
		return
	}
	global := a.clusterModel
	a.mu.Unlock()

	if a.trainer == nil {
		log.Printf("agent: no trainer configured, staying in training state")
		return
	}

	local, numSamples, err := a.trainer.Train(global)
	if err != nil {
		log.Printf("agent: training failed: %v", err)
		return
	}

	var perf float64
	if a.evaluator != nil {
		perf, err = a.evaluator.Evaluate(local)
		if err != nil {
			log.Printf("agent: evaluation failed: %v", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateGMReady {
		log.Printf("agent: training was too slow, a newer global model already arrived")
		return
	}
	a.localModel = local
	a.numSamples = numSamples
	a.perfValue = perf
	a.localModelID = fmt.Sprintf("agent-%s-%d", a.id, clockNow().UnixNano())
	a.fire("train_finished")
}

// sendModels uploads the buffered local model and transitions
// sending -> waiting_gm, per spec §4.6.
func (a *Agent) sendModels() {
	a.mu.Lock()
	msg := wire.Update{
		AgentID:     a.id,
		ModelID:     a.localModelID,
		LocalModels: a.localModel,
		GeneTime:    clockNow(),
		MetaData:    map[string]float64{"num_samples": float64(a.numSamples), "performance": a.perfValue},
	}
	addr := fmt.Sprintf("%s:%d", a.aggrIP, a.recvSocket)
	a.mu.Unlock()

	if _, _, err := wire.RoundTrip(addr, wire.KindUpdate, msg, 10*time.Second); err != nil {
		log.Printf("agent: failed to send local model: %v", err)
		return
	}
	log.Printf("agent: local model sent")

	a.mu.Lock()
	a.fire("uploaded")
	a.mu.Unlock()
}

// SendRecall reports this round's recall/accuracy metric to the
// aggregator's early-stopping judge, per spec §4.5.
func (a *Agent) SendRecall(recall float64) error {
	a.mu.Lock()
	msg := wire.RecallUpload{RecallValue: recall, Round: a.round, AgentID: a.id}
	addr := fmt.Sprintf("%s:%d", a.aggrIP, a.recvSocket)
	a.mu.Unlock()

	_, _, err := wire.RoundTrip(addr, wire.KindRecallUpload, msg, 10*time.Second)
	return err
}
