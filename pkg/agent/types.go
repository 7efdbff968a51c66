// Package agent implements the trainer/uploader role: the bootstrap and
// election dance that finds (or becomes) an aggregator, the explicit
// client state machine, and the 5s exchange loop that dispatches on it.
package agent

import (
	"sync"
	"time"

	"github.com/fl-coordination/fabric/pkg/directory"
	"github.com/fl-coordination/fabric/pkg/federation"
	"github.com/fl-coordination/fabric/pkg/wire"
)

// State is one of the four client states of spec §4.6.
type State int

const (
	StateWaitingGM State = iota
	StateTraining
	StateSending
	StateGMReady
)

func (s State) String() string {
	switch s {
	case StateWaitingGM:
		return "waiting_gm"
	case StateTraining:
		return "training"
	case StateSending:
		return "sending"
	case StateGMReady:
		return "gm_ready"
	default:
		return "unknown"
	}
}

// transitions is the edge set of spec §4.6's table, keyed by the event
// name each caller passes to fire.
var transitions = map[State]map[string]State{
	StateGMReady:   {"train_started": StateTraining},
	StateTraining:  {"train_finished": StateSending},
	StateSending:   {"uploaded": StateWaitingGM},
	StateWaitingGM: {"gm_arrived": StateGMReady},
}

// Trainer is the external ML collaborator that turns a global model into
// a freshly trained local one; owned by the app embedding this package.
type Trainer interface {
	Train(global wire.ModelDict) (local wire.ModelDict, numSamples int, err error)
}

// Evaluator reports recall/accuracy for the early-stopping judge.
type Evaluator interface {
	Evaluate(model wire.ModelDict) (recall float64, err error)
}

// Agent is a trainer/uploader node. One Agent lives for as long as this
// process holds the agent role; rotation promotion or demotion always
// exits the process and lets the supervisor restart it in its new role.
type Agent struct {
	cfg        federation.AgentConfig
	configPath string
	dir        *directory.Client

	trainer   Trainer
	evaluator Evaluator

	mu    sync.Mutex
	id    string
	ip    string
	state State

	aggrIP        string
	aggrRegSocket int
	exchSocket    int
	recvSocket    int
	round         int

	localModel   wire.ModelDict
	localModelID string
	numSamples   int
	perfValue    float64

	clusterModel   wire.ModelDict
	clusterModelID string

	pollingFailures    int
	maxPollingFailures int

	stop chan struct{}
}

// NewAgent constructs an agent ready for Bootstrap. id is this run's
// identity; it may be replaced by the directory on a (ip,port) collision
// per the directory's secondary-uniqueness rule, and Welcome always
// carries the id the aggregator actually recorded.
func NewAgent(id, ip string, cfg federation.AgentConfig, configPath string, dir *directory.Client, trainer Trainer, evaluator Evaluator) *Agent {
	return &Agent{
		cfg:                cfg,
		configPath:         configPath,
		dir:                dir,
		trainer:            trainer,
		evaluator:          evaluator,
		id:                 id,
		ip:                 ip,
		state:              StateWaitingGM,
		aggrIP:             cfg.AggrIP,
		aggrRegSocket:      cfg.RegSocket,
		maxPollingFailures: 6,
		stop:               make(chan struct{}),
	}
}

// Stop ends the exchange loop at its next tick.
func (a *Agent) Stop() { close(a.stop) }

// fire applies event to the current state per the transition table,
// returning false (no-op) if the event isn't valid from the current
// state. Caller holds a.mu.
func (a *Agent) fire(event string) bool {
	edges, ok := transitions[a.state]
	if !ok {
		return false
	}
	next, ok := edges[event]
	if !ok {
		return false
	}
	a.state = next
	return true
}

func (a *Agent) currentState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func clockNow() time.Time { return time.Now() }
