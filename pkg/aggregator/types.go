package aggregator

import (
	"sync"
	"time"

	"github.com/fl-coordination/fabric/pkg/dashboard"
	"github.com/fl-coordination/fabric/pkg/directory"
	"github.com/fl-coordination/fabric/pkg/federation"
	"github.com/fl-coordination/fabric/pkg/metrics"
	"github.com/fl-coordination/fabric/pkg/wire"
)

// AgentEntry is one row of the aggregator's in-memory agent_set (spec §3).
type AgentEntry struct {
	AgentID   string
	IP        string
	ExchPort  int
	JoinRound int
}

// Trainer-side callbacks are out of scope, and the aggregator calls no
// evaluator: recall judging uses the recall values agents upload
// (handleRecallUpload). Aggregate is supplied by pkg/aggregator's own algorithms instead of
// an external callback, since FedAvg/FedOpt/FedProx are part of this core.

// Server is a transient round-leader: one per elected aggregator lifetime.
// Its in-memory state is exactly spec §3's "Aggregator in-memory state".
type Server struct {
	cfg        federation.AggregatorConfig
	id         string
	dir        *directory.Client
	algorithm  AggregationAlgorithm
	metrics    *metrics.CSVSink
	report     *dashboard.Reporter
	configPath string

	mu                     sync.Mutex
	round                  int
	agentSet               []AgentEntry
	localModelsBuffer      []ClientUpdate
	clusterModels          wire.ModelDict
	clusterModelIDs        []string
	modelSize              int
	paramNames             []string
	paramLens              []int
	bestGlobalRecall       float64
	roundsWithoutImprove   int
	bytesReceived          int64 // wire-encoded size of this round's accepted updates, reset each round
	currentRoundRecalls    map[string]float64
	pendingRotationMsg     *wire.Rotation
	rotationNotifiedAgents map[string]bool
	trainingTerminated     bool
	pendingTerminationMsg  *wire.Termination
	lastRotationRound      int

	stop     chan struct{}
	stopOnce sync.Once
}

// NewServer constructs an aggregator ready to call Run. id is this node's
// agent_id (its identity persists only for this role's lifetime; a
// restart-as-aggregator after rotation gets a freshly elected id).
// configPath is the file this server rewrites as an AgentConfig before
// exiting on rotation loss (spec §4.4 step 6); an empty configPath
// disables that persistence, matching pkg/agent's same convention.
func NewServer(id string, cfg federation.AggregatorConfig, dir *directory.Client, sink *metrics.CSVSink, configPath string) (*Server, error) {
	algType := AlgorithmType(cfg.Algorithm.Name)
	if algType == "" {
		algType = FedAvg
	}
	alg, err := CreateAggregationAlgorithm(algType)
	if err != nil {
		return nil, err
	}
	if err := alg.Initialize(AlgorithmConfig{
		AlgorithmName:   cfg.Algorithm.Name,
		Hyperparameters: cfg.Algorithm.Hyperparameters,
	}); err != nil {
		return nil, err
	}

	return &Server{
		cfg:                    cfg,
		id:                     id,
		dir:                    dir,
		algorithm:              alg,
		metrics:                sink,
		report:                 dashboard.NewReporter(cfg.Monitoring),
		configPath:             configPath,
		clusterModels:          wire.ModelDict{},
		currentRoundRecalls:    map[string]float64{},
		rotationNotifiedAgents: map[string]bool{},
		stop:                   make(chan struct{}),
	}, nil
}

// Stop ends the round loop and listeners at the next safe point. Safe to
// call more than once (a listener failure and a shutdown signal can both
// race to call it when supervised under one errgroup).
func (s *Server) Stop() { s.stopOnce.Do(func() { close(s.stop) }) }

func clockNow() time.Time { return time.Now() }
