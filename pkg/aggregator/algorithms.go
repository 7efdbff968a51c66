package aggregator

import (
	"fmt"
	"math"
	"time"
)

// AggregationAlgorithm combines a round's agent updates into a new global
// model. Implementations hold their own optimizer state across rounds, so
// one instance is reused for the life of a Server rather than constructed
// per round.
type AggregationAlgorithm interface {
	Initialize(config AlgorithmConfig) error
	Aggregate(updates []ClientUpdate, globalModel []float32) ([]float32, error)
	GetName() string
	GetHyperparameters() map[string]interface{}
	UpdateHyperparameters(params map[string]interface{}) error
}

// ClientUpdate is one agent's flattened local model plus the bookkeeping
// an aggregation algorithm needs to weigh it against the others in the
// same round.
type ClientUpdate struct {
	AgentID      string
	Weights      []float32
	Timestamp    time.Time
	Round        int
	Staleness    int
	NumSamples   int     // size of the agent's local training set
	LearningRate float32 // agent's own learning rate, used by staleness/stability-aware weighting
}

// AlgorithmConfig is the parsed algorithm block of an aggregator's plan.
type AlgorithmConfig struct {
	AlgorithmName   string                 `yaml:"algorithm"`
	ModelSize       int                    `yaml:"model_size"`
	Hyperparameters map[string]interface{} `yaml:"hyperparameters"`
}

type AlgorithmType string

const (
	FedAvg  AlgorithmType = "fedavg"
	FedOpt  AlgorithmType = "fedopt"
	FedProx AlgorithmType = "fedprox"
)

func CreateAggregationAlgorithm(algType AlgorithmType) (AggregationAlgorithm, error) {
	switch algType {
	case FedAvg:
		return &FedAvgAlgorithm{}, nil
	case FedOpt:
		return &FedOptAlgorithm{}, nil
	case FedProx:
		return &FedProxAlgorithm{}, nil
	default:
		return nil, fmt.Errorf("unsupported aggregation algorithm: %s", algType)
	}
}

// sampleWeights turns each update's NumSamples into a normalized weight
// that sums to 1 across updates. Falls back to equal weighting when no
// update reports any samples, so an aggregator talking to agents that
// never set NumSamples still produces a plain average instead of NaNs.
func sampleWeights(updates []ClientUpdate) []float32 {
	weights := make([]float32, len(updates))
	total := 0
	for _, u := range updates {
		total += u.NumSamples
	}
	if total == 0 {
		equal := 1.0 / float32(len(updates))
		for i := range weights {
			weights[i] = equal
		}
		return weights
	}
	for i, u := range updates {
		weights[i] = float32(u.NumSamples) / float32(total)
	}
	return weights
}

// weightedSum combines updates[i].Weights with coefficient weights[i] into
// a vector of length size, truncating or zero-padding any update whose
// Weights slice doesn't match size. Shared by all three algorithms: FedAvg
// and FedOpt pass sampleWeights, FedProx passes proximalWeights.
func weightedSum(updates []ClientUpdate, weights []float32, size int) []float32 {
	out := make([]float32, size)
	for i, u := range updates {
		w := weights[i]
		for j, v := range u.Weights {
			if j >= size {
				break
			}
			out[j] += w * v
		}
	}
	return out
}

// =============================================================================
// FedAvg: plain sample-weighted averaging, no server-side state.
// =============================================================================

type FedAvgAlgorithm struct {
	name      string
	modelSize int
}

func (f *FedAvgAlgorithm) Initialize(config AlgorithmConfig) error {
	f.name = "FedAvg"
	f.modelSize = config.ModelSize
	return nil
}

func (f *FedAvgAlgorithm) GetName() string { return f.name }

func (f *FedAvgAlgorithm) GetHyperparameters() map[string]interface{} {
	return map[string]interface{}{
		"algorithm":   "fedavg",
		"description": "sample-weighted averaging",
	}
}

func (f *FedAvgAlgorithm) UpdateHyperparameters(params map[string]interface{}) error {
	return nil
}

func (f *FedAvgAlgorithm) Aggregate(updates []ClientUpdate, globalModel []float32) ([]float32, error) {
	if len(updates) == 0 {
		return globalModel, fmt.Errorf("fedavg: no updates to aggregate")
	}
	return weightedSum(updates, sampleWeights(updates), f.modelSize), nil
}

// =============================================================================
// FedOpt: server-side Adam over the pseudo-gradient (client average minus
// global model). Reference: "Adaptive Federated Optimization" (Reddi et
// al., 2020).
// =============================================================================

type FedOptAlgorithm struct {
	name      string
	modelSize int
	serverLR  float32
	beta1     float32
	beta2     float32
	epsilon   float32
	momentum  []float32
	velocity  []float32
	step      int
}

func (f *FedOptAlgorithm) Initialize(config AlgorithmConfig) error {
	f.name = "FedOpt"
	f.modelSize = config.ModelSize
	f.serverLR = 1.0
	f.beta1 = 0.9
	f.beta2 = 0.999
	f.epsilon = 1e-7
	f.step = 0
	f.momentum = make([]float32, f.modelSize)
	f.velocity = make([]float32, f.modelSize)

	if p := config.Hyperparameters; p != nil {
		if v, ok := p["server_learning_rate"].(float64); ok {
			f.serverLR = float32(v)
		}
		if v, ok := p["beta1"].(float64); ok {
			f.beta1 = float32(v)
		}
		if v, ok := p["beta2"].(float64); ok {
			f.beta2 = float32(v)
		}
		if v, ok := p["epsilon"].(float64); ok {
			f.epsilon = float32(v)
		}
	}
	return nil
}

func (f *FedOptAlgorithm) GetName() string { return f.name }

func (f *FedOptAlgorithm) GetHyperparameters() map[string]interface{} {
	return map[string]interface{}{
		"algorithm":            "fedopt",
		"server_learning_rate": f.serverLR,
		"beta1":                f.beta1,
		"beta2":                f.beta2,
		"epsilon":              f.epsilon,
		"description":          "Adam-like server optimizer over the pseudo-gradient",
	}
}

func (f *FedOptAlgorithm) UpdateHyperparameters(params map[string]interface{}) error {
	if v, ok := params["server_learning_rate"].(float64); ok {
		f.serverLR = float32(v)
	}
	if v, ok := params["beta1"].(float64); ok {
		f.beta1 = float32(v)
	}
	if v, ok := params["beta2"].(float64); ok {
		f.beta2 = float32(v)
	}
	if v, ok := params["epsilon"].(float64); ok {
		f.epsilon = float32(v)
	}
	return nil
}

func (f *FedOptAlgorithm) Aggregate(updates []ClientUpdate, globalModel []float32) ([]float32, error) {
	if len(updates) == 0 {
		return globalModel, fmt.Errorf("fedopt: no updates to aggregate")
	}
	f.step++

	clientAverage := weightedSum(updates, sampleWeights(updates), f.modelSize)
	pseudoGradient := make([]float32, f.modelSize)
	for i := 0; i < f.modelSize && i < len(globalModel); i++ {
		pseudoGradient[i] = clientAverage[i] - globalModel[i]
	}

	return f.adamStep(pseudoGradient, globalModel), nil
}

// adamStep applies one bias-corrected Adam update to globalModel using
// pseudoGradient as the gradient estimate, updating f.momentum and
// f.velocity in place.
func (f *FedOptAlgorithm) adamStep(pseudoGradient, globalModel []float32) []float32 {
	newModel := make([]float32, f.modelSize)
	copy(newModel, globalModel)

	biasCorr1 := 1 - float32(math.Pow(float64(f.beta1), float64(f.step)))
	biasCorr2 := 1 - float32(math.Pow(float64(f.beta2), float64(f.step)))

	for i := 0; i < f.modelSize; i++ {
		f.momentum[i] = f.beta1*f.momentum[i] + (1-f.beta1)*pseudoGradient[i]
		f.velocity[i] = f.beta2*f.velocity[i] + (1-f.beta2)*pseudoGradient[i]*pseudoGradient[i]

		m := f.momentum[i] / biasCorr1
		v := f.velocity[i] / biasCorr2

		if i < len(newModel) {
			newModel[i] += f.serverLR * m / (float32(math.Sqrt(float64(v))) + f.epsilon)
		}
	}
	return newModel
}

// =============================================================================
// FedProx: weighted aggregation that favors conservative (low learning
// rate) agents, blended back toward the prior global model by a proximal
// term. Reference: "Federated Optimization in Heterogeneous Networks" (Li
// et al., 2020).
// =============================================================================

type FedProxAlgorithm struct {
	name      string
	modelSize int
	mu        float32
}

func (f *FedProxAlgorithm) Initialize(config AlgorithmConfig) error {
	f.name = "FedProx"
	f.modelSize = config.ModelSize
	f.mu = 0.01

	if p := config.Hyperparameters; p != nil {
		if v, ok := p["mu"].(float64); ok {
			f.mu = float32(v)
		}
	}
	return nil
}

func (f *FedProxAlgorithm) GetName() string { return f.name }

func (f *FedProxAlgorithm) GetHyperparameters() map[string]interface{} {
	return map[string]interface{}{
		"algorithm":   "fedprox",
		"mu":          f.mu,
		"description": "proximal-weighted aggregation",
	}
}

func (f *FedProxAlgorithm) UpdateHyperparameters(params map[string]interface{}) error {
	if v, ok := params["mu"].(float64); ok {
		f.mu = float32(v)
	}
	return nil
}

func (f *FedProxAlgorithm) Aggregate(updates []ClientUpdate, globalModel []float32) ([]float32, error) {
	if len(updates) == 0 {
		return globalModel, fmt.Errorf("fedprox: no updates to aggregate")
	}

	weights, totalWeight := f.proximalWeights(updates)
	aggregated := weightedSum(updates, weights, f.modelSize)
	if totalWeight > 0 {
		for i := range aggregated {
			aggregated[i] /= totalWeight
		}
	}

	alpha := f.mu / (1.0 + f.mu)
	blended := make([]float32, f.modelSize)
	for i := 0; i < f.modelSize && i < len(globalModel); i++ {
		blended[i] = (1-alpha)*aggregated[i] + alpha*globalModel[i]
	}
	return blended, nil
}

// proximalWeights assigns each update raw (unnormalized) weight
// NumSamples * (1 + mu/LearningRate), so agents reporting a smaller
// learning rate — read as training more conservatively, closer to the
// last global model — pull the aggregate harder. Returns the weights and
// their sum; the caller divides the weightedSum result by that sum before
// blending it with the global model by mu/(1+mu).
func (f *FedProxAlgorithm) proximalWeights(updates []ClientUpdate) ([]float32, float32) {
	weights := make([]float32, len(updates))
	var total float32
	for i, u := range updates {
		w := float32(u.NumSamples)
		if u.LearningRate > 0 {
			w *= 1.0 + f.mu/u.LearningRate
		}
		weights[i] = w
		total += w
	}
	return weights, total
}
