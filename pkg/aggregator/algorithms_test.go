package aggregator

import (
	"math"
	"testing"
	"time"
)

func TestCreateAggregationAlgorithm(t *testing.T) {
	tests := []struct {
		name    string
		algType AlgorithmType
		wantErr bool
	}{
		{"fedavg", FedAvg, false},
		{"fedopt", FedOpt, false},
		{"fedprox", FedProx, false},
		{"unknown", "gossip", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alg, err := CreateAggregationAlgorithm(tt.algType)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateAggregationAlgorithm(%q) error = %v, wantErr %v", tt.algType, err, tt.wantErr)
			}
			if !tt.wantErr && alg == nil {
				t.Fatalf("CreateAggregationAlgorithm(%q) returned nil algorithm", tt.algType)
			}
		})
	}
}

// edgeUpdates models three sensor-hub agents reporting local models of the
// same shape but different training-set sizes, used across the FedAvg and
// FedOpt cases below.
func edgeUpdates() []ClientUpdate {
	return []ClientUpdate{
		{AgentID: "edge-porch", Weights: []float32{0.10, 0.20, 0.30, 0.40}, NumSamples: 300},
		{AgentID: "edge-driveway", Weights: []float32{0.50, 0.60, 0.70, 0.80}, NumSamples: 100},
		{AgentID: "edge-backyard", Weights: []float32{0.90, 1.00, 1.10, 1.20}, NumSamples: 600},
	}
}

func TestFedAvgWeightsBySampleCount(t *testing.T) {
	alg := &FedAvgAlgorithm{}
	if err := alg.Initialize(AlgorithmConfig{AlgorithmName: "fedavg", ModelSize: 4}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := alg.GetName(); got != "FedAvg" {
		t.Fatalf("GetName() = %q, want FedAvg", got)
	}

	globalModel := make([]float32, 4)
	result, err := alg.Aggregate(edgeUpdates(), globalModel)
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	// total samples = 1000; weights are 0.3, 0.1, 0.6
	want := []float32{
		0.3*0.10 + 0.1*0.50 + 0.6*0.90,
		0.3*0.20 + 0.1*0.60 + 0.6*1.00,
		0.3*0.30 + 0.1*0.70 + 0.6*1.10,
		0.3*0.40 + 0.1*0.80 + 0.6*1.20,
	}
	for i, v := range want {
		if math.Abs(float64(result[i]-v)) > 1e-5 {
			t.Errorf("Aggregate()[%d] = %v, want %v", i, result[i], v)
		}
	}
}

func TestFedAvgFallsBackToEqualWeightWithNoSampleCounts(t *testing.T) {
	alg := &FedAvgAlgorithm{}
	if err := alg.Initialize(AlgorithmConfig{ModelSize: 2}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	updates := []ClientUpdate{
		{AgentID: "edge-porch", Weights: []float32{2, 4}},
		{AgentID: "edge-driveway", Weights: []float32{4, 8}},
	}
	result, err := alg.Aggregate(updates, make([]float32, 2))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	want := []float32{3, 6}
	for i, v := range want {
		if result[i] != v {
			t.Errorf("Aggregate()[%d] = %v, want %v (equal weighting)", i, result[i], v)
		}
	}
}

func TestFedOptMovesTowardClientAverage(t *testing.T) {
	alg := &FedOptAlgorithm{}
	cfg := AlgorithmConfig{
		AlgorithmName: "fedopt",
		ModelSize:     4,
		Hyperparameters: map[string]interface{}{
			"server_learning_rate": 1.0,
			"beta1":                0.9,
			"beta2":                0.999,
			"epsilon":              1e-7,
		},
	}
	if err := alg.Initialize(cfg); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := alg.GetName(); got != "FedOpt" {
		t.Fatalf("GetName() = %q, want FedOpt", got)
	}

	params := alg.GetHyperparameters()
	if params["server_learning_rate"] != float32(1.0) {
		t.Errorf("server_learning_rate = %v, want 1.0", params["server_learning_rate"])
	}

	globalModel := []float32{0, 0, 0, 0}
	result, err := alg.Aggregate(edgeUpdates(), globalModel)
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if len(result) != 4 {
		t.Fatalf("len(result) = %d, want 4", len(result))
	}
	for i, v := range result {
		if v <= globalModel[i] {
			t.Errorf("result[%d] = %v, want > %v (pseudo-gradient is positive from an all-zero start)", i, v, globalModel[i])
		}
	}
}

func TestFedOptAccumulatesOptimizerStateAcrossRounds(t *testing.T) {
	alg := &FedOptAlgorithm{}
	if err := alg.Initialize(AlgorithmConfig{ModelSize: 4}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	globalModel := []float32{0, 0, 0, 0}
	first, err := alg.Aggregate(edgeUpdates(), globalModel)
	if err != nil {
		t.Fatalf("round 1 Aggregate() error = %v", err)
	}
	second, err := alg.Aggregate(edgeUpdates(), first)
	if err != nil {
		t.Fatalf("round 2 Aggregate() error = %v", err)
	}

	// Round 1's bias-corrected Adam step moves every coordinate by about 1.0,
	// past the client average, so round 2's pseudo-gradient is negative;
	// the momentum carried over from round 1 still keeps the step positive.
	for i := range second {
		if second[i] <= first[i] {
			t.Errorf("round 2 result[%d] = %v, want > round 1 result %v", i, second[i], first[i])
		}
	}
}

func TestFedProxFavorsConservativeLearners(t *testing.T) {
	alg := &FedProxAlgorithm{}
	cfg := AlgorithmConfig{
		AlgorithmName:   "fedprox",
		ModelSize:       3,
		Hyperparameters: map[string]interface{}{"mu": 0.1},
	}
	if err := alg.Initialize(cfg); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := alg.GetName(); got != "FedProx" {
		t.Fatalf("GetName() = %q, want FedProx", got)
	}

	if err := alg.UpdateHyperparameters(map[string]interface{}{"mu": 0.05}); err != nil {
		t.Fatalf("UpdateHyperparameters() error = %v", err)
	}
	if got := alg.GetHyperparameters()["mu"]; got != float32(0.05) {
		t.Errorf("mu after update = %v, want 0.05", got)
	}

	updates := []ClientUpdate{
		{AgentID: "edge-porch", Weights: []float32{2, 2, 2}, NumSamples: 100, LearningRate: 0.01},   // conservative
		{AgentID: "edge-driveway", Weights: []float32{4, 4, 4}, NumSamples: 100, LearningRate: 0.1}, // aggressive, same sample count
	}
	globalModel := []float32{1, 1, 1}
	result, err := alg.Aggregate(updates, globalModel)
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	midpoint := float32(3.0) // plain average of 2 and 4, ignoring the proximal pull
	for i, v := range result {
		if v <= globalModel[i] || v >= midpoint {
			t.Errorf("result[%d] = %v, want strictly between global model (%v) and unweighted midpoint (%v)", i, v, globalModel[i], midpoint)
		}
	}
}

func TestAggregateRejectsEmptyUpdates(t *testing.T) {
	algorithms := []AggregationAlgorithm{
		&FedAvgAlgorithm{},
		&FedOptAlgorithm{},
		&FedProxAlgorithm{},
	}

	for _, alg := range algorithms {
		if err := alg.Initialize(AlgorithmConfig{ModelSize: 3}); err != nil {
			t.Fatalf("%s: Initialize() error = %v", alg.GetName(), err)
		}
		t.Run(alg.GetName(), func(t *testing.T) {
			_, err := alg.Aggregate(nil, []float32{1, 1, 1})
			if err == nil {
				t.Error("Aggregate(nil) returned no error, want one")
			}
		})
	}
}

func TestSampleWeightsNormalizeToOne(t *testing.T) {
	updates := edgeUpdates()
	weights := sampleWeights(updates)
	var sum float32
	for _, w := range weights {
		sum += w
	}
	if math.Abs(float64(sum-1.0)) > 1e-6 {
		t.Errorf("sampleWeights sum = %v, want 1.0", sum)
	}
}

func TestClientUpdateFields(t *testing.T) {
	update := ClientUpdate{
		AgentID:      "edge-porch",
		Weights:      []float32{1, 2, 3},
		Timestamp:    time.Now(),
		Round:        5,
		Staleness:    1,
		NumSamples:   300,
		LearningRate: 0.01,
	}
	if update.AgentID != "edge-porch" {
		t.Errorf("AgentID = %q, want edge-porch", update.AgentID)
	}
	if len(update.Weights) != 3 {
		t.Errorf("len(Weights) = %d, want 3", len(update.Weights))
	}
	if update.Round != 5 || update.Staleness != 1 {
		t.Errorf("Round/Staleness = %d/%d, want 5/1", update.Round, update.Staleness)
	}
}

func TestFedAvgInitializeAcceptsZeroModelSize(t *testing.T) {
	alg := &FedAvgAlgorithm{}
	if err := alg.Initialize(AlgorithmConfig{AlgorithmName: "fedavg", ModelSize: 0}); err != nil {
		t.Errorf("Initialize() with ModelSize=0 error = %v, want nil (shape isn't known until the first round)", err)
	}
}
