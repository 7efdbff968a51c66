package federation

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAggregatorConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aggregator.yaml")

	cfg := &AggregatorConfig{
		AggrIP:               "10.0.0.5",
		RegSocket:            8765,
		RecvSocket:           8766,
		ExchSocket:           8767,
		DBIP:                 "10.0.0.2",
		DBPort:               9017,
		AggregationThreshold: 3,
		AggregationTimeout:   30 * time.Second,
		RoundInterval:        60 * time.Second,
		RotationMinRounds:    5,
		RotationInterval:     3,
		RotationDelay:        10 * time.Second,
		MaxRounds:            100,
		EarlyStoppingPatience: 5,
		EarlyStoppingMinDelta: 0.001,
		Algorithm:            AlgorithmConfig{Name: "fedavg"},
	}

	if err := SaveAggregatorConfig(cfg, path); err != nil {
		t.Fatalf("SaveAggregatorConfig() error = %v", err)
	}

	got, err := LoadAggregatorConfig(path)
	if err != nil {
		t.Fatalf("LoadAggregatorConfig() error = %v", err)
	}
	if got.AggrIP != cfg.AggrIP || got.RegSocket != cfg.RegSocket || got.Algorithm.Name != "fedavg" {
		t.Errorf("LoadAggregatorConfig() = %+v, want matching %+v", got, cfg)
	}
	if got.RoundInterval != cfg.RoundInterval {
		t.Errorf("RoundInterval = %v, want %v", got.RoundInterval, cfg.RoundInterval)
	}
}

func TestAgentConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")

	cfg := &AgentConfig{
		DeviceIP:                "10.0.0.9",
		ExchSocket:              8767,
		DBIP:                    "10.0.0.2",
		DBPort:                  9017,
		Polling:                 true,
		RegistrationGracePeriod: 5 * time.Second,
		ExpectedNumAgents:       3,
		Role:                    RoleAgent,
	}

	if err := SaveAgentConfig(cfg, path); err != nil {
		t.Fatalf("SaveAgentConfig() error = %v", err)
	}
	got, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("LoadAgentConfig() error = %v", err)
	}
	if got.DeviceIP != cfg.DeviceIP || got.Role != RoleAgent {
		t.Errorf("LoadAgentConfig() = %+v, want matching %+v", got, cfg)
	}
}

func TestValidateFilePathRejectsTraversalAndBadExtension(t *testing.T) {
	cases := []struct {
		name string
		path string
	}{
		{"traversal", "../../etc/passwd.yaml"},
		{"bad extension", "config.txt"},
		{"no extension", "config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateFilePath(tc.path); err == nil {
				t.Errorf("validateFilePath(%q) = nil, want error", tc.path)
			}
		})
	}
}

func TestLoadAggregatorConfigRejectsNonYAMLPath(t *testing.T) {
	if _, err := LoadAggregatorConfig("/tmp/whatever.json"); err == nil {
		t.Error("LoadAggregatorConfig() on .json path = nil, want error")
	}
}
