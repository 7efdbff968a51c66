package dashboard

import (
	"testing"
	"time"
)

func TestMemoryStorage(t *testing.T) {
	storage := NewMemoryStorage(MemoryConfig{MaxEntries: 1000})
	testStorageImplementation(t, storage)
}

func testStorageImplementation(t *testing.T, storage Storage) {
	t.Run("agent operations", func(t *testing.T) {
		agent := AgentStatus{
			ID:           "agent-1",
			IP:           "10.0.0.5",
			State:        AgentTraining,
			JoinTime:     time.Now().Add(-time.Hour),
			LastSeen:     time.Now(),
			CurrentRound: 3,
		}

		if err := storage.UpsertAgent(agent); err != nil {
			t.Fatalf("UpsertAgent: %v", err)
		}

		agents, err := storage.ListAgents()
		if err != nil {
			t.Fatalf("ListAgents: %v", err)
		}
		if len(agents) != 1 {
			t.Fatalf("expected 1 agent, got %d", len(agents))
		}
		if agents[0].ID != agent.ID {
			t.Errorf("agent ID mismatch: got %s, want %s", agents[0].ID, agent.ID)
		}

		agent.State = AgentUploaded
		if err := storage.UpsertAgent(agent); err != nil {
			t.Fatalf("UpsertAgent (update): %v", err)
		}
		agents, err = storage.ListAgents()
		if err != nil {
			t.Fatalf("ListAgents: %v", err)
		}
		if len(agents) != 1 {
			t.Fatalf("upsert should update in place, got %d agents", len(agents))
		}
		if agents[0].State != AgentUploaded {
			t.Errorf("expected updated state %s, got %s", AgentUploaded, agents[0].State)
		}
	})

	t.Run("round operations", func(t *testing.T) {
		endTime := time.Now()
		recall := 0.91
		round := RoundSummary{
			RoundNumber:      1,
			Algorithm:        "fedavg",
			StartTime:        time.Now().Add(-time.Minute),
			EndTime:          &endTime,
			ParticipantCount: 4,
			UpdatesReceived:  4,
			GlobalRecall:     &recall,
			Status:           "distributed",
		}

		if err := storage.RecordRound(round); err != nil {
			t.Fatalf("RecordRound: %v", err)
		}
		if err := storage.RecordRound(RoundSummary{RoundNumber: 2, Status: "aggregating"}); err != nil {
			t.Fatalf("RecordRound: %v", err)
		}

		rounds, err := storage.ListRounds(0)
		if err != nil {
			t.Fatalf("ListRounds: %v", err)
		}
		if len(rounds) != 2 {
			t.Fatalf("expected 2 rounds, got %d", len(rounds))
		}
		if rounds[0].RoundNumber != 2 {
			t.Errorf("expected newest round first, got round %d", rounds[0].RoundNumber)
		}

		limited, err := storage.ListRounds(1)
		if err != nil {
			t.Fatalf("ListRounds(1): %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("expected 1 round with limit, got %d", len(limited))
		}
	})

	t.Run("round metrics operations", func(t *testing.T) {
		if err := storage.RecordRoundMetrics(RoundMetrics{RoundNumber: 1, BytesSent: 4096, BytesReceived: 12288, AggregationDuration: 250 * time.Millisecond, BestGlobalRecall: 0.91}); err != nil {
			t.Fatalf("RecordRoundMetrics: %v", err)
		}
		if err := storage.RecordRoundMetrics(RoundMetrics{RoundNumber: 2, BytesSent: 4096, BytesReceived: 12288, RoundsWithoutImprove: 1}); err != nil {
			t.Fatalf("RecordRoundMetrics: %v", err)
		}

		metrics, err := storage.ListRoundMetrics(0)
		if err != nil {
			t.Fatalf("ListRoundMetrics: %v", err)
		}
		if len(metrics) != 2 {
			t.Fatalf("expected 2 round metrics rows, got %d", len(metrics))
		}
		if metrics[0].RoundNumber != 2 {
			t.Errorf("expected newest round metrics first, got round %d", metrics[0].RoundNumber)
		}

		limited, err := storage.ListRoundMetrics(1)
		if err != nil {
			t.Fatalf("ListRoundMetrics(1): %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("expected 1 round metrics row with limit, got %d", len(limited))
		}
	})

	t.Run("event operations", func(t *testing.T) {
		event := Event{
			ID:        "evt-1",
			Type:      "election",
			Timestamp: time.Now(),
			Source:    "directory",
			Level:     "info",
			Message:   "aggregator elected",
			Data:      map[string]interface{}{"winner_id": "agent-1"},
		}

		if err := storage.RecordEvent(event); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}

		events, err := storage.ListEvents(10, 0)
		if err != nil {
			t.Fatalf("ListEvents: %v", err)
		}
		if len(events) == 0 {
			t.Fatal("expected at least one event")
		}
		if events[0].Type != event.Type {
			t.Errorf("event type mismatch: got %s, want %s", events[0].Type, event.Type)
		}
	})

	t.Run("cleanup and close", func(t *testing.T) {
		if err := storage.Cleanup(24 * time.Hour); err != nil {
			t.Fatalf("Cleanup: %v", err)
		}
		if err := storage.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
}

func TestNewStorageDefaultsToMemory(t *testing.T) {
	tests := []struct {
		name   string
		backend string
	}{
		{name: "empty backend", backend: ""},
		{name: "unknown backend", backend: "carrier-pigeon"},
		{name: "explicit memory", backend: "memory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := NewStorage(Config{StorageBackend: tt.backend, Memory: MemoryConfig{MaxEntries: 100}})
			if err != nil {
				t.Fatalf("NewStorage() error = %v", err)
			}
			if _, ok := storage.(*MemoryStorage); !ok {
				t.Errorf("expected *MemoryStorage for backend %q, got %T", tt.backend, storage)
			}
			storage.Close()
		})
	}
}

func TestMemoryStorageBoundedByMaxEntries(t *testing.T) {
	storage := NewMemoryStorage(MemoryConfig{MaxEntries: 2})

	for i := 1; i <= 5; i++ {
		if err := storage.RecordRound(RoundSummary{RoundNumber: i}); err != nil {
			t.Fatalf("RecordRound(%d): %v", i, err)
		}
	}

	rounds, err := storage.ListRounds(0)
	if err != nil {
		t.Fatalf("ListRounds: %v", err)
	}
	if len(rounds) > 2 {
		t.Errorf("expected rounds bounded to MaxEntries=2, got %d", len(rounds))
	}
}
