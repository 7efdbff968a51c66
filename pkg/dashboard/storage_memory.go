package dashboard

import (
	"sort"
	"sync"
	"time"
)

// MemoryStorage implements Storage with in-process maps/slices.
type MemoryStorage struct {
	mu     sync.RWMutex
	agents       map[string]AgentStatus
	rounds       []RoundSummary
	roundMetrics []RoundMetrics
	events       []Event
	config       MemoryConfig
}

// NewMemoryStorage creates an in-memory storage backend.
func NewMemoryStorage(config MemoryConfig) *MemoryStorage {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 10000
	}
	return &MemoryStorage{
		agents: make(map[string]AgentStatus),
		config: config,
	}
}

func (m *MemoryStorage) UpsertAgent(agent AgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agent.ID] = agent
	return nil
}

func (m *MemoryStorage) ListAgents() ([]AgentStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make([]AgentStatus, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

func (m *MemoryStorage) RecordRound(round RoundSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.rounds {
		if existing.RoundNumber == round.RoundNumber {
			m.rounds[i] = round
			return nil
		}
	}
	m.rounds = append(m.rounds, round)
	if len(m.rounds) > m.config.MaxEntries {
		m.rounds = m.rounds[len(m.rounds)-m.config.MaxEntries:]
	}
	return nil
}

func (m *MemoryStorage) ListRounds(limit int) ([]RoundSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rounds := make([]RoundSummary, len(m.rounds))
	copy(rounds, m.rounds)
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].RoundNumber > rounds[j].RoundNumber })

	if limit > 0 && len(rounds) > limit {
		rounds = rounds[:limit]
	}
	return rounds, nil
}

func (m *MemoryStorage) RecordRoundMetrics(rm RoundMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.roundMetrics {
		if existing.RoundNumber == rm.RoundNumber {
			m.roundMetrics[i] = rm
			return nil
		}
	}
	m.roundMetrics = append(m.roundMetrics, rm)
	if len(m.roundMetrics) > m.config.MaxEntries {
		m.roundMetrics = m.roundMetrics[len(m.roundMetrics)-m.config.MaxEntries:]
	}
	return nil
}

func (m *MemoryStorage) ListRoundMetrics(limit int) ([]RoundMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rm := make([]RoundMetrics, len(m.roundMetrics))
	copy(rm, m.roundMetrics)
	sort.Slice(rm, func(i, j int) bool { return rm[i].RoundNumber > rm[j].RoundNumber })

	if limit > 0 && len(rm) > limit {
		rm = rm[:limit]
	}
	return rm, nil
}

func (m *MemoryStorage) RecordEvent(event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)
	if len(m.events) > m.config.MaxEntries {
		keep := m.config.MaxEntries / 2
		m.events = m.events[len(m.events)-keep:]
	}
	return nil
}

func (m *MemoryStorage) ListEvents(limit, offset int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var reversed []Event
	for i := len(m.events) - 1; i >= 0; i-- {
		reversed = append(reversed, m.events[i])
	}

	start := offset
	if start > len(reversed) {
		return []Event{}, nil
	}
	end := start + limit
	if limit <= 0 || end > len(reversed) {
		end = len(reversed)
	}

	result := make([]Event, end-start)
	copy(result, reversed[start:end])
	return result, nil
}

func (m *MemoryStorage) Cleanup(maxAge time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var kept []Event
	for _, e := range m.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	m.events = kept
	return nil
}

func (m *MemoryStorage) Close() error { return nil }
