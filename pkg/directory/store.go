// Package directory implements the single-writer membership/election/
// barrier store described in spec §3–4.1, backed by an embedded,
// cgo-free SQLite database.
package directory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fl-coordination/fabric/pkg/wire"
)

// Store wraps the embedded relational store. Every exported method opens
// its own short-lived statement against the shared *sql.DB (a pool of up
// to 8 connections), relying on SQLite's own locking to serialize
// mutations — matching spec §5's "single-process embedded DB accessed by
// short-lived connections" note.
type Store struct {
	db *sql.DB
}

// Open creates (or reopens) the database at path and ensures its schema
// exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("directory: open %s: %w", path, err)
	}

	// The embedded store is single-writer by design (spec §5); a small
	// pool avoids SQLITE_BUSY storms from concurrent handler goroutines
	// without serializing reads through one connection.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		agent_id TEXT PRIMARY KEY,
		ip TEXT NOT NULL,
		port INTEGER NOT NULL,
		score INTEGER NOT NULL,
		last_seen TIMESTAMP NOT NULL,
		UNIQUE(ip, port)
	)`,
	`CREATE TABLE IF NOT EXISTS current_aggregator (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		aggregator_id TEXT NOT NULL,
		ip TEXT NOT NULL,
		port INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS round_barrier (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		current_round INTEGER NOT NULL,
		state TEXT NOT NULL,
		barrier_threshold INTEGER NOT NULL,
		agents_ready TEXT NOT NULL DEFAULT '[]',
		models_received INTEGER NOT NULL DEFAULT 0,
		aggregator_id TEXT NOT NULL DEFAULT '',
		last_update TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS local_models (
		model_id TEXT PRIMARY KEY,
		gen_time TIMESTAMP NOT NULL,
		agent_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		performance REAL NOT NULL DEFAULT 0,
		num_samples INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS cluster_models (
		model_id TEXT PRIMARY KEY,
		gen_time TIMESTAMP NOT NULL,
		aggregator_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		num_samples INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS agent_round_status (
		agent_id TEXT PRIMARY KEY,
		current_round INTEGER NOT NULL,
		status TEXT NOT NULL,
		phase TEXT NOT NULL,
		last_heartbeat TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_local_models_round ON local_models(round)`,
	`CREATE INDEX IF NOT EXISTS idx_cluster_models_round ON cluster_models(round)`,
}

func (s *Store) initSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("directory: init schema: %w", err)
		}
	}
	return nil
}

// Agent is a directory-side agent record (spec §3).
type Agent struct {
	AgentID  string
	IP       string
	Port     int
	Score    int
	LastSeen time.Time
}

// UpsertAgent inserts or refreshes an agent row. If a row with the same
// (ip,port) already exists under a different agent_id, that row is
// rewritten with the new id — spec §3's secondary-uniqueness rule,
// grounded on sqlite_db.py's upsert_agent.
func (s *Store) UpsertAgent(agentID, ip string, port, score int) error {
	now := time.Now().UTC()

	var existingID string
	err := s.db.QueryRow(`SELECT agent_id FROM agents WHERE ip = ? AND port = ?`, ip, port).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec(
			`INSERT INTO agents (agent_id, ip, port, score, last_seen) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(agent_id) DO UPDATE SET ip=excluded.ip, port=excluded.port, score=excluded.score, last_seen=excluded.last_seen`,
			agentID, ip, port, score, now)
		if err != nil {
			return fmt.Errorf("directory: upsert agent: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("directory: lookup agent by (ip,port): %w", err)
	}

	if existingID == agentID {
		_, err = s.db.Exec(`UPDATE agents SET score = ?, last_seen = ? WHERE agent_id = ?`, score, now, agentID)
	} else {
		// Same (ip,port), new id: a restart with a regenerated id. Rewrite
		// the row's primary key rather than inserting a duplicate.
		_, err = s.db.Exec(`UPDATE agents SET agent_id = ?, score = ?, last_seen = ? WHERE ip = ? AND port = ?`,
			agentID, score, now, ip, port)
	}
	if err != nil {
		return fmt.Errorf("directory: upsert agent: %w", err)
	}
	return nil
}

// GetAllAgents returns every registered agent_id -> score.
func (s *Store) GetAllAgents() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT agent_id, score FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("directory: get all agents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var score int
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("directory: scan agent row: %w", err)
		}
		out[id] = score
	}
	return out, rows.Err()
}

// GetAgent looks up a single agent's (ip,port) by id.
func (s *Store) GetAgent(agentID string) (Agent, bool, error) {
	var a Agent
	a.AgentID = agentID
	err := s.db.QueryRow(`SELECT ip, port, score, last_seen FROM agents WHERE agent_id = ?`, agentID).
		Scan(&a.IP, &a.Port, &a.Score, &a.LastSeen)
	if err == sql.ErrNoRows {
		return Agent{}, false, nil
	}
	if err != nil {
		return Agent{}, false, fmt.Errorf("directory: get agent: %w", err)
	}
	return a, true, nil
}

// AgentsCount returns the row count on the agent table.
func (s *Store) AgentsCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM agents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("directory: count agents: %w", err)
	}
	return n, nil
}

// CleanupStaleAgents deletes every agent row whose last_seen predates the
// TTL in one pass. Grounded on sqlite_db.py's cleanup_old_agents. Kept
// for callers that want an unsharded full sweep; Sweeper itself uses
// ListStaleAgentIDs/DeleteAgents below to scope each pass to one shard.
func (s *Store) CleanupStaleAgents(ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	res, err := s.db.Exec(`DELETE FROM agents WHERE last_seen < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("directory: cleanup stale agents: %w", err)
	}
	return res.RowsAffected()
}

// ListStaleAgentIDs returns the agent_ids whose last_seen predates the
// TTL, without deleting them — Sweeper filters this list down to the
// shard it owns for the current pass before deleting.
func (s *Store) ListStaleAgentIDs(ttl time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	rows, err := s.db.Query(`SELECT agent_id FROM agents WHERE last_seen < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("directory: list stale agents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("directory: scan stale agent row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteAgents removes exactly the given agent_ids, regardless of TTL.
// Used by Sweeper to delete only the rows assigned to the shard it is
// currently responsible for.
func (s *Store) DeleteAgents(ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	query := fmt.Sprintf(`DELETE FROM agents WHERE agent_id IN (%s)`, placeholders)
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("directory: delete agents: %w", err)
	}
	return res.RowsAffected()
}

// CurrentAggregator is the directory's singleton aggregator pointer.
type CurrentAggregator struct {
	AggregatorID string
	IP           string
	Port         int
	UpdatedAt    time.Time
}

// UpdateCurrentAggregator overwrites the singleton row (created by
// election, or re-written by a winner publishing its serving port).
func (s *Store) UpdateCurrentAggregator(id, ip string, port int) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO current_aggregator (id, aggregator_id, ip, port, updated_at) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET aggregator_id=excluded.aggregator_id, ip=excluded.ip, port=excluded.port, updated_at=excluded.updated_at`,
		id, ip, port, now)
	if err != nil {
		return fmt.Errorf("directory: update current aggregator: %w", err)
	}
	return nil
}

// GetCurrentAggregator reads the singleton; ok is false if none exists.
func (s *Store) GetCurrentAggregator() (CurrentAggregator, bool, error) {
	var c CurrentAggregator
	err := s.db.QueryRow(`SELECT aggregator_id, ip, port, updated_at FROM current_aggregator WHERE id = 1`).
		Scan(&c.AggregatorID, &c.IP, &c.Port, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return CurrentAggregator{}, false, nil
	}
	if err != nil {
		return CurrentAggregator{}, false, fmt.Errorf("directory: get current aggregator: %w", err)
	}
	return c, true, nil
}

// ClearCurrentAggregator deletes the singleton row.
func (s *Store) ClearCurrentAggregator() error {
	if _, err := s.db.Exec(`DELETE FROM current_aggregator WHERE id = 1`); err != nil {
		return fmt.Errorf("directory: clear current aggregator: %w", err)
	}
	return nil
}

// RoundBarrier mirrors the round_barrier singleton row (spec §3).
type RoundBarrier struct {
	CurrentRound    int
	State           string
	Threshold       int
	AgentsReady     []string
	ModelsReceived  int
	AggregatorID    string
	LastUpdate      time.Time
}

// InitBarrier resets the barrier singleton for a new round.
func (s *Store) InitBarrier(round, threshold int, aggregatorID, state string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO round_barrier (id, current_round, state, barrier_threshold, agents_ready, models_received, aggregator_id, last_update)
		 VALUES (1, ?, ?, ?, '[]', 0, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET current_round=excluded.current_round, state=excluded.state,
			barrier_threshold=excluded.barrier_threshold, agents_ready='[]', models_received=0,
			aggregator_id=excluded.aggregator_id, last_update=excluded.last_update`,
		round, state, threshold, aggregatorID, now)
	if err != nil {
		return fmt.Errorf("directory: init barrier: %w", err)
	}
	return nil
}

// UpdateBarrierState mutates only the state field.
func (s *Store) UpdateBarrierState(state string) error {
	_, err := s.db.Exec(`UPDATE round_barrier SET state = ?, last_update = ? WHERE id = 1`, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("directory: update barrier state: %w", err)
	}
	return nil
}

// NotifyAgentBarrierArrival adds agentID to agents_ready and increments
// models_received, grounded on sqlite_db.py's
// notify_agent_barrier_arrival (JSON-encoded agents_ready list).
func (s *Store) NotifyAgentBarrierArrival(agentID string) error {
	var raw string
	if err := s.db.QueryRow(`SELECT agents_ready FROM round_barrier WHERE id = 1`).Scan(&raw); err != nil {
		return fmt.Errorf("directory: read barrier agents_ready: %w", err)
	}
	var ready []string
	if err := json.Unmarshal([]byte(raw), &ready); err != nil {
		return fmt.Errorf("directory: decode agents_ready: %w", err)
	}
	for _, id := range ready {
		if id == agentID {
			return nil
		}
	}
	ready = append(ready, agentID)
	encoded, err := json.Marshal(ready)
	if err != nil {
		return fmt.Errorf("directory: encode agents_ready: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE round_barrier SET agents_ready = ?, models_received = models_received + 1, last_update = ? WHERE id = 1`,
		string(encoded), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("directory: update barrier arrival: %w", err)
	}
	return nil
}

// ResetBarrier empties agents_ready and models_received for the current
// round.
func (s *Store) ResetBarrier() error {
	_, err := s.db.Exec(`UPDATE round_barrier SET agents_ready = '[]', models_received = 0, last_update = ? WHERE id = 1`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("directory: reset barrier: %w", err)
	}
	return nil
}

// GetBarrier reads the barrier singleton; ok is false if never
// initialized.
func (s *Store) GetBarrier() (RoundBarrier, bool, error) {
	var b RoundBarrier
	var raw string
	err := s.db.QueryRow(
		`SELECT current_round, state, barrier_threshold, agents_ready, models_received, aggregator_id, last_update FROM round_barrier WHERE id = 1`).
		Scan(&b.CurrentRound, &b.State, &b.Threshold, &raw, &b.ModelsReceived, &b.AggregatorID, &b.LastUpdate)
	if err == sql.ErrNoRows {
		return RoundBarrier{}, false, nil
	}
	if err != nil {
		return RoundBarrier{}, false, fmt.Errorf("directory: get barrier: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &b.AgentsReady); err != nil {
		return RoundBarrier{}, false, fmt.Errorf("directory: decode agents_ready: %w", err)
	}
	return b, true, nil
}

// PushModel inserts a push_model row into the local or cluster models
// table, keyed by model_id. The binary payload is persisted by the
// caller (pkg/directory.Server) to a content-addressed file, matching
// spec §4.1's push_model effect; this method only persists the row.
func (s *Store) PushModel(componentID string, round int, modelType wire.ModelType, modelID string, genTime time.Time, perf float64, numSamples int) error {
	var err error
	switch modelType {
	case wire.ModelTypeLocal:
		_, err = s.db.Exec(
			`INSERT INTO local_models (model_id, gen_time, agent_id, round, performance, num_samples) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(model_id) DO UPDATE SET gen_time=excluded.gen_time, agent_id=excluded.agent_id, round=excluded.round, performance=excluded.performance, num_samples=excluded.num_samples`,
			modelID, genTime, componentID, round, perf, numSamples)
	case wire.ModelTypeCluster:
		_, err = s.db.Exec(
			`INSERT INTO cluster_models (model_id, gen_time, aggregator_id, round, num_samples) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(model_id) DO UPDATE SET gen_time=excluded.gen_time, aggregator_id=excluded.aggregator_id, round=excluded.round, num_samples=excluded.num_samples`,
			modelID, genTime, componentID, round, numSamples)
	default:
		return fmt.Errorf("directory: push model: unknown model type %d", modelType)
	}
	if err != nil {
		return fmt.Errorf("directory: push model: %w", err)
	}
	return nil
}

// UpsertAgentRoundStatus writes the supplemental agent_round_status row
// (SPEC_FULL §3 supplement) — opportunistic, never consulted by a
// correctness-critical path.
func (s *Store) UpsertAgentRoundStatus(agentID string, round int, status, phase string) error {
	_, err := s.db.Exec(
		`INSERT INTO agent_round_status (agent_id, current_round, status, phase, last_heartbeat) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET current_round=excluded.current_round, status=excluded.status, phase=excluded.phase, last_heartbeat=excluded.last_heartbeat`,
		agentID, round, status, phase, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("directory: upsert agent round status: %w", err)
	}
	return nil
}
