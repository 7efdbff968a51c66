package dashboard

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLStorage implements Storage using PostgreSQL.
type PostgreSQLStorage struct {
	db     *sql.DB
	config DatabaseConfig
}

// NewPostgreSQLStorage opens a connection pool and initializes the schema.
func NewPostgreSQLStorage(config DatabaseConfig) (*PostgreSQLStorage, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if config.MaxConns > 0 {
		db.SetMaxOpenConns(config.MaxConns)
		db.SetMaxIdleConns(config.MaxConns / 2)
	}
	db.SetConnMaxLifetime(time.Hour)

	s := &PostgreSQLStorage{db: db, config: config}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (p *PostgreSQLStorage) initSchema() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id VARCHAR(255) PRIMARY KEY,
			ip VARCHAR(64) NOT NULL,
			state VARCHAR(32) NOT NULL,
			join_time TIMESTAMP WITH TIME ZONE,
			last_seen TIMESTAMP WITH TIME ZONE,
			current_round INTEGER NOT NULL DEFAULT 0,
			updates_submitted INTEGER NOT NULL DEFAULT 0,
			last_error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			round_number INTEGER PRIMARY KEY,
			algorithm VARCHAR(64),
			start_time TIMESTAMP WITH TIME ZONE,
			end_time TIMESTAMP WITH TIME ZONE,
			participant_count INTEGER NOT NULL DEFAULT 0,
			updates_received INTEGER NOT NULL DEFAULT 0,
			global_recall DOUBLE PRECISION,
			status VARCHAR(32)
		)`,
		`CREATE TABLE IF NOT EXISTS round_metrics (
			round_number INTEGER PRIMARY KEY,
			aggregation_duration_ms BIGINT NOT NULL DEFAULT 0,
			bytes_sent BIGINT NOT NULL DEFAULT 0,
			bytes_received BIGINT NOT NULL DEFAULT 0,
			rounds_without_improve INTEGER NOT NULL DEFAULT 0,
			best_global_recall DOUBLE PRECISION
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id VARCHAR(255) PRIMARY KEY,
			type VARCHAR(64),
			timestamp TIMESTAMP WITH TIME ZONE,
			source VARCHAR(255),
			level VARCHAR(16),
			message TEXT,
			data JSONB
		)`,
	}
	for _, schema := range schemas {
		if _, err := p.db.Exec(schema); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

func (p *PostgreSQLStorage) UpsertAgent(agent AgentStatus) error {
	_, err := p.db.Exec(`
		INSERT INTO agents (id, ip, state, join_time, last_seen, current_round, updates_submitted, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			ip = EXCLUDED.ip, state = EXCLUDED.state, last_seen = EXCLUDED.last_seen,
			current_round = EXCLUDED.current_round, updates_submitted = EXCLUDED.updates_submitted,
			last_error = EXCLUDED.last_error`,
		agent.ID, agent.IP, string(agent.State), agent.JoinTime, agent.LastSeen,
		agent.CurrentRound, agent.UpdatesSubmitted, agent.LastError)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

func (p *PostgreSQLStorage) ListAgents() ([]AgentStatus, error) {
	rows, err := p.db.Query(`SELECT id, ip, state, join_time, last_seen, current_round, updates_submitted, COALESCE(last_error, '') FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var agents []AgentStatus
	for rows.Next() {
		var a AgentStatus
		var state string
		if err := rows.Scan(&a.ID, &a.IP, &state, &a.JoinTime, &a.LastSeen, &a.CurrentRound, &a.UpdatesSubmitted, &a.LastError); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.State = AgentState(state)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (p *PostgreSQLStorage) RecordRound(round RoundSummary) error {
	_, err := p.db.Exec(`
		INSERT INTO rounds (round_number, algorithm, start_time, end_time, participant_count, updates_received, global_recall, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (round_number) DO UPDATE SET
			end_time = EXCLUDED.end_time, participant_count = EXCLUDED.participant_count,
			updates_received = EXCLUDED.updates_received, global_recall = EXCLUDED.global_recall,
			status = EXCLUDED.status`,
		round.RoundNumber, round.Algorithm, round.StartTime, round.EndTime,
		round.ParticipantCount, round.UpdatesReceived, round.GlobalRecall, round.Status)
	if err != nil {
		return fmt.Errorf("record round: %w", err)
	}
	return nil
}

func (p *PostgreSQLStorage) ListRounds(limit int) ([]RoundSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.Query(`SELECT round_number, algorithm, start_time, end_time, participant_count, updates_received, global_recall, status FROM rounds ORDER BY round_number DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []RoundSummary
	for rows.Next() {
		var r RoundSummary
		if err := rows.Scan(&r.RoundNumber, &r.Algorithm, &r.StartTime, &r.EndTime, &r.ParticipantCount, &r.UpdatesReceived, &r.GlobalRecall, &r.Status); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func (p *PostgreSQLStorage) RecordRoundMetrics(m RoundMetrics) error {
	_, err := p.db.Exec(`
		INSERT INTO round_metrics (round_number, aggregation_duration_ms, bytes_sent, bytes_received, rounds_without_improve, best_global_recall)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (round_number) DO UPDATE SET
			aggregation_duration_ms = EXCLUDED.aggregation_duration_ms, bytes_sent = EXCLUDED.bytes_sent,
			bytes_received = EXCLUDED.bytes_received, rounds_without_improve = EXCLUDED.rounds_without_improve,
			best_global_recall = EXCLUDED.best_global_recall`,
		m.RoundNumber, m.AggregationDuration.Milliseconds(), m.BytesSent, m.BytesReceived,
		m.RoundsWithoutImprove, m.BestGlobalRecall)
	if err != nil {
		return fmt.Errorf("record round metrics: %w", err)
	}
	return nil
}

func (p *PostgreSQLStorage) ListRoundMetrics(limit int) ([]RoundMetrics, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.Query(`SELECT round_number, aggregation_duration_ms, bytes_sent, bytes_received, rounds_without_improve, best_global_recall FROM round_metrics ORDER BY round_number DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query round metrics: %w", err)
	}
	defer rows.Close()

	var result []RoundMetrics
	for rows.Next() {
		var m RoundMetrics
		var durationMS int64
		if err := rows.Scan(&m.RoundNumber, &durationMS, &m.BytesSent, &m.BytesReceived, &m.RoundsWithoutImprove, &m.BestGlobalRecall); err != nil {
			return nil, fmt.Errorf("scan round metrics: %w", err)
		}
		m.AggregationDuration = time.Duration(durationMS) * time.Millisecond
		result = append(result, m)
	}
	return result, rows.Err()
}

func (p *PostgreSQLStorage) RecordEvent(event Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = p.db.Exec(`INSERT INTO events (id, type, timestamp, source, level, message, data) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Type, event.Timestamp, event.Source, event.Level, event.Message, data)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

func (p *PostgreSQLStorage) ListEvents(limit, offset int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.Query(`SELECT id, type, timestamp, source, level, message, data FROM events ORDER BY timestamp DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.Timestamp, &e.Source, &e.Level, &e.Message, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("unmarshal event data: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (p *PostgreSQLStorage) Cleanup(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	if _, err := p.db.Exec(`DELETE FROM events WHERE timestamp < $1`, cutoff); err != nil {
		return fmt.Errorf("cleanup events: %w", err)
	}
	return nil
}

func (p *PostgreSQLStorage) Close() error { return p.db.Close() }
