package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage implements Storage using Redis: a hash for the agent
// roster, a sorted set keyed by round number for round history, and a
// capped list for the event log.
type RedisStorage struct {
	client *redis.Client
	config RedisConfig
	ctx    context.Context
}

const (
	redisAgentsKey       = "dashboard:agents"
	redisRoundsKey       = "dashboard:rounds"
	redisRoundMetricsKey = "dashboard:round_metrics"
	redisEventsKey       = "dashboard:events"
)

// NewRedisStorage opens a client and verifies connectivity.
func NewRedisStorage(config RedisConfig) (*RedisStorage, error) {
	opts := &redis.Options{Addr: config.Address, Password: config.Password, DB: config.Database}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	client := redis.NewClient(opts)
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStorage{client: client, config: config, ctx: ctx}, nil
}

func (r *RedisStorage) getDefaultTTL() time.Duration {
	if r.config.TTL == "" {
		return 24 * time.Hour
	}
	d, err := time.ParseDuration(r.config.TTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

func (r *RedisStorage) UpsertAgent(agent AgentStatus) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	if err := r.client.HSet(r.ctx, redisAgentsKey, agent.ID, data).Err(); err != nil {
		return fmt.Errorf("hset agent: %w", err)
	}
	return nil
}

func (r *RedisStorage) ListAgents() ([]AgentStatus, error) {
	raw, err := r.client.HGetAll(r.ctx, redisAgentsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall agents: %w", err)
	}

	agents := make([]AgentStatus, 0, len(raw))
	for _, v := range raw {
		var a AgentStatus
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			return nil, fmt.Errorf("unmarshal agent: %w", err)
		}
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

func (r *RedisStorage) RecordRound(round RoundSummary) error {
	data, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("marshal round: %w", err)
	}
	member := redis.Z{Score: float64(round.RoundNumber), Member: data}
	if err := r.client.ZAdd(r.ctx, redisRoundsKey, member).Err(); err != nil {
		return fmt.Errorf("zadd round: %w", err)
	}
	r.client.Expire(r.ctx, redisRoundsKey, r.getDefaultTTL())
	return nil
}

func (r *RedisStorage) ListRounds(limit int) ([]RoundSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := r.client.ZRevRange(r.ctx, redisRoundsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange rounds: %w", err)
	}

	rounds := make([]RoundSummary, 0, len(raw))
	for _, v := range raw {
		var round RoundSummary
		if err := json.Unmarshal([]byte(v), &round); err != nil {
			return nil, fmt.Errorf("unmarshal round: %w", err)
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}

func (r *RedisStorage) RecordRoundMetrics(m RoundMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal round metrics: %w", err)
	}
	member := redis.Z{Score: float64(m.RoundNumber), Member: data}
	if err := r.client.ZAdd(r.ctx, redisRoundMetricsKey, member).Err(); err != nil {
		return fmt.Errorf("zadd round metrics: %w", err)
	}
	r.client.Expire(r.ctx, redisRoundMetricsKey, r.getDefaultTTL())
	return nil
}

func (r *RedisStorage) ListRoundMetrics(limit int) ([]RoundMetrics, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := r.client.ZRevRange(r.ctx, redisRoundMetricsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange round metrics: %w", err)
	}

	result := make([]RoundMetrics, 0, len(raw))
	for _, v := range raw {
		var m RoundMetrics
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("unmarshal round metrics: %w", err)
		}
		result = append(result, m)
	}
	return result, nil
}

func (r *RedisStorage) RecordEvent(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.LPush(r.ctx, redisEventsKey, data).Err(); err != nil {
		return fmt.Errorf("lpush event: %w", err)
	}
	r.client.LTrim(r.ctx, redisEventsKey, 0, 9999)
	r.client.Expire(r.ctx, redisEventsKey, r.getDefaultTTL())
	return nil
}

func (r *RedisStorage) ListEvents(limit, offset int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := r.client.LRange(r.ctx, redisEventsKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange events: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, v := range raw {
		var e Event
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

// Cleanup is a no-op for Redis: expiry is handled by the per-key TTL set
// on every write (see getDefaultTTL).
func (r *RedisStorage) Cleanup(maxAge time.Duration) error { return nil }

func (r *RedisStorage) Close() error { return r.client.Close() }
