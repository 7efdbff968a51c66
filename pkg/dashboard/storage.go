package dashboard

import "time"

// Storage is the 4-entity persistence surface the dashboard needs: agent
// roster, round history, round metrics, event log. Scaled down from a multi-federation
// monitoring interface since this system coordinates exactly one
// federation at a time.
type Storage interface {
	UpsertAgent(agent AgentStatus) error
	ListAgents() ([]AgentStatus, error)

	RecordRound(round RoundSummary) error
	ListRounds(limit int) ([]RoundSummary, error)

	RecordRoundMetrics(m RoundMetrics) error
	ListRoundMetrics(limit int) ([]RoundMetrics, error)

	RecordEvent(event Event) error
	ListEvents(limit, offset int) ([]Event, error)

	// Cleanup drops events older than maxAge. It is the one write
	// operation behind the dashboard's bearer-token auth gate.
	Cleanup(maxAge time.Duration) error

	Close() error
}

// MemoryConfig configures the in-memory storage backend.
type MemoryConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// DatabaseConfig configures the PostgreSQL storage backend.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_connections"`
}

// RedisConfig configures the Redis storage backend.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
	PoolSize int    `yaml:"pool_size"`
	TTL      string `yaml:"ttl"`
}

// NewStorage constructs the storage backend named by cfg.StorageBackend,
// defaulting to the in-memory backend.
func NewStorage(cfg Config) (Storage, error) {
	switch cfg.StorageBackend {
	case "postgres", "postgresql":
		return NewPostgreSQLStorage(cfg.PostgreSQL)
	case "redis":
		return NewRedisStorage(cfg.Redis)
	default:
		return NewMemoryStorage(cfg.Memory), nil
	}
}
