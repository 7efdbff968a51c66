package dashboard

import "time"

// AgentState is the lifecycle state of a trainer/uploader process as seen
// from the operator dashboard, distinct from pkg/agent's internal State.
type AgentState string

const (
	AgentRegistered AgentState = "registered"
	AgentTraining   AgentState = "training"
	AgentUploaded   AgentState = "uploaded"
	AgentIdle       AgentState = "idle"
	AgentError      AgentState = "error"
)

// AgentStatus is a point-in-time snapshot of one agent, reported by the
// aggregator (or the agent itself) on every state change.
type AgentStatus struct {
	ID               string     `json:"id"`
	IP               string     `json:"ip"`
	State            AgentState `json:"state"`
	JoinTime         time.Time  `json:"join_time"`
	LastSeen         time.Time  `json:"last_seen"`
	CurrentRound     int        `json:"current_round"`
	UpdatesSubmitted int        `json:"updates_submitted"`
	LastError        string     `json:"last_error,omitempty"`
}

// RoundSummary is the outcome of one aggregation round.
type RoundSummary struct {
	RoundNumber      int        `json:"round_number"`
	Algorithm        string     `json:"algorithm"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	ParticipantCount int        `json:"participant_count"`
	UpdatesReceived  int        `json:"updates_received"`
	GlobalRecall     *float64   `json:"global_recall,omitempty"`
	Status           string     `json:"status"` // aggregating/distributed/terminated
}

// RoundMetrics is the byte-accounting and timing detail behind a
// RoundSummary, reported separately so a dashboard can chart bandwidth
// and aggregation cost without parsing them out of Event.Data. Field
// shape grounded on the teacher's pkg/monitoring/types.go RoundMetrics
// and ModelUpdateMetrics.UpdateSize, reset every round the same way the
// original's round_bytes_sent/round_bytes_received counters are.
type RoundMetrics struct {
	RoundNumber          int           `json:"round_number"`
	AggregationDuration  time.Duration `json:"aggregation_duration_ms"`
	BytesSent            int64         `json:"bytes_sent"`
	BytesReceived        int64         `json:"bytes_received"`
	RoundsWithoutImprove int           `json:"rounds_without_improve"`
	BestGlobalRecall     float64       `json:"best_global_recall"`
}

// Event is a single timestamped occurrence worth surfacing to an operator:
// an election, a rotation, a polling failure, a termination decision.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"` // directory/aggregator/agent id
	Level     string                 `json:"level"`  // info/warning/error
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// APIResponse is the envelope every dashboard endpoint replies with.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Config controls the dashboard's serving process: which storage backend
// to use and how its HTTP API is exposed.
type Config struct {
	APIPort        int    `yaml:"api_port"`
	StorageBackend string `yaml:"storage_backend"` // memory/postgres/redis
	Production     bool   `yaml:"production"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	Memory     MemoryConfig   `yaml:"memory"`
	PostgreSQL DatabaseConfig `yaml:"postgresql"`
	Redis      RedisConfig    `yaml:"redis"`

	Auth AuthConfig `yaml:"auth"`
}
