package federation

import "time"

// Role is which of the three process kinds a config file belongs to.
type Role string

const (
	RoleDirectory  Role = "directory"
	RoleAggregator Role = "aggregator"
	RoleAgent      Role = "agent"
)

// DirectoryConfig configures the membership/election/barrier store process.
type DirectoryConfig struct {
	DBIP            string `yaml:"db_ip"`
	DBPort          int    `yaml:"db_port"`
	AgentTTLSeconds int    `yaml:"agent_ttl_seconds"`

	// ElectionMinAgents is loaded with the directory config but not read
	// by the directory server: elect_aggregator answers no_candidates only
	// for an empty score map. Agents apply their own ElectionMinAgents
	// before calling it.
	ElectionMinAgents int `yaml:"election_min_agents"`

	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// AggregatorConfig configures a round-leader process.
type AggregatorConfig struct {
	AggrIP     string `yaml:"aggr_ip"`
	RegSocket  int    `yaml:"reg_socket"`
	RecvSocket int    `yaml:"recv_socket"`
	ExchSocket int    `yaml:"exch_socket"`
	DBIP       string `yaml:"db_ip"`
	DBPort     int    `yaml:"db_port"`

	// Polling false enables push-mode distribution and push-mode rotation
	// delivery in addition to the mandatory polling-reply path.
	Polling bool `yaml:"polling"`

	AggregationThreshold int           `yaml:"aggregation_threshold"`
	AggregationTimeout   time.Duration `yaml:"aggregation_timeout"`
	RoundInterval        time.Duration `yaml:"round_interval"`

	RotationMinRounds int           `yaml:"rotation_min_rounds"`
	RotationInterval  int           `yaml:"rotation_interval"`
	RotationDelay     time.Duration `yaml:"rotation_delay"`

	MaxRounds             int     `yaml:"max_rounds"`
	EarlyStoppingPatience int     `yaml:"early_stopping_patience"`
	EarlyStoppingMinDelta float64 `yaml:"early_stopping_min_delta"`

	Algorithm AlgorithmConfig `yaml:"algorithm"`

	InitWeightsFlag bool `yaml:"init_weights_flag"`

	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// AgentConfig configures a trainer/uploader process.
type AgentConfig struct {
	DeviceIP   string `yaml:"device_ip"`
	AggrIP     string `yaml:"aggr_ip"`
	RegSocket  int    `yaml:"reg_socket"`
	ExchSocket int    `yaml:"exch_socket"`
	DBIP       string `yaml:"db_ip"`
	DBPort     int    `yaml:"db_port"`

	Polling                 bool          `yaml:"polling"`
	RegistrationGracePeriod time.Duration `yaml:"registration_grace_period"`
	ExpectedNumAgents       int           `yaml:"expected_num_agents"`
	ElectionMinAgents       int           `yaml:"election_min_agents"`
	InitWeightsFlag         bool          `yaml:"init_weights_flag"`

	Role Role `yaml:"role"`
}

// AlgorithmConfig selects an aggregation algorithm and its hyperparameters.
// Kept from the teacher's plan shape since the aggregation dispatch switches
// on Name the same way regardless of the surrounding config format.
type AlgorithmConfig struct {
	Name            string                 `yaml:"name"` // fedavg, fedopt, fedprox
	Hyperparameters map[string]interface{} `yaml:"hyperparameters"`
}

// MonitoringConfig controls whether a process reports round/event data to
// a dashboard backend. Reports are sent as each event happens;
// ReportIntervalSecond is not read by any component.
type MonitoringConfig struct {
	Enabled              bool   `yaml:"enabled"`
	DashboardURL         string `yaml:"dashboard_url"`
	ReportIntervalSecond int    `yaml:"report_interval_seconds"`
	EnableRealTimeEvents bool   `yaml:"enable_realtime_events"`
}
