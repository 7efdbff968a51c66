// Package wire implements the tagged, length-prefixed message protocol
// used for agent<->aggregator and node<->directory traffic. Each message
// kind is a distinct Go struct (a tagged sum-type variant per spec §9's
// redesign note) carrying named fields instead of the positional
// index-by-enum sequences of the original implementation; on the wire it
// is still a length-prefixed, positional-feeling encoding (cbor, struct
// tags define field order) so the framing itself stays simple.
package wire

import "time"

// Kind tags the variant carried by an Envelope.
type Kind uint16

const (
	KindPushModel Kind = iota + 1
	KindRegisterAgent
	KindGetAggregator
	KindElectAggregator
	KindUpdateAggregator
	KindClearAggregator
	KindGetAgentsCount
	KindGetAllAgents
	KindInitBarrier
	KindUpdateBarrierState
	KindResetBarrier

	KindParticipate
	KindWelcome
	KindUpdate
	KindPolling
	KindAck
	KindClusterModelDist
	KindRotation
	KindRecallUpload
	KindTermination
	KindErrorReply
)

// ModelType distinguishes a local per-agent model from the aggregated
// cluster model, mirroring the directory's model_type field.
type ModelType uint8

const (
	ModelTypeLocal ModelType = iota
	ModelTypeCluster
)

// ModelDict is the opaque named-array payload the core treats as a
// black box; external serialize/deserialize collaborators own its
// contents.
type ModelDict map[string][]float32

// --- directory <-> aggregator/agent messages -------------------------------

// PushModel corresponds to spec §4.1's push_model request.
type PushModel struct {
	ComponentID string
	Round       int
	ModelType   ModelType
	ModelID     string
	GenTime     time.Time
	Meta        map[string]float64
	Payload     ModelDict
}

// PushModelReply is the directory's {"confirmation"} reply.
type PushModelReply struct {
	Confirmation bool
}

// RegisterAgent corresponds to spec §4.1's register_agent request.
type RegisterAgent struct {
	AgentID string
	IP      string
	Port    int
	Score   int
}

// RegisterAgentReply is the directory's {"registered"} reply.
type RegisterAgentReply struct {
	Registered bool
}

// GetAggregator corresponds to spec §4.1's get_aggregator request (no
// fields).
type GetAggregator struct{}

// GetAggregatorReply is either {"aggregator",...} or {"no_aggregator"}.
type GetAggregatorReply struct {
	Found bool
	ID    string
	IP    string
	Port  int
}

// ElectAggregator corresponds to spec §4.1's elect_aggregator request.
type ElectAggregator struct {
	Scores map[string]int
}

// ElectAggregatorReply is either {"elected",...} or
// {"election_failed", reason}.
type ElectAggregatorReply struct {
	Elected bool
	ID      string
	IP      string
	Port    int
	Score   int
	Reason  string
}

// UpdateAggregator corresponds to spec §4.1's update_aggregator request,
// used by the winner to publish its serving port after promotion.
type UpdateAggregator struct {
	ID   string
	IP   string
	Port int
}

// UpdateAggregatorReply is the directory's {"updated"} reply.
type UpdateAggregatorReply struct {
	Updated bool
}

// ClearAggregator corresponds to spec §4.1's clear_aggregator request (no
// fields).
type ClearAggregator struct{}

// ClearAggregatorReply is the directory's {"cleared"} reply.
type ClearAggregatorReply struct {
	Cleared bool
}

// GetAgentsCount corresponds to spec §4.1's get_agents_count request (no
// fields).
type GetAgentsCount struct{}

// GetAgentsCountReply is the directory's {"agents_count", N} reply.
type GetAgentsCountReply struct {
	Count int
}

// GetAllAgents corresponds to spec §4.1's get_all_agents request (no
// fields).
type GetAllAgents struct{}

// GetAllAgentsReply is the directory's {"agents", map<agent_id,score>}
// reply. Election callers always use this (not a bare registration
// reply) to see canonical scores, per spec §9's Open Question resolution.
type GetAllAgentsReply struct {
	Agents map[string]int
}

// InitBarrier corresponds to spec §4.1's init_barrier request.
type InitBarrier struct {
	Round       int
	Threshold   int
	AggregatorID string
	State       string
}

// UpdateBarrierState corresponds to spec §4.1's update_barrier_state
// request.
type UpdateBarrierState struct {
	State string
}

// ResetBarrier corresponds to spec §4.1's reset_barrier request (no
// fields).
type ResetBarrier struct{}

// --- agent <-> aggregator messages -----------------------------------------

// Participate is the registration handshake sent by an agent on join,
// field set transcribed from ParticipateMSGLocation.
type Participate struct {
	AgentName      string
	AgentID        string
	ModelID        string
	LocalModels    ModelDict
	InitWeights    bool
	Simulation     bool
	ExchSocket     int
	GeneTime       time.Time
	MetaData       map[string]float64
	AgentIP        string
	Round          int
}

// Welcome is the aggregator's reply to Participate, field set
// transcribed from ParticipateConfirmationMSGLocation.
type Welcome struct {
	AggregatorID  string
	ModelID       string
	ClusterModels ModelDict
	Round         int
	AgentID       string
	ExchSocket    int
	RecvSocket    int
	AggregatorIP  string
}

// Update is a local-model upload, field set transcribed from
// ModelUpMSGLocation.
type Update struct {
	AgentID     string
	ModelID     string
	LocalModels ModelDict
	GeneTime    time.Time
	MetaData    map[string]float64
}

// Polling is an agent's poll request, field set transcribed from
// PollingMSGLocation.
type Polling struct {
	Round   int
	AgentID string
}

// Ack is sent when a poll has nothing new to deliver.
type Ack struct{}

// ClusterModelDist carries an aggregated model to a polling or pushed
// agent, field set transcribed from GMDistributionMsgLocation.
type ClusterModelDist struct {
	AggregatorID  string
	ModelID       string
	Round         int
	ClusterModels ModelDict
}

// Rotation is the rotation notice, field set transcribed from
// RotationMSGLocation.
type Rotation struct {
	NewAggregatorID        string
	NewAggregatorIP        string
	NewAggregatorRegSocket int
	ModelID                string
	Round                  int
	ClusterModels          ModelDict
	RandScores             map[string]int
}

// RecallUpload carries an agent's recall metric for a round, field set
// transcribed from RecallUpMSGLocation.
type RecallUpload struct {
	RecallValue float64
	Round       int
	AgentID     string
}

// Termination is delivered to an agent once a termination judge fires,
// field set transcribed from TerminationMsgLocation.
type Termination struct {
	Reason      string
	FinalRound  int
	FinalRecall float64
}

// ErrorReply is the generic protocol-mismatch reply: {"error", reason}.
type ErrorReply struct {
	Reason string
}
