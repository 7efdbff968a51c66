package directory

import (
	"log"
	"net"
	"time"

	"github.com/fl-coordination/fabric/pkg/dashboard"
	"github.com/fl-coordination/fabric/pkg/election"
	"github.com/fl-coordination/fabric/pkg/wire"
)

// Server multiplexes the 11 directory message kinds of spec §4.1 over a
// single accept loop, one goroutine per connection, per spec §5's
// "one accept loop dispatching per-connection handlers" model.
type Server struct {
	store  *Store
	blobs  *BlobStore
	report *dashboard.Reporter
}

func NewServer(store *Store, blobs *BlobStore) *Server {
	return &Server{store: store, blobs: blobs}
}

// WithReporter attaches a dashboard reporter, returning the same server
// for call-site chaining. A nil or never-called reporter is a no-op.
func (s *Server) WithReporter(r *dashboard.Reporter) *Server {
	s.report = r
	return s
}

// ListenAndServe binds addr and serves until the listener is closed or
// ln.Accept returns an error.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Printf("directory: listening on %s", addr)
	return wire.Serve(ln, s.handle)
}

func (s *Server) handle(conn net.Conn, kind wire.Kind, payload []byte) {
	switch kind {
	case wire.KindPushModel:
		s.handlePushModel(conn, payload)
	case wire.KindRegisterAgent:
		s.handleRegisterAgent(conn, payload)
	case wire.KindGetAggregator:
		s.handleGetAggregator(conn)
	case wire.KindElectAggregator:
		s.handleElectAggregator(conn, payload)
	case wire.KindUpdateAggregator:
		s.handleUpdateAggregator(conn, payload)
	case wire.KindClearAggregator:
		s.handleClearAggregator(conn)
	case wire.KindGetAgentsCount:
		s.handleGetAgentsCount(conn)
	case wire.KindGetAllAgents:
		s.handleGetAllAgents(conn)
	case wire.KindInitBarrier:
		s.handleInitBarrier(conn, payload)
	case wire.KindUpdateBarrierState:
		s.handleUpdateBarrierState(conn, payload)
	case wire.KindResetBarrier:
		s.handleResetBarrier(conn)
	default:
		log.Printf("directory: undefined message kind %d", kind)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "unknown_msg_kind"}, 5*time.Second)
	}
}

func (s *Server) handlePushModel(conn net.Conn, payload []byte) {
	var msg wire.PushModel
	if err := wire.DecodePayload(payload, &msg); err != nil {
		log.Printf("directory: malformed push_model: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "malformed_push_model"}, 5*time.Second)
		return
	}

	perf := msg.Meta["accuracy"]
	numSamples := int(msg.Meta["num_samples"])

	if err := s.store.PushModel(msg.ComponentID, msg.Round, msg.ModelType, msg.ModelID, msg.GenTime, perf, numSamples); err != nil {
		log.Printf("directory: push_model store: %v", err)
	}
	if err := s.blobs.Write(msg.ModelID, msg.Payload); err != nil {
		log.Printf("directory: push_model blob: %v", err)
	}

	_ = wire.WriteFrame(conn, wire.KindPushModel, wire.PushModelReply{Confirmation: true}, 5*time.Second)
}

func (s *Server) handleRegisterAgent(conn net.Conn, payload []byte) {
	var msg wire.RegisterAgent
	if err := wire.DecodePayload(payload, &msg); err != nil {
		log.Printf("directory: malformed register_agent: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "malformed_register_agent"}, 5*time.Second)
		return
	}
	if err := s.store.UpsertAgent(msg.AgentID, msg.IP, msg.Port, msg.Score); err != nil {
		log.Printf("directory: register_agent: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "store_error"}, 5*time.Second)
		return
	}
	s.report.ReportAgent(dashboard.AgentStatus{ID: msg.AgentID, IP: msg.IP, State: dashboard.AgentRegistered})
	_ = wire.WriteFrame(conn, wire.KindRegisterAgent, wire.RegisterAgentReply{Registered: true}, 5*time.Second)
}

func (s *Server) handleGetAggregator(conn net.Conn) {
	cur, ok, err := s.store.GetCurrentAggregator()
	if err != nil {
		log.Printf("directory: get_aggregator: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "store_error"}, 5*time.Second)
		return
	}
	if !ok {
		_ = wire.WriteFrame(conn, wire.KindGetAggregator, wire.GetAggregatorReply{Found: false}, 5*time.Second)
		return
	}
	_ = wire.WriteFrame(conn, wire.KindGetAggregator, wire.GetAggregatorReply{
		Found: true, ID: cur.AggregatorID, IP: cur.IP, Port: cur.Port,
	}, 5*time.Second)
}

func (s *Server) handleElectAggregator(conn net.Conn, payload []byte) {
	var msg wire.ElectAggregator
	if err := wire.DecodePayload(payload, &msg); err != nil {
		log.Printf("directory: malformed elect_aggregator: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "malformed_elect_aggregator"}, 5*time.Second)
		return
	}

	winnerID, winnerScore, ok := election.WinnerScore(msg.Scores)
	if !ok {
		_ = wire.WriteFrame(conn, wire.KindElectAggregator, wire.ElectAggregatorReply{Elected: false, Reason: "no_candidates"}, 5*time.Second)
		return
	}

	agent, found, err := s.store.GetAgent(winnerID)
	if err != nil {
		log.Printf("directory: elect_aggregator lookup: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "store_error"}, 5*time.Second)
		return
	}
	if !found {
		_ = wire.WriteFrame(conn, wire.KindElectAggregator, wire.ElectAggregatorReply{Elected: false, Reason: "winner_not_found"}, 5*time.Second)
		return
	}

	if err := s.store.UpdateCurrentAggregator(winnerID, agent.IP, agent.Port); err != nil {
		log.Printf("directory: elect_aggregator write: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "store_error"}, 5*time.Second)
		return
	}
	s.report.ReportEvent("directory", "info", "election", "aggregator elected",
		map[string]interface{}{"winner_id": winnerID, "winner_ip": agent.IP, "score": winnerScore})
	_ = wire.WriteFrame(conn, wire.KindElectAggregator, wire.ElectAggregatorReply{
		Elected: true, ID: winnerID, IP: agent.IP, Port: agent.Port, Score: winnerScore,
	}, 5*time.Second)
}

func (s *Server) handleUpdateAggregator(conn net.Conn, payload []byte) {
	var msg wire.UpdateAggregator
	if err := wire.DecodePayload(payload, &msg); err != nil {
		log.Printf("directory: malformed update_aggregator: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "malformed_update_aggregator"}, 5*time.Second)
		return
	}
	if err := s.store.UpdateCurrentAggregator(msg.ID, msg.IP, msg.Port); err != nil {
		log.Printf("directory: update_aggregator: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "store_error"}, 5*time.Second)
		return
	}
	_ = wire.WriteFrame(conn, wire.KindUpdateAggregator, wire.UpdateAggregatorReply{Updated: true}, 5*time.Second)
}

func (s *Server) handleClearAggregator(conn net.Conn) {
	if err := s.store.ClearCurrentAggregator(); err != nil {
		log.Printf("directory: clear_aggregator: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "store_error"}, 5*time.Second)
		return
	}
	_ = wire.WriteFrame(conn, wire.KindClearAggregator, wire.ClearAggregatorReply{Cleared: true}, 5*time.Second)
}

func (s *Server) handleGetAgentsCount(conn net.Conn) {
	n, err := s.store.AgentsCount()
	if err != nil {
		log.Printf("directory: get_agents_count: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "store_error"}, 5*time.Second)
		return
	}
	_ = wire.WriteFrame(conn, wire.KindGetAgentsCount, wire.GetAgentsCountReply{Count: n}, 5*time.Second)
}

func (s *Server) handleGetAllAgents(conn net.Conn) {
	agents, err := s.store.GetAllAgents()
	if err != nil {
		log.Printf("directory: get_all_agents: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "store_error"}, 5*time.Second)
		return
	}
	_ = wire.WriteFrame(conn, wire.KindGetAllAgents, wire.GetAllAgentsReply{Agents: agents}, 5*time.Second)
}

func (s *Server) handleInitBarrier(conn net.Conn, payload []byte) {
	var msg wire.InitBarrier
	if err := wire.DecodePayload(payload, &msg); err != nil {
		log.Printf("directory: malformed init_barrier: %v", err)
		return
	}
	if err := s.store.InitBarrier(msg.Round, msg.Threshold, msg.AggregatorID, msg.State); err != nil {
		log.Printf("directory: init_barrier: %v", err)
	}
	_ = wire.WriteFrame(conn, wire.KindAck, wire.Ack{}, 5*time.Second)
}

func (s *Server) handleUpdateBarrierState(conn net.Conn, payload []byte) {
	var msg wire.UpdateBarrierState
	if err := wire.DecodePayload(payload, &msg); err != nil {
		log.Printf("directory: malformed update_barrier_state: %v", err)
		return
	}
	if err := s.store.UpdateBarrierState(msg.State); err != nil {
		log.Printf("directory: update_barrier_state: %v", err)
	}
	_ = wire.WriteFrame(conn, wire.KindAck, wire.Ack{}, 5*time.Second)
}

func (s *Server) handleResetBarrier(conn net.Conn) {
	if err := s.store.ResetBarrier(); err != nil {
		log.Printf("directory: reset_barrier: %v", err)
	}
	_ = wire.WriteFrame(conn, wire.KindAck, wire.Ack{}, 5*time.Second)
}
