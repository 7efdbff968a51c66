package aggregator

import (
	"log"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fl-coordination/fabric/pkg/wire"
)

// ListenAndServe binds the registration and model-upload/poll listeners
// and blocks until either fails or Stop is called. Push-mode distribution
// (optional outbound leg) is driven from the round loop, not a listener,
// since it is the aggregator dialing agents rather than the reverse.
func (s *Server) ListenAndServe() error {
	regLn, err := net.Listen("tcp", net.JoinHostPort(s.cfg.AggrIP, itoa(s.cfg.RegSocket)))
	if err != nil {
		return err
	}
	recvLn, err := net.Listen("tcp", net.JoinHostPort(s.cfg.AggrIP, itoa(s.cfg.RecvSocket)))
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() { errCh <- wire.Serve(regLn, s.handleRegistration) }()
	go func() { errCh <- wire.Serve(recvLn, s.handleRecv) }()

	select {
	case err := <-errCh:
		return err
	case <-s.stop:
		regLn.Close()
		recvLn.Close()
		return nil
	}
}

func (s *Server) handleRegistration(conn net.Conn, kind wire.Kind, payload []byte) {
	if kind != wire.KindParticipate {
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "unexpected_msg_kind"}, 5*time.Second)
		return
	}
	var msg wire.Participate
	if err := wire.DecodePayload(payload, &msg); err != nil {
		log.Printf("aggregator: malformed participate: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "malformed_participate"}, 5*time.Second)
		return
	}

	s.mu.Lock()
	isFirst := s.round == 0 && len(s.agentSet) == 0
	if isFirst {
		s.initShape(msg.LocalModels)
		s.round = 1
	}
	s.agentSet = append(s.agentSet, AgentEntry{AgentID: msg.AgentID, IP: msg.AgentIP, ExchPort: msg.ExchSocket, JoinRound: s.round})
	modelID := ""
	if len(s.clusterModelIDs) > 0 {
		modelID = s.clusterModelIDs[len(s.clusterModelIDs)-1]
	}
	reply := wire.Welcome{
		AggregatorID:  s.id,
		ModelID:       modelID,
		ClusterModels: s.clusterModels,
		Round:         s.round,
		AgentID:       msg.AgentID,
		ExchSocket:    s.cfg.ExchSocket,
		RecvSocket:    s.cfg.RecvSocket,
		AggregatorIP:  s.cfg.AggrIP,
	}
	s.mu.Unlock()

	_ = wire.WriteFrame(conn, wire.KindWelcome, reply, 5*time.Second)
}

func (s *Server) handleRecv(conn net.Conn, kind wire.Kind, payload []byte) {
	switch kind {
	case wire.KindUpdate:
		s.handleUpdate(conn, payload)
	case wire.KindPolling:
		s.handlePolling(conn, payload)
	case wire.KindRecallUpload:
		s.handleRecallUpload(conn, payload)
	default:
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "unexpected_msg_kind"}, 5*time.Second)
	}
}

func (s *Server) handleUpdate(conn net.Conn, payload []byte) {
	var msg wire.Update
	if err := wire.DecodePayload(payload, &msg); err != nil {
		log.Printf("aggregator: malformed update: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "malformed_update"}, 5*time.Second)
		return
	}

	numSamples := int(msg.MetaData["num_samples"])

	s.mu.Lock()
	s.localModelsBuffer = append(s.localModelsBuffer, ClientUpdate{
		AgentID:    msg.AgentID,
		Weights:    s.flatten(msg.LocalModels),
		Timestamp:  clockNow(),
		Round:      s.round,
		NumSamples: numSamples,
	})
	s.bytesReceived += int64(len(payload))
	s.mu.Unlock()

	_ = s.dir.PushModel(wire.PushModel{
		ComponentID: msg.AgentID,
		Round:       s.round,
		ModelType:   wire.ModelTypeLocal,
		ModelID:     uuid.NewString(),
		GenTime:     msg.GeneTime,
		Meta:        msg.MetaData,
		Payload:     msg.LocalModels,
	})

	_ = wire.WriteFrame(conn, wire.KindAck, wire.Ack{}, 5*time.Second)
}

func (s *Server) handlePolling(conn net.Conn, payload []byte) {
	var msg wire.Polling
	if err := wire.DecodePayload(payload, &msg); err != nil {
		log.Printf("aggregator: malformed polling: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "malformed_polling"}, 5*time.Second)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Priority 1: termination.
	if s.pendingTerminationMsg != nil {
		_ = wire.WriteFrame(conn, wire.KindTermination, *s.pendingTerminationMsg, 5*time.Second)
		return
	}

	// Priority 2: rotation.
	if s.pendingRotationMsg != nil {
		_ = wire.WriteFrame(conn, wire.KindRotation, *s.pendingRotationMsg, 5*time.Second)
		s.rotationNotifiedAgents[msg.AgentID] = true
		if s.allAgentsNotified() {
			s.selfDemoteLocked()
		}
		return
	}

	// Priority 3: new cluster model.
	if s.round > msg.Round && len(s.clusterModelIDs) > 0 {
		_ = wire.WriteFrame(conn, wire.KindClusterModelDist, wire.ClusterModelDist{
			AggregatorID:  s.id,
			ModelID:       s.clusterModelIDs[len(s.clusterModelIDs)-1],
			Round:         s.round,
			ClusterModels: s.clusterModels,
		}, 5*time.Second)
		return
	}

	// Priority 4: ack, nothing new yet.
	_ = wire.WriteFrame(conn, wire.KindAck, wire.Ack{}, 5*time.Second)
}

func (s *Server) handleRecallUpload(conn net.Conn, payload []byte) {
	var msg wire.RecallUpload
	if err := wire.DecodePayload(payload, &msg); err != nil {
		log.Printf("aggregator: malformed recall_upload: %v", err)
		_ = wire.WriteFrame(conn, wire.KindErrorReply, wire.ErrorReply{Reason: "malformed_recall_upload"}, 5*time.Second)
		return
	}

	s.mu.Lock()
	s.currentRoundRecalls[msg.AgentID] = msg.RecallValue
	ready := len(s.currentRoundRecalls) >= len(s.agentSet) && len(s.agentSet) > 0
	var globalRecall float64
	if ready {
		sum := 0.0
		for _, v := range s.currentRoundRecalls {
			sum += v
		}
		globalRecall = sum / float64(len(s.currentRoundRecalls))
		s.applyRecallLocked(globalRecall)
		s.currentRoundRecalls = map[string]float64{}
	}
	s.mu.Unlock()

	_ = wire.WriteFrame(conn, wire.KindAck, wire.Ack{}, 5*time.Second)

	if ready {
		s.checkTerminationJudges()
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
