package dashboard

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
)

// APIServer exposes the dashboard's HTTP surface: agent/round/event
// read endpoints, write endpoints for the components that report into
// it, a websocket event feed, and one bearer-token-gated sweep trigger.
type APIServer struct {
	storage Storage
	cfg     Config
	auth    *AuthManager
	router  *mux.Router

	upgrader websocket.Upgrader

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

// NewAPIServer wires the route tree. auth may be nil only when
// cfg.Auth.Enabled is false.
func NewAPIServer(storage Storage, cfg Config, auth *AuthManager) *APIServer {
	s := &APIServer{
		storage: storage,
		cfg:     cfg,
		auth:    auth,
		router:  mux.NewRouter(),
		subs:    make(map[chan Event]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if !cfg.Production {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.setupRoutes()
	return s
}

// ListenAndServe starts the HTTP server behind a permissive-by-default,
// origin-restricted-in-production CORS wrapper.
func (s *APIServer) ListenAndServe() error {
	allowedOrigins := []string{"*"}
	if s.cfg.Production {
		allowedOrigins = s.cfg.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	addr := fmt.Sprintf(":%d", s.cfg.APIPort)
	log.Printf("dashboard: listening on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *APIServer) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	api.HandleFunc("/agents", s.handleListAgents).Methods("GET")
	api.HandleFunc("/agents", s.handleUpsertAgent).Methods("POST")

	api.HandleFunc("/rounds", s.handleListRounds).Methods("GET")
	api.HandleFunc("/rounds", s.handleRecordRound).Methods("POST")

	api.HandleFunc("/round-metrics", s.handleListRoundMetrics).Methods("GET")
	api.HandleFunc("/round-metrics", s.handleRecordRoundMetrics).Methods("POST")

	api.HandleFunc("/events", s.handleListEvents).Methods("GET")
	api.HandleFunc("/events", s.handleRecordEvent).Methods("POST")

	api.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	sweepHandler := s.handleSweep
	if s.auth != nil {
		api.HandleFunc("/sweep", s.auth.RequireAuth(sweepHandler)).Methods("POST")
	} else {
		api.HandleFunc("/sweep", sweepHandler).Methods("POST")
	}
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, map[string]interface{}{"status": "healthy", "timestamp": time.Now()})
}

func (s *APIServer) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.storage.ListAgents()
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to list agents", err)
		return
	}
	s.sendSuccess(w, agents)
}

func (s *APIServer) handleUpsertAgent(w http.ResponseWriter, r *http.Request) {
	var agent AgentStatus
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	agent.LastSeen = time.Now()

	if err := s.storage.UpsertAgent(agent); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to upsert agent", err)
		return
	}
	s.sendSuccess(w, agent)
}

func (s *APIServer) handleListRounds(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	rounds, err := s.storage.ListRounds(limit)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to list rounds", err)
		return
	}
	s.sendSuccess(w, rounds)
}

func (s *APIServer) handleRecordRound(w http.ResponseWriter, r *http.Request) {
	var round RoundSummary
	if err := json.NewDecoder(r.Body).Decode(&round); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := s.storage.RecordRound(round); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to record round", err)
		return
	}
	s.sendSuccess(w, round)
}

func (s *APIServer) handleListRoundMetrics(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	metrics, err := s.storage.ListRoundMetrics(limit)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to list round metrics", err)
		return
	}
	s.sendSuccess(w, metrics)
}

func (s *APIServer) handleRecordRoundMetrics(w http.ResponseWriter, r *http.Request) {
	var m RoundMetrics
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := s.storage.RecordRoundMetrics(m); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to record round metrics", err)
		return
	}
	s.sendSuccess(w, m)
}

func (s *APIServer) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := 100, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	events, err := s.storage.ListEvents(limit, offset)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to list events", err)
		return
	}
	s.sendSuccess(w, events)
}

func (s *APIServer) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var event Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := s.storage.RecordEvent(event); err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to record event", err)
		return
	}
	s.broadcast(event)
	s.sendSuccess(w, event)
}

func (s *APIServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	maxAge := 7 * 24 * time.Hour
	if v := r.URL.Query().Get("max_age"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			maxAge = d
		}
	}

	if err := s.storage.Cleanup(maxAge); err != nil {
		s.sendError(w, http.StatusInternalServerError, "sweep failed", err)
		return
	}
	s.sendSuccess(w, map[string]interface{}{"swept_older_than": maxAge.String()})
}

func (s *APIServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("dashboard: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan Event, 32)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	defer func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
		close(ch)
	}()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for event := range ch {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

func (s *APIServer) broadcast(event Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for ch := range s.subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber: drop rather than block the reporting path.
		}
	}
}

func (s *APIServer) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (s *APIServer) sendError(w http.ResponseWriter, statusCode int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	msg := message
	if err != nil {
		msg = fmt.Sprintf("%s: %v", message, err)
	}
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: msg})
}
