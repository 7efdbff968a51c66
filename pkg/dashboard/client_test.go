package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/fl-coordination/fabric/pkg/federation"
)

func TestReporterSkipsWhenDisabled(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	r := NewReporter(federation.MonitoringConfig{Enabled: false, DashboardURL: srv.URL})
	r.ReportAgent(AgentStatus{ID: "agent-1"})
	r.ReportRound(RoundSummary{RoundNumber: 1})

	if hits != 0 {
		t.Errorf("expected no requests when monitoring disabled, got %d", hits)
	}
}

func TestReporterSkipsWhenNoDashboardURL(t *testing.T) {
	r := NewReporter(federation.MonitoringConfig{Enabled: true, DashboardURL: ""})
	if r.enabled {
		t.Error("expected reporter to be disabled when no dashboard URL is configured")
	}
}

func TestReporterPostsAgentAndRound(t *testing.T) {
	var mu sync.Mutex
	var paths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewReporter(federation.MonitoringConfig{Enabled: true, DashboardURL: srv.URL, EnableRealTimeEvents: true})
	r.ReportAgent(AgentStatus{ID: "agent-1", State: AgentTraining})
	r.ReportRound(RoundSummary{RoundNumber: 1, Status: "distributed"})
	r.ReportRoundMetrics(RoundMetrics{RoundNumber: 1, BytesSent: 2048, BytesReceived: 6144})
	r.ReportEvent("aggregator", "info", "rotation", "rotation notice published", nil)

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 4 {
		t.Fatalf("expected 4 requests, got %d: %v", len(paths), paths)
	}
	want := map[string]bool{"/api/v1/agents": true, "/api/v1/rounds": true, "/api/v1/round-metrics": true, "/api/v1/events": true}
	for _, p := range paths {
		if !want[p] {
			t.Errorf("unexpected request path %s", p)
		}
	}
}

func TestReporterSkipsEventsWhenRealTimeDisabled(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	r := NewReporter(federation.MonitoringConfig{Enabled: true, DashboardURL: srv.URL, EnableRealTimeEvents: false})
	r.ReportEvent("aggregator", "info", "rotation", "rotation notice published", nil)

	if hits != 0 {
		t.Errorf("expected event reporting to be skipped, got %d requests", hits)
	}
}

func TestReporterNilReceiverIsSafe(t *testing.T) {
	var r *Reporter
	r.ReportAgent(AgentStatus{ID: "agent-1"})
	r.ReportRound(RoundSummary{RoundNumber: 1})
	r.ReportRoundMetrics(RoundMetrics{RoundNumber: 1})
	r.ReportEvent("directory", "info", "election", "aggregator elected", nil)
}
