package dashboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fl-coordination/fabric/pkg/federation"
)

// Reporter posts agent/round/event updates to a dashboard's HTTP API.
// pkg/aggregator and pkg/directory hold one each, built from their
// federation.MonitoringConfig, and no-op every call when reporting is
// disabled so callers never need to check cfg.Enabled themselves.
type Reporter struct {
	baseURL string
	enabled bool
	events  bool
	client  *http.Client
}

// NewReporter builds a Reporter from a component's monitoring config.
func NewReporter(cfg federation.MonitoringConfig) *Reporter {
	return &Reporter{
		baseURL: cfg.DashboardURL,
		enabled: cfg.Enabled && cfg.DashboardURL != "",
		events:  cfg.EnableRealTimeEvents,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *Reporter) post(path string, body interface{}) {
	if r == nil || !r.enabled {
		return
	}
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	resp, err := r.client.Post(r.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return
	}
	resp.Body.Close()
}

// ReportAgent posts an agent's current status.
func (r *Reporter) ReportAgent(status AgentStatus) { r.post("/api/v1/agents", status) }

// ReportRound posts a round's outcome.
func (r *Reporter) ReportRound(round RoundSummary) { r.post("/api/v1/rounds", round) }

// ReportRoundMetrics posts a round's byte-accounting and timing detail,
// kept as its own endpoint so a dashboard can poll it independently of
// ReportRound's lighter-weight summary.
func (r *Reporter) ReportRoundMetrics(m RoundMetrics) { r.post("/api/v1/round-metrics", m) }

// ReportEvent posts a single event, skipped entirely when real-time
// event reporting is disabled even if the reporter itself is enabled.
func (r *Reporter) ReportEvent(source, level, eventType, message string, data map[string]interface{}) {
	if r == nil || !r.events {
		return
	}
	r.post("/api/v1/events", Event{
		ID:        fmt.Sprintf("%s-%d", source, time.Now().UnixNano()),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Level:     level,
		Message:   message,
		Data:      data,
	})
}
