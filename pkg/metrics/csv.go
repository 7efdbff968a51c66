// Package metrics provides the aggregator's per-round metrics sink, an
// external collaborator per spec §1 ("CSV metrics sinks" is explicitly
// out of the coordination core's scope but still needs a concrete default
// so the round loop has somewhere to write).
package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// Row is one round's worth of aggregator metrics, field names lifted
// from the log_round call sites of the aggregator's round loop, extended
// with the original's round_bytes_sent/round_bytes_received/
// aggregation-duration/plateau-streak bookkeeping (AggregatorMetricsLogger
// in original_source).
type Row struct {
	Round                int
	AgentCount           int
	ModelID              string
	GlobalRecall         float64
	BestGlobalRecall     float64
	RoundsWithoutImprove int
	AggregationDuration  time.Duration
	BytesSent            int64
	BytesReceived        int64
	Timestamp            time.Time
}

// CSVSink appends Row values to a CSV file, creating it with a header on
// first write. Grounded on stdlib encoding/csv; no third-party CSV/metrics
// library appears anywhere in the example pack, so this one concern stays
// on the standard library (see DESIGN.md).
type CSVSink struct {
	mu   sync.Mutex
	path string
}

func NewCSVSink(path string) *CSVSink {
	return &CSVSink{path: path}
}

func (s *CSVSink) Write(row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, statErr := os.Stat(s.path)
	needsHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("metrics: open sink: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if needsHeader {
		if err := w.Write([]string{
			"round", "agent_count", "model_id", "global_recall", "best_global_recall",
			"rounds_without_improve", "aggregation_duration_ms", "bytes_sent", "bytes_received",
			"timestamp",
		}); err != nil {
			return fmt.Errorf("metrics: write header: %w", err)
		}
	}

	record := []string{
		strconv.Itoa(row.Round),
		strconv.Itoa(row.AgentCount),
		row.ModelID,
		strconv.FormatFloat(row.GlobalRecall, 'f', 6, 64),
		strconv.FormatFloat(row.BestGlobalRecall, 'f', 6, 64),
		strconv.Itoa(row.RoundsWithoutImprove),
		strconv.FormatInt(row.AggregationDuration.Milliseconds(), 10),
		strconv.FormatInt(row.BytesSent, 10),
		strconv.FormatInt(row.BytesReceived, 10),
		row.Timestamp.UTC().Format(time.RFC3339),
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("metrics: write row: %w", err)
	}
	return nil
}
