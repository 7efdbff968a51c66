package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCSVSinkWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rounds.csv")
	sink := NewCSVSink(path)

	for round := 1; round <= 3; round++ {
		if err := sink.Write(Row{
			Round:                round,
			AgentCount:           3,
			ModelID:              "model-x",
			GlobalRecall:         0.8 + float64(round)*0.01,
			BestGlobalRecall:     0.8 + float64(round)*0.01,
			RoundsWithoutImprove: round - 1,
			AggregationDuration:  150 * time.Millisecond,
			BytesSent:            4096,
			BytesReceived:        12288,
			Timestamp:            time.Unix(1700000000, 0),
		}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4 (1 header + 3 rows): %q", len(lines), lines)
	}
	wantHeader := "round,agent_count,model_id,global_recall,best_global_recall,rounds_without_improve,aggregation_duration_ms,bytes_sent,bytes_received,timestamp"
	if lines[0] != wantHeader {
		t.Errorf("header = %q, want %q", lines[0], wantHeader)
	}
	if !strings.Contains(lines[1], ",150,4096,12288,") {
		t.Errorf("row 1 = %q, want aggregation_duration_ms=150, bytes_sent=4096, bytes_received=12288", lines[1])
	}
}
