package election

import "testing"

func TestWinner(t *testing.T) {
	tests := []struct {
		name   string
		scores map[string]int
		want   string
	}{
		{
			name:   "simple majority",
			scores: map[string]int{"A": 40, "B": 70, "C": 55},
			want:   "B",
		},
		{
			name:   "tie broken by larger id",
			scores: map[string]int{"A": 80, "C": 80},
			want:   "C",
		},
		{
			name:   "empty scores",
			scores: map[string]int{},
			want:   "",
		},
		{
			name:   "single candidate",
			scores: map[string]int{"only": 1},
			want:   "only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Winner(tt.scores); got != tt.want {
				t.Errorf("Winner(%v) = %v, want %v", tt.scores, got, tt.want)
			}
		})
	}
}

func TestWinnerScore(t *testing.T) {
	id, score, ok := WinnerScore(map[string]int{"A": 40, "B": 70})
	if !ok || id != "B" || score != 70 {
		t.Errorf("WinnerScore() = (%v, %v, %v), want (B, 70, true)", id, score, ok)
	}

	if _, _, ok := WinnerScore(nil); ok {
		t.Errorf("WinnerScore(nil) ok = true, want false")
	}
}
