// Package election implements the single tie-break rule used by both the
// directory's elect_aggregator handler and the aggregator's local rotation
// scoring: argmax by (score, agent_id) lexicographic.
package election

// Winner returns the agent_id with the highest score, breaking ties in
// favor of the lexicographically larger agent_id. Every caller that is
// handed the same scores map computes the same winner (spec invariant:
// election determinism).
//
// Returns "" if scores is empty.
func Winner(scores map[string]int) string {
	winner := ""
	winnerScore := 0
	first := true
	for id, score := range scores {
		if first || score > winnerScore || (score == winnerScore && id > winner) {
			winner = id
			winnerScore = score
			first = false
		}
	}
	return winner
}

// WinnerScore is a convenience wrapper returning both the winning id and
// its score; ok is false when scores is empty.
func WinnerScore(scores map[string]int) (id string, score int, ok bool) {
	if len(scores) == 0 {
		return "", 0, false
	}
	id = Winner(scores)
	return id, scores[id], true
}
