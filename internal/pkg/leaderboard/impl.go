package leaderboard

import (
	"cmp"
	"slices"

	"github.com/vreid/cluehunt/internal/pkg/ledger"
)

// RetryPenalty is the number of seconds each extra attempt adds to a
// team's combined score.
const RetryPenalty = 5

type ClueProgress struct {
	ClueIndex     uint64 `json:"clueIndex"`
	TimeTaken     int64  `json:"timeTaken"`
	AttemptCount  int64  `json:"attemptCount"`
	SolverAddress string `json:"solverAddress"`
}

type Entry struct {
	Rank              int            `json:"rank"`
	TeamIdentifier    string         `json:"teamIdentifier"`
	TeamLeaderAddress string         `json:"teamLeaderAddress"`
	TotalTime         int64          `json:"totalTime"`
	TotalAttempts     int64          `json:"totalAttempts"`
	CluesCompleted    int            `json:"cluesCompleted"`
	Solvers           []string       `json:"solvers"`
	SolverCount       int            `json:"solverCount"`
	CombinedScore     int64          `json:"combinedScore"`
	Clues             []ClueProgress `json:"clues"`
}

// Retries never goes below zero even if a solve was recorded without an
// attempt.
func (e Entry) Retries() int64 {
	return max(0, e.TotalAttempts-int64(e.CluesCompleted))
}

// Rank builds the hunt leaderboard from every solve attestation of a hunt.
// Teams with more solved clues come first, then lower combined score;
// exact ties keep the order in which teams first appear.
func Rank(solves []ledger.SolveAttestation) []Entry {
	solves = ledger.DedupeSolves(solves)

	positions := map[string]int{}
	entries := make([]Entry, 0)

	for _, solve := range solves {
		team := ledger.NormalizeTeam(solve.TeamIdentifier)

		pos, ok := positions[team]
		if !ok {
			pos = len(entries)
			positions[team] = pos

			entries = append(entries, Entry{
				TeamIdentifier:    team,
				TeamLeaderAddress: solve.TeamLeaderAddress,
				Solvers:           []string{},
				Clues:             []ClueProgress{},
			})
		}

		entry := &entries[pos]

		entry.Clues = append(entry.Clues, ClueProgress{
			ClueIndex:     solve.ClueIndex,
			TimeTaken:     solve.TimeTaken,
			AttemptCount:  solve.AttemptCount,
			SolverAddress: solve.SolverAddress,
		})
		entry.TotalAttempts += solve.AttemptCount
		entry.TotalTime += solve.TimeTaken

		solver := ledger.NormalizeTeam(solve.SolverAddress)
		if len(solver) > 0 && !slices.Contains(entry.Solvers, solver) {
			entry.Solvers = append(entry.Solvers, solver)
		}
	}

	for idx := range entries {
		entry := &entries[idx]

		entry.CluesCompleted = len(entry.Clues)
		entry.SolverCount = len(entry.Solvers)
		entry.CombinedScore = entry.TotalTime + RetryPenalty*entry.Retries()
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		return cmp.Or(
			cmp.Compare(b.CluesCompleted, a.CluesCompleted),
			cmp.Compare(a.CombinedScore, b.CombinedScore),
		)
	})

	for idx := range entries {
		entries[idx].Rank = idx + 1
	}

	return entries
}
