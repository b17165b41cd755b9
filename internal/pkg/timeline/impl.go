package timeline

import (
	"cmp"
	"maps"
	"slices"

	"github.com/vreid/cluehunt/internal/pkg/ledger"
)

type AttemptType string

const (
	AttemptRetry AttemptType = "retry"
	AttemptSolve AttemptType = "solve"
)

// Attempt timestamps are unix seconds; TimeTaken is seconds since the
// clue's reference point.
type Attempt struct {
	Type          AttemptType `json:"type"`
	AttemptCount  int64       `json:"attemptCount"`
	AttestationID string      `json:"attestationId"`
	Timestamp     int64       `json:"timestamp"`
	TimeTaken     int64       `json:"timeTaken"`
}

type Entry struct {
	ClueIndex uint64    `json:"clueIndex"`
	Attempts  []Attempt `json:"attempts"`
}

func seconds(millis int64) int64 {
	return millis / 1000
}

// huntStart returns the earliest hunt-start timestamp in seconds.
func huntStart(starts []ledger.RetryAttestation) (int64, bool) {
	if len(starts) == 0 {
		return 0, false
	}

	earliest := slices.MinFunc(starts, func(a, b ledger.RetryAttestation) int {
		return cmp.Compare(a.AttestTimestamp, b.AttestTimestamp)
	})

	return seconds(earliest.AttestTimestamp), true
}

// Reconstruct rebuilds one team's per-clue attempt history. solves must
// belong to a single team. A team without any solve yields no entries.
func Reconstruct(
	solves []ledger.SolveAttestation,
	solvedClues []uint64,
	retriesByClue map[uint64][]ledger.RetryAttestation,
	huntStarts []ledger.RetryAttestation,
) []Entry {
	if len(solves) == 0 {
		return []Entry{}
	}

	byClue := map[uint64]ledger.SolveAttestation{}
	for _, solve := range ledger.DedupeSolves(solves) {
		byClue[solve.ClueIndex] = solve
	}

	clues := slices.Collect(maps.Keys(retriesByClue))
	clues = append(clues, solvedClues...)
	slices.Sort(clues)
	clues = slices.Compact(clues)

	start, hasStart := huntStart(huntStarts)

	result := make([]Entry, 0, len(clues))

	for _, clue := range clues {
		if clue == ledger.HuntStartClue {
			continue
		}

		reference, hasReference := start, hasStart
		if clue > 1 {
			previous, ok := byClue[clue-1]
			reference, hasReference = seconds(previous.AttestTimestamp), ok
		}

		attempts := make([]Attempt, 0, len(retriesByClue[clue])+1)

		for _, retry := range retriesByClue[clue] {
			timestamp := seconds(retry.AttestTimestamp)

			var timeTaken int64
			if hasReference {
				timeTaken = max(0, timestamp-reference)
			}

			attempts = append(attempts, Attempt{
				Type:          AttemptRetry,
				AttemptCount:  retry.AttemptCount,
				AttestationID: retry.AttestationID,
				Timestamp:     timestamp,
				TimeTaken:     timeTaken,
			})
		}

		if solve, ok := byClue[clue]; ok && slices.Contains(solvedClues, clue) {
			attempts = append(attempts, Attempt{
				Type:          AttemptSolve,
				AttemptCount:  solve.AttemptCount,
				AttestationID: solve.AttestationID,
				Timestamp:     seconds(solve.AttestTimestamp),
				TimeTaken:     solve.TimeTaken,
			})
		}

		if len(attempts) == 0 {
			continue
		}

		slices.SortStableFunc(attempts, func(a, b Attempt) int {
			return cmp.Compare(a.Timestamp, b.Timestamp)
		})

		result = append(result, Entry{ClueIndex: clue, Attempts: attempts})
	}

	return result
}

// TeamSolves filters a hunt's solves down to one team and returns them with
// the team's sorted solved clue indices.
func TeamSolves(solves []ledger.SolveAttestation, team string) ([]ledger.SolveAttestation, []uint64) {
	team = ledger.NormalizeTeam(team)

	result := make([]ledger.SolveAttestation, 0)
	for _, solve := range solves {
		if ledger.NormalizeTeam(solve.TeamIdentifier) == team {
			result = append(result, solve)
		}
	}

	result = ledger.DedupeSolves(result)

	clues := make([]uint64, 0, len(result))
	for _, solve := range result {
		clues = append(clues, solve.ClueIndex)
	}

	slices.Sort(clues)

	return result, clues
}

func ForTeam(
	solves []ledger.SolveAttestation,
	retriesByClue map[uint64][]ledger.RetryAttestation,
	huntStarts []ledger.RetryAttestation,
	team string,
) []Entry {
	teamSolves, solvedClues := TeamSolves(solves, team)

	return Reconstruct(teamSolves, solvedClues, retriesByClue, huntStarts)
}
