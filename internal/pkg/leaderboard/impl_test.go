package leaderboard_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/cluehunt/internal/pkg/leaderboard"
	"github.com/vreid/cluehunt/internal/pkg/ledger"
	"pgregory.net/rapid"
)

func solve(team string, clue uint64, timeTaken, attempts int64) ledger.SolveAttestation {
	return ledger.SolveAttestation{
		TeamIdentifier:    team,
		ClueIndex:         clue,
		TeamLeaderAddress: team + "-leader",
		SolverAddress:     fmt.Sprintf("%s-solver-%d", team, clue%2),
		TimeTaken:         timeTaken,
		AttemptCount:      attempts,
		AttestTimestamp:   int64(clue) * 1000,
	}
}

func teams(entries []leaderboard.Entry) []string {
	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		result = append(result, entry.TeamIdentifier)
	}

	return result
}

func TestRankOrdering(t *testing.T) {
	t.Parallel()

	solves := []ledger.SolveAttestation{
		solve("slow", 1, 200, 3),
		solve("slow", 2, 220, 2),
		solve("one", 1, 90, 1),
		solve("three", 1, 300, 1),
		solve("fast", 1, 100, 1),
		solve("three", 2, 300, 1),
		solve("fast", 2, 170, 1),
		solve("three", 3, 300, 1),
		solve("mid", 1, 150, 1),
		solve("mid", 2, 150, 2),
	}

	entries := leaderboard.Rank(solves)
	require.Len(t, entries, 5)

	assert.Equal(t, []string{"three", "fast", "mid", "slow", "one"}, teams(entries))

	fast := entries[1]
	assert.Equal(t, int64(270), fast.TotalTime)
	assert.Equal(t, int64(2), fast.TotalAttempts)
	assert.Equal(t, int64(270), fast.CombinedScore)

	mid := entries[2]
	assert.Equal(t, int64(305), mid.CombinedScore)

	slow := entries[3]
	assert.Equal(t, int64(420), slow.TotalTime)
	assert.Equal(t, int64(5), slow.TotalAttempts)
	assert.Equal(t, int64(435), slow.CombinedScore)
	assert.Equal(t, []string{"slow-solver-1", "slow-solver-0"}, slow.Solvers)
	assert.Equal(t, 2, slow.SolverCount)

	one := entries[4]
	assert.Equal(t, int64(90), one.TotalTime)
	assert.Equal(t, 1, one.CluesCompleted)
	assert.Equal(t, "one-leader", one.TeamLeaderAddress)

	for idx, entry := range entries {
		assert.Equal(t, idx+1, entry.Rank)
	}
}

func TestRankEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, leaderboard.Rank(nil))
}

func TestRankTiesKeepEncounterOrder(t *testing.T) {
	t.Parallel()

	entries := leaderboard.Rank([]ledger.SolveAttestation{
		solve("b", 1, 100, 1),
		solve("a", 1, 100, 1),
		solve("c", 1, 100, 1),
	})

	assert.Equal(t, []string{"b", "a", "c"}, teams(entries))
	assert.Equal(t, []int{1, 2, 3}, []int{entries[0].Rank, entries[1].Rank, entries[2].Rank})
}

func TestRankDuplicatesAndClamp(t *testing.T) {
	t.Parallel()

	backdated := solve("dup", 1, 1, 1)
	backdated.AttestTimestamp = 1

	zeroAttempts := solve("dup", 2, 50, 0)

	entries := leaderboard.Rank([]ledger.SolveAttestation{solve("dup", 1, 60, 1), backdated, zeroAttempts})
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, 2, entry.CluesCompleted)
	assert.Equal(t, int64(110), entry.TotalTime)
	assert.Equal(t, int64(1), entry.TotalAttempts)
	assert.Equal(t, int64(0), entry.Retries())
	assert.Equal(t, int64(110), entry.CombinedScore)
}

func TestRankProperties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(0, 40).Draw(t, "count")

		solves := make([]ledger.SolveAttestation, 0, count)
		for range count {
			solves = append(solves, solve(
				rapid.SampledFrom([]string{"a", "b", "c", "d", "e", "f"}).Draw(t, "team"),
				rapid.Uint64Range(1, 5).Draw(t, "clue"),
				rapid.Int64Range(0, 3600).Draw(t, "time"),
				rapid.Int64Range(0, 10).Draw(t, "attempts"),
			))
		}

		entries := leaderboard.Rank(solves)

		for idx, entry := range entries {
			if entry.Rank != idx+1 {
				t.Fatalf("rank %d at position %d", entry.Rank, idx)
			}

			if entry.CombinedScore != entry.TotalTime+leaderboard.RetryPenalty*entry.Retries() {
				t.Fatalf("combined score mismatch for %s", entry.TeamIdentifier)
			}

			if idx == 0 {
				continue
			}

			prev := entries[idx-1]
			if prev.CluesCompleted < entry.CluesCompleted ||
				(prev.CluesCompleted == entry.CluesCompleted && prev.CombinedScore > entry.CombinedScore) {
				t.Fatalf("entries %d and %d out of order", idx-1, idx)
			}
		}
	})
}
