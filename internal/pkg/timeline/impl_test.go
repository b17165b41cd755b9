package timeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/cluehunt/internal/pkg/ledger"
	"github.com/vreid/cluehunt/internal/pkg/timeline"
)

const (
	team  = "team-a"
	start = int64(1_700_000_000_000)
)

func huntStarts() []ledger.RetryAttestation {
	return []ledger.RetryAttestation{
		{TeamIdentifier: team, ClueIndex: ledger.HuntStartClue, AttestTimestamp: start + 5_000, AttestationID: "start-2"},
		{TeamIdentifier: team, ClueIndex: ledger.HuntStartClue, AttestTimestamp: start, AttestationID: "start-1"},
	}
}

func TestTimelineWithRetries(t *testing.T) {
	t.Parallel()

	solves := []ledger.SolveAttestation{
		{TeamIdentifier: team, ClueIndex: 2, TimeTaken: 77, AttemptCount: 2, AttestTimestamp: start + 900_000, AttestationID: "s2"},
		{TeamIdentifier: team, ClueIndex: 1, TimeTaken: 400, AttemptCount: 2, AttestTimestamp: start + 400_000, AttestationID: "s1"},
		{TeamIdentifier: "team-b", ClueIndex: 1, TimeTaken: 10, AttestTimestamp: start + 10_000, AttestationID: "other"},
	}

	retries := map[uint64][]ledger.RetryAttestation{
		1: {{TeamIdentifier: team, ClueIndex: 1, AttemptCount: 1, AttestTimestamp: start + 300_000, AttestationID: "r1"}},
		2: {
			{TeamIdentifier: team, ClueIndex: 2, AttemptCount: 1, AttestTimestamp: start + 700_500, AttestationID: "r2"},
		},
	}

	entries := timeline.ForTeam(solves, retries, huntStarts(), team)
	require.Len(t, entries, 2)

	assert.Equal(t, uint64(1), entries[0].ClueIndex)
	assert.Equal(t, []timeline.Attempt{
		{Type: timeline.AttemptRetry, AttemptCount: 1, AttestationID: "r1", Timestamp: 1_700_000_300, TimeTaken: 300},
		{Type: timeline.AttemptSolve, AttemptCount: 2, AttestationID: "s1", Timestamp: 1_700_000_400, TimeTaken: 400},
	}, entries[0].Attempts)

	assert.Equal(t, uint64(2), entries[1].ClueIndex)
	assert.Equal(t, []timeline.Attempt{
		{Type: timeline.AttemptRetry, AttemptCount: 1, AttestationID: "r2", Timestamp: 1_700_000_700, TimeTaken: 300},
		{Type: timeline.AttemptSolve, AttemptCount: 2, AttestationID: "s2", Timestamp: 1_700_000_900, TimeTaken: 77},
	}, entries[1].Attempts)
}

func TestTimelineWithoutRetries(t *testing.T) {
	t.Parallel()

	solves := []ledger.SolveAttestation{
		{TeamIdentifier: team, ClueIndex: 1, TimeTaken: 60, AttemptCount: 1, AttestTimestamp: start + 60_000},
		{TeamIdentifier: team, ClueIndex: 2, TimeTaken: 90, AttemptCount: 1, AttestTimestamp: start + 150_000},
	}

	entries := timeline.ForTeam(solves, nil, huntStarts(), team)
	require.Len(t, entries, 2)

	for _, entry := range entries {
		require.Len(t, entry.Attempts, 1)
		assert.Equal(t, timeline.AttemptSolve, entry.Attempts[0].Type)
	}
}

func TestTimelineZeroSolves(t *testing.T) {
	t.Parallel()

	retries := map[uint64][]ledger.RetryAttestation{
		1: {{TeamIdentifier: team, ClueIndex: 1, AttestTimestamp: start + 1_000}},
	}

	assert.Empty(t, timeline.ForTeam(nil, retries, huntStarts(), team))
	assert.Empty(t, timeline.Reconstruct(nil, nil, retries, huntStarts()))
}

func TestTimelineUnknownReference(t *testing.T) {
	t.Parallel()

	solves := []ledger.SolveAttestation{
		{TeamIdentifier: team, ClueIndex: 1, TimeTaken: 60, AttestTimestamp: start + 60_000},
	}

	retries := map[uint64][]ledger.RetryAttestation{
		1: {{TeamIdentifier: team, ClueIndex: 1, AttestTimestamp: start + 30_000, AttestationID: "early"}},
		3: {{TeamIdentifier: team, ClueIndex: 3, AttestTimestamp: start + 90_000, AttestationID: "orphan"}},
	}

	entries := timeline.ForTeam(solves, retries, nil, team)
	require.Len(t, entries, 2)

	// No hunt start and no clue 2 solve: retries report zero elapsed time.
	assert.Equal(t, int64(0), entries[0].Attempts[0].TimeTaken)
	assert.Equal(t, uint64(3), entries[1].ClueIndex)
	assert.Equal(t, int64(0), entries[1].Attempts[0].TimeTaken)
}
