package ledger_test

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/cluehunt/internal/pkg/ledger"
)

const leader = "0xAbCdEf0000000000000000000000000000000001"

func TestIndexKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "cluehunt-hunt-7", ledger.HuntIndexKey("cluehunt", 7))
	assert.Equal(t,
		"cluehunt-hunt-7-clue-0-team-0xabcdef0000000000000000000000000000000001",
		ledger.TeamClueIndexKey("cluehunt", 7, ledger.HuntStartClue, leader))
	assert.Equal(t, "ns-hunt-1-clue-2-team-red-foxes", ledger.TeamClueIndexKey("ns", 1, 2, " red-foxes "))
}

func TestDedupeSolves(t *testing.T) {
	t.Parallel()

	solves := []ledger.SolveAttestation{
		{TeamIdentifier: "a", ClueIndex: 1, AttestTimestamp: 5000, AttestationID: "a1-first"},
		{TeamIdentifier: "b", ClueIndex: 1, AttestTimestamp: 2000, AttestationID: "b1"},
		{TeamIdentifier: "a", ClueIndex: 1, AttestTimestamp: 1, AttestationID: "a1-backdated"},
		{TeamIdentifier: "A", ClueIndex: 1, AttestTimestamp: 5000, AttestationID: "a1-repeat"},
		{TeamIdentifier: "a", ClueIndex: 2, AttestTimestamp: 6000, AttestationID: "a2"},
	}

	deduped := ledger.DedupeSolves(solves)

	ids := make([]string, 0, len(deduped))
	for _, solve := range deduped {
		ids = append(ids, solve.AttestationID)
	}

	assert.Equal(t, []string{"a1-first", "b1", "a2"}, ids)
	assert.Empty(t, ledger.DedupeSolves(nil))
}

func exerciseLedger(t *testing.T, l ledger.Ledger) {
	t.Helper()

	ctx := t.Context()
	huntID := uint64(uuid.New().ID())

	require.ErrorIs(t, l.AppendSolve(ctx, ledger.SolveAttestation{TeamIdentifier: "x", HuntID: huntID}),
		ledger.ErrInvalidAttestation)
	require.ErrorIs(t, l.AppendRetry(ctx, ledger.RetryAttestation{HuntID: huntID}),
		ledger.ErrInvalidAttestation)

	require.NoError(t, l.AppendSolve(ctx, ledger.SolveAttestation{
		TeamIdentifier:    leader,
		HuntID:            huntID,
		ClueIndex:         1,
		TeamLeaderAddress: leader,
		SolverAddress:     leader,
		TimeTaken:         120,
		AttemptCount:      2,
		AttestTimestamp:   1_700_000_120_000,
	}))
	require.NoError(t, l.AppendSolve(ctx, ledger.SolveAttestation{
		TeamIdentifier: "other", HuntID: huntID, ClueIndex: 1, AttestationID: "fixed",
	}))
	require.NoError(t, l.AppendRetry(ctx, ledger.RetryAttestation{
		TeamIdentifier:  leader,
		HuntID:          huntID,
		ClueIndex:       ledger.HuntStartClue,
		AttestTimestamp: 1_700_000_000_000,
	}))

	solves, err := l.Solves(ctx, huntID)
	require.NoError(t, err)
	require.Len(t, solves, 2)

	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", solves[0].TeamIdentifier)
	assert.Equal(t, int64(120), solves[0].TimeTaken)
	assert.NotEmpty(t, solves[0].AttestationID)
	assert.Equal(t, "fixed", solves[1].AttestationID)

	starts, err := l.Retries(ctx, huntID, ledger.HuntStartClue, leader)
	require.NoError(t, err)
	require.Len(t, starts, 1)
	assert.Equal(t, int64(1_700_000_000_000), starts[0].AttestTimestamp)

	none, err := l.Retries(ctx, huntID, 1, leader)
	require.NoError(t, err)
	assert.Empty(t, none)

	empty, err := l.Solves(ctx, huntID+1)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryLedger(t *testing.T) {
	t.Parallel()

	exerciseLedger(t, ledger.NewMemoryLedger(""))
}

func TestValkeyLedger(t *testing.T) {
	t.Parallel()

	addr := os.Getenv("HUNT_TEST_VALKEY_ADDR")
	if len(addr) == 0 {
		t.Skip("HUNT_TEST_VALKEY_ADDR is not set")
	}

	l, err := ledger.NewValkeyLedger(addr, "cluehunt-test")
	require.NoError(t, err)

	t.Cleanup(l.Shutdown)

	exerciseLedger(t, l)
}
