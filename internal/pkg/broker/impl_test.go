package broker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/cluehunt/internal/pkg/broker"
	"github.com/vreid/cluehunt/internal/pkg/encryption"
	"github.com/vreid/cluehunt/internal/pkg/node/nodetest"
	"github.com/vreid/cluehunt/internal/pkg/threshold"
	"github.com/vreid/cluehunt/internal/pkg/verifier"
)

type fakeExecutor struct {
	calls     atomic.Int32
	connected atomic.Bool

	// failures is how many calls fail with err before succeeding.
	failures int32
	err      error
	verdict  bool
	sessions []*threshold.SessionSig
}

func (f *fakeExecutor) Connected() bool {
	return f.connected.Load()
}

func (f *fakeExecutor) Connect(context.Context) error {
	f.connected.Store(true)

	return nil
}

func (f *fakeExecutor) Execute(
	_ context.Context,
	session *threshold.SessionSig,
	_ threshold.EncryptedBlob,
	_ verifier.Program,
) (bool, error) {
	f.sessions = append(f.sessions, session)

	if f.calls.Add(1) <= f.failures {
		return false, f.err
	}

	return f.verdict, nil
}

func (f *fakeExecutor) DecryptionKey(context.Context, *threshold.SessionSig, threshold.EncryptedBlob) ([]byte, error) {
	f.calls.Add(1)

	return nil, f.err
}

func newBroker(t *testing.T, executor broker.Executor) *broker.Broker {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	b := broker.New(executor, key, zerolog.Nop(), nil)
	b.InitialInterval = time.Millisecond
	b.AttemptTimeout = time.Second

	return b
}

const blobHandle = `{"ciphertext":"","dataToEncryptHash":"00","accessControlConditions":[],"capsule":""}`

func locationProgram(t *testing.T) verifier.Program {
	t.Helper()

	program, err := verifier.NewLocationProgram("1", verifier.Coordinates{Lat: 1, Long: 1},
		verifier.DefaultDistanceThreshold)
	require.NoError(t, err)

	return program
}

func TestVerifyRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	executor := &fakeExecutor{failures: 3, err: threshold.ErrNodeUnavailable, verdict: true}
	b := newBroker(t, executor)

	verified, err := b.Verify(t.Context(), blobHandle, locationProgram(t))
	require.NoError(t, err)
	assert.True(t, verified)
	assert.Equal(t, int32(4), executor.calls.Load())
	assert.True(t, executor.connected.Load())

	// One session per call, reused across its attempts.
	for _, session := range executor.sessions {
		assert.Same(t, executor.sessions[0], session)
	}
}

func TestVerifyGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	executor := &fakeExecutor{failures: 100, err: threshold.ErrNodeUnavailable}
	b := newBroker(t, executor)

	_, err := b.Verify(t.Context(), blobHandle, locationProgram(t))
	require.ErrorIs(t, err, broker.ErrNetworkUnavailable)
	require.NotErrorIs(t, err, threshold.ErrNodeUnavailable)
	assert.Equal(t, int32(broker.DefaultMaxAttempts), executor.calls.Load())
}

func TestVerifyDoesNotRetryDenials(t *testing.T) {
	t.Parallel()

	executor := &fakeExecutor{failures: 100, err: threshold.ErrAccessDenied}
	b := newBroker(t, executor)

	_, err := b.Verify(t.Context(), blobHandle, locationProgram(t))
	require.ErrorIs(t, err, threshold.ErrAccessDenied)
	assert.Equal(t, int32(1), executor.calls.Load())
}

func TestVerifyValidatesBeforeNetwork(t *testing.T) {
	t.Parallel()

	executor := &fakeExecutor{verdict: true}
	b := newBroker(t, executor)

	_, err := b.Verify(t.Context(), blobHandle, verifier.Program{Algorithm: verifier.AlgorithmGeoProximity})
	require.ErrorIs(t, err, verifier.ErrValidation)

	_, err = b.Verify(t.Context(), "not json", locationProgram(t))
	require.ErrorIs(t, err, encryption.ErrAuthentication)

	assert.Equal(t, int32(0), executor.calls.Load())
}

func TestDecryptAllUnavailable(t *testing.T) {
	t.Parallel()

	executor := &fakeExecutor{err: errors.Join(threshold.ErrNodeUnavailable, errors.New("connection refused"))}
	b := newBroker(t, executor)
	b.MaxAttempts = 2

	_, err := b.DecryptAll(t.Context(), blobHandle)
	require.ErrorIs(t, err, broker.ErrNetworkUnavailable)
	assert.Equal(t, int32(2), executor.calls.Load())
}

func TestBrokerAgainstNetwork(t *testing.T) {
	t.Parallel()

	network := nodetest.Start(t, 2, 3, nil)
	client := network.Client(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	cipher := encryption.NewThresholdCipher(client,
		threshold.OwnerConditions("ethereum", crypto.PubkeyToAddress(key.PublicKey)))

	handle, err := cipher.Encrypt(t.Context(), []byte(`[{"id":1,"lat":48.8584,"long":2.2945},{"id":2,"description":"x"}]`))
	require.NoError(t, err)

	b := broker.New(client, key, zerolog.Nop(), nil)
	b.InitialInterval = time.Millisecond

	near, err := verifier.NewLocationProgram("1", verifier.Coordinates{Lat: 48.8585, Long: 2.2946},
		verifier.DefaultDistanceThreshold)
	require.NoError(t, err)

	verified, err := b.Verify(t.Context(), handle, near)
	require.NoError(t, err)
	assert.True(t, verified)

	records, err := b.DecryptAll(t.Context(), handle)
	require.NoError(t, err)
	require.Len(t, records, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(records[0], &first))
	assert.InDelta(t, 48.8584, first["lat"], 1e-9)

	// A different wallet is refused without retries.
	stranger, err := crypto.GenerateKey()
	require.NoError(t, err)

	b.Identity = stranger

	_, err = b.Verify(t.Context(), handle, near)
	require.ErrorIs(t, err, threshold.ErrAccessDenied)
}

func TestUnknownChainIsNotRetried(t *testing.T) {
	t.Parallel()

	reader, err := threshold.DialChains(t.Context(), nil)
	require.NoError(t, err)

	network := nodetest.Start(t, 2, 3, reader)
	client := network.Client(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	cipher := encryption.NewThresholdCipher(client, threshold.AccessControlConditions{{
		Chain:      "polygon",
		Method:     threshold.MethodEthBalance,
		Parameters: []string{threshold.UserAddressParam},
		Comparator: ">=",
		Threshold:  "0",
	}})

	handle, err := cipher.Encrypt(t.Context(), []byte(`[{"id":1,"lat":48.8584,"long":2.2945}]`))
	require.NoError(t, err)

	b := broker.New(client, key, zerolog.Nop(), nil)
	b.InitialInterval = 5 * time.Second

	started := time.Now()

	_, err = b.Verify(t.Context(), handle, locationProgram(t))
	require.ErrorIs(t, err, threshold.ErrBadRequest)
	require.NotErrorIs(t, err, broker.ErrNetworkUnavailable)

	_, err = b.DecryptAll(t.Context(), handle)
	require.ErrorIs(t, err, threshold.ErrBadRequest)

	assert.Less(t, time.Since(started), 2*time.Second)
}
