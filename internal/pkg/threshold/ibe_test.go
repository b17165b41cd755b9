package threshold_test

import (
	"crypto/sha256"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/cluehunt/internal/pkg/threshold"
)

var owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func identity(t *testing.T, conditions threshold.AccessControlConditions, data string) []byte {
	t.Helper()

	dataHash := sha256.Sum256([]byte(data))

	id, err := threshold.Identity(conditions, dataHash[:])
	require.NoError(t, err)

	return id
}

func decryptionShares(
	t *testing.T,
	keys *threshold.KeyGeneration,
	id []byte,
	indices ...int,
) map[int]bn254.G1Affine {
	t.Helper()

	shares := map[int]bn254.G1Affine{}

	for _, idx := range indices {
		share, err := threshold.DecryptionShare(keys.Shares[idx-1], id)
		require.NoError(t, err)

		ok, err := threshold.VerifyDecryptionShare(share, keys.PublicShares[idx-1], id)
		require.NoError(t, err)
		require.True(t, ok)

		shares[idx] = share
	}

	return shares
}

func TestGenerateKeyBounds(t *testing.T) {
	t.Parallel()

	_, err := threshold.GenerateKey(0, 3)
	require.ErrorIs(t, err, threshold.ErrInvalidThreshold)

	_, err = threshold.GenerateKey(4, 3)
	require.ErrorIs(t, err, threshold.ErrInvalidThreshold)
}

func TestAnyQuorumRecoversKey(t *testing.T) {
	t.Parallel()

	keys, err := threshold.GenerateKey(3, 5)
	require.NoError(t, err)

	id := identity(t, threshold.OwnerConditions("ethereum", owner), "answers")

	key, capsule, err := threshold.Encapsulate(keys.MasterPublicKey, id)
	require.NoError(t, err)
	require.Len(t, key, 32)

	for _, subset := range [][]int{{1, 2, 3}, {2, 4, 5}, {1, 3, 5}, {1, 2, 3, 4, 5}} {
		recovered, err := threshold.CombineShares(decryptionShares(t, keys, id, subset...), keys.Threshold, capsule)
		require.NoError(t, err)
		assert.Equal(t, key, recovered, subset)
	}

	_, err = threshold.CombineShares(decryptionShares(t, keys, id, 1, 2), keys.Threshold, capsule)
	require.ErrorIs(t, err, threshold.ErrInsufficientShares)
}

func TestSharesAreBoundToIdentity(t *testing.T) {
	t.Parallel()

	keys, err := threshold.GenerateKey(2, 3)
	require.NoError(t, err)

	id := identity(t, threshold.OwnerConditions("ethereum", owner), "answers")
	otherConditions := identity(t, threshold.OwnerConditions("ethereum", common.HexToAddress("0xbb")), "answers")
	otherData := identity(t, threshold.OwnerConditions("ethereum", owner), "clues")

	key, capsule, err := threshold.Encapsulate(keys.MasterPublicKey, id)
	require.NoError(t, err)

	for _, wrong := range [][]byte{otherConditions, otherData} {
		recovered, err := threshold.CombineShares(decryptionShares(t, keys, wrong, 1, 2), keys.Threshold, capsule)
		require.NoError(t, err)
		assert.NotEqual(t, key, recovered)
	}

	share, err := threshold.DecryptionShare(keys.Shares[0], id)
	require.NoError(t, err)

	ok, err := threshold.VerifyDecryptionShare(share, keys.PublicShares[1], id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManifestEncoding(t *testing.T) {
	t.Parallel()

	keys, err := threshold.GenerateKey(2, 3)
	require.NoError(t, err)

	manifest := keys.Manifest()
	require.Len(t, manifest.Nodes, 3)

	mpk, err := threshold.DecodeG2(manifest.MasterPublicKey)
	require.NoError(t, err)
	assert.True(t, mpk.Equal(&keys.MasterPublicKey))

	for idx, entry := range manifest.Nodes {
		value, err := threshold.DecodeScalar(entry.Share)
		require.NoError(t, err)
		assert.Equal(t, 0, value.Cmp(keys.Shares[idx].Value))
		assert.Equal(t, idx+1, entry.Index)
	}

	_, err = threshold.DecodeScalar("00")
	require.ErrorIs(t, err, threshold.ErrInvalidEncoding)

	_, err = threshold.DecodeG1("zz")
	require.ErrorIs(t, err, threshold.ErrInvalidEncoding)
}
