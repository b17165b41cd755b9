package threshold

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const (
	identityDST = "CLUEHUNT-V1-IBE-BN254G1_XMD:SHA-256_SVDW_RO_"
	keyDomain   = "cluehunt-v1-ibe-key"
)

var (
	ErrInvalidThreshold   = errors.New("threshold must be >= 1 and <= number of shares")
	ErrInsufficientShares = errors.New("insufficient decryption shares")
	ErrInvalidShareIndex  = errors.New("invalid share index")
	ErrInvalidShare       = errors.New("decryption share failed verification")
	ErrInvalidEncoding    = errors.New("invalid point or scalar encoding")
)

type KeyShare struct {
	Index int
	Value *big.Int
}

// KeyGeneration is the dealer output: the master secret itself is never kept.
type KeyGeneration struct {
	Threshold       int
	MasterPublicKey bn254.G2Affine
	Shares          []KeyShare
	PublicShares    []bn254.G2Affine
}

func randomScalar() (*big.Int, error) {
	for {
		k, err := rand.Int(rand.Reader, fr.Modulus())
		if err != nil {
			return nil, fmt.Errorf("failed to sample scalar: %w", err)
		}

		if k.Sign() != 0 {
			return k, nil
		}
	}
}

// GenerateKey samples a master secret and splits it t-of-n with Shamir
// sharing over the BN254 scalar field.
func GenerateKey(t, n int) (*KeyGeneration, error) {
	if t < 1 || t > n {
		return nil, ErrInvalidThreshold
	}

	q := fr.Modulus()

	coeffs := make([]*big.Int, t)
	for idx := range coeffs {
		c, err := randomScalar()
		if err != nil {
			return nil, err
		}

		coeffs[idx] = c
	}

	result := &KeyGeneration{
		Threshold:    t,
		Shares:       make([]KeyShare, 0, n),
		PublicShares: make([]bn254.G2Affine, 0, n),
	}

	result.MasterPublicKey.ScalarMultiplicationBase(coeffs[0])

	for idx := 1; idx <= n; idx++ {
		x := big.NewInt(int64(idx))

		// Horner evaluation of f(x) mod q.
		y := new(big.Int)
		for c := len(coeffs) - 1; c >= 0; c-- {
			y.Mul(y, x)
			y.Add(y, coeffs[c])
			y.Mod(y, q)
		}

		share := KeyShare{Index: idx, Value: y}
		result.Shares = append(result.Shares, share)
		result.PublicShares = append(result.PublicShares, PublicShare(share))
	}

	for _, c := range coeffs {
		c.SetInt64(0)
	}

	return result, nil
}

func PublicShare(share KeyShare) bn254.G2Affine {
	var p bn254.G2Affine
	p.ScalarMultiplicationBase(share.Value)

	return p
}

// Identity binds a ciphertext to its access-control conditions and content hash.
func Identity(conditions AccessControlConditions, dataHash []byte) ([]byte, error) {
	conditionsHash, err := conditions.Hash()
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	h.Write(conditionsHash)
	h.Write(dataHash)

	return h.Sum(nil), nil
}

func identityPoint(identity []byte) (bn254.G1Affine, error) {
	p, err := bn254.HashToG1(identity, []byte(identityDST))
	if err != nil {
		return bn254.G1Affine{}, fmt.Errorf("failed to hash identity: %w", err)
	}

	return p, nil
}

func deriveKey(gt bn254.GT) []byte {
	h := sha256.New()
	h.Write([]byte(keyDomain))
	h.Write(gt.Marshal())

	return h.Sum(nil)
}

// Encapsulate derives a fresh symmetric key for identity under the master
// public key and returns it with the capsule needed to re-derive it.
func Encapsulate(masterPublicKey bn254.G2Affine, identity []byte) ([]byte, bn254.G2Affine, error) {
	q, err := identityPoint(identity)
	if err != nil {
		return nil, bn254.G2Affine{}, err
	}

	r, err := randomScalar()
	if err != nil {
		return nil, bn254.G2Affine{}, err
	}

	var capsule, blinded bn254.G2Affine
	capsule.ScalarMultiplicationBase(r)
	blinded.ScalarMultiplication(&masterPublicKey, r)

	gt, err := bn254.Pair([]bn254.G1Affine{q}, []bn254.G2Affine{blinded})
	if err != nil {
		return nil, bn254.G2Affine{}, fmt.Errorf("failed to compute pairing: %w", err)
	}

	return deriveKey(gt), capsule, nil
}

func DecryptionShare(share KeyShare, identity []byte) (bn254.G1Affine, error) {
	q, err := identityPoint(identity)
	if err != nil {
		return bn254.G1Affine{}, err
	}

	var d bn254.G1Affine
	d.ScalarMultiplication(&q, share.Value)

	return d, nil
}

// VerifyDecryptionShare checks e(D_i, G2) == e(H(id), P_i).
func VerifyDecryptionShare(d bn254.G1Affine, publicShare bn254.G2Affine, identity []byte) (bool, error) {
	q, err := identityPoint(identity)
	if err != nil {
		return false, err
	}

	_, _, _, g2 := bn254.Generators()

	left, err := bn254.Pair([]bn254.G1Affine{d}, []bn254.G2Affine{g2})
	if err != nil {
		return false, fmt.Errorf("failed to compute pairing: %w", err)
	}

	right, err := bn254.Pair([]bn254.G1Affine{q}, []bn254.G2Affine{publicShare})
	if err != nil {
		return false, fmt.Errorf("failed to compute pairing: %w", err)
	}

	return left.Equal(&right), nil
}

func lagrangeAtZero(indices []int, i int) *big.Int {
	q := fr.Modulus()

	num := big.NewInt(1)
	den := big.NewInt(1)

	xi := big.NewInt(int64(i))

	for _, j := range indices {
		if j == i {
			continue
		}

		xj := big.NewInt(int64(j))

		num.Mul(num, xj)
		num.Mod(num, q)

		diff := new(big.Int).Sub(xj, xi)
		diff.Mod(diff, q)

		den.Mul(den, diff)
		den.Mod(den, q)
	}

	den.ModInverse(den, q)
	num.Mul(num, den)

	return num.Mod(num, q)
}

// CombineShares interpolates at least t decryption shares and recovers the
// symmetric key bound to capsule.
func CombineShares(shares map[int]bn254.G1Affine, t int, capsule bn254.G2Affine) ([]byte, error) {
	if len(shares) < t || t < 1 {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientShares, len(shares), t)
	}

	indices := make([]int, 0, len(shares))
	for idx := range shares {
		if idx < 1 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidShareIndex, idx)
		}

		indices = append(indices, idx)
	}

	sort.Ints(indices)

	var combined bn254.G1Affine

	for n, idx := range indices {
		share := shares[idx]

		var term bn254.G1Affine
		term.ScalarMultiplication(&share, lagrangeAtZero(indices, idx))

		if n == 0 {
			combined = term
		} else {
			combined.Add(&combined, &term)
		}
	}

	gt, err := bn254.Pair([]bn254.G1Affine{combined}, []bn254.G2Affine{capsule})
	if err != nil {
		return nil, fmt.Errorf("failed to compute pairing: %w", err)
	}

	return deriveKey(gt), nil
}

func EncodeG1(p bn254.G1Affine) string {
	return hex.EncodeToString(p.Marshal())
}

func DecodeG1(s string) (bn254.G1Affine, error) {
	var p bn254.G1Affine

	raw, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}

	err = p.Unmarshal(raw)
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}

	return p, nil
}

func EncodeG2(p bn254.G2Affine) string {
	return hex.EncodeToString(p.Marshal())
}

func DecodeG2(s string) (bn254.G2Affine, error) {
	var p bn254.G2Affine

	raw, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}

	err = p.Unmarshal(raw)
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}

	return p, nil
}

func EncodeScalar(k *big.Int) string {
	buf := make([]byte, fr.Bytes)

	return hex.EncodeToString(k.FillBytes(buf))
}

func DecodeScalar(s string) (*big.Int, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}

	k := new(big.Int).SetBytes(raw)
	if k.Sign() == 0 || k.Cmp(fr.Modulus()) >= 0 {
		return nil, fmt.Errorf("%w: scalar out of range", ErrInvalidEncoding)
	}

	return k, nil
}
