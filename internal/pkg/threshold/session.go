package threshold

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/samber/do/v2"
	appcommon "github.com/vreid/cluehunt/internal/pkg/common"
)

type Ability string

const (
	AbilityExecute Ability = "lit-action-execution"
	AbilityDecrypt Ability = "access-control-condition-decryption"
	AbilityAttest  Ability = "hunt-attestation-submission"

	DefaultSessionTTL = 5 * time.Minute
)

var ErrSessionInvalid = errors.New("invalid session signature")

type SessionCapability struct {
	Address   string    `json:"address"`
	Abilities []Ability `json:"abilities"`
	Nonce     string    `json:"nonce"`
	IssuedAt  int64     `json:"issued_at"`
	ExpiresAt int64     `json:"expires_at"`
}

// SessionSig is a short-lived, wallet-signed grant of abilities. One is
// minted per broker call and never reused.
type SessionSig struct {
	Capability SessionCapability `json:"capability"`
	Signature  string            `json:"signature"`
}

func (c SessionCapability) digest() ([]byte, error) {
	marshaled, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session capability: %w", err)
	}

	return accounts.TextHash(marshaled), nil
}

func NewSession(key *ecdsa.PrivateKey, abilities []Ability, ttl time.Duration, now time.Time) (*SessionSig, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: no signing key", ErrSessionInvalid)
	}

	nonce, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session nonce: %w", err)
	}

	capability := SessionCapability{
		Address:   strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
		Abilities: abilities,
		Nonce:     nonce.String(),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}

	digest, err := capability.digest()
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session: %w", err)
	}

	return &SessionSig{
		Capability: capability,
		Signature:  hex.EncodeToString(signature),
	}, nil
}

// Verify recovers the signer and checks expiry and the requested ability.
func (s SessionSig) Verify(now time.Time, ability Ability) (common.Address, error) {
	if !slices.Contains(s.Capability.Abilities, ability) {
		return common.Address{}, fmt.Errorf("%w: ability %q not granted", ErrSessionInvalid, ability)
	}

	if now.Unix() > s.Capability.ExpiresAt || now.Unix() < s.Capability.IssuedAt-60 {
		return common.Address{}, fmt.Errorf("%w: outside validity window", ErrSessionInvalid)
	}

	signature, err := hex.DecodeString(s.Signature)
	if err != nil || len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: malformed signature", ErrSessionInvalid)
	}

	digest, err := s.Capability.digest()
	if err != nil {
		return common.Address{}, err
	}

	publicKey, err := crypto.SigToPub(digest, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrSessionInvalid, err)
	}

	signer := crypto.PubkeyToAddress(*publicKey)
	if !strings.EqualFold(signer.Hex(), s.Capability.Address) {
		return common.Address{}, fmt.Errorf("%w: signer does not match address", ErrSessionInvalid)
	}

	return signer, nil
}

// ParseIdentityKey loads the hex-encoded secp256k1 key that signs sessions.
func ParseIdentityKey(encoded string) (*ecdsa.PrivateKey, error) {
	encoded = strings.TrimPrefix(strings.TrimSpace(encoded), "0x")
	if len(encoded) == 0 {
		return nil, fmt.Errorf("%w: identity key is not set", appcommon.ErrConfiguration)
	}

	key, err := crypto.HexToECDSA(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: identity key: %w", appcommon.ErrConfiguration, err)
	}

	return key, nil
}

func NewIdentityKeyService(i do.Injector) (*ecdsa.PrivateKey, error) {
	return ParseIdentityKey(do.MustInvokeNamed[string](i, "identity-key"))
}
