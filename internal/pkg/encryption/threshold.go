package encryption

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/samber/do/v2"
	"github.com/vreid/cluehunt/internal/pkg/threshold"
)

// ThresholdCipher encrypts to the threshold network: the payload key is
// derived from the network's master public key and the access-control
// conditions, so only a quorum of nodes that accept the caller can rebuild it.
// Reading the content back goes through the broker.
type ThresholdCipher struct {
	Client     *threshold.Client
	Conditions threshold.AccessControlConditions
}

func NewThresholdCipherService(i do.Injector) (*ThresholdCipher, error) {
	client := do.MustInvoke[*threshold.Client](i)
	identity := do.MustInvoke[*ecdsa.PrivateKey](i)
	chain := do.MustInvokeNamed[string](i, "chain")

	return NewThresholdCipher(
		client,
		threshold.OwnerConditions(chain, crypto.PubkeyToAddress(identity.PublicKey)),
	), nil
}

func NewThresholdCipher(client *threshold.Client, conditions threshold.AccessControlConditions) *ThresholdCipher {
	return &ThresholdCipher{
		Client:     client,
		Conditions: conditions,
	}
}

func (c *ThresholdCipher) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	blob, err := c.EncryptBlob(ctx, plaintext)
	if err != nil {
		return "", err
	}

	marshaled, err := json.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("failed to marshal encrypted blob: %w", err)
	}

	return string(marshaled), nil
}

func (c *ThresholdCipher) EncryptBlob(ctx context.Context, plaintext []byte) (threshold.EncryptedBlob, error) {
	dataHash := sha256.Sum256(plaintext)

	key, capsule, err := c.Client.Encapsulate(c.Conditions, dataHash[:])
	if err != nil {
		return threshold.EncryptedBlob{}, fmt.Errorf("failed to encapsulate key: %w", err)
	}

	local, err := NewLocalCipher(key)
	if err != nil {
		return threshold.EncryptedBlob{}, err
	}

	ciphertext, err := local.Encrypt(ctx, plaintext)
	if err != nil {
		return threshold.EncryptedBlob{}, err
	}

	return threshold.EncryptedBlob{
		Ciphertext:              ciphertext,
		DataHash:                hex.EncodeToString(dataHash[:]),
		AccessControlConditions: c.Conditions,
		Capsule:                 capsule,
	}, nil
}

func ParseBlob(handle string) (threshold.EncryptedBlob, error) {
	var blob threshold.EncryptedBlob

	err := json.Unmarshal([]byte(handle), &blob)
	if err != nil {
		return threshold.EncryptedBlob{}, fmt.Errorf("%w: malformed encrypted blob", ErrAuthentication)
	}

	return blob, nil
}

// OpenBlob decrypts blob with an already combined key and checks the
// plaintext against the recorded content hash.
func OpenBlob(key []byte, blob threshold.EncryptedBlob) ([]byte, error) {
	local, err := NewLocalCipher(key)
	if err != nil {
		return nil, err
	}

	payload, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed base64 payload", ErrAuthentication)
	}

	plaintext, err := local.Open(payload)
	if err != nil {
		return nil, err
	}

	expected, err := hex.DecodeString(blob.DataHash)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed data hash", ErrAuthentication)
	}

	actual := sha256.Sum256(plaintext)
	if subtle.ConstantTimeCompare(expected, actual[:]) != 1 {
		return nil, fmt.Errorf("%w: data hash mismatch", ErrAuthentication)
	}

	return plaintext, nil
}
