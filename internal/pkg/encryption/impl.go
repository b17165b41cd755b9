package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/samber/do/v2"
	"github.com/vreid/cluehunt/internal/pkg/common"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var ErrAuthentication = errors.New("ciphertext failed authentication")

// Encrypter turns plaintext into an opaque handle.
type Encrypter interface {
	Encrypt(ctx context.Context, plaintext []byte) (string, error)
}

// Decrypter recovers the plaintext behind a handle made by the same key.
type Decrypter interface {
	Decrypt(ctx context.Context, handle string) ([]byte, error)
}

// LocalCipher seals with AES-256-GCM; handles are base64(iv || tag || ciphertext).
type LocalCipher struct {
	aead cipher.AEAD
}

func NewLocalCipherService(i do.Injector) (*LocalCipher, error) {
	encodedKey := do.MustInvokeNamed[string](i, "cipher-key")

	key, err := ParseKey(encodedKey)
	if err != nil {
		return nil, err
	}

	return NewLocalCipher(key)
}

// ParseKey accepts 64 hex characters or standard base64 of exactly 32 bytes.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if len(encoded) == 0 {
		return nil, fmt.Errorf("%w: cipher key is not set", common.ErrConfiguration)
	}

	if len(encoded) == hex.EncodedLen(KeySize) {
		key, err := hex.DecodeString(encoded)
		if err == nil {
			return key, nil
		}
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: cipher key is neither hex nor base64", common.ErrConfiguration)
	}

	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: cipher key must be %d bytes, got %d", common.ErrConfiguration, KeySize, len(key))
	}

	return key, nil
}

func NewLocalCipher(key []byte) (*LocalCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: cipher key must be %d bytes, got %d", common.ErrConfiguration, KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &LocalCipher{aead: aead}, nil
}

func (c *LocalCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)

	_, err := io.ReadFull(rand.Reader, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// GCM appends the tag; the payload layout puts it ahead of the ciphertext.
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	payload := make([]byte, 0, NonceSize+TagSize+len(ciphertext))
	payload = append(payload, nonce...)
	payload = append(payload, tag...)
	payload = append(payload, ciphertext...)

	return payload, nil
}

func (c *LocalCipher) Open(payload []byte) ([]byte, error) {
	if len(payload) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: payload too short", ErrAuthentication)
	}

	nonce := payload[:NonceSize]
	tag := payload[NonceSize : NonceSize+TagSize]
	ciphertext := payload[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	if plaintext == nil {
		plaintext = []byte{}
	}

	return plaintext, nil
}

func (c *LocalCipher) Encrypt(_ context.Context, plaintext []byte) (string, error) {
	payload, err := c.Seal(plaintext)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(payload), nil
}

func (c *LocalCipher) Decrypt(_ context.Context, handle string) ([]byte, error) {
	payload, err := base64.StdEncoding.DecodeString(handle)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed base64 payload", ErrAuthentication)
	}

	return c.Open(payload)
}
