package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/do/v2"
	"github.com/valkey-io/valkey-go"
)

const DefaultNamespace = "cluehunt"

var ErrInvalidAttestation = errors.New("invalid attestation")

// Ledger is the append-only attestation log. Entries are never rewritten;
// every derived view is recomputed from it.
type Ledger interface {
	AppendSolve(ctx context.Context, solve SolveAttestation) error
	AppendRetry(ctx context.Context, retry RetryAttestation) error
	Solves(ctx context.Context, huntID uint64) ([]SolveAttestation, error)
	Retries(ctx context.Context, huntID, clueIndex uint64, team string) ([]RetryAttestation, error)
}

// NewLedgerService picks valkey when an address is configured and falls
// back to process memory otherwise.
func NewLedgerService(i do.Injector) (Ledger, error) {
	addr := do.MustInvokeNamed[string](i, "valkey-addr")
	namespace := do.MustInvokeNamed[string](i, "ledger-namespace")

	if len(addr) == 0 {
		return NewMemoryLedger(namespace), nil
	}

	return NewValkeyLedger(addr, namespace)
}

func prepareSolve(solve *SolveAttestation) error {
	if len(solve.TeamIdentifier) == 0 {
		return fmt.Errorf("%w: team identifier is required", ErrInvalidAttestation)
	}

	if solve.ClueIndex < 1 {
		return fmt.Errorf("%w: solve clue index must be at least 1", ErrInvalidAttestation)
	}

	solve.TeamIdentifier = NormalizeTeam(solve.TeamIdentifier)

	if len(solve.AttestationID) == 0 {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate attestation id: %w", err)
		}

		solve.AttestationID = id.String()
	}

	return nil
}

func prepareRetry(retry *RetryAttestation) error {
	if len(retry.TeamIdentifier) == 0 {
		return fmt.Errorf("%w: team identifier is required", ErrInvalidAttestation)
	}

	retry.TeamIdentifier = NormalizeTeam(retry.TeamIdentifier)

	if len(retry.AttestationID) == 0 {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate attestation id: %w", err)
		}

		retry.AttestationID = id.String()
	}

	return nil
}

type MemoryLedger struct {
	Namespace string

	mu      sync.RWMutex
	entries map[string][][]byte
}

func NewMemoryLedger(namespace string) *MemoryLedger {
	if len(namespace) == 0 {
		namespace = DefaultNamespace
	}

	return &MemoryLedger{
		Namespace: namespace,
		entries:   map[string][][]byte{},
	}
}

func (l *MemoryLedger) push(key string, value any) error {
	marshaled, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal attestation: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[key] = append(l.entries[key], marshaled)

	return nil
}

func (l *MemoryLedger) list(key string) [][]byte {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([][]byte(nil), l.entries[key]...)
}

func (l *MemoryLedger) AppendSolve(_ context.Context, solve SolveAttestation) error {
	err := prepareSolve(&solve)
	if err != nil {
		return err
	}

	return l.push(HuntIndexKey(l.Namespace, solve.HuntID), solve)
}

func (l *MemoryLedger) AppendRetry(_ context.Context, retry RetryAttestation) error {
	err := prepareRetry(&retry)
	if err != nil {
		return err
	}

	return l.push(TeamClueIndexKey(l.Namespace, retry.HuntID, retry.ClueIndex, retry.TeamIdentifier), retry)
}

func (l *MemoryLedger) Solves(_ context.Context, huntID uint64) ([]SolveAttestation, error) {
	return decodeAll[SolveAttestation](l.list(HuntIndexKey(l.Namespace, huntID)))
}

func (l *MemoryLedger) Retries(_ context.Context, huntID, clueIndex uint64, team string) ([]RetryAttestation, error) {
	return decodeAll[RetryAttestation](l.list(TeamClueIndexKey(l.Namespace, huntID, clueIndex, team)))
}

func decodeAll[T any](raw [][]byte) ([]T, error) {
	result := make([]T, 0, len(raw))

	for _, entry := range raw {
		var value T

		err := json.Unmarshal(entry, &value)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal attestation: %w", err)
		}

		result = append(result, value)
	}

	return result, nil
}

// ValkeyLedger keeps each index key as a valkey list of JSON attestations.
type ValkeyLedger struct {
	Namespace string

	client valkey.Client
}

func NewValkeyLedger(addr, namespace string) (*ValkeyLedger, error) {
	if len(namespace) == 0 {
		namespace = DefaultNamespace
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	return &ValkeyLedger{
		Namespace: namespace,
		client:    client,
	}, nil
}

func (l *ValkeyLedger) Shutdown() {
	l.client.Close()
}

func (l *ValkeyLedger) push(ctx context.Context, key string, value any) error {
	marshaled, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal attestation: %w", err)
	}

	err = l.client.Do(ctx, l.client.B().Rpush().Key(key).Element(string(marshaled)).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to append attestation: %w", err)
	}

	return nil
}

func (l *ValkeyLedger) list(ctx context.Context, key string) ([][]byte, error) {
	values, err := l.client.Do(ctx, l.client.B().Lrange().Key(key).Start(0).Stop(-1).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to read attestations: %w", err)
	}

	result := make([][]byte, 0, len(values))
	for _, value := range values {
		result = append(result, []byte(value))
	}

	return result, nil
}

func (l *ValkeyLedger) AppendSolve(ctx context.Context, solve SolveAttestation) error {
	err := prepareSolve(&solve)
	if err != nil {
		return err
	}

	return l.push(ctx, HuntIndexKey(l.Namespace, solve.HuntID), solve)
}

func (l *ValkeyLedger) AppendRetry(ctx context.Context, retry RetryAttestation) error {
	err := prepareRetry(&retry)
	if err != nil {
		return err
	}

	return l.push(ctx, TeamClueIndexKey(l.Namespace, retry.HuntID, retry.ClueIndex, retry.TeamIdentifier), retry)
}

func (l *ValkeyLedger) Solves(ctx context.Context, huntID uint64) ([]SolveAttestation, error) {
	raw, err := l.list(ctx, HuntIndexKey(l.Namespace, huntID))
	if err != nil {
		return nil, err
	}

	return decodeAll[SolveAttestation](raw)
}

func (l *ValkeyLedger) Retries(ctx context.Context, huntID, clueIndex uint64, team string) ([]RetryAttestation, error) {
	raw, err := l.list(ctx, TeamClueIndexKey(l.Namespace, huntID, clueIndex, team))
	if err != nil {
		return nil, err
	}

	return decodeAll[RetryAttestation](raw)
}
