package broker

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"
	"github.com/vreid/cluehunt/internal/pkg/encryption"
	"github.com/vreid/cluehunt/internal/pkg/threshold"
	"github.com/vreid/cluehunt/internal/pkg/verifier"
)

const (
	DefaultMaxAttempts     = 6
	DefaultAttemptTimeout  = 30 * time.Second
	DefaultInitialInterval = 500 * time.Millisecond

	operationVerify     = "verify"
	operationDecryptAll = "decrypt_all"
)

var ErrNetworkUnavailable = errors.New("temporarily unavailable")

// Executor is the part of the threshold client the broker drives.
type Executor interface {
	Connected() bool
	Connect(ctx context.Context) error
	Execute(
		ctx context.Context,
		session *threshold.SessionSig,
		blob threshold.EncryptedBlob,
		program verifier.Program,
	) (bool, error)
	DecryptionKey(ctx context.Context, session *threshold.SessionSig, blob threshold.EncryptedBlob) ([]byte, error)
}

// Broker obtains verdicts and decryptions from the threshold network. It
// mints a fresh session for every call and retries transient failures.
type Broker struct {
	Logger   zerolog.Logger
	Executor Executor
	Identity *ecdsa.PrivateKey

	SessionTTL      time.Duration
	AttemptTimeout  time.Duration
	MaxAttempts     int
	InitialInterval time.Duration

	metrics *brokerMetrics
	now     func() time.Time
}

func NewBrokerService(i do.Injector) (*Broker, error) {
	logger := do.MustInvoke[zerolog.Logger](i)
	registry := do.MustInvoke[*prometheus.Registry](i)
	client := do.MustInvoke[*threshold.Client](i)
	identity := do.MustInvoke[*ecdsa.PrivateKey](i)
	attemptTimeout := do.MustInvokeNamed[time.Duration](i, "verify-timeout")
	maxAttempts := do.MustInvokeNamed[int](i, "max-attempts")

	result := New(client, identity, logger, registry)
	result.AttemptTimeout = attemptTimeout
	result.MaxAttempts = maxAttempts

	return result, nil
}

func New(
	executor Executor,
	identity *ecdsa.PrivateKey,
	logger zerolog.Logger,
	registerer prometheus.Registerer,
) *Broker {
	return &Broker{
		Logger:   logger.With().Str("service", "broker").Logger(),
		Executor: executor,
		Identity: identity,

		SessionTTL:      threshold.DefaultSessionTTL,
		AttemptTimeout:  DefaultAttemptTimeout,
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,

		metrics: newBrokerMetrics(registerer),
		now:     time.Now,
	}
}

func (b *Broker) policy(ctx context.Context) backoff.BackOffContext {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = b.InitialInterval
	exponential.MaxElapsedTime = 0

	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = DefaultMaxAttempts
	}

	//nolint:gosec // attempts is positive
	return backoff.WithContext(backoff.WithMaxRetries(exponential, uint64(attempts-1)), ctx)
}

// retryable reports whether err may clear up on another attempt.
func retryable(err error) bool {
	return errors.Is(err, threshold.ErrNodeUnavailable) ||
		errors.Is(err, threshold.ErrNotConnected) ||
		errors.Is(err, context.DeadlineExceeded)
}

func run[T any](ctx context.Context, b *Broker, operation string, attempt func(ctx context.Context) (T, error)) (T, error) {
	started := time.Now()

	var zero T

	result, err := backoff.RetryNotifyWithData(func() (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, b.AttemptTimeout)
		defer cancel()

		if !b.Executor.Connected() {
			err := b.Executor.Connect(attemptCtx)
			if err != nil {
				return zero, err
			}
		}

		value, err := attempt(attemptCtx)
		if err != nil && !retryable(err) {
			return zero, backoff.Permanent(err)
		}

		return value, err
	}, b.policy(ctx), func(err error, wait time.Duration) {
		b.metrics.retries.WithLabelValues(operation).Inc()
		b.Logger.Debug().Err(err).Str("operation", operation).Dur("wait", wait).Msg("retrying threshold request")
	})

	b.metrics.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())

	if err == nil {
		return result, nil
	}

	if ctx.Err() == nil && retryable(err) {
		b.Logger.Warn().Err(err).Str("operation", operation).Msg("threshold network unavailable")
		b.metrics.outcomes.WithLabelValues(operation, "unavailable").Inc()

		return zero, ErrNetworkUnavailable
	}

	b.metrics.outcomes.WithLabelValues(operation, "error").Inc()

	return zero, err
}

func (b *Broker) session(abilities ...threshold.Ability) (*threshold.SessionSig, error) {
	session, err := threshold.NewSession(b.Identity, abilities, b.SessionTTL, b.now())
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Verify ships program to the network and returns only its verdict; the
// plaintext behind handle never leaves the node that evaluates it.
func (b *Broker) Verify(ctx context.Context, handle string, program verifier.Program) (bool, error) {
	err := program.Validate()
	if err != nil {
		return false, err
	}

	blob, err := encryption.ParseBlob(handle)
	if err != nil {
		return false, err
	}

	session, err := b.session(threshold.AbilityExecute, threshold.AbilityDecrypt)
	if err != nil {
		return false, err
	}

	verified, err := run(ctx, b, operationVerify, func(ctx context.Context) (bool, error) {
		return b.Executor.Execute(ctx, session, blob, program)
	})
	if err != nil {
		return false, err
	}

	outcome := "rejected"
	if verified {
		outcome = "verified"
	}

	b.metrics.outcomes.WithLabelValues(operationVerify, outcome).Inc()

	return verified, nil
}

// DecryptAll returns every record of the JSON array sealed behind handle.
func (b *Broker) DecryptAll(ctx context.Context, handle string) ([]json.RawMessage, error) {
	blob, err := encryption.ParseBlob(handle)
	if err != nil {
		return nil, err
	}

	session, err := b.session(threshold.AbilityDecrypt)
	if err != nil {
		return nil, err
	}

	key, err := run(ctx, b, operationDecryptAll, func(ctx context.Context) ([]byte, error) {
		return b.Executor.DecryptionKey(ctx, session, blob)
	})
	if err != nil {
		return nil, err
	}

	plaintext, err := encryption.OpenBlob(key, blob)
	if err != nil {
		return nil, err
	}

	var records []json.RawMessage

	err = json.Unmarshal(plaintext, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to parse decrypted records: %w", err)
	}

	b.metrics.outcomes.WithLabelValues(operationDecryptAll, "ok").Inc()

	return records, nil
}
