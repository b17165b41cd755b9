package hunt

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"
	"github.com/vreid/cluehunt/internal/pkg/blobstore"
	"github.com/vreid/cluehunt/internal/pkg/broker"
	appcommon "github.com/vreid/cluehunt/internal/pkg/common"
	"github.com/vreid/cluehunt/internal/pkg/encryption"
	"github.com/vreid/cluehunt/internal/pkg/leaderboard"
	"github.com/vreid/cluehunt/internal/pkg/ledger"
	"github.com/vreid/cluehunt/internal/pkg/timeline"
	"github.com/vreid/cluehunt/internal/pkg/verifier"
	"golang.org/x/sync/errgroup"
)

type BlobStore interface {
	Put(ctx context.Context, text string) (string, error)
	Get(ctx context.Context, handle string) (string, error)
}

type Verifier interface {
	Verify(ctx context.Context, handle string, program verifier.Program) (bool, error)
	DecryptAll(ctx context.Context, handle string) ([]json.RawMessage, error)
}

// HuntService is the engine's public surface: it seals hunt content,
// brokers verifications and derives progress views from the ledger.
type HuntService struct {
	Logger zerolog.Logger

	Blobs  BlobStore
	Broker Verifier
	Ledger ledger.Ledger

	AnswerCipher encryption.Encrypter
	ClueCipher   encryption.Encrypter
	// ClueDecrypter reads clues back locally. When nil, clues are sealed to
	// the threshold network and read back through the broker.
	ClueDecrypter encryption.Decrypter

	DistanceThreshold   float64
	SimilarityThreshold float64

	// Attesters may submit attestations over HTTP. With none configured the
	// ingest routes are not served.
	Attesters []common.Address

	now func() time.Time
}

func NewHuntService(i do.Injector) (*HuntService, error) {
	logger := do.MustInvoke[zerolog.Logger](i)
	blobs := do.MustInvoke[*blobstore.BlobStore](i)
	brokerService := do.MustInvoke[*broker.Broker](i)
	ledgerService := do.MustInvoke[ledger.Ledger](i)
	answerCipher := do.MustInvoke[*encryption.ThresholdCipher](i)
	clueBackend := do.MustInvokeNamed[string](i, "clue-backend")
	distanceThreshold := do.MustInvokeNamed[float64](i, "distance-threshold")
	similarityThreshold := do.MustInvokeNamed[float64](i, "similarity-threshold")
	attesters := do.MustInvokeNamed[[]string](i, "attesters")

	err := verifier.ValidateDistanceThreshold(distanceThreshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", appcommon.ErrConfiguration, err)
	}

	err = verifier.ValidateSimilarityThreshold(similarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", appcommon.ErrConfiguration, err)
	}

	attesterAddresses, err := ParseAttesters(attesters)
	if err != nil {
		return nil, err
	}

	var (
		clueCipher    encryption.Encrypter = answerCipher
		clueDecrypter encryption.Decrypter
	)

	switch clueBackend {
	case ClueBackendThreshold:
	case ClueBackendLocal:
		local := do.MustInvoke[*encryption.LocalCipher](i)
		clueCipher = local
		clueDecrypter = local
	default:
		return nil, fmt.Errorf("%w: unknown clue backend %q", appcommon.ErrConfiguration, clueBackend)
	}

	result := &HuntService{
		Logger: logger.With().Str("service", "hunt").Logger(),

		Blobs:  blobs,
		Broker: brokerService,
		Ledger: ledgerService,

		AnswerCipher:  answerCipher,
		ClueCipher:    clueCipher,
		ClueDecrypter: clueDecrypter,

		DistanceThreshold:   distanceThreshold,
		SimilarityThreshold: similarityThreshold,

		Attesters: attesterAddresses,
	}

	echoService, err := do.Invoke[*appcommon.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.Routes)

	return result, nil
}

// ParseAttesters reads the wallet addresses allowed to submit attestations.
func ParseAttesters(entries []string) ([]common.Address, error) {
	result := make([]common.Address, 0, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if len(entry) == 0 {
			continue
		}

		if !common.IsHexAddress(entry) {
			return nil, fmt.Errorf("%w: attester %q is not an address", appcommon.ErrConfiguration, entry)
		}

		result = append(result, common.HexToAddress(entry))
	}

	return result, nil
}

func thresholdOr(threshold *float64, configured float64) float64 {
	if threshold == nil {
		return configured
	}

	return *threshold
}

func (s *HuntService) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}

	return s.now()
}

func (s *HuntService) seal(ctx context.Context, cipher encryption.Encrypter, plaintext []byte) (string, error) {
	ciphertext, err := cipher.Encrypt(ctx, plaintext)
	if err != nil {
		return "", err
	}

	return s.Blobs.Put(ctx, ciphertext)
}

// EncryptAnswers seals a hunt's clues and answers concurrently and stores
// both ciphertexts in the blob store.
func (s *HuntService) EncryptAnswers(ctx context.Context, clues, answers []byte) (EncryptedHunt, error) {
	_, err := verifier.ParseClues(clues)
	if err != nil {
		return EncryptedHunt{}, fmt.Errorf("%w: %w", verifier.ErrValidation, err)
	}

	_, err = verifier.ParseAnswers(answers)
	if err != nil {
		return EncryptedHunt{}, fmt.Errorf("%w: %w", verifier.ErrValidation, err)
	}

	var result EncryptedHunt

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		handle, err := s.seal(gctx, s.ClueCipher, clues)
		if err != nil {
			return fmt.Errorf("failed to encrypt clues: %w", err)
		}

		result.CluesHandle = handle

		return nil
	})

	g.Go(func() error {
		handle, err := s.seal(gctx, s.AnswerCipher, answers)
		if err != nil {
			return fmt.Errorf("failed to encrypt answers: %w", err)
		}

		result.AnswersHandle = handle

		return nil
	})

	err = g.Wait()
	if err != nil {
		return EncryptedHunt{}, err //nolint:wrapcheck
	}

	return result, nil
}

func (s *HuntService) verify(ctx context.Context, answersHandle string, program verifier.Program) (bool, error) {
	text, err := s.Blobs.Get(ctx, answersHandle)
	if err != nil {
		return false, err
	}

	verified, err := s.Broker.Verify(ctx, text, program)
	if err != nil {
		return false, err
	}

	s.Logger.Info().
		Str("answers_handle", answersHandle).
		Str("clue_id", program.ClueID).
		Str("algorithm", string(program.Algorithm)).
		Bool("verified", verified).
		Msg("verified claim")

	return verified, nil
}

// VerifyLocation checks a claimed position against the sealed answer for
// clueID. A nil threshold uses the hunt's configured radius. Invalid input
// is rejected before any network call.
func (s *HuntService) VerifyLocation(
	ctx context.Context,
	answersHandle, clueID string,
	claim verifier.Coordinates,
	threshold *float64,
) (bool, error) {
	program, err := verifier.NewLocationProgram(clueID, claim, thresholdOr(threshold, s.DistanceThreshold))
	if err != nil {
		return false, err
	}

	return s.verify(ctx, answersHandle, program)
}

func (s *HuntService) VerifyImage(
	ctx context.Context,
	answersHandle, clueID string,
	embedding []float64,
	threshold *float64,
) (bool, error) {
	program, err := verifier.NewImageProgram(clueID, embedding, thresholdOr(threshold, s.SimilarityThreshold))
	if err != nil {
		return false, err
	}

	return s.verify(ctx, answersHandle, program)
}

func (s *HuntService) DecryptClues(ctx context.Context, cluesHandle string) ([]verifier.ClueRecord, error) {
	text, err := s.Blobs.Get(ctx, cluesHandle)
	if err != nil {
		return nil, err
	}

	if s.ClueDecrypter != nil {
		plaintext, err := s.ClueDecrypter.Decrypt(ctx, text)
		if err != nil {
			return nil, err
		}

		return verifier.ParseClues(plaintext)
	}

	records, err := s.Broker.DecryptAll(ctx, text)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal clue records: %w", err)
	}

	return verifier.ParseClues(plaintext)
}

func (s *HuntService) Leaderboard(ctx context.Context, huntID uint64) ([]leaderboard.Entry, error) {
	solves, err := s.Ledger.Solves(ctx, huntID)
	if err != nil {
		return nil, fmt.Errorf("failed to load solves: %w", err)
	}

	return leaderboard.Rank(solves), nil
}

// Timeline loads the team's hunt start and retries for every clue it
// solved plus the one it is working on, then rebuilds its history.
func (s *HuntService) Timeline(ctx context.Context, huntID uint64, team string) ([]timeline.Entry, error) {
	solves, err := s.Ledger.Solves(ctx, huntID)
	if err != nil {
		return nil, fmt.Errorf("failed to load solves: %w", err)
	}

	teamSolves, solvedClues := timeline.TeamSolves(solves, team)
	if len(teamSolves) == 0 {
		return []timeline.Entry{}, nil
	}

	last := slices.Max(solvedClues)
	retries := make([][]ledger.RetryAttestation, last+2) //nolint:mnd

	g, gctx := errgroup.WithContext(ctx)

	for clue := range uint64(len(retries)) {
		g.Go(func() error {
			found, err := s.Ledger.Retries(gctx, huntID, clue, team)
			if err != nil {
				return fmt.Errorf("failed to load retries for clue %d: %w", clue, err)
			}

			retries[clue] = found

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	retriesByClue := make(map[uint64][]ledger.RetryAttestation, len(retries))
	for clue, found := range retries[1:] {
		if len(found) > 0 {
			retriesByClue[uint64(clue)+1] = found
		}
	}

	return timeline.Reconstruct(teamSolves, solvedClues, retriesByClue, retries[ledger.HuntStartClue]), nil
}

func (s *HuntService) RecordSolve(ctx context.Context, solve ledger.SolveAttestation) error {
	return s.Ledger.AppendSolve(ctx, solve) //nolint:wrapcheck
}

func (s *HuntService) RecordRetry(ctx context.Context, retry ledger.RetryAttestation) error {
	return s.Ledger.AppendRetry(ctx, retry) //nolint:wrapcheck
}
