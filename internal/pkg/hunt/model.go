package hunt

import (
	"encoding/json"

	"github.com/vreid/cluehunt/internal/pkg/ledger"
	"github.com/vreid/cluehunt/internal/pkg/threshold"
	"github.com/vreid/cluehunt/internal/pkg/verifier"
)

const (
	ClueBackendLocal     = "local"
	ClueBackendThreshold = "threshold"
)

type EncryptRequest struct {
	Clues   json.RawMessage `json:"clues"`
	Answers json.RawMessage `json:"answers"`
}

type EncryptedHunt struct {
	CluesHandle   string `json:"cluesHandle"`
	AnswersHandle string `json:"answersHandle"`
}

type VerifyLocationRequest struct {
	AnswersHandle string            `json:"answersHandle"`
	ClueID        verifier.RecordID `json:"clueId"`
	Threshold     *float64          `json:"threshold,omitempty"`

	verifier.CoordinateFields
}

type VerifyImageRequest struct {
	AnswersHandle string            `json:"answersHandle"`
	ClueID        verifier.RecordID `json:"clueId"`
	Embedding     []float64         `json:"embedding"`
	Threshold     *float64          `json:"threshold,omitempty"`
}

type VerifyResponse struct {
	Verified bool `json:"verified"`
}

// SolveSubmission is an attestation signed for by a configured attester.
// The server stamps the timestamp and id on receipt.
type SolveSubmission struct {
	Attestation ledger.SolveAttestation `json:"attestation"`
	Session     threshold.SessionSig    `json:"session"`
}

type RetrySubmission struct {
	Attestation ledger.RetryAttestation `json:"attestation"`
	Session     threshold.SessionSig    `json:"session"`
}
