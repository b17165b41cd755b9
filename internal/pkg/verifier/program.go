package verifier

import (
	"errors"
	"fmt"
)

type Algorithm string

const (
	AlgorithmGeoProximity    Algorithm = "geo-proximity/haversine-v1"
	AlgorithmImageSimilarity Algorithm = "image-similarity/cosine-v1"
)

var ErrUnknownAlgorithm = errors.New("unknown verification algorithm")

// Program is the portable form of a verification: it names a fixed
// algorithm and carries its parameters, so the node that holds the
// plaintext and a local caller evaluate it the same way.
type Program struct {
	Algorithm Algorithm `json:"algorithm"`
	ClueID    string    `json:"clue_id"`
	Threshold float64   `json:"threshold"`

	Location  *Coordinates `json:"location,omitempty"`
	Embedding []float64    `json:"embedding,omitempty"`
}

func NewLocationProgram(clueID string, claim Coordinates, threshold float64) (Program, error) {
	program := Program{
		Algorithm: AlgorithmGeoProximity,
		ClueID:    clueID,
		Threshold: threshold,
		Location:  &claim,
	}

	err := program.Validate()
	if err != nil {
		return Program{}, err
	}

	return program, nil
}

func NewImageProgram(clueID string, embedding []float64, threshold float64) (Program, error) {
	program := Program{
		Algorithm: AlgorithmImageSimilarity,
		ClueID:    clueID,
		Threshold: threshold,
		Embedding: embedding,
	}

	err := program.Validate()
	if err != nil {
		return Program{}, err
	}

	return program, nil
}

func (p Program) Validate() error {
	if len(p.ClueID) == 0 {
		return fmt.Errorf("%w: clue id is required", ErrValidation)
	}

	switch p.Algorithm {
	case AlgorithmGeoProximity:
		err := ValidateDistanceThreshold(p.Threshold)
		if err != nil {
			return err
		}

		if p.Location == nil {
			return fmt.Errorf("%w: location claim is required", ErrValidation)
		}

		return p.Location.Validate()
	case AlgorithmImageSimilarity:
		err := ValidateSimilarityThreshold(p.Threshold)
		if err != nil {
			return err
		}

		return ValidateEmbedding(p.Embedding)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, p.Algorithm)
	}
}

// Evaluate runs the program against a decrypted answer set.
func (p Program) Evaluate(plaintext []byte) (bool, error) {
	err := p.Validate()
	if err != nil {
		return false, err
	}

	records, err := ParseAnswers(plaintext)
	if err != nil {
		return false, err
	}

	switch p.Algorithm {
	case AlgorithmGeoProximity:
		return VerifyLocation(records, p.ClueID, *p.Location, p.Threshold), nil
	case AlgorithmImageSimilarity:
		return VerifyImage(records, p.ClueID, p.Embedding, p.Threshold), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, p.Algorithm)
	}
}
