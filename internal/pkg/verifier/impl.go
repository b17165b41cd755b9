package verifier

import (
	"errors"
	"fmt"
	"math"
)

const (
	EarthRadius = 6378137.0

	DefaultDistanceThreshold   = 60.0
	DefaultSimilarityThreshold = 0.7
)

var ErrValidation = errors.New("invalid verification input")

func (c Coordinates) Validate() error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Long) || math.IsInf(c.Long, 0) {
		return fmt.Errorf("%w: coordinates must be finite numbers", ErrValidation)
	}

	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrValidation, c.Lat)
	}

	if c.Long < -180 || c.Long > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrValidation, c.Long)
	}

	return nil
}

// ValidateDistanceThreshold accepts any finite, non-negative radius in
// meters. Zero demands an exact match.
func ValidateDistanceThreshold(threshold float64) error {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold < 0 {
		return fmt.Errorf("%w: distance threshold %f must be a finite non-negative number", ErrValidation, threshold)
	}

	return nil
}

// ValidateSimilarityThreshold accepts thresholds in [0, 1].
func ValidateSimilarityThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: similarity threshold %f outside [0, 1]", ErrValidation, threshold)
	}

	return nil
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0 //nolint:mnd
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Coordinates) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLong := toRadians(b.Long - a.Long)

	sinLat := math.Sin(dLat / 2)
	sinLong := math.Sin(dLong / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLong*sinLong

	return 2 * EarthRadius * math.Asin(math.Sqrt(math.Min(1, h)))
}

func VerifyLocation(records []AnswerRecord, clueID string, claim Coordinates, threshold float64) bool {
	record, ok := FindRecord(records, clueID)
	if !ok || record.Location == nil {
		return false
	}

	return Haversine(claim, *record.Location) <= threshold
}

func ValidateEmbedding(embedding []float64) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding is empty", ErrValidation)
	}

	for idx, v := range embedding {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: embedding component %d is not finite", ErrValidation, idx)
		}
	}

	return nil
}

// CosineSimilarity is 0 for vectors of different length or zero norm.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64

	for idx := range a {
		dot += a[idx] * b[idx]
		normA += a[idx] * a[idx]
		normB += b[idx] * b[idx]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func VerifyImage(records []AnswerRecord, clueID string, embedding []float64, threshold float64) bool {
	record, ok := FindRecord(records, clueID)
	if !ok || len(record.Embedding) == 0 || len(record.Embedding) != len(embedding) {
		return false
	}

	return CosineSimilarity(embedding, record.Embedding) >= threshold
}
