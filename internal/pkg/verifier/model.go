package verifier

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RecordID accepts both numeric and string ids on the wire and keeps them
// as their decimal/string form.
type RecordID string

func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '"' {
		var s string

		err := json.Unmarshal(data, &s)
		if err != nil {
			return fmt.Errorf("failed to decode record id: %w", err)
		}

		*id = RecordID(s)

		return nil
	}

	var n json.Number

	err := json.Unmarshal(data, &n)
	if err != nil {
		return fmt.Errorf("failed to decode record id: %w", err)
	}

	*id = RecordID(n.String())

	return nil
}

type Coordinates struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// CoordinateFields is the loose wire shape of a position: "long" or "lng",
// or a GeoJSON-ordered [lng, lat] pair under "location".
type CoordinateFields struct {
	Lat      *float64  `json:"lat,omitempty"`
	Long     *float64  `json:"long,omitempty"`
	Lng      *float64  `json:"lng,omitempty"`
	Location []float64 `json:"location,omitempty"`
}

func (f CoordinateFields) Coordinates() (Coordinates, bool) {
	if len(f.Location) == 2 { //nolint:mnd
		return Coordinates{Lat: f.Location[1], Long: f.Location[0]}, true
	}

	if f.Lat == nil {
		return Coordinates{}, false
	}

	switch {
	case f.Long != nil:
		return Coordinates{Lat: *f.Lat, Long: *f.Long}, true
	case f.Lng != nil:
		return Coordinates{Lat: *f.Lat, Long: *f.Lng}, true
	default:
		return Coordinates{}, false
	}
}

type AnswerRecord struct {
	ID        RecordID
	Answer    string
	Location  *Coordinates
	Embedding []float64
}

type answerRecordWire struct {
	ID        RecordID  `json:"id"`
	Answer    string    `json:"answer,omitempty"`
	Embedding []float64 `json:"embedding,omitempty"`

	CoordinateFields
}

func (r *AnswerRecord) UnmarshalJSON(data []byte) error {
	var wire answerRecordWire

	err := json.Unmarshal(data, &wire)
	if err != nil {
		return fmt.Errorf("failed to decode answer record: %w", err)
	}

	*r = AnswerRecord{
		ID:        wire.ID,
		Answer:    wire.Answer,
		Embedding: wire.Embedding,
	}

	if coordinates, ok := wire.Coordinates(); ok {
		r.Location = &coordinates
	}

	return nil
}

func (r AnswerRecord) MarshalJSON() ([]byte, error) {
	wire := answerRecordWire{
		ID:        r.ID,
		Answer:    r.Answer,
		Embedding: r.Embedding,
	}

	if r.Location != nil {
		lat, long := r.Location.Lat, r.Location.Long
		wire.Lat = &lat
		wire.Long = &long
	}

	//nolint:wrapcheck
	return json.Marshal(wire)
}

type ClueRecord struct {
	ID          RecordID `json:"id"`
	Description string   `json:"description"`
}

func ParseAnswers(plaintext []byte) ([]AnswerRecord, error) {
	var records []AnswerRecord

	err := json.Unmarshal(plaintext, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to parse answer records: %w", err)
	}

	return records, nil
}

func ParseClues(plaintext []byte) ([]ClueRecord, error) {
	var records []ClueRecord

	err := json.Unmarshal(plaintext, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to parse clue records: %w", err)
	}

	return records, nil
}

// FindRecord returns the first record with the given id.
func FindRecord(records []AnswerRecord, clueID string) (AnswerRecord, bool) {
	for _, record := range records {
		if string(record.ID) == clueID {
			return record, true
		}
	}

	return AnswerRecord{}, false
}
