package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// HuntStartClue is the clue index of the sentinel retry that marks when a
// team began a hunt.
const HuntStartClue = 0

// SolveAttestation records a team solving one clue. TimeTaken is in
// seconds, AttestTimestamp in milliseconds.
type SolveAttestation struct {
	TeamIdentifier    string `json:"teamIdentifier"`
	HuntID            uint64 `json:"huntId"`
	ClueIndex         uint64 `json:"clueIndex"`
	TeamLeaderAddress string `json:"teamLeaderAddress"`
	SolverAddress     string `json:"solverAddress"`
	TimeTaken         int64  `json:"timeTaken"`
	AttemptCount      int64  `json:"attemptCount"`
	AttestTimestamp   int64  `json:"attestTimestamp"`
	AttestationID     string `json:"attestationId"`
}

// RetryAttestation records a failed attempt, or the hunt start when
// ClueIndex is HuntStartClue.
type RetryAttestation struct {
	TeamIdentifier  string `json:"teamIdentifier"`
	HuntID          uint64 `json:"huntId"`
	ClueIndex       uint64 `json:"clueIndex"`
	SolverAddress   string `json:"solverAddress"`
	AttemptCount    int64  `json:"attemptCount"`
	AttestTimestamp int64  `json:"attestTimestamp"`
	AttestationID   string `json:"attestationId"`
}

// NormalizeTeam lowercases address-shaped identifiers so the same wallet
// always maps to the same index key.
func NormalizeTeam(team string) string {
	team = strings.TrimSpace(team)

	if common.IsHexAddress(team) {
		return strings.ToLower(team)
	}

	return team
}

func HuntIndexKey(namespace string, huntID uint64) string {
	return fmt.Sprintf("%s-hunt-%d", namespace, huntID)
}

func TeamClueIndexKey(namespace string, huntID, clueIndex uint64, team string) string {
	return fmt.Sprintf("%s-hunt-%d-clue-%d-team-%s", namespace, huntID, clueIndex, NormalizeTeam(team))
}

type solveKey struct {
	team string
	clue uint64
}

// DedupeSolves keeps the first appended attestation per (team, clue).
// Later entries for the same pair are ignored whatever their timestamp, so
// a recorded solve can never be displaced. Output order follows the first
// appearance of each pair.
func DedupeSolves(solves []SolveAttestation) []SolveAttestation {
	seen := make(map[solveKey]struct{}, len(solves))
	result := make([]SolveAttestation, 0, len(solves))

	for _, solve := range solves {
		key := solveKey{team: NormalizeTeam(solve.TeamIdentifier), clue: solve.ClueIndex}

		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		result = append(result, solve)
	}

	return result
}
