package threshold

import "github.com/vreid/cluehunt/internal/pkg/verifier"

// EncryptedBlob is immutable once created; the capsule and the conditions
// together let a quorum of nodes re-derive its key.
type EncryptedBlob struct {
	Ciphertext              string                  `json:"ciphertext"`
	DataHash                string                  `json:"dataToEncryptHash"`
	AccessControlConditions AccessControlConditions `json:"accessControlConditions"`
	Capsule                 string                  `json:"capsule"`
}

type NodeInfo struct {
	Index           int    `json:"index"`
	Threshold       int    `json:"threshold"`
	MasterPublicKey string `json:"master_public_key"`
	PublicShare     string `json:"public_share"`
}

type ShareRequest struct {
	Session    SessionSig              `json:"session"`
	Conditions AccessControlConditions `json:"conditions"`
	DataHash   string                  `json:"data_hash"`
}

type ShareResponse struct {
	Index int    `json:"index"`
	Share string `json:"share"`
}

type ExecuteRequest struct {
	Session SessionSig       `json:"session"`
	Blob    EncryptedBlob    `json:"blob"`
	Program verifier.Program `json:"program"`
}

type ExecuteResponse struct {
	Verified bool `json:"verified"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// KeyManifest is what the keygen command prints: one entry per node.
type KeyManifest struct {
	Threshold       int            `json:"threshold"`
	MasterPublicKey string         `json:"master_public_key"`
	Nodes           []NodeKeyEntry `json:"nodes"`
}

type NodeKeyEntry struct {
	Index       int    `json:"index"`
	Share       string `json:"share"`
	PublicShare string `json:"public_share"`
}

func (g *KeyGeneration) Manifest() KeyManifest {
	manifest := KeyManifest{
		Threshold:       g.Threshold,
		MasterPublicKey: EncodeG2(g.MasterPublicKey),
		Nodes:           make([]NodeKeyEntry, 0, len(g.Shares)),
	}

	for idx, share := range g.Shares {
		manifest.Nodes = append(manifest.Nodes, NodeKeyEntry{
			Index:       share.Index,
			Share:       EncodeScalar(share.Value),
			PublicShare: EncodeG2(g.PublicShares[idx]),
		})
	}

	return manifest
}
