package node

import (
	"errors"
	"fmt"

	"github.com/vreid/cluehunt/internal/pkg/common"
	"go.etcd.io/bbolt"
)

var ErrKeysBucketNotFound = errors.New("node keys bucket doesn't exist")

const (
	keyIndex           = "index"
	keyThreshold       = "threshold"
	keyShare           = "share"
	keyMasterPublicKey = "master-public-key"
)

// ResolveKeyMaterial persists key material given on the command line and
// fills in whatever was omitted from what an earlier run stored.
func ResolveKeyMaterial(databaseService *common.DatabaseService, cfg Config) (Config, error) {
	err := databaseService.DB.Update(func(tx *bbolt.Tx) error {
		keys := tx.Bucket([]byte(common.NodeKeysBucket))
		if keys == nil {
			return ErrKeysBucketNotFound
		}

		if len(cfg.Share) > 0 {
			for key, value := range map[string][]byte{
				keyIndex:           common.Int64ToBytes(int64(cfg.Index)),
				keyThreshold:       common.Int64ToBytes(int64(cfg.Threshold)),
				keyShare:           []byte(cfg.Share),
				keyMasterPublicKey: []byte(cfg.MasterPublicKey),
			} {
				err := keys.Put([]byte(key), value)
				if err != nil {
					return fmt.Errorf("failed to put %s: %w", key, err)
				}
			}

			return nil
		}

		cfg.Share = string(keys.Get([]byte(keyShare)))

		if cfg.Index == 0 {
			cfg.Index = int(common.BytesToInt64(keys.Get([]byte(keyIndex)), 0))
		}

		if cfg.Threshold == 0 {
			cfg.Threshold = int(common.BytesToInt64(keys.Get([]byte(keyThreshold)), 0))
		}

		if len(cfg.MasterPublicKey) == 0 {
			cfg.MasterPublicKey = string(keys.Get([]byte(keyMasterPublicKey)))
		}

		return nil
	})
	if err != nil {
		return cfg, fmt.Errorf("failed to resolve node key material: %w", err)
	}

	if len(cfg.Share) == 0 {
		return cfg, fmt.Errorf("%w: no key share configured or stored", common.ErrConfiguration)
	}

	return cfg, nil
}
