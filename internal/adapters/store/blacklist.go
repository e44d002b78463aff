package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
)

var blacklistBucket = []byte("blacklist")

// BoltBlacklist persists blacklist entries in a bbolt file so they survive
// restarts of an in-memory deployment.
type BoltBlacklist struct {
	db   *bolt.DB
	path string
}

var _ ports.BlacklistStore = (*BoltBlacklist)(nil)

func OpenBoltBlacklist(path string) (*BoltBlacklist, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{NoGrowSync: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blacklistBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	var count int
	db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(blacklistBucket).Stats().KeyN
		return nil
	})
	log.Info().Str("db_path", path).Int("entries", count).Msg("Blacklist store opened")

	return &BoltBlacklist{db: db, path: path}, nil
}

func (b *BoltBlacklist) Put(originID string, entry domain.BlacklistEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blacklistBucket).Put([]byte(originID), data)
	})
}

func (b *BoltBlacklist) Delete(originID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blacklistBucket).Delete([]byte(originID))
	})
}

func (b *BoltBlacklist) All() (map[string]domain.BlacklistEntry, error) {
	out := make(map[string]domain.BlacklistEntry)
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(blacklistBucket).ForEach(func(k, v []byte) error {
			var e domain.BlacklistEntry
			if err := json.Unmarshal(v, &e); err != nil {
				log.Warn().Str("origin", string(k)).Err(err).Msg("Skipping corrupt blacklist entry")
				return nil
			}
			out[string(k)] = e
			return nil
		})
	})
	return out, err
}

func (b *BoltBlacklist) Close() error {
	return b.db.Close()
}
