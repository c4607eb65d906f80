// Package checkpointcache gives the host's last emitted checkpoint a
// local, crash-surviving home. It is advisory, not authoritative: the
// log's own committed offset (e.g. the Kafka consumer group's committed
// position) is always the source of truth for where a restart resumes.
// This cache exists so an operational surface — the /healthz check —
// can report "last offset processed" without a round trip to the log
// broker.
package checkpointcache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var checkpointBucket = []byte("checkpoints")

// entry is the serialized form written to bbolt.
type entry struct {
	Offset    int64 `json:"offset"`
	UpdatedAt int64 `json:"updated_at"`
}

// Store persists the last checkpoint offset seen for each partition key
// (e.g. "topic/partition") in a bbolt database.
type Store struct {
	db     *bbolt.DB
	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if necessary) a bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("checkpointcache: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpointcache: create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Put records offset as the last checkpoint seen for key. Safe to call
// on every checkpoint emission: writes are cheap, single-key bbolt
// updates.
func (s *Store) Put(key string, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("checkpointcache: store is closed")
	}

	data, err := json.Marshal(entry{Offset: offset, UpdatedAt: nowUnix()})
	if err != nil {
		return fmt.Errorf("checkpointcache: marshal entry: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(checkpointBucket).Put([]byte(key), data)
	})
}

// Get returns the last checkpoint offset recorded for key, and whether
// one was found.
func (s *Store) Get(key string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, false, fmt.Errorf("checkpointcache: store is closed")
	}

	var e entry
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(checkpointBucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return 0, false, fmt.Errorf("checkpointcache: get %s: %w", key, err)
	}
	return e.Offset, found, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// nowUnix is its own function so tests (which may not drive a real
// clock) can see where timestamps originate.
func nowUnix() int64 {
	return time.Now().Unix()
}
