// Package store provides bbolt-based persistence for revstore.
// It keeps the branch tree, the append-only revision log with its per-branch
// index, and the commit log in a single embedded bbolt database file.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kilupskalvis/revstore/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the revision store.
var (
	bucketBranches    = []byte("branches")
	bucketRevisions   = []byte("revisions")      // storage key -> revision JSON
	bucketRevIndex    = []byte("revision_index") // branch\x00type\x00id\x00ts -> storage key
	bucketCommits     = []byte("commits")
	bucketCommitIndex = []byte("commit_index") // branch\x00ts -> commit id
	bucketCounters    = []byte("counters")
)

// Counter key names.
var counterClock = []byte("clock")

// DefaultCacheSize is the number of decoded revisions kept in memory.
const DefaultCacheSize = 4096

var (
	// ErrNotFound is returned for unknown branches, commits and documents.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a branch path is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrContention is returned when another writer holds the branch or has
	// committed since the expected head.
	ErrContention = errors.New("branch contention")
	// ErrEmptyCommit is returned for a commit without changes.
	ErrEmptyCommit = errors.New("nothing to commit")
)

// Options configures a Store.
type Options struct {
	CacheSize int
	Timeout   time.Duration
}

// Store represents the bbolt database store.
type Store struct {
	db    *bolt.DB
	cache *lru.Cache[string, *models.Revision]
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New opens or creates a bbolt database at the given path.
func New(dbPath string) (*Store, error) {
	return Open(dbPath, Options{})
}

// Open opens or creates a bbolt database with options.
func Open(dbPath string, opts Options) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = 1 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	cache, err := lru.New[string, *models.Revision](opts.CacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create revision cache: %w", err)
	}

	return &Store{
		db:    db,
		cache: cache,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Initialize creates all required buckets and the root branch.
func (s *Store) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketBranches,
			bucketRevisions,
			bucketRevIndex,
			bucketCommits,
			bucketCommitIndex,
			bucketCounters,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		if tx.Bucket(bucketBranches).Get([]byte(models.MainBranch)) != nil {
			return nil
		}
		ts, err := s.nextTimestamp(tx)
		if err != nil {
			return err
		}
		return putBranch(tx, &models.Branch{
			Path:          models.MainBranch,
			BaseTimestamp: ts,
			HeadTimestamp: ts,
			CreatedAt:     s.now(),
		})
	})
}

// nextTimestamp advances the store-global clock. Timestamps are milliseconds
// and strictly increasing, so points on different branches are comparable.
func (s *Store) nextTimestamp(tx *bolt.Tx) (int64, error) {
	b := tx.Bucket(bucketCounters)
	if b == nil {
		return 0, fmt.Errorf("counters bucket not found")
	}
	var last int64
	if v := b.Get(counterClock); v != nil {
		last = decodeTimestamp(v)
	}
	ts := s.now().UnixMilli()
	if ts <= last {
		ts = last + 1
	}
	return ts, b.Put(counterClock, encodeTimestamp(ts))
}

// Now returns the latest timestamp handed out by the clock.
func (s *Store) Now() (int64, error) {
	var ts int64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		if b == nil {
			return nil
		}
		if v := b.Get(counterClock); v != nil {
			ts = decodeTimestamp(v)
		}
		return nil
	})
	return ts, err
}

func encodeTimestamp(ts int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ts))
	return buf
}

func decodeTimestamp(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// indexPrefix returns branch\x00type\x00id\x00.
func indexPrefix(branch, typ, id string) []byte {
	key := make([]byte, 0, len(branch)+len(typ)+len(id)+3+8)
	key = append(key, branch...)
	key = append(key, 0)
	key = append(key, typ...)
	key = append(key, 0)
	key = append(key, id...)
	return append(key, 0)
}

func indexKey(prefix []byte, ts int64) []byte {
	key := make([]byte, 0, len(prefix)+8)
	key = append(key, prefix...)
	return append(key, encodeTimestamp(ts)...)
}

func branchPrefix(branch string) []byte {
	return append([]byte(branch), 0)
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}, what string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", what, err)
	}
	return b.Put(key, data)
}
