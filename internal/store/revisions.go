package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/revstore/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Reader gives point-in-time lookups on one branch. Revisions it returns are
// shared and must not be modified; use Revision.Clone.
type Reader struct {
	store     *Store
	branch    string
	timestamp int64
	segments  []Segment
}

// Reader opens a point-in-time view of branch path. A zero timestamp reads
// at the branch head.
func (s *Store) Reader(path string, at int64) (*Reader, error) {
	r := &Reader{store: s, branch: path}
	err := s.db.View(func(tx *bolt.Tx) error {
		if at == 0 {
			branch, err := getBranch(tx, path)
			if err != nil {
				return err
			}
			at = branch.HeadTimestamp
		}
		segs, err := lineage(tx, path, at)
		if err != nil {
			return err
		}
		r.timestamp = at
		r.segments = segs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Branch returns the branch the reader is bound to.
func (r *Reader) Branch() string { return r.branch }

// Timestamp returns the point in time the reader sees.
func (r *Reader) Timestamp() int64 { return r.timestamp }

// Segments returns the lineage the reader walks.
func (r *Reader) Segments() []Segment { return r.segments }

// Get returns the visible revision of a document, or nil when the document
// does not exist at this point.
func (r *Reader) Get(id models.ObjectID) (*models.Revision, error) {
	var rev *models.Revision
	err := r.store.db.View(func(tx *bolt.Tx) error {
		var err error
		rev, err = r.store.visible(tx, r.segments, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

// GetMany returns the visible revisions of the given ids of one type, keyed
// by id. Missing documents are absent from the map.
func (r *Reader) GetMany(typ string, ids []string) (map[string]*models.Revision, error) {
	out := make(map[string]*models.Revision, len(ids))
	err := r.store.db.View(func(tx *bolt.Tx) error {
		for _, id := range ids {
			rev, err := r.store.visible(tx, r.segments, models.ObjectID{Type: typ, ID: id})
			if err != nil {
				return err
			}
			if rev != nil {
				out[id] = rev
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// visible walks the lineage from the branch towards the root and returns the
// first revision found at or before each segment's cutoff. Each level costs
// one index seek.
func (s *Store) visible(tx *bolt.Tx, segs []Segment, id models.ObjectID) (*models.Revision, error) {
	for _, seg := range segs {
		key := latestKey(tx, seg, id)
		if key == nil {
			continue
		}
		rev, err := s.loadRevision(tx, key)
		if err != nil {
			return nil, err
		}
		if rev.Deleted {
			return nil, nil
		}
		return rev, nil
	}
	return nil, nil
}

func latestKey(tx *bolt.Tx, seg Segment, id models.ObjectID) []byte {
	prefix := indexPrefix(seg.Branch, id.Type, id.ID)
	c := tx.Bucket(bucketRevIndex).Cursor()

	k, v := c.Seek(indexKey(prefix, seg.Cutoff+1))
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	if k == nil || len(k) != len(prefix)+8 || !bytes.HasPrefix(k, prefix) {
		return nil
	}
	return v
}

func (s *Store) loadRevision(tx *bolt.Tx, storageKey []byte) (*models.Revision, error) {
	if rev, ok := s.cache.Get(string(storageKey)); ok {
		return rev, nil
	}
	data := tx.Bucket(bucketRevisions).Get(storageKey)
	if data == nil {
		return nil, fmt.Errorf("revision %s: %w", storageKey, ErrNotFound)
	}
	var rev models.Revision
	if err := json.Unmarshal(data, &rev); err != nil {
		return nil, fmt.Errorf("unmarshal revision: %w", err)
	}
	s.cache.Add(rev.StorageKey, &rev)
	return &rev, nil
}

// GetRevision loads a revision by storage key.
func (s *Store) GetRevision(storageKey string) (*models.Revision, error) {
	var rev *models.Revision
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rev, err = s.loadRevision(tx, []byte(storageKey))
		return err
	})
	return rev, err
}

// History returns every revision of a document committed on one branch,
// oldest first.
func (s *Store) History(branch string, id models.ObjectID) ([]*models.Revision, error) {
	var revs []*models.Revision
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := indexPrefix(branch, id.Type, id.ID)
		c := tx.Bucket(bucketRevIndex).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if len(k) != len(prefix)+8 {
				continue
			}
			rev, err := s.loadRevision(tx, v)
			if err != nil {
				return err
			}
			revs = append(revs, rev)
		}
		return nil
	})
	return revs, err
}
