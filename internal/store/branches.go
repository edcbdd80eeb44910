package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kilupskalvis/revstore/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BranchOptions configures a new branch.
type BranchOptions struct {
	ExtensionOf string // path of the branch this one extends
}

// CreateBranch creates parentPath/name based on the parent's current head.
func (s *Store) CreateBranch(parentPath, name string, opts BranchOptions) (*models.Branch, error) {
	if !models.ValidBranchName(name) {
		return nil, fmt.Errorf("invalid branch name %q", name)
	}
	path := models.ChildPath(parentPath, name)

	var branch *models.Branch
	err := s.db.Update(func(tx *bolt.Tx) error {
		parent, err := getBranch(tx, parentPath)
		if err != nil {
			return err
		}
		if tx.Bucket(bucketBranches).Get([]byte(path)) != nil {
			return fmt.Errorf("branch %s: %w", path, ErrAlreadyExists)
		}
		if opts.ExtensionOf != "" {
			if _, err := getBranch(tx, opts.ExtensionOf); err != nil {
				return fmt.Errorf("extension of: %w", err)
			}
		}

		branch = &models.Branch{
			Path:          path,
			ParentPath:    parent.Path,
			BaseTimestamp: parent.HeadTimestamp,
			HeadTimestamp: parent.HeadTimestamp,
			ExtensionOf:   opts.ExtensionOf,
			CreatedAt:     s.now(),
		}
		return putBranch(tx, branch)
	})
	if err != nil {
		return nil, err
	}
	return branch, nil
}

// GetBranch retrieves a branch by path.
func (s *Store) GetBranch(path string) (*models.Branch, error) {
	var branch *models.Branch
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		branch, err = getBranch(tx, path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return branch, nil
}

// ListBranches returns all branches sorted by path.
func (s *Store) ListBranches() ([]*models.Branch, error) {
	var branches []*models.Branch

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketBranches)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var branch models.Branch
			if err := json.Unmarshal(v, &branch); err != nil {
				return fmt.Errorf("unmarshal branch: %w", err)
			}
			branches = append(branches, &branch)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(branches, func(i, j int) bool {
		return branches[i].Path < branches[j].Path
	})

	return branches, nil
}

// DeleteBranch removes a leaf branch and its index entries. Revisions stay in
// the append-only log. Merge records naming the branch are dropped so a branch
// later created at the same path starts without history.
func (s *Store) DeleteBranch(path string) error {
	if path == models.MainBranch {
		return fmt.Errorf("cannot delete %s", models.MainBranch)
	}
	unlock, ok := s.tryLock(path)
	if !ok {
		return fmt.Errorf("branch %s is locked: %w", path, ErrContention)
	}
	defer unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := getBranch(tx, path); err != nil {
			return err
		}

		childPrefix := []byte(path + "/")
		c := tx.Bucket(bucketBranches).Cursor()
		if k, _ := c.Seek(childPrefix); k != nil && bytes.HasPrefix(k, childPrefix) {
			return fmt.Errorf("branch %s has child branches", path)
		}
		if err := forgetBranch(tx, path); err != nil {
			return err
		}

		for _, name := range [][]byte{bucketRevIndex, bucketCommitIndex} {
			if err := deletePrefix(tx.Bucket(name), branchPrefix(path)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketBranches).Delete([]byte(path))
	})
}

// forgetBranch drops the merge records other branches keep for path. A branch
// that extends path blocks the delete.
func forgetBranch(tx *bolt.Tx, path string) error {
	var stale []*models.Branch
	err := tx.Bucket(bucketBranches).ForEach(func(k, v []byte) error {
		var branch models.Branch
		if err := json.Unmarshal(v, &branch); err != nil {
			return fmt.Errorf("unmarshal branch: %w", err)
		}
		if branch.Path == path {
			return nil
		}
		if branch.ExtensionOf == path {
			return fmt.Errorf("branch %s is extended by %s", path, branch.Path)
		}
		if _, ok := branch.MergeSources[path]; ok {
			delete(branch.MergeSources, path)
			stale = append(stale, &branch)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, branch := range stale {
		if err := putBranch(tx, branch); err != nil {
			return err
		}
	}
	return nil
}

func deletePrefix(b *bolt.Bucket, prefix []byte) error {
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Seek(prefix) {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

func getBranch(tx *bolt.Tx, path string) (*models.Branch, error) {
	bucket := tx.Bucket(bucketBranches)
	if bucket == nil {
		return nil, fmt.Errorf("branches bucket not found")
	}
	data := bucket.Get([]byte(path))
	if data == nil {
		return nil, fmt.Errorf("branch %s: %w", path, ErrNotFound)
	}
	var branch models.Branch
	if err := json.Unmarshal(data, &branch); err != nil {
		return nil, fmt.Errorf("unmarshal branch: %w", err)
	}
	return &branch, nil
}

func putBranch(tx *bolt.Tx, branch *models.Branch) error {
	bucket := tx.Bucket(bucketBranches)
	if bucket == nil {
		return fmt.Errorf("branches bucket not found")
	}
	return putJSON(bucket, []byte(branch.Path), branch, "branch")
}

// Segment is one level of a branch lineage: content committed on Branch at
// or before Cutoff is visible.
type Segment struct {
	Branch string
	Cutoff int64
}

// Lineage returns the segments visible from branch path at timestamp at,
// starting with the branch itself and ending at the root.
func (s *Store) Lineage(path string, at int64) ([]Segment, error) {
	var segs []Segment
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		segs, err = lineage(tx, path, at)
		return err
	})
	return segs, err
}

func lineage(tx *bolt.Tx, path string, at int64) ([]Segment, error) {
	branch, err := getBranch(tx, path)
	if err != nil {
		return nil, err
	}
	segs := []Segment{{Branch: path, Cutoff: at}}
	cutoff := at
	for !branch.IsRoot() {
		if branch.BaseTimestamp < cutoff {
			cutoff = branch.BaseTimestamp
		}
		parent, err := getBranch(tx, branch.ParentPath)
		if err != nil {
			return nil, fmt.Errorf("parent of %s: %w", branch.Path, err)
		}
		segs = append(segs, Segment{Branch: parent.Path, Cutoff: cutoff})
		branch = parent
	}
	return segs, nil
}

// IsAncestor reports whether ancestor is path itself or one of its parents.
func IsAncestor(ancestor, path string) bool {
	return ancestor == path || strings.HasPrefix(path, ancestor+"/")
}

// tryLock takes the per-branch write lock without waiting.
func (s *Store) tryLock(path string) (func(), bool) {
	s.mu.Lock()
	m, ok := s.locks[path]
	if !ok {
		m = &sync.Mutex{}
		s.locks[path] = m
	}
	s.mu.Unlock()

	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}

// LockBranch holds the branch write lock until the returned function is
// called. Commits to the branch fail with ErrContention meanwhile.
func (s *Store) LockBranch(path string) (func(), error) {
	unlock, ok := s.tryLock(path)
	if !ok {
		return nil, fmt.Errorf("branch %s is locked: %w", path, ErrContention)
	}
	return unlock, nil
}
