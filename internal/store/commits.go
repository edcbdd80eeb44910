package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kilupskalvis/revstore/internal/models"
	bolt "go.etcd.io/bbolt"
)

// CommitRequest is one atomic batch of changes to a branch.
type CommitRequest struct {
	Branch       string
	ExpectedHead int64 // the head the changes were staged against
	Author       string
	Comment      string
	Puts         []*models.Revision // new content for created and changed documents
	Removes      []models.ObjectID

	MergeSource     string // source branch when the commit realizes a merge
	MergeSourceHead int64
}

// Commit writes the request atomically: every revision becomes visible at
// the same timestamp or none does. It fails with ErrContention when another
// writer holds the branch or the branch head is no longer ExpectedHead.
func (s *Store) Commit(ctx context.Context, req CommitRequest) (*models.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Puts) == 0 && len(req.Removes) == 0 && req.MergeSource == "" {
		return nil, ErrEmptyCommit
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	unlock, ok := s.tryLock(req.Branch)
	if !ok {
		return nil, fmt.Errorf("branch %s is locked by another writer: %w", req.Branch, ErrContention)
	}
	defer unlock()

	var commit *models.Commit
	var written []*models.Revision

	err := s.db.Update(func(tx *bolt.Tx) error {
		branch, err := getBranch(tx, req.Branch)
		if err != nil {
			return err
		}
		if branch.HeadTimestamp != req.ExpectedHead {
			return fmt.Errorf("branch %s moved from %d to %d: %w", req.Branch, req.ExpectedHead, branch.HeadTimestamp, ErrContention)
		}

		segs, err := lineage(tx, req.Branch, branch.HeadTimestamp)
		if err != nil {
			return err
		}
		ts, err := s.nextTimestamp(tx)
		if err != nil {
			return err
		}

		commit = &models.Commit{
			ID:          uuid.NewString(),
			Branch:      req.Branch,
			Timestamp:   ts,
			Author:      req.Author,
			Comment:     req.Comment,
			CreatedAt:   s.now(),
			MergeSource: req.MergeSource,
		}

		for _, put := range req.Puts {
			id := put.ObjectID()
			current, err := s.visible(tx, segs, id)
			if err != nil {
				return err
			}
			if current == nil {
				commit.Added = append(commit.Added, id)
			} else {
				commit.Changed = append(commit.Changed, id)
			}
			rev := put.Clone()
			if err := s.writeRevision(tx, rev, req.Branch, ts); err != nil {
				return err
			}
			written = append(written, rev)
		}

		for _, id := range req.Removes {
			current, err := s.visible(tx, segs, id)
			if err != nil {
				return err
			}
			if current == nil {
				return fmt.Errorf("remove %s: %w", id, ErrNotFound)
			}
			commit.Removed = append(commit.Removed, id)
			rev := &models.Revision{
				ID:        id.ID,
				Type:      id.Type,
				Container: current.Container,
				Deleted:   true,
			}
			if err := s.writeRevision(tx, rev, req.Branch, ts); err != nil {
				return err
			}
			written = append(written, rev)
		}

		if err := putJSON(tx.Bucket(bucketCommits), []byte(commit.ID), commit, "commit"); err != nil {
			return err
		}
		if err := tx.Bucket(bucketCommitIndex).Put(indexKey(branchPrefix(req.Branch), ts), []byte(commit.ID)); err != nil {
			return err
		}

		branch.HeadTimestamp = ts
		if req.MergeSource != "" {
			if branch.MergeSources == nil {
				branch.MergeSources = make(map[string]models.MergeRecord)
			}
			branch.MergeSources[req.MergeSource] = models.MergeRecord{
				SourceTimestamp: req.MergeSourceHead,
				TargetTimestamp: ts,
			}
		}
		return putBranch(tx, branch)
	})
	if err != nil {
		return nil, err
	}

	for _, rev := range written {
		s.cache.Add(rev.StorageKey, rev)
	}
	return commit, nil
}

func (s *Store) writeRevision(tx *bolt.Tx, rev *models.Revision, branch string, ts int64) error {
	rev.BranchPath = branch
	rev.CommitTimestamp = ts
	rev.StorageKey = uuid.NewString()

	if err := putJSON(tx.Bucket(bucketRevisions), []byte(rev.StorageKey), rev, "revision"); err != nil {
		return err
	}
	key := indexKey(indexPrefix(branch, rev.Type, rev.ID), ts)
	return tx.Bucket(bucketRevIndex).Put(key, []byte(rev.StorageKey))
}

func validateRequest(req CommitRequest) error {
	seen := make(map[models.ObjectID]bool, len(req.Puts)+len(req.Removes))
	check := func(id models.ObjectID) error {
		if id.Type == "" || id.ID == "" {
			return fmt.Errorf("invalid object id %q", id)
		}
		if strings.ContainsRune(id.Type, 0) || strings.ContainsRune(id.ID, 0) || strings.Contains(id.Type, "/") {
			return fmt.Errorf("invalid object id %q", id)
		}
		if seen[id] {
			return fmt.Errorf("%s appears more than once in the commit", id)
		}
		seen[id] = true
		return nil
	}
	for _, rev := range req.Puts {
		if rev == nil || rev.Deleted {
			return fmt.Errorf("commit puts must be live revisions")
		}
		if err := check(rev.ObjectID()); err != nil {
			return err
		}
	}
	for _, id := range req.Removes {
		if err := check(id); err != nil {
			return err
		}
	}
	return nil
}

// GetCommit retrieves a commit by ID.
func (s *Store) GetCommit(id string) (*models.Commit, error) {
	var commit *models.Commit
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCommits).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("commit %s: %w", id, ErrNotFound)
		}
		commit = &models.Commit{}
		return json.Unmarshal(data, commit)
	})
	if err != nil {
		return nil, err
	}
	return commit, nil
}

// GetCommitByShortID retrieves a commit by a unique ID prefix.
func (s *Store) GetCommitByShortID(shortID string) (*models.Commit, error) {
	var commit *models.Commit
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCommits).Cursor()
		prefix := []byte(shortID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if commit != nil {
				return fmt.Errorf("ambiguous commit id %s", shortID)
			}
			commit = &models.Commit{}
			if err := json.Unmarshal(v, commit); err != nil {
				return fmt.Errorf("unmarshal commit: %w", err)
			}
		}
		if commit == nil {
			return fmt.Errorf("commit %s: %w", shortID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commit, nil
}

// Log returns the commits of a branch, newest first. A limit of 0 returns all.
func (s *Store) Log(branch string, limit int) ([]*models.Commit, error) {
	var commits []*models.Commit
	err := s.db.View(func(tx *bolt.Tx) error {
		if _, err := getBranch(tx, branch); err != nil {
			return err
		}
		prefix := branchPrefix(branch)
		end := append([]byte(branch), 1)
		c := tx.Bucket(bucketCommitIndex).Cursor()

		k, v := c.Seek(end)
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			commit, err := readCommit(tx, v)
			if err != nil {
				return err
			}
			commits = append(commits, commit)
			if limit > 0 && len(commits) >= limit {
				break
			}
		}
		return nil
	})
	return commits, err
}

// TouchedIDs returns the ids committed on branch in the interval (after, upTo].
// The change-set diff uses it to avoid scanning branch content.
func (s *Store) TouchedIDs(branch string, after, upTo int64) ([]models.ObjectID, error) {
	var ids []models.ObjectID
	seen := make(map[models.ObjectID]bool)
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := branchPrefix(branch)
		c := tx.Bucket(bucketCommitIndex).Cursor()
		for k, v := c.Seek(indexKey(prefix, after+1)); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if decodeTimestamp(k[len(prefix):]) > upTo {
				break
			}
			commit, err := readCommit(tx, v)
			if err != nil {
				return err
			}
			for _, id := range commit.Touched() {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	models.SortObjectIDs(ids)
	return ids, nil
}

func readCommit(tx *bolt.Tx, id []byte) (*models.Commit, error) {
	data := tx.Bucket(bucketCommits).Get(id)
	if data == nil {
		return nil, fmt.Errorf("commit %s: %w", id, ErrNotFound)
	}
	var commit models.Commit
	if err := json.Unmarshal(data, &commit); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	return &commit, nil
}
