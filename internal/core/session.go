package core

import (
	"context"

	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/kilupskalvis/revstore/internal/schema"
)

// Session is an editing session on one branch. Edits accumulate in a
// pending log that is replayed into a fresh staging area on every commit
// attempt and cleared only once a commit succeeds.
type Session struct {
	branch      string
	schema      *schema.Schema
	coordinator *Coordinator
	pending     []models.Operation
}

// NewSession opens an editing session on branch.
func NewSession(coordinator *Coordinator, s *schema.Schema, branch string) *Session {
	return &Session{branch: branch, schema: s, coordinator: coordinator}
}

// Branch returns the edited branch.
func (s *Session) Branch() string { return s.branch }

// Add appends operations to the pending log.
func (s *Session) Add(ops ...models.Operation) {
	s.pending = append(s.pending, ops...)
}

// Create queues the creation of a document.
func (s *Session) Create(id models.ObjectID, container *models.ObjectID, props map[string]interface{}, refs map[string][]string) {
	s.Add(models.Operation{Type: models.OperationCreate, Object: id, Container: container, Properties: props, References: refs})
}

// Update queues property and reference changes to a document.
func (s *Session) Update(id models.ObjectID, props map[string]interface{}, refs map[string][]string) {
	s.Add(models.Operation{Type: models.OperationUpdate, Object: id, Properties: props, References: refs})
}

// Delete queues the removal of a document and everything it contains.
func (s *Session) Delete(id models.ObjectID) {
	s.Add(models.Operation{Type: models.OperationDelete, Object: id})
}

// Pending returns a copy of the pending log.
func (s *Session) Pending() []models.Operation {
	return append([]models.Operation(nil), s.pending...)
}

// Discard drops the pending log.
func (s *Session) Discard() {
	s.pending = nil
}

// Commit replays the pending log and commits it.
func (s *Session) Commit(ctx context.Context, author, comment string) (*CommitOutcome, error) {
	ops := s.Pending()
	out, err := s.coordinator.Commit(ctx, CommitRequest{
		Branch:  s.branch,
		Author:  author,
		Comment: comment,
		Apply: func(ctx context.Context, sa *StagingArea) error {
			return ApplyOperations(sa, s.schema, ops)
		},
	})
	if err != nil {
		return out, err
	}
	s.pending = nil
	return out, nil
}

// Load reads documents at the branch head, for display after a commit.
func (s *Session) Load(ids ...models.ObjectID) ([]*models.Revision, error) {
	r, err := s.coordinator.Store().Reader(s.branch, 0)
	if err != nil {
		return nil, err
	}
	revs := make([]*models.Revision, 0, len(ids))
	for _, id := range ids {
		rev, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		if rev != nil {
			revs = append(revs, rev)
		}
	}
	return revs, nil
}
