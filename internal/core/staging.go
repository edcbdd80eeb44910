// Package core implements the branch/merge engine of revstore: change-set
// computation, conflict detection and rules, donation filtering, the commit
// integrity checker and the optimistic commit coordinator.
package core

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/kilupskalvis/revstore/internal/store"
)

// View is a read-only point-in-time lookup of documents.
type View interface {
	Get(id models.ObjectID) (*models.Revision, error)
}

// ReadScope gives merge rules read access to both sides of a merge without
// handing out the staging area itself.
type ReadScope interface {
	// Read sees the target branch with the merge applied so far.
	Read(fn func(View) error) error
	// ReadFromMergeSource sees the source branch head.
	ReadFromMergeSource(fn func(View) error) error
}

// StagingArea collects pending creates, updates and deletes for one branch.
// It is owned by a single operation and discarded after commit or rollback.
type StagingArea struct {
	store  *store.Store
	branch string
	reader *store.Reader

	staged  map[models.ObjectID]*models.Revision
	removed map[models.ObjectID]bool
	clean   map[models.ObjectID]*models.Revision

	source  *store.Reader
	revised map[models.ObjectID]bool
}

// NewStagingArea opens a staging area on the current head of branch.
func NewStagingArea(st *store.Store, branch string) (*StagingArea, error) {
	reader, err := st.Reader(branch, 0)
	if err != nil {
		return nil, err
	}
	return &StagingArea{
		store:   st,
		branch:  branch,
		reader:  reader,
		staged:  make(map[models.ObjectID]*models.Revision),
		removed: make(map[models.ObjectID]bool),
		clean:   make(map[models.ObjectID]*models.Revision),
		revised: make(map[models.ObjectID]bool),
	}, nil
}

// Branch returns the branch being staged.
func (sa *StagingArea) Branch() string { return sa.branch }

// Head returns the branch head the staging area was opened on.
func (sa *StagingArea) Head() int64 { return sa.reader.Timestamp() }

// Get returns the staged state of a document, falling through to the store.
func (sa *StagingArea) Get(id models.ObjectID) (*models.Revision, error) {
	if sa.removed[id] {
		return nil, nil
	}
	if rev, ok := sa.staged[id]; ok {
		return rev, nil
	}
	return sa.reader.Get(id)
}

// Persisted returns the state of a document at the head, ignoring staged changes.
func (sa *StagingArea) Persisted() View {
	return sa.reader
}

// Stage records rev as the new content of its document, creating it when
// it does not exist yet.
func (sa *StagingArea) Stage(rev *models.Revision) error {
	id := rev.ObjectID()
	if _, err := sa.captureClean(id); err != nil {
		return err
	}
	delete(sa.removed, id)
	sa.staged[id] = rev.Clone()
	return nil
}

// StageNew stages a document that must not exist yet.
func (sa *StagingArea) StageNew(rev *models.Revision) error {
	current, err := sa.Get(rev.ObjectID())
	if err != nil {
		return err
	}
	if current != nil {
		return fmt.Errorf("%s: %w", rev.ObjectID(), store.ErrAlreadyExists)
	}
	return sa.Stage(rev)
}

// StageChange stages new content for an existing document.
func (sa *StagingArea) StageChange(rev *models.Revision) error {
	current, err := sa.Get(rev.ObjectID())
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%s: %w", rev.ObjectID(), store.ErrNotFound)
	}
	return sa.Stage(rev)
}

// StageRemove detaches an existing document.
func (sa *StagingArea) StageRemove(id models.ObjectID) error {
	current, err := sa.Get(id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%s: %w", id, store.ErrNotFound)
	}
	clean, err := sa.captureClean(id)
	if err != nil {
		return err
	}
	delete(sa.staged, id)
	if clean != nil {
		sa.removed[id] = true
	}
	return nil
}

// captureClean remembers the head revision of id the first time it is staged.
func (sa *StagingArea) captureClean(id models.ObjectID) (*models.Revision, error) {
	if clean, ok := sa.clean[id]; ok {
		return clean, nil
	}
	clean, err := sa.reader.Get(id)
	if err != nil {
		return nil, err
	}
	sa.clean[id] = clean
	return clean, nil
}

// IsNew reports whether id is staged and absent from the head.
func (sa *StagingArea) IsNew(id models.ObjectID) bool {
	_, ok := sa.staged[id]
	return ok && sa.clean[id] == nil
}

// IsDirty reports whether id is staged and present at the head.
func (sa *StagingArea) IsDirty(id models.ObjectID) bool {
	_, ok := sa.staged[id]
	return ok && sa.clean[id] != nil
}

// IsDetached reports whether id is staged for removal.
func (sa *StagingArea) IsDetached(id models.ObjectID) bool {
	return sa.removed[id]
}

// IsEmpty reports whether nothing is staged.
func (sa *StagingArea) IsEmpty() bool {
	return len(sa.staged) == 0 && len(sa.removed) == 0
}

// CommitSet returns the staged objects partitioned for the integrity checker.
func (sa *StagingArea) CommitSet() *CommitSet {
	cs := newCommitSet()
	for id, rev := range sa.staged {
		if clean := sa.clean[id]; clean != nil {
			cs.Dirty[id] = rev
			cs.Clean[id] = clean
		} else {
			cs.New[id] = rev
		}
	}
	for id := range sa.removed {
		cs.Detached[id] = true
		cs.Clean[id] = sa.clean[id]
	}
	return cs
}

// Read runs fn against the staged view of the branch.
func (sa *StagingArea) Read(fn func(View) error) error {
	return fn(sa)
}

// ReadFromMergeSource runs fn against the merge source head.
func (sa *StagingArea) ReadFromMergeSource(fn func(View) error) error {
	if sa.source == nil {
		return fmt.Errorf("staging area on %s has no merge source", sa.branch)
	}
	return fn(sa.source)
}

// MergeSource returns the merge source reader, or nil.
func (sa *StagingArea) MergeSource() *store.Reader {
	return sa.source
}

func (sa *StagingArea) setMergeSource(r *store.Reader) {
	sa.source = r
}

// ReviseOnMergeSource makes the merge take the source revision of id
// verbatim: its content is staged, or its removal when the source lacks it.
func (sa *StagingArea) ReviseOnMergeSource(id models.ObjectID) error {
	if sa.source == nil {
		return fmt.Errorf("staging area on %s has no merge source", sa.branch)
	}
	rev, err := sa.source.Get(id)
	if err != nil {
		return err
	}
	sa.revised[id] = true
	if rev == nil {
		current, err := sa.Get(id)
		if err != nil || current == nil {
			return err
		}
		return sa.StageRemove(id)
	}
	return sa.Stage(rev)
}

// IsRevised reports whether id takes the merge source revision.
func (sa *StagingArea) IsRevised(id models.ObjectID) bool {
	return sa.revised[id]
}

// Request builds the store commit request for the staged changes.
func (sa *StagingArea) Request(author, comment string) store.CommitRequest {
	req := store.CommitRequest{
		Branch:       sa.branch,
		ExpectedHead: sa.Head(),
		Author:       author,
		Comment:      comment,
	}
	puts := make([]models.ObjectID, 0, len(sa.staged))
	for id := range sa.staged {
		puts = append(puts, id)
	}
	models.SortObjectIDs(puts)
	for _, id := range puts {
		req.Puts = append(req.Puts, sa.staged[id])
	}
	for id := range sa.removed {
		req.Removes = append(req.Removes, id)
	}
	models.SortObjectIDs(req.Removes)
	if sa.source != nil {
		req.MergeSource = sa.source.Branch()
		req.MergeSourceHead = sa.source.Timestamp()
	}
	return req
}

// Commit submits the staged changes against the head the staging area was
// opened on.
func (sa *StagingArea) Commit(ctx context.Context, author, comment string) (*models.Commit, error) {
	return sa.store.Commit(ctx, sa.Request(author, comment))
}
