package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a new bbolt store in a temp directory for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })
	return st
}

func concept(id string, active bool) *models.Revision {
	return &models.Revision{
		ID:         id,
		Type:       "concept",
		Properties: map[string]interface{}{"active": active, "moduleId": "900000000000207008"},
	}
}

func commitPuts(t *testing.T, st *Store, branch string, puts ...*models.Revision) *models.Commit {
	t.Helper()
	b, err := st.GetBranch(branch)
	require.NoError(t, err)
	c, err := st.Commit(context.Background(), CommitRequest{
		Branch:       branch,
		ExpectedHead: b.HeadTimestamp,
		Author:       "test",
		Puts:         puts,
	})
	require.NoError(t, err)
	return c
}

func commitRemoves(t *testing.T, st *Store, branch string, ids ...models.ObjectID) *models.Commit {
	t.Helper()
	b, err := st.GetBranch(branch)
	require.NoError(t, err)
	c, err := st.Commit(context.Background(), CommitRequest{
		Branch:       branch,
		ExpectedHead: b.HeadTimestamp,
		Author:       "test",
		Removes:      ids,
	})
	require.NoError(t, err)
	return c
}

func conceptID(id string) models.ObjectID {
	return models.ObjectID{Type: "concept", ID: id}
}

// ==================== Store Tests ====================

func TestStore_Initialize(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := New(dbPath)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Initialize())
	main, err := st.GetBranch(models.MainBranch)
	require.NoError(t, err)
	assert.True(t, main.IsRoot())
	assert.Equal(t, main.BaseTimestamp, main.HeadTimestamp)

	// Idempotent
	require.NoError(t, st.Initialize())
	again, err := st.GetBranch(models.MainBranch)
	require.NoError(t, err)
	assert.Equal(t, main.HeadTimestamp, again.HeadTimestamp)
}

func TestStore_ClockIsStrictlyIncreasing(t *testing.T) {
	st := newTestStore(t)

	var last int64
	for i := 0; i < 5; i++ {
		c := commitPuts(t, st, models.MainBranch, concept("100000"+string(rune('0'+i))+"00", true))
		assert.Greater(t, c.Timestamp, last)
		last = c.Timestamp
	}
	now, err := st.Now()
	require.NoError(t, err)
	assert.Equal(t, last, now)
}

// ==================== Branch Tests ====================

func TestStore_CreateBranch(t *testing.T) {
	st := newTestStore(t)
	c := commitPuts(t, st, models.MainBranch, concept("138875005", true))

	b, err := st.CreateBranch(models.MainBranch, "A", BranchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "MAIN/A", b.Path)
	assert.Equal(t, "MAIN", b.ParentPath)
	assert.Equal(t, c.Timestamp, b.BaseTimestamp)
	assert.Equal(t, c.Timestamp, b.HeadTimestamp)

	_, err = st.CreateBranch(models.MainBranch, "A", BranchOptions{})
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	_, err = st.CreateBranch("MAIN/missing", "B", BranchOptions{})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = st.CreateBranch(models.MainBranch, "bad/name", BranchOptions{})
	assert.Error(t, err)

	_, err = st.CreateBranch(models.MainBranch, "EXT", BranchOptions{ExtensionOf: "MAIN/nope"})
	assert.True(t, errors.Is(err, ErrNotFound))

	ext, err := st.CreateBranch(models.MainBranch, "EXT", BranchOptions{ExtensionOf: models.MainBranch})
	require.NoError(t, err)
	assert.Equal(t, models.MainBranch, ext.ExtensionOf)
}

func TestStore_ListAndDeleteBranches(t *testing.T) {
	st := newTestStore(t)

	_, err := st.CreateBranch(models.MainBranch, "A", BranchOptions{})
	require.NoError(t, err)
	_, err = st.CreateBranch("MAIN/A", "A1", BranchOptions{})
	require.NoError(t, err)

	branches, err := st.ListBranches()
	require.NoError(t, err)
	require.Len(t, branches, 3)
	assert.Equal(t, "MAIN", branches[0].Path)
	assert.Equal(t, "MAIN/A", branches[1].Path)
	assert.Equal(t, "MAIN/A/A1", branches[2].Path)

	assert.Error(t, st.DeleteBranch("MAIN/A"), "branch with children")
	assert.Error(t, st.DeleteBranch(models.MainBranch))

	commitPuts(t, st, "MAIN/A/A1", concept("138875005", true))
	require.NoError(t, st.DeleteBranch("MAIN/A/A1"))

	_, err = st.GetBranch("MAIN/A/A1")
	assert.True(t, errors.Is(err, ErrNotFound))

	// A recreated branch does not see the deleted branch's content
	_, err = st.CreateBranch("MAIN/A", "A1", BranchOptions{})
	require.NoError(t, err)
	r, err := st.Reader("MAIN/A/A1", 0)
	require.NoError(t, err)
	rev, err := r.Get(conceptID("138875005"))
	require.NoError(t, err)
	assert.Nil(t, rev)
}

// ==================== Reader Tests ====================

func TestReader_CopyOnWriteInheritance(t *testing.T) {
	st := newTestStore(t)
	commitPuts(t, st, models.MainBranch, concept("138875005", true), concept("404684003", true))

	_, err := st.CreateBranch(models.MainBranch, "A", BranchOptions{})
	require.NoError(t, err)

	// Changes on MAIN after branching are not visible on A
	commitPuts(t, st, models.MainBranch, concept("138875005", false))
	// Local override on A
	commitPuts(t, st, "MAIN/A", concept("404684003", false))

	r, err := st.Reader("MAIN/A", 0)
	require.NoError(t, err)

	rev, err := r.Get(conceptID("138875005"))
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, true, rev.Properties["active"])
	assert.Equal(t, models.MainBranch, rev.BranchPath)

	rev, err = r.Get(conceptID("404684003"))
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, false, rev.Properties["active"])
	assert.Equal(t, "MAIN/A", rev.BranchPath)

	main, err := st.Reader(models.MainBranch, 0)
	require.NoError(t, err)
	rev, err = main.Get(conceptID("404684003"))
	require.NoError(t, err)
	assert.Equal(t, true, rev.Properties["active"])
}

func TestReader_PointInTime(t *testing.T) {
	st := newTestStore(t)
	c1 := commitPuts(t, st, models.MainBranch, concept("138875005", true))
	c2 := commitPuts(t, st, models.MainBranch, concept("138875005", false))
	c3 := commitRemoves(t, st, models.MainBranch, conceptID("138875005"))

	at := func(ts int64) *models.Revision {
		r, err := st.Reader(models.MainBranch, ts)
		require.NoError(t, err)
		rev, err := r.Get(conceptID("138875005"))
		require.NoError(t, err)
		return rev
	}

	assert.Nil(t, at(c1.Timestamp-1))
	assert.Equal(t, true, at(c1.Timestamp).Properties["active"])
	assert.Equal(t, false, at(c2.Timestamp).Properties["active"])
	assert.Nil(t, at(c3.Timestamp))
}

func TestReader_DeletionOnChildHidesParentContent(t *testing.T) {
	st := newTestStore(t)
	commitPuts(t, st, models.MainBranch, concept("138875005", true))
	_, err := st.CreateBranch(models.MainBranch, "A", BranchOptions{})
	require.NoError(t, err)
	commitRemoves(t, st, "MAIN/A", conceptID("138875005"))

	r, err := st.Reader("MAIN/A", 0)
	require.NoError(t, err)
	revs, err := r.GetMany("concept", []string{"138875005", "404684003"})
	require.NoError(t, err)
	assert.Empty(t, revs)

	main, err := st.Reader(models.MainBranch, 0)
	require.NoError(t, err)
	revs, err = main.GetMany("concept", []string{"138875005"})
	require.NoError(t, err)
	assert.Len(t, revs, 1)
}

func TestReader_LineageStopsAtBase(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateBranch(models.MainBranch, "A", BranchOptions{})
	require.NoError(t, err)
	a := commitPuts(t, st, "MAIN/A", concept("138875005", true))
	b, err := st.CreateBranch("MAIN/A", "B", BranchOptions{})
	require.NoError(t, err)
	commitPuts(t, st, "MAIN/A", concept("404684003", true))

	segs, err := st.Lineage("MAIN/A/B", b.HeadTimestamp)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, Segment{Branch: "MAIN/A/B", Cutoff: b.HeadTimestamp}, segs[0])
	assert.Equal(t, Segment{Branch: "MAIN/A", Cutoff: a.Timestamp}, segs[1])
	assert.Equal(t, "MAIN", segs[2].Branch)

	r, err := st.Reader("MAIN/A/B", 0)
	require.NoError(t, err)
	revs, err := r.GetMany("concept", []string{"138875005", "404684003"})
	require.NoError(t, err)
	assert.Contains(t, revs, "138875005")
	assert.NotContains(t, revs, "404684003")
}

// ==================== Commit Tests ====================

func TestStore_CommitClassifiesChanges(t *testing.T) {
	st := newTestStore(t)
	c1 := commitPuts(t, st, models.MainBranch, concept("138875005", true))
	assert.Equal(t, []models.ObjectID{conceptID("138875005")}, c1.Added)
	assert.Empty(t, c1.Changed)

	c2 := commitPuts(t, st, models.MainBranch, concept("138875005", false), concept("404684003", true))
	assert.Equal(t, []models.ObjectID{conceptID("404684003")}, c2.Added)
	assert.Equal(t, []models.ObjectID{conceptID("138875005")}, c2.Changed)

	c3 := commitRemoves(t, st, models.MainBranch, conceptID("404684003"))
	assert.Equal(t, []models.ObjectID{conceptID("404684003")}, c3.Removed)

	got, err := st.GetCommit(c2.ID)
	require.NoError(t, err)
	assert.Equal(t, c2.Timestamp, got.Timestamp)

	short, err := st.GetCommitByShortID(c2.ShortID())
	require.NoError(t, err)
	assert.Equal(t, c2.ID, short.ID)

	_, err = st.GetCommit("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_CommitIsAtomic(t *testing.T) {
	st := newTestStore(t)
	main, err := st.GetBranch(models.MainBranch)
	require.NoError(t, err)

	// Second removal fails: nothing of the batch becomes visible
	_, err = st.Commit(context.Background(), CommitRequest{
		Branch:       models.MainBranch,
		ExpectedHead: main.HeadTimestamp,
		Puts:         []*models.Revision{concept("138875005", true)},
		Removes:      []models.ObjectID{conceptID("404684003")},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	r, err := st.Reader(models.MainBranch, 0)
	require.NoError(t, err)
	rev, err := r.Get(conceptID("138875005"))
	require.NoError(t, err)
	assert.Nil(t, rev)

	after, err := st.GetBranch(models.MainBranch)
	require.NoError(t, err)
	assert.Equal(t, main.HeadTimestamp, after.HeadTimestamp)
}

func TestStore_CommitRejectsStaleHead(t *testing.T) {
	st := newTestStore(t)
	main, err := st.GetBranch(models.MainBranch)
	require.NoError(t, err)
	commitPuts(t, st, models.MainBranch, concept("138875005", true))

	_, err = st.Commit(context.Background(), CommitRequest{
		Branch:       models.MainBranch,
		ExpectedHead: main.HeadTimestamp,
		Puts:         []*models.Revision{concept("404684003", true)},
	})
	assert.True(t, errors.Is(err, ErrContention))
}

func TestStore_CommitRejectsLockedBranch(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateBranch(models.MainBranch, "A", BranchOptions{})
	require.NoError(t, err)

	unlock, err := st.LockBranch(models.MainBranch)
	require.NoError(t, err)

	main, err := st.GetBranch(models.MainBranch)
	require.NoError(t, err)
	_, err = st.Commit(context.Background(), CommitRequest{
		Branch:       models.MainBranch,
		ExpectedHead: main.HeadTimestamp,
		Puts:         []*models.Revision{concept("138875005", true)},
	})
	assert.True(t, errors.Is(err, ErrContention))

	// Other branches are not blocked
	commitPuts(t, st, "MAIN/A", concept("138875005", true))

	unlock()
	commitPuts(t, st, models.MainBranch, concept("138875005", true))
}

func TestStore_CommitValidation(t *testing.T) {
	st := newTestStore(t)
	main, err := st.GetBranch(models.MainBranch)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = st.Commit(ctx, CommitRequest{Branch: models.MainBranch, ExpectedHead: main.HeadTimestamp})
	assert.True(t, errors.Is(err, ErrEmptyCommit))

	_, err = st.Commit(ctx, CommitRequest{
		Branch:       models.MainBranch,
		ExpectedHead: main.HeadTimestamp,
		Puts:         []*models.Revision{concept("138875005", true), concept("138875005", false)},
	})
	assert.Error(t, err)

	_, err = st.Commit(ctx, CommitRequest{
		Branch:       models.MainBranch,
		ExpectedHead: main.HeadTimestamp,
		Puts:         []*models.Revision{{Type: "concept"}},
	})
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = st.Commit(cancelled, CommitRequest{
		Branch:       models.MainBranch,
		ExpectedHead: main.HeadTimestamp,
		Puts:         []*models.Revision{concept("138875005", true)},
	})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStore_CommitDoesNotAliasCallerMaps(t *testing.T) {
	st := newTestStore(t)
	put := concept("138875005", true)
	commitPuts(t, st, models.MainBranch, put)
	put.Properties["active"] = false

	r, err := st.Reader(models.MainBranch, 0)
	require.NoError(t, err)
	rev, err := r.Get(conceptID("138875005"))
	require.NoError(t, err)
	assert.Equal(t, true, rev.Properties["active"])
}

func TestStore_MergeRecord(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateBranch(models.MainBranch, "A", BranchOptions{})
	require.NoError(t, err)
	a := commitPuts(t, st, "MAIN/A", concept("138875005", true))

	main, err := st.GetBranch(models.MainBranch)
	require.NoError(t, err)
	c, err := st.Commit(context.Background(), CommitRequest{
		Branch:          models.MainBranch,
		ExpectedHead:    main.HeadTimestamp,
		Puts:            []*models.Revision{concept("138875005", true)},
		MergeSource:     "MAIN/A",
		MergeSourceHead: a.Timestamp,
	})
	require.NoError(t, err)
	assert.True(t, c.IsMergeCommit())

	main, err = st.GetBranch(models.MainBranch)
	require.NoError(t, err)
	assert.Equal(t, models.MergeRecord{SourceTimestamp: a.Timestamp, TargetTimestamp: c.Timestamp}, main.MergeSources["MAIN/A"])
}

func TestStore_DeleteBranchForgetsMergeRecords(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateBranch(models.MainBranch, "A", BranchOptions{})
	require.NoError(t, err)
	a := commitPuts(t, st, "MAIN/A", concept("138875005", true))

	main, err := st.GetBranch(models.MainBranch)
	require.NoError(t, err)
	_, err = st.Commit(context.Background(), CommitRequest{
		Branch:          models.MainBranch,
		ExpectedHead:    main.HeadTimestamp,
		Puts:            []*models.Revision{concept("138875005", true)},
		MergeSource:     "MAIN/A",
		MergeSourceHead: a.Timestamp,
	})
	require.NoError(t, err)

	require.NoError(t, st.DeleteBranch("MAIN/A"))
	main, err = st.GetBranch(models.MainBranch)
	require.NoError(t, err)
	assert.NotContains(t, main.MergeSources, "MAIN/A")

	// the recreated branch has no merge history with MAIN
	_, err = st.CreateBranch(models.MainBranch, "A", BranchOptions{})
	require.NoError(t, err)
	main, err = st.GetBranch(models.MainBranch)
	require.NoError(t, err)
	assert.NotContains(t, main.MergeSources, "MAIN/A")
}

func TestStore_DeleteExtendedBranchFails(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateBranch(models.MainBranch, "BASE", BranchOptions{})
	require.NoError(t, err)
	_, err = st.CreateBranch(models.MainBranch, "EXT", BranchOptions{ExtensionOf: "MAIN/BASE"})
	require.NoError(t, err)

	assert.ErrorContains(t, st.DeleteBranch("MAIN/BASE"), "extended by MAIN/EXT")
	_, err = st.GetBranch("MAIN/BASE")
	assert.NoError(t, err)

	require.NoError(t, st.DeleteBranch("MAIN/EXT"))
	require.NoError(t, st.DeleteBranch("MAIN/BASE"))
}

func TestStore_LogAndTouchedIDs(t *testing.T) {
	st := newTestStore(t)
	c1 := commitPuts(t, st, models.MainBranch, concept("138875005", true))
	c2 := commitPuts(t, st, models.MainBranch, concept("404684003", true))
	c3 := commitRemoves(t, st, models.MainBranch, conceptID("138875005"))

	log, err := st.Log(models.MainBranch, 0)
	require.NoError(t, err)
	require.Len(t, log, 3)
	assert.Equal(t, c3.ID, log[0].ID)
	assert.Equal(t, c1.ID, log[2].ID)

	log, err = st.Log(models.MainBranch, 2)
	require.NoError(t, err)
	assert.Len(t, log, 2)

	ids, err := st.TouchedIDs(models.MainBranch, c1.Timestamp, c2.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, []models.ObjectID{conceptID("404684003")}, ids)

	ids, err = st.TouchedIDs(models.MainBranch, 0, c3.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, []models.ObjectID{conceptID("138875005"), conceptID("404684003")}, ids)

	history, err := st.History(models.MainBranch, conceptID("138875005"))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[1].Deleted)
}
