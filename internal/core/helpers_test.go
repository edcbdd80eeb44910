package core

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/kilupskalvis/revstore/internal/schema"
	"github.com/kilupskalvis/revstore/internal/store"
	"github.com/stretchr/testify/require"
)

// Component ids carry SNOMED CT partition digits.
const (
	isA       = "1160001" // concept
	conceptC  = "1000001"
	conceptS  = "1000101"
	conceptX  = "2000001"
	conceptY  = "3000001"
	descD0    = "3000011"
	descD     = "3000111"
	relR      = "4000021"
	coreModel = "900000000000207008"
	extModel  = "554471000005108"
)

func concept(id string) models.ObjectID      { return models.ObjectID{Type: "concept", ID: id} }
func description(id string) models.ObjectID  { return models.ObjectID{Type: "description", ID: id} }
func relationship(id string) models.ObjectID { return models.ObjectID{Type: "relationship", ID: id} }

// newTestStore creates a new bbolt store in a temp directory for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.New(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })
	return st
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestCoordinator returns a fail-fast coordinator that never sleeps.
func newTestCoordinator(st *store.Store, opts ...CoordinatorOption) *Coordinator {
	checker := NewIntegrityChecker(schema.Default(), schema.SnomedCategorizer{}, FailFast)
	opts = append([]CoordinatorOption{WithLogger(discardLogger())}, opts...)
	c := NewCoordinator(st, checker, opts...)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func newTestMerger(st *store.Store) *Merger {
	s := schema.Default()
	c := schema.SnomedCategorizer{}
	processor := NewConflictProcessor(s, DefaultProcessorConfig(),
		&DanglingReferenceRule{Schema: s, Categorizer: c},
		&InvalidStateRule{Schema: s, Categorizer: c},
	)
	return NewMerger(processor, newTestCoordinator(st), nil, discardLogger())
}

// edit commits ops to branch through a session.
func edit(t *testing.T, st *store.Store, branch string, ops ...models.Operation) *models.Commit {
	t.Helper()
	sess := NewSession(newTestCoordinator(st), schema.Default(), branch)
	sess.Add(ops...)
	out, err := sess.Commit(context.Background(), "test", "edit")
	require.NoError(t, err)
	return out.Commit
}

func createConcept(id string, props map[string]interface{}) models.Operation {
	p := map[string]interface{}{"active": true, "moduleId": coreModel, "definitionStatus": "primitive"}
	for k, v := range props {
		p[k] = v
	}
	return models.Operation{Type: models.OperationCreate, Object: concept(id), Properties: p}
}

func createDescription(id, container, term string) models.Operation {
	c := concept(container)
	return models.Operation{
		Type:       models.OperationCreate,
		Object:     description(id),
		Container:  &c,
		Properties: map[string]interface{}{"active": true, "moduleId": coreModel, "term": term},
	}
}

func createRelationship(id, source, destination string) models.Operation {
	c := concept(source)
	return models.Operation{
		Type:       models.OperationCreate,
		Object:     relationship(id),
		Container:  &c,
		Properties: map[string]interface{}{"active": true, "moduleId": coreModel},
		References: map[string][]string{"destinationId": {destination}, "typeId": {isA}},
	}
}

func updateProps(id models.ObjectID, props map[string]interface{}) models.Operation {
	return models.Operation{Type: models.OperationUpdate, Object: id, Properties: props}
}

func deleteOp(id models.ObjectID) models.Operation {
	return models.Operation{Type: models.OperationDelete, Object: id}
}

func createBranch(t *testing.T, st *store.Store, name string, opts store.BranchOptions) string {
	t.Helper()
	b, err := st.CreateBranch(models.MainBranch, name, opts)
	require.NoError(t, err)
	return b.Path
}

func read(t *testing.T, st *store.Store, branch string, id models.ObjectID) *models.Revision {
	t.Helper()
	r, err := st.Reader(branch, 0)
	require.NoError(t, err)
	rev, err := r.Get(id)
	require.NoError(t, err)
	return rev
}

func head(t *testing.T, st *store.Store, branch string) int64 {
	t.Helper()
	b, err := st.GetBranch(branch)
	require.NoError(t, err)
	return b.HeadTimestamp
}
