package core

import (
	"context"
	"testing"

	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/kilupskalvis/revstore/internal/schema"
	"github.com/kilupskalvis/revstore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_ChangedOnBothSides(t *testing.T) {
	st := newTestStore(t)
	edit(t, st, models.MainBranch, createConcept(conceptC, map[string]interface{}{"effectiveTime": "20230131"}))
	a := createBranch(t, st, "A", store.BranchOptions{})
	b := createBranch(t, st, "B", store.BranchOptions{})

	edit(t, st, a, updateProps(concept(conceptC), map[string]interface{}{"definitionStatus": "defined", "effectiveTime": "20240131"}))
	edit(t, st, b, updateProps(concept(conceptC), map[string]interface{}{"definitionStatus": "fullyDefined", "effectiveTime": "20240731"}))

	m := newTestMerger(st)
	result, err := m.Merge(context.Background(), b, a, models.MergeOptions{DryRun: true})
	require.NoError(t, err)

	require.Len(t, result.Conflicts, 1, "effectiveTime resolves to the later date")
	c := result.Conflicts[0]
	assert.Equal(t, models.ConflictChangedInSourceAndTarget, c.Kind)
	assert.Equal(t, "definitionStatus", c.Feature)
	require.NotNil(t, c.SourceDiff)
	require.NotNil(t, c.TargetDiff)
	assert.Equal(t, "primitive", c.SourceDiff.OldValue)
	assert.Equal(t, "fullyDefined", c.SourceDiff.NewValue)
	assert.Equal(t, "defined", c.TargetDiff.NewValue)
}

func TestMerge_DateConflictIsRendered(t *testing.T) {
	st := newTestStore(t)
	edit(t, st, models.MainBranch, createConcept(conceptC, map[string]interface{}{"effectiveTime": "20230131"}))
	a := createBranch(t, st, "A", store.BranchOptions{})
	b := createBranch(t, st, "B", store.BranchOptions{})

	edit(t, st, a, updateProps(concept(conceptC), map[string]interface{}{"effectiveTime": "unpublished"}))
	edit(t, st, b, updateProps(concept(conceptC), map[string]interface{}{"effectiveTime": "20240731"}))

	m := newTestMerger(st)
	result, err := m.Merge(context.Background(), b, a, models.MergeOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	c := result.Conflicts[0]
	assert.Equal(t, "effectiveTime", c.Feature)
	assert.Equal(t, "2023-01-31", c.SourceDiff.OldValue)
	assert.Equal(t, "2024-07-31", c.SourceDiff.NewValue)
	assert.Equal(t, "unpublished", c.TargetDiff.NewValue)
}

func TestMerge_ProtectedChangeAgainstRemoval(t *testing.T) {
	st := newTestStore(t)
	edit(t, st, models.MainBranch,
		createConcept(conceptC, map[string]interface{}{"released": false}),
		createConcept(conceptY, nil),
	)
	a := createBranch(t, st, "A", store.BranchOptions{})
	b := createBranch(t, st, "B", store.BranchOptions{})

	edit(t, st, a, deleteOp(concept(conceptC)), deleteOp(concept(conceptY)))
	edit(t, st, b,
		updateProps(concept(conceptC), map[string]interface{}{"released": true}),
		updateProps(concept(conceptY), map[string]interface{}{"definitionStatus": "defined"}),
	)

	m := newTestMerger(st)
	result, err := m.Merge(context.Background(), b, a, models.MergeOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1, "unprotected changes lose against removal")
	c := result.Conflicts[0]
	assert.Equal(t, models.ConflictChangedInSourceAndDetachedInTarget, c.Kind)
	assert.Equal(t, concept(conceptC), c.Object)
	assert.Equal(t, "released", c.Feature)

	reverse, err := m.Merge(context.Background(), a, b, models.MergeOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, reverse.Conflicts, 1)
	assert.Equal(t, models.ConflictChangedInTargetAndDetachedInSource, reverse.Conflicts[0].Kind)
}

func TestMerge_ReferenceListsMergeAsSets(t *testing.T) {
	st := newTestStore(t)
	edit(t, st, models.MainBranch,
		createConcept(conceptC, nil),
		createDescription(descD0, conceptC, "Heart"),
	)
	a := createBranch(t, st, "A", store.BranchOptions{})
	b := createBranch(t, st, "B", store.BranchOptions{})

	edit(t, st, a, createDescription(descD, conceptC, "Cardiac structure"))
	edit(t, st, b, createDescription("3000211", conceptC, "Heart structure"))

	m := newTestMerger(st)
	result, err := m.Merge(context.Background(), b, a, models.MergeOptions{Author: "test"})
	require.NoError(t, err)
	require.True(t, result.Success, "conflicts: %v", result.Conflicts)

	c := read(t, st, a, concept(conceptC))
	assert.Equal(t, []string{descD0, descD, "3000211"}, c.References["descriptions"])
}

func TestMergeIDLists(t *testing.T) {
	tests := []struct {
		name                 string
		base, source, target []string
		want                 []string
	}{
		{"source adds", []string{"a"}, []string{"a", "b"}, []string{"a", "c"}, []string{"a", "c", "b"}},
		{"source removes", []string{"a", "b"}, []string{"a"}, []string{"a", "b", "c"}, []string{"a", "c"}},
		{"both add same", []string{}, []string{"a"}, []string{"a"}, []string{"a"}},
		{"target removed what source kept", []string{"a", "b"}, []string{"a", "b", "c"}, []string{"a"}, []string{"a", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mergeIDLists(tt.base, tt.source, tt.target))
		})
	}
}

func TestLaterDate(t *testing.T) {
	p := LaterDate{Layout: "20060102"}

	v, ok := p.Resolve(nil, "20240131", "20230731")
	require.True(t, ok)
	assert.Equal(t, "20240131", v)

	v, ok = p.Resolve(nil, "20230131", "20230731")
	require.True(t, ok)
	assert.Equal(t, "20230731", v)

	_, ok = p.Resolve(nil, "soon", "20230731")
	assert.False(t, ok)
}

func TestConflictProcessor_ConvertPropertyValue(t *testing.T) {
	p := NewConflictProcessor(schema.Default(), DefaultProcessorConfig())
	assert.Equal(t, "2024-01-31", p.ConvertPropertyValue("effectiveTime", "20240131"))
	assert.Equal(t, "not a date", p.ConvertPropertyValue("effectiveTime", "not a date"))
	assert.Equal(t, "", p.ConvertPropertyValue("effectiveTime", ""))
	assert.Equal(t, "20240131", p.ConvertPropertyValue("term", "20240131"))
}
