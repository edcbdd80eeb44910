package core

import (
	"context"

	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/kilupskalvis/revstore/internal/schema"
)

// MergeConflictRule is a domain check run after structural conflict
// detection. Rules only read; they never modify the merge.
type MergeConflictRule interface {
	Name() string
	Validate(ctx context.Context, scope ReadScope, from, to *models.ChangeSet) ([]models.Conflict, error)
}

// DanglingReferenceRule reports documents added or changed on one side that
// reference documents removed on the other side.
type DanglingReferenceRule struct {
	Schema      *schema.Schema
	Categorizer schema.Categorizer
}

func (r *DanglingReferenceRule) Name() string { return "dangling-reference" }

func (r *DanglingReferenceRule) Validate(ctx context.Context, scope ReadScope, from, to *models.ChangeSet) ([]models.Conflict, error) {
	var conflicts []models.Conflict
	err := scope.ReadFromMergeSource(func(v View) error {
		found, err := r.dangling(ctx, v, from, to, false)
		conflicts = append(conflicts, found...)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = scope.Read(func(v View) error {
		found, err := r.dangling(ctx, v, to, from, true)
		conflicts = append(conflicts, found...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}

// dangling checks the touched documents of side, read from v, against the
// removals of other. Kinds are reported from the source's point of view and
// mirrored when side is the target.
func (r *DanglingReferenceRule) dangling(ctx context.Context, v View, side, other *models.ChangeSet, mirror bool) ([]models.Conflict, error) {
	var conflicts []models.Conflict
	for _, kind := range []models.ChangeKind{models.ChangeAdded, models.ChangeChanged} {
		conflictKind := models.ConflictAddedInSourceAndDetachedInTarget
		if kind == models.ChangeChanged {
			conflictKind = models.ConflictChangedInSourceAndDetachedInTarget
		}
		if mirror {
			conflictKind = conflictKind.Mirror()
		}
		for _, id := range side.IDs(kind) {
			if err := ctx.Err(); err != nil {
				return nil, cancelled(err)
			}
			td, ok := r.Schema.Type(id.Type)
			if !ok {
				continue
			}
			rev, err := v.Get(id)
			if err != nil {
				return nil, err
			}
			if rev == nil {
				continue
			}
			for _, ref := range td.References {
				if !ref.Persistent() || ref.Containment {
					continue
				}
				for _, target := range rev.References[ref.Name] {
					typ, ok := schema.Resolve(ref, target, r.Categorizer)
					if !ok {
						continue
					}
					tid := models.ObjectID{Type: typ, ID: target}
					if !other.IsRemoved(tid) {
						continue
					}
					conflicts = append(conflicts, models.Conflict{
						Kind:    conflictKind,
						Object:  id,
						Related: &tid,
						Feature: ref.Name,
					})
				}
			}
		}
	}
	return conflicts, nil
}

// InvalidStateRule reports active relational components that would
// reference inactive documents once the merge is applied.
type InvalidStateRule struct {
	Schema      *schema.Schema
	Categorizer schema.Categorizer
}

func (r *InvalidStateRule) Name() string { return "invalid-state" }

func (r *InvalidStateRule) Validate(ctx context.Context, scope ReadScope, from, to *models.ChangeSet) ([]models.Conflict, error) {
	var conflicts []models.Conflict
	err := scope.Read(func(merged View) error {
		err := scope.ReadFromMergeSource(func(source View) error {
			found, err := r.check(ctx, source, merged, from, nil, false)
			conflicts = append(conflicts, found...)
			return err
		})
		if err != nil {
			return err
		}
		// target components only conflict with states the source introduced
		found, err := r.check(ctx, merged, merged, to, from, true)
		conflicts = append(conflicts, found...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}

func (r *InvalidStateRule) check(ctx context.Context, components, merged View, side, cause *models.ChangeSet, mirror bool) ([]models.Conflict, error) {
	var conflicts []models.Conflict
	for _, kind := range []models.ChangeKind{models.ChangeAdded, models.ChangeChanged} {
		conflictKind := models.ConflictAddedInSourceAndDetachedInTarget
		if kind == models.ChangeChanged {
			conflictKind = models.ConflictChangedInSourceAndDetachedInTarget
		}
		if mirror {
			conflictKind = conflictKind.Mirror()
		}
		for _, id := range side.IDs(kind) {
			if err := ctx.Err(); err != nil {
				return nil, cancelled(err)
			}
			td, ok := r.Schema.Type(id.Type)
			if !ok || !td.Relational {
				continue
			}
			rev, err := components.Get(id)
			if err != nil {
				return nil, err
			}
			if !r.Schema.IsActive(rev) {
				continue
			}
			for _, ref := range td.References {
				if !ref.Persistent() || ref.Containment {
					continue
				}
				for _, target := range rev.References[ref.Name] {
					typ, ok := schema.Resolve(ref, target, r.Categorizer)
					if !ok {
						continue
					}
					tid := models.ObjectID{Type: typ, ID: target}
					if cause != nil && !cause.Touches(tid) {
						continue
					}
					state, err := merged.Get(tid)
					if err != nil {
						return nil, err
					}
					if state == nil || r.Schema.IsActive(state) {
						continue
					}
					conflicts = append(conflicts, models.Conflict{
						Kind:    conflictKind,
						Object:  id,
						Related: &tid,
						Feature: ref.Name,
						Detail:  "referenced " + typ + " is inactive",
					})
				}
			}
		}
	}
	return conflicts, nil
}
