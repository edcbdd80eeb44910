package core

import (
	"fmt"

	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/kilupskalvis/revstore/internal/schema"
	"github.com/kilupskalvis/revstore/internal/store"
)

// ApplyOperations replays a pending operation log into a staging area.
// Replaying the same log into a fresh staging area yields the same staged
// state: a create of an existing document updates it and containment lists
// never receive duplicates.
func ApplyOperations(sa *StagingArea, s *schema.Schema, ops []models.Operation) error {
	for i, op := range ops {
		if err := applyOperation(sa, s, op); err != nil {
			return fmt.Errorf("operation %d (%s %s): %w", i+1, op.Type, op.Object, err)
		}
	}
	return nil
}

func applyOperation(sa *StagingArea, s *schema.Schema, op models.Operation) error {
	if op.Object.Type == "" || op.Object.ID == "" {
		return fmt.Errorf("object type and id are required")
	}
	if _, ok := s.Type(op.Object.Type); !ok {
		return fmt.Errorf("unknown document type %q", op.Object.Type)
	}

	switch op.Type {
	case models.OperationCreate:
		current, err := sa.Get(op.Object)
		if err != nil {
			return err
		}
		if current != nil {
			return update(sa, s, current, op)
		}
		rev := &models.Revision{
			ID:         op.Object.ID,
			Type:       op.Object.Type,
			Container:  op.Container,
			Properties: make(map[string]interface{}),
			References: make(map[string][]string),
		}
		mergeContent(rev, op)
		if err := sa.Stage(rev); err != nil {
			return err
		}
		if op.Container != nil {
			return attach(sa, s, op.Object, *op.Container)
		}
		return nil

	case models.OperationUpdate:
		current, err := sa.Get(op.Object)
		if err != nil {
			return err
		}
		if current == nil {
			return store.ErrNotFound
		}
		return update(sa, s, current, op)

	case models.OperationDelete:
		return remove(sa, s, op.Object)
	}
	return fmt.Errorf("unknown operation %q", op.Type)
}

func update(sa *StagingArea, s *schema.Schema, current *models.Revision, op models.Operation) error {
	rev := current.Clone()
	mergeContent(rev, op)
	moved := op.Container != nil && !models.SameContainer(current.Container, op.Container)
	if moved {
		container := *op.Container
		rev.Container = &container
	}
	if err := sa.Stage(rev); err != nil {
		return err
	}
	if !moved {
		return nil
	}
	if current.Container != nil {
		if err := detach(sa, s, op.Object, *current.Container); err != nil {
			return err
		}
	}
	return attach(sa, s, op.Object, *op.Container)
}

func mergeContent(rev *models.Revision, op models.Operation) {
	for k, v := range op.Properties {
		setProperty(rev, k, v)
	}
	for k, ids := range op.References {
		setReference(rev, k, ids)
	}
}

// remove stages the removal of id and, recursively, of everything it
// contains, and drops it from its container's list.
func remove(sa *StagingArea, s *schema.Schema, id models.ObjectID) error {
	current, err := sa.Get(id)
	if err != nil {
		return err
	}
	if current == nil {
		if sa.IsDetached(id) {
			return nil
		}
		return store.ErrNotFound
	}
	if td, ok := s.Type(id.Type); ok {
		for _, ref := range td.References {
			if !ref.Containment {
				continue
			}
			for _, child := range current.References[ref.Name] {
				if err := remove(sa, s, models.ObjectID{Type: ref.Target, ID: child}); err != nil {
					return fmt.Errorf("%s %s: %w", ref.Name, child, err)
				}
			}
		}
	}
	if current.Container != nil {
		if err := detach(sa, s, id, *current.Container); err != nil {
			return err
		}
	}
	return sa.StageRemove(id)
}

// attach appends child to the containment list of container.
func attach(sa *StagingArea, s *schema.Schema, child, container models.ObjectID) error {
	td, _ := s.Type(child.Type)
	if td.Container == "" {
		return fmt.Errorf("%s documents have no container", child.Type)
	}
	if container.Type != td.Container {
		return fmt.Errorf("%s documents belong in a %s, not a %s", child.Type, td.Container, container.Type)
	}
	feature, ok := s.ContainmentFeature(child.Type)
	if !ok {
		return nil
	}
	rev, err := sa.Get(container)
	if err != nil {
		return err
	}
	if rev == nil {
		return fmt.Errorf("container %s: %w", container, store.ErrNotFound)
	}
	for _, id := range rev.References[feature] {
		if id == child.ID {
			return nil
		}
	}
	rev = rev.Clone()
	rev.References[feature] = append(rev.References[feature], child.ID)
	return sa.Stage(rev)
}

// detach drops child from the containment list of container.
func detach(sa *StagingArea, s *schema.Schema, child, container models.ObjectID) error {
	feature, ok := s.ContainmentFeature(child.Type)
	if !ok {
		return nil
	}
	rev, err := sa.Get(container)
	if err != nil || rev == nil {
		return err
	}
	ids := rev.References[feature]
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != child.ID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(ids) {
		return nil
	}
	rev = rev.Clone()
	setReference(rev, feature, kept)
	return sa.Stage(rev)
}
