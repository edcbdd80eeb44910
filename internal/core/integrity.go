package core

import (
	"errors"
	"fmt"

	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/kilupskalvis/revstore/internal/schema"
)

// IntegrityMode selects how the checker reports missing objects.
type IntegrityMode int

const (
	// FailFast stops at the first missing object.
	FailFast IntegrityMode = iota
	// CollectThenFail reports every missing object, then fails.
	CollectThenFail
	// CollectNoFail reports every missing object and lets the commit proceed.
	CollectNoFail
)

func (m IntegrityMode) String() string {
	switch m {
	case FailFast:
		return "fail-fast"
	case CollectThenFail:
		return "collect"
	case CollectNoFail:
		return "collect-no-fail"
	}
	return fmt.Sprintf("IntegrityMode(%d)", int(m))
}

// ParseIntegrityMode parses the configuration form of a mode.
func ParseIntegrityMode(s string) (IntegrityMode, error) {
	switch s {
	case "fail-fast":
		return FailFast, nil
	case "collect", "":
		return CollectThenFail, nil
	case "collect-no-fail":
		return CollectNoFail, nil
	}
	return 0, fmt.Errorf("unknown integrity mode %q", s)
}

// CommitSet is the staged content of one commit. Clean holds the head
// revision of every dirty or detached object.
type CommitSet struct {
	New      map[models.ObjectID]*models.Revision
	Dirty    map[models.ObjectID]*models.Revision
	Clean    map[models.ObjectID]*models.Revision
	Detached map[models.ObjectID]bool
}

func newCommitSet() *CommitSet {
	return &CommitSet{
		New:      make(map[models.ObjectID]*models.Revision),
		Dirty:    make(map[models.ObjectID]*models.Revision),
		Clean:    make(map[models.ObjectID]*models.Revision),
		Detached: make(map[models.ObjectID]bool),
	}
}

// Includes reports whether id is new, dirty or detached in the set.
func (cs *CommitSet) Includes(id models.ObjectID) bool {
	if _, ok := cs.New[id]; ok {
		return true
	}
	if _, ok := cs.Dirty[id]; ok {
		return true
	}
	return cs.Detached[id]
}

// IntegrityChecker verifies that a commit set is closed: every object whose
// persisted state changes as a side effect of the staged changes is itself
// part of the commit.
type IntegrityChecker struct {
	schema      *schema.Schema
	categorizer schema.Categorizer
	mode        IntegrityMode
}

// NewIntegrityChecker creates a checker. A nil categorizer leaves untyped
// reference targets unchecked.
func NewIntegrityChecker(s *schema.Schema, c schema.Categorizer, mode IntegrityMode) *IntegrityChecker {
	return &IntegrityChecker{schema: s, categorizer: c, mode: mode}
}

// Mode returns the reporting mode.
func (c *IntegrityChecker) Mode() IntegrityMode {
	return c.mode
}

var errStop = errors.New("stop")

type integrityRun struct {
	cs         *CommitSet
	persisted  View
	failFast   bool
	seen       map[models.ObjectID]bool
	violations []Violation
}

func (r *integrityRun) require(missing models.ObjectID, reason string) error {
	if r.cs.Includes(missing) || r.seen[missing] {
		return nil
	}
	r.seen[missing] = true
	r.violations = append(r.violations, Violation{
		Missing: missing,
		Message: fmt.Sprintf("%s needs to be included in the commit but isn't (%s)", missing, reason),
	})
	if r.failFast {
		return errStop
	}
	return nil
}

// requireExisting accepts a target that is persisted or part of the commit.
func (r *integrityRun) requireExisting(target models.ObjectID, reason string) error {
	if r.cs.Includes(target) || r.seen[target] {
		return nil
	}
	rev, err := r.persisted.Get(target)
	if err != nil {
		return err
	}
	if rev != nil {
		return nil
	}
	return r.require(target, reason)
}

// Check returns the violations of the commit set. In the failing modes a
// non-empty result is returned together with an *IntegrityError.
func (c *IntegrityChecker) Check(cs *CommitSet, persisted View) ([]Violation, error) {
	run := &integrityRun{
		cs:        cs,
		persisted: persisted,
		failFast:  c.mode == FailFast,
		seen:      make(map[models.ObjectID]bool),
	}

	err := c.check(run)
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	if len(run.violations) == 0 || c.mode == CollectNoFail {
		return run.violations, nil
	}
	return run.violations, &IntegrityError{Violations: run.violations}
}

func (c *IntegrityChecker) check(run *integrityRun) error {
	cs := run.cs
	for _, id := range sortedKeys(cs.New) {
		if err := c.checkNew(run, cs.New[id]); err != nil {
			return err
		}
	}
	detached := make([]models.ObjectID, 0, len(cs.Detached))
	for id := range cs.Detached {
		detached = append(detached, id)
	}
	models.SortObjectIDs(detached)
	for _, id := range detached {
		if err := c.checkDetached(run, id, cs.Clean[id]); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(cs.Dirty) {
		if err := c.checkDirty(run, cs.Clean[id], cs.Dirty[id]); err != nil {
			return err
		}
	}
	return nil
}

func (c *IntegrityChecker) checkNew(run *integrityRun, rev *models.Revision) error {
	id := rev.ObjectID()
	td, ok := c.schema.Type(rev.Type)
	if rev.Container != nil {
		if err := run.require(*rev.Container, "container of new "+id.String()); err != nil {
			return err
		}
	} else if ok && td.Resource != "" {
		resource := models.ObjectID{Type: "resource", ID: td.Resource}
		if err := run.require(resource, "resource of new "+id.String()); err != nil {
			return err
		}
	}
	if !ok {
		return nil
	}
	for _, ref := range td.References {
		if !ref.Persistent() {
			continue
		}
		for _, target := range rev.References[ref.Name] {
			tid, ok := c.resolve(ref, target)
			if !ok {
				continue
			}
			reason := fmt.Sprintf("%s of new %s", ref.Name, id)
			if ref.Bidirectional() {
				err := run.require(tid, reason)
				if err != nil {
					return err
				}
				continue
			}
			if err := run.requireExisting(tid, reason); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *IntegrityChecker) checkDetached(run *integrityRun, id models.ObjectID, clean *models.Revision) error {
	if clean == nil {
		return nil
	}
	if clean.Container != nil {
		if err := run.require(*clean.Container, "former container of "+id.String()); err != nil {
			return err
		}
	}
	td, ok := c.schema.Type(clean.Type)
	if !ok {
		return nil
	}
	for _, ref := range td.References {
		if !ref.Persistent() || !ref.Bidirectional() {
			continue
		}
		for _, target := range clean.References[ref.Name] {
			tid, ok := c.resolve(ref, target)
			if !ok {
				continue
			}
			if err := run.require(tid, fmt.Sprintf("%s of detached %s", ref.Name, id)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *IntegrityChecker) checkDirty(run *integrityRun, clean, dirty *models.Revision) error {
	id := dirty.ObjectID()
	if clean != nil && !models.SameContainer(clean.Container, dirty.Container) {
		for _, container := range []*models.ObjectID{clean.Container, dirty.Container} {
			if container == nil {
				continue
			}
			if err := run.require(*container, "container move of "+id.String()); err != nil {
				return err
			}
		}
	}
	td, ok := c.schema.Type(dirty.Type)
	if !ok {
		return nil
	}
	for _, ref := range td.References {
		if !ref.Persistent() {
			continue
		}
		before := clean.Reference(ref.Name)
		after := dirty.Reference(ref.Name)
		added := difference(after, before)
		reason := fmt.Sprintf("%s of changed %s", ref.Name, id)
		for _, target := range added {
			tid, ok := c.resolve(ref, target)
			if !ok {
				continue
			}
			var err error
			if ref.Bidirectional() {
				err = run.require(tid, reason)
			} else {
				err = run.requireExisting(tid, reason)
			}
			if err != nil {
				return err
			}
		}
		if !ref.Bidirectional() {
			continue
		}
		for _, target := range difference(before, after) {
			tid, ok := c.resolve(ref, target)
			if !ok {
				continue
			}
			if err := run.require(tid, reason); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *IntegrityChecker) resolve(ref schema.ReferenceDescriptor, target string) (models.ObjectID, bool) {
	typ, ok := schema.Resolve(ref, target, c.categorizer)
	if !ok {
		return models.ObjectID{}, false
	}
	return models.ObjectID{Type: typ, ID: target}, true
}

// difference returns the ids of a missing from b, in a's order.
func difference(a, b []string) []string {
	if len(a) == 0 {
		return nil
	}
	in := make(map[string]bool, len(b))
	for _, s := range b {
		in[s] = true
	}
	var out []string
	for _, s := range a {
		if !in[s] {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[models.ObjectID]*models.Revision) []models.ObjectID {
	ids := make([]models.ObjectID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	models.SortObjectIDs(ids)
	return ids
}
