package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/kilupskalvis/revstore/internal/schema"
)

// PropertyPolicy resolves a property changed differently on both sides.
// It returns false when the values cannot be reconciled.
type PropertyPolicy interface {
	Resolve(base, source, target interface{}) (interface{}, bool)
}

// LaterDate keeps the later of two dates written in Layout.
type LaterDate struct {
	Layout string
}

// Resolve picks the later date, failing when either side is not a date.
func (p LaterDate) Resolve(_, source, target interface{}) (interface{}, bool) {
	s, err := time.Parse(p.Layout, models.ValueString(source))
	if err != nil {
		return nil, false
	}
	t, err := time.Parse(p.Layout, models.ValueString(target))
	if err != nil {
		return nil, false
	}
	if s.After(t) {
		return source, true
	}
	return target, true
}

// ValueRenderer formats a property value for conflict reports.
type ValueRenderer func(value string) string

// DateRenderer reformats dates from one layout to another.
func DateRenderer(from, to string) ValueRenderer {
	return func(value string) string {
		t, err := time.Parse(from, value)
		if err != nil {
			return value
		}
		return t.Format(to)
	}
}

// ProcessorConfig customizes the conflict processor.
type ProcessorConfig struct {
	// Policies resolve both-sides property changes by property name.
	Policies map[string]PropertyPolicy
	// Renderers format property values in reported conflicts.
	Renderers map[string]ValueRenderer
	// MergeReferenceLists merges many-valued references changed on both
	// sides as sets instead of reporting a conflict.
	MergeReferenceLists bool
}

// DefaultProcessorConfig returns the SNOMED CT configuration: effectiveTime
// changed on both sides keeps the later release date.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Policies: map[string]PropertyPolicy{
			"effectiveTime": LaterDate{Layout: "20060102"},
		},
		Renderers: map[string]ValueRenderer{
			"effectiveTime": DateRenderer("20060102", "2006-01-02"),
		},
		MergeReferenceLists: true,
	}
}

// ConflictProcessor detects the conflicts between the change sets of a merge
// and stages every non-conflicting change into the target staging area.
type ConflictProcessor struct {
	schema *schema.Schema
	cfg    ProcessorConfig
	rules  []MergeConflictRule
}

// NewConflictProcessor creates a processor running rules after the
// structural conflict detection.
func NewConflictProcessor(s *schema.Schema, cfg ProcessorConfig, rules ...MergeConflictRule) *ConflictProcessor {
	return &ConflictProcessor{schema: s, cfg: cfg, rules: rules}
}

// mergeContext is the input of one conflict processing pass.
type mergeContext struct {
	source  *models.Branch
	target  *models.Branch
	staging *StagingArea

	from *models.ChangeSet
	to   *models.ChangeSet

	sourceBase View
	targetBase View
}

func (mc *mergeContext) sourceHead() View { return mc.staging.MergeSource() }

func (mc *mergeContext) targetHead() View { return mc.staging.Persisted() }

// heldMerge is a document changed on both sides whose merged content waits
// for its conflicts to be resolved.
type heldMerge struct {
	merged *models.Revision
	open   map[string]bool
}

type processResult struct {
	Conflicts []models.Conflict
	Donated   []models.ObjectID
}

// Process runs structural detection, the merge rules and donation filtering.
// Conflicts are returned de-duplicated and converted for display.
func (p *ConflictProcessor) Process(ctx context.Context, mc *mergeContext) (*processResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	conflicts, held, err := p.detect(mc)
	if err != nil {
		return nil, err
	}

	for _, rule := range p.rules {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		found, err := rule.Validate(ctx, mc.staging, mc.from, mc.to)
		if err != nil {
			return nil, fmt.Errorf("merge rule %s: %w", rule.Name(), err)
		}
		conflicts = append(conflicts, found...)
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	conflicts, donated, err := p.filterDonations(mc, conflicts, held)
	if err != nil {
		return nil, err
	}
	for _, id := range sortedHeld(held) {
		h := held[id]
		if len(h.open) == 0 {
			if err := mc.staging.Stage(h.merged); err != nil {
				return nil, err
			}
		}
	}

	result := &processResult{Donated: donated}
	seen := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		c, err := p.ConvertConflict(mc, c)
		if err != nil {
			return nil, err
		}
		if seen[c.Key()] {
			continue
		}
		seen[c.Key()] = true
		result.Conflicts = append(result.Conflicts, c)
	}
	sort.SliceStable(result.Conflicts, func(i, j int) bool {
		a, b := result.Conflicts[i].Object, result.Conflicts[j].Object
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
	return result, nil
}

// detect finds the structural conflicts and stages the rest.
func (p *ConflictProcessor) detect(mc *mergeContext) ([]models.Conflict, map[models.ObjectID]*heldMerge, error) {
	var conflicts []models.Conflict
	held := make(map[models.ObjectID]*heldMerge)
	sa := mc.staging

	for _, id := range mc.from.IDs(models.ChangeAdded) {
		if mc.to.IsAdded(id) {
			conflicts = append(conflicts, models.Conflict{Kind: models.ConflictAddedInSourceAndTarget, Object: id})
			continue
		}
		if container, ok := mc.from.Container(id); ok && mc.to.IsRemoved(container) {
			conflicts = append(conflicts, detachConflict(models.ConflictAddedInSourceAndDetachedInTarget, id, container))
			continue
		}
		rev, err := mc.sourceHead().Get(id)
		if err != nil {
			return nil, nil, err
		}
		if rev == nil {
			continue
		}
		if err := sa.Stage(rev); err != nil {
			return nil, nil, err
		}
	}

	for _, id := range mc.to.IDs(models.ChangeAdded) {
		if container, ok := mc.to.Container(id); ok && mc.from.IsRemoved(container) {
			conflicts = append(conflicts, detachConflict(models.ConflictAddedInTargetAndDetachedInSource, id, container))
		}
	}

	for _, id := range mc.from.IDs(models.ChangeRemoved) {
		switch mc.to.Kind(id) {
		case models.ChangeRemoved:
			continue
		case models.ChangeChanged:
			diffs, err := p.protectedChanges(id, mc.targetBase, mc.targetHead())
			if err != nil {
				return nil, nil, err
			}
			if len(diffs) > 0 {
				for _, d := range diffs {
					c := detachConflict(models.ConflictChangedInTargetAndDetachedInSource, id, id)
					c.Feature = d.Property
					c.TargetDiff = d
					conflicts = append(conflicts, c)
				}
				continue
			}
		}
		current, err := sa.Get(id)
		if err != nil {
			return nil, nil, err
		}
		if current == nil {
			continue
		}
		if err := sa.StageRemove(id); err != nil {
			return nil, nil, err
		}
	}

	for _, id := range mc.from.IDs(models.ChangeChanged) {
		switch mc.to.Kind(id) {
		case models.ChangeRemoved:
			diffs, err := p.protectedChanges(id, mc.sourceBase, mc.sourceHead())
			if err != nil {
				return nil, nil, err
			}
			for _, d := range diffs {
				c := detachConflict(models.ConflictChangedInSourceAndDetachedInTarget, id, id)
				c.Feature = d.Property
				c.SourceDiff = d
				conflicts = append(conflicts, c)
			}
		case models.ChangeChanged:
			merged, found, err := p.mergeChanged(mc, id)
			if err != nil {
				return nil, nil, err
			}
			if len(found) == 0 {
				if err := sa.Stage(merged); err != nil {
					return nil, nil, err
				}
				continue
			}
			h := &heldMerge{merged: merged, open: make(map[string]bool)}
			for _, c := range found {
				h.open[c.Feature] = true
			}
			held[id] = h
			conflicts = append(conflicts, found...)
		default:
			rev, err := mc.sourceHead().Get(id)
			if err != nil {
				return nil, nil, err
			}
			if rev == nil {
				continue
			}
			if err := sa.Stage(rev); err != nil {
				return nil, nil, err
			}
		}
	}
	return conflicts, held, nil
}

func detachConflict(kind models.ConflictKind, id, related models.ObjectID) models.Conflict {
	return models.Conflict{Kind: kind, Object: id, Related: &related}
}

// protectedChanges returns the protected properties of id that differ
// between base and head.
func (p *ConflictProcessor) protectedChanges(id models.ObjectID, base, head View) ([]*models.PropertyDiff, error) {
	td, ok := p.schema.Type(id.Type)
	if !ok || len(td.Protected) == 0 {
		return nil, nil
	}
	before, err := base.Get(id)
	if err != nil {
		return nil, err
	}
	after, err := head.Get(id)
	if err != nil {
		return nil, err
	}
	var diffs []*models.PropertyDiff
	for _, name := range td.Protected {
		old, cur := before.Property(name), after.Property(name)
		if !models.ValuesEqual(old, cur) {
			diffs = append(diffs, &models.PropertyDiff{
				Property: name,
				OldValue: models.ValueString(old),
				NewValue: models.ValueString(cur),
			})
		}
	}
	return diffs, nil
}

// mergeChanged three-way merges a document changed on both sides. The
// result starts from the target content; conflicting features keep it.
func (p *ConflictProcessor) mergeChanged(mc *mergeContext, id models.ObjectID) (*models.Revision, []models.Conflict, error) {
	sBase, err := mc.sourceBase.Get(id)
	if err != nil {
		return nil, nil, err
	}
	s, err := mc.sourceHead().Get(id)
	if err != nil {
		return nil, nil, err
	}
	tBase, err := mc.targetBase.Get(id)
	if err != nil {
		return nil, nil, err
	}
	t, err := mc.targetHead().Get(id)
	if err != nil {
		return nil, nil, err
	}
	if s == nil || t == nil {
		return nil, nil, fmt.Errorf("%s changed on both sides but missing at a head", id)
	}

	merged := t.Clone()
	var conflicts []models.Conflict
	changedBoth := func(feature string, sd, td *models.PropertyDiff) {
		conflicts = append(conflicts, models.Conflict{
			Kind:       models.ConflictChangedInSourceAndTarget,
			Object:     id,
			Feature:    feature,
			SourceDiff: sd,
			TargetDiff: td,
		})
	}

	for _, name := range models.PropertyNames(s, t) {
		sb, sv := sBase.Property(name), s.Property(name)
		tb, tv := tBase.Property(name), t.Property(name)
		sChanged := !models.ValuesEqual(sb, sv)
		tChanged := !models.ValuesEqual(tb, tv)
		switch {
		case !sChanged || models.ValuesEqual(sv, tv):
		case !tChanged:
			setProperty(merged, name, sv)
		default:
			if policy, ok := p.cfg.Policies[name]; ok {
				if v, ok := policy.Resolve(sb, sv, tv); ok {
					setProperty(merged, name, v)
					continue
				}
			}
			changedBoth(name,
				&models.PropertyDiff{Property: name, OldValue: models.ValueString(sb), NewValue: models.ValueString(sv)},
				&models.PropertyDiff{Property: name, OldValue: models.ValueString(tb), NewValue: models.ValueString(tv)})
		}
	}

	td, _ := p.schema.Type(id.Type)
	for _, name := range models.ReferenceNames(sBase, s, tBase, t) {
		sb, sv := sBase.Reference(name), s.Reference(name)
		tb, tv := tBase.Reference(name), t.Reference(name)
		sChanged := !models.StringSetEqual(sb, sv)
		tChanged := !models.StringSetEqual(tb, tv)
		switch {
		case !sChanged || models.StringSetEqual(sv, tv):
		case !tChanged:
			setReference(merged, name, sv)
		default:
			many := false
			if td != nil {
				if ref, ok := td.Reference(name); ok {
					many = ref.Many
				}
			}
			if many && p.cfg.MergeReferenceLists {
				setReference(merged, name, mergeIDLists(sb, sv, tv))
				continue
			}
			changedBoth(name,
				&models.PropertyDiff{Property: name, OldValue: strings.Join(sb, ","), NewValue: strings.Join(sv, ",")},
				&models.PropertyDiff{Property: name, OldValue: strings.Join(tb, ","), NewValue: strings.Join(tv, ",")})
		}
	}

	sMoved := sBase != nil && !models.SameContainer(sBase.Container, s.Container)
	tMoved := tBase != nil && !models.SameContainer(tBase.Container, t.Container)
	switch {
	case !sMoved || models.SameContainer(s.Container, t.Container):
	case !tMoved:
		merged.Container = s.Container
	default:
		changedBoth("container",
			&models.PropertyDiff{Property: "container", OldValue: containerString(sBase.Container), NewValue: containerString(s.Container)},
			&models.PropertyDiff{Property: "container", OldValue: containerString(tBase.Container), NewValue: containerString(t.Container)})
	}
	return merged, conflicts, nil
}

// mergeIDLists applies the source additions and removals to the target list.
func mergeIDLists(base, source, target []string) []string {
	removed := make(map[string]bool)
	for _, id := range difference(base, source) {
		removed[id] = true
	}
	out := make([]string, 0, len(target))
	present := make(map[string]bool, len(target))
	for _, id := range target {
		if removed[id] || present[id] {
			continue
		}
		present[id] = true
		out = append(out, id)
	}
	for _, id := range difference(source, base) {
		if !present[id] {
			present[id] = true
			out = append(out, id)
		}
	}
	return out
}

func setProperty(rev *models.Revision, name string, v interface{}) {
	if v == nil {
		delete(rev.Properties, name)
		return
	}
	rev.Properties[name] = v
}

func setReference(rev *models.Revision, name string, ids []string) {
	if len(ids) == 0 {
		delete(rev.References, name)
		return
	}
	rev.References[name] = append([]string(nil), ids...)
}

func containerString(c *models.ObjectID) string {
	if c == nil {
		return ""
	}
	return c.String()
}

// ConvertPropertyValue renders a property value for display.
func (p *ConflictProcessor) ConvertPropertyValue(property, value string) string {
	if r, ok := p.cfg.Renderers[property]; ok && value != "" {
		return r(value)
	}
	return value
}

// ConvertConflict prepares a conflict for reporting: property values are
// rendered and add/detach conflicts are tagged with the feature linking the
// object to the detached one.
func (p *ConflictProcessor) ConvertConflict(mc *mergeContext, c models.Conflict) (models.Conflict, error) {
	for _, d := range []*models.PropertyDiff{c.SourceDiff, c.TargetDiff} {
		if d == nil {
			continue
		}
		d.OldValue = p.ConvertPropertyValue(d.Property, d.OldValue)
		d.NewValue = p.ConvertPropertyValue(d.Property, d.NewValue)
	}
	if c.Feature != "" || c.Related == nil || *c.Related == c.Object {
		return c, nil
	}

	var view View
	switch c.Kind {
	case models.ConflictAddedInSourceAndDetachedInTarget, models.ConflictChangedInSourceAndDetachedInTarget:
		view = mc.sourceHead()
	case models.ConflictAddedInTargetAndDetachedInSource, models.ConflictChangedInTargetAndDetachedInSource:
		view = mc.targetHead()
	default:
		return c, nil
	}
	rev, err := view.Get(c.Object)
	if err != nil {
		return c, err
	}
	if rev == nil {
		return c, nil
	}
	if rev.Container != nil && *rev.Container == *c.Related {
		c.Feature = "container"
		return c, nil
	}
	for _, name := range models.ReferenceNames(rev) {
		for _, target := range rev.References[name] {
			if target == c.Related.ID {
				c.Feature = name
				return c, nil
			}
		}
	}
	return c, nil
}

func sortedHeld(held map[models.ObjectID]*heldMerge) []models.ObjectID {
	ids := make([]models.ObjectID, 0, len(held))
	for id := range held {
		ids = append(ids, id)
	}
	models.SortObjectIDs(ids)
	return ids
}
