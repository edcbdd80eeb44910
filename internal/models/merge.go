package models

import (
	"fmt"
	"strings"
)

// ConflictKind identifies the type of merge conflict
type ConflictKind string

const (
	ConflictAddedInSourceAndTarget             ConflictKind = "added-in-source-and-target"
	ConflictAddedInSourceAndDetachedInTarget   ConflictKind = "added-in-source-and-detached-in-target"
	ConflictAddedInTargetAndDetachedInSource   ConflictKind = "added-in-target-and-detached-in-source"
	ConflictChangedInSourceAndTarget           ConflictKind = "changed-in-source-and-target"
	ConflictChangedInSourceAndDetachedInTarget ConflictKind = "changed-in-source-and-detached-in-target"
	ConflictChangedInTargetAndDetachedInSource ConflictKind = "changed-in-target-and-detached-in-source"
)

// Mirror returns the kind with source and target swapped.
func (k ConflictKind) Mirror() ConflictKind {
	switch k {
	case ConflictAddedInSourceAndDetachedInTarget:
		return ConflictAddedInTargetAndDetachedInSource
	case ConflictAddedInTargetAndDetachedInSource:
		return ConflictAddedInSourceAndDetachedInTarget
	case ConflictChangedInSourceAndDetachedInTarget:
		return ConflictChangedInTargetAndDetachedInSource
	case ConflictChangedInTargetAndDetachedInSource:
		return ConflictChangedInSourceAndDetachedInTarget
	}
	return k
}

// PropertyDiff is the change of one property on one side of a merge.
type PropertyDiff struct {
	Property string `json:"property"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// Conflict is a detected incompatibility between two branches. Related is
// the object detached on the other side for the add/change-vs-detach kinds.
type Conflict struct {
	Kind       ConflictKind  `json:"kind"`
	Object     ObjectID      `json:"object"`
	Related    *ObjectID     `json:"related,omitempty"`
	Feature    string        `json:"feature,omitempty"`
	SourceDiff *PropertyDiff `json:"source_diff,omitempty"`
	TargetDiff *PropertyDiff `json:"target_diff,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

// Key identifies a conflict for de-duplication.
func (c Conflict) Key() string {
	related := ""
	if c.Related != nil {
		related = c.Related.String()
	}
	return strings.Join([]string{string(c.Kind), c.Object.String(), related, c.Feature}, "|")
}

// Message renders the conflict for display.
func (c Conflict) Message() string {
	var msg string
	switch c.Kind {
	case ConflictAddedInSourceAndTarget:
		msg = fmt.Sprintf("%s was added independently on both source and target", c.Object)
	case ConflictAddedInSourceAndDetachedInTarget:
		msg = fmt.Sprintf("%s was added on source but %s was detached on target", c.Object, c.relatedString())
	case ConflictAddedInTargetAndDetachedInSource:
		msg = fmt.Sprintf("%s was added on target but %s was detached on source", c.Object, c.relatedString())
	case ConflictChangedInSourceAndTarget:
		msg = fmt.Sprintf("%s was changed on both source and target", c.Object)
	case ConflictChangedInSourceAndDetachedInTarget:
		msg = fmt.Sprintf("%s was changed on source but %s was detached on target", c.Object, c.relatedString())
	case ConflictChangedInTargetAndDetachedInSource:
		msg = fmt.Sprintf("%s was changed on target but %s was detached on source", c.Object, c.relatedString())
	default:
		msg = fmt.Sprintf("%s: %s", c.Kind, c.Object)
	}
	if c.Feature != "" {
		msg += fmt.Sprintf(" (%s)", c.Feature)
	}
	if c.SourceDiff != nil {
		msg += fmt.Sprintf("; source: %q -> %q", c.SourceDiff.OldValue, c.SourceDiff.NewValue)
	}
	if c.TargetDiff != nil {
		msg += fmt.Sprintf("; target: %q -> %q", c.TargetDiff.OldValue, c.TargetDiff.NewValue)
	}
	if c.Detail != "" {
		msg += "; " + c.Detail
	}
	return msg
}

func (c Conflict) relatedString() string {
	if c.Related == nil {
		return c.Object.String()
	}
	return c.Related.String()
}

// MergeResult contains the outcome of a merge operation
type MergeResult struct {
	Source      string     `json:"source"`
	Target      string     `json:"target"`
	Success     bool       `json:"success"`
	Conflicts   []Conflict `json:"conflicts,omitempty"`
	Commit      *Commit    `json:"commit,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
	Donated     []ObjectID `json:"donated,omitempty"`
	FromChanges *ChangeSet `json:"-"`
	ToChanges   *ChangeSet `json:"-"`
	Warnings    []string   `json:"warnings,omitempty"`
}

// MergeOptions configures merge behavior
type MergeOptions struct {
	Author  string
	Comment string
	DryRun  bool // compute conflicts without committing
}
