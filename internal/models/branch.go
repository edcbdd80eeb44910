package models

import (
	"strings"
	"time"
)

// MainBranch is the path of the root branch.
const MainBranch = "MAIN"

// Branch is a named line of revisions. Branches form a tree through ParentPath.
type Branch struct {
	Path          string                 `json:"path"`
	ParentPath    string                 `json:"parent_path,omitempty"`
	BaseTimestamp int64                  `json:"base_timestamp"`
	HeadTimestamp int64                  `json:"head_timestamp"`
	ExtensionOf   string                 `json:"extension_of,omitempty"`
	MergeSources  map[string]MergeRecord `json:"merge_sources,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// MergeRecord remembers the last merge from a source branch into this branch.
type MergeRecord struct {
	SourceTimestamp int64 `json:"source_timestamp"` // source head that was merged
	TargetTimestamp int64 `json:"target_timestamp"` // commit on this branch that realized it
}

// IsRoot reports whether the branch has no parent.
func (b *Branch) IsRoot() bool {
	return b.ParentPath == ""
}

// Name returns the last path segment.
func (b *Branch) Name() string {
	if i := strings.LastIndex(b.Path, "/"); i >= 0 {
		return b.Path[i+1:]
	}
	return b.Path
}

// ChildPath joins a parent path and a branch name.
func ChildPath(parent, name string) string {
	return parent + "/" + name
}

// ValidBranchName reports whether name can be used as a single path segment.
func ValidBranchName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\x00 \t\n")
}
