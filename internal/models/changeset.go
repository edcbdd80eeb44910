package models

import "sort"

// ChangeKind classifies an id within a change set.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeChanged ChangeKind = "changed"
	ChangeRemoved ChangeKind = "removed"
)

// ChangeSet is the diff of one branch between two points in time.
// An id holds at most one kind, so the added, changed and removed sets
// never overlap.
type ChangeSet struct {
	Branch string `json:"branch"`
	Since  int64  `json:"since"`
	Head   int64  `json:"head"`

	kinds      map[ObjectID]ChangeKind
	containers map[ObjectID]ObjectID
}

// NewChangeSet creates an empty change set.
func NewChangeSet(branch string, since, head int64) *ChangeSet {
	return &ChangeSet{
		Branch:     branch,
		Since:      since,
		Head:       head,
		kinds:      make(map[ObjectID]ChangeKind),
		containers: make(map[ObjectID]ObjectID),
	}
}

// Put records id under kind, replacing any earlier classification.
func (cs *ChangeSet) Put(kind ChangeKind, id ObjectID, container *ObjectID) {
	cs.kinds[id] = kind
	if container != nil {
		cs.containers[id] = *container
	} else {
		delete(cs.containers, id)
	}
}

// Kind returns the classification of id, or "" when untouched.
func (cs *ChangeSet) Kind(id ObjectID) ChangeKind {
	return cs.kinds[id]
}

// IsAdded reports whether id was added.
func (cs *ChangeSet) IsAdded(id ObjectID) bool { return cs.kinds[id] == ChangeAdded }

// IsChanged reports whether id was changed.
func (cs *ChangeSet) IsChanged(id ObjectID) bool { return cs.kinds[id] == ChangeChanged }

// IsRemoved reports whether id was removed.
func (cs *ChangeSet) IsRemoved(id ObjectID) bool { return cs.kinds[id] == ChangeRemoved }

// Touches reports whether id was added or changed.
func (cs *ChangeSet) Touches(id ObjectID) bool {
	k := cs.kinds[id]
	return k == ChangeAdded || k == ChangeChanged
}

// Container returns the container recorded for id.
func (cs *ChangeSet) Container(id ObjectID) (ObjectID, bool) {
	c, ok := cs.containers[id]
	return c, ok
}

// IDs returns the ids of the given kind, sorted.
func (cs *ChangeSet) IDs(kind ChangeKind) []ObjectID {
	var ids []ObjectID
	for id, k := range cs.kinds {
		if k == kind {
			ids = append(ids, id)
		}
	}
	SortObjectIDs(ids)
	return ids
}

// IDsOfType returns the ids of the given kind and document type, sorted.
func (cs *ChangeSet) IDsOfType(kind ChangeKind, typ string) []string {
	var ids []string
	for id, k := range cs.kinds {
		if k == kind && id.Type == typ {
			ids = append(ids, id.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Types returns the document types present in the change set, sorted.
func (cs *ChangeSet) Types() []string {
	seen := make(map[string]bool)
	var types []string
	for id := range cs.kinds {
		if !seen[id.Type] {
			seen[id.Type] = true
			types = append(types, id.Type)
		}
	}
	sort.Strings(types)
	return types
}

// Len returns the number of ids in the change set.
func (cs *ChangeSet) Len() int {
	return len(cs.kinds)
}

// IsEmpty returns true if nothing changed.
func (cs *ChangeSet) IsEmpty() bool {
	return len(cs.kinds) == 0
}

// ChildrenOf returns ids of the given kind whose container is container.
func (cs *ChangeSet) ChildrenOf(kind ChangeKind, container ObjectID) []ObjectID {
	var ids []ObjectID
	for id, c := range cs.containers {
		if c == container && cs.kinds[id] == kind {
			ids = append(ids, id)
		}
	}
	SortObjectIDs(ids)
	return ids
}

// Counts returns the number of added, changed and removed ids.
func (cs *ChangeSet) Counts() (added, changed, removed int) {
	for _, k := range cs.kinds {
		switch k {
		case ChangeAdded:
			added++
		case ChangeChanged:
			changed++
		case ChangeRemoved:
			removed++
		}
	}
	return
}
