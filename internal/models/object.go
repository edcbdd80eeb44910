// Package models defines the core data structures used throughout revstore
// including revisions, branches, commits, change sets and conflicts.
package models

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
)

// ObjectID identifies a document independent of any revision of it.
type ObjectID struct {
	Type string `json:"type" yaml:"type"`
	ID   string `json:"id" yaml:"id"`
}

// String returns "type/id".
func (o ObjectID) String() string {
	return o.Type + "/" + o.ID
}

// IsZero reports whether the id is unset.
func (o ObjectID) IsZero() bool {
	return o.Type == "" && o.ID == ""
}

// ParseObjectID parses the "type/id" form produced by String.
func ParseObjectID(s string) (ObjectID, bool) {
	i := strings.Index(s, "/")
	if i <= 0 || i == len(s)-1 {
		return ObjectID{}, false
	}
	return ObjectID{Type: s[:i], ID: s[i+1:]}, true
}

// SortObjectIDs sorts ids by type, then id.
func SortObjectIDs(ids []ObjectID) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Type != ids[j].Type {
			return ids[i].Type < ids[j].Type
		}
		return ids[i].ID < ids[j].ID
	})
}

// Revision is an immutable snapshot of one document on one branch.
type Revision struct {
	ID              string                 `json:"id"`
	Type            string                 `json:"type"`
	BranchPath      string                 `json:"branch"`
	CommitTimestamp int64                  `json:"commit_timestamp"`
	StorageKey      string                 `json:"storage_key"`
	Container       *ObjectID              `json:"container,omitempty"`
	Properties      map[string]interface{} `json:"properties,omitempty"`
	References      map[string][]string    `json:"references,omitempty"`
	Deleted         bool                   `json:"deleted,omitempty"` // tombstone
}

// ObjectID returns the revision's document identity.
func (r *Revision) ObjectID() ObjectID {
	return ObjectID{Type: r.Type, ID: r.ID}
}

// Clone returns a deep copy that carries the same content but no store identity.
func (r *Revision) Clone() *Revision {
	c := &Revision{
		ID:         r.ID,
		Type:       r.Type,
		Properties: make(map[string]interface{}, len(r.Properties)),
		References: make(map[string][]string, len(r.References)),
	}
	if r.Container != nil {
		container := *r.Container
		c.Container = &container
	}
	for k, v := range r.Properties {
		c.Properties[k] = v
	}
	for k, v := range r.References {
		c.References[k] = append([]string(nil), v...)
	}
	return c
}

// Property returns a property value, or nil when unset.
func (r *Revision) Property(name string) interface{} {
	if r == nil || r.Properties == nil {
		return nil
	}
	return r.Properties[name]
}

// Reference returns the target ids of a reference.
func (r *Revision) Reference(name string) []string {
	if r == nil || r.References == nil {
		return nil
	}
	return r.References[name]
}

// SameContainer reports whether both revisions share a container.
func SameContainer(a, b *ObjectID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ValuesEqual compares two property values by their JSON encoding, so a value
// decoded from the store equals the value it was written from.
func ValuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return ValueString(a) == ValueString(b)
}

// ValueString renders a property value in its canonical JSON form, strings unquoted.
func ValueString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// ContentEqual reports whether two revisions hold the same document content,
// ignoring the listed properties.
func ContentEqual(a, b *Revision, ignore ...string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type != b.Type || a.ID != b.ID || !SameContainer(a.Container, b.Container) {
		return false
	}
	skip := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		skip[name] = true
	}
	for _, k := range unionKeys(a.Properties, b.Properties) {
		if skip[k] {
			continue
		}
		if !ValuesEqual(a.Properties[k], b.Properties[k]) {
			return false
		}
	}
	for k := range a.References {
		if !StringSetEqual(a.References[k], b.References[k]) {
			return false
		}
	}
	for k := range b.References {
		if _, ok := a.References[k]; !ok && len(b.References[k]) > 0 {
			return false
		}
	}
	return true
}

// StringSetEqual compares two id lists ignoring order.
func StringSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}

func unionKeys(a, b map[string]interface{}) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// PropertyNames returns the union of property names of both revisions, sorted.
func PropertyNames(a, b *Revision) []string {
	var pa, pb map[string]interface{}
	if a != nil {
		pa = a.Properties
	}
	if b != nil {
		pb = b.Properties
	}
	return unionKeys(pa, pb)
}

// ReferenceNames returns the union of reference names of the revisions, sorted.
func ReferenceNames(revs ...*Revision) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range revs {
		if r == nil {
			continue
		}
		for k := range r.References {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}
