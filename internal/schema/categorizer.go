package schema

import (
	"github.com/google/uuid"
)

// Categorizer derives a document type from a bare component id.
type Categorizer interface {
	Category(id string) (string, bool)
}

// CategorizerFunc adapts a function to a Categorizer.
type CategorizerFunc func(id string) (string, bool)

// Category calls f(id).
func (f CategorizerFunc) Category(id string) (string, bool) {
	return f(id)
}

// SnomedCategorizer reads the partition identifier of SNOMED CT ids.
// Reference set members are identified by UUIDs.
type SnomedCategorizer struct{}

// Category returns concept, description, relationship or member.
func (SnomedCategorizer) Category(id string) (string, bool) {
	if _, err := uuid.Parse(id); err == nil {
		return "member", true
	}
	if len(id) < 6 || len(id) > 18 {
		return "", false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	switch id[len(id)-3 : len(id)-1] {
	case "00", "10":
		return "concept", true
	case "01", "11":
		return "description", true
	case "02", "12":
		return "relationship", true
	}
	return "", false
}

// Resolve returns the ObjectID type for a reference target id, preferring the
// declared target type.
func Resolve(ref ReferenceDescriptor, id string, c Categorizer) (string, bool) {
	if ref.Target != "" {
		return ref.Target, true
	}
	if c == nil {
		return "", false
	}
	return c.Category(id)
}
