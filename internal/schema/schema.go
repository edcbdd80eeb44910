// Package schema describes document types to the merge and integrity engine:
// containment and associative references, protected and ownership properties,
// and how to derive a document type from a bare component id.
package schema

import (
	"fmt"
	"os"
	"sort"

	"github.com/kilupskalvis/revstore/internal/models"
	"gopkg.in/yaml.v3"
)

// ReferenceDescriptor describes one outgoing reference of a document type.
type ReferenceDescriptor struct {
	Name        string `yaml:"name"`
	Target      string `yaml:"target,omitempty"` // empty: resolved per id by a Categorizer
	Many        bool   `yaml:"many,omitempty"`
	Containment bool   `yaml:"containment,omitempty"`
	Inverse     string `yaml:"inverse,omitempty"` // persisted opposite reference on the target
	Transient   bool   `yaml:"transient,omitempty"`
}

// Persistent reports whether the reference is stored with the document.
func (r ReferenceDescriptor) Persistent() bool {
	return !r.Transient
}

// Bidirectional reports whether changing the reference changes the target too.
func (r ReferenceDescriptor) Bidirectional() bool {
	return r.Containment || r.Inverse != ""
}

// TypeDescriptor describes one document type.
type TypeDescriptor struct {
	Name             string                `yaml:"-"`
	Container        string                `yaml:"container,omitempty"`
	ContainerFeature string                `yaml:"container_feature,omitempty"`
	Resource         string                `yaml:"resource,omitempty"`
	ActiveProperty   string                `yaml:"active_property,omitempty"`
	Relational       bool                  `yaml:"relational,omitempty"`
	Protected        []string              `yaml:"protected,omitempty"`
	Ownership        []string              `yaml:"ownership,omitempty"`
	References       []ReferenceDescriptor `yaml:"references,omitempty"`
}

// Reference returns the named reference descriptor.
func (t *TypeDescriptor) Reference(name string) (ReferenceDescriptor, bool) {
	for _, r := range t.References {
		if r.Name == name {
			return r, true
		}
	}
	return ReferenceDescriptor{}, false
}

// IsProtected reports whether a property may not be lost once published.
func (t *TypeDescriptor) IsProtected(property string) bool {
	return contains(t.Protected, property)
}

// IsOwnership reports whether a property only records ownership metadata.
func (t *TypeDescriptor) IsOwnership(property string) bool {
	return contains(t.Ownership, property)
}

// Schema is the set of known document types.
type Schema struct {
	Types map[string]*TypeDescriptor `yaml:"types"`
}

// Parse decodes a YAML schema document and validates it.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a YAML schema from path.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(data)
}

// Marshal encodes the schema as YAML.
func (s *Schema) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

func (s *Schema) init() error {
	if len(s.Types) == 0 {
		return fmt.Errorf("schema defines no types")
	}
	for name, t := range s.Types {
		if t == nil {
			return fmt.Errorf("type %s: empty descriptor", name)
		}
		t.Name = name
	}
	for _, name := range s.TypeNames() {
		t := s.Types[name]
		if t.Container != "" {
			c, ok := s.Types[t.Container]
			if !ok {
				return fmt.Errorf("type %s: unknown container type %s", name, t.Container)
			}
			if t.ContainerFeature != "" {
				ref, ok := c.Reference(t.ContainerFeature)
				if !ok || !ref.Containment {
					return fmt.Errorf("type %s: container feature %s is not a containment reference of %s", name, t.ContainerFeature, t.Container)
				}
			}
		}
		for _, r := range t.References {
			if r.Target != "" {
				if _, ok := s.Types[r.Target]; !ok {
					return fmt.Errorf("type %s: reference %s targets unknown type %s", name, r.Name, r.Target)
				}
			}
		}
	}
	return nil
}

// Type returns the descriptor of a document type.
func (s *Schema) Type(name string) (*TypeDescriptor, bool) {
	t, ok := s.Types[name]
	return t, ok
}

// TypeNames returns all type names, sorted.
func (s *Schema) TypeNames() []string {
	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsActive reports whether a revision is in a valid, active state. Types
// without an active property are always active; deleted revisions never are.
func (s *Schema) IsActive(rev *models.Revision) bool {
	if rev == nil || rev.Deleted {
		return false
	}
	t, ok := s.Types[rev.Type]
	if !ok || t.ActiveProperty == "" {
		return true
	}
	v, ok := rev.Properties[t.ActiveProperty]
	if !ok {
		return true
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b != "false" && b != "0"
	}
	return true
}

// ContainmentFeature returns the reference of the container type that lists
// documents of the given type.
func (s *Schema) ContainmentFeature(typ string) (string, bool) {
	t, ok := s.Types[typ]
	if !ok || t.Container == "" || t.ContainerFeature == "" {
		return "", false
	}
	return t.ContainerFeature, true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
