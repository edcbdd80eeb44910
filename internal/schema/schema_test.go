package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/revstore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_SnomedTypes(t *testing.T) {
	s := Default()

	assert.Equal(t, []string{"concept", "description", "member", "relationship"}, s.TypeNames())

	rel, ok := s.Type("relationship")
	require.True(t, ok)
	assert.True(t, rel.Relational)
	assert.Equal(t, "concept", rel.Container)
	assert.True(t, rel.IsProtected("released"))
	assert.True(t, rel.IsOwnership("moduleId"))

	dest, ok := rel.Reference("destinationId")
	require.True(t, ok)
	assert.False(t, dest.Bidirectional())
	assert.True(t, dest.Persistent())

	concept, _ := s.Type("concept")
	descs, ok := concept.Reference("descriptions")
	require.True(t, ok)
	assert.True(t, descs.Containment)
	assert.True(t, descs.Bidirectional())

	feature, ok := s.ContainmentFeature("description")
	require.True(t, ok)
	assert.Equal(t, "descriptions", feature)
}

func TestParse_RejectsUnknownContainer(t *testing.T) {
	_, err := Parse([]byte(`
types:
  part:
    container: whole
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown container type whole")
}

func TestParse_RejectsNonContainmentFeature(t *testing.T) {
	_, err := Parse([]byte(`
types:
  whole:
    references:
      - name: parts
        target: part
        many: true
  part:
    container: whole
    container_feature: parts
`))
	require.Error(t, err)
}

func TestParse_RejectsEmpty(t *testing.T) {
	_, err := Parse([]byte(`types: {}`))
	require.Error(t, err)
}

func TestLoad_RoundTripsDefault(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().TypeNames(), s.TypeNames())
}

func TestIsActive(t *testing.T) {
	s := Default()

	assert.True(t, s.IsActive(&models.Revision{Type: "concept", Properties: map[string]interface{}{"active": true}}))
	assert.False(t, s.IsActive(&models.Revision{Type: "concept", Properties: map[string]interface{}{"active": false}}))
	assert.False(t, s.IsActive(&models.Revision{Type: "concept", Properties: map[string]interface{}{"active": "false"}}))
	assert.True(t, s.IsActive(&models.Revision{Type: "concept"}))
	assert.False(t, s.IsActive(&models.Revision{Type: "concept", Deleted: true}))
	assert.False(t, s.IsActive(nil))
}

func TestSnomedCategorizer(t *testing.T) {
	c := SnomedCategorizer{}

	tests := []struct {
		id   string
		want string
		ok   bool
	}{
		{"138875005", "concept", true},
		{"1000004", "concept", true},
		{"2148514019", "description", true},
		{"100022", "relationship", true},
		{"3e0a6ab4-3a51-4cf8-9b7e-2d4b8b7c1a10", "member", true},
		{"12a", "", false},
		{"138875095", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, ok := c.Category(tt.id)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_PrefersDeclaredTarget(t *testing.T) {
	typ, ok := Resolve(ReferenceDescriptor{Name: "destinationId", Target: "concept"}, "2148514019", SnomedCategorizer{})
	require.True(t, ok)
	assert.Equal(t, "concept", typ)

	typ, ok = Resolve(ReferenceDescriptor{Name: "referencedComponentId"}, "2148514019", SnomedCategorizer{})
	require.True(t, ok)
	assert.Equal(t, "description", typ)

	_, ok = Resolve(ReferenceDescriptor{Name: "referencedComponentId"}, "x", nil)
	assert.False(t, ok)
}
