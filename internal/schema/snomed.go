package schema

// snomedSchema is the built-in SNOMED CT document model.
const snomedSchema = `
types:
  concept:
    active_property: active
    protected: [released]
    ownership: [moduleId]
    references:
      - name: descriptions
        target: description
        many: true
        containment: true
      - name: relationships
        target: relationship
        many: true
        containment: true
      - name: members
        target: member
        many: true
        containment: true
  description:
    container: concept
    container_feature: descriptions
    active_property: active
    protected: [released]
    ownership: [moduleId]
    references:
      - name: typeId
        target: concept
  relationship:
    container: concept
    container_feature: relationships
    active_property: active
    relational: true
    protected: [released]
    ownership: [moduleId]
    references:
      - name: destinationId
        target: concept
      - name: typeId
        target: concept
  member:
    container: concept
    container_feature: members
    active_property: active
    relational: true
    protected: [released]
    ownership: [moduleId]
    references:
      - name: referencedComponentId
      - name: refsetId
        target: concept
`

// Default returns the built-in SNOMED CT schema.
func Default() *Schema {
	s, err := Parse([]byte(snomedSchema))
	if err != nil {
		panic(err)
	}
	return s
}
