package models

// OperationType represents the type of pending edit
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// Operation is a single edit in an editing session's pending log.
// Update merges Properties and References into the current document;
// a nil property value unsets it.
type Operation struct {
	Type       OperationType          `json:"op" yaml:"op"`
	Object     ObjectID               `json:"object" yaml:"object"`
	Container  *ObjectID              `json:"container,omitempty" yaml:"container,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty" yaml:"properties,omitempty"`
	References map[string][]string    `json:"references,omitempty" yaml:"references,omitempty"`
}
