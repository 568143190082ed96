// Package contract holds the unified contract model: versioned protocol
// contracts, their operations, and the normalized SchemaNode tree that every
// supported schema representation is converted into before diffing.
package contract

import "sort"

// Kind classifies a SchemaNode.
type Kind string

const (
	KindObject Kind = "object"
	KindArray  Kind = "array"
	KindScalar Kind = "scalar"
)

// SchemaNode is the normalized recursive schema structure. All protocol
// payloads (JSON Schema, Avro, flat json_shape maps, protobuf descriptors)
// are converted into this shape so the diff engine can compare them without
// knowing where they came from. Nodes are built fresh per normalization call
// and never mutated afterwards.
type SchemaNode struct {
	Kind       Kind                   `json:"kind"`
	Type       string                 `json:"type,omitempty"`
	Properties map[string]*SchemaNode `json:"properties,omitempty"`
	Required   map[string]struct{}    `json:"-"`
	Items      *SchemaNode            `json:"items,omitempty"`
}

// NewObject returns an empty object node.
func NewObject() *SchemaNode {
	return &SchemaNode{
		Kind:       KindObject,
		Properties: make(map[string]*SchemaNode),
		Required:   make(map[string]struct{}),
	}
}

// NewScalar returns a scalar node with the given type tag.
func NewScalar(typ string) *SchemaNode {
	return &SchemaNode{Kind: KindScalar, Type: typ}
}

// NewArray returns an array node wrapping items.
func NewArray(items *SchemaNode) *SchemaNode {
	return &SchemaNode{Kind: KindArray, Items: items}
}

// IsRequired reports whether the named property is in the required set.
func (n *SchemaNode) IsRequired(name string) bool {
	if n == nil || n.Required == nil {
		return false
	}
	_, ok := n.Required[name]
	return ok
}

// PropertyNames returns the property names in sorted order. The diff engine
// relies on this for deterministic traversal.
func (n *SchemaNode) PropertyNames() []string {
	if n == nil || len(n.Properties) == 0 {
		return nil
	}
	names := make([]string, 0, len(n.Properties))
	for name := range n.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
