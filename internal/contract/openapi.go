package contract

import (
	"context"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// NewHTTPContract builds an HTTP contract from an OpenAPI document
// (JSON or YAML). Each path/method pair becomes one operation keyed
// "METHOD path"; the operation schema is the JSON request body schema when
// present, otherwise the 200 response schema.
func NewHTTPContract(ctx context.Context, id, version string, spec []byte) (*Contract, error) {
	loader := &openapi3.Loader{Context: ctx, IsExternalRefsAllowed: false}
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if doc.Paths == nil {
		return nil, fmt.Errorf("openapi document has no paths")
	}

	c := &Contract{
		ID:         id,
		Version:    version,
		Protocol:   ProtocolHTTP,
		Operations: make(map[string]*Operation),
	}
	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			opID := method + " " + path
			operation := &Operation{
				ID:     opID,
				Format: FormatJSONSchema,
				Meta: Metadata{
					HTTPMethod: method,
					Path:       path,
				},
			}
			if ref := requestSchema(op); ref != nil {
				operation.Schema = fromOpenAPISchema(ref, map[*openapi3.Schema]bool{})
			} else if ref := responseSchema(op); ref != nil {
				operation.Schema = fromOpenAPISchema(ref, map[*openapi3.Schema]bool{})
				operation.Meta.Direction = "outbound"
			}
			c.Operations[opID] = operation
		}
	}
	return c, nil
}

func requestSchema(op *openapi3.Operation) *openapi3.SchemaRef {
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return nil
	}
	if media := op.RequestBody.Value.Content.Get("application/json"); media != nil {
		return media.Schema
	}
	return nil
}

func responseSchema(op *openapi3.Operation) *openapi3.SchemaRef {
	if op.Responses == nil {
		return nil
	}
	resp := op.Responses.Status(200)
	if resp == nil || resp.Value == nil {
		return nil
	}
	if media := resp.Value.Content.Get("application/json"); media != nil {
		return media.Schema
	}
	return nil
}

// fromOpenAPISchema converts a kin-openapi schema into a SchemaNode. Cyclic
// references collapse to an empty object node.
func fromOpenAPISchema(ref *openapi3.SchemaRef, visited map[*openapi3.Schema]bool) *SchemaNode {
	if ref == nil || ref.Value == nil {
		return NewScalar("any")
	}
	s := ref.Value
	if visited[s] {
		return NewObject()
	}
	visited[s] = true
	defer delete(visited, s)

	switch {
	case s.Type.Is("object") || len(s.Properties) > 0:
		node := NewObject()
		for name, prop := range s.Properties {
			node.Properties[name] = fromOpenAPISchema(prop, visited)
		}
		for _, name := range s.Required {
			node.Required[name] = struct{}{}
		}
		return node
	case s.Type.Is("array"):
		return NewArray(fromOpenAPISchema(s.Items, visited))
	default:
		typ := "any"
		if s.Type != nil && len(*s.Type) > 0 {
			typ = (*s.Type)[0]
		}
		return NewScalar(typ)
	}
}
