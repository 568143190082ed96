package contract

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/driftd/internal/logging"
)

// SchemaFormat identifies the representation a schema payload arrived in.
type SchemaFormat string

const (
	FormatJSONSchema SchemaFormat = "json_schema"
	FormatAvro       SchemaFormat = "avro"
	FormatJSONShape  SchemaFormat = "json_shape"
	FormatProtobuf   SchemaFormat = "protobuf"
)

// DetectFormat applies the detection policy to a decoded schema document, in
// order: Avro record, JSON Schema markers, flat name->type map. Anything else
// falls back to json_shape with an ambiguity warning.
func DetectFormat(doc map[string]any) SchemaFormat {
	if t, ok := doc["type"].(string); ok && t == "record" {
		if _, ok := doc["fields"].([]any); ok {
			return FormatAvro
		}
	}
	for _, marker := range []string{"$schema", "properties", "required"} {
		if _, ok := doc[marker]; ok {
			return FormatJSONSchema
		}
	}
	if t, ok := doc["type"].(string); ok && (t == "object" || t == "array") {
		return FormatJSONSchema
	}
	if isFlatShape(doc) {
		return FormatJSONShape
	}
	logging.Warn("ambiguous schema document, treating as json_shape",
		zap.Int("keys", len(doc)))
	return FormatJSONShape
}

func isFlatShape(doc map[string]any) bool {
	if len(doc) == 0 {
		return false
	}
	for _, v := range doc {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return true
}

// NormalizeSchema decodes a raw schema payload, detects its format and
// converts it into a SchemaNode tree.
func NormalizeSchema(raw json.RawMessage) (*SchemaNode, SchemaFormat, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", fmt.Errorf("decode schema document: %w", err)
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, "", fmt.Errorf("schema document is not an object")
	}
	format := DetectFormat(m)
	node, err := normalizeAs(m, format)
	if err != nil {
		return nil, format, err
	}
	return node, format, nil
}

func normalizeAs(doc map[string]any, format SchemaFormat) (*SchemaNode, error) {
	switch format {
	case FormatAvro:
		return fromAvro(doc)
	case FormatJSONSchema:
		return fromJSONSchema(doc), nil
	default:
		return fromShape(doc), nil
	}
}

// fromJSONSchema converts a decoded JSON Schema document. Unknown or absent
// type keywords degrade to a scalar "any" tag rather than failing: the diff
// engine treats those as opaque values.
func fromJSONSchema(doc map[string]any) *SchemaNode {
	typ, _ := doc["type"].(string)
	props, hasProps := doc["properties"].(map[string]any)

	switch {
	case typ == "object" || hasProps:
		node := NewObject()
		for name, sub := range props {
			if m, ok := sub.(map[string]any); ok {
				node.Properties[name] = fromJSONSchema(m)
			} else {
				node.Properties[name] = NewScalar("any")
			}
		}
		if req, ok := doc["required"].([]any); ok {
			for _, r := range req {
				if name, ok := r.(string); ok {
					node.Required[name] = struct{}{}
				}
			}
		}
		return node
	case typ == "array":
		if items, ok := doc["items"].(map[string]any); ok {
			return NewArray(fromJSONSchema(items))
		}
		return NewArray(NewScalar("any"))
	case typ != "":
		return NewScalar(typ)
	default:
		return NewScalar("any")
	}
}

// fromAvro converts an Avro record schema. Union types with "null" mark the
// field optional; everything else is required, matching Avro's semantics.
func fromAvro(doc map[string]any) (*SchemaNode, error) {
	fields, ok := doc["fields"].([]any)
	if !ok {
		return nil, fmt.Errorf("avro record missing fields array")
	}
	node := NewObject()
	for i, f := range fields {
		fm, ok := f.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("avro field %d is not an object", i)
		}
		name, _ := fm["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("avro field %d has no name", i)
		}
		child, optional, err := avroType(fm["type"])
		if err != nil {
			return nil, fmt.Errorf("avro field %q: %w", name, err)
		}
		node.Properties[name] = child
		if _, hasDefault := fm["default"]; !optional && !hasDefault {
			node.Required[name] = struct{}{}
		}
	}
	return node, nil
}

// avroType resolves an Avro type declaration: a primitive name, a nested
// complex type, or a union. Returns the node and whether the union admits
// null.
func avroType(t any) (*SchemaNode, bool, error) {
	switch v := t.(type) {
	case string:
		return NewScalar(avroScalar(v)), v == "null", nil
	case map[string]any:
		typ, _ := v["type"].(string)
		switch typ {
		case "record":
			n, err := fromAvro(v)
			return n, false, err
		case "array":
			items, _, err := avroType(v["items"])
			if err != nil {
				return nil, false, err
			}
			return NewArray(items), false, nil
		case "map":
			return NewObject(), false, nil
		case "enum", "fixed":
			return NewScalar("string"), false, nil
		default:
			return NewScalar(avroScalar(typ)), false, nil
		}
	case []any:
		optional := false
		var branch *SchemaNode
		for _, b := range v {
			if s, ok := b.(string); ok && s == "null" {
				optional = true
				continue
			}
			if branch == nil {
				n, _, err := avroType(b)
				if err != nil {
					return nil, false, err
				}
				branch = n
			}
		}
		if branch == nil {
			branch = NewScalar("null")
		}
		return branch, optional, nil
	default:
		return nil, false, fmt.Errorf("unsupported avro type declaration %T", t)
	}
}

func avroScalar(name string) string {
	switch name {
	case "int", "long":
		return "integer"
	case "float", "double":
		return "number"
	case "boolean":
		return "boolean"
	case "bytes":
		return "bytes"
	case "null":
		return "null"
	default:
		return "string"
	}
}

// fromShape converts a flat name->type map. Shape declarations carry no
// required markers, so every field is optional.
func fromShape(doc map[string]any) *SchemaNode {
	node := NewObject()
	for name, v := range doc {
		typ, _ := v.(string)
		if typ == "" {
			typ = "any"
		}
		node.Properties[name] = NewScalar(typ)
	}
	return node
}
