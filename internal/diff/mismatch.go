// Package diff implements the protocol-agnostic contract comparison engine:
// it diffs two contract snapshots into a deterministic, classified mismatch
// list with protocol-specific breaking-change rules layered on top.
package diff

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Severity ranks a mismatch. Higher values sort first in the output.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "critical":
		*s = SeverityCritical
	case "high":
		*s = SeverityHigh
	case "medium":
		*s = SeverityMedium
	case "low":
		*s = SeverityLow
	default:
		return fmt.Errorf("unknown severity %q", str)
	}
	return nil
}

// Mismatch types.
const (
	TypeEndpointNotFound     = "endpoint_not_found"
	TypeUnexpectedField      = "unexpected_field"
	TypeMissingRequiredField = "missing_required_field"
	TypeTypeMismatch         = "type_mismatch"
	TypeSchemaMismatch       = "schema_mismatch"
	TypeSchemaParseError     = "schema_parse_error"
)

// Change categories.
const (
	CategoryOperationAdded     = "operation_added"
	CategoryEndpointRemoved    = "endpoint_removed"
	CategoryMethodRemoved      = "method_removed"
	CategoryMethodAdded        = "method_added"
	CategoryServiceRemoved     = "service_removed"
	CategoryServiceAdded       = "service_added"
	CategoryTopicRemoved       = "topic_removed"
	CategoryInputTypeChanged   = "input_type_changed"
	CategoryOutputTypeChanged  = "output_type_changed"
	CategoryStreamingChanged   = "streaming_config_changed"
	CategoryRequiredFieldAdded = "required_field_added"
	CategoryRequiredFieldRem   = "required_field_removed"
	CategoryPropertyAdded      = "property_added"
	CategoryPropertyRemoved    = "property_removed"
	CategoryTypeMismatch       = "type_mismatch"
	CategorySchemaFormat       = "schema_format_changed"
	CategorySchemaRemoved      = "schema_removed"
	CategorySchemaAdded        = "schema_added"
	CategorySchemaParseError   = "schema_parse_error"
	CategoryQoSChanged         = "qos_changed"
	CategoryRetainedChanged    = "retained_changed"
	CategoryDirectionChanged   = "direction_changed"
	CategoryPartitionsUp       = "partitions_increased"
	CategoryPartitionsDown     = "partitions_decreased"
	CategoryReplicationUp      = "replication_increased"
	CategoryReplicationDown    = "replication_decreased"
)

// Mismatch is one detected difference between two contract versions. The
// classification flags are mirrored into Context so the serialized form
// carries is_additive / is_breaking / change_category alongside the
// free-form keys (field_name, old_type, new_type, service, method...).
type Mismatch struct {
	Type        string            `json:"mismatch_type"`
	Path        string            `json:"path"`
	Description string            `json:"description"`
	Severity    Severity          `json:"severity"`
	Category    string            `json:"-"`
	Additive    bool              `json:"-"`
	Breaking    bool              `json:"-"`
	Context     map[string]string `json:"context"`
}

// newMismatch builds a mismatch and mirrors the classification into the
// context map. A mismatch is never both additive and breaking.
func newMismatch(typ, path, desc string, sev Severity, category string, additive, breaking bool, ctx map[string]string) Mismatch {
	if additive && breaking {
		panic("mismatch classified both additive and breaking")
	}
	if ctx == nil {
		ctx = make(map[string]string, 3)
	}
	ctx["change_category"] = category
	ctx["is_additive"] = strconv.FormatBool(additive)
	ctx["is_breaking"] = strconv.FormatBool(breaking)
	return Mismatch{
		Type:        typ,
		Path:        path,
		Description: desc,
		Severity:    sev,
		Category:    category,
		Additive:    additive,
		Breaking:    breaking,
		Context:     ctx,
	}
}

// Result is the outcome of one contract comparison.
type Result struct {
	Matches         int        `json:"matches"`
	Confidence      float64    `json:"confidence"`
	Mismatches      []Mismatch `json:"mismatches"`
	Recommendations []string   `json:"recommendations,omitempty"`
	Corrections     []string   `json:"corrections,omitempty"`
}

// HasBreaking reports whether any mismatch is breaking.
func (r *Result) HasBreaking() bool {
	for _, m := range r.Mismatches {
		if m.Breaking {
			return true
		}
	}
	return false
}

// ByOperation groups mismatches by the operation segment of their path.
// Operation IDs may themselves contain dots (gRPC full names), so grouping
// uses the known operation IDs as prefixes, longest first.
func (r *Result) ByOperation(operationIDs []string) map[string][]Mismatch {
	out := make(map[string][]Mismatch)
	for _, m := range r.Mismatches {
		op := matchOperation(m.Path, operationIDs)
		out[op] = append(out[op], m)
	}
	return out
}

func matchOperation(path string, operationIDs []string) string {
	best := ""
	for _, id := range operationIDs {
		if path == id || (len(path) > len(id) && path[:len(id)] == id && path[len(id)] == '.') {
			if len(id) > len(best) {
				best = id
			}
		}
	}
	if best == "" {
		return path
	}
	return best
}
