package diff

import (
	"fmt"

	"github.com/example/driftd/internal/contract"
)

// collector gathers the mismatches one operation task produces. Each task
// owns its collector, so the parallel phase shares nothing.
type collector struct {
	operationID string
	out         []Mismatch
}

func (c *collector) add(m Mismatch) {
	c.out = append(c.out, m)
}

// requiredAddSeverity: new required fields are critical on inbound
// operations, high otherwise.
func requiredAddSeverity(inbound bool) Severity {
	if inbound {
		return SeverityCritical
	}
	return SeverityHigh
}

// compareSchemas recursively diffs two schema trees, accumulating dotted
// paths from the operation ID. Independent findings on the same field are
// all emitted; nothing is merged.
func compareSchemas(c *collector, path string, oldS, newS *contract.SchemaNode, inbound bool) {
	switch {
	case oldS == nil && newS == nil:
		return
	case oldS != nil && newS == nil:
		c.add(newMismatch(TypeSchemaMismatch, path,
			"schema removed from operation",
			SeverityHigh, CategorySchemaRemoved, false, true, nil))
		return
	case oldS == nil && newS != nil:
		c.add(newMismatch(TypeSchemaMismatch, path,
			"schema added to operation",
			SeverityLow, CategorySchemaAdded, true, false, nil))
		return
	}

	if oldS.Kind != newS.Kind || (oldS.Kind == contract.KindScalar && oldS.Type != newS.Type) {
		c.add(newMismatch(TypeTypeMismatch, path,
			fmt.Sprintf("declared type changed from %s to %s", typeLabel(oldS), typeLabel(newS)),
			SeverityHigh, CategoryTypeMismatch, false, true, map[string]string{
				"old_type": typeLabel(oldS),
				"new_type": typeLabel(newS),
			}))
		return
	}

	switch oldS.Kind {
	case contract.KindArray:
		compareSchemas(c, path+"[]", oldS.Items, newS.Items, inbound)
	case contract.KindObject:
		compareObjects(c, path, oldS, newS, inbound)
	}
}

func compareObjects(c *collector, path string, oldS, newS *contract.SchemaNode, inbound bool) {
	for _, name := range oldS.PropertyNames() {
		childPath := path + "." + name
		newChild, ok := newS.Properties[name]
		if !ok {
			c.add(newMismatch(TypeSchemaMismatch, childPath,
				fmt.Sprintf("property %q removed", name),
				SeverityHigh, CategoryPropertyRemoved, false, true, map[string]string{
					"field_name": name,
				}))
			continue
		}
		compareSchemas(c, childPath, oldS.Properties[name], newChild, inbound)

		// Required-set toggles for surviving properties.
		wasRequired := oldS.IsRequired(name)
		isRequired := newS.IsRequired(name)
		switch {
		case !wasRequired && isRequired:
			c.add(newMismatch(TypeMissingRequiredField, childPath,
				fmt.Sprintf("property %q is now required", name),
				requiredAddSeverity(inbound), CategoryRequiredFieldAdded, false, true, map[string]string{
					"field_name": name,
				}))
		case wasRequired && !isRequired:
			c.add(newMismatch(TypeSchemaMismatch, childPath,
				fmt.Sprintf("property %q is no longer required", name),
				SeverityLow, CategoryRequiredFieldRem, true, false, map[string]string{
					"field_name": name,
				}))
		}
	}

	for _, name := range newS.PropertyNames() {
		if _, ok := oldS.Properties[name]; ok {
			continue
		}
		childPath := path + "." + name
		if newS.IsRequired(name) {
			c.add(newMismatch(TypeMissingRequiredField, childPath,
				fmt.Sprintf("new required property %q added", name),
				requiredAddSeverity(inbound), CategoryRequiredFieldAdded, false, true, map[string]string{
					"field_name": name,
				}))
		} else {
			c.add(newMismatch(TypeUnexpectedField, childPath,
				fmt.Sprintf("optional property %q added", name),
				SeverityLow, CategoryPropertyAdded, true, false, map[string]string{
					"field_name": name,
				}))
		}
	}
}

func typeLabel(n *contract.SchemaNode) string {
	if n.Kind == contract.KindScalar {
		return n.Type
	}
	return string(n.Kind)
}

// compareFormats emits the format-change mismatch, which is independent of
// structural content.
func compareFormats(c *collector, path string, oldF, newF contract.SchemaFormat) {
	if oldF == "" || newF == "" || oldF == newF {
		return
	}
	c.add(newMismatch(TypeSchemaMismatch, path,
		fmt.Sprintf("schema format changed from %s to %s", oldF, newF),
		SeverityCritical, CategorySchemaFormat, false, true, map[string]string{
			"schema_format": string(newF),
			"old_format":    string(oldF),
			"new_format":    string(newF),
		}))
}

// parseErrorMismatch surfaces a registration-time schema parse failure as a
// mismatch so one malformed operation never hides the rest of the contract.
func parseErrorMismatch(perr *contract.ParseError) Mismatch {
	return newMismatch(TypeSchemaParseError, perr.Path,
		perr.Error(),
		SeverityHigh, CategorySchemaParseError, false, true, nil)
}
