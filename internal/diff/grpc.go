package diff

import (
	"fmt"
	"sort"

	"github.com/example/driftd/internal/contract"
)

// grpcSpecializer implements the gRPC drift rules: service-level removal
// aggregation, fully-qualified type rename detection, and streaming
// configuration changes, on top of the generic schema walk.
type grpcSpecializer struct{}

func (grpcSpecializer) removals(oldC, newC *contract.Contract) []Mismatch {
	survivors := servicesOf(newC)
	removedByService := make(map[string][]string)
	for _, id := range oldC.OperationIDs() {
		if _, ok := newC.Operations[id]; ok {
			continue
		}
		svc := oldC.Operations[id].Meta.Service
		removedByService[svc] = append(removedByService[svc], id)
	}

	services := make([]string, 0, len(removedByService))
	for svc := range removedByService {
		services = append(services, svc)
	}
	sort.Strings(services)

	var out []Mismatch
	for _, svc := range services {
		if _, stillThere := survivors[svc]; !stillThere {
			// One aggregated mismatch per removed service, not one per
			// method.
			out = append(out, newMismatch(TypeEndpointNotFound, svc,
				fmt.Sprintf("service %q removed (%d methods)", svc, len(removedByService[svc])),
				SeverityCritical, CategoryServiceRemoved, false, true, map[string]string{
					"service": svc,
				}))
			continue
		}
		for _, id := range removedByService[svc] {
			op := oldC.Operations[id]
			out = append(out, newMismatch(TypeEndpointNotFound, id,
				fmt.Sprintf("method %q removed from service %q", op.Meta.Method, svc),
				SeverityCritical, CategoryMethodRemoved, false, true, map[string]string{
					"service": svc,
					"method":  op.Meta.Method,
				}))
		}
	}
	return out
}

func (grpcSpecializer) additions(oldC, newC *contract.Contract) []Mismatch {
	existing := servicesOf(oldC)
	addedByService := make(map[string][]string)
	for _, id := range newC.OperationIDs() {
		if _, ok := oldC.Operations[id]; ok {
			continue
		}
		svc := newC.Operations[id].Meta.Service
		addedByService[svc] = append(addedByService[svc], id)
	}

	services := make([]string, 0, len(addedByService))
	for svc := range addedByService {
		services = append(services, svc)
	}
	sort.Strings(services)

	var out []Mismatch
	for _, svc := range services {
		if _, known := existing[svc]; !known {
			out = append(out, newMismatch(TypeUnexpectedField, svc,
				fmt.Sprintf("service %q added (%d methods)", svc, len(addedByService[svc])),
				SeverityLow, CategoryServiceAdded, true, false, map[string]string{
					"service": svc,
				}))
			continue
		}
		for _, id := range addedByService[svc] {
			op := newC.Operations[id]
			out = append(out, newMismatch(TypeUnexpectedField, id,
				fmt.Sprintf("method %q added to service %q", op.Meta.Method, svc),
				SeverityLow, CategoryMethodAdded, true, false, map[string]string{
					"service": svc,
					"method":  op.Meta.Method,
				}))
		}
	}
	return out
}

func (grpcSpecializer) compareOperation(c *collector, oldOp, newOp *contract.Operation) {
	grpcCtx := map[string]string{
		"service": oldOp.Meta.Service,
		"method":  oldOp.Meta.Method,
	}

	if oldOp.Meta.InputType != newOp.Meta.InputType {
		c.add(newMismatch(TypeTypeMismatch, oldOp.ID+".input",
			fmt.Sprintf("input type changed from %s to %s", oldOp.Meta.InputType, newOp.Meta.InputType),
			SeverityHigh, CategoryInputTypeChanged, false, true, mergeCtx(grpcCtx, map[string]string{
				"old_type": oldOp.Meta.InputType,
				"new_type": newOp.Meta.InputType,
			})))
	}
	if oldOp.Meta.OutputType != newOp.Meta.OutputType {
		c.add(newMismatch(TypeTypeMismatch, oldOp.ID+".output",
			fmt.Sprintf("output type changed from %s to %s", oldOp.Meta.OutputType, newOp.Meta.OutputType),
			SeverityHigh, CategoryOutputTypeChanged, false, true, mergeCtx(grpcCtx, map[string]string{
				"old_type": oldOp.Meta.OutputType,
				"new_type": newOp.Meta.OutputType,
			})))
	}
	if oldOp.Meta.Streaming != newOp.Meta.Streaming {
		c.add(newMismatch(TypeSchemaMismatch, oldOp.ID+".streaming",
			fmt.Sprintf("streaming configuration changed from %s to %s", oldOp.Meta.Streaming, newOp.Meta.Streaming),
			SeverityCritical, CategoryStreamingChanged, false, true, mergeCtx(grpcCtx, map[string]string{
				"old_streaming": oldOp.Meta.Streaming,
				"new_streaming": newOp.Meta.Streaming,
			})))
	}

	compareSchemas(c, oldOp.ID+".input", oldOp.Schema, newOp.Schema, true)
	compareSchemas(c, oldOp.ID+".output", oldOp.Output, newOp.Output, false)

	// Tag the schema-walk findings with the owning service and method so the
	// grouped report can regroup them.
	for i := range c.out {
		if _, ok := c.out[i].Context["service"]; !ok {
			c.out[i].Context["service"] = oldOp.Meta.Service
			c.out[i].Context["method"] = oldOp.Meta.Method
		}
	}
}

func servicesOf(c *contract.Contract) map[string]struct{} {
	out := make(map[string]struct{})
	for _, op := range c.Operations {
		if op.Meta.Service != "" {
			out[op.Meta.Service] = struct{}{}
		}
	}
	return out
}

func mergeCtx(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// GroupEntry is one row of the grouped gRPC drift report.
type GroupEntry struct {
	Service  string   `json:"service"`
	Method   string   `json:"method,omitempty"`
	Additive int      `json:"additive_changes"`
	Breaking int      `json:"breaking_changes"`
	Total    int      `json:"total_changes"`
	Severity Severity `json:"max_severity"`
}

// GroupReport regroups a flat gRPC mismatch list by (service, method) with
// per-group additive/breaking/total counts. Pure regrouping; no new diff
// logic. Rows are sorted by service then method.
func GroupReport(res *Result) []GroupEntry {
	type key struct{ service, method string }
	groups := make(map[key]*GroupEntry)
	for _, m := range res.Mismatches {
		k := key{m.Context["service"], m.Context["method"]}
		g, ok := groups[k]
		if !ok {
			g = &GroupEntry{Service: k.service, Method: k.method}
			groups[k] = g
		}
		g.Total++
		if m.Additive {
			g.Additive++
		}
		if m.Breaking {
			g.Breaking++
		}
		if m.Severity > g.Severity {
			g.Severity = m.Severity
		}
	}

	out := make([]GroupEntry, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Method < out[j].Method
	})
	return out
}
