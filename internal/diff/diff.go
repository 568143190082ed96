package diff

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/driftd/internal/contract"
	"github.com/example/driftd/internal/logging"
)

// DefaultWorkers bounds the per-operation worker pool when no limit is
// configured.
const DefaultWorkers = 4

// Options tunes one comparison.
type Options struct {
	// Workers bounds the number of concurrent per-operation diff tasks.
	Workers int
}

// specializer supplies the protocol-specific pieces of a comparison: how
// removed and added operations are reported, and what besides the value
// schema gets compared for operations present in both versions.
type specializer interface {
	removals(oldC, newC *contract.Contract) []Mismatch
	additions(oldC, newC *contract.Contract) []Mismatch
	compareOperation(c *collector, oldOp, newOp *contract.Operation)
}

func specializerFor(p contract.Protocol) specializer {
	switch p {
	case contract.ProtocolGRPC:
		return grpcSpecializer{}
	case contract.ProtocolWebSocket, contract.ProtocolMQTT, contract.ProtocolKafka:
		return messageSpecializer{}
	default:
		return httpSpecializer{}
	}
}

// Compare diffs two versions of a contract into a deterministic result.
// Diffing is a pure function over the two snapshots: per-operation tasks run
// on a bounded worker pool and share no mutable state, and the result is
// assembled only after all tasks join. Cancelling ctx abandons the
// comparison between operations.
func Compare(ctx context.Context, oldC, newC *contract.Contract, opts Options) (*Result, error) {
	if oldC.Protocol != newC.Protocol {
		return nil, fmt.Errorf("cannot compare %s contract against %s contract", oldC.Protocol, newC.Protocol)
	}
	spec := specializerFor(oldC.Protocol)

	removed := spec.removals(oldC, newC)
	added := spec.additions(oldC, newC)
	sortStable(removed)
	sortStable(added)

	var common []string
	for _, id := range oldC.OperationIDs() {
		if _, ok := newC.Operations[id]; ok {
			common = append(common, id)
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	perOp := make([][]Mismatch, len(common))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range common {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			oldOp := oldC.Operations[id]
			newOp := newC.Operations[id]
			col := &collector{operationID: id}
			switch {
			case newOp.Err != nil:
				col.add(parseErrorMismatch(newOp.Err))
			case oldOp.Err != nil:
				col.add(parseErrorMismatch(oldOp.Err))
			default:
				spec.compareOperation(col, oldOp, newOp)
			}
			sortStable(col.out)
			perOp[i] = col.out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Deterministic assembly: removals, additions, then per-operation
	// mismatches in operation order.
	mismatches := make([]Mismatch, 0, len(removed)+len(added))
	mismatches = append(mismatches, removed...)
	mismatches = append(mismatches, added...)
	matches := 0
	for i := range common {
		if len(perOp[i]) == 0 {
			matches++
			continue
		}
		mismatches = append(mismatches, perOp[i]...)
	}

	confidence := 1.0
	if denom := matches + len(mismatches); denom > 0 {
		confidence = float64(matches) / float64(denom)
	}

	res := &Result{
		Matches:         matches,
		Confidence:      confidence,
		Mismatches:      mismatches,
		Recommendations: recommendations(mismatches),
		Corrections:     corrections(mismatches),
	}
	logging.Debug("contract comparison complete",
		zap.String("contract", newC.ID),
		zap.String("protocol", string(newC.Protocol)),
		zap.Int("matches", matches),
		zap.Int("mismatches", len(mismatches)),
		zap.Float64("confidence", confidence))
	return res, nil
}

// sortStable orders mismatches by severity descending, then path ascending,
// then category, giving snapshot-stable output.
func sortStable(ms []Mismatch) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Severity != ms[j].Severity {
			return ms[i].Severity > ms[j].Severity
		}
		if ms[i].Path != ms[j].Path {
			return ms[i].Path < ms[j].Path
		}
		return ms[i].Category < ms[j].Category
	})
}

// operationRemovals is the generic removal walk: one breaking critical
// mismatch per operation present in old and absent in new.
func operationRemovals(oldC, newC *contract.Contract, category string) []Mismatch {
	var out []Mismatch
	for _, id := range oldC.OperationIDs() {
		if _, ok := newC.Operations[id]; ok {
			continue
		}
		out = append(out, newMismatch(TypeEndpointNotFound, id,
			fmt.Sprintf("operation %q removed", id),
			SeverityCritical, category, false, true, nil))
	}
	return out
}

// operationAdditions is the generic addition walk: additive, low severity.
func operationAdditions(oldC, newC *contract.Contract) []Mismatch {
	var out []Mismatch
	for _, id := range newC.OperationIDs() {
		if _, ok := oldC.Operations[id]; ok {
			continue
		}
		out = append(out, newMismatch(TypeUnexpectedField, id,
			fmt.Sprintf("operation %q added", id),
			SeverityLow, CategoryOperationAdded, true, false, nil))
	}
	return out
}

var adviceByCategory = map[string]struct{ recommendation, correction string }{
	CategoryRequiredFieldAdded: {
		"coordinate with consumers before requiring new fields",
		"mark the new field optional or supply a server-side default",
	},
	CategoryPropertyRemoved: {
		"verify no consumer reads the removed property",
		"restore the property or publish the change as a new major version",
	},
	CategoryTypeMismatch: {
		"type changes break deserialization for existing consumers",
		"introduce the new type under a new field name",
	},
	CategorySchemaFormat: {
		"serialization format changes require a coordinated consumer migration",
		"keep the old format available during the migration window",
	},
	CategoryMethodRemoved: {
		"notify consumers of removed operations before release",
		"deprecate the operation for one release cycle before removal",
	},
	CategoryServiceRemoved: {
		"notify consumers of removed operations before release",
		"deprecate the service for one release cycle before removal",
	},
	CategoryEndpointRemoved: {
		"notify consumers of removed operations before release",
		"deprecate the endpoint for one release cycle before removal",
	},
	CategoryTopicRemoved: {
		"notify consumers of removed operations before release",
		"deprecate the topic for one release cycle before removal",
	},
}

func recommendations(ms []Mismatch) []string {
	return advice(ms, func(a struct{ recommendation, correction string }) string { return a.recommendation })
}

func corrections(ms []Mismatch) []string {
	return advice(ms, func(a struct{ recommendation, correction string }) string { return a.correction })
}

func advice(ms []Mismatch, pick func(struct{ recommendation, correction string }) string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range ms {
		a, ok := adviceByCategory[m.Category]
		if !ok {
			continue
		}
		line := pick(a)
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	sort.Strings(out)
	return out
}

// httpSpecializer applies the generic rules to OpenAPI-derived contracts.
type httpSpecializer struct{}

func (httpSpecializer) removals(oldC, newC *contract.Contract) []Mismatch {
	return operationRemovals(oldC, newC, CategoryEndpointRemoved)
}

func (httpSpecializer) additions(oldC, newC *contract.Contract) []Mismatch {
	return operationAdditions(oldC, newC)
}

func (httpSpecializer) compareOperation(c *collector, oldOp, newOp *contract.Operation) {
	compareFormats(c, oldOp.ID, oldOp.Format, newOp.Format)
	compareSchemas(c, oldOp.ID, oldOp.Schema, newOp.Schema, oldOp.Inbound())
}
