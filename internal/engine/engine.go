// Package engine wires the comparison pipeline together: diff, budget
// evaluation, consumer impact and incident recording for one pair of
// contract versions.
package engine

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/example/driftd/internal/budget"
	"github.com/example/driftd/internal/consumer"
	"github.com/example/driftd/internal/contract"
	"github.com/example/driftd/internal/diff"
	"github.com/example/driftd/internal/incident"
	"github.com/example/driftd/internal/logging"
	"github.com/example/driftd/internal/metrics"
)

// Engine orchestrates comparisons. All collaborators except the budget
// evaluator are optional; a nil analyzer skips impact lookups and a nil
// incident manager skips persistence.
type Engine struct {
	budgets   *budget.Evaluator
	consumers *consumer.Analyzer
	incidents *incident.Manager
	collector *metrics.Collector
	workers   int
	workspace string
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithConsumers attaches a consumer impact analyzer.
func WithConsumers(a *consumer.Analyzer) Option {
	return func(e *Engine) { e.consumers = a }
}

// WithIncidents attaches an incident manager.
func WithIncidents(m *incident.Manager) Option {
	return func(e *Engine) { e.incidents = m }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// WithWorkers bounds the per-operation diff worker pool.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithWorkspace sets the workspace used for budget hierarchy lookups.
func WithWorkspace(ws string) Option {
	return func(e *Engine) { e.workspace = ws }
}

// New builds an engine.
func New(budgets *budget.Evaluator, opts ...Option) *Engine {
	e := &Engine{
		budgets: budgets,
		logger:  logging.Named("engine"),
	}
	if e.budgets == nil {
		e.budgets = budget.NewEvaluator(nil, nil)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Output is the full result of one comparison: the deterministic diff, the
// per-operation drift evaluations, the incidents written for exceeded
// budgets, and the grouped report for gRPC contracts.
type Output struct {
	Diff        *diff.Result         `json:"diff"`
	Evaluations []*budget.Evaluation `json:"drift_evaluations,omitempty"`
	Incidents   []*incident.Incident `json:"incidents,omitempty"`
	GroupReport []diff.GroupEntry    `json:"group_report,omitempty"`
}

// Compare runs the pipeline. The returned output is always complete even
// when incident persistence fails: the write path is decoupled from the
// read path, and persistence errors are logged and counted, never
// propagated to the caller.
func (e *Engine) Compare(ctx context.Context, oldC, newC *contract.Contract) (*Output, error) {
	start := time.Now()
	res, err := diff.Compare(ctx, oldC, newC, diff.Options{Workers: e.workers})
	if err != nil {
		return nil, err
	}
	if e.collector != nil {
		e.collector.RecordComparison(string(newC.Protocol), time.Since(start))
		for _, m := range res.Mismatches {
			e.collector.RecordMismatch(string(newC.Protocol), m.Category)
		}
	}

	out := &Output{Diff: res}

	// Iterate the grouped mismatches rather than the operation IDs: gRPC
	// service removals aggregate under the service name, which is not an
	// operation ID but still needs budget evaluation and an incident.
	byOp := res.ByOperation(unionIDs(oldC, newC))
	groups := make([]string, 0, len(byOp))
	for id := range byOp {
		groups = append(groups, id)
	}
	sort.Strings(groups)
	for _, id := range groups {
		ms := byOp[id]
		op := operationOf(oldC, newC, id)
		service := ""
		if op != nil {
			service = op.Meta.Service
		} else if svc := ms[0].Context["service"]; svc != "" {
			service = svc
		}

		eval, err := e.budgets.Evaluate(id, service, e.workspace, ms)
		if err != nil {
			return nil, err
		}

		if hasBreaking(ms) && e.consumers != nil && op != nil {
			endpoint, method := lookupKey(op)
			eval.ConsumerImpact = e.consumers.Analyze(ctx, id, endpoint, method)
			if e.collector != nil {
				outcome := "resolved"
				if eval.ConsumerImpact.Degraded {
					outcome = "degraded"
				}
				e.collector.RecordConsumerLookup(outcome)
			}
		}
		out.Evaluations = append(out.Evaluations, eval)

		if eval.BudgetExceeded {
			if e.collector != nil {
				e.collector.RecordBudgetExceeded(string(newC.Protocol))
			}
			if e.incidents != nil {
				inc, err := e.incidents.Record(ctx, newC.Protocol, eval, ms)
				if err != nil {
					// Persistence failures never block the evaluation result.
					e.logger.Error("incident write failed",
						zap.String("operation", id),
						zap.Error(err))
				} else if inc != nil {
					out.Incidents = append(out.Incidents, inc)
					if e.collector != nil {
						e.collector.RecordIncident(string(newC.Protocol), inc.Severity.String())
					}
				}
			}
		}
	}

	if newC.Protocol == contract.ProtocolGRPC {
		out.GroupReport = diff.GroupReport(res)
	}
	return out, nil
}

func unionIDs(oldC, newC *contract.Contract) []string {
	ids := oldC.OperationIDs()
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for _, id := range newC.OperationIDs() {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// operationOf prefers the new version's view of an operation.
func operationOf(oldC, newC *contract.Contract, id string) *contract.Operation {
	if op, ok := newC.Operations[id]; ok {
		return op
	}
	if op, ok := oldC.Operations[id]; ok {
		return op
	}
	return nil
}

func hasBreaking(ms []diff.Mismatch) bool {
	for _, m := range ms {
		if m.Breaking {
			return true
		}
	}
	return false
}

// lookupKey maps an operation onto the (endpoint, method) pair the consumer
// registry is keyed by.
func lookupKey(op *contract.Operation) (endpoint, method string) {
	switch {
	case op.Meta.Path != "":
		return op.Meta.Path, op.Meta.HTTPMethod
	case op.Meta.Service != "":
		return op.Meta.Service, op.Meta.Method
	case op.Meta.Topic != "":
		return op.Meta.Topic, ""
	default:
		return op.ID, ""
	}
}
