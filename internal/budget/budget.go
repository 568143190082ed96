// Package budget evaluates a diff's mismatches against configured drift
// budgets and fitness functions, producing the per-operation verdict the
// incident manager acts on.
package budget

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/example/driftd/internal/consumer"
	"github.com/example/driftd/internal/diff"
	"github.com/example/driftd/internal/logging"
)

// Budget holds the drift thresholds for one scope.
type Budget struct {
	// MaxBreaking is the number of breaking changes tolerated. Zero, the
	// default, means any breaking change exceeds the budget.
	MaxBreaking int `yaml:"max_breaking" json:"max_breaking"`

	// MaxNonBreaking caps additive/neutral changes; nil means unlimited.
	MaxNonBreaking *int `yaml:"max_non_breaking,omitempty" json:"max_non_breaking,omitempty"`

	// Fitness names the fitness functions applied in this scope.
	Fitness []FitnessSpec `yaml:"fitness_functions,omitempty" json:"fitness_functions,omitempty"`
}

// Config is the budget hierarchy. Lookup priority is endpoint, then
// service, then workspace, then the default budget.
type Config struct {
	Enabled    bool              `yaml:"enabled" json:"enabled"`
	Default    Budget            `yaml:"default_budget" json:"default_budget"`
	Endpoints  map[string]Budget `yaml:"endpoint_budgets,omitempty" json:"endpoint_budgets,omitempty"`
	Services   map[string]Budget `yaml:"service_budgets,omitempty" json:"service_budgets,omitempty"`
	Workspaces map[string]Budget `yaml:"workspace_budgets,omitempty" json:"workspace_budgets,omitempty"`
}

// DefaultConfig returns an enabled config with a zero-tolerance default
// budget and no scoped overrides.
func DefaultConfig() *Config {
	return &Config{Enabled: true}
}

// Lookup resolves the budget for an operation, walking the hierarchy from
// most to least specific.
func (c *Config) Lookup(operationID, service, workspace string) Budget {
	if b, ok := c.Endpoints[operationID]; ok {
		return b
	}
	if service != "" {
		if b, ok := c.Services[service]; ok {
			return b
		}
	}
	if workspace != "" {
		if b, ok := c.Workspaces[workspace]; ok {
			return b
		}
	}
	return c.Default
}

// FitnessResult records one fitness function's verdict.
type FitnessResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// Evaluation is the per-operation verdict.
type Evaluation struct {
	OperationID        string           `json:"operation_id"`
	BudgetExceeded     bool             `json:"budget_exceeded"`
	BreakingChanges    int              `json:"breaking_changes"`
	NonBreakingChanges int              `json:"non_breaking_changes"`
	FitnessResults     []FitnessResult  `json:"fitness_test_results"`
	ConsumerImpact     *consumer.Impact `json:"consumer_impact,omitempty"`
}

// MaxSeverity returns the highest severity among the given mismatches.
func MaxSeverity(mismatches []diff.Mismatch) diff.Severity {
	max := diff.SeverityLow
	for _, m := range mismatches {
		if m.Severity > max {
			max = m.Severity
		}
	}
	return max
}

// Evaluator applies budgets and fitness functions. Safe for concurrent use;
// the config can be swapped at runtime by the hot-reload watcher.
type Evaluator struct {
	mu       sync.RWMutex
	cfg      *Config
	registry *Registry
	logger   *zap.Logger
}

// NewEvaluator builds an evaluator over a config and a fitness registry.
func NewEvaluator(cfg *Config, registry *Registry) *Evaluator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Evaluator{
		cfg:      cfg,
		registry: registry,
		logger:   logging.Named("budget"),
	}
}

// Config returns the evaluator's current budget configuration.
func (e *Evaluator) Config() *Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// UpdateConfig swaps the budget configuration. New evaluations see the new
// hierarchy; in-flight ones finish against the old one.
func (e *Evaluator) UpdateConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.logger.Info("drift budget configuration updated")
}

// Evaluate applies the resolved budget to one operation's mismatches. Every
// fitness function runs and records its result regardless of the overall
// verdict; none short-circuits another.
func (e *Evaluator) Evaluate(operationID, service, workspace string, mismatches []diff.Mismatch) (*Evaluation, error) {
	eval := &Evaluation{OperationID: operationID}
	for _, m := range mismatches {
		if m.Breaking {
			eval.BreakingChanges++
		} else {
			eval.NonBreakingChanges++
		}
	}
	cfg := e.Config()
	if !cfg.Enabled {
		return eval, nil
	}

	b := cfg.Lookup(operationID, service, workspace)

	fitnessFailed := false
	for _, spec := range b.Fitness {
		fn, err := e.registry.Build(spec)
		if err != nil {
			return nil, fmt.Errorf("fitness function %q: %w", spec.Name, err)
		}
		passed, message := fn.Evaluate(operationID, mismatches)
		if !passed {
			fitnessFailed = true
		}
		eval.FitnessResults = append(eval.FitnessResults, FitnessResult{
			Name:    spec.Name,
			Passed:  passed,
			Message: message,
		})
	}

	eval.BudgetExceeded = eval.BreakingChanges > b.MaxBreaking ||
		(b.MaxNonBreaking != nil && eval.NonBreakingChanges > *b.MaxNonBreaking) ||
		fitnessFailed

	if eval.BudgetExceeded {
		e.logger.Warn("drift budget exceeded",
			zap.String("operation", operationID),
			zap.Int("breaking", eval.BreakingChanges),
			zap.Int("non_breaking", eval.NonBreakingChanges),
			zap.Int("max_breaking", b.MaxBreaking))
	}
	return eval, nil
}
