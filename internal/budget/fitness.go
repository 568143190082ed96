package budget

import (
	"fmt"
	"strings"
	"sync"

	"github.com/example/driftd/internal/diff"
)

// FitnessSpec names a fitness function and its parameters in config.
type FitnessSpec struct {
	Name    string `yaml:"name" json:"name"`
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Max     int    `yaml:"max,omitempty" json:"max,omitempty"`
}

// Fitness is a named, pluggable rule evaluated against one operation's
// mismatches beyond the raw breaking/additive counts.
type Fitness interface {
	Name() string
	Evaluate(operationID string, mismatches []diff.Mismatch) (passed bool, message string)
}

// Factory builds a fitness function from its config spec.
type Factory func(spec FitnessSpec) (Fitness, error)

// Registry maps fitness function names to factories. New rules register
// independently instead of growing a conditional chain in the evaluator.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with the built-in functions.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("no_new_required_fields", func(spec FitnessSpec) (Fitness, error) {
		return &noNewRequiredFields{pattern: spec.Pattern}, nil
	})
	r.Register("max_breaking_changes", func(spec FitnessSpec) (Fitness, error) {
		return &maxBreakingChanges{max: spec.Max}, nil
	})
	r.Register("max_total_changes", func(spec FitnessSpec) (Fitness, error) {
		return &maxTotalChanges{max: spec.Max}, nil
	})
	r.Register("schema_depth", func(spec FitnessSpec) (Fitness, error) {
		if spec.Max <= 0 {
			return nil, fmt.Errorf("schema_depth requires max > 0")
		}
		return &schemaDepth{max: spec.Max}, nil
	})
	return r
}

// Register adds or replaces a factory under name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Build constructs the fitness function a spec names.
func (r *Registry) Build(spec FitnessSpec) (Fitness, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown fitness function %q", spec.Name)
	}
	return factory(spec)
}

// noNewRequiredFields fails when a required field is added under paths
// matching the configured pattern (empty pattern matches everything).
type noNewRequiredFields struct {
	pattern string
}

func (f *noNewRequiredFields) Name() string { return "no_new_required_fields" }

func (f *noNewRequiredFields) Evaluate(_ string, mismatches []diff.Mismatch) (bool, string) {
	var hits []string
	for _, m := range mismatches {
		if m.Category != diff.CategoryRequiredFieldAdded {
			continue
		}
		if f.pattern != "" && !pathMatch(f.pattern, m.Path) {
			continue
		}
		hits = append(hits, m.Path)
	}
	if len(hits) > 0 {
		return false, fmt.Sprintf("new required fields: %s", strings.Join(hits, ", "))
	}
	return true, "no new required fields"
}

type maxBreakingChanges struct {
	max int
}

func (f *maxBreakingChanges) Name() string { return "max_breaking_changes" }

func (f *maxBreakingChanges) Evaluate(_ string, mismatches []diff.Mismatch) (bool, string) {
	breaking := 0
	for _, m := range mismatches {
		if m.Breaking {
			breaking++
		}
	}
	if breaking > f.max {
		return false, fmt.Sprintf("%d breaking changes exceed limit of %d", breaking, f.max)
	}
	return true, fmt.Sprintf("%d breaking changes within limit of %d", breaking, f.max)
}

type maxTotalChanges struct {
	max int
}

func (f *maxTotalChanges) Name() string { return "max_total_changes" }

func (f *maxTotalChanges) Evaluate(_ string, mismatches []diff.Mismatch) (bool, string) {
	if len(mismatches) > f.max {
		return false, fmt.Sprintf("%d total changes exceed limit of %d", len(mismatches), f.max)
	}
	return true, fmt.Sprintf("%d total changes within limit of %d", len(mismatches), f.max)
}

// schemaDepth fails when any change lands deeper than max path segments
// below the operation, a guard against unreviewable nested churn.
type schemaDepth struct {
	max int
}

func (f *schemaDepth) Name() string { return "schema_depth" }

func (f *schemaDepth) Evaluate(operationID string, mismatches []diff.Mismatch) (bool, string) {
	for _, m := range mismatches {
		// Depth counts segments below the operation ID, which may itself
		// contain dots (gRPC full names).
		rel := m.Path
		switch {
		case rel == operationID:
			rel = ""
		case strings.HasPrefix(rel, operationID+"."):
			rel = rel[len(operationID)+1:]
		}
		depth := 0
		if rel != "" {
			depth = len(strings.Split(rel, "."))
		}
		if depth > f.max {
			return false, fmt.Sprintf("change at %s exceeds depth limit of %d", m.Path, f.max)
		}
	}
	return true, fmt.Sprintf("all changes within depth limit of %d", f.max)
}

// pathMatch matches dotted paths against a pattern where "*" matches one
// segment and a trailing "**" matches any remainder.
func pathMatch(pattern, path string) bool {
	pp := strings.Split(pattern, ".")
	sp := strings.Split(path, ".")
	for i, seg := range pp {
		if seg == "**" {
			return true
		}
		if i >= len(sp) {
			return false
		}
		if seg != "*" && seg != sp[i] {
			return false
		}
	}
	return len(pp) == len(sp)
}
