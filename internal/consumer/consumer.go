// Package consumer resolves which SDK methods and consuming applications a
// breaking change affects, via an external consumer-mapping registry. The
// analyzer is an injected collaborator with a local cache, never
// process-wide state.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/example/driftd/internal/logging"
)

// ErrLookupTimeout marks a registry lookup that exceeded its bounded
// timeout. Evaluations degrade to an empty impact instead of stalling.
var ErrLookupTimeout = errors.New("consumer lookup timed out")

// App is one consuming application.
type App struct {
	ID   string `json:"app_id"`
	Name string `json:"name"`
}

// SDKMethodImpact lists the applications calling one generated SDK method.
type SDKMethodImpact struct {
	SDKMethod string `json:"sdk_method"`
	Apps      []App  `json:"apps"`
}

// Impact is the read-only projection attached to a drift evaluation.
type Impact struct {
	OperationID  string            `json:"operation_id"`
	SDKMethods   []SDKMethodImpact `json:"sdk_methods,omitempty"`
	AffectedApps int               `json:"affected_apps"`
	Summary      string            `json:"summary"`
	Degraded     bool              `json:"degraded,omitempty"`
}

// Mapping is the registry's record for one operation.
type Mapping struct {
	Endpoint   string            `json:"endpoint"`
	Method     string            `json:"method"`
	SDKMethods []SDKMethodImpact `json:"sdk_methods"`
}

// Registry is the external consumer-mapping collaborator. Lookup returns
// (nil, nil) when no mapping exists.
type Registry interface {
	Lookup(ctx context.Context, endpoint, method string) (*Mapping, error)
}

const (
	defaultCacheSize = 512
	defaultCacheTTL  = 5 * time.Minute
	defaultTimeout   = 2 * time.Second
)

// Analyzer wraps a registry with an expiring cache, request coalescing and a
// bounded lookup timeout.
type Analyzer struct {
	registry Registry
	cache    *expirable.LRU[string, *Mapping]
	group    singleflight.Group
	timeout  time.Duration
	logger   *zap.Logger
}

// NewAnalyzer builds an analyzer. Zero values fall back to defaults.
func NewAnalyzer(registry Registry, cacheSize int, cacheTTL, timeout time.Duration) *Analyzer {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Analyzer{
		registry: registry,
		cache:    expirable.NewLRU[string, *Mapping](cacheSize, nil, cacheTTL),
		timeout:  timeout,
		logger:   logging.Named("consumer"),
	}
}

// Analyze resolves the impact of a breaking change on operationID, exposed
// at (endpoint, method) in the registry. Lookups are cached, coalesced
// across concurrent callers, and bounded by the analyzer timeout; a timeout
// or registry error degrades to an empty impact with the degraded flag set.
func (a *Analyzer) Analyze(ctx context.Context, operationID, endpoint, method string) *Impact {
	key := endpoint + "\x00" + method
	if mapping, ok := a.cache.Get(key); ok {
		return a.project(operationID, mapping, false)
	}

	v, err, _ := a.group.Do(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		mapping, err := a.registry.Lookup(lookupCtx, endpoint, method)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s", ErrLookupTimeout, method, endpoint)
		}
		if err != nil {
			return nil, err
		}
		a.cache.Add(key, mapping)
		return mapping, nil
	})
	if err != nil {
		a.logger.Warn("consumer lookup degraded to empty impact",
			zap.String("operation", operationID),
			zap.String("endpoint", endpoint),
			zap.String("method", method),
			zap.Error(err))
		return a.project(operationID, nil, true)
	}
	mapping, _ := v.(*Mapping)
	return a.project(operationID, mapping, false)
}

// project turns a mapping into the read-only impact view, deduplicating
// applications by id across all mapped SDK methods.
func (a *Analyzer) project(operationID string, mapping *Mapping, degraded bool) *Impact {
	impact := &Impact{OperationID: operationID, Degraded: degraded}
	if mapping == nil || len(mapping.SDKMethods) == 0 {
		impact.Summary = "No known consumers"
		return impact
	}

	impact.SDKMethods = mapping.SDKMethods
	seen := make(map[string]struct{})
	for _, sm := range mapping.SDKMethods {
		for _, app := range sm.Apps {
			seen[app.ID] = struct{}{}
		}
	}
	impact.AffectedApps = len(seen)
	impact.Summary = fmt.Sprintf("%d SDK methods across %d consuming applications",
		len(mapping.SDKMethods), impact.AffectedApps)
	return impact
}
