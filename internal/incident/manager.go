package incident

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/driftd/internal/budget"
	"github.com/example/driftd/internal/contract"
	"github.com/example/driftd/internal/diff"
	"github.com/example/driftd/internal/logging"
)

const lockShards = 64

// Manager drives the incident lifecycle over a store. Dedup correctness
// under concurrent evaluations comes from per-(operation_id, protocol)
// mutual exclusion: a sharded lock map, no global lock.
type Manager struct {
	store  Store
	locks  [lockShards]sync.Mutex
	logger *zap.Logger
}

// NewManager creates a manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:  store,
		logger: logging.Named("incident"),
	}
}

func (m *Manager) lockFor(operationID string, protocol contract.Protocol) *sync.Mutex {
	h := xxhash.Sum64String(operationID + "\x00" + string(protocol))
	return &m.locks[h%lockShards]
}

// Record persists the drift an evaluation found. Only evaluations with the
// budget exceeded produce an incident; a still-open incident for the same
// (operation_id, protocol) is updated in place instead of duplicated.
// Severity and details come from the operation's mismatches.
func (m *Manager) Record(ctx context.Context, protocol contract.Protocol, eval *budget.Evaluation, mismatches []diff.Mismatch) (*Incident, error) {
	if eval == nil || !eval.BudgetExceeded {
		return nil, nil
	}

	lock := m.lockFor(eval.OperationID, protocol)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.FindOpen(ctx, eval.OperationID, protocol)
	if err != nil {
		return nil, fmt.Errorf("find open incident: %w", err)
	}

	severity := budget.MaxSeverity(mismatches)
	details := fmt.Sprintf("%d breaking and %d non-breaking changes detected",
		eval.BreakingChanges, eval.NonBreakingChanges)

	var inc *Incident
	if existing != nil {
		existing.Occurrences++
		existing.Details = details
		existing.FitnessResults = append(existing.FitnessResults, eval.FitnessResults...)
		existing.AffectedConsumers = eval.ConsumerImpact
		if severity > existing.Severity {
			existing.Severity = severity
		}
		existing.UpdatedAt = time.Now().UTC()
		inc = existing
	} else {
		now := time.Now().UTC()
		inc = &Incident{
			ID:                uuid.NewString(),
			Protocol:          protocol,
			OperationID:       eval.OperationID,
			Type:              "drift_budget_exceeded",
			Severity:          severity,
			Details:           details,
			FitnessResults:    eval.FitnessResults,
			AffectedConsumers: eval.ConsumerImpact,
			Occurrences:       1,
			Status:            StatusOpen,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
	}

	if err := m.put(ctx, inc); err != nil {
		return nil, fmt.Errorf("persist incident for %s: %w", eval.OperationID, err)
	}
	m.logger.Warn("drift incident recorded",
		zap.String("id", inc.ID),
		zap.String("operation", inc.OperationID),
		zap.String("protocol", string(protocol)),
		zap.String("severity", inc.Severity.String()),
		zap.Int("occurrences", inc.Occurrences))
	return inc, nil
}

// put writes with a short exponential retry; persistence failures are
// retryable by contract.
func (m *Manager) put(ctx context.Context, inc *Incident) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	return backoff.Retry(func() error {
		return m.store.Put(ctx, inc)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx))
}

// Get returns one incident by id.
func (m *Manager) Get(ctx context.Context, id string) (*Incident, error) {
	return m.store.Get(ctx, id)
}

// List returns incidents matching the filter, newest first.
func (m *Manager) List(ctx context.Context, f Filter) ([]*Incident, error) {
	return m.store.List(ctx, f)
}

// Acknowledge moves an Open incident to Acknowledged.
func (m *Manager) Acknowledge(ctx context.Context, id string) (*Incident, error) {
	return m.transition(ctx, id, StatusAcknowledged)
}

// Resolve moves a non-resolved incident to Resolved. Resolution is always
// externally driven; nothing in the engine resolves incidents on its own.
func (m *Manager) Resolve(ctx context.Context, id string) (*Incident, error) {
	return m.transition(ctx, id, StatusResolved)
}

func (m *Manager) transition(ctx context.Context, id string, to Status) (*Incident, error) {
	inc, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	lock := m.lockFor(inc.OperationID, inc.Protocol)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock so a concurrent transition is not clobbered.
	inc, err = m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := inc.transition(to); err != nil {
		return nil, fmt.Errorf("incident %s: %s -> %s: %w", id, inc.Status, to, err)
	}
	if err := m.put(ctx, inc); err != nil {
		return nil, fmt.Errorf("persist incident %s: %w", id, err)
	}
	m.logger.Info("incident state changed",
		zap.String("id", id),
		zap.String("status", string(to)))
	return inc, nil
}

// Stats aggregates stored incidents by status, severity and type.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	all, err := m.store.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		Total:      len(all),
		ByStatus:   make(map[string]int),
		BySeverity: make(map[string]int),
		ByType:     make(map[string]int),
	}
	for _, inc := range all {
		stats.ByStatus[string(inc.Status)]++
		stats.BySeverity[inc.Severity.String()]++
		stats.ByType[inc.Type]++
	}
	return stats, nil
}

// Prune deletes incidents last touched more than retention ago.
func (m *Manager) Prune(ctx context.Context, retention time.Duration) (int, error) {
	pruned, err := m.store.PruneBefore(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		m.logger.Info("pruned aged incidents", zap.Int("count", pruned))
	}
	return pruned, nil
}

// Janitor prunes on an interval until ctx is cancelled.
func (m *Manager) Janitor(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Prune(ctx, retention); err != nil {
				m.logger.Error("incident prune failed", zap.Error(err))
			}
		}
	}
}
