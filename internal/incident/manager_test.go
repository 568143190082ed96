package incident

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/driftd/internal/budget"
	"github.com/example/driftd/internal/contract"
	"github.com/example/driftd/internal/diff"
)

func exceededEval(operationID string) *budget.Evaluation {
	return &budget.Evaluation{
		OperationID:     operationID,
		BudgetExceeded:  true,
		BreakingChanges: 1,
		FitnessResults: []budget.FitnessResult{
			{Name: "no_new_required_fields", Passed: false, Message: "new required fields: " + operationID + ".email"},
		},
	}
}

func highMismatch(path string) []diff.Mismatch {
	return []diff.Mismatch{{Path: path, Severity: diff.SeverityHigh, Breaking: true}}
}

func TestRecordCreatesOpenIncident(t *testing.T) {
	m := NewManager(NewMemoryStore())

	inc, err := m.Record(context.Background(), contract.ProtocolHTTP, exceededEval("POST /orders"), highMismatch("POST /orders.amount"))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if inc == nil {
		t.Fatal("expected an incident")
	}
	if inc.Status != StatusOpen || inc.Occurrences != 1 {
		t.Errorf("incident = %+v", inc)
	}
	if inc.Severity != diff.SeverityHigh {
		t.Errorf("severity = %v, want high", inc.Severity)
	}
	if inc.Type != "drift_budget_exceeded" {
		t.Errorf("type = %q", inc.Type)
	}
	if len(inc.FitnessResults) != 1 {
		t.Errorf("fitness results = %d, want 1", len(inc.FitnessResults))
	}
}

func TestRecordSkipsWithinBudget(t *testing.T) {
	m := NewManager(NewMemoryStore())

	inc, err := m.Record(context.Background(), contract.ProtocolHTTP,
		&budget.Evaluation{OperationID: "GET /orders", BudgetExceeded: false}, nil)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if inc != nil {
		t.Errorf("within-budget evaluation must not create an incident: %+v", inc)
	}
}

func TestRecordDeduplicatesOpenIncident(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	first, err := m.Record(ctx, contract.ProtocolHTTP, exceededEval("POST /orders"), highMismatch("POST /orders.amount"))
	if err != nil {
		t.Fatalf("first record failed: %v", err)
	}
	second, err := m.Record(ctx, contract.ProtocolHTTP, exceededEval("POST /orders"),
		[]diff.Mismatch{{Path: "POST /orders", Severity: diff.SeverityCritical, Breaking: true}})
	if err != nil {
		t.Fatalf("second record failed: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected dedup onto incident %s, got new incident %s", first.ID, second.ID)
	}
	if second.Occurrences != 2 {
		t.Errorf("occurrences = %d, want 2", second.Occurrences)
	}
	if second.Severity != diff.SeverityCritical {
		t.Errorf("severity should escalate to critical, got %v", second.Severity)
	}

	all, err := m.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("stored incidents = %d, want 1", len(all))
	}
}

func TestRecordSeparatesProtocols(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	a, _ := m.Record(ctx, contract.ProtocolHTTP, exceededEval("orders.events"), highMismatch("orders.events"))
	b, _ := m.Record(ctx, contract.ProtocolKafka, exceededEval("orders.events"), highMismatch("orders.events"))
	if a == nil || b == nil || a.ID == b.ID {
		t.Fatalf("same operation on different protocols must produce distinct incidents: %+v %+v", a, b)
	}
}

func TestRecordConcurrentDedup(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Record(ctx, contract.ProtocolGRPC, exceededEval("user.v1.UserService.GetUser"), highMismatch("user.v1.UserService.GetUser")); err != nil {
				t.Errorf("record failed: %v", err)
			}
		}()
	}
	wg.Wait()

	all, err := m.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("incidents = %d, want 1", len(all))
	}
	if all[0].Occurrences != 16 {
		t.Errorf("occurrences = %d, want 16", all[0].Occurrences)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	inc, err := m.Record(ctx, contract.ProtocolHTTP, exceededEval("POST /orders"), highMismatch("POST /orders"))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	acked, err := m.Acknowledge(ctx, inc.ID)
	if err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	if acked.Status != StatusAcknowledged {
		t.Errorf("status = %s, want acknowledged", acked.Status)
	}

	// Acknowledging twice is invalid.
	if _, err := m.Acknowledge(ctx, inc.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double acknowledge: err = %v, want ErrInvalidTransition", err)
	}

	resolved, err := m.Resolve(ctx, inc.ID)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Errorf("status = %s, want resolved", resolved.Status)
	}

	if _, err := m.Resolve(ctx, inc.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double resolve: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := m.Acknowledge(ctx, inc.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("acknowledge after resolve: err = %v, want ErrInvalidTransition", err)
	}
}

func TestResolveDirectlyFromOpen(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	inc, err := m.Record(ctx, contract.ProtocolHTTP, exceededEval("POST /orders"), highMismatch("POST /orders"))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	resolved, err := m.Resolve(ctx, inc.ID)
	if err != nil {
		t.Fatalf("resolve from open failed: %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Errorf("status = %s, want resolved", resolved.Status)
	}
}

func TestResolvedIncidentNotReused(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	first, _ := m.Record(ctx, contract.ProtocolHTTP, exceededEval("POST /orders"), highMismatch("POST /orders"))
	if _, err := m.Resolve(ctx, first.ID); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	second, err := m.Record(ctx, contract.ProtocolHTTP, exceededEval("POST /orders"), highMismatch("POST /orders"))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if second.ID == first.ID {
		t.Error("drift after resolution must open a fresh incident")
	}
	if second.Status != StatusOpen || second.Occurrences != 1 {
		t.Errorf("fresh incident = %+v", second)
	}
}

func TestGetUnknownIncident(t *testing.T) {
	m := NewManager(NewMemoryStore())
	if _, err := m.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListFiltersAndStats(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	httpInc, _ := m.Record(ctx, contract.ProtocolHTTP, exceededEval("POST /orders"), highMismatch("POST /orders"))
	m.Record(ctx, contract.ProtocolKafka, exceededEval("orders.events"),
		[]diff.Mismatch{{Path: "orders.events", Severity: diff.SeverityCritical, Breaking: true}})
	if _, err := m.Acknowledge(ctx, httpInc.ID); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}

	open, err := m.List(ctx, Filter{Status: StatusOpen})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(open) != 1 || open[0].Protocol != contract.ProtocolKafka {
		t.Errorf("open incidents = %+v", open)
	}

	critical := diff.SeverityCritical
	bySeverity, err := m.List(ctx, Filter{Severity: &critical})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(bySeverity) != 1 {
		t.Errorf("critical incidents = %d, want 1", len(bySeverity))
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
	if stats.ByStatus["open"] != 1 || stats.ByStatus["acknowledged"] != 1 {
		t.Errorf("by status = %v", stats.ByStatus)
	}
	if stats.ByType["drift_budget_exceeded"] != 2 {
		t.Errorf("by type = %v", stats.ByType)
	}
}

func TestPrune(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	ctx := context.Background()

	old := &Incident{
		ID:          "stale",
		Protocol:    contract.ProtocolHTTP,
		OperationID: "GET /legacy",
		Status:      StatusResolved,
		CreatedAt:   time.Now().UTC().Add(-48 * time.Hour),
		UpdatedAt:   time.Now().UTC().Add(-48 * time.Hour),
	}
	if err := store.Put(ctx, old); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := m.Record(ctx, contract.ProtocolHTTP, exceededEval("POST /orders"), highMismatch("POST /orders")); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	pruned, err := m.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if _, err := m.Get(ctx, "stale"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale incident should be gone, err = %v", err)
	}
}
