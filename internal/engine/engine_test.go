package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/example/driftd/internal/budget"
	"github.com/example/driftd/internal/consumer"
	"github.com/example/driftd/internal/contract"
	"github.com/example/driftd/internal/incident"
	"github.com/example/driftd/internal/metrics"
)

func wsContract(version string, withEmail bool) *contract.Contract {
	schema := contract.NewObject()
	schema.Properties["user_id"] = contract.NewScalar("string")
	schema.Properties["name"] = contract.NewScalar("string")
	schema.Required["user_id"] = struct{}{}
	if withEmail {
		schema.Properties["email"] = contract.NewScalar("string")
		schema.Required["email"] = struct{}{}
	}
	return &contract.Contract{
		ID:       "user-events",
		Version:  version,
		Protocol: contract.ProtocolWebSocket,
		Operations: map[string]*contract.Operation{
			"user.updated": {
				ID:     "user.updated",
				Format: contract.FormatJSONSchema,
				Schema: schema,
				Meta:   contract.Metadata{Topic: "user.updated"},
			},
		},
	}
}

type staticRegistry struct {
	mapping *consumer.Mapping
}

func (s staticRegistry) Lookup(ctx context.Context, endpoint, method string) (*consumer.Mapping, error) {
	return s.mapping, nil
}

// failingStore rejects every write.
type failingStore struct {
	*incident.MemoryStore
}

func (failingStore) Put(ctx context.Context, inc *incident.Incident) error {
	return errors.New("store unavailable")
}

func TestCompareFullPipeline(t *testing.T) {
	collector := metrics.NewCollector()
	manager := incident.NewManager(incident.NewMemoryStore())
	analyzer := consumer.NewAnalyzer(staticRegistry{mapping: &consumer.Mapping{
		Endpoint: "user.updated",
		SDKMethods: []consumer.SDKMethodImpact{
			{SDKMethod: "UserEvents.OnUpdated", Apps: []consumer.App{{ID: "app-1", Name: "dashboard"}}},
		},
	}}, 0, 0, 0)

	eng := New(budget.NewEvaluator(budget.DefaultConfig(), budget.NewRegistry()),
		WithConsumers(analyzer),
		WithIncidents(manager),
		WithMetrics(collector))

	out, err := eng.Compare(context.Background(), wsContract("v1", false), wsContract("v2", true))
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}

	if len(out.Diff.Mismatches) != 1 {
		t.Fatalf("mismatches = %d, want 1: %+v", len(out.Diff.Mismatches), out.Diff.Mismatches)
	}
	if len(out.Evaluations) != 1 {
		t.Fatalf("evaluations = %d, want 1", len(out.Evaluations))
	}
	eval := out.Evaluations[0]
	if !eval.BudgetExceeded || eval.BreakingChanges != 1 {
		t.Errorf("evaluation = %+v", eval)
	}
	if eval.ConsumerImpact == nil || eval.ConsumerImpact.AffectedApps != 1 {
		t.Errorf("consumer impact = %+v", eval.ConsumerImpact)
	}

	if len(out.Incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(out.Incidents))
	}
	inc := out.Incidents[0]
	if inc.Status != incident.StatusOpen || inc.OperationID != "user.updated" {
		t.Errorf("incident = %+v", inc)
	}
	if inc.AffectedConsumers == nil || inc.AffectedConsumers.AffectedApps != 1 {
		t.Errorf("incident consumers = %+v", inc.AffectedConsumers)
	}

	snap := collector.Snapshot()
	if snap.ComparisonsTotal["websocket"] != 1 {
		t.Errorf("comparisons = %v", snap.ComparisonsTotal)
	}
	if snap.BudgetExceeded["websocket"] != 1 {
		t.Errorf("budget exceeded = %v", snap.BudgetExceeded)
	}
	if snap.MismatchesTotal["websocket|required_field_added"] != 1 {
		t.Errorf("mismatches = %v", snap.MismatchesTotal)
	}
}

func TestCompareWithinBudgetNoIncident(t *testing.T) {
	relaxed := &budget.Config{Enabled: true, Default: budget.Budget{MaxBreaking: 5}}
	eng := New(budget.NewEvaluator(relaxed, budget.NewRegistry()),
		WithIncidents(incident.NewManager(incident.NewMemoryStore())))

	out, err := eng.Compare(context.Background(), wsContract("v1", false), wsContract("v2", true))
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if len(out.Incidents) != 0 {
		t.Errorf("incidents = %+v, want none under a relaxed budget", out.Incidents)
	}
	if len(out.Evaluations) != 1 || out.Evaluations[0].BudgetExceeded {
		t.Errorf("evaluations = %+v", out.Evaluations)
	}
}

func TestCompareSurvivesIncidentStoreFailure(t *testing.T) {
	manager := incident.NewManager(failingStore{incident.NewMemoryStore()})
	eng := New(budget.NewEvaluator(budget.DefaultConfig(), budget.NewRegistry()),
		WithIncidents(manager))

	out, err := eng.Compare(context.Background(), wsContract("v1", false), wsContract("v2", true))
	if err != nil {
		t.Fatalf("compare must not propagate persistence failures: %v", err)
	}
	if len(out.Diff.Mismatches) != 1 || len(out.Evaluations) != 1 {
		t.Errorf("output incomplete: %+v", out)
	}
	if len(out.Incidents) != 0 {
		t.Errorf("incidents = %+v, want none when the store is down", out.Incidents)
	}
}

func TestCompareIdenticalSkipsEvaluation(t *testing.T) {
	eng := New(budget.NewEvaluator(budget.DefaultConfig(), budget.NewRegistry()))

	out, err := eng.Compare(context.Background(), wsContract("v1", true), wsContract("v2", true))
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if len(out.Evaluations) != 0 {
		t.Errorf("evaluations = %+v, want none for identical contracts", out.Evaluations)
	}
	if out.Diff.Confidence != 1.0 {
		t.Errorf("confidence = %v", out.Diff.Confidence)
	}
}

func TestCompareGRPCGroupReport(t *testing.T) {
	build := func(version, inputType string) *contract.Contract {
		return &contract.Contract{
			ID:       "user-api",
			Version:  version,
			Protocol: contract.ProtocolGRPC,
			Operations: map[string]*contract.Operation{
				"user.v1.UserService.GetUser": {
					ID:     "user.v1.UserService.GetUser",
					Format: contract.FormatProtobuf,
					Schema: contract.NewObject(),
					Output: contract.NewObject(),
					Meta: contract.Metadata{
						Service:   "user.v1.UserService",
						Method:    "GetUser",
						InputType: inputType,
						Streaming: contract.StreamingUnary,
					},
				},
			},
		}
	}
	eng := New(budget.NewEvaluator(budget.DefaultConfig(), budget.NewRegistry()))

	out, err := eng.Compare(context.Background(), build("v1", "GetUserRequest"), build("v2", "GetUserRequestV2"))
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if len(out.GroupReport) != 1 {
		t.Fatalf("group report rows = %d, want 1: %+v", len(out.GroupReport), out.GroupReport)
	}
	row := out.GroupReport[0]
	if row.Service != "user.v1.UserService" || row.Method != "GetUser" || row.Breaking != 1 {
		t.Errorf("row = %+v", row)
	}
}

func TestCompareGRPCServiceRemovalCreatesIncident(t *testing.T) {
	grpcOp := func(service, method string) *contract.Operation {
		return &contract.Operation{
			ID:     service + "." + method,
			Format: contract.FormatProtobuf,
			Schema: contract.NewObject(),
			Output: contract.NewObject(),
			Meta: contract.Metadata{
				Service:   service,
				Method:    method,
				Streaming: contract.StreamingUnary,
			},
		}
	}
	build := func(version string, withBilling bool) *contract.Contract {
		ops := map[string]*contract.Operation{
			"user.v1.UserService.GetUser": grpcOp("user.v1.UserService", "GetUser"),
		}
		if withBilling {
			ops["billing.v1.BillingService.Charge"] = grpcOp("billing.v1.BillingService", "Charge")
		}
		return &contract.Contract{
			ID:         "user-api",
			Version:    version,
			Protocol:   contract.ProtocolGRPC,
			Operations: ops,
		}
	}

	manager := incident.NewManager(incident.NewMemoryStore())
	eng := New(budget.NewEvaluator(budget.DefaultConfig(), budget.NewRegistry()),
		WithIncidents(manager))

	out, err := eng.Compare(context.Background(), build("v1", true), build("v2", false))
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if len(out.Diff.Mismatches) != 1 {
		t.Fatalf("mismatches = %d, want 1 aggregated removal: %+v", len(out.Diff.Mismatches), out.Diff.Mismatches)
	}
	if len(out.Evaluations) != 1 {
		t.Fatalf("evaluations = %d, want 1 for the removed service", len(out.Evaluations))
	}
	eval := out.Evaluations[0]
	if eval.OperationID != "billing.v1.BillingService" || !eval.BudgetExceeded || eval.BreakingChanges != 1 {
		t.Errorf("evaluation = %+v", eval)
	}
	if len(out.Incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(out.Incidents))
	}
	inc := out.Incidents[0]
	if inc.OperationID != "billing.v1.BillingService" || inc.Status != incident.StatusOpen {
		t.Errorf("incident = %+v", inc)
	}
}

func TestCompareDedupAcrossRuns(t *testing.T) {
	manager := incident.NewManager(incident.NewMemoryStore())
	eng := New(budget.NewEvaluator(budget.DefaultConfig(), budget.NewRegistry()),
		WithIncidents(manager))
	ctx := context.Background()

	first, err := eng.Compare(ctx, wsContract("v1", false), wsContract("v2", true))
	if err != nil {
		t.Fatalf("first compare failed: %v", err)
	}
	second, err := eng.Compare(ctx, wsContract("v1", false), wsContract("v2", true))
	if err != nil {
		t.Fatalf("second compare failed: %v", err)
	}

	if first.Incidents[0].ID != second.Incidents[0].ID {
		t.Error("repeated drift should update the open incident, not open another")
	}
	if second.Incidents[0].Occurrences != 2 {
		t.Errorf("occurrences = %d, want 2", second.Incidents[0].Occurrences)
	}

	all, err := manager.List(ctx, incident.Filter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("stored incidents = %d, want 1", len(all))
	}
}

func TestCompareContextCancelled(t *testing.T) {
	eng := New(budget.NewEvaluator(budget.DefaultConfig(), budget.NewRegistry()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := eng.Compare(ctx, wsContract("v1", false), wsContract("v2", true)); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
