package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/driftd/internal/budget"
	"github.com/example/driftd/internal/metrics"
)

func apiFixture(t *testing.T) *http.ServeMux {
	t.Helper()
	eng := New(budget.NewEvaluator(budget.DefaultConfig(), budget.NewRegistry()))
	mux := http.NewServeMux()
	NewHandler(NewRegistry(), eng, metrics.NewCollector()).RegisterRoutes(mux)
	return mux
}

func postJSON(t *testing.T, mux *http.ServeMux, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	mux.ServeHTTP(rec, req)
	return rec
}

const registerV1 = `{
	"contract_id": "user-events",
	"version": "v1",
	"protocol": "websocket",
	"message_types": [
		{
			"message_type": "user.updated",
			"schema": {
				"type": "object",
				"properties": {
					"user_id": {"type": "string"},
					"name": {"type": "string"}
				},
				"required": ["user_id"]
			}
		}
	]
}`

const registerV2 = `{
	"contract_id": "user-events",
	"version": "v2",
	"protocol": "websocket",
	"message_types": [
		{
			"message_type": "user.updated",
			"schema": {
				"type": "object",
				"properties": {
					"user_id": {"type": "string"},
					"name": {"type": "string"},
					"email": {"type": "string"}
				},
				"required": ["user_id", "email"]
			}
		}
	]
}`

func TestHandlerRegisterContract(t *testing.T) {
	mux := apiFixture(t)

	rec := postJSON(t, mux, "/api/v1/contracts", registerV1)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		ContractID string   `json:"contract_id"`
		Operations int      `json:"operations"`
		ParseErrs  []string `json:"parse_errors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.ContractID != "user-events" || body.Operations != 1 {
		t.Errorf("body = %+v", body)
	}
	if len(body.ParseErrs) != 0 {
		t.Errorf("parse errors = %v", body.ParseErrs)
	}

	// Re-registering the same version conflicts.
	rec = postJSON(t, mux, "/api/v1/contracts", registerV1)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate version status = %d, want 409", rec.Code)
	}
}

func TestHandlerRegisterRejectsBadRequests(t *testing.T) {
	mux := apiFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing id", `{"version": "v1", "protocol": "websocket"}`},
		{"unknown protocol", `{"contract_id": "x", "version": "v1", "protocol": "carrier_pigeon"}`},
		{"http without spec", `{"contract_id": "x", "version": "v1", "protocol": "http"}`},
		{"grpc bad base64", `{"contract_id": "x", "version": "v1", "protocol": "grpc", "descriptor_set": "!!!"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, mux, "/api/v1/contracts", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandlerDiff(t *testing.T) {
	mux := apiFixture(t)

	for _, body := range []string{registerV1, registerV2} {
		if rec := postJSON(t, mux, "/api/v1/contracts", body); rec.Code != http.StatusCreated {
			t.Fatalf("register failed: %d %s", rec.Code, rec.Body.String())
		}
	}

	rec := postJSON(t, mux, "/api/v1/diff",
		`{"contract_id": "user-events", "old_version": "v1", "new_version": "v2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var out struct {
		Diff struct {
			Matches    int     `json:"matches"`
			Confidence float64 `json:"confidence"`
			Mismatches []struct {
				Type    string            `json:"mismatch_type"`
				Path    string            `json:"path"`
				Context map[string]string `json:"context"`
			} `json:"mismatches"`
		} `json:"diff"`
		Evaluations []struct {
			BudgetExceeded bool `json:"budget_exceeded"`
		} `json:"drift_evaluations"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(out.Diff.Mismatches) != 1 {
		t.Fatalf("mismatches = %+v", out.Diff.Mismatches)
	}
	m := out.Diff.Mismatches[0]
	if m.Path != "user.updated.email" {
		t.Errorf("path = %q", m.Path)
	}
	if m.Context["change_category"] != "required_field_added" || m.Context["is_breaking"] != "true" {
		t.Errorf("context = %v", m.Context)
	}
	if len(out.Evaluations) != 1 || !out.Evaluations[0].BudgetExceeded {
		t.Errorf("evaluations = %+v", out.Evaluations)
	}
}

func TestHandlerDiffUnknownVersion(t *testing.T) {
	mux := apiFixture(t)

	rec := postJSON(t, mux, "/api/v1/diff",
		`{"contract_id": "nope", "old_version": "v1", "new_version": "v2"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandlerValidate(t *testing.T) {
	mux := apiFixture(t)
	if rec := postJSON(t, mux, "/api/v1/contracts", registerV1); rec.Code != http.StatusCreated {
		t.Fatalf("register failed: %d", rec.Code)
	}

	rec := postJSON(t, mux, "/api/v1/validate", `{
		"contract_id": "user-events",
		"version": "v1",
		"operation_id": "user.updated",
		"payload": {"user_id": "u-1", "name": "Ada"}
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !out.Valid {
		t.Errorf("payload should validate: %s", out.Error)
	}

	rec = postJSON(t, mux, "/api/v1/validate", `{
		"contract_id": "user-events",
		"version": "v1",
		"operation_id": "user.updated",
		"payload": {"name": "Ada"}
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	out = struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}{}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Valid || out.Error == "" {
		t.Errorf("missing required user_id should fail validation: %+v", out)
	}
}

func TestHandlerHealthAndMetrics(t *testing.T) {
	mux := apiFixture(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "driftd_comparisons_total") {
		t.Errorf("metrics body missing expected series:\n%s", rec.Body.String())
	}
}
