package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Server.Addr != ":8840" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Engine.Workers != 4 {
		t.Errorf("workers = %d", cfg.Engine.Workers)
	}
	if cfg.Incidents.Store != "memory" || cfg.Incidents.RetentionDays != 30 {
		t.Errorf("incidents = %+v", cfg.Incidents)
	}
	if cfg.Budgets == nil || !cfg.Budgets.Enabled {
		t.Errorf("budgets = %+v", cfg.Budgets)
	}
}

func TestParseOverrides(t *testing.T) {
	data := []byte(`
server:
  addr: ":9000"
  read_timeout: 5s
engine:
  workers: 8
  workspace: platform
drift_budgets:
  enabled: true
  default_budget:
    max_breaking: 2
  service_budgets:
    orders-api:
      max_breaking: 0
      fitness_functions:
        - name: no_new_required_fields
incidents:
  store: redis
  retention_days: 7
redis:
  addr: "redis:6379"
  db: 2
`)
	cfg, err := NewLoader().Parse(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Engine.Workers != 8 || cfg.Engine.Workspace != "platform" {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Budgets.Default.MaxBreaking != 2 {
		t.Errorf("default budget = %+v", cfg.Budgets.Default)
	}
	svc, ok := cfg.Budgets.Services["orders-api"]
	if !ok || len(svc.Fitness) != 1 || svc.Fitness[0].Name != "no_new_required_fields" {
		t.Errorf("service budget = %+v", svc)
	}
	if cfg.Incidents.Store != "redis" || cfg.Redis.DB != 2 {
		t.Errorf("incident store = %+v redis = %+v", cfg.Incidents, cfg.Redis)
	}
}

func TestParseEnvExpansion(t *testing.T) {
	t.Setenv("DRIFTD_TEST_ADDR", ":7777")
	cfg, err := NewLoader().Parse([]byte("server:\n  addr: \"${DRIFTD_TEST_ADDR}\"\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Errorf("addr = %q, want env-expanded :7777", cfg.Server.Addr)
	}
}

func TestParseUnsetEnvLeftVerbatim(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte("engine:\n  workspace: \"${DRIFTD_UNSET_WORKSPACE}\"\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Engine.Workspace != "${DRIFTD_UNSET_WORKSPACE}" {
		t.Errorf("workspace = %q, unset variables stay verbatim", cfg.Engine.Workspace)
	}
}

func TestParseValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad log level", "logging:\n  level: loud\n"},
		{"negative workers", "engine:\n  workers: -1\n"},
		{"unknown store", "incidents:\n  store: postgres\n"},
		{"redis store without addr", "incidents:\n  store: redis\nredis:\n  addr: \"\"\n"},
		{"zero retention", "incidents:\n  retention_days: -3\n"},
		{"empty addr", "server:\n  addr: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoader().Parse([]byte(tt.data)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driftd.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":8900\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Addr != ":8900" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}

	if _, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
