// Package incident persists drift incidents and drives their lifecycle:
// created Open when a budget is exceeded, deduplicated per (operation_id,
// protocol), and moved through Acknowledged to Resolved by external callers
// only.
package incident

import (
	"errors"
	"time"

	"github.com/example/driftd/internal/budget"
	"github.com/example/driftd/internal/consumer"
	"github.com/example/driftd/internal/contract"
	"github.com/example/driftd/internal/diff"
)

var (
	// ErrNotFound is returned when no incident exists under the given id.
	ErrNotFound = errors.New("incident not found")

	// ErrInvalidTransition is returned for lifecycle moves that are not
	// Open -> Acknowledged -> Resolved.
	ErrInvalidTransition = errors.New("invalid incident state transition")
)

// Status is an incident lifecycle state.
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Incident is one persisted drift record.
type Incident struct {
	ID                string                 `json:"id"`
	Protocol          contract.Protocol      `json:"protocol"`
	OperationID       string                 `json:"operation_id"`
	Type              string                 `json:"incident_type"`
	Severity          diff.Severity          `json:"severity"`
	Details           string                 `json:"details"`
	FitnessResults    []budget.FitnessResult `json:"fitness_test_results,omitempty"`
	AffectedConsumers *consumer.Impact       `json:"affected_consumers,omitempty"`
	Occurrences       int                    `json:"occurrences"`
	Status            Status                 `json:"status"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// transition validates and applies a lifecycle move.
func (i *Incident) transition(to Status) error {
	ok := (i.Status == StatusOpen && to == StatusAcknowledged) ||
		(i.Status != StatusResolved && to == StatusResolved)
	if !ok {
		return ErrInvalidTransition
	}
	i.Status = to
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// Filter narrows incident listings. Zero fields match everything.
type Filter struct {
	Status      Status
	Severity    *diff.Severity
	Protocol    contract.Protocol
	OperationID string
	Limit       int
}

func (f Filter) matches(i *Incident) bool {
	if f.Status != "" && i.Status != f.Status {
		return false
	}
	if f.Severity != nil && i.Severity != *f.Severity {
		return false
	}
	if f.Protocol != "" && i.Protocol != f.Protocol {
		return false
	}
	if f.OperationID != "" && i.OperationID != f.OperationID {
		return false
	}
	return true
}

// Stats summarizes the stored incidents for the admin API.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	BySeverity map[string]int `json:"by_severity"`
	ByType     map[string]int `json:"by_type"`
}
