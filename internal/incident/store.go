package incident

import (
	"context"
	"time"

	"github.com/example/driftd/internal/contract"
)

// Store persists incidents. Implementations must be safe for concurrent
// use; the manager layers the (operation_id, protocol) mutual exclusion the
// dedup invariant needs on top.
type Store interface {
	// Get returns the incident with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Incident, error)

	// Put inserts or replaces an incident.
	Put(ctx context.Context, inc *Incident) error

	// FindOpen returns the non-resolved incident for (operationID,
	// protocol), or (nil, nil) when none exists.
	FindOpen(ctx context.Context, operationID string, protocol contract.Protocol) (*Incident, error)

	// List returns incidents matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*Incident, error)

	// PruneBefore deletes incidents last updated before the cutoff,
	// returning how many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}
