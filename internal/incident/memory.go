package incident

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/driftd/internal/contract"
)

// MemoryStore is the default in-process incident store.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{incidents: make(map[string]*Incident)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inc
	return &cp, nil
}

func (s *MemoryStore) Put(_ context.Context, inc *Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inc
	s.incidents[inc.ID] = &cp
	return nil
}

func (s *MemoryStore) FindOpen(_ context.Context, operationID string, protocol contract.Protocol) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inc := range s.incidents {
		if inc.OperationID == operationID && inc.Protocol == protocol && inc.Status != StatusResolved {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Incident
	for _, inc := range s.incidents {
		if f.matches(inc) {
			cp := *inc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, inc := range s.incidents {
		if inc.UpdatedAt.Before(cutoff) {
			delete(s.incidents, id)
			pruned++
		}
	}
	return pruned, nil
}
