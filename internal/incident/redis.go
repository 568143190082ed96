package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/driftd/internal/contract"
	"github.com/example/driftd/internal/logging"
)

// RedisStore keeps incidents in a single Redis hash keyed by incident id,
// so multiple driftd replicas share one incident view. Listings load the
// whole hash and filter in memory; incident volumes stay small because of
// dedup.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a Redis-backed store. key defaults to
// "driftd:incidents".
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "driftd:incidents"
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Incident, error) {
	data, err := s.client.HGet(ctx, s.key, id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis incident get: %w", err)
	}
	var inc Incident
	if err := json.Unmarshal(data, &inc); err != nil {
		return nil, fmt.Errorf("decode incident %s: %w", id, err)
	}
	return &inc, nil
}

func (s *RedisStore) Put(ctx context.Context, inc *Incident) error {
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("encode incident %s: %w", inc.ID, err)
	}
	if err := s.client.HSet(ctx, s.key, inc.ID, data).Err(); err != nil {
		return fmt.Errorf("redis incident put: %w", err)
	}
	return nil
}

func (s *RedisStore) FindOpen(ctx context.Context, operationID string, protocol contract.Protocol) (*Incident, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, inc := range all {
		if inc.OperationID == operationID && inc.Protocol == protocol && inc.Status != StatusResolved {
			return inc, nil
		}
	}
	return nil, nil
}

func (s *RedisStore) List(ctx context.Context, f Filter) ([]*Incident, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Incident
	for _, inc := range all {
		if f.matches(inc) {
			out = append(out, inc)
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

func (s *RedisStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, inc := range all {
		if inc.UpdatedAt.Before(cutoff) {
			stale = append(stale, inc.ID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.client.HDel(ctx, s.key, stale...).Err(); err != nil {
		return 0, fmt.Errorf("redis incident prune: %w", err)
	}
	return len(stale), nil
}

func (s *RedisStore) loadAll(ctx context.Context) ([]*Incident, error) {
	entries, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis incident scan: %w", err)
	}
	out := make([]*Incident, 0, len(entries))
	for id, data := range entries {
		var inc Incident
		if err := json.Unmarshal([]byte(data), &inc); err != nil {
			logging.Warn("skipping undecodable incident record",
				zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, &inc)
	}
	return out, nil
}
