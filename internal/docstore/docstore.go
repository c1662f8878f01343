// Package docstore is the keyed document store: contact snapshots,
// rate-limit counters and continuation dedupe marks. Jobs do NOT live
// here — the job row in Postgres is the source of truth for progress.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/szabogaliakos/email-insights-sub001/pkg/models"
)

// ErrUnavailable marks a document store failure as an outage rather
// than bad data. Callers retry the batch; the job itself survives.
var ErrUnavailable = errors.New("document store unavailable")

// Store is the document-store interface. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// SetNX stores value only when key is absent; returns whether it won.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

// RedisStore implements Store using go-redis/v9.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new RedisStore from a Redis URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// LoadSnapshot reads the owner's contact snapshot. Absent is not an
// error: a fresh scan starts from an empty snapshot.
func LoadSnapshot(ctx context.Context, s Store, owner string) (*models.ContactSnapshot, bool, error) {
	raw, found, err := s.Get(ctx, SnapshotKey(owner))
	if err != nil {
		return nil, false, fmt.Errorf("%w: load snapshot for %s: %v", ErrUnavailable, owner, err)
	}
	if !found {
		return &models.ContactSnapshot{Owner: owner}, false, nil
	}
	var snap models.ContactSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false, fmt.Errorf("decode snapshot for %s: %w", owner, err)
	}
	return &snap, true, nil
}

// SaveSnapshot persists the owner's contact snapshot. Snapshots never
// expire; they are the scan's queryable result.
func SaveSnapshot(ctx context.Context, s Store, snap *models.ContactSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", snap.Owner, err)
	}
	if err := s.Set(ctx, SnapshotKey(snap.Owner), raw, 0); err != nil {
		return fmt.Errorf("%w: save snapshot for %s: %v", ErrUnavailable, snap.Owner, err)
	}
	return nil
}
