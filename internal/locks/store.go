package locks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Outcome classifies a store-level acquire.
type Outcome int

// Store outcomes.
const (
	Acquired Outcome = iota + 1
	Renewed
	Conflict
)

// ErrContended is returned when optimistic retries are exhausted.
var ErrContended = errors.New("locks: key contended")

const maxTxRetries = 8

// Record is the value stored under a lock key.
type Record struct {
	HolderID   string    `json:"holderId"`
	HolderName string    `json:"holderName"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Store is the shared key space backing the lock manager. Implementations
// must make each call atomic per key.
type Store interface {
	Acquire(ctx context.Context, key string, rec Record, ttl time.Duration) (Outcome, Record, error)
	Release(ctx context.Context, key, holderID string) (bool, error)
	Get(ctx context.Context, key string) (Record, bool, error)
}

// RedisStore keeps locks in Redis. Keys carry a PX expiry so abandoned locks
// are evicted by Redis itself.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Acquire sets the key if absent. When present and held by the same holder the
// TTL is refreshed and expiresAt never moves backwards.
func (s *RedisStore) Acquire(ctx context.Context, key string, rec Record, ttl time.Duration) (Outcome, Record, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, Record{}, fmt.Errorf("locks: encode record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, key, payload, ttl).Result()
	if err != nil {
		return 0, Record{}, fmt.Errorf("locks: setnx: %w", err)
	}
	if ok {
		return Acquired, rec, nil
	}
	now := rec.ExpiresAt.Add(-ttl)
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var (
			outcome Outcome
			current Record
		)
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			existing, found, err := getRecord(ctx, tx, key)
			if err != nil {
				return err
			}
			switch {
			case !found:
				outcome, current = Acquired, rec
				_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
					p.Set(ctx, key, payload, ttl)
					return nil
				})
				return err
			case existing.HolderID != rec.HolderID:
				outcome, current = Conflict, existing
				return nil
			}
			renewed := existing
			if rec.HolderName != "" {
				renewed.HolderName = rec.HolderName
			}
			if rec.ExpiresAt.After(renewed.ExpiresAt) {
				renewed.ExpiresAt = rec.ExpiresAt
			}
			keyTTL := renewed.ExpiresAt.Sub(now)
			if keyTTL < ttl {
				keyTTL = ttl
			}
			body, err := json.Marshal(renewed)
			if err != nil {
				return fmt.Errorf("locks: encode record: %w", err)
			}
			outcome, current = Renewed, renewed
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, body, keyTTL)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, Record{}, fmt.Errorf("locks: acquire: %w", err)
		}
		return outcome, current, nil
	}
	return 0, Record{}, ErrContended
}

// Release deletes the key only when holderID is the recorded holder.
func (s *RedisStore) Release(ctx context.Context, key, holderID string) (bool, error) {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		released := false
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			existing, found, err := getRecord(ctx, tx, key)
			if err != nil || !found || existing.HolderID != holderID {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, key)
				return nil
			})
			released = err == nil
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("locks: release: %w", err)
		}
		return released, nil
	}
	return false, ErrContended
}

// Get reads the record under key.
func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	rec, found, err := getRecord(ctx, s.client, key)
	if err != nil {
		return Record{}, false, fmt.Errorf("locks: get: %w", err)
	}
	return rec, found, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getRecord(ctx context.Context, c stringGetter, key string) (Record, bool, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("locks: decode record %s: %w", key, err)
	}
	return rec, true, nil
}

var _ Store = (*RedisStore)(nil)
