// Package idempotency guards submit_result against duplicate delivery: a
// worker retrying a flaky POST must not cause a second, different
// acknowledgement for the same task_id. Backed by Redis when configured,
// falling back to an in-process cache otherwise — mirroring the teacher's
// idempotency store exactly, since the concern (and its Redis/memory
// fallback shape) transfers unchanged.
package idempotency

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Result is the cached outcome of a prior submit_result call for a given
// task_id, replayed verbatim on retry instead of re-executing the submit.
type Result struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}

// Backend is the subset of a distributed cache the Store needs. RedisBackend
// (internal/store) implements this over go-redis.
type Backend interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// Store caches submit_result outcomes keyed by task_id.
type Store struct {
	backend Backend
	cache   sync.Map
	ttl     time.Duration
}

type entry struct {
	Result    Result
	Timestamp time.Time
}

// NewStore creates a Store. Pass a nil backend to use only the in-process
// fallback (acceptable for a single dispatcher instance; Non-goal per
// spec.md is cross-node clustering, not single-node idempotency).
func NewStore(backend Backend, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{backend: backend, ttl: ttl}
}

// Get returns the cached Result for key, if any.
func (s *Store) Get(ctx context.Context, key string) (Result, bool) {
	if s.backend != nil {
		val, err := s.backend.Get(ctx, key)
		if err != nil {
			log.Printf("idempotency: backend error getting %s: %v", key, err)
			return Result{}, false
		}
		if val == "" {
			return Result{}, false
		}
		var e entry
		if err := json.Unmarshal([]byte(val), &e); err != nil {
			return Result{}, false
		}
		return e.Result, true
	}

	val, ok := s.cache.Load(key)
	if !ok {
		return Result{}, false
	}
	e := val.(entry)
	if time.Since(e.Timestamp) > s.ttl {
		s.cache.Delete(key)
		return Result{}, false
	}
	return e.Result, true
}

// Set records the outcome of a submit_result call for future replay.
func (s *Store) Set(ctx context.Context, key string, result Result) {
	e := entry{Result: result, Timestamp: time.Now()}

	if s.backend != nil {
		data, _ := json.Marshal(e)
		if err := s.backend.Set(ctx, key, string(data), s.ttl); err != nil {
			log.Printf("idempotency: backend error setting %s: %v", key, err)
		}
		return
	}
	s.cache.Store(key, e)
}
