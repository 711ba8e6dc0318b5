// Package store implements the three-tier Metadata Store (C5): a process
// cache, a durable key-value tier (Redis), and an in-memory fallback used
// when the durable tier is unavailable. Adapted from the teacher's
// internal/cache package, extended from two tiers to three.
package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"sessionbroker/internal/admission"
	"sessionbroker/internal/logging"
	"sessionbroker/internal/metrics"
)

// Record is the unit of storage: an opaque JSON payload plus the indexing
// fields the store needs without deserializing it (owner, for listByOwner).
type Record struct {
	ID      string
	Owner   string
	Payload []byte
}

const (
	nearCacheTTL     = 10 * time.Minute
	nearCacheMaxSize = 5000
	durableTTL       = 24 * time.Hour
	keyPrefix        = "sessionbroker:session:"
)

// DurableTier abstracts the external key-value backend so this package
// doesn't hard-depend on a concrete client, matching the teacher's
// RedisClient abstraction in internal/cache/redis.go.
type DurableTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

type cacheEntry struct {
	rec     Record
	expires time.Time
}

// Store is the three-tier façade. Writes fan out to all tiers; reads
// cascade near -> durable -> fallback, filling the near cache on a durable
// hit, per spec.md §4.5.
type Store struct {
	mu   sync.RWMutex
	near map[string]cacheEntry // bounded to nearCacheMaxSize

	durable     DurableTier // nil if no durable backend configured
	durableName string
	breakers    *admission.Registry

	fbMu     sync.RWMutex
	fallback map[string]Record
}

// New constructs a Store. durable may be nil, in which case the durable
// tier is always treated as unavailable and every read/write falls through
// to the in-memory fallback, per spec.md §4.5's "optional" durable tier.
func New(durable DurableTier, breakers *admission.Registry) *Store {
	return &Store{
		near:        make(map[string]cacheEntry),
		durable:     durable,
		durableName: "metadata-store-durable-tier",
		breakers:    breakers,
		fallback:    make(map[string]Record),
	}
}

func (s *Store) key(id string) string { return keyPrefix + id }

// Put writes rec to all three tiers. Success requires at least the
// fallback tier to succeed; durable-tier failures are logged and do not
// fail the call.
func (s *Store) Put(ctx context.Context, rec Record) error {
	s.fbMu.Lock()
	s.fallback[rec.ID] = rec
	s.fbMu.Unlock()

	s.putNear(rec)

	if s.durable != nil {
		_, err := s.breakers.Get(s.durableName).Call(func() (interface{}, error) {
			return nil, s.durable.Set(ctx, s.key(rec.ID), encode(rec), durableTTL)
		})
		metrics.Get().RecordDatabaseOperation("put", err)
		if err != nil {
			logging.S().Warnw("durable tier write failed, degraded to fallback", "session_id", rec.ID, "error", err)
		}
	}
	return nil
}

func (s *Store) putNear(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.near) >= nearCacheMaxSize {
		s.evictOneLocked()
	}
	s.near[rec.ID] = cacheEntry{rec: rec, expires: time.Now().Add(nearCacheTTL)}
}

// evictOneLocked removes one expired entry if there is one, otherwise an
// arbitrary entry. Caller holds s.mu.
func (s *Store) evictOneLocked() {
	now := time.Now()
	for id, e := range s.near {
		if now.After(e.expires) {
			delete(s.near, id)
			return
		}
	}
	for id := range s.near {
		delete(s.near, id)
		return
	}
}

// Get reads the near cache, falling through to durable then fallback. A
// durable-tier hit fills the near cache.
func (s *Store) Get(ctx context.Context, id string) (Record, bool) {
	s.mu.RLock()
	e, ok := s.near[id]
	s.mu.RUnlock()
	if ok && time.Now().Before(e.expires) {
		return e.rec, true
	}

	if s.durable != nil {
		v, found, err := s.getDurable(ctx, id)
		if err == nil && found {
			s.putNear(v)
			return v, true
		}
		if err != nil {
			logging.S().Warnw("durable tier read failed, falling back", "session_id", id, "error", err)
		}
	}

	s.fbMu.RLock()
	rec, ok := s.fallback[id]
	s.fbMu.RUnlock()
	return rec, ok
}

func (s *Store) getDurable(ctx context.Context, id string) (Record, bool, error) {
	result, err := s.breakers.Get(s.durableName).Call(func() (interface{}, error) {
		payload, found, gerr := s.durable.Get(ctx, s.key(id))
		if gerr != nil {
			return nil, gerr
		}
		if !found {
			return nil, nil
		}
		return payload, nil
	})
	metrics.Get().RecordDatabaseOperation("get", err)
	if err != nil {
		return Record{}, false, err
	}
	if result == nil {
		return Record{}, false, nil
	}
	rec, derr := decode(result.([]byte))
	if derr != nil {
		return Record{}, false, derr
	}
	return rec, true, nil
}

// Delete removes id from all three tiers. Durable-tier failures are logged
// but Delete still reports success once fallback and cache are updated.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.near, id)
	s.mu.Unlock()

	s.fbMu.Lock()
	delete(s.fallback, id)
	s.fbMu.Unlock()

	if s.durable != nil {
		_, err := s.breakers.Get(s.durableName).Call(func() (interface{}, error) {
			return nil, s.durable.Delete(ctx, s.key(id))
		})
		metrics.Get().RecordDatabaseOperation("delete", err)
		if err != nil {
			logging.S().Warnw("durable tier delete failed", "session_id", id, "error", err)
		}
	}
	return nil
}

// ListByOwner merges near-cache and durable (or fallback) records, de-
// duplicated by id. An empty clientID matches every owner; a non-empty one
// restricts the listing to records owned by it.
func (s *Store) ListByOwner(ctx context.Context, clientID string) []Record {
	matches := func(owner string) bool { return clientID == "" || owner == clientID }
	seen := make(map[string]Record)

	s.mu.RLock()
	for id, e := range s.near {
		if matches(e.rec.Owner) {
			seen[id] = e.rec
		}
	}
	s.mu.RUnlock()

	if s.durable != nil {
		keys, err := s.durable.Keys(ctx, keyPrefix)
		if err == nil {
			for _, k := range keys {
				id := k[len(keyPrefix):]
				if _, ok := seen[id]; ok {
					continue
				}
				if rec, found, derr := s.getDurable(ctx, id); derr == nil && found && matches(rec.Owner) {
					seen[id] = rec
				}
			}
		}
	} else {
		s.fbMu.RLock()
		for id, rec := range s.fallback {
			if matches(rec.Owner) {
				if _, ok := seen[id]; !ok {
					seen[id] = rec
				}
			}
		}
		s.fbMu.RUnlock()
	}

	out := make([]Record, 0, len(seen))
	for _, rec := range seen {
		out = append(out, rec)
	}
	return out
}

func encode(rec Record) []byte {
	b, _ := json.Marshal(rec)
	return b
}

func decode(b []byte) (Record, error) {
	var rec Record
	err := json.Unmarshal(b, &rec)
	return rec, err
}

// Close releases durable-tier resources, if any.
func (s *Store) Close() error {
	if s.durable != nil {
		return s.durable.Close()
	}
	return nil
}
