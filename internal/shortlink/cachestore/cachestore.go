// Package cachestore puts an in-process read-through cache in front of any
// shortlink.Store.
//
// Cached entries never outlive their expiry: each item's TTL is the smaller of
// the cache TTL and the time left on the link. Writes and deletes made through
// this process invalidate the cached copy, and a read that raced with one of
// them is not cached; writes made by other processes are seen once the cache
// TTL runs out.
//
// The optional bloom filter remembers every hash written through, or warmed
// into, this process and rejects lookups for the rest without touching the
// backend. It needs a backend that implements shortlink.HashLister, and it only
// suits single-instance deployments.
package cachestore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"

	"github.com/sundayezeilo/searchlink/internal/errx"
	"github.com/sundayezeilo/searchlink/internal/metrics"
	"github.com/sundayezeilo/searchlink/internal/shortlink"
)

// Config holds cache settings. Zero values take the defaults.
type Config struct {
	MaxItems int64         // default: 100000
	MaxCost  int64         // bytes; default: 64MB
	TTL      time.Duration // default: 10m

	Bloom         bool
	BloomExpected uint    // default: 1000000
	BloomFPRate   float64 // default: 0.01

	Now    func() time.Time
	Logger *slog.Logger
}

// Store wraps a backend with a ristretto cache and an optional bloom filter.
type Store struct {
	next   shortlink.Store
	cache  *ristretto.Cache
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	// mu guards filter and gens. Writers hold it while bumping a generation and
	// evicting; readers hold it while checking their generation and filling.
	mu     sync.RWMutex
	filter *bloom.BloomFilter // nil when disabled
	gens   [generationStripes]uint64
}

const generationStripes = 256

var (
	_ shortlink.Store  = (*Store)(nil)
	_ shortlink.Pinger = (*Store)(nil)
)

// New wraps next.
func New(next shortlink.Store, config *Config) (*Store, error) {
	if next == nil {
		return nil, errors.New("cachestore: nil backend")
	}
	if config == nil {
		config = &Config{}
	}

	maxItems := config.MaxItems
	if maxItems <= 0 {
		maxItems = 100_000
	}
	maxCost := config.MaxCost
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	s := &Store{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		now:    now,
		logger: logger.With("store", "cache"),
	}

	_, canList := next.(shortlink.HashLister)
	if config.Bloom && !canList {
		s.logger.Warn("bloom filter disabled: backend cannot list hashes")
	}
	if config.Bloom && canList {
		expected := config.BloomExpected
		if expected == 0 {
			expected = 1_000_000
		}
		fp := config.BloomFPRate
		if fp <= 0 || fp >= 1 {
			fp = 0.01
		}
		s.filter = bloom.NewWithEstimates(expected, fp)
	}

	return s, nil
}

// Warm loads every hash the backend lists into the bloom filter. Without a
// filter it does nothing.
func (s *Store) Warm(ctx context.Context) (int, error) {
	if s.filter == nil {
		return 0, nil
	}
	lister := s.next.(shortlink.HashLister)

	hashes, err := lister.Hashes(ctx)
	if err != nil {
		return 0, errx.Wrap("cachestore.Warm", err)
	}

	s.mu.Lock()
	for _, h := range hashes {
		s.filter.AddString(h)
	}
	s.mu.Unlock()

	s.logger.Info("bloom filter warmed", "hashes", len(hashes))
	return len(hashes), nil
}

// Put writes through and drops the cached copy.
func (s *Store) Put(ctx context.Context, e shortlink.Entry) error {
	if err := s.next.Put(ctx, e); err != nil {
		return err
	}

	s.mu.Lock()
	s.invalidate(e.Hash)
	if s.filter != nil {
		s.filter.AddString(e.Hash)
	}
	s.mu.Unlock()
	return nil
}

// Get serves from the cache, falling back to the backend.
func (s *Store) Get(ctx context.Context, hash string) (shortlink.Entry, error) {
	const op = "cachestore.Get"

	if s.filter != nil {
		s.mu.RLock()
		maybe := s.filter.TestString(hash)
		s.mu.RUnlock()
		if !maybe {
			metrics.CacheOperations.WithLabelValues("bloom", "reject").Inc()
			return shortlink.Entry{}, errx.Errorf(op, errx.NotFound, "no entry for %q", hash)
		}
	}

	now := s.now()
	if v, ok := s.cache.Get(hash); ok {
		if e, ok := v.(shortlink.Entry); ok && !e.Expired(now) {
			metrics.CacheOperations.WithLabelValues("l1", "hit").Inc()
			return e, nil
		}
		s.cache.Del(hash)
	}
	metrics.CacheOperations.WithLabelValues("l1", "miss").Inc()

	s.mu.RLock()
	gen := s.gens[stripe(hash)]
	s.mu.RUnlock()

	e, err := s.next.Get(ctx, hash)
	if err != nil {
		return shortlink.Entry{}, err
	}

	if ttl := min(s.ttl, e.ExpiresAt.Sub(now)); ttl > 0 {
		s.mu.RLock()
		if s.gens[stripe(hash)] == gen {
			s.cache.SetWithTTL(hash, e, cost(e), ttl)
		}
		s.mu.RUnlock()
	}
	return e, nil
}

// Delete removes from the backend, then from the cache. The cached copy is
// dropped even when the backend fails, so a retry reads through.
func (s *Store) Delete(ctx context.Context, hash string) error {
	err := s.next.Delete(ctx, hash)

	s.mu.Lock()
	s.invalidate(hash)
	s.mu.Unlock()
	return err
}

// invalidate makes in-flight reads of hash skip their fill and evicts the
// cached copy. Ristretto applies a Del after any Set queued before it. Callers
// hold s.mu.
func (s *Store) invalidate(hash string) {
	s.gens[stripe(hash)]++
	s.cache.Del(hash)
}

func stripe(hash string) uint64 {
	return xxhash.Sum64String(hash) % generationStripes
}

// Purge purges the backend. Expired items in the cache are already unreachable.
func (s *Store) Purge(ctx context.Context, now time.Time) (int, error) {
	return s.next.Purge(ctx, now)
}

// Ping forwards to the backend when it supports it.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.next.(shortlink.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases the cache's goroutines.
func (s *Store) Close() {
	s.cache.Close()
}

// Wait blocks until buffered cache writes are applied.
func (s *Store) Wait() {
	s.cache.Wait()
}

func cost(e shortlink.Entry) int64 {
	// string bytes plus the fixed part of the struct
	return int64(len(e.Hash)+len(e.EncodedParams)) + 64
}
