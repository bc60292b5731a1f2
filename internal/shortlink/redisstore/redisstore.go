// Package redisstore keeps short links in Redis, one key per hash. Keys carry a
// native expiry, so Redis removes expired links itself.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/searchlink/internal/errx"
	"github.com/sundayezeilo/searchlink/internal/shortlink"
)

// value is what a key holds. The expiry is kept alongside the key TTL so Get can
// return it without a second round trip.
type value struct {
	EncodedParams string `json:"encodedParams"`
	Expiry        int64  `json:"expiry"`
}

// Store is a shortlink.Store backed by Redis.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	now       func() time.Time
	opTimeout time.Duration
	logger    *slog.Logger
}

// Config holds optional settings for the store.
type Config struct {
	KeyPrefix string // default: "shortlink:"
	Now       func() time.Time
	OpTimeout time.Duration // default: 2s
	Logger    *slog.Logger
}

var (
	_ shortlink.Store  = (*Store)(nil)
	_ shortlink.Pinger = (*Store)(nil)
)

// New returns a store over client.
func New(client redis.UniversalClient, config *Config) *Store {
	if config == nil {
		config = &Config{}
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "shortlink:"
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	opTimeout := config.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		client:    client,
		prefix:    prefix,
		now:       now,
		opTimeout: opTimeout,
		logger:    logger.With("store", "redis"),
	}
}

// Put sets the key to expire at e.ExpiresAt. An entry already expired by the
// store clock is not written.
func (s *Store) Put(ctx context.Context, e shortlink.Entry) error {
	const op = "redisstore.Put"
	if !e.ExpiresAt.After(s.now()) {
		return errx.Errorf(op, errx.Invalid, "entry for %q is already expired", e.Hash)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	b, err := json.Marshal(value{EncodedParams: e.EncodedParams, Expiry: e.ExpiresAt.UnixMilli()})
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}

	// PXAT keeps millisecond precision; SetArgs only offers EXAT
	err = s.client.Do(ctx, "SET", s.key(e.Hash), b, "PXAT", e.ExpiresAt.UnixMilli()).Err()
	if err != nil {
		return s.mapError(op, err)
	}
	return nil
}

// Get returns the entry for hash.
func (s *Store) Get(ctx context.Context, hash string) (shortlink.Entry, error) {
	const op = "redisstore.Get"
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	b, err := s.client.Get(ctx, s.key(hash)).Bytes()
	if err != nil {
		return shortlink.Entry{}, s.mapError(op, err)
	}

	var v value
	if err := json.Unmarshal(b, &v); err != nil {
		s.logger.Warn("unreadable value, treating as missing", "operation", op, "hash", hash, "error", err)
		return shortlink.Entry{}, errx.E(op, errx.NotFound, err)
	}

	e := shortlink.Entry{
		Hash:          hash,
		EncodedParams: v.EncodedParams,
		ExpiresAt:     time.UnixMilli(v.Expiry).UTC(),
	}
	// key expiry and our clock can disagree by a few milliseconds
	if e.Expired(s.now()) {
		return shortlink.Entry{}, errx.Errorf(op, errx.NotFound, "entry for %q expired", hash)
	}
	return e, nil
}

// Delete removes hash. Keys Redis already expired are NotFound.
func (s *Store) Delete(ctx context.Context, hash string) error {
	const op = "redisstore.Delete"
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	n, err := s.client.Del(ctx, s.key(hash)).Result()
	if err != nil {
		return s.mapError(op, err)
	}
	if n == 0 {
		return errx.Errorf(op, errx.NotFound, "no entry for %q", hash)
	}
	return nil
}

// Purge is a no-op: Redis expires keys itself.
func (s *Store) Purge(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	const op = "redisstore.Ping"
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return s.mapError(op, err)
	}
	return nil
}

func (s *Store) key(hash string) string {
	return s.prefix + hash
}

func (s *Store) mapError(op string, err error) error {
	if errors.Is(err, redis.Nil) {
		return errx.E(op, errx.NotFound, err)
	}
	s.logger.Error("redis unavailable", "operation", op, "error", err)
	return errx.E(op, errx.Unavailable, err)
}
