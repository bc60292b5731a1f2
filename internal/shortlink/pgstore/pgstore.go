// Package pgstore keeps short links in PostgreSQL. The schema lives in
// internal/migrations.
package pgstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sundayezeilo/searchlink/internal/errx"
	"github.com/sundayezeilo/searchlink/internal/shortlink"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

const (
	purgeExpiredSQL = `DELETE FROM shortlinks WHERE expires_at <= $1`

	upsertSQL = `
INSERT INTO shortlinks (hash, encoded_params, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (hash) DO UPDATE
SET encoded_params = EXCLUDED.encoded_params,
    expires_at     = EXCLUDED.expires_at,
    updated_at     = now()`

	getSQL = `
SELECT encoded_params, expires_at
FROM shortlinks
WHERE hash = $1 AND expires_at > $2`

	// deleted reports whether the removed row was still live.
	deleteSQL = `DELETE FROM shortlinks WHERE hash = $1 RETURNING expires_at > $2`

	hashesSQL = `SELECT hash FROM shortlinks WHERE expires_at > $1 ORDER BY hash`
)

// Store is a shortlink.Store backed by PostgreSQL.
type Store struct {
	db        DB
	now       func() time.Time
	opTimeout time.Duration
	logger    *slog.Logger
}

// Config holds optional settings for the store.
type Config struct {
	Now       func() time.Time
	OpTimeout time.Duration // default: 2s
	Logger    *slog.Logger
}

var (
	_ shortlink.Store      = (*Store)(nil)
	_ shortlink.Pinger     = (*Store)(nil)
	_ shortlink.HashLister = (*Store)(nil)
)

// New returns a store over db.
func New(db DB, config *Config) *Store {
	if config == nil {
		config = &Config{}
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
		db:        db,
		now:       now,
		opTimeout: opTimeout,
		logger:    logger.With("store", "postgres"),
	}
}

// Put purges expired rows and upserts e in one transaction.
func (s *Store) Put(ctx context.Context, e shortlink.Entry) (err error) {
	const op = "pgstore.Put"
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return s.mapError(op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if _, err := tx.Exec(ctx, purgeExpiredSQL, s.now()); err != nil {
		return s.mapError(op, err)
	}
	if _, err := tx.Exec(ctx, upsertSQL, e.Hash, e.EncodedParams, e.ExpiresAt); err != nil {
		return s.mapError(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return s.mapError(op, err)
	}
	return nil
}

// Get returns the live row for hash.
func (s *Store) Get(ctx context.Context, hash string) (shortlink.Entry, error) {
	const op = "pgstore.Get"
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	e := shortlink.Entry{Hash: hash}
	if err := s.db.QueryRow(ctx, getSQL, hash, s.now()).Scan(&e.EncodedParams, &e.ExpiresAt); err != nil {
		return shortlink.Entry{}, s.mapError(op, err)
	}
	e.ExpiresAt = e.ExpiresAt.UTC()
	return e, nil
}

// Delete removes hash. An expired row is removed too but reported as NotFound.
func (s *Store) Delete(ctx context.Context, hash string) error {
	const op = "pgstore.Delete"
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var live bool
	if err := s.db.QueryRow(ctx, deleteSQL, hash, s.now()).Scan(&live); err != nil {
		return s.mapError(op, err)
	}
	if !live {
		return errx.Errorf(op, errx.NotFound, "entry for %q already expired", hash)
	}
	return nil
}

// Purge deletes every row expiring at or before now.
func (s *Store) Purge(ctx context.Context, now time.Time) (int, error) {
	const op = "pgstore.Purge"
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	tag, err := s.db.Exec(ctx, purgeExpiredSQL, now)
	if err != nil {
		return 0, s.mapError(op, err)
	}
	return int(tag.RowsAffected()), nil
}

// Hashes lists every live hash, sorted.
func (s *Store) Hashes(ctx context.Context) ([]string, error) {
	const op = "pgstore.Hashes"
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	rows, err := s.db.Query(ctx, hashesSQL, s.now())
	if err != nil {
		return nil, s.mapError(op, err)
	}
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, s.mapError(op, err)
	}
	return hashes, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	const op = "pgstore.Ping"
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		return s.mapError(op, err)
	}
	return nil
}

func (s *Store) mapError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errx.E(op, errx.NotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		s.logger.Error("postgres error",
			"operation", op,
			"code", pgErr.Code,
			"constraint", pgErr.ConstraintName,
			"error", pgErr.Message,
		)
	} else {
		s.logger.Error("postgres unavailable", "operation", op, "error", err)
	}
	return errx.E(op, errx.Unavailable, err)
}
