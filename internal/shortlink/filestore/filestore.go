// Package filestore keeps short links in a single JSON file:
//
//	{"<hash>": {"encodedParams": "...", "expiry": <epoch-ms>}}
//
// One Store serializes every access to its file. Several processes sharing the
// same file are not supported; use pgstore or redisstore for that.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sundayezeilo/searchlink/internal/errx"
	"github.com/sundayezeilo/searchlink/internal/shortlink"
)

type record struct {
	EncodedParams string `json:"encodedParams"`
	Expiry        int64  `json:"expiry"`
}

type entries map[string]record

// Store is a shortlink.Store backed by a JSON file.
type Store struct {
	mu     sync.Mutex
	path   string
	now    func() time.Time
	logger *slog.Logger
}

// Config holds optional settings for the store.
type Config struct {
	Now    func() time.Time
	Logger *slog.Logger
}

var (
	_ shortlink.Store      = (*Store)(nil)
	_ shortlink.Pinger     = (*Store)(nil)
	_ shortlink.HashLister = (*Store)(nil)
)

// New returns a store for path. The file and its directory are created on the
// first write.
func New(path string, config *Config) *Store {
	if config == nil {
		config = &Config{}
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		path:   path,
		now:    now,
		logger: logger.With("store", "file", "path", path),
	}
}

// Put upserts e after dropping every expired record.
func (s *Store) Put(ctx context.Context, e shortlink.Entry) error {
	const op = "filestore.Put"
	if err := ctx.Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load(op)
	if err != nil {
		return err
	}

	purgeExpired(m, s.now())
	m[e.Hash] = record{
		EncodedParams: e.EncodedParams,
		Expiry:        e.ExpiresAt.UnixMilli(),
	}

	return s.save(op, m)
}

// Get returns the live entry for hash. It never writes the file.
func (s *Store) Get(ctx context.Context, hash string) (shortlink.Entry, error) {
	const op = "filestore.Get"
	if err := ctx.Err(); err != nil {
		return shortlink.Entry{}, errx.E(op, errx.Unavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load(op)
	if err != nil {
		return shortlink.Entry{}, err
	}

	r, ok := m[hash]
	if !ok || !r.live(s.now()) {
		return shortlink.Entry{}, errx.Errorf(op, errx.NotFound, "no live entry for %q", hash)
	}
	return r.entry(hash), nil
}

// Delete removes hash. An expired record is removed too but reported as NotFound.
func (s *Store) Delete(ctx context.Context, hash string) error {
	const op = "filestore.Delete"
	if err := ctx.Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load(op)
	if err != nil {
		return err
	}

	r, ok := m[hash]
	if !ok {
		return errx.Errorf(op, errx.NotFound, "no entry for %q", hash)
	}

	delete(m, hash)
	if err := s.save(op, m); err != nil {
		return err
	}

	if !r.live(s.now()) {
		return errx.Errorf(op, errx.NotFound, "entry for %q already expired", hash)
	}
	return nil
}

// Purge drops every record expiring at or before now. The file is only rewritten
// when something was removed.
func (s *Store) Purge(ctx context.Context, now time.Time) (int, error) {
	const op = "filestore.Purge"
	if err := ctx.Err(); err != nil {
		return 0, errx.E(op, errx.Unavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load(op)
	if err != nil {
		return 0, err
	}

	n := purgeExpired(m, now)
	if n == 0 {
		return 0, nil
	}
	if err := s.save(op, m); err != nil {
		return 0, err
	}
	return n, nil
}

// Hashes lists every live hash, sorted.
func (s *Store) Hashes(ctx context.Context) ([]string, error) {
	const op = "filestore.Hashes"
	if err := ctx.Err(); err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load(op)
	if err != nil {
		return nil, err
	}

	now := s.now()
	hashes := make([]string, 0, len(m))
	for h, r := range m {
		if r.live(now) {
			hashes = append(hashes, h)
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}

// Ping checks that the file's directory exists and is a directory.
func (s *Store) Ping(ctx context.Context) error {
	const op = "filestore.Ping"
	if err := ctx.Err(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}

	dir := filepath.Dir(s.path)
	info, err := os.Stat(dir)
	if err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	if !info.IsDir() {
		return errx.Errorf(op, errx.Unavailable, "%s is not a directory", dir)
	}
	return nil
}

// load reads the whole file. A missing file is an empty store; so is one that
// does not parse, which is logged and overwritten by the next write.
func (s *Store) load(op string) (entries, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entries{}, nil
		}
		s.logger.Error("failed to read store file", "operation", op, "error", err)
		return nil, errx.E(op, errx.Unavailable, err)
	}

	m := entries{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		s.logger.Warn("store file is corrupt, treating as empty", "operation", op, "error", err)
		return entries{}, nil
	}
	if m == nil {
		// the file held a JSON null
		m = entries{}
	}
	return m, nil
}

// save writes m to a temp file beside the target, syncs it and renames it over
// the target, so readers see either the old file or the new one.
func (s *Store) save(op string, m entries) (err error) {
	defer func() {
		if err != nil {
			s.logger.Error("failed to write store file", "operation", op, "error", err)
			err = errx.E(op, errx.Unavailable, err)
		}
	}()

	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

func purgeExpired(m entries, now time.Time) int {
	n := 0
	for h, r := range m {
		if !r.live(now) {
			delete(m, h)
			n++
		}
	}
	return n
}

func (r record) live(now time.Time) bool {
	return r.Expiry > now.UnixMilli()
}

func (r record) entry(hash string) shortlink.Entry {
	return shortlink.Entry{
		Hash:          hash,
		EncodedParams: r.EncodedParams,
		ExpiresAt:     time.UnixMilli(r.Expiry).UTC(),
	}
}
