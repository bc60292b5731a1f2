package shortlink

import (
	"context"
	"time"
)

// Store persists entries. Implementations must:
//   - treat Put on an existing hash as an overwrite;
//   - never return an entry whose ExpiresAt is not after the current time, and
//     report such entries from Get and Delete as errx.NotFound;
//   - wrap storage failures as errx.Unavailable.
//
// Inputs are validated by Service before they reach a Store.
type Store interface {
	Put(ctx context.Context, e Entry) error
	Get(ctx context.Context, hash string) (Entry, error)
	Delete(ctx context.Context, hash string) error
	// Purge removes every entry expired at now and returns how many it removed.
	Purge(ctx context.Context, now time.Time) (int, error)
}

// Pinger is implemented by stores that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HashLister is implemented by stores that can enumerate live hashes. Used to warm
// the cache's bloom filter at startup.
type HashLister interface {
	Hashes(ctx context.Context) ([]string, error)
}
