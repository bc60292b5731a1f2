// Package idgen produces identifiers for lifecycle events. Event IDs let consumers
// drop duplicates when a publisher retries.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator returns a new identifier on every call.
// Implementations should be safe for concurrent use.
type Generator interface {
	NewID() string
}

/***************
 * UUID v7
 ***************/

type v7Gen struct{}

// NewV7 returns a Generator of time-ordered UUID v7 strings, so event IDs sort by
// creation time in consumer logs. It falls back to v4 if the v7 clock read fails.
func NewV7() Generator { return v7Gen{} }

func (v7Gen) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

/***************
 * Sequence
 ***************/

type sequenceGen struct {
	prefix string
	n      atomic.Uint64
}

// NewSequence returns "<prefix>-1", "<prefix>-2", ... Useful where IDs must be
// predictable.
func NewSequence(prefix string) Generator {
	return &sequenceGen{prefix: prefix}
}

func (g *sequenceGen) NewID() string {
	return g.prefix + "-" + strconv.FormatUint(g.n.Add(1), 10)
}
