// Package hashgen derives the short hash a link is stored under.
// Generators are safe for concurrent use.
package hashgen

import (
	"crypto/rand"
	"errors"

	"github.com/cespare/xxhash/v2"
	"github.com/sqids/sqids-go"
)

const (
	base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// shuffled so consecutive digests do not produce visually similar hashes
	sqidsAlphabet = "k3G7QAe51FCsiWrNOYBUwM6XzZvdLT4j9JhyHKg2cVbxfERq0mSoI8lDpunPat"

	DefaultMinLength    = 6
	DefaultRandomLength = 8
)

var errEmptyPayload = errors.New("payload cannot be empty")

// Generator turns an encoded search payload into a hash.
type Generator interface {
	Generate(payload string) (string, error)
}

/***************
 * Sqids
 ***************/

type sqidsGenerator struct {
	sq *sqids.Sqids
}

// NewSqids returns a deterministic generator: the same payload always yields the
// same hash, so sharing one search twice refreshes a single link.
func NewSqids(minLength int) (Generator, error) {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	sq, err := sqids.New(sqids.Options{
		Alphabet:  sqidsAlphabet,
		MinLength: uint8(min(minLength, 255)),
	})
	if err != nil {
		return nil, err
	}
	return &sqidsGenerator{sq: sq}, nil
}

func (g *sqidsGenerator) Generate(payload string) (string, error) {
	if payload == "" {
		return "", errEmptyPayload
	}
	return g.sq.Encode([]uint64{xxhash.Sum64String(payload)})
}

/***************
 * Random
 ***************/

type randomGenerator struct {
	length int
}

// NewRandom returns a generator that ignores the payload and produces a fresh
// base62 string of the given length on every call.
func NewRandom(length int) Generator {
	if length <= 0 {
		length = DefaultRandomLength
	}
	return &randomGenerator{length: length}
}

func (g *randomGenerator) Generate(payload string) (string, error) {
	if payload == "" {
		return "", errEmptyPayload
	}

	b := make([]byte, g.length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	for i := range b {
		b[i] = base62Chars[int(b[i])%len(base62Chars)]
	}

	return string(b), nil
}
