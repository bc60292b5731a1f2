package shortlink

import (
	"errors"
	"time"
)

const (
	// TTL is the lifetime of every link. Callers cannot choose an expiry.
	TTL = 30 * 24 * time.Hour

	MaxHashLength          = 128
	MaxEncodedParamsLength = 8192
)

// Entry is one stored short link.
type Entry struct {
	Hash          string
	EncodedParams string
	ExpiresAt     time.Time
}

// Expired reports whether e is no longer visible at now. An entry expiring exactly
// at now is already gone.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// ValidateHash rejects hashes no backend can store.
func ValidateHash(hash string) error {
	if hash == "" {
		return errors.New("hash is required")
	}
	if len(hash) > MaxHashLength {
		return errors.New("hash too long (max 128 characters)")
	}
	return nil
}

func validateEncodedParams(params string) error {
	if params == "" {
		return errors.New("encodedParams is required")
	}
	if len(params) > MaxEncodedParamsLength {
		return errors.New("encodedParams too long (max 8192 characters)")
	}
	return nil
}
