// Package events publishes short-link lifecycle events for downstream consumers
// such as share analytics. Publishing is best effort: a failed publish is logged and
// never fails the operation that produced the event.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Type names a lifecycle transition.
type Type string

const (
	Created  Type = "shortlink.created"
	Resolved Type = "shortlink.resolved"
	Deleted  Type = "shortlink.deleted"
	Purged   Type = "shortlink.purged"
)

// Event is the JSON payload written to the event stream. Hash is empty for Purged.
type Event struct {
	ID         string     `json:"id"`
	Type       Type       `json:"type"`
	Hash       string     `json:"hash,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Count      int        `json:"count,omitempty"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close() error
}

/***************
 * Noop
 ***************/

type noop struct{}

// Noop returns a Publisher that drops every event.
func Noop() Publisher { return noop{} }

func (noop) Publish(context.Context, Event) {}
func (noop) Close() error                   { return nil }

/***************
 * Log
 ***************/

type logPublisher struct {
	logger *slog.Logger
}

// NewLog returns a Publisher that writes each event as a debug log line.
func NewLog(logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &logPublisher{logger: logger}
}

func (p *logPublisher) Publish(ctx context.Context, e Event) {
	attrs := []any{
		"event_id", e.ID,
		"event_type", string(e.Type),
		"occurred_at", e.OccurredAt,
	}
	if e.Hash != "" {
		attrs = append(attrs, "hash", e.Hash)
	}
	if e.ExpiresAt != nil {
		attrs = append(attrs, "expires_at", *e.ExpiresAt)
	}
	if e.Type == Purged {
		attrs = append(attrs, "count", e.Count)
	}
	p.logger.DebugContext(ctx, "shortlink event", attrs...)
}

func (p *logPublisher) Close() error { return nil }
