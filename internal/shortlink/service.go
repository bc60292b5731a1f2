package shortlink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sundayezeilo/searchlink/hashgen"
	"github.com/sundayezeilo/searchlink/internal/errx"
	"github.com/sundayezeilo/searchlink/internal/events"
	"github.com/sundayezeilo/searchlink/internal/idgen"
	"github.com/sundayezeilo/searchlink/internal/metrics"
	"github.com/sundayezeilo/searchlink/internal/searchparams"
)

const tracerName = "github.com/sundayezeilo/searchlink/internal/shortlink"

// Service is the only entry point to stored links. It owns validation, the clock
// and the fixed TTL.
type Service interface {
	Create(ctx context.Context, hash, encodedParams string) (Entry, error)
	CreateFromSearch(ctx context.Context, search searchparams.FlightSearch) (Entry, error)
	Get(ctx context.Context, hash string) (Entry, error)
	Delete(ctx context.Context, hash string) error
	Purge(ctx context.Context) (int, error)
}

type service struct {
	store     Store
	ttl       time.Duration
	now       func() time.Time
	hasher    hashgen.Generator
	publisher events.Publisher
	ids       idgen.Generator
	tracer    trace.Tracer
	logger    *slog.Logger
}

// ServiceConfig holds configuration for the service. Every field is optional.
type ServiceConfig struct {
	TTL       time.Duration // default: TTL
	Now       func() time.Time
	Hasher    hashgen.Generator // default: sqids over the encoded params
	Publisher events.Publisher
	IDs       idgen.Generator // event IDs
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// NewService creates a new service instance.
func NewService(store Store, config *ServiceConfig) (Service, error) {
	if store == nil {
		return nil, errors.New("shortlink: nil store")
	}
	if config == nil {
		config = &ServiceConfig{}
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = TTL
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	hasher := config.Hasher
	if hasher == nil {
		var err error
		if hasher, err = hashgen.NewSqids(hashgen.DefaultMinLength); err != nil {
			return nil, err
		}
	}

	publisher := config.Publisher
	if publisher == nil {
		publisher = events.Noop()
	}

	ids := config.IDs
	if ids == nil {
		ids = idgen.NewV7()
	}

	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &service{
		store:     store,
		ttl:       ttl,
		now:       now,
		hasher:    hasher,
		publisher: publisher,
		ids:       ids,
		tracer:    tracer,
		logger:    logger,
	}, nil
}

func (s *service) Create(ctx context.Context, hash, encodedParams string) (e Entry, err error) {
	const op = "shortlink.service.Create"
	ctx, end := s.begin(ctx, op, hash)
	defer func() { end(err) }()

	if err := ValidateHash(hash); err != nil {
		return Entry{}, errx.E(op, errx.Invalid, err)
	}
	if err := validateEncodedParams(encodedParams); err != nil {
		return Entry{}, errx.E(op, errx.Invalid, err)
	}

	now := s.now()
	entry := Entry{
		Hash:          hash,
		EncodedParams: encodedParams,
		ExpiresAt:     now.Add(s.ttl),
	}
	if err := s.store.Put(ctx, entry); err != nil {
		return Entry{}, errx.Wrap(op, err)
	}

	expiresAt := entry.ExpiresAt
	s.publish(ctx, events.Event{Type: events.Created, Hash: hash, OccurredAt: now, ExpiresAt: &expiresAt})
	return entry, nil
}

func (s *service) CreateFromSearch(ctx context.Context, search searchparams.FlightSearch) (Entry, error) {
	const op = "shortlink.service.CreateFromSearch"

	search = search.Normalize()
	if err := search.Validate(); err != nil {
		return Entry{}, errx.E(op, errx.Invalid, err)
	}

	encoded, err := searchparams.Encode(search)
	if err != nil {
		return Entry{}, errx.E(op, errx.Internal, err)
	}

	hash, err := s.hasher.Generate(encoded)
	if err != nil {
		return Entry{}, errx.E(op, errx.Internal, err)
	}

	entry, err := s.Create(ctx, hash, encoded)
	if err != nil {
		return Entry{}, errx.Wrap(op, err)
	}
	return entry, nil
}

func (s *service) Get(ctx context.Context, hash string) (e Entry, err error) {
	const op = "shortlink.service.Get"
	ctx, end := s.begin(ctx, op, hash)
	defer func() { end(err) }()

	if err := ValidateHash(hash); err != nil {
		return Entry{}, errx.E(op, errx.Invalid, err)
	}

	entry, err := s.store.Get(ctx, hash)
	if err != nil {
		return Entry{}, errx.Wrap(op, err)
	}
	// stores check expiry with their own clock; this one is authoritative
	if entry.Expired(s.now()) {
		return Entry{}, errx.E(op, errx.NotFound, errors.New("short link expired"))
	}

	s.publish(ctx, events.Event{Type: events.Resolved, Hash: hash, OccurredAt: s.now()})
	return entry, nil
}

func (s *service) Delete(ctx context.Context, hash string) (err error) {
	const op = "shortlink.service.Delete"
	ctx, end := s.begin(ctx, op, hash)
	defer func() { end(err) }()

	if err := ValidateHash(hash); err != nil {
		return errx.E(op, errx.Invalid, err)
	}

	if err := s.store.Delete(ctx, hash); err != nil {
		return errx.Wrap(op, err)
	}

	s.publish(ctx, events.Event{Type: events.Deleted, Hash: hash, OccurredAt: s.now()})
	return nil
}

func (s *service) Purge(ctx context.Context) (n int, err error) {
	const op = "shortlink.service.Purge"
	ctx, end := s.begin(ctx, op, "")
	defer func() { end(err) }()

	now := s.now()
	n, err = s.store.Purge(ctx, now)
	if err != nil {
		return 0, errx.Wrap(op, err)
	}

	if n > 0 {
		metrics.EntriesPurged.Add(float64(n))
		s.publish(ctx, events.Event{Type: events.Purged, OccurredAt: now, Count: n})
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("shortlink.purged", n))
	return n, nil
}

// begin opens a span for op and returns a func that records the outcome on the
// span and the store operation counter.
func (s *service) begin(ctx context.Context, op, hash string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, op)
	if hash != "" {
		span.SetAttributes(attribute.String("shortlink.hash", hash))
	}

	return ctx, func(err error) {
		result := resultOf(err)
		metrics.StoreOperations.WithLabelValues(op, result).Inc()

		span.SetAttributes(attribute.String("shortlink.result", result))
		switch errx.KindOf(err) {
		case errx.Unavailable, errx.Internal, errx.Unknown:
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}
		span.End()
	}
}

func (s *service) publish(ctx context.Context, e events.Event) {
	e.ID = s.ids.NewID()
	s.publisher.Publish(ctx, e)
}

func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	switch errx.KindOf(err) {
	case errx.NotFound:
		return "not_found"
	case errx.Invalid:
		return "invalid"
	case errx.Unavailable:
		return "unavailable"
	default:
		return "error"
	}
}
