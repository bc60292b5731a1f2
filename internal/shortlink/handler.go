package shortlink

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sundayezeilo/searchlink/internal/errx"
	"github.com/sundayezeilo/searchlink/internal/httpx"
	"github.com/sundayezeilo/searchlink/internal/searchparams"
)

// CreateRequest is the JSON body of POST /api/shortlinks.
type CreateRequest struct {
	Hash          string `json:"hash"`
	EncodedParams string `json:"encodedParams"`
}

// EntryResponse is returned by create and fetch.
type EntryResponse struct {
	Hash          string `json:"hash"`
	EncodedParams string `json:"encodedParams"`
	ExpiresAt     string `json:"expiresAt"`
	ShortURL      string `json:"shortUrl,omitempty"`
}

// Handler provides HTTP handlers for short links.
type Handler struct {
	service       Service
	logger        *slog.Logger
	baseURL       string
	searchBaseURL string
	fallbackURL   string
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service       Service
	Logger        *slog.Logger
	BaseURL       string // public base of short URLs, e.g. "https://go.example.com"
	SearchBaseURL string // booking-site search page redirects land on
	FallbackURL   string // where unknown or expired links redirect
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		service:       cfg.Service,
		logger:        logger,
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		searchBaseURL: cfg.SearchBaseURL,
		fallbackURL:   cfg.FallbackURL,
	}
}

// Create handles POST /api/shortlinks.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	req, err := httpx.DecodeJSON[CreateRequest](r)
	if err != nil {
		h.writeDecodeError(ctx, w, logger, err)
		return
	}

	entry, err := h.service.Create(ctx, req.Hash, req.EncodedParams)
	if err != nil {
		h.handleServiceError(ctx, w, logger, err, "Unable to create short link at this time. Please try again.")
		return
	}

	logger.InfoContext(ctx, "short link created",
		"hash", entry.Hash,
		"expires_at", entry.ExpiresAt,
	)
	httpx.WriteJSON(w, http.StatusCreated, h.toResponse(entry))
}

// CreateFromSearch handles POST /api/shortlinks/search. The server encodes the
// search and derives the hash.
func (h *Handler) CreateFromSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	search, err := httpx.DecodeJSON[searchparams.FlightSearch](r)
	if err != nil {
		h.writeDecodeError(ctx, w, logger, err)
		return
	}

	entry, err := h.service.CreateFromSearch(ctx, search)
	if err != nil {
		h.handleServiceError(ctx, w, logger, err, "Unable to create short link at this time. Please try again.")
		return
	}

	logger.InfoContext(ctx, "short link created from search",
		"hash", entry.Hash,
		"from", search.From,
		"to", search.To,
	)
	httpx.WriteJSON(w, http.StatusCreated, h.toResponse(entry))
}

// Get handles GET /api/shortlinks/{hash}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	entry, err := h.service.Get(ctx, r.PathValue("hash"))
	if err != nil {
		h.handleServiceError(ctx, w, logger, err, "Unable to fetch this link at this time")
		return
	}

	resp := h.toResponse(entry)
	resp.ShortURL = ""
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /api/shortlinks/{hash}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)
	hash := r.PathValue("hash")

	if err := h.service.Delete(ctx, hash); err != nil {
		h.handleServiceError(ctx, w, logger, err, "Unable to delete this link at this time")
		return
	}

	logger.InfoContext(ctx, "short link deleted", "hash", hash)
	httpx.WriteNoContent(w)
}

// Redirect handles GET /s/{hash}: a 302 to the booking-site search the link
// encodes. Unknown, expired and undecodable links go to the fallback page so a
// stale share never shows the visitor an error.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)
	hash := r.PathValue("hash")

	// a link can be deleted at any time
	w.Header().Set("Cache-Control", "no-store")

	entry, err := h.service.Get(ctx, hash)
	if err != nil {
		switch errx.KindOf(err) {
		case errx.NotFound, errx.Invalid:
			logger.InfoContext(ctx, "short link not resolvable, using fallback",
				"hash", hash,
				"error_kind", errx.KindOf(err),
			)
			http.Redirect(w, r, h.fallbackURL, http.StatusFound)
		default:
			h.handleServiceError(ctx, w, logger, err, "Unable to resolve this link at this time")
		}
		return
	}

	search, err := searchparams.Decode(entry.EncodedParams)
	if err == nil {
		var target string
		if target, err = searchparams.SearchURL(h.searchBaseURL, search); err == nil {
			logger.InfoContext(ctx, "short link resolved",
				"hash", hash,
				"referer", r.Referer(),
			)
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
	}

	logger.WarnContext(ctx, "stored params not decodable, using fallback",
		"hash", hash,
		"error", err.Error(),
	)
	http.Redirect(w, r, h.fallbackURL, http.StatusFound)
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With(
		"request_id", httpx.GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	)
}

func (h *Handler) toResponse(e Entry) EntryResponse {
	return EntryResponse{
		Hash:          e.Hash,
		EncodedParams: e.EncodedParams,
		ExpiresAt:     e.ExpiresAt.UTC().Format(time.RFC3339),
		ShortURL:      h.baseURL + "/s/" + e.Hash,
	}
}

func (h *Handler) writeDecodeError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.WarnContext(ctx, "failed to decode request", "error", err.Error())
	if errors.Is(err, httpx.ErrUnsupportedMediaType) {
		httpx.WriteError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", err.Error(), nil)
		return
	}
	httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
}

// handleServiceError logs err at a level matching its kind and writes the mapped
// response. message is shown for failures whose detail must stay server-side.
func (h *Handler) handleServiceError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	kind := errx.KindOf(err)

	logAttrs := []any{
		"error", err.Error(),
		"error_kind", kind,
		"operation", errx.OpOf(err),
	}

	switch kind {
	case errx.NotFound:
		logger.InfoContext(ctx, "short link not found", logAttrs...)
		httpx.WriteError(w, http.StatusNotFound, "not_found", "short link doesn't exist or has expired", nil)
		return
	case errx.Invalid:
		logger.WarnContext(ctx, "invalid short link request", logAttrs...)
	case errx.Unavailable:
		logger.ErrorContext(ctx, "short link store unavailable", logAttrs...)
	default:
		logger.ErrorContext(ctx, "unexpected short link error", logAttrs...)
	}
	httpx.WriteKindError(w, err, message)
}
