package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sundayezeilo/searchlink/internal/auth"
	"github.com/sundayezeilo/searchlink/internal/config"
	"github.com/sundayezeilo/searchlink/internal/errx"
	"github.com/sundayezeilo/searchlink/internal/metrics"
	"github.com/sundayezeilo/searchlink/internal/shortlink"
)

/***************
 * Mocks
 ***************/

type mockPinger struct {
	err error
}

func (m mockPinger) Ping(ctx context.Context) error { return m.err }

// memStore is a minimal shortlink.Store for routing tests.
type memStore struct {
	entries map[string]shortlink.Entry
}

func (m *memStore) Put(ctx context.Context, e shortlink.Entry) error {
	m.entries[e.Hash] = e
	return nil
}

func (m *memStore) Get(ctx context.Context, hash string) (shortlink.Entry, error) {
	e, ok := m.entries[hash]
	if !ok {
		return shortlink.Entry{}, errx.Errorf("mem.Get", errx.NotFound, "no entry")
	}
	return e, nil
}

func (m *memStore) Delete(ctx context.Context, hash string) error {
	if _, ok := m.entries[hash]; !ok {
		return errx.Errorf("mem.Delete", errx.NotFound, "no entry")
	}
	delete(m.entries, hash)
	return nil
}

func (m *memStore) Purge(ctx context.Context, now time.Time) (int, error) { return 0, nil }

/***************
 * Helpers
 ***************/

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            "8080",
			Host:            "localhost",
			BaseURL:         "http://localhost:8080",
			ShutdownTimeout: time.Second,
		},
		Store: config.StoreConfig{Backend: config.BackendFile},
		App:   config.AppConfig{Environment: "test", LogLevel: "error"},
		Observability: config.ObservabilityConfig{
			ServiceName:    "searchlink-test",
			ServiceVersion: "test",
		},
	}
}

func newTestServer(t *testing.T, opts Options) http.Handler {
	t.Helper()
	metrics.Init()
	logger := slog.New(slog.DiscardHandler)

	svc, err := shortlink.NewService(&memStore{entries: map[string]shortlink.Entry{}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	h := shortlink.NewHandler(shortlink.HandlerConfig{
		Service:       svc,
		Logger:        logger,
		BaseURL:       "http://localhost:8080",
		SearchBaseURL: "https://book.example.com/search",
		FallbackURL:   "https://book.example.com/",
	})
	return New(testConfig(), logger, h, opts).Handler()
}

func serve(h http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

/***************
 * Tests
 ***************/

func TestServer_Health(t *testing.T) {
	rr := serve(newTestServer(t, Options{}), http.MethodGet, "/x/health", "", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"service":"searchlink-test"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("request ID middleware not applied")
	}
}

func TestServer_Ready(t *testing.T) {
	tests := []struct {
		name       string
		ready      shortlink.Pinger
		wantStatus int
	}{
		{name: "no pinger", wantStatus: http.StatusOK},
		{name: "store answers", ready: mockPinger{}, wantStatus: http.StatusOK},
		{
			name:       "store down",
			ready:      mockPinger{err: errx.E("filestore.Ping", errx.Unavailable, errors.New("no such directory"))},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(newTestServer(t, Options{Ready: tt.ready}), http.MethodGet, "/x/ready", "", nil)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	h := newTestServer(t, Options{})
	serve(h, http.MethodGet, "/s/unknown", "", nil)

	rr := serve(h, http.MethodGet, "/x/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `route="GET /s/{hash}"`) {
		t.Error("metrics do not label requests by route pattern")
	}
}

func TestServer_Routes(t *testing.T) {
	h := newTestServer(t, Options{})
	json := http.Header{"Content-Type": {"application/json"}}

	rr := serve(h, http.MethodPost, "/api/shortlinks", `{"hash":"abc123","encodedParams":"e30="}`, json)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}

	if rr := serve(h, http.MethodGet, "/api/shortlinks/abc123", "", nil); rr.Code != http.StatusOK {
		t.Errorf("get status = %d", rr.Code)
	}
	if rr := serve(h, http.MethodPut, "/api/shortlinks/abc123", "", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("put status = %d, want 405", rr.Code)
	}
	if rr := serve(h, http.MethodDelete, "/api/shortlinks/abc123", "", nil); rr.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rr.Code)
	}
	if rr := serve(h, http.MethodGet, "/api/shortlinks/abc123", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rr.Code)
	}
}

func TestServer_DeleteRequiresTokenWhenConfigured(t *testing.T) {
	verifier, err := auth.NewVerifier(testSecret, "")
	if err != nil {
		t.Fatal(err)
	}
	signer, err := auth.NewSigner(testSecret, "", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	token, err := signer.Sign(auth.Identity{Subject: "ops"})
	if err != nil {
		t.Fatal(err)
	}

	h := newTestServer(t, Options{Verifier: verifier})
	json := http.Header{"Content-Type": {"application/json"}}
	if rr := serve(h, http.MethodPost, "/api/shortlinks", `{"hash":"abc123","encodedParams":"e30="}`, json); rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rr.Code)
	}

	if rr := serve(h, http.MethodDelete, "/api/shortlinks/abc123", "", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("delete without token = %d, want 401", rr.Code)
	}

	bearer := http.Header{"Authorization": {"Bearer " + token}}
	if rr := serve(h, http.MethodDelete, "/api/shortlinks/abc123", "", bearer); rr.Code != http.StatusNoContent {
		t.Errorf("delete with token = %d, want 204", rr.Code)
	}
}
