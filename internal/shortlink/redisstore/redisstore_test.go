package redisstore

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/sundayezeilo/searchlink/internal/errx"
	"github.com/sundayezeilo/searchlink/internal/shortlink"
)

/***************
 * Helpers
 ***************/

// unreachableClient points at a closed port and never retries.
func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	c := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
	return client
}

/***************
 * Unit Tests
 ***************/

func TestStore_Unreachable(t *testing.T) {
	s := New(unreachableClient(t), &Config{Logger: slog.New(slog.DiscardHandler)})
	ctx := context.Background()
	e := shortlink.Entry{Hash: "abc123", EncodedParams: "e30=", ExpiresAt: time.Now().Add(time.Hour)}

	tests := []struct {
		name string
		op   string
		call func() error
	}{
		{name: "put", op: "redisstore.Put", call: func() error { return s.Put(ctx, e) }},
		{name: "get", op: "redisstore.Get", call: func() error { _, err := s.Get(ctx, "abc123"); return err }},
		{name: "delete", op: "redisstore.Delete", call: func() error { return s.Delete(ctx, "abc123") }},
		{name: "ping", op: "redisstore.Ping", call: func() error { return s.Ping(ctx) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errx.Is(err, errx.Unavailable) {
				t.Fatalf("error = %v, want Unavailable", err)
			}
			if errx.OpOf(err) != tt.op {
				t.Errorf("op = %q, want %q", errx.OpOf(err), tt.op)
			}
		})
	}
}

func TestStore_PutExpiredEntry(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	s := New(unreachableClient(t), &Config{Now: func() time.Time { return now }})

	err := s.Put(context.Background(), shortlink.Entry{Hash: "abc123", EncodedParams: "e30=", ExpiresAt: now})
	if !errx.Is(err, errx.Invalid) {
		t.Fatalf("Put() = %v, want Invalid", err)
	}
}

func TestStore_PurgeIsNoop(t *testing.T) {
	s := New(unreachableClient(t), nil)

	n, err := s.Purge(context.Background(), time.Now())
	if err != nil || n != 0 {
		t.Fatalf("Purge() = %d, %v; want 0, nil", n, err)
	}
}

func TestStore_Key(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "shortlink:abc123"},
		{prefix: "staging:sl:", want: "staging:sl:abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			s := New(unreachableClient(t), &Config{KeyPrefix: tt.prefix})
			if got := s.key("abc123"); got != tt.want {
				t.Errorf("key() = %q, want %q", got, tt.want)
			}
		})
	}
}

/***************
 * Integration Tests
 ***************/

func TestStore_Redis(t *testing.T) {
	client := setupRedis(t)
	s := New(client, &Config{KeyPrefix: "test:", Logger: slog.New(slog.DiscardHandler)})
	ctx := context.Background()

	t.Run("round trip sets native expiry", func(t *testing.T) {
		exp := time.Now().Add(time.Hour).Truncate(time.Millisecond)
		if err := s.Put(ctx, shortlink.Entry{Hash: "abc123", EncodedParams: "eyJmcm9tIjoiU1lEIn0=", ExpiresAt: exp}); err != nil {
			t.Fatalf("Put() unexpected error: %v", err)
		}

		got, err := s.Get(ctx, "abc123")
		if err != nil {
			t.Fatalf("Get() unexpected error: %v", err)
		}
		if got.EncodedParams != "eyJmcm9tIjoiU1lEIn0=" || !got.ExpiresAt.Equal(exp) {
			t.Errorf("Get() = %+v", got)
		}

		ms, err := client.PExpireTime(ctx, "test:abc123").Result()
		if err != nil {
			t.Fatalf("PEXPIRETIME: %v", err)
		}
		if ms != time.Duration(exp.UnixMilli())*time.Millisecond {
			t.Errorf("key expires at %v, want %d ms", ms, exp.UnixMilli())
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		exp := time.Now().Add(2 * time.Hour)
		if err := s.Put(ctx, shortlink.Entry{Hash: "abc123", EncodedParams: "second", ExpiresAt: exp}); err != nil {
			t.Fatalf("Put() unexpected error: %v", err)
		}
		got, err := s.Get(ctx, "abc123")
		if err != nil || got.EncodedParams != "second" {
			t.Fatalf("Get() = %+v, %v", got, err)
		}
	})

	t.Run("key expires", func(t *testing.T) {
		if err := s.Put(ctx, shortlink.Entry{Hash: "brief", EncodedParams: "e30=", ExpiresAt: time.Now().Add(200 * time.Millisecond)}); err != nil {
			t.Fatalf("Put() unexpected error: %v", err)
		}
		time.Sleep(400 * time.Millisecond)

		if _, err := s.Get(ctx, "brief"); !errx.Is(err, errx.NotFound) {
			t.Fatalf("Get() = %v, want NotFound", err)
		}
		if err := s.Delete(ctx, "brief"); !errx.Is(err, errx.NotFound) {
			t.Fatalf("Delete() = %v, want NotFound", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.Delete(ctx, "abc123"); err != nil {
			t.Fatalf("Delete() unexpected error: %v", err)
		}
		if _, err := s.Get(ctx, "abc123"); !errx.Is(err, errx.NotFound) {
			t.Fatalf("Get() after delete = %v, want NotFound", err)
		}
		if err := s.Delete(ctx, "abc123"); !errx.Is(err, errx.NotFound) {
			t.Fatalf("second Delete() = %v, want NotFound", err)
		}
	})

	t.Run("garbage value is not found", func(t *testing.T) {
		if err := client.Set(ctx, "test:junk", "not json", time.Hour).Err(); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get(ctx, "junk"); !errx.Is(err, errx.NotFound) {
			t.Fatalf("Get() = %v, want NotFound", err)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("Ping() unexpected error: %v", err)
		}
	})
}
