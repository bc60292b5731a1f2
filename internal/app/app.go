package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/searchlink/hashgen"
	"github.com/sundayezeilo/searchlink/internal/auth"
	"github.com/sundayezeilo/searchlink/internal/config"
	"github.com/sundayezeilo/searchlink/internal/events"
	"github.com/sundayezeilo/searchlink/internal/idgen"
	"github.com/sundayezeilo/searchlink/internal/metrics"
	"github.com/sundayezeilo/searchlink/internal/migrations"
	"github.com/sundayezeilo/searchlink/internal/server"
	"github.com/sundayezeilo/searchlink/internal/shortlink"
	"github.com/sundayezeilo/searchlink/internal/shortlink/cachestore"
	"github.com/sundayezeilo/searchlink/internal/shortlink/filestore"
	"github.com/sundayezeilo/searchlink/internal/shortlink/pgstore"
	"github.com/sundayezeilo/searchlink/internal/shortlink/redisstore"
	"github.com/sundayezeilo/searchlink/internal/shortlink/sweeper"
	"github.com/sundayezeilo/searchlink/internal/trace"
)

// App holds the application dependencies and configuration.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	DBPool    *pgxpool.Pool
	Redis     *redis.Client
	Cache     *cachestore.Store
	Publisher events.Publisher
	Service   shortlink.Service
	Server    *server.Server
	Handler   *shortlink.Handler

	traceShutdown func(context.Context) error
	stopSweeper   context.CancelFunc
	sweeperDone   sync.WaitGroup
}

// New initializes and returns a new App instance with all dependencies wired up.
// On error every resource opened so far is released.
func New(ctx context.Context) (_ *App, err error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"version", cfg.Observability.ServiceVersion,
		"backend", cfg.Store.Backend,
	)

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Shutdown()
		}
	}()

	metrics.Init()

	if cfg.Observability.Enabled {
		a.traceShutdown, err = trace.Init(ctx, trace.Config{
			Endpoint:       cfg.Observability.OTelEndpoint,
			Insecure:       cfg.Observability.OTelInsecure,
			ServiceName:    cfg.Observability.ServiceName,
			ServiceVersion: cfg.Observability.ServiceVersion,
			SampleRate:     cfg.Observability.TracingSampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		logger.Info("tracing enabled", "endpoint", cfg.Observability.OTelEndpoint)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Enabled {
		a.Cache, err = cachestore.New(store, &cachestore.Config{
			MaxItems:      cfg.Cache.MaxItems,
			MaxCost:       cfg.Cache.MaxCost,
			TTL:           cfg.Cache.TTL,
			Bloom:         cfg.Cache.BloomEnabled,
			BloomExpected: cfg.Cache.BloomExpected,
			BloomFPRate:   cfg.Cache.BloomFPRate,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		if _, err := a.Cache.Warm(ctx); err != nil {
			return nil, fmt.Errorf("failed to warm cache: %w", err)
		}
		store = a.Cache
	}

	hasher, err := newHasher(cfg.Search.HashStrategy)
	if err != nil {
		return nil, fmt.Errorf("failed to create hash generator: %w", err)
	}

	a.Publisher = newPublisher(cfg.Events, logger)

	a.Service, err = shortlink.NewService(store, &shortlink.ServiceConfig{
		Hasher:    hasher,
		Publisher: a.Publisher,
		IDs:       idgen.NewV7(),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	a.Handler = shortlink.NewHandler(shortlink.HandlerConfig{
		Service:       a.Service,
		Logger:        logger,
		BaseURL:       cfg.Server.BaseURL,
		SearchBaseURL: cfg.Search.BaseURL,
		FallbackURL:   cfg.Search.FallbackURL,
	})

	opts := server.Options{}
	if p, ok := store.(shortlink.Pinger); ok {
		opts.Ready = p
	}
	if cfg.Auth.Enabled() {
		opts.Verifier, err = auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
		if err != nil {
			return nil, fmt.Errorf("failed to create token verifier: %w", err)
		}
		logger.Info("bearer auth enabled for deletes")
	}

	a.Server = server.New(cfg, logger, a.Handler, opts)

	logger.Info("application initialized",
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
	)

	return a, nil
}

// Start starts the sweeper and the server, and blocks until the server stops.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("server starting",
		"port", a.Config.Server.Port,
		"base_url", a.Config.Server.BaseURL,
	)

	if interval := a.Config.Store.SweepInterval; interval > 0 {
		sweepCtx, cancel := context.WithCancel(ctx)
		a.stopSweeper = cancel
		a.sweeperDone.Add(1)
		go func() {
			defer a.sweeperDone.Done()
			sweeper.New(a.Service, interval, a.Logger).Run(sweepCtx)
		}()
	}

	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	if a.stopSweeper != nil {
		a.stopSweeper()
		a.sweeperDone.Wait()
	}

	var errs []error

	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event publisher: %w", err))
		}
	}

	if a.Cache != nil {
		a.Cache.Close()
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis client: %w", err))
		}
		a.Logger.Info("redis connection closed")
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database connection closed")
	}

	if a.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.traceShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}

	return errors.Join(errs...)
}

// openStore builds the configured backend.
func (a *App) openStore(ctx context.Context) (shortlink.Store, error) {
	cfg := a.Config

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		if cfg.Database.Migrate {
			if err := migrations.Up(cfg.Database.MigrationURL(), a.Logger); err != nil {
				return nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		pool, err := connectDatabase(ctx, cfg, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DBPool = pool
		return pgstore.New(pool, &pgstore.Config{
			OpTimeout: cfg.Store.OpTimeout,
			Logger:    a.Logger,
		}), nil

	case config.BackendRedis:
		client, err := connectRedis(ctx, cfg, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Redis = client
		return redisstore.New(client, &redisstore.Config{
			KeyPrefix: cfg.Redis.KeyPrefix,
			OpTimeout: cfg.Store.OpTimeout,
			Logger:    a.Logger,
		}), nil

	default:
		a.Logger.Info("using file store", "path", cfg.Store.FilePath)
		return filestore.New(cfg.Store.FilePath, &filestore.Config{Logger: a.Logger}), nil
	}
}

func newHasher(strategy string) (hashgen.Generator, error) {
	if strategy == config.HashRandom {
		return hashgen.NewRandom(hashgen.DefaultRandomLength), nil
	}
	return hashgen.NewSqids(hashgen.DefaultMinLength)
}

func newPublisher(cfg config.EventsConfig, logger *slog.Logger) events.Publisher {
	if !cfg.KafkaEnabled {
		return events.NewLog(logger)
	}
	logger.Info("publishing events to kafka",
		"brokers", cfg.KafkaBrokers,
		"topic", cfg.KafkaTopic,
	)
	return events.NewKafka(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger), logger)
}

// loadEnv loads .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load(".env"); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// setupLogger creates a structured logger based on the log level.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// connectDatabase establishes a connection to the PostgreSQL database.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")

	return pool, nil
}

// connectRedis opens a client and checks it answers.
func connectRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  cfg.Store.OpTimeout,
		WriteTimeout: cfg.Store.OpTimeout,
	})

	logger.Info("connecting to redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("redis connection established")
	return client, nil
}
