// Command api starts the PropelAI HTTP service.
//
// It loads configuration, opens the selected store backend, builds the
// generation pipeline around the Gemini client, and serves the browser
// extension and dashboard endpoints. Generation events go to Kafka when
// enabled. Graceful shutdown is triggered by SIGINT/SIGTERM.
//
// Usage:
//
//	go run ./cmd/api [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/propelai/propelai-backend/internal/api/handler"
	apimw "github.com/propelai/propelai-backend/internal/api/middleware"
	"github.com/propelai/propelai-backend/internal/api/router"
	"github.com/propelai/propelai-backend/internal/auth"
	"github.com/propelai/propelai-backend/internal/auth/ratelimit"
	"github.com/propelai/propelai-backend/internal/events"
	"github.com/propelai/propelai-backend/internal/generation"
	"github.com/propelai/propelai-backend/internal/generative"
	"github.com/propelai/propelai-backend/internal/pipeline"
	"github.com/propelai/propelai-backend/internal/store/backend"
	"github.com/propelai/propelai-backend/pkg/config"
	"github.com/propelai/propelai-backend/pkg/health"
	"github.com/propelai/propelai-backend/pkg/kafka"
	"github.com/propelai/propelai-backend/pkg/logger"
	"github.com/propelai/propelai-backend/pkg/metrics"
	pkgredis "github.com/propelai/propelai-backend/pkg/redis"
	"github.com/propelai/propelai-backend/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting propelai api",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"model", cfg.Gemini.Model,
		"kafka", cfg.Kafka.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("api stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("api stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				slog.Warn("close failed", "error", err)
			}
		}
	}()

	// Redis is shared by the document store and the distributed limiter. The
	// redis document store owns the client when selected.
	var rdb *pkgredis.Client
	if cfg.Store.Backend == config.BackendRedis || cfg.RateLimit.Backend == config.BackendRedis {
		c, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		if cfg.Store.Backend != config.BackendRedis {
			closers = append(closers, c)
		}
		rdb = c
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	st, err := backend.Open(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	closers = append(closers, st)

	// Metrics.
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
		shutdownMetrics := m.StartServer(cfg.Metrics.Port)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			shutdownMetrics(sctx)
		}()
	}

	// Generative client → resilience → pipeline.
	gemini, err := generative.NewGemini(ctx, cfg.Gemini, nil)
	if err != nil {
		return fmt.Errorf("creating gemini client: %w", err)
	}
	var opts []generative.ResilienceOption
	if m != nil {
		gauge := m.CircuitBreakerState.WithLabelValues("gemini")
		opts = append(opts, generative.OnBreakerChange(func(s resilience.State) { gauge.Set(float64(s)) }))
	}
	gen := generative.WithResilience(gemini, cfg.Gemini.Retry, cfg.Gemini.Timeout, opts...)
	pl, err := pipeline.New(cfg.Pipeline, gen)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	checker := health.NewChecker()
	checker.Register("store", health.PingCheck(st))

	g, gctx := errgroup.WithContext(ctx)

	// Events.
	var publisher events.Publisher = events.Noop{}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IdeaEvents)
		closers = append(closers, producer)
		collector := events.NewCollector(producer, cfg.Kafka.BufferSize, 50, time.Second).WithMetrics(m)
		// Close flushes after g.Wait, once in-flight requests have tracked
		// their events.
		collector.Start(context.Background())
		closers = append(closers, closerFunc(collector.Close))
		publisher = collector
		checker.Register("kafka", health.OptionalCheck(health.PingCheck(producer)))
		slog.Info("publishing generation events", "topic", producer.Topic())
	}

	// Auth + rate limiting.
	accounts, err := auth.NewService(st, cfg.Auth, cfg.Credits.AccountCredits)
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}
	limiter, clientLimiter := newLimiters(cfg, rdb)
	if b, ok := limiter.(*ratelimit.Bucket); ok {
		closers = append(closers, closerFunc(b.Close))
	}

	svcOpts := []generation.Option{generation.WithEvents(publisher)}
	if m != nil {
		svcOpts = append(svcOpts, generation.WithMetrics(m))
	}
	svc := generation.NewService(st, pl, cfg.Pipeline, cfg.Credits, svcOpts...)

	chain := router.New(router.Deps{
		Handler:         handler.New(svc, accounts, st, clientLimiter),
		Auth:            accounts,
		Limiter:         limiter,
		Health:          checker,
		Metrics:         m,
		CORS:            apimw.DefaultCORSConfig(cfg.Server.AllowOrigins...),
		GenerateTimeout: cfg.Server.GenerateTimeout,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		slog.Info("api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	return g.Wait()
}

// closerFunc adapts a func() to io.Closer.
type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// newLimiters returns the per-caller limiter and the per-client-id limiter
// used by /generate.
func newLimiters(cfg *config.Config, rdb *pkgredis.Client) (caller, client ratelimit.Limiter) {
	rpm := cfg.RateLimit.RequestsPerMinute
	if cfg.RateLimit.Backend == config.BackendRedis {
		r := ratelimit.NewRedis(rdb, rpm, time.Minute)
		return r, r
	}
	b := ratelimit.New(rpm, time.Minute)
	return b, b
}
