package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/medsafar/supplychain/internal/config"
	"github.com/medsafar/supplychain/internal/domain/ledger"
	"github.com/medsafar/supplychain/internal/platform/auth"
	"github.com/medsafar/supplychain/internal/platform/db"
	"github.com/medsafar/supplychain/internal/platform/journal"
	"github.com/medsafar/supplychain/internal/platform/middleware"
	"github.com/medsafar/supplychain/internal/platform/telemetry"
	"github.com/medsafar/supplychain/internal/platform/webhook"
	"github.com/medsafar/supplychain/internal/platform/websocket"
	"github.com/medsafar/supplychain/migrations"
)

// server bundles the HTTP surface with the resources it owns.
type server struct {
	echo     *echo.Echo
	ledger   *ledger.Ledger
	hub      *websocket.Hub
	journal  *journal.Journal
	webhooks *webhook.Dispatcher
	pool     *pgxpool.Pool
	logger   zerolog.Logger
}

// newLogger builds the process logger. Development gets a console writer,
// everything else JSON lines.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func thresholds(cfg *config.Config) ledger.Thresholds {
	return ledger.Thresholds{
		Understock:    cfg.UnderstockLevel,
		Overstock:     cfg.OverstockLevel,
		ExpiryWarning: cfg.ExpiryWarning(),
	}
}

// openStore returns the ledger store selected by STORE_DRIVER. The pool is
// nil for the in-process store.
func openStore(ctx context.Context, cfg *config.Config, migrate bool, logger zerolog.Logger) (ledger.Store, *pgxpool.Pool, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.Warn().Msg("using in-process store, state is lost on restart")
		return ledger.NewMemStore(), nil, nil
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("connected to database")
		if migrate {
			n, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info().Int("applied", n).Msg("migrations applied")
		}
		return ledger.NewPGStore(pool), pool, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.BurstSize <= 0 {
		rl.BurstSize = middleware.DefaultRateLimitConfig().BurstSize
	}
	return rl
}

// buildServer wires the store, the event sinks and the HTTP routes.
func buildServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger, migrate bool) (*server, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Timeout()
	if err != nil {
		return nil, err
	}

	store, pool, err := openStore(ctx, cfg, migrate, logger)
	if err != nil {
		return nil, err
	}
	s := &server{pool: pool, logger: logger}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.New(reg)

	s.hub = websocket.NewHub(logger.With().Str("component", "stream").Logger())

	opts := []ledger.Option{
		ledger.WithLogger(logger.With().Str("component", "ledger").Logger()),
		ledger.WithObserver(metrics),
		ledger.WithPublisher(metrics),
		ledger.WithPublisher(s.hub),
	}

	// events stays a nil interface when no journal is configured.
	var events ledger.EventLister
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath, logger.With().Str("component", "journal").Logger())
		if err != nil {
			s.Close()
			return nil, err
		}
		s.journal = j
		events = j
		opts = append(opts, ledger.WithPublisher(j))
	}

	if len(cfg.WebhookURLs) > 0 {
		d, err := webhook.New(
			webhook.Endpoints(cfg.WebhookURLs, cfg.WebhookSecret, cfg.WebhookEvents),
			webhook.WithLogger(logger.With().Str("component", "webhook").Logger()),
		)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.webhooks = d
		opts = append(opts, ledger.WithPublisher(d))
		logger.Info().Int("endpoints", len(cfg.WebhookURLs)).Msg("webhook delivery enabled")
	}

	s.ledger = ledger.New(store, cfg.OwnerAccount, opts...)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(reg))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.AccountHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(timeout))

	var checks []db.Check
	if s.journal != nil {
		checks = append(checks, db.Check{Name: "journal", Probe: s.journal.Ping})
	}
	e.GET("/health", db.HealthHandler(cfg.StoreDriver, pool, checks...))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	apiV1 := e.Group("/api/v1")

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: key,
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development auth: callers are taken from the X-Account header")
		apiV1.Use(auth.DevAuthMiddleware(jwtCfg, cfg.OwnerAccount))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg)))
	apiV1.Use(middleware.Audit(logger))

	ledger.NewHandler(s.ledger, events, thresholds(cfg)).RegisterRoutes(apiV1)
	websocket.NewHandler(s.hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	s.echo = e
	return s, nil
}

// Close drains pending webhook deliveries, then releases the journal and
// the database pool. It is safe to call more than once.
func (s *server) Close() {
	if s.webhooks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.webhooks.Close(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("webhook deliveries abandoned")
		}
		cancel()
		s.webhooks = nil
	}
	if s.journal != nil {
		s.journal.Close()
		s.journal = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}
