package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/telhawk-systems/tabula/common/logging"
	"github.com/telhawk-systems/tabula/common/messaging"
	natsclient "github.com/telhawk-systems/tabula/common/messaging/nats"
	"github.com/telhawk-systems/tabula/common/middleware"
	"github.com/telhawk-systems/tabula/internal/auth"
	"github.com/telhawk-systems/tabula/internal/config"
	"github.com/telhawk-systems/tabula/internal/convert"
	"github.com/telhawk-systems/tabula/internal/handlers"
	"github.com/telhawk-systems/tabula/internal/history"
	"github.com/telhawk-systems/tabula/internal/pipeline"
	"github.com/telhawk-systems/tabula/internal/ratelimit"
	"github.com/telhawk-systems/tabula/internal/server"
)

// app holds the wired service and the resources it must release.
type app struct {
	handler  http.Handler
	policies *ratelimit.PolicySet
	bus      messaging.Client
	closers  []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// newLogger builds the process logger from cfg.
func newLogger(cfg *config.Config) *logging.Logger {
	level := logging.LevelFor(cfg.Environment, cfg.Logging.Level)
	logger := logging.New(level, cfg.Logging.Format).With(logging.Service("tabula"))
	logging.SetDefault(logger)
	return logger
}

// buildApp wires every component described by cfg. On error, resources
// opened so far are released.
func buildApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	policyList, err := cfg.Policies()
	if err != nil {
		return nil, err
	}
	a.policies, err = ratelimit.NewPolicySet(policyList...)
	if err != nil {
		return nil, err
	}

	limiter, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, limiter.Close)

	verifier, err := newVerifier(cfg)
	if err != nil {
		return nil, err
	}

	repo, err := newRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { repo.Close(); return nil })

	recorderOpts := []history.RecorderOption{
		history.WithEnsureIdentity(cfg.History.EnsureIdentity),
		history.WithListLimit(cfg.History.ListLimit),
		history.WithTimeouts(cfg.Database.Timeouts),
	}
	a.bus, err = newBus(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.bus.Close)
	recorderOpts = append(recorderOpts, history.WithNotifier(history.NewBusNotifier(a.bus)))

	maxUpload, err := cfg.MaxUploadBytes()
	if err != nil {
		return nil, err
	}

	p := pipeline.New(
		limiter,
		a.policies,
		auth.NewGate(verifier),
		convert.NewEngine(convert.ExcelizeParser{}),
		history.NewRecorder(repo, logger, recorderOpts...),
		logger,
	)
	h := handlers.NewHandler(p, handlers.Config{
		MaxUploadBytes:  maxUpload,
		KeepAliveSecret: cfg.KeepAlive.Secret,
		Development:     cfg.IsDevelopment(),
		Timeouts:        cfg.Database.Timeouts,
	}, logger)

	cors := middleware.DefaultCORSConfig()
	if len(cfg.CORS.AllowedOrigins) > 0 {
		cors.AllowedOrigins = cfg.CORS.AllowedOrigins
	}
	a.handler = server.NewRouter(h, cors, logger)
	return a, nil
}

func newLimiter(ctx context.Context, cfg *config.Config, logger *logging.Logger) (ratelimit.Limiter, error) {
	if !cfg.RateLimit.Enabled {
		logger.Warn("rate limiting disabled")
		return ratelimit.NoOpLimiter{}, nil
	}
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		l, err := ratelimit.NewRedisLimiterFromURL(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect rate limiter to redis: %w", err)
		}
		logger.Info("rate limiter using redis")
		return l, nil
	default:
		return ratelimit.NewMemoryLimiter(
			ratelimit.WithSweepInterval(cfg.RateLimit.SweepInterval),
			ratelimit.WithLogger(logger.Logger),
		), nil
	}
}

func newVerifier(cfg *config.Config) (auth.Verifier, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeRemote:
		return auth.NewRemoteVerifier(auth.RemoteConfig{
			BaseURL:           cfg.Auth.ProviderURL,
			APIKey:            cfg.Auth.APIKey,
			Timeout:           cfg.Auth.Timeout,
			CacheTTL:          cfg.Auth.CacheTTL,
			RequestsPerSecond: cfg.Auth.RequestsPerSecond,
			Burst:             cfg.Auth.Burst,
		}), nil
	default:
		if cfg.Auth.JWTSecret == "" {
			return nil, errors.New("auth.jwt_secret is required in jwt mode (TABULA_AUTH_JWT_SECRET)")
		}
		var opts []auth.JWTOption
		if cfg.Auth.Audience != "" {
			opts = append(opts, auth.WithAudience(cfg.Auth.Audience))
		}
		if cfg.Auth.Issuer != "" {
			opts = append(opts, auth.WithIssuer(cfg.Auth.Issuer))
		}
		return auth.NewJWTVerifier(cfg.Auth.JWTSecret, opts...), nil
	}
}

func newRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) (history.Repository, error) {
	if cfg.History.Store == config.BackendMemory {
		logger.Warn("history store is in memory; records are lost on restart")
		return history.NewInMemoryRepository(), nil
	}

	dsn := cfg.PostgresDSN()
	if cfg.Database.AutoMigrate {
		if err := runMigrations(dsn, logger); err != nil {
			return nil, err
		}
	}

	pg := cfg.Database.Postgres
	pool := history.DefaultPoolConfig()
	if pg.MaxConns > 0 {
		pool.MaxConns = pg.MaxConns
	}
	if pg.MinConns > 0 {
		pool.MinConns = pg.MinConns
	}
	if pg.MaxConnLifetime > 0 {
		pool.MaxConnLifetime = pg.MaxConnLifetime
	}
	if pg.MaxConnIdleTime > 0 {
		pool.MaxConnIdleTime = pg.MaxConnIdleTime
	}
	pool.Timeouts = cfg.Database.Timeouts

	repo, err := history.NewPostgresRepository(ctx, dsn, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return repo, nil
}

func runMigrations(dsn string, logger *logging.Logger) error {
	logger.Info("running database migrations")
	m, err := history.NewMigrator(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("database migrations completed")
	return nil
}

// newBus connects to NATS when enabled. Without a broker, or when the
// connection fails, events stay in process and are logged at debug level.
func newBus(cfg *config.Config, logger *logging.Logger) (messaging.Client, error) {
	if cfg.NATS.Enabled {
		nc := natsclient.DefaultConfig()
		nc.URL = cfg.NATS.URL
		client, err := natsclient.NewClient(nc, logger.Logger)
		if err == nil {
			return client, nil
		}
		logger.Warn("history events stay in process: cannot connect to NATS", logging.Error(err))
	}

	bus := messaging.NewMemoryBus()
	if _, err := bus.Subscribe(messaging.SubjectAll, logEvent(logger)); err != nil {
		return nil, err
	}
	return bus, nil
}

func logEvent(logger *logging.Logger) messaging.MessageHandler {
	return func(ctx context.Context, msg *messaging.Message) error {
		logger.WithContext(ctx).Debug("history event",
			"subject", msg.Subject,
			logging.UserID(msg.Metadata["Owner-Id"]))
		return nil
	}
}
