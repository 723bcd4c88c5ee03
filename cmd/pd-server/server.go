package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/pdclinic/pdclinic/internal/config"
	"github.com/pdclinic/pdclinic/internal/domain/alert"
	"github.com/pdclinic/pdclinic/internal/domain/dashboard"
	"github.com/pdclinic/pdclinic/internal/domain/episode"
	"github.com/pdclinic/pdclinic/internal/domain/patient"
	"github.com/pdclinic/pdclinic/internal/domain/referral"
	"github.com/pdclinic/pdclinic/internal/domain/settings"
	"github.com/pdclinic/pdclinic/internal/domain/snapshot"
	"github.com/pdclinic/pdclinic/internal/platform/auth"
	"github.com/pdclinic/pdclinic/internal/platform/center"
	"github.com/pdclinic/pdclinic/internal/platform/db"
	"github.com/pdclinic/pdclinic/internal/platform/events"
	"github.com/pdclinic/pdclinic/internal/platform/metrics"
	"github.com/pdclinic/pdclinic/internal/platform/middleware"
	"github.com/pdclinic/pdclinic/internal/platform/store"
	"github.com/pdclinic/pdclinic/internal/platform/validate"
)

const version = "0.3.0"

// storeBackend is a DocumentStore whose reachability can be probed.
type storeBackend interface {
	store.DocumentStore
	db.Pinger
}

// openStore opens the backend selected by STORE_DRIVER. The returned
// function releases it.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storeBackend, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("connected to database")

		applied, err := db.NewMigrator(pool, db.DefaultMigrations()).Up(ctx)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		if applied > 0 {
			logger.Info().Int("count", applied).Msg("applied migrations")
		}
		return store.NewPostgresStore(pool), pool.Close, nil
	case config.StoreMemory:
		logger.Warn().Msg("using in-memory store; records are lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	default:
		fs, err := store.OpenFileStore(cfg.DataPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("path", fs.Path()).Msg("using file store")
		return fs, func() {}, nil
	}
}

// app holds the wired services. Writes in the patient, episode and snapshot
// services trigger an alert recomputation through the alert service.
type app struct {
	accounts  *auth.Accounts
	patients  *patient.Service
	episodes  *episode.Service
	alerts    *alert.Service
	referrals *referral.Service
	settings  *settings.Service
	dashboard *dashboard.Service
	snapshot  *snapshot.Service
}

func newApp(docs store.DocumentStore, m *metrics.Metrics, publisher events.Publisher, logger zerolog.Logger) *app {
	patientRepo := patient.NewStoreRepo(docs)
	episodeRepo := episode.NewEpisodeStoreRepo(docs)
	visitRepo := episode.NewVisitStoreRepo(docs)
	referralRepo := referral.NewStoreRepo(docs)

	alertSvc := alert.NewService(patientRepo, episodeRepo, visitRepo, logger)
	alertSvc.SetPublisher(publisher)

	patientSvc := patient.NewService(patientRepo)
	patientSvc.SetNotifier(alertSvc)

	episodeSvc := episode.NewService(episodeRepo, visitRepo, patientSvc)
	episodeSvc.SetNotifier(alertSvc)

	referralSvc := referral.NewService(referralRepo, episodeSvc, patientSvc, logger)
	referralSvc.SetPublisher(publisher)

	snapshotSvc := snapshot.NewService(patientRepo, episodeRepo, visitRepo, referralRepo)
	snapshotSvc.SetNotifier(alertSvc)

	if m != nil {
		alertSvc.SetGauge(m)
		referralSvc.SetGauge(m)
	}

	return &app{
		accounts:  auth.NewAccounts(docs),
		patients:  patientSvc,
		episodes:  episodeSvc,
		alerts:    alertSvc,
		referrals: referralSvc,
		settings:  settings.NewService(docs),
		dashboard: dashboard.NewService(patientRepo, episodeRepo, visitRepo, alertSvc),
		snapshot:  snapshotSvc,
	}
}

// newServer builds the echo instance: global middleware, authentication for
// the configured mode, center resolution and every route.
func newServer(cfg *config.Config, a *app, backend db.Pinger, m *metrics.Metrics, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, center.Header, "X-Dev-Role"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, "50M"))
	if m != nil {
		e.Use(m.Middleware())
	}

	// Auth middleware
	mode := cfg.ResolvedAuthMode()
	switch mode {
	case "development":
		e.Use(auth.DevAuthMiddleware())
	case "external":
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:      cfg.AuthIssuer,
			Audience:    cfg.AuthAudience,
			JWKSURL:     cfg.AuthJWKSURL,
			DefaultRole: auth.RoleDoctor,
			Skipper:     auth.AuthSkipper,
		}))
	default:
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     "pd-server",
			SigningKey: []byte(cfg.JWTSecret),
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Center middleware
	e.Use(center.Middleware(cfg.DefaultCenter, auth.AuthSkipper))

	// Rate limiting and audit on the clinical API
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api := e.Group("/api",
		middleware.RateLimit(rateLimitCfg),
		middleware.Audit(logger),
		middleware.RequestTimeout(cfg.RequestTimeout),
	)

	// Health checks
	health := func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	}
	e.GET("/health", health)
	api.GET("/health", health)
	e.GET("/health/db", db.HealthHandler(cfg.StoreDriver, backend))
	if m != nil {
		e.GET("/metrics", m.Handler())
	}

	// Accounts are served by this process except when an external identity
	// provider issues the tokens.
	if mode != "external" {
		issuer := auth.NewTokenIssuer([]byte(cfg.JWTSecret), "pd-server", cfg.TokenTTL)
		auth.NewHandler(a.accounts, issuer).RegisterRoutes(api)
	}

	patient.NewHandler(a.patients).RegisterRoutes(api)
	episode.NewHandler(a.episodes).RegisterRoutes(api)
	alert.NewHandler(a.alerts).RegisterRoutes(api)
	referral.NewHandler(a.referrals).RegisterRoutes(api)
	settings.NewHandler(a.settings).RegisterRoutes(api)
	dashboard.NewHandler(a.dashboard).RegisterRoutes(api)
	snapshot.NewHandler(a.snapshot).RegisterRoutes(api)

	return e
}

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docs, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
		return err
	}
	defer closeStore()

	publisher := events.New(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	defer publisher.Close()
	if len(cfg.KafkaBrokers) > 0 {
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing domain events")
	}

	m := metrics.New()
	a := newApp(docs, m, publisher, logger)
	e := newServer(cfg, a, docs, m, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
