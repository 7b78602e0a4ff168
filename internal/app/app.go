// Package app is the composition root: it builds Store → EventBus →
// Identity → BanEngine → VisitEngine in dependency order (RealtimeHub is
// built in api mode), passing collaborators in explicitly, and runs the
// selected mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/safeguard/internal/audit"
	"github.com/wisbric/safeguard/internal/auth"
	"github.com/wisbric/safeguard/internal/config"
	"github.com/wisbric/safeguard/internal/eventbus"
	"github.com/wisbric/safeguard/internal/httpserver"
	"github.com/wisbric/safeguard/internal/notification"
	"github.com/wisbric/safeguard/internal/platform"
	"github.com/wisbric/safeguard/internal/ratelimit"
	"github.com/wisbric/safeguard/internal/realtime"
	"github.com/wisbric/safeguard/internal/store"
	"github.com/wisbric/safeguard/internal/telemetry"
	"github.com/wisbric/safeguard/pkg/ban"
	"github.com/wisbric/safeguard/pkg/building"
	"github.com/wisbric/safeguard/pkg/identity"
	"github.com/wisbric/safeguard/pkg/visit"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting safeguard",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	// Database
	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL(), int32(cfg.DBPoolMax))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	// Redis
	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL(), cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	// Engines, leaves first.
	st := store.New(db)
	buildings := building.NewRepo(st)
	notifications := notification.NewRepo(st)
	bus := eventbus.New(notifications)

	idSvc := identity.NewService(st, buildings, identity.Config{
		PasswordHashCost:      cfg.PasswordHashCost,
		AccessTTL:             time.Duration(cfg.AccessTTLSeconds) * time.Second,
		RefreshTTL:            time.Duration(cfg.RefreshTTLSeconds) * time.Second,
		LoginLockoutThreshold: cfg.LoginLockoutThreshold,
		LoginLockoutWindow:    time.Duration(cfg.LoginLockoutWindowSeconds) * time.Second,
		LoginLockoutDuration:  time.Duration(cfg.LoginLockoutDuration) * time.Second,
	})

	banSvc := ban.NewService(st, ban.NewRepo(st), bus)
	visitSvc := visit.NewService(st, visit.NewRepo(st), banSvc,
		bus, time.Duration(cfg.VisitExpiryGraceSeconds)*time.Second)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, bus, idSvc, banSvc, visitSvc, buildings, notifications)
	case "worker":
		return runWorker(ctx, cfg, logger, visitSvc, notifications)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *pgxpool.Pool,
	rdb *redis.Client,
	bus *eventbus.Bus,
	idSvc *identity.Service,
	banSvc *ban.Service,
	visitSvc *visit.Service,
	buildings *building.Repo,
	notifications *notification.Repo,
) error {
	// Cross-instance event fan-out: replicas on other processes learn of
	// local publishes via Redis pub/sub.
	bridge := eventbus.NewRedisBridge(rdb, bus, logger)
	bus.AttachRemote(bridge)
	go bridge.Run(ctx)

	// Audit log writer (async, buffered).
	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	metricsReg := telemetry.NewRegistry()
	srv := httpserver.NewServer(httpserver.Config{
		CORSOrigins: cfg.CORSOrigins,
	}, logger, db, rdb, metricsReg)

	// Realtime hub: one duplex session per connected client.
	dispatcher := realtime.NewDispatcher(idSvc, visitSvc, banSvc, notifications)
	hub := realtime.NewHub(idSvc, bus, dispatcher, logger)
	srv.Router.Get("/realtime", hub.ServeHTTP)

	// General API rate limiter, keyed by client IP.
	limiter := ratelimit.New(rdb, cfg.RateLimitMaxRequests,
		time.Duration(cfg.RateLimitWindowSeconds)*time.Second)

	idHandler := identity.NewHandler(idSvc, auditWriter)
	visitHandler := visit.NewHandler(visitSvc, auditWriter)
	banHandler := ban.NewHandler(banSvc, auditWriter)
	buildingHandler := building.NewHandler(buildings, auditWriter)
	notifHandler := notification.NewHandler(notifications)

	srv.Router.Route("/api", func(r chi.Router) {
		r.Use(ratelimit.Middleware(limiter))
		r.Use(auth.Middleware(idSvc))

		// Public pre-authentication routes.
		r.Post("/auth/register", idHandler.HandleRegister)
		r.Post("/auth/login", idHandler.HandleLogin)
		r.Post("/auth/refresh", idHandler.HandleRefresh)

		// Everything else requires a verified bearer token.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)

			r.Post("/auth/logout", idHandler.HandleLogout)
			r.Get("/auth/profile", idHandler.HandleProfile)
			r.Post("/users/{id}/approve", idHandler.HandleApprove)

			r.Post("/visits", visitHandler.HandleCreate)
			r.Get("/visits", visitHandler.HandleList)
			r.Post("/visits/scan", visitHandler.HandleScan)
			r.Get("/visits/{id}", visitHandler.HandleGet)
			r.Patch("/visits/{id}", visitHandler.HandleUpdate)
			r.Delete("/visits/{id}", visitHandler.HandleCancel)

			r.Post("/bans", banHandler.HandleCreate)
			r.Get("/bans", banHandler.HandleList)
			r.Delete("/bans/{id}", banHandler.HandleUnban)
			r.Get("/bans/check/{phone}", banHandler.HandleCheck)

			r.Get("/notifications", notifHandler.HandleList)
			r.Post("/notifications/{id}/read", notifHandler.HandleMarkRead)

			r.With(auth.RequireRole(identity.RoleSuperAdmin)).Post("/buildings", buildingHandler.HandleCreate)
			r.With(auth.RequireRole(identity.RoleSuperAdmin)).Get("/buildings", buildingHandler.HandleList)
		})
	})

	// Sweepers run inside the api process as well; they are idempotent, so
	// running them here and in a dedicated worker is safe.
	go visit.NewSweeper(visitSvc, logger,
		time.Duration(cfg.ExpirySweepIntervalSeconds)*time.Second).Run(ctx)
	go notification.NewSweeper(notifications, logger,
		time.Hour, cfg.NotificationRetentionDays).Run(ctx)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, visitSvc *visit.Service, notifications *notification.Repo) error {
	logger.Info("worker started")

	go notification.NewSweeper(notifications, logger,
		time.Hour, cfg.NotificationRetentionDays).Run(ctx)

	visit.NewSweeper(visitSvc, logger,
		time.Duration(cfg.ExpirySweepIntervalSeconds)*time.Second).Run(ctx)
	return nil
}
