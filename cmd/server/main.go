// Realtime Connection & Protocol Engine Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ashureev/realtime-engine/internal/audit"
	"github.com/ashureev/realtime-engine/internal/authsession"
	"github.com/ashureev/realtime-engine/internal/config"
	"github.com/ashureev/realtime-engine/internal/memstore"
	"github.com/ashureev/realtime-engine/internal/realtime"
	"github.com/ashureev/realtime-engine/internal/rules/jsrules"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting server", "port", cfg.Port, "host", cfg.Host)

	var validator authsession.Validator
	if cfg.Auth.BuiltIn {
		identityStore, err := authsession.OpenIdentityStore(cfg.Auth.IdentityDB)
		if err != nil {
			slog.Error("Failed to open identity store", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := identityStore.Close(); closeErr != nil {
				slog.Error("Failed to close identity store", "error", closeErr)
			}
		}()

		if err := identityStore.Bootstrap(context.Background(), cfg.Auth.AdminSecret); err != nil {
			slog.Error("Failed to bootstrap identity store", "error", err)
			os.Exit(1)
		}
		validator = identityStore.Validator()
		slog.Info("Built-in identity store ready", "path", cfg.Auth.IdentityDB)
	}

	store := memstore.New()
	slog.Info("In-memory reference store initialized")

	var rulesEngine *jsrules.Engine
	if cfg.RulesEnabled {
		rulesEngine = jsrules.New()
		slog.Info("JS rule engine enabled")
	}

	auditTiers := make([]audit.Tier, 0, len(cfg.Audit.Tiers))
	for _, t := range cfg.Audit.Tiers {
		auditTiers = append(auditTiers, audit.Tier(t))
	}

	authRequired := cfg.Auth.Required
	realtimeCfg := realtime.Config{
		Store: store,
		Auth: &realtime.AuthConfig{
			Validate: validator,
			Required: &authRequired,
		},
		Heartbeat: realtime.HeartbeatConfig{
			IntervalMs: int(cfg.Heartbeat.Interval.Milliseconds()),
			TimeoutMs:  int(cfg.Heartbeat.Timeout.Milliseconds()),
		},
		Backpressure: realtime.BackpressureConfig{HighWaterMark: cfg.Backpressure},
		Audit: realtime.AuditConfig{
			Tiers:      auditTiers,
			MaxEntries: cfg.Audit.MaxEntries,
		},
		Admission: realtime.AdmissionConfig{
			PerSecond: cfg.Admission.PerSecond,
			Burst:     cfg.Admission.Burst,
		},
		Host:          cfg.Host,
		Port:          atoiOrZero(cfg.Port),
		GracePeriodMs: int(cfg.GracePeriod.Milliseconds()),
	}
	if rulesEngine != nil {
		realtimeCfg.Rules = rulesEngine
	}
	if cfg.RateLimit.Limit > 0 {
		realtimeCfg.RateLimit = &realtime.RateLimitConfig{
			Limit:    cfg.RateLimit.Limit,
			WindowMs: int(cfg.RateLimit.Window.Milliseconds()),
		}
	}

	supervisor, err := realtime.NewSupervisor(realtimeCfg)
	if err != nil {
		slog.Error("Failed to initialize supervisor", "error", err)
		os.Exit(1)
	}
	slog.Info("Connection supervisor initialized")

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Get("/ws", supervisor.ServeWS)

	srv := &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-lived websocket connections must not be write-timed-out
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced to shutdown", "error", err)
	}
	if err := supervisor.Stop(shutdownCtx); err != nil {
		slog.Error("Supervisor forced to shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
