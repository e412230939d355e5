package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/erazemk/scanfleet/internal/api"
	"github.com/erazemk/scanfleet/internal/clock"
	"github.com/erazemk/scanfleet/internal/command"
	"github.com/erazemk/scanfleet/internal/config"
	"github.com/erazemk/scanfleet/internal/lease"
	"github.com/erazemk/scanfleet/internal/metrics"
	"github.com/erazemk/scanfleet/internal/reclaim"
	"github.com/erazemk/scanfleet/internal/session"
	"github.com/erazemk/scanfleet/internal/store"
	"github.com/erazemk/scanfleet/internal/ws"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control channel, scanner API and background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	level, _ := config.ParseLevel(cfg.LogLevel)
	closeLog, err := setupLogger(level, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	d, err := a.openDB()
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return err
	}
	defer d.Close()
	slog.Info("database ready", "driver", cfg.DBDriver)

	jwtSecret, err := store.GetJWTSecret(ctx, d)
	if err != nil {
		slog.Error("failed to get JWT secret", "error", err)
		return err
	}
	if cfg.WSPassword == "" {
		slog.Warn("ws.password is not set; listeners must use scanner user credentials and overseers cannot connect")
	}

	clk := clock.Real()
	m := metrics.New()
	registry := session.NewRegistry(m)
	correlator := command.NewCorrelator(registry, cfg.CommandTimeout, m)
	leases := lease.NewManager(d, clk, lease.Config{
		DefaultBatch:   cfg.DefaultBatch,
		MaxBatch:       cfg.MaxBatch,
		TraderCooldown: cfg.TraderCooldown,
	}, m)
	sweeper := reclaim.NewSweeper(reclaim.DBStore{DB: d}, clk, cfg.ReclaimInterval, cfg.ReclaimCutoff, m)
	monitor := session.NewMonitor(registry, clk, cfg.HeartbeatInterval, m)

	control := &ws.Server{
		DB:         d,
		Registry:   registry,
		Correlator: correlator,
		Clock:      clk,
		Metrics:    m,
		Config: ws.Config{
			SharedSecret:  cfg.WSPassword,
			WriteTimeout:  cfg.WSWriteTimeout,
			StatusTimeout: cfg.StatusTimeout,
		},
	}

	router := api.NewRouter(api.Deps{
		DB:         d,
		JWTSecret:  jwtSecret,
		Clock:      clk,
		Registry:   registry,
		Correlator: correlator,
		Leases:     leases,
		Sweeper:    sweeper,
		Metrics:    m,
		Limiter:    api.NewUserLimiter(cfg.RatePerMinute),
		Control:    control,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.LoggingMiddleware(router),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Hijacked websocket connections outlive Shutdown unless closed here.
	server.RegisterOnShutdown(func() {
		registry.ForEachOpen(nil, func(s *session.Session) {
			s.Close("server shutting down")
		})
	})

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		stop()
		wg.Wait()
		return err
	}

	wg.Wait()
	slog.Info("server stopped, closing database")
	return nil
}
