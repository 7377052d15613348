package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedline/internal/cache"
	"feedline/internal/config"
	"feedline/internal/database"
	"feedline/internal/engine"
	"feedline/internal/engine/actors"
	"feedline/internal/events"
	"feedline/internal/handlers"
	"feedline/internal/middleware"
	"feedline/internal/utils"
	"feedline/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := utils.SetupLogger(cfg.Debug)
	if cfg.UsingDefaultSecret() {
		logger.Warn("JWT_SECRET not set, signing tokens with the development secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open %s database: %w", cfg.Database.Type, err)
	}
	defer db.Close(context.Background())
	logger.Info("database ready", "type", cfg.Database.Type)

	postCache, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer postCache.Close()
	if postCache.Enabled() {
		logger.Info("post cache enabled", "addr", cfg.Cache.RedisAddr, "ttl", cfg.Cache.TTL)
	}

	broker, err := events.Open(cfg.Events)
	if err != nil {
		return fmt.Errorf("connect event broker: %w", err)
	}
	defer broker.Close()

	// Live updates: every committed change reaches the hub through the
	// broker, including changes made by other instances or by feedctl.
	hub := websocket.NewHub()
	go hub.Run(ctx)
	unsubscribe, err := broker.Subscribe(hub.Deliver)
	if err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}
	defer unsubscribe()

	metrics := utils.NewMetricsCollector()
	deps := &actors.Deps{
		DB:           db,
		Cache:        postCache,
		Broker:       broker,
		Metrics:      metrics,
		PasswordCost: cfg.Auth.PasswordCost,
		StoreTimeout: cfg.Server.RequestTimeout,
	}
	eng := engine.NewEngine(engine.NewActorSystem(logger), deps, cfg.Server.RequestTimeout+time.Second)
	defer eng.Shutdown()

	server := handlers.NewServer(eng, db, metrics, hub, middleware.NewTokenIssuer(cfg.Auth))
	server.Logger = logger
	server.MetricsEnabled = cfg.Server.MetricsEnabled
	server.CORS = middleware.DefaultCORSConfig(cfg.AllowedOrigins)
	if cfg.RateLimit.RPS > 0 {
		server.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		go server.RateLimiter.RunSweeper(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}
