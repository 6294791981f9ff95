package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/notifyhub/stock-alerts/internal/api"
	"github.com/notifyhub/stock-alerts/internal/config"
	"github.com/notifyhub/stock-alerts/internal/db"
	"github.com/notifyhub/stock-alerts/internal/domain"
	"github.com/notifyhub/stock-alerts/internal/ledger"
	"github.com/notifyhub/stock-alerts/internal/metrics"
	"github.com/notifyhub/stock-alerts/internal/policy"
	"github.com/notifyhub/stock-alerts/internal/provider"
	"github.com/notifyhub/stock-alerts/internal/ratelimiter"
	"github.com/notifyhub/stock-alerts/internal/repository"
	"github.com/notifyhub/stock-alerts/internal/service"
	"github.com/notifyhub/stock-alerts/internal/settings"
	"github.com/notifyhub/stock-alerts/internal/worker"
	"github.com/notifyhub/stock-alerts/pkg/logger"
)

func main() {
	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		bootLogger, _ := zap.NewProduction()
		bootLogger.Fatal("failed to load config", zap.Error(err))
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("invalid timezone", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}
	log.Info("database migrations applied")

	store := repository.NewPgStore(pool)

	// Context for all background goroutines; cancelled on shutdown signal.
	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()

	// ---- notification settings ----
	settingsSvc := settings.New(store.Settings(), cfg.DefaultNotificationSettings(), logger.Named(log, "settings"))
	if err := settingsSvc.Load(ctx); err != nil {
		log.Fatal("failed to load notification settings", zap.Error(err))
	}
	if cfg.SettingsFile != "" {
		if err := settingsSvc.ApplyFile(ctx, cfg.SettingsFile); err != nil {
			log.Fatal("failed to apply settings file", zap.String("path", cfg.SettingsFile), zap.Error(err))
		}
		go func() {
			if err := settingsSvc.Watch(bgCtx, cfg.SettingsFile); err != nil {
				log.Error("settings file watcher stopped", zap.Error(err))
			}
		}()
	}

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	telegram := provider.NewTelegramChannel(provider.TelegramConfig{
		BaseURL:     cfg.TelegramBaseURL,
		Timeout:     cfg.ChannelTimeout,
		MaxAttempts: cfg.ChannelMaxAttempts,
		BaseDelay:   cfg.ChannelBaseDelay,
	}, logger.Named(log, "telegram"))

	dispatcher := service.NewDispatcher(
		store,
		policy.New(settingsSvc, store.Notifications(), loc),
		settingsSvc,
		map[domain.Channel]provider.Channel{domain.ChannelTelegram: telegram},
		ratelimiter.New(cfg.ChannelRateLimit),
		cfg.RetryMaxAttempts,
		logger.Named(log, "dispatcher"),
	)
	dispatcher.SetHooks(m.DispatcherHooks())

	stock := service.NewStockService(store, ledger.New(store), dispatcher, logger.Named(log, "stock"))

	// ---- retry worker ----
	retryW := worker.NewRetryWorker(store.Notifications(), dispatcher, worker.Config{
		Interval:      cfg.RetryInterval,
		BatchSize:     cfg.RetryBatchSize,
		MaxAttempts:   cfg.RetryMaxAttempts,
		FallbackDelay: cfg.RetryFallbackDelay,
	}, logger.Named(log, "retry_worker"))
	retryW.SetHooks(m.WorkerHooks())
	if err := retryW.Start(bgCtx); err != nil {
		log.Fatal("failed to start retry worker", zap.Error(err))
	}

	// ---- HTTP server ----
	router := api.NewRouter(api.Deps{
		Stock:         stock,
		Dispatcher:    dispatcher,
		Notifications: store.Notifications(),
		Settings:      settingsSvc,
		DB:            pool,
		Gatherer:      reg,
		Logger:        logger.Named(log, "http"),
	})
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr), zap.String("timezone", loc.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	// 1. Stop accepting new HTTP requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the retry scans and the settings watcher; wait for a running scan.
	retryW.Stop(shutdownCtx)
	cancelBackground()

	log.Info("server stopped cleanly")
}
