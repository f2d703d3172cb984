package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tradewatch/alertd/internal/alert"
	"github.com/tradewatch/alertd/internal/cache"
	"github.com/tradewatch/alertd/internal/config"
	"github.com/tradewatch/alertd/internal/database"
	"github.com/tradewatch/alertd/internal/dispatch"
	"github.com/tradewatch/alertd/internal/feed"
	"github.com/tradewatch/alertd/internal/live"
	"github.com/tradewatch/alertd/internal/metrics"
	"github.com/tradewatch/alertd/internal/notify"
	"github.com/tradewatch/alertd/internal/subs"
	"github.com/tradewatch/alertd/internal/users"
	"github.com/tradewatch/alertd/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/alertd.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting alertd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"upstream_auth_url", cfg.Upstream.AuthURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to the durable store
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Connect to the shared cache
	cacheStore, err := cache.New(cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer cacheStore.Close()

	logger.Info("redis connected", "addr", cfg.Redis.Addr)

	// Durable stores
	alertStore := alert.NewStore(pool)
	userStore := users.NewStore(pool)

	// Notification pipeline
	var pusher notify.Pusher
	if cfg.Notify.PushGatewayURL != "" {
		pusher = notify.NewHTTPPusher(cfg.Notify.PushGatewayURL, logger)
	}
	notifier := notify.NewDispatcher(cfg.Redis, cfg.Notify, pusher, logger)
	defer notifier.Close()

	notifySrv := notify.NewServer(cfg.Redis, cfg.Notify,
		notify.NewSMTPSender(
			cfg.Notify.SMTP.Host,
			cfg.Notify.SMTP.Port,
			cfg.Notify.SMTP.From,
			cfg.Notify.SMTP.Username,
			cfg.Notify.SMTP.Password,
		),
		notify.NewTelegramSender(cfg.Notify.Telegram.APIURL, cfg.Notify.Telegram.BotToken),
		alertStore,
		logger,
	)

	// Alert cache and engine
	alertCache := alert.NewCache(alertStore, cfg.Engine.RefreshInterval, logger)
	hub := live.NewHub(logger)

	engine, err := alert.NewEngine(alertCache, alertStore, notifier, hub,
		cfg.Engine.DedupSize, cfg.Engine.BulkWriteTimeout, logger)
	if err != nil {
		logger.Error("failed to create alert engine", "error", err)
		os.Exit(1)
	}

	// Upstream feed and tick dispatch
	registry := subs.NewRegistry(cacheStore, logger)
	feedClient := feed.NewClient(cfg.Upstream, alertStore, registry, logger)

	dispatcher, err := dispatch.NewDispatcher(cacheStore, hub, engine, cfg.Dispatch,
		cfg.Engine.Workers, logger)
	if err != nil {
		logger.Error("failed to create dispatcher", "error", err)
		os.Exit(1)
	}

	manager := subs.NewManager(alertStore, cacheStore, feedClient,
		cfg.Subscriptions.ReconcileInterval, logger)

	liveSrv := live.NewServer(cfg.Live, hub, userStore, userStore, cacheStore,
		feedClient, dispatcher, logger)

	// Metrics and health endpoint
	metricsSrv := metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, []metrics.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "redis", Check: cacheStore.Ping},
		{Name: "feed", Check: func(context.Context) error {
			if s := feedClient.Status(); s == feed.StatusExhausted {
				return feed.ErrExhausted
			}
			return nil
		}},
	}, logger)
	metricsSrv.Start()

	// First refresh is synchronous; ticks are dropped until it completes.
	logger.Info("loading active alerts")
	if err := alertCache.Start(ctx); err != nil {
		logger.Error("failed to start alert cache", "error", err)
		os.Exit(1)
	}
	logger.Info("alert cache ready", "alerts", alertCache.Len())

	// Seed the persistent stock set before the first upstream connect so
	// the resubscribe-on-connect pass sees alert instruments.
	if err := manager.Reconcile(ctx); err != nil {
		logger.Error("initial subscription reconcile failed", "error", err)
	}
	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start subscription manager", "error", err)
		os.Exit(1)
	}

	if err := dispatcher.Start(ctx); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}

	if err := notifySrv.Start(); err != nil {
		logger.Error("failed to start notification workers", "error", err)
		os.Exit(1)
	}

	if err := feedClient.Start(ctx); err != nil {
		logger.Error("failed to start feed client", "error", err)
		os.Exit(1)
	}

	if err := liveSrv.Start(ctx); err != nil {
		logger.Error("failed to start live server", "error", err)
		os.Exit(1)
	}

	// Fan reconnect signals out to the live sessions, and refresh the alert
	// set after each gap in case external CRUD happened while disconnected.
	reconEvents := make(chan struct{}, 1)
	go liveSrv.WatchReconnects(ctx, reconEvents)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-feedClient.Reconnected():
				if !ok {
					return
				}
				alertCache.RefreshNow()
				select {
				case reconEvents <- struct{}{}:
				default:
				}
			}
		}
	}()

	// Pump upstream ticks into the dispatcher. The channel closes when the
	// client stops or exhausts its reconnect budget.
	ticksDone := make(chan struct{})
	go func() {
		defer close(ticksDone)
		for tick := range feedClient.Ticks() {
			dispatcher.HandleTick(tick)
		}
	}()

	logger.Info("alertd running",
		"instance_id", cfg.Instance.ID,
		"live_addr", cfg.Live.Addr,
		"health_url", fmt.Sprintf("http://localhost:%d/healthz", cfg.Metrics.Port),
	)

	select {
	case <-ctx.Done():
	case <-ticksDone:
		if feedClient.Status() == feed.StatusExhausted {
			logger.Error("upstream reconnect budget exhausted, shutting down")
		}
		cancel()
	}

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop intake first, then drain: live sessions, the upstream socket,
	// the tick buffer, and finally the background refreshers. Queued
	// notifications stay in Redis for the next start.
	if err := liveSrv.Stop(shutdownCtx); err != nil {
		logger.Error("live server shutdown failed", "error", err)
	}
	if err := feedClient.Stop(shutdownCtx); err != nil {
		logger.Error("feed client shutdown failed", "error", err)
	}
	<-ticksDone
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Error("dispatcher shutdown failed", "error", err)
	}
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error("subscription manager shutdown failed", "error", err)
	}
	if err := alertCache.Stop(shutdownCtx); err != nil {
		logger.Error("alert cache shutdown failed", "error", err)
	}
	notifySrv.Stop()
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}

	logger.Info("alertd stopped")
}
