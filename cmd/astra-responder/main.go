// Package main is the entry point for the responder service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"astra-responder/internal/api"
	"astra-responder/internal/blockstore"
	"astra-responder/internal/catalog"
	"astra-responder/internal/config"
	"astra-responder/internal/engine"
	"astra-responder/internal/executor"
	"astra-responder/internal/firewall"
	"astra-responder/internal/history"
	"astra-responder/internal/ingest"
	"astra-responder/internal/notify"
	"astra-responder/internal/pending"
	"astra-responder/internal/policy"
	"astra-responder/internal/schema"
)

func main() {
	// Setup structured logging
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_enabled", cfg.Auth.Enabled,
		"redis_enabled", cfg.Blocks.RedisEnabled,
		"clickhouse_enabled", cfg.History.ClickHouseEnabled,
		"kafka_enabled", cfg.Kafka.Enabled,
		"dtls_enabled", cfg.DTLS.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Policy table and attack pattern catalog
	registry, err := policy.NewRegistry()
	if err != nil {
		slog.Error("failed to build default policy", "error", err)
		os.Exit(1)
	}
	if cfg.Policy.PolicyFile != "" {
		if err := policy.ApplyFile(registry, cfg.Policy.PolicyFile); err != nil {
			slog.Error("failed to load policy file", "path", cfg.Policy.PolicyFile, "error", err)
			os.Exit(1)
		}
		slog.Info("policy file applied", "path", cfg.Policy.PolicyFile)
	}

	patterns := catalog.New()
	if cfg.Policy.PatternsFile != "" {
		if err := patterns.LoadFile(cfg.Policy.PatternsFile); err != nil {
			slog.Error("failed to load patterns file", "path", cfg.Policy.PatternsFile, "error", err)
			os.Exit(1)
		}
	}

	// Action history with optional durable sink and archive
	hist := history.NewLog(cfg.History.Capacity, logger)

	var chClient *history.ClickHouseClient
	var batchWriter *history.BatchWriter
	if cfg.History.ClickHouseEnabled {
		slog.Info("initializing ClickHouse history",
			"hosts", cfg.History.ClickHouse.Hosts,
			"database", cfg.History.ClickHouse.Database,
		)
		chClient, err = history.NewClickHouseClient(cfg.History.ClickHouse)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		if err := chClient.Migrate(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		batchWriter = history.NewBatchWriter(chClient, cfg.History.BatchWriter, logger)
		hist.WithSink(batchWriter)
	}

	var archiver *history.Archiver
	if cfg.History.Archive.Enabled {
		archiver, err = history.NewArchiver(ctx, cfg.History.Archive, hist, logger)
		if err != nil {
			slog.Error("failed to initialize archive", "error", err)
			os.Exit(1)
		}
		archiver.Start(ctx)
	}

	// Block store. The expiry handler is bound after the executor exists.
	var onExpiry blockstore.ExpiryHandler
	storeOpts := []blockstore.Option{
		blockstore.WithExpiryHandler(func(block blockstore.ActiveBlock) {
			if onExpiry != nil {
				onExpiry(block)
			}
		}),
	}

	var persister *blockstore.RedisPersister
	if cfg.Blocks.RedisEnabled {
		persister, err = blockstore.NewRedisPersister(cfg.Blocks.Redis)
		if err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		storeOpts = append(storeOpts, blockstore.WithPersister(persister))
	}

	blocks := blockstore.New(logger, storeOpts...)
	if persister != nil {
		recovered, err := blocks.Recover(ctx)
		if err != nil {
			slog.Error("block recovery failed", "error", err)
			os.Exit(1)
		}
		slog.Info("recovered active blocks", "count", recovered)
	}

	// Enforcement backend
	fw, err := firewall.NewManager(cfg.Firewall, logger)
	if err != nil {
		slog.Error("no usable firewall backend", "error", err)
		os.Exit(1)
	}

	// Notification channels
	notifier := notify.NewNotifier(logger)
	registerChannels(notifier, cfg.Notify, logger)

	exec := executor.New(cfg.Executor, fw, blocks, notifier, logger)
	onExpiry = engine.BlockExpiryHandler(exec, hist, logger)

	queue := pending.NewQueue(cfg.Pending, exec, hist, logger)
	queue.StartSweeper(ctx)

	blocks.StartSweeper(ctx, cfg.Blocks.SweepInterval)

	validator := schema.NewValidatorWithConfig(cfg.Validation)
	eng := engine.New(registry, exec, queue, blocks, hist, validator, logger)

	// HTTP surface
	mux := http.NewServeMux()
	apiServer := api.New(eng, registry, queue, blocks, hist, patterns, logger)
	apiServer.RegisterRoutes(mux)

	var limiter *api.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = api.NewRateLimiter(cfg.RateLimit, logger)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      api.WithMiddleware(mux, cfg.Auth, limiter, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Alert sources
	var consumer *ingest.KafkaConsumer
	if cfg.Kafka.Enabled {
		consumer, err = ingest.NewKafkaConsumer(cfg.Kafka, eng, logger)
		if err != nil {
			slog.Error("failed to create Kafka consumer", "error", err)
			os.Exit(1)
		}
		consumer.Start()
	}

	var listener *ingest.DTLSListener
	if cfg.DTLS.Enabled {
		listener, err = ingest.NewDTLSListener(cfg.DTLS, eng, logger)
		if err != nil {
			slog.Error("failed to create DTLS listener", "error", err)
			os.Exit(1)
		}
		if err := listener.Start(ctx); err != nil {
			slog.Error("failed to start DTLS listener", "error", err)
			os.Exit(1)
		}
	}

	go func() {
		slog.Info("starting responder API", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop taking new alerts first so in-flight ones can finish.
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			slog.Error("kafka consumer stop error", "error", err)
		}
	}
	if listener != nil {
		listener.Stop()
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	queue.StopSweeper()
	blocks.StopSweeper()
	if limiter != nil {
		limiter.Stop()
	}
	cancel()

	if archiver != nil {
		archiver.Stop()
	}
	if batchWriter != nil {
		if err := batchWriter.Close(); err != nil {
			slog.Error("batch writer close error", "error", err)
		}
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}
	if persister != nil {
		if err := persister.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}

	slog.Info("shutdown complete",
		"active_blocks", len(blocks.List()),
		"history_entries", hist.Len(),
	)
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// registerChannels builds notification channels from config. With nothing
// configured, admin notifications land in the service log.
func registerChannels(notifier *notify.Notifier, cfg config.NotifyConfig, logger *slog.Logger) {
	registered := 0

	for _, wh := range cfg.Webhooks {
		if wh.URL == "" {
			continue
		}
		notifier.AddChannel(notify.NewWebhookChannel(wh.Name, wh.URL, wh.Headers))
		registered++
	}
	if cfg.Slack.WebhookURL != "" {
		notifier.AddChannel(notify.NewSlackChannel(cfg.Slack.WebhookURL, cfg.Slack.Channel, cfg.Slack.Username))
		registered++
	}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		notifier.AddChannel(notify.NewTelegramChannel(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
		registered++
	}

	if registered == 0 || cfg.LogOnly {
		notifier.AddChannel(notify.NewLogChannel(func(format string, args ...interface{}) {
			logger.Info(fmt.Sprintf(format, args...))
		}))
	}

	slog.Info("notification channels registered", "count", len(notifier.Channels()))
}
