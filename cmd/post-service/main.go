package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/eduardonaguiar/socialmedia/internal/outbox"
	"github.com/eduardonaguiar/socialmedia/internal/platform/kafka"
	"github.com/eduardonaguiar/socialmedia/internal/platform/nats"
	"github.com/eduardonaguiar/socialmedia/internal/platform/storage"
	"github.com/eduardonaguiar/socialmedia/internal/resilience"
)

type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	DBConnString string
	Brokers      string

	PollInterval time.Duration
	BatchSize    int
	LockTimeout  time.Duration

	NATSEnabled bool
	NATSURL     string
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.ListenAddr, "listen", envOrDefault("POST_LISTEN_ADDR", ":8080"), "HTTP listen address")
	flag.DurationVar(&cfg.ReadTimeout, "read-timeout", 10*time.Second, "HTTP read timeout")
	flag.DurationVar(&cfg.WriteTimeout, "write-timeout", 10*time.Second, "HTTP write timeout")
	flag.StringVar(&cfg.DBConnString, "db", envOrDefault("DATABASE_URL", ""), "PostgreSQL connection string")
	flag.StringVar(&cfg.Brokers, "brokers", envOrDefault("KAFKA_BROKERS", "localhost:9092"), "Comma-separated Kafka brokers")
	flag.DurationVar(&cfg.PollInterval, "outbox-poll-interval", time.Second, "Outbox poll interval")
	flag.IntVar(&cfg.BatchSize, "outbox-batch-size", envOrDefaultInt("OUTBOX_BATCH_SIZE", 100), "Outbox claim batch size")
	flag.DurationVar(&cfg.LockTimeout, "outbox-lock-timeout", 30*time.Second, "Outbox lock timeout")
	flag.BoolVar(&cfg.NATSEnabled, "nats-enabled", envOrDefaultBool("NATS_ENABLED", false), "Mirror published events to NATS JetStream")
	flag.StringVar(&cfg.NATSURL, "nats-url", envOrDefault("NATS_URL", "nats://localhost:4222"), "NATS server URL")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbCfg := storage.DefaultConfig()
	if cfg.DBConnString != "" {
		dbCfg.ConnString = cfg.DBConnString
	}
	db, err := storage.New(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	admin, err := kafka.NewAdmin(cfg.Brokers)
	if err != nil {
		return fmt.Errorf("kafka admin: %w", err)
	}
	if err := admin.EnsureTopics(ctx, kafka.DefaultTopicConfigs()); err != nil {
		admin.Close()
		return fmt.Errorf("ensure topics: %w", err)
	}
	admin.Close()

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(kafka.SplitBrokers(cfg.Brokers)...),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	defer producer.Close()

	exec := resilience.NewExecutor(resilience.DefaultRetrySettings(), resilience.DefaultBreakerSettings(), logger)
	posts := storage.NewPostRepository(db)
	outboxRepo := storage.NewOutboxRepository(db)

	publisher := outbox.NewPublisher(outbox.Config{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		LockTimeout:  cfg.LockTimeout,
	}, outboxRepo, producer, exec, logger)

	if cfg.NATSEnabled {
		natsCfg := nats.DefaultConfig()
		natsCfg.URL = cfg.NATSURL
		natsClient, err := nats.Connect(ctx, natsCfg)
		if err != nil {
			logger.Warn("NATS mirror disabled", "error", err)
		} else {
			defer natsClient.Close()
			if err := natsClient.EnsureStream(ctx, nats.DefaultPostEventsStreamConfig()); err != nil {
				logger.Warn("NATS stream setup failed, mirror disabled", "error", err)
			} else {
				publisher.SetMirror(natsClient, nats.SubjectPostCreated)
				logger.Info("NATS mirror enabled", "url", cfg.NATSURL)
			}
		}
	}

	go func() {
		if err := publisher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("outbox publisher stopped", "error", err)
		}
	}()

	backlog := outbox.NewBacklogGauge(outboxRepo, 10*time.Second, logger)
	go func() {
		if err := backlog.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("backlog gauge stopped", "error", err)
		}
	}()

	server := NewServer(posts, db, backlog, logger)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		cancel()

		// Flush buffered produce requests before exiting.
		if err := producer.Flush(shutdownCtx); err != nil {
			logger.Error("producer flush error", "error", err)
		}
	}()

	logger.Info("starting post service", "addr", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

func logLevel() slog.Level {
	switch envOrDefault("LOG_LEVEL", "info") {
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

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
