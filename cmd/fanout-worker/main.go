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

	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/eduardonaguiar/socialmedia/internal/fanout"
	"github.com/eduardonaguiar/socialmedia/internal/feedcache"
	"github.com/eduardonaguiar/socialmedia/internal/graph"
	"github.com/eduardonaguiar/socialmedia/internal/platform/kafka"
	"github.com/eduardonaguiar/socialmedia/internal/resilience"
	eventv1 "github.com/eduardonaguiar/socialmedia/pkg/event/v1"
)

func main() {
	configPath := flag.String("config", envOrDefault("FANOUT_CONFIG", ""), "Path to YAML config file")
	logLevelFlag := flag.String("log-level", envOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevelFlag),
	}))
	slog.SetDefault(logger)

	cfg, err := fanout.LoadConfig(*configPath)
	if err != nil {
		logger.Error("config error", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg fanout.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	admin, err := kafka.NewAdmin(cfg.Kafka.Brokers)
	if err != nil {
		return fmt.Errorf("kafka admin: %w", err)
	}
	defer admin.Close()
	if err := admin.WaitForTopic(ctx, eventv1.TopicPostCreated, 30*time.Second); err != nil {
		return fmt.Errorf("wait for topic: %w", err)
	}

	kafkaClient, err := kgo.NewClient(
		kgo.SeedBrokers(kafka.SplitBrokers(cfg.Kafka.Brokers)...),
		kgo.ConsumerGroup(cfg.Kafka.Group),
		kgo.ConsumeTopics(eventv1.TopicPostCreated),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}
	defer kafkaClient.Close()

	exec := resilience.NewExecutor(resilience.DefaultRetrySettings(), resilience.DefaultBreakerSettings(), logger)

	graphClient := graph.NewClient(graph.Config{
		BaseURL:          cfg.Graph.BaseURL,
		Timeout:          cfg.Graph.Timeout,
		FollowerPageSize: cfg.Graph.FollowerPageSize,
		FollowerMaxPages: cfg.Graph.FollowerMaxPages,
	}, exec)

	processor := fanout.NewProcessor(
		cfg,
		graphClient,
		fanout.NewDedupStore(redisClient, cfg.DedupTTL),
		feedcache.NewWriter(redisClient, exec, cfg.HotWindow),
		logger,
	)

	var lag *kafka.Admin
	if cfg.MaxLag > 0 {
		lag = admin
	}
	consumer := fanout.NewConsumer(cfg, kafkaClient, processor, lagProber(lag), logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("starting fan-out worker",
		"brokers", cfg.Kafka.Brokers,
		"group", cfg.Kafka.Group,
		"celebrity_threshold", cfg.CelebrityThreshold,
	)
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("consumer: %w", err)
	}
	return nil
}

// lagProber keeps a nil *kafka.Admin from becoming a non-nil interface.
func lagProber(admin *kafka.Admin) fanout.LagProber {
	if admin == nil {
		return nil
	}
	return admin
}

func parseLogLevel(level string) slog.Level {
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

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
