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

	"github.com/redis/go-redis/v9"

	"github.com/eduardonaguiar/socialmedia/internal/feed"
	"github.com/eduardonaguiar/socialmedia/internal/feedcache"
	"github.com/eduardonaguiar/socialmedia/internal/graph"
	"github.com/eduardonaguiar/socialmedia/internal/resilience"
	"github.com/eduardonaguiar/socialmedia/internal/timeline"
)

type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GraphURL string
	PostsURL string
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.ListenAddr, "listen", envOrDefault("FEED_LISTEN_ADDR", ":8082"), "HTTP listen address")
	flag.DurationVar(&cfg.ReadTimeout, "read-timeout", 10*time.Second, "HTTP read timeout")
	flag.DurationVar(&cfg.WriteTimeout, "write-timeout", 10*time.Second, "HTTP write timeout")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", envOrDefault("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", envOrDefault("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", envOrDefaultInt("REDIS_DB", 0), "Redis database number")
	flag.StringVar(&cfg.GraphURL, "graph-url", envOrDefault("GRAPH_URL", "http://localhost:8081"), "Social graph service base URL")
	flag.StringVar(&cfg.PostsURL, "posts-url", envOrDefault("POSTS_URL", "http://localhost:8080"), "Post service base URL")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(envOrDefault("LOG_LEVEL", "info")),
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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	exec := resilience.NewExecutor(resilience.DefaultRetrySettings(), resilience.DefaultBreakerSettings(), logger)

	aggregator := feed.NewAggregator(
		feed.DefaultOptions(),
		feedcache.NewReader(redisClient, exec),
		graph.NewClient(graph.Config{BaseURL: cfg.GraphURL}, exec),
		timeline.NewClient(timeline.Config{BaseURL: cfg.PostsURL}, exec),
		logger,
	)

	server := NewServer(aggregator, redisClient, logger)
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
	}()

	logger.Info("starting feed service", "addr", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
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

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
