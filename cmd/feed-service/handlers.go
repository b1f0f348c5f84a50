package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eduardonaguiar/socialmedia/internal/feed"
	"github.com/eduardonaguiar/socialmedia/internal/resilience"
)

// Server holds feed service HTTP dependencies.
type Server struct {
	aggregator *feed.Aggregator
	redis      *redis.Client
	logger     *slog.Logger
}

func NewServer(aggregator *feed.Aggregator, redisClient *redis.Client, logger *slog.Logger) *Server {
	return &Server{
		aggregator: aggregator,
		redis:      redisClient,
		logger:     logger.With("component", "feed-api"),
	}
}

// Router returns the HTTP handler for the feed service.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/feed", s.handleFeed)

	return s.loggingMiddleware(mux)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.redis.Ping(r.Context()).Err(); err != nil {
		status["status"] = "degraded"
		status["redis"] = err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleFeed serves GET /feed for the user named by the X-User-Id header.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "X-User-Id header is required")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	page, err := s.aggregator.Feed(r.Context(), userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		if errors.Is(err, feed.ErrInvalidCursor) {
			s.writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		if errors.Is(err, resilience.ErrDependencyUnavailable) {
			s.writeError(w, http.StatusServiceUnavailable, "feed temporarily unavailable")
			return
		}
		s.logger.Error("feed assembly failed", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load feed")
		return
	}

	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
