package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eduardonaguiar/socialmedia/internal/outbox"
	"github.com/eduardonaguiar/socialmedia/internal/platform/storage"
)

const (
	maxContentLength   = 4096
	defaultAuthorLimit = 20
	maxAuthorLimit     = 100
)

// Server holds post service HTTP dependencies.
type Server struct {
	posts   *storage.PostRepository
	db      *storage.DB
	backlog *outbox.BacklogGauge
	logger  *slog.Logger
}

func NewServer(posts *storage.PostRepository, db *storage.DB, backlog *outbox.BacklogGauge, logger *slog.Logger) *Server {
	return &Server{
		posts:   posts,
		db:      db,
		backlog: backlog,
		logger:  logger.With("component", "post-api"),
	}
}

// Router returns the HTTP handler for the post service.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/posts", s.handleCreatePost)
	mux.HandleFunc("/posts/", s.handleGetPost)
	mux.HandleFunc("/authors/", s.handleAuthorPosts)

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

type postResponse struct {
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func toPostResponse(p storage.Post) postResponse {
	return postResponse{
		PostID:    p.PostID,
		AuthorID:  p.AuthorID,
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
	}
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
	if s.backlog != nil {
		status["outbox_backlog"] = s.backlog.Last()
	}
	if err := s.db.Health(r.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

type createPostRequest struct {
	AuthorID string `json:"author_id"`
	Content  string `json:"content"`
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createPostRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.AuthorID = strings.TrimSpace(req.AuthorID)
	if req.AuthorID == "" {
		s.writeError(w, http.StatusBadRequest, "author_id is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > maxContentLength {
		s.writeError(w, http.StatusBadRequest, "content exceeds maximum length")
		return
	}

	post, err := s.posts.Create(r.Context(), req.AuthorID, req.Content)
	if err != nil {
		s.logger.Error("create post failed", "author_id", req.AuthorID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create post")
		return
	}

	s.writeJSON(w, http.StatusCreated, toPostResponse(post))
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	postID := strings.TrimPrefix(r.URL.Path, "/posts/")
	if postID == "" || strings.Contains(postID, "/") {
		http.NotFound(w, r)
		return
	}

	post, err := s.posts.Get(r.Context(), postID)
	if err != nil {
		if errors.Is(err, storage.ErrPostNotFound) {
			s.writeError(w, http.StatusNotFound, "post not found")
			return
		}
		s.logger.Error("get post failed", "post_id", postID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load post")
		return
	}

	s.writeJSON(w, http.StatusOK, toPostResponse(post))
}

// handleAuthorPosts serves GET /authors/{id}/posts, the author timeline the
// feed service pulls celebrity posts from.
func (s *Server) handleAuthorPosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/authors/")
	authorID, tail, ok := strings.Cut(rest, "/")
	if !ok || tail != "posts" || authorID == "" {
		http.NotFound(w, r)
		return
	}

	limit := defaultAuthorLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxAuthorLimit)
	}

	var before *storage.TimelineCursor
	if token := r.URL.Query().Get("cursor"); token != "" {
		cursor, err := decodeTimelineCursor(token)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		before = &cursor
	}

	posts, err := s.posts.ListByAuthor(r.Context(), authorID, limit, before)
	if err != nil {
		s.logger.Error("list author posts failed", "author_id", authorID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load posts")
		return
	}

	items := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		items = append(items, toPostResponse(p))
	}

	resp := map[string]any{"items": items}
	if len(posts) == limit {
		last := posts[len(posts)-1]
		resp["next_cursor"] = encodeTimelineCursor(storage.TimelineCursor{
			CreatedAt: last.CreatedAt,
			PostID:    last.PostID,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type timelineCursorPayload struct {
	CreatedAt time.Time `json:"t"`
	PostID    string    `json:"p"`
}

func encodeTimelineCursor(c storage.TimelineCursor) string {
	payload, _ := json.Marshal(timelineCursorPayload{CreatedAt: c.CreatedAt, PostID: c.PostID})
	return base64.RawURLEncoding.EncodeToString(payload)
}

func decodeTimelineCursor(token string) (storage.TimelineCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return storage.TimelineCursor{}, err
	}
	var payload timelineCursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return storage.TimelineCursor{}, err
	}
	return storage.TimelineCursor{CreatedAt: payload.CreatedAt, PostID: payload.PostID}, nil
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
