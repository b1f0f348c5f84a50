package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eduardonaguiar/socialmedia/internal/feed"
	"github.com/eduardonaguiar/socialmedia/internal/feedcache"
	"github.com/eduardonaguiar/socialmedia/internal/graph"
	"github.com/eduardonaguiar/socialmedia/internal/resilience"
	"github.com/eduardonaguiar/socialmedia/internal/timeline"
)

func newTestServer(t *testing.T) (*Server, *feedcache.Writer, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	// Empty graph and post services: every user follows no celebrities.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": []string{}, "next_cursor": ""})
	}))
	t.Cleanup(upstream.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := resilience.NewExecutor(
		resilience.RetrySettings{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		resilience.DefaultBreakerSettings(),
		logger,
	)

	aggregator := feed.NewAggregator(
		feed.DefaultOptions(),
		feedcache.NewReader(client, exec),
		graph.NewClient(graph.Config{BaseURL: upstream.URL}, exec),
		timeline.NewClient(timeline.Config{BaseURL: upstream.URL}, exec),
		logger,
	)
	return NewServer(aggregator, client, logger), feedcache.NewWriter(client, exec, 100), mr
}

func doFeedRequest(t *testing.T, server *Server, userID, query string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/feed"+query, nil)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func TestFeedEndpointReturnsPage(t *testing.T) {
	server, writer, _ := newTestServer(t)
	now := time.Now().UnixMilli()
	for i, id := range []string{"p1", "p2", "p3"} {
		if err := writer.Add(t.Context(), "u1", id, now+int64(i)*1000); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	rec := doFeedRequest(t, server, "u1", "?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var page feed.Page
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].PostID != "p3" {
		t.Errorf("items = %+v, want p3 first", page.Items)
	}
	if page.NextCursor == "" {
		t.Error("full page must carry a next cursor")
	}
}

func TestFeedEndpointRequiresUserHeader(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doFeedRequest(t, server, "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without X-User-Id", rec.Code)
	}
}

func TestFeedEndpointRejectsBadLimit(t *testing.T) {
	server, _, _ := newTestServer(t)

	for _, query := range []string{"?limit=0", "?limit=-1", "?limit=abc"} {
		rec := doFeedRequest(t, server, "u1", query)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status for %q = %d, want 400", query, rec.Code)
		}
	}
}

func TestFeedEndpointRejectsBadCursor(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doFeedRequest(t, server, "u1", "?cursor=%40%40broken%40%40")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for invalid cursor", rec.Code)
	}
}

func TestFeedEndpointUnavailableWhenCacheDown(t *testing.T) {
	server, _, mr := newTestServer(t)
	mr.Close()

	rec := doFeedRequest(t, server, "u1", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when the cache is down", rec.Code)
	}
}
