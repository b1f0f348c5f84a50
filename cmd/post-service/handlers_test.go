package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eduardonaguiar/socialmedia/internal/platform/storage"
)

// newTestServer needs a running PostgreSQL instance; the test is skipped when
// none is reachable.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := storage.New(ctx, storage.DefaultConfig())
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(storage.NewPostRepository(db), db, nil, logger)
}

func postJSON(t *testing.T, server *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func getPath(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetPost(t *testing.T) {
	server := newTestServer(t)
	authorID := "author-" + uuid.NewString()

	rec := postJSON(t, server, "/posts", fmt.Sprintf(`{"author_id":%q,"content":"hello"}`, authorID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var created postResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.PostID == "" || created.AuthorID != authorID {
		t.Fatalf("created = %+v", created)
	}

	rec = getPath(t, server, "/posts/"+created.PostID)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
}

func TestCreatePostValidation(t *testing.T) {
	server := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", "{nope"},
		{"missing author", `{"content":"hello"}`},
		{"blank content", `{"author_id":"a1","content":"  "}`},
		{"oversized content", fmt.Sprintf(`{"author_id":"a1","content":%q}`, strings.Repeat("x", maxContentLength+1))},
	}
	for _, tc := range cases {
		rec := postJSON(t, server, "/posts", tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, rec.Code)
		}
	}
}

func TestGetPostNotFound(t *testing.T) {
	server := newTestServer(t)

	rec := getPath(t, server, "/posts/"+uuid.NewString())
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAuthorTimelinePagination(t *testing.T) {
	server := newTestServer(t)
	authorID := "author-" + uuid.NewString()

	for i := 0; i < 5; i++ {
		rec := postJSON(t, server, "/posts", fmt.Sprintf(`{"author_id":%q,"content":"post %d"}`, authorID, i))
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %d: status = %d", i, rec.Code)
		}
	}

	type timelinePage struct {
		Items      []postResponse `json:"items"`
		NextCursor string         `json:"next_cursor"`
	}

	seen := make(map[string]bool)
	cursor := ""
	for {
		path := "/authors/" + authorID + "/posts?limit=2"
		if cursor != "" {
			path += "&cursor=" + cursor
		}
		rec := getPath(t, server, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}

		var page timelinePage
		if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
			t.Fatalf("decode page: %v", err)
		}
		for _, item := range page.Items {
			if seen[item.PostID] {
				t.Fatalf("post %s returned twice", item.PostID)
			}
			seen[item.PostID] = true
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
		if len(seen) > 10 {
			t.Fatal("pagination did not terminate")
		}
	}

	if len(seen) != 5 {
		t.Errorf("saw %d posts, want 5", len(seen))
	}
}
