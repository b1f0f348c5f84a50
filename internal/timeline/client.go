// Package timeline is the HTTP client for author timelines on the post
// service, used by the read path to pull celebrity posts on demand.
package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/eduardonaguiar/socialmedia/internal/resilience"
)

// Config holds client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Second}
}

// Post is one timeline item.
type Post struct {
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreatedAtMs returns the creation time in epoch milliseconds, matching feed
// cache scores.
func (p Post) CreatedAtMs() int64 {
	return p.CreatedAt.UnixMilli()
}

// StatusError is a non-2xx response from the post service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("post service returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type postPage struct {
	Items []Post `json:"items"`
}

// Client fetches author timelines. Requests run through the resilience
// executor under the "posts" dependency.
type Client struct {
	cfg  Config
	http *http.Client
	exec *resilience.Executor
}

func NewClient(cfg Config, exec *resilience.Executor) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		exec: exec,
	}
}

// AuthorPosts returns up to limit of an author's most recent posts, newest
// first.
func (c *Client) AuthorPosts(ctx context.Context, authorID string, limit int) ([]Post, error) {
	endpoint := fmt.Sprintf("%s/authors/%s/posts?limit=%s",
		c.cfg.BaseURL, url.PathEscape(authorID), strconv.Itoa(limit))

	var page postPage
	err := c.exec.Execute(ctx, "posts", "timeline.author_posts", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &StatusError{Code: resp.StatusCode, Body: string(body)}
		}
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}
