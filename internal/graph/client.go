// Package graph is the HTTP client for the social-graph service.
package graph

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

	// FollowerPageSize is the page size used when walking a user's
	// followers. FollowerMaxPages caps the walk; zero means unbounded.
	FollowerPageSize int
	FollowerMaxPages int

	// CelebrityFollowingPageSize and CelebrityFollowingMaxPages bound the
	// celebrity-following lookup on the read path. The read path must stay
	// cheap, so this walk is always capped.
	CelebrityFollowingPageSize int
	CelebrityFollowingMaxPages int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:                    5 * time.Second,
		FollowerPageSize:           200,
		FollowerMaxPages:           0,
		CelebrityFollowingPageSize: 100,
		CelebrityFollowingMaxPages: 5,
	}
}

// UserStats is the graph service's per-user summary.
type UserStats struct {
	UserID        string `json:"user_id"`
	FollowerCount int64  `json:"follower_count"`
}

// StatusError is a non-2xx response from the graph service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("graph service returned %d: %s", e.Code, e.Body)
}

// Transient reports whether the request is worth retrying.
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type idPage struct {
	Items      []string `json:"items"`
	NextCursor string   `json:"next_cursor"`
}

// Client calls the graph service. All requests run through the resilience
// executor under the "graph" dependency.
type Client struct {
	cfg  Config
	http *http.Client
	exec *resilience.Executor
}

func NewClient(cfg Config, exec *resilience.Executor) *Client {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.FollowerPageSize <= 0 {
		cfg.FollowerPageSize = defaults.FollowerPageSize
	}
	if cfg.CelebrityFollowingPageSize <= 0 {
		cfg.CelebrityFollowingPageSize = defaults.CelebrityFollowingPageSize
	}
	if cfg.CelebrityFollowingMaxPages <= 0 {
		cfg.CelebrityFollowingMaxPages = defaults.CelebrityFollowingMaxPages
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		exec: exec,
	}
}

// UserStats fetches follower counts for one user.
func (c *Client) UserStats(ctx context.Context, userID string) (UserStats, error) {
	var stats UserStats
	err := c.getJSON(ctx, "graph.user_stats", fmt.Sprintf("/users/%s/stats", url.PathEscape(userID)), nil, &stats)
	if err != nil {
		return UserStats{}, err
	}
	return stats, nil
}

// Followers returns a lazy pager over a user's followers. Pages are fetched
// on demand so a multi-million follower walk never materializes in memory.
func (c *Client) Followers(userID string) *FollowerPages {
	return &FollowerPages{client: c, userID: userID}
}

// FollowerPages walks follower pages in the graph service's order.
type FollowerPages struct {
	client *Client
	userID string
	cursor string
	pages  int
	done   bool
}

// Next fetches the next page. It returns false once the walk is exhausted or
// the configured page cap is reached.
func (it *FollowerPages) Next(ctx context.Context) ([]string, bool, error) {
	if it.done {
		return nil, false, nil
	}
	if max := it.client.cfg.FollowerMaxPages; max > 0 && it.pages >= max {
		it.done = true
		return nil, false, nil
	}

	query := url.Values{"limit": {strconv.Itoa(it.client.cfg.FollowerPageSize)}}
	if it.cursor != "" {
		query.Set("cursor", it.cursor)
	}

	var page idPage
	path := fmt.Sprintf("/users/%s/followers", url.PathEscape(it.userID))
	if err := it.client.getJSON(ctx, "graph.followers", path, query, &page); err != nil {
		return nil, false, err
	}

	it.pages++
	it.cursor = page.NextCursor
	if it.cursor == "" {
		it.done = true
	}
	if len(page.Items) == 0 {
		return nil, false, nil
	}
	return page.Items, true, nil
}

// CelebrityFollowing returns the celebrity accounts a user follows, walking
// at most the configured number of pages.
func (c *Client) CelebrityFollowing(ctx context.Context, userID string) ([]string, error) {
	var (
		celebrities []string
		cursor      string
	)
	path := fmt.Sprintf("/users/%s/following/celebrities", url.PathEscape(userID))

	for page := 0; page < c.cfg.CelebrityFollowingMaxPages; page++ {
		query := url.Values{"limit": {strconv.Itoa(c.cfg.CelebrityFollowingPageSize)}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var resp idPage
		if err := c.getJSON(ctx, "graph.celebrity_following", path, query, &resp); err != nil {
			return nil, err
		}
		celebrities = append(celebrities, resp.Items...)
		cursor = resp.NextCursor
		if cursor == "" {
			break
		}
	}
	return celebrities, nil
}

func (c *Client) getJSON(ctx context.Context, operation, path string, query url.Values, out any) error {
	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return c.exec.Execute(ctx, "graph", operation, func(ctx context.Context) error {
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
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}
