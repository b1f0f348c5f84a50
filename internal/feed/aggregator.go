package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eduardonaguiar/socialmedia/internal/feedcache"
	"github.com/eduardonaguiar/socialmedia/internal/graph"
	"github.com/eduardonaguiar/socialmedia/internal/timeline"
)

// Options configures feed assembly.
type Options struct {
	// DefaultLimit and MaxLimit bound the page size.
	DefaultLimit int
	MaxLimit     int

	// PushWindowSize is the minimum number of pushed entries fetched per
	// request, so celebrity posts compete against a full window rather than
	// just one page.
	PushWindowSize int

	// PullWindow bounds how far back celebrity posts are pulled.
	PullWindow time.Duration

	// CelebrityPostsPerAuthor caps the timeline fetch per celebrity.
	CelebrityPostsPerAuthor int

	CelebrityListTTL    time.Duration
	CelebrityListJitter time.Duration

	AuthorTimelineTTL    time.Duration
	AuthorTimelineJitter time.Duration
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		DefaultLimit:            20,
		MaxLimit:                100,
		PushWindowSize:          200,
		PullWindow:              48 * time.Hour,
		CelebrityPostsPerAuthor: 20,
		CelebrityListTTL:        120 * time.Second,
		CelebrityListJitter:     30 * time.Second,
		AuthorTimelineTTL:       30 * time.Second,
		AuthorTimelineJitter:    10 * time.Second,
	}
}

// Page is one assembled feed page.
type Page struct {
	Items      []Entry `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// Aggregator merges the pushed feed cache with on-demand celebrity pulls.
// Celebrity lookups degrade: when the graph or post service is unavailable
// the user still gets their pushed feed.
type Aggregator struct {
	opts     Options
	reader   *feedcache.Reader
	graph    *graph.Client
	timeline *timeline.Client
	logger   *slog.Logger

	celebrities *ttlCache[[]string]
	timelines   *ttlCache[[]timeline.Post]

	now func() time.Time
}

func NewAggregator(opts Options, reader *feedcache.Reader, graphClient *graph.Client, timelineClient *timeline.Client, logger *slog.Logger) *Aggregator {
	defaults := DefaultOptions()
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = defaults.DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = defaults.MaxLimit
	}
	if opts.PushWindowSize <= 0 {
		opts.PushWindowSize = defaults.PushWindowSize
	}
	if opts.PullWindow <= 0 {
		opts.PullWindow = defaults.PullWindow
	}
	if opts.CelebrityPostsPerAuthor <= 0 {
		opts.CelebrityPostsPerAuthor = defaults.CelebrityPostsPerAuthor
	}
	if opts.CelebrityListTTL <= 0 {
		opts.CelebrityListTTL = defaults.CelebrityListTTL
		opts.CelebrityListJitter = defaults.CelebrityListJitter
	}
	if opts.AuthorTimelineTTL <= 0 {
		opts.AuthorTimelineTTL = defaults.AuthorTimelineTTL
		opts.AuthorTimelineJitter = defaults.AuthorTimelineJitter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		opts:        opts,
		reader:      reader,
		graph:       graphClient,
		timeline:    timelineClient,
		logger:      logger.With("component", "feed-aggregator"),
		celebrities: newTTLCache[[]string](opts.CelebrityListTTL, opts.CelebrityListJitter),
		timelines:   newTTLCache[[]timeline.Post](opts.AuthorTimelineTTL, opts.AuthorTimelineJitter),
		now:         time.Now,
	}
}

// Feed assembles one page of a user's feed. token may be empty for the first
// page; limit <= 0 uses the default. The next cursor is present only when the
// page is full, an empty page or short page means the feed is exhausted.
func (a *Aggregator) Feed(ctx context.Context, userID, token string, limit int) (Page, error) {
	if limit <= 0 {
		limit = a.opts.DefaultLimit
	}
	if limit > a.opts.MaxLimit {
		limit = a.opts.MaxLimit
	}

	var cursor *feedcache.Cursor
	if token != "" {
		decoded, err := DecodeCursor(token)
		if err != nil {
			return Page{}, err
		}
		cursor = &decoded
	}

	pushWindow := limit
	if pushWindow < a.opts.PushWindowSize {
		pushWindow = a.opts.PushWindowSize
	}
	pushed, err := a.reader.Page(ctx, userID, cursor, pushWindow)
	if err != nil {
		return Page{}, fmt.Errorf("pushed feed for %s: %w", userID, err)
	}

	pulled := a.pullCelebrityPosts(ctx, userID)
	items := Merge(pushed, pulled, cursor, limit)

	page := Page{Items: items}
	if len(items) == limit {
		last := items[len(items)-1]
		page.NextCursor = EncodeCursor(feedcache.Cursor{Score: last.Score, Member: last.PostID})
	}
	return page, nil
}

// pullCelebrityPosts returns recent posts from celebrities the user follows.
// Every failure here degrades to fewer posts, never to a failed page.
func (a *Aggregator) pullCelebrityPosts(ctx context.Context, userID string) []timeline.Post {
	authors, ok := a.celebrities.get(userID)
	if !ok {
		var err error
		authors, err = a.graph.CelebrityFollowing(ctx, userID)
		if err != nil {
			a.logger.Warn("celebrity lookup degraded", "user_id", userID, "error", err)
			return nil
		}
		a.celebrities.set(userID, authors)
	}

	horizon := a.now().Add(-a.opts.PullWindow)
	var pulled []timeline.Post
	for _, author := range authors {
		posts, ok := a.timelines.get(author)
		if !ok {
			var err error
			posts, err = a.timeline.AuthorPosts(ctx, author, a.opts.CelebrityPostsPerAuthor)
			if err != nil {
				a.logger.Warn("author timeline degraded", "author_id", author, "error", err)
				continue
			}
			a.timelines.set(author, posts)
		}
		for _, p := range posts {
			if p.CreatedAt.Before(horizon) {
				continue
			}
			pulled = append(pulled, p)
		}
	}
	return pulled
}
