package feedcache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/eduardonaguiar/socialmedia/internal/resilience"
)

// Writer appends entries to user feeds and keeps each feed trimmed to the hot
// window.
type Writer struct {
	client    *redis.Client
	exec      *resilience.Executor
	hotWindow int
}

// NewWriter creates a writer; hotWindow <= 0 uses DefaultHotWindow.
func NewWriter(client *redis.Client, exec *resilience.Executor, hotWindow int) *Writer {
	if hotWindow <= 0 {
		hotWindow = DefaultHotWindow
	}
	return &Writer{client: client, exec: exec, hotWindow: hotWindow}
}

// Add puts a post into one user's feed. Re-adding an existing post updates
// its score rather than duplicating the member, so writes are idempotent. The
// feed is trimmed only when it exceeds the hot window, keeping the common
// case a single round trip beyond the add.
func (w *Writer) Add(ctx context.Context, userID, postID string, createdAtMs int64) error {
	key := FeedKey(userID)
	return w.exec.Execute(ctx, "redis", "feed.push", func(ctx context.Context) error {
		if err := w.client.ZAdd(ctx, key, redis.Z{
			Score:  float64(createdAtMs),
			Member: postID,
		}).Err(); err != nil {
			return fmt.Errorf("zadd %s: %w", key, err)
		}

		card, err := w.client.ZCard(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("zcard %s: %w", key, err)
		}
		if card <= int64(w.hotWindow) {
			return nil
		}

		start, stop := TrimRange(w.hotWindow)
		if err := w.client.ZRemRangeByRank(ctx, key, start, stop).Err(); err != nil {
			return fmt.Errorf("trim %s: %w", key, err)
		}
		return nil
	})
}
