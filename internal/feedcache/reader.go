package feedcache

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/eduardonaguiar/socialmedia/internal/resilience"
)

// Entry is one cached feed item.
type Entry struct {
	PostID      string
	CreatedAtMs int64
}

// Reader pages through cached feeds newest-first.
type Reader struct {
	client *redis.Client
	exec   *resilience.Executor
}

func NewReader(client *redis.Client, exec *resilience.Executor) *Reader {
	return &Reader{client: client, exec: exec}
}

// Page returns up to limit entries strictly after the cursor, newest first.
// A nil cursor starts from the top of the feed.
//
// Entries sharing the cursor's score are resolved by member: the page first
// drains same-score members below the cursor member, then continues with
// strictly lower scores. This keeps pagination stable when many posts land
// in the same millisecond.
func (r *Reader) Page(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := FeedKey(userID)

	var entries []Entry
	err := r.exec.Execute(ctx, "redis", "feed.page", func(ctx context.Context) error {
		entries = entries[:0]

		if cursor == nil {
			zs, err := r.client.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
				Min:   "-inf",
				Max:   "+inf",
				Count: int64(limit),
			}).Result()
			if err != nil {
				return fmt.Errorf("zrevrangebyscore %s: %w", key, err)
			}
			entries = appendEntries(entries, zs)
			return nil
		}

		score := formatScore(cursor.Score)
		sameScore, err := r.client.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
			Min: score,
			Max: score,
		}).Result()
		if err != nil {
			return fmt.Errorf("zrevrangebyscore %s: %w", key, err)
		}
		for _, z := range sameScore {
			member, _ := z.Member.(string)
			if member < cursor.Member {
				entries = append(entries, Entry{PostID: member, CreatedAtMs: int64(z.Score)})
			}
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].PostID > entries[j].PostID })
		if len(entries) > limit {
			entries = entries[:limit]
		}
		if len(entries) == limit {
			return nil
		}

		below, err := r.client.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   "(" + score,
			Count: int64(limit - len(entries)),
		}).Result()
		if err != nil {
			return fmt.Errorf("zrevrangebyscore %s: %w", key, err)
		}
		entries = appendEntries(entries, below)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Card returns the number of cached entries in a user's feed.
func (r *Reader) Card(ctx context.Context, userID string) (int64, error) {
	var card int64
	err := r.exec.Execute(ctx, "redis", "feed.card", func(ctx context.Context) error {
		var cardErr error
		card, cardErr = r.client.ZCard(ctx, FeedKey(userID)).Result()
		return cardErr
	})
	return card, err
}

func appendEntries(entries []Entry, zs []redis.Z) []Entry {
	for _, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, Entry{PostID: member, CreatedAtMs: int64(z.Score)})
	}
	return entries
}
