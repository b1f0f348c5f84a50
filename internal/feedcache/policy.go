// Package feedcache maintains per-user feed timelines in Redis sorted sets.
// Members are post ids scored by creation time in epoch milliseconds.
package feedcache

import "strconv"

// DefaultHotWindow is the number of entries retained per user feed.
const DefaultHotWindow = 1000

// FeedKey returns the sorted-set key for a user's feed.
func FeedKey(userID string) string {
	return "feed:user:" + userID
}

// TrimRange returns the rank range to remove so that at most max entries
// remain. Ranks are ascending, so the range covers the oldest entries.
func TrimRange(max int) (start, stop int64) {
	return 0, int64(-(max + 1))
}

// Cursor marks a position in a feed page. Member breaks ties between entries
// that share a score.
type Cursor struct {
	Score  int64
	Member string
}

func formatScore(score int64) string {
	return strconv.FormatInt(score, 10)
}
