package feed

import (
	"sort"

	"github.com/eduardonaguiar/socialmedia/internal/feedcache"
	"github.com/eduardonaguiar/socialmedia/internal/timeline"
)

// Entry sources.
const (
	SourcePushed = "pushed"
	SourcePulled = "pulled"
)

// Entry is one merged feed item. Score is the post's creation time in epoch
// milliseconds, the same value the cache sorts on.
type Entry struct {
	PostID string `json:"post_id"`
	Score  int64  `json:"score"`
	Source string `json:"source"`
}

// Merge combines cursor-filtered pushed entries with pulled celebrity posts
// into one page. Pushed entries win when a post appears on both sides (a
// demoted celebrity's posts may briefly exist in both). Pulled posts are
// cursor-filtered here because the timeline service knows nothing about the
// caller's page position.
//
// Order is creation time descending, post id descending as the tiebreak, the
// same total order the cache reader pages in.
func Merge(pushed []feedcache.Entry, pulled []timeline.Post, cursor *feedcache.Cursor, limit int) []Entry {
	merged := make([]Entry, 0, len(pushed)+len(pulled))
	seen := make(map[string]struct{}, len(pushed)+len(pulled))

	for _, e := range pushed {
		if _, ok := seen[e.PostID]; ok {
			continue
		}
		seen[e.PostID] = struct{}{}
		merged = append(merged, Entry{
			PostID: e.PostID,
			Score:  e.CreatedAtMs,
			Source: SourcePushed,
		})
	}

	for _, p := range pulled {
		scoreMs := p.CreatedAtMs()
		if !afterCursor(scoreMs, p.PostID, cursor) {
			continue
		}
		if _, ok := seen[p.PostID]; ok {
			continue
		}
		seen[p.PostID] = struct{}{}
		merged = append(merged, Entry{
			PostID: p.PostID,
			Score:  scoreMs,
			Source: SourcePulled,
		})
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].PostID > merged[j].PostID
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// afterCursor reports whether an entry sits strictly past the cursor in the
// feed's total order.
func afterCursor(scoreMs int64, postID string, cursor *feedcache.Cursor) bool {
	if cursor == nil {
		return true
	}
	if scoreMs != cursor.Score {
		return scoreMs < cursor.Score
	}
	return postID < cursor.Member
}
