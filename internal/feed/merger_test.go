package feed

import (
	"testing"
	"time"

	"github.com/eduardonaguiar/socialmedia/internal/feedcache"
	"github.com/eduardonaguiar/socialmedia/internal/timeline"
)

func ms(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func TestMergeOrdersByTimeThenID(t *testing.T) {
	pushed := []feedcache.Entry{
		{PostID: "p1", CreatedAtMs: 1000},
		{PostID: "p3", CreatedAtMs: 3000},
	}
	pulled := []timeline.Post{
		{PostID: "c1", AuthorID: "celeb", CreatedAt: ms(2000)},
		{PostID: "c2", AuthorID: "celeb", CreatedAt: ms(4000)},
	}

	got := Merge(pushed, pulled, nil, 10)

	want := []string{"c2", "p3", "c1", "p1"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(got), len(want), got)
	}
	for i, id := range want {
		if got[i].PostID != id {
			t.Errorf("got[%d] = %q, want %q", i, got[i].PostID, id)
		}
	}
}

func TestMergeTiesBreakByPostIDDescending(t *testing.T) {
	pushed := []feedcache.Entry{{PostID: "aaa", CreatedAtMs: 1000}}
	pulled := []timeline.Post{{PostID: "zzz", AuthorID: "celeb", CreatedAt: ms(1000)}}

	got := Merge(pushed, pulled, nil, 10)

	if got[0].PostID != "zzz" || got[1].PostID != "aaa" {
		t.Errorf("tie order = %q,%q, want zzz,aaa", got[0].PostID, got[1].PostID)
	}
}

func TestMergePushedWinsDuplicates(t *testing.T) {
	pushed := []feedcache.Entry{{PostID: "p1", CreatedAtMs: 1000}}
	pulled := []timeline.Post{{PostID: "p1", AuthorID: "celeb", CreatedAt: ms(1000)}}

	got := Merge(pushed, pulled, nil, 10)

	if len(got) != 1 {
		t.Fatalf("got %d entries, want duplicate collapsed to 1", len(got))
	}
	if got[0].Source != SourcePushed {
		t.Errorf("source = %q, want pushed to win", got[0].Source)
	}
}

func TestMergeFiltersPulledBeforeCursor(t *testing.T) {
	cursor := &feedcache.Cursor{Score: 2000, Member: "p2"}
	pulled := []timeline.Post{
		{PostID: "c-newer", AuthorID: "celeb", CreatedAt: ms(3000)},
		{PostID: "p9", AuthorID: "celeb", CreatedAt: ms(2000)}, // same score, above member
		{PostID: "p1", AuthorID: "celeb", CreatedAt: ms(2000)}, // same score, below member
		{PostID: "c-older", AuthorID: "celeb", CreatedAt: ms(1000)},
	}

	got := Merge(nil, pulled, cursor, 10)

	want := []string{"p1", "c-older"}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want ids %v", got, want)
	}
	for i, id := range want {
		if got[i].PostID != id {
			t.Errorf("got[%d] = %q, want %q", i, got[i].PostID, id)
		}
	}
}

func TestMergeTruncatesToLimit(t *testing.T) {
	var pushed []feedcache.Entry
	for i := 0; i < 5; i++ {
		pushed = append(pushed, feedcache.Entry{PostID: string(rune('a' + i)), CreatedAtMs: int64(1000 * (i + 1))})
	}

	got := Merge(pushed, nil, nil, 3)

	if len(got) != 3 {
		t.Fatalf("got %d entries, want limit 3", len(got))
	}
	if got[0].PostID != "e" {
		t.Errorf("got[0] = %q, want newest first", got[0].PostID)
	}
}
