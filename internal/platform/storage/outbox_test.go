package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testDB(t *testing.T) *DB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := New(ctx, DefaultConfig())
	if err != nil {
		t.Skipf("Cannot connect to database: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return db
}

func TestPostCreateQueuesOutboxRecord(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	posts := NewPostRepository(db)
	outbox := NewOutboxRepository(db)

	before, err := outbox.Backlog(ctx)
	if err != nil {
		t.Fatalf("Backlog failed: %v", err)
	}

	post, err := posts.Create(ctx, "author-"+uuid.NewString(), "hello feed")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if post.PostID == "" || post.CreatedAt.IsZero() {
		t.Fatalf("Create returned incomplete post: %+v", post)
	}

	after, err := outbox.Backlog(ctx)
	if err != nil {
		t.Fatalf("Backlog failed: %v", err)
	}
	if after != before+1 {
		t.Fatalf("backlog = %d after create, want %d", after, before+1)
	}
}

func TestClaimBatchExcludesLockedRecords(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	posts := NewPostRepository(db)
	outbox := NewOutboxRepository(db)

	author := "author-" + uuid.NewString()
	for i := 0; i < 3; i++ {
		if _, err := posts.Create(ctx, author, "post"); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	lockA := uuid.NewString()
	lockB := uuid.NewString()

	batchA, err := outbox.ClaimBatch(ctx, lockA, 100, time.Minute)
	if err != nil {
		t.Fatalf("ClaimBatch A failed: %v", err)
	}
	if len(batchA) < 3 {
		t.Fatalf("batch A claimed %d records, want >= 3", len(batchA))
	}

	// A second claimant inside the lock timeout must see nothing from A's claim.
	batchB, err := outbox.ClaimBatch(ctx, lockB, 100, time.Minute)
	if err != nil {
		t.Fatalf("ClaimBatch B failed: %v", err)
	}

	claimed := make(map[string]bool, len(batchA))
	for _, rec := range batchA {
		claimed[rec.OutboxID] = true
	}
	for _, rec := range batchB {
		if claimed[rec.OutboxID] {
			t.Fatalf("record %s claimed by both publishers", rec.OutboxID)
		}
	}
}

func TestClaimBatchReturnsOldestFirst(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	posts := NewPostRepository(db)
	outbox := NewOutboxRepository(db)

	author := "author-" + uuid.NewString()
	for i := 0; i < 5; i++ {
		if _, err := posts.Create(ctx, author, "post"); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	batch, err := outbox.ClaimBatch(ctx, uuid.NewString(), 100, time.Minute)
	if err != nil {
		t.Fatalf("ClaimBatch failed: %v", err)
	}
	if len(batch) < 5 {
		t.Fatalf("claimed %d records, want >= 5", len(batch))
	}
	for i := 1; i < len(batch); i++ {
		if batch[i].OccurredAt.Before(batch[i-1].OccurredAt) {
			t.Fatalf("batch out of occurrence order at index %d: %v after %v",
				i, batch[i].OccurredAt, batch[i-1].OccurredAt)
		}
	}
}

func TestRecordFailureReleasesLock(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	posts := NewPostRepository(db)
	outbox := NewOutboxRepository(db)

	if _, err := posts.Create(ctx, "author-"+uuid.NewString(), "post"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	batch, err := outbox.ClaimBatch(ctx, uuid.NewString(), 1, time.Minute)
	if err != nil {
		t.Fatalf("ClaimBatch failed: %v", err)
	}
	if len(batch) == 0 {
		t.Fatal("ClaimBatch returned no records")
	}
	rec := batch[0]

	if err := outbox.RecordFailure(ctx, rec.OutboxID, "broker down"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	// The record is unlocked again, so another claimant can pick it up.
	reclaimed, err := outbox.ClaimBatch(ctx, uuid.NewString(), 100, time.Minute)
	if err != nil {
		t.Fatalf("ClaimBatch after failure failed: %v", err)
	}
	found := false
	for _, r := range reclaimed {
		if r.OutboxID == rec.OutboxID {
			found = true
			if r.PublishAttempts != rec.PublishAttempts+1 {
				t.Fatalf("publish_attempts = %d, want %d", r.PublishAttempts, rec.PublishAttempts+1)
			}
		}
	}
	if !found {
		t.Fatal("failed record not reclaimable")
	}
}
