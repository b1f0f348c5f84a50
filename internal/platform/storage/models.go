package storage

import (
	"time"
)

// Post is the immutable content record owned by the write path.
type Post struct {
	PostID    string    `db:"post_id"`
	AuthorID  string    `db:"author_id"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

// OutboxRecord is one row of the transactional outbox. Lifecycle:
// pending -> locked -> published, or locked -> pending when the publish
// attempt fails and the lock is released. Rows are never deleted.
type OutboxRecord struct {
	OutboxID        string     `db:"outbox_id"`
	EventType       string     `db:"event_type"`
	SchemaVersion   int32      `db:"schema_version"`
	Payload         []byte     `db:"payload"`
	OccurredAt      time.Time  `db:"occurred_at"`
	PublishAttempts int32      `db:"publish_attempts"`
	LockID          *string    `db:"lock_id"`
	LockedAt        *time.Time `db:"locked_at"`
	LastError       *string    `db:"last_error"`
	PublishedAt     *time.Time `db:"published_at"`
}
