// Package eventv1 defines version 1 of the domain event schema shared by the
// write path, the outbox publisher, and the fan-out worker.
package eventv1

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// TypePostCreated is the event_type stored on outbox rows.
	TypePostCreated = "PostCreated"

	// TopicPostCreated is the broker topic carrying PostCreated events.
	TopicPostCreated = "post.created.v1"

	// SchemaVersion is the current PostCreated schema version.
	SchemaVersion = 1
)

// PostCreated is emitted exactly once per created post. It is serialized as
// the outbox payload and consumed idempotently keyed by EventID.
type PostCreated struct {
	EventID       string    `json:"event_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	PostID        string    `json:"post_id"`
	AuthorID      string    `json:"author_id"`
	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion int       `json:"schema_version"`
}

// CreatedAtMs returns the post creation time as epoch milliseconds, the score
// used for feed ordering.
func (e PostCreated) CreatedAtMs() int64 {
	return e.CreatedAt.UnixMilli()
}

// Validate checks the structural invariants a consumer relies on.
func (e PostCreated) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("post created event: missing event_id")
	}
	if e.PostID == "" {
		return fmt.Errorf("post created event: missing post_id")
	}
	if e.AuthorID == "" {
		return fmt.Errorf("post created event: missing author_id")
	}
	return nil
}

// DecodePostCreated deserializes a PostCreated payload and validates it.
func DecodePostCreated(data []byte) (PostCreated, error) {
	var e PostCreated
	if err := json.Unmarshal(data, &e); err != nil {
		return PostCreated{}, fmt.Errorf("unmarshal post created event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return PostCreated{}, err
	}
	return e, nil
}
