package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	eventv1 "github.com/eduardonaguiar/socialmedia/pkg/event/v1"
)

// ErrPostNotFound is returned when a post id does not exist.
var ErrPostNotFound = errors.New("post not found")

// TimelineCursor is the keyset position for author-timeline pagination.
type TimelineCursor struct {
	CreatedAt time.Time
	PostID    string
}

// PostRepository persists posts together with their outbox events.
type PostRepository struct {
	db *DB
}

// NewPostRepository creates a new PostRepository.
func NewPostRepository(db *DB) *PostRepository {
	return &PostRepository{db: db}
}

// Create inserts the post and its PostCreated outbox row in one transaction.
// If the transaction commits, the event is durably queued for publication; if
// it aborts, neither record exists.
func (r *PostRepository) Create(ctx context.Context, authorID, content string) (Post, error) {
	postID := uuid.NewString()

	var post Post
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO posts (post_id, author_id, content)
			VALUES ($1, $2, $3)
			RETURNING post_id, author_id, content, created_at
		`, postID, authorID, content)

		if err := row.Scan(&post.PostID, &post.AuthorID, &post.Content, &post.CreatedAt); err != nil {
			return fmt.Errorf("insert post: %w", err)
		}
		if post.CreatedAt.IsZero() {
			// Invariant violation, not a transient fault.
			return fmt.Errorf("insert post %s: no creation timestamp returned", postID)
		}

		event := eventv1.PostCreated{
			EventID:       uuid.NewString(),
			OccurredAt:    post.CreatedAt,
			PostID:        post.PostID,
			AuthorID:      post.AuthorID,
			CreatedAt:     post.CreatedAt,
			SchemaVersion: eventv1.SchemaVersion,
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO outbox_messages (
				outbox_id, event_type, schema_version, payload, occurred_at, publish_attempts
			) VALUES ($1, $2, $3, $4, $5, 0)
		`, event.EventID, eventv1.TypePostCreated, eventv1.SchemaVersion, payload, post.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert outbox: %w", err)
		}

		return nil
	})
	if err != nil {
		return Post{}, err
	}

	return post, nil
}

// Get retrieves a post by id.
func (r *PostRepository) Get(ctx context.Context, postID string) (Post, error) {
	var post Post
	err := r.db.pool.QueryRow(ctx, `
		SELECT post_id, author_id, content, created_at
		FROM posts
		WHERE post_id = $1
	`, postID).Scan(&post.PostID, &post.AuthorID, &post.Content, &post.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Post{}, ErrPostNotFound
		}
		return Post{}, fmt.Errorf("query post: %w", err)
	}
	return post, nil
}

// ListByAuthor returns the author's posts newest first, keyset-paginated by
// (created_at, post_id) descending.
func (r *PostRepository) ListByAuthor(ctx context.Context, authorID string, limit int, before *TimelineCursor) ([]Post, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if before == nil {
		rows, err = r.db.pool.Query(ctx, `
			SELECT post_id, author_id, content, created_at
			FROM posts
			WHERE author_id = $1
			ORDER BY created_at DESC, post_id DESC
			LIMIT $2
		`, authorID, limit)
	} else {
		rows, err = r.db.pool.Query(ctx, `
			SELECT post_id, author_id, content, created_at
			FROM posts
			WHERE author_id = $1
			  AND (created_at, post_id) < ($2, $3)
			ORDER BY created_at DESC, post_id DESC
			LIMIT $4
		`, authorID, before.CreatedAt, before.PostID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query author posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.PostID, &p.AuthorID, &p.Content, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
