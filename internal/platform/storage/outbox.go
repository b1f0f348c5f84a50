package storage

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// OutboxRepository handles publisher-side access to outbox rows.
type OutboxRepository struct {
	db *DB
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// ClaimBatch atomically locks up to batchSize unpublished records that are
// either unlocked or whose lock has expired, oldest occurrence first. SKIP
// LOCKED keeps concurrent publisher instances from double-claiming; the lock
// timeout bounds how long a crashed publisher can hold a claim before another
// instance reclaims it.
func (r *OutboxRepository) ClaimBatch(ctx context.Context, lockID string, batchSize int, lockTimeout time.Duration) ([]OutboxRecord, error) {
	sql := `
		WITH pending AS (
			SELECT outbox_id
			FROM outbox_messages
			WHERE published_at IS NULL
			  AND (locked_at IS NULL OR locked_at < now() - ($3 * interval '1 second'))
			ORDER BY occurred_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_messages o
		SET lock_id = $1,
		    locked_at = now()
		FROM pending p
		WHERE o.outbox_id = p.outbox_id
		RETURNING o.outbox_id, o.event_type, o.schema_version, o.payload,
		          o.occurred_at, o.publish_attempts
	`

	rows, err := r.db.pool.Query(ctx, sql, lockID, batchSize, int(lockTimeout.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(
			&rec.OutboxID, &rec.EventType, &rec.SchemaVersion, &rec.Payload,
			&rec.OccurredAt, &rec.PublishAttempts,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The outer UPDATE does not preserve the CTE's ORDER BY, so restore
	// oldest-first before the batch reaches the publish loop.
	sort.Slice(records, func(i, j int) bool {
		return records[i].OccurredAt.Before(records[j].OccurredAt)
	})

	return records, nil
}

// MarkPublished records a successful publish and clears the lock. A record
// transitions to published at most once; repeated calls are no-ops on an
// already-published row.
func (r *OutboxRepository) MarkPublished(ctx context.Context, outboxID string) error {
	sql := `
		UPDATE outbox_messages
		SET published_at = now(),
		    lock_id = NULL,
		    locked_at = NULL
		WHERE outbox_id = $1
		  AND published_at IS NULL
	`

	if _, err := r.db.pool.Exec(ctx, sql, outboxID); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

// RecordFailure counts a failed publish attempt and releases the lock so a
// future sweep retries the record.
func (r *OutboxRepository) RecordFailure(ctx context.Context, outboxID, errMsg string) error {
	sql := `
		UPDATE outbox_messages
		SET publish_attempts = publish_attempts + 1,
		    last_error = $2,
		    lock_id = NULL,
		    locked_at = NULL
		WHERE outbox_id = $1
	`

	if _, err := r.db.pool.Exec(ctx, sql, outboxID, errMsg); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// Backlog returns the number of records not yet published.
func (r *OutboxRepository) Backlog(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_messages WHERE published_at IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count backlog: %w", err)
	}
	return count, nil
}
