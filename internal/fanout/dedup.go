package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore records which events have already been fanned out. Claims are
// held for the full TTL on success and released only when processing fails,
// so a redelivered event either finds the claim and is dropped or finds the
// released key and retries.
type DedupStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDedupStore(client *redis.Client, ttl time.Duration) *DedupStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &DedupStore{client: client, ttl: ttl}
}

func dedupKey(eventID string) string {
	return "dedup:post_created:" + eventID
}

// Claim atomically takes the dedup slot for an event. It returns false when
// another delivery already holds it.
func (s *DedupStore) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, dedupKey(eventID), "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", dedupKey(eventID), err)
	}
	return ok, nil
}

// Release gives the slot back after a failed fan-out so the retry can claim
// it again.
func (s *DedupStore) Release(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, dedupKey(eventID)).Err(); err != nil {
		return fmt.Errorf("del %s: %w", dedupKey(eventID), err)
	}
	return nil
}
