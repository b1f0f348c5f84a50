package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/eduardonaguiar/socialmedia/internal/feedcache"
	"github.com/eduardonaguiar/socialmedia/internal/graph"
	eventv1 "github.com/eduardonaguiar/socialmedia/pkg/event/v1"
)

// Outcome is the result of processing one event.
type Outcome int

const (
	// OutcomeProcessed means the event's side effects are complete.
	OutcomeProcessed Outcome = iota
	// OutcomeDeduped means another delivery already handled the event.
	OutcomeDeduped
	// OutcomeFailed means processing must be retried.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeDeduped:
		return "deduped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Processor fans one post-created event out to follower feeds.
type Processor struct {
	cfg     Config
	graph   *graph.Client
	dedup   *DedupStore
	feeds   *feedcache.Writer
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewProcessor(cfg Config, graphClient *graph.Client, dedup *DedupStore, feeds *feedcache.Writer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:     cfg,
		graph:   graphClient,
		dedup:   dedup,
		feeds:   feeds,
		limiter: rate.NewLimiter(rate.Limit(cfg.FollowersPerSecond), cfg.FollowersPerSecond),
		logger:  logger.With("component", "fanout-processor"),
	}
}

// Process runs the fan-out state machine for one event. The dedup claim is
// taken first; on any later failure it is released so the redelivery can run
// again. Feed writes are idempotent, so a partially fanned-out event is safe
// to redo.
func (p *Processor) Process(ctx context.Context, event eventv1.PostCreated) (Outcome, error) {
	claimed, err := p.dedup.Claim(ctx, event.EventID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("dedup claim: %w", err)
	}
	if !claimed {
		p.logger.Debug("event already processed", "event_id", event.EventID)
		return OutcomeDeduped, nil
	}

	stats, err := p.graph.UserStats(ctx, event.AuthorID)
	if err != nil {
		p.releaseClaim(ctx, event.EventID)
		return OutcomeFailed, fmt.Errorf("user stats for %s: %w", event.AuthorID, err)
	}

	if stats.FollowerCount >= p.cfg.CelebrityThreshold {
		// Celebrity posts are pulled at read time; pushing here would mean
		// millions of writes per post.
		p.logger.Info("skipping celebrity fan-out",
			"event_id", event.EventID,
			"author_id", event.AuthorID,
			"followers", stats.FollowerCount,
		)
		return OutcomeProcessed, nil
	}

	start := time.Now()
	pushed, err := p.pushToFollowers(ctx, event)
	if err != nil {
		p.releaseClaim(ctx, event.EventID)
		return OutcomeFailed, fmt.Errorf("fan-out for event %s: %w", event.EventID, err)
	}

	p.logger.Info("fan-out complete",
		"event_id", event.EventID,
		"author_id", event.AuthorID,
		"followers_pushed", pushed,
		"elapsed", time.Since(start),
	)
	return OutcomeProcessed, nil
}

func (p *Processor) pushToFollowers(ctx context.Context, event eventv1.PostCreated) (int, error) {
	sem := semaphore.NewWeighted(p.cfg.MaxConcurrentWrites)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	scoreMs := event.CreatedAtMs()
	it := p.graph.Followers(event.AuthorID)
	var pushed int

pages:
	for !failed() {
		followers, ok, err := it.Next(ctx)
		if err != nil {
			fail(fmt.Errorf("follower page: %w", err))
			break
		}
		if !ok {
			break
		}

		for _, followerID := range followers {
			if err := p.limiter.Wait(ctx); err != nil {
				fail(err)
				break pages
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				fail(err)
				break pages
			}

			wg.Add(1)
			go func(followerID string) {
				defer wg.Done()
				defer sem.Release(1)
				if err := p.feeds.Add(ctx, followerID, event.PostID, scoreMs); err != nil {
					fail(fmt.Errorf("feed write for %s: %w", followerID, err))
					return
				}
				mu.Lock()
				pushed++
				mu.Unlock()
			}(followerID)
		}
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return pushed, firstErr
}

func (p *Processor) releaseClaim(ctx context.Context, eventID string) {
	// Release with a fresh context so shutdown does not strand the claim
	// until the TTL expires.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := p.dedup.Release(ctx, eventID); err != nil {
		p.logger.Error("dedup release failed", "event_id", eventID, "error", err)
	}
}
