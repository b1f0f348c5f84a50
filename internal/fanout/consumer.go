package fanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"golang.org/x/sync/semaphore"

	eventv1 "github.com/eduardonaguiar/socialmedia/pkg/event/v1"
)

// consumerClient is the slice of kgo.Client the consumer needs.
type consumerClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	SetOffsets(setOffsets map[string]map[int32]kgo.EpochOffset)
	PauseFetchTopics(topics ...string) []string
	ResumeFetchTopics(topics ...string)
	Close()
}

// LagProber reports total consumer-group lag.
type LagProber interface {
	GroupLag(ctx context.Context, group string) (int64, error)
}

type partitionOffset struct {
	partition int32
	offset    int64
}

// disposition is what a partition loop does with a record after handling it.
type disposition int

const (
	// dispositionDone: outcome known, commit the offset.
	dispositionDone disposition = iota
	// dispositionRetry: processing failed, rewind and refetch.
	dispositionRetry
	// dispositionHalt: shutdown interrupted the record; leave its offset
	// uncommitted so the next assignee refetches it.
	dispositionHalt
)

// Consumer drives the fan-out worker's receive loop. Auto-commit is disabled:
// a record's offset is committed only after its outcome is known, in receipt
// order within each partition. A failed record rewinds its partition so the
// same offset is fetched again after a backoff.
type Consumer struct {
	cfg       Config
	client    consumerClient
	processor *Processor
	lag       LagProber
	logger    *slog.Logger

	eventSem *semaphore.Weighted

	// rewinds counts failures per offset, pruned on commit. Only consulted
	// when MaxFailureRewinds > 0. Guarded by rewindsMu since partitions are
	// processed concurrently.
	rewindsMu sync.Mutex
	rewinds   map[partitionOffset]int

	lastLagCheck time.Time
	pausedUntil  time.Time
}

// NewConsumer wires the receive loop. lag may be nil to disable the intake
// pause probe.
func NewConsumer(cfg Config, client consumerClient, processor *Processor, lag LagProber, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:       cfg,
		client:    client,
		processor: processor,
		lag:       lag,
		logger:    logger.With("component", "fanout-consumer"),
		eventSem:  semaphore.NewWeighted(cfg.MaxConcurrentEvents),
		rewinds:   make(map[partitionOffset]int),
	}
}

// Run polls and processes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("starting fan-out consumer",
		"group", c.cfg.Kafka.Group,
		"topic", eventv1.TopicPostCreated,
		"max_concurrent_events", c.cfg.MaxConcurrentEvents,
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.checkLag(ctx)

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error", "topic", topic, "partition", partition, "error", err)
		})

		c.processFetches(ctx, fetches)
	}
}

// processFetches handles one poll's records: partitions run concurrently,
// records within a partition sequentially, total in-flight events bounded by
// the event semaphore.
func (c *Consumer) processFetches(ctx context.Context, fetches kgo.Fetches) {
	var wg sync.WaitGroup
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		if len(p.Records) == 0 {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.processPartition(ctx, p.Topic, p.Partition, p.Records)
		}()
	})
	wg.Wait()
}

func (c *Consumer) processPartition(ctx context.Context, topic string, partition int32, records []*kgo.Record) {
	var done []*kgo.Record
	defer func() {
		if len(done) == 0 {
			return
		}
		commitCtx := ctx
		if ctx.Err() != nil {
			// Shutdown: completed outcomes still commit, on a short detached
			// context, so finished work is not redelivered.
			var cancel context.CancelFunc
			commitCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := c.client.CommitRecords(commitCtx, done...); err != nil {
			// Uncommitted records are refetched after a rebalance; the dedup
			// claim absorbs the replay.
			c.logger.Error("commit failed", "topic", topic, "partition", partition, "error", err)
		}
	}()

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		if err := c.eventSem.Acquire(ctx, 1); err != nil {
			return
		}
		outcome, disp := c.handleRecord(ctx, rec)
		c.eventSem.Release(1)

		if disp == dispositionHalt {
			return
		}
		if disp == dispositionDone {
			done = append(done, rec)
			c.clearRewinds(rec)
			continue
		}

		if c.rewindOrDrop(ctx, rec) {
			done = append(done, rec)
			continue
		}
		// Partition rewound; stop working this batch, the failed offset
		// comes back in a later fetch.
		c.logger.Warn("partition rewound after failure",
			"topic", rec.Topic,
			"partition", rec.Partition,
			"offset", rec.Offset,
			"outcome", outcome.String(),
		)
		return
	}
}

// handleRecord maps one record to an outcome and its disposition.
// Undeserializable payloads are dropped as poison.
func (c *Consumer) handleRecord(ctx context.Context, rec *kgo.Record) (Outcome, disposition) {
	event, err := eventv1.DecodePostCreated(rec.Value)
	if err != nil {
		c.logger.Error("dropping poison record",
			"topic", rec.Topic,
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", err,
		)
		return OutcomeProcessed, dispositionDone
	}

	outcome, err := c.processor.Process(ctx, event)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a processing failure; the offset stays
			// uncommitted and does not count as a rewind.
			return OutcomeFailed, dispositionHalt
		}
		c.logger.Error("event processing failed",
			"event_id", event.EventID,
			"offset", rec.Offset,
			"error", err,
		)
		return outcome, dispositionRetry
	}
	return outcome, dispositionDone
}

// rewindOrDrop reacts to a failed record. It returns true when the record
// should be committed and dropped because it exhausted its rewind budget;
// otherwise it rewinds the partition to the failed offset and backs off.
func (c *Consumer) rewindOrDrop(ctx context.Context, rec *kgo.Record) bool {
	key := partitionOffset{partition: rec.Partition, offset: rec.Offset}

	c.rewindsMu.Lock()
	c.rewinds[key]++
	count := c.rewinds[key]
	overBudget := c.cfg.MaxFailureRewinds > 0 && count > c.cfg.MaxFailureRewinds
	if overBudget {
		delete(c.rewinds, key)
	}
	c.rewindsMu.Unlock()

	if overBudget {
		c.logger.Error("dropping record after rewind budget",
			"topic", rec.Topic,
			"partition", rec.Partition,
			"offset", rec.Offset,
			"rewinds", count-1,
		)
		return true
	}

	c.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		rec.Topic: {
			rec.Partition: {Epoch: rec.LeaderEpoch, Offset: rec.Offset},
		},
	})

	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.FailureBackoff):
	}
	return false
}

// checkLag probes group lag on an interval and pauses intake for a cooldown
// when the group has fallen too far behind, giving in-flight writes room to
// drain.
func (c *Consumer) checkLag(ctx context.Context) {
	if c.lag == nil || c.cfg.MaxLag <= 0 {
		return
	}

	now := time.Now()
	if !c.pausedUntil.IsZero() && now.After(c.pausedUntil) {
		c.client.ResumeFetchTopics(eventv1.TopicPostCreated)
		c.pausedUntil = time.Time{}
		c.logger.Info("resumed intake after lag cooldown")
	}
	if now.Sub(c.lastLagCheck) < c.cfg.LagCheckInterval {
		return
	}
	c.lastLagCheck = now

	lag, err := c.lag.GroupLag(ctx, c.cfg.Kafka.Group)
	if err != nil {
		c.logger.Warn("lag probe failed", "error", err)
		return
	}
	if lag <= c.cfg.MaxLag {
		return
	}

	c.client.PauseFetchTopics(eventv1.TopicPostCreated)
	c.pausedUntil = now.Add(c.cfg.LagCooldown)
	c.logger.Warn("pausing intake on lag",
		"lag", lag,
		"max_lag", c.cfg.MaxLag,
		"cooldown", c.cfg.LagCooldown,
	)
}

func (c *Consumer) clearRewinds(rec *kgo.Record) {
	c.rewindsMu.Lock()
	delete(c.rewinds, partitionOffset{partition: rec.Partition, offset: rec.Offset})
	c.rewindsMu.Unlock()
}
