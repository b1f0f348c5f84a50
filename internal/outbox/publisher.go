// Package outbox relays committed domain events from the transactional
// outbox to the broker.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/eduardonaguiar/socialmedia/internal/platform/storage"
	"github.com/eduardonaguiar/socialmedia/internal/resilience"
	eventv1 "github.com/eduardonaguiar/socialmedia/pkg/event/v1"
)

// Config holds publisher loop settings.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	LockTimeout  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		BatchSize:    100,
		LockTimeout:  30 * time.Second,
	}
}

type recordStore interface {
	ClaimBatch(ctx context.Context, lockID string, batchSize int, lockTimeout time.Duration) ([]storage.OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID string) error
	RecordFailure(ctx context.Context, outboxID, errMsg string) error
}

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// mirror is an optional secondary publish target; failures there are logged,
// never propagated.
type mirror interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Publisher claims unpublished outbox records and forwards them to the
// broker. Each instance holds a unique lock id; the storage-level skip-locked
// claim keeps concurrent instances from double-publishing.
type Publisher struct {
	cfg      Config
	store    recordStore
	producer producer
	exec     *resilience.Executor
	logger   *slog.Logger

	mirror        mirror
	mirrorSubject string

	lockID string
}

// NewPublisher creates a publisher with a fresh lock id.
func NewPublisher(cfg Config, store recordStore, producer producer, exec *resilience.Executor, logger *slog.Logger) *Publisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:      cfg,
		store:    store,
		producer: producer,
		exec:     exec,
		logger:   logger.With("component", "outbox-publisher"),
		lockID:   uuid.NewString(),
	}
}

// SetMirror enables mirroring successfully published payloads to a secondary
// subject.
func (p *Publisher) SetMirror(m mirror, subject string) {
	p.mirror = m
	p.mirrorSubject = subject
}

// Run polls for claimable records until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("starting outbox publisher",
		"poll_interval", p.cfg.PollInterval,
		"batch_size", p.cfg.BatchSize,
		"lock_id", p.lockID,
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.publishOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Error("publish sweep failed", "error", err)
			}
		}
	}
}

func (p *Publisher) publishOnce(ctx context.Context) error {
	var records []storage.OutboxRecord
	err := p.exec.Execute(ctx, "database", "outbox.claim", func(ctx context.Context) error {
		var claimErr error
		records, claimErr = p.store.ClaimBatch(ctx, p.lockID, p.cfg.BatchSize, p.cfg.LockTimeout)
		return claimErr
	})
	if err != nil {
		return fmt.Errorf("claim batch: %w", err)
	}

	for _, rec := range records {
		p.publishRecord(ctx, rec)
	}
	return nil
}

func (p *Publisher) publishRecord(ctx context.Context, rec storage.OutboxRecord) {
	record, err := p.brokerRecord(rec)
	if err != nil {
		// Structurally invalid payload; retrying cannot fix it, but the
		// attempt and error are recorded for the operator.
		p.logger.Error("invalid outbox payload", "outbox_id", rec.OutboxID, "error", err)
		p.recordFailure(ctx, rec.OutboxID, err)
		return
	}

	err = p.exec.Execute(ctx, "broker", "outbox.publish", func(ctx context.Context) error {
		return p.producer.ProduceSync(ctx, record).FirstErr()
	})
	if err != nil {
		p.logger.Warn("outbox publish failed", "outbox_id", rec.OutboxID, "error", err)
		p.recordFailure(ctx, rec.OutboxID, err)
		return
	}

	if err := p.store.MarkPublished(ctx, rec.OutboxID); err != nil {
		// The broker accepted the record; the lock timeout will surface this
		// row again and the consumer's dedup claim absorbs the duplicate.
		p.logger.Error("mark published failed", "outbox_id", rec.OutboxID, "error", err)
		return
	}

	p.logger.Info("published outbox record",
		"outbox_id", rec.OutboxID,
		"event_type", rec.EventType,
		"attempts", rec.PublishAttempts+1,
	)

	if p.mirror != nil {
		if err := p.mirror.Publish(ctx, p.mirrorSubject, rec.Payload); err != nil {
			p.logger.Warn("mirror publish failed", "outbox_id", rec.OutboxID, "error", err)
		}
	}
}

// brokerRecord builds the broker record, keying by author id so one author's
// posts share a partition. The key comes from typed deserialization of the
// payload, not ad hoc field extraction.
func (p *Publisher) brokerRecord(rec storage.OutboxRecord) (*kgo.Record, error) {
	event, err := eventv1.DecodePostCreated(rec.Payload)
	if err != nil {
		return nil, err
	}

	return &kgo.Record{
		Topic: eventv1.TopicPostCreated,
		Key:   []byte(event.AuthorID),
		Value: rec.Payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "event_type", Value: []byte(rec.EventType)},
			{Key: "schema_version", Value: []byte(fmt.Sprintf("%d", rec.SchemaVersion))},
		},
	}, nil
}

func (p *Publisher) recordFailure(ctx context.Context, outboxID string, cause error) {
	if err := p.store.RecordFailure(ctx, outboxID, cause.Error()); err != nil {
		p.logger.Error("record failure failed", "outbox_id", outboxID, "error", err)
	}
}
