package outbox

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type backlogStore interface {
	Backlog(ctx context.Context) (int64, error)
}

// BacklogGauge periodically samples the count of unpublished outbox records.
// A growing backlog means publishing is falling behind writes.
type BacklogGauge struct {
	store    backlogStore
	interval time.Duration
	logger   *slog.Logger
	last     atomic.Int64
}

// NewBacklogGauge samples with the given interval; zero means 10s.
func NewBacklogGauge(store backlogStore, interval time.Duration, logger *slog.Logger) *BacklogGauge {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BacklogGauge{
		store:    store,
		interval: interval,
		logger:   logger.With("component", "outbox-backlog"),
	}
}

// Run samples until the context is cancelled.
func (g *BacklogGauge) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := g.store.Backlog(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				g.logger.Warn("backlog probe failed", "error", err)
				continue
			}
			g.last.Store(count)
			g.logger.Info("outbox backlog", "unpublished", count)
		}
	}
}

// Last returns the most recent sample.
func (g *BacklogGauge) Last() int64 {
	return g.last.Load()
}
