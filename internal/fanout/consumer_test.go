package fanout

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	eventv1 "github.com/eduardonaguiar/socialmedia/pkg/event/v1"
)

type fakeKafkaClient struct {
	committed  []*kgo.Record
	setOffsets []map[string]map[int32]kgo.EpochOffset
	paused     int
	resumed    int
}

func (f *fakeKafkaClient) PollFetches(ctx context.Context) kgo.Fetches { return nil }

func (f *fakeKafkaClient) CommitRecords(ctx context.Context, rs ...*kgo.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.committed = append(f.committed, rs...)
	return nil
}

func (f *fakeKafkaClient) SetOffsets(offsets map[string]map[int32]kgo.EpochOffset) {
	f.setOffsets = append(f.setOffsets, offsets)
}

func (f *fakeKafkaClient) PauseFetchTopics(topics ...string) []string {
	f.paused++
	return topics
}

func (f *fakeKafkaClient) ResumeFetchTopics(topics ...string) {
	f.resumed++
}

func (f *fakeKafkaClient) Close() {}

type fixedLag struct{ lag int64 }

func (l fixedLag) GroupLag(context.Context, string) (int64, error) { return l.lag, nil }

func eventRecord(t *testing.T, eventID string, offset int64) *kgo.Record {
	t.Helper()
	payload, err := json.Marshal(testEvent(eventID))
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return &kgo.Record{
		Topic:     eventv1.TopicPostCreated,
		Partition: 0,
		Offset:    offset,
		Value:     payload,
	}
}

func newTestConsumer(t *testing.T, g *graphFixture, client consumerClient, mutate func(*Config)) *Consumer {
	t.Helper()
	proc, _ := newTestProcessor(t, g)
	cfg := proc.cfg
	cfg.FailureBackoff = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewConsumer(cfg, client, proc, nil, logger)
}

func TestProcessPartitionCommitsInReceiptOrder(t *testing.T) {
	g := &graphFixture{followerCount: 150000}
	client := &fakeKafkaClient{}
	consumer := newTestConsumer(t, g, client, nil)

	records := []*kgo.Record{
		eventRecord(t, "e1", 10),
		eventRecord(t, "e2", 11),
	}
	consumer.processPartition(context.Background(), eventv1.TopicPostCreated, 0, records)

	if len(client.committed) != 2 {
		t.Fatalf("committed %d records, want 2", len(client.committed))
	}
	if client.committed[0].Offset != 10 || client.committed[1].Offset != 11 {
		t.Errorf("commit order = %d,%d, want receipt order", client.committed[0].Offset, client.committed[1].Offset)
	}
	if len(client.setOffsets) != 0 {
		t.Errorf("unexpected rewind: %v", client.setOffsets)
	}
}

func TestProcessPartitionDropsPoisonRecords(t *testing.T) {
	g := &graphFixture{followerCount: 150000}
	client := &fakeKafkaClient{}
	consumer := newTestConsumer(t, g, client, nil)

	poison := &kgo.Record{
		Topic:     eventv1.TopicPostCreated,
		Partition: 0,
		Offset:    5,
		Value:     []byte("{not an event"),
	}
	consumer.processPartition(context.Background(), eventv1.TopicPostCreated, 0, []*kgo.Record{poison})

	if len(client.committed) != 1 || client.committed[0].Offset != 5 {
		t.Fatalf("poison record must be committed and dropped, committed = %v", client.committed)
	}
	if len(client.setOffsets) != 0 {
		t.Errorf("poison record must not rewind the partition")
	}
}

func TestProcessPartitionRewindsOnFailure(t *testing.T) {
	g := &graphFixture{failStats: true}
	client := &fakeKafkaClient{}
	consumer := newTestConsumer(t, g, client, nil)

	records := []*kgo.Record{
		eventRecord(t, "e1", 20),
		eventRecord(t, "e2", 21),
	}
	consumer.processPartition(context.Background(), eventv1.TopicPostCreated, 0, records)

	if len(client.setOffsets) != 1 {
		t.Fatalf("got %d rewinds, want 1", len(client.setOffsets))
	}
	offset := client.setOffsets[0][eventv1.TopicPostCreated][0]
	if offset.Offset != 20 {
		t.Errorf("rewound to %d, want failed offset 20", offset.Offset)
	}
	if len(client.committed) != 0 {
		t.Errorf("failed batch must not commit, committed = %v", client.committed)
	}
}

func TestProcessPartitionDropsAfterRewindBudget(t *testing.T) {
	g := &graphFixture{failStats: true}
	client := &fakeKafkaClient{}
	consumer := newTestConsumer(t, g, client, func(cfg *Config) {
		cfg.MaxFailureRewinds = 1
	})

	rec := eventRecord(t, "e1", 30)
	ctx := context.Background()

	consumer.processPartition(ctx, eventv1.TopicPostCreated, 0, []*kgo.Record{rec})
	if len(client.setOffsets) != 1 {
		t.Fatalf("first failure should rewind, got %d", len(client.setOffsets))
	}
	if len(client.committed) != 0 {
		t.Fatalf("first failure must not commit")
	}

	consumer.processPartition(ctx, eventv1.TopicPostCreated, 0, []*kgo.Record{rec})
	if len(client.committed) != 1 || client.committed[0].Offset != 30 {
		t.Fatalf("second failure should commit and drop, committed = %v", client.committed)
	}
}

func TestProcessPartitionShutdownKeepsUnfinishedUncommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := &graphFixture{followerCount: 150000}
	g.onStats = func() {
		// Shut down mid-flight while the second record is being processed.
		if g.statsCalls == 2 {
			cancel()
			g.failStats = true
		}
	}
	client := &fakeKafkaClient{}
	consumer := newTestConsumer(t, g, client, nil)

	records := []*kgo.Record{
		eventRecord(t, "e1", 40),
		eventRecord(t, "e2", 41),
	}
	consumer.processPartition(ctx, eventv1.TopicPostCreated, 0, records)

	// The finished record commits even though the loop context is cancelled;
	// the interrupted one must not, and must not rewind either.
	if len(client.committed) != 1 || client.committed[0].Offset != 40 {
		t.Fatalf("committed = %v, want only the completed offset 40", client.committed)
	}
	if len(client.setOffsets) != 0 {
		t.Errorf("shutdown must not rewind, got %v", client.setOffsets)
	}
}

func TestCheckLagPausesAndResumesIntake(t *testing.T) {
	g := &graphFixture{followerCount: 1}
	client := &fakeKafkaClient{}
	consumer := newTestConsumer(t, g, client, func(cfg *Config) {
		cfg.MaxLag = 100
		cfg.LagCheckInterval = time.Hour
		cfg.LagCooldown = 5 * time.Millisecond
	})
	consumer.lag = fixedLag{lag: 5000}

	ctx := context.Background()
	consumer.checkLag(ctx)
	if client.paused != 1 {
		t.Fatalf("paused = %d, want intake paused on lag", client.paused)
	}

	time.Sleep(10 * time.Millisecond)
	consumer.checkLag(ctx)
	if client.resumed != 1 {
		t.Fatalf("resumed = %d, want intake resumed after cooldown", client.resumed)
	}
}
