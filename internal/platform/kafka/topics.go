// Package kafka provides Kafka/Redpanda utilities for topic management and
// consumer-group lag measurement.
package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	eventv1 "github.com/eduardonaguiar/socialmedia/pkg/event/v1"
)

// TopicConfig defines the configuration for a Kafka topic.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	RetentionMs       int64
	CleanupPolicy     string
}

// DefaultTopicConfigs returns the default topic configurations.
func DefaultTopicConfigs() []TopicConfig {
	return []TopicConfig{
		{
			Name:              eventv1.TopicPostCreated,
			Partitions:        12,
			ReplicationFactor: 1,
			RetentionMs:       7 * 24 * 60 * 60 * 1000, // 7 days
			CleanupPolicy:     "delete",
		},
	}
}

// SplitBrokers turns a comma-separated broker list into seed addresses.
func SplitBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Admin wraps a kadm client for topic and group operations.
type Admin struct {
	admin *kadm.Client
}

// NewAdmin creates an Admin connected to the given brokers.
func NewAdmin(brokers string) (*Admin, error) {
	client, err := kgo.NewClient(kgo.SeedBrokers(SplitBrokers(brokers)...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Admin{admin: kadm.NewClient(client)}, nil
}

// EnsureTopics creates topics if they don't exist.
func (a *Admin) EnsureTopics(ctx context.Context, configs []TopicConfig) error {
	existing, err := a.admin.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	existingSet := make(map[string]bool)
	for _, t := range existing {
		existingSet[t.Topic] = true
	}

	for _, cfg := range configs {
		if existingSet[cfg.Name] {
			continue
		}
		if err := a.CreateTopic(ctx, cfg); err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}
	}

	return nil
}

// CreateTopic creates a single topic with the given configuration.
func (a *Admin) CreateTopic(ctx context.Context, cfg TopicConfig) error {
	resp, err := a.admin.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor,
		map[string]*string{
			"retention.ms":   stringPtr(fmt.Sprintf("%d", cfg.RetentionMs)),
			"cleanup.policy": stringPtr(cfg.CleanupPolicy),
		},
		cfg.Name,
	)
	if err != nil {
		return fmt.Errorf("create topic: %w", err)
	}

	for _, r := range resp {
		if r.Err != nil {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}

	return nil
}

// GroupLag returns the total delivery lag of a consumer group across every
// partition of the topics it consumes.
func (a *Admin) GroupLag(ctx context.Context, group string) (int64, error) {
	lags, err := a.admin.Lag(ctx, group)
	if err != nil {
		return 0, fmt.Errorf("fetch group lag: %w", err)
	}

	l, ok := lags[group]
	if !ok {
		return 0, fmt.Errorf("group %s not found", group)
	}
	if l.FetchErr != nil {
		return 0, fmt.Errorf("fetch group %s: %w", group, l.FetchErr)
	}
	if l.DescribeErr != nil {
		return 0, fmt.Errorf("describe group %s: %w", group, l.DescribeErr)
	}

	return l.Lag.Total(), nil
}

// WaitForTopic waits for a topic to be available.
func (a *Admin) WaitForTopic(ctx context.Context, topic string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		topics, err := a.admin.ListTopics(ctx, topic)
		if err == nil && len(topics) > 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return fmt.Errorf("timeout waiting for topic %s", topic)
}

// Close releases resources.
func (a *Admin) Close() {
	a.admin.Close()
}

func stringPtr(s string) *string {
	return &s
}
