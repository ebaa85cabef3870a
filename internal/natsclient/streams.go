package natsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamDataLake holds data-lake events (CSAT/NPS feedback) published
	// by the Side-Effect Dispatcher. Nothing in this service consumes it;
	// it exists so JetStream accepts the publish and the downstream
	// data-lake consumer can attach independently.
	StreamDataLake = "CONVERSATION_DATALAKE"

	// StreamClassification holds classification jobs enqueued by the
	// Migration Service once a conversation closes.
	StreamClassification = "CONVERSATION_CLASSIFICATION"

	// ClassificationConsumerDurable is the durable consumer name the
	// classification worker subscribes under.
	ClassificationConsumerDurable = "classification-worker"
)

// DataLakeStreamConfig returns the JetStream config for the data-lake
// events stream.
func DataLakeStreamConfig(subject string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       StreamDataLake,
		Subjects:   []string{subject},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     168 * time.Hour,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
		Duplicates: 2 * time.Minute,
	}
}

// ClassificationStreamConfig returns the JetStream config for the
// classification jobs stream.
func ClassificationStreamConfig(subject string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       StreamClassification,
		Subjects:   []string{subject},
		Retention:  jetstream.WorkQueuePolicy,
		MaxAge:     72 * time.Hour,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
		Duplicates: 2 * time.Minute,
	}
}

// ClassificationConsumerConfig returns the durable consumer config the
// classification worker uses. MaxAckPending bounds in-flight Lambda
// invocations so a slow classifier can't let unbounded jobs pile up.
func ClassificationConsumerConfig(subject string) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       ClassificationConsumerDurable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       time.Minute,
		MaxDeliver:    5,
		MaxAckPending: 20,
		BackOff:       []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute, 10 * time.Minute},
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
}

// EnsureStreams creates or updates every stream this service publishes
// to or consumes from.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, cfg Config) error {
	streams := []jetstream.StreamConfig{
		DataLakeStreamConfig(cfg.DataLakeSubject),
		ClassificationStreamConfig(cfg.ClassificationSubject),
	}
	for _, streamCfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("ensure stream %s: %w", streamCfg.Name, err)
		}
	}
	return nil
}

// EnsureConsumer creates or updates a durable consumer on streamName.
func (c *Client) EnsureConsumer(ctx context.Context, streamName string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return nil, ErrNotConnected
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, streamName, cfg)
	if err != nil {
		return nil, fmt.Errorf("ensure consumer %s on %s: %w", cfg.Durable, streamName, err)
	}
	return consumer, nil
}
