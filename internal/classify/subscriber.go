package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/weni-ai/conversation-ingestor/internal/natsclient"
	"github.com/weni-ai/conversation-ingestor/internal/observability"
	"github.com/weni-ai/conversation-ingestor/internal/sideeffect"
)

// ConsumerSource creates or attaches to the durable JetStream consumer the
// Subscriber pulls classification jobs from. internal/natsclient.Client
// satisfies this.
type ConsumerSource interface {
	EnsureConsumer(ctx context.Context, streamName string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
}

// Subscriber pulls classification jobs off the durable consumer and hands
// each to a Worker, acking only once HandleJob succeeds.
type Subscriber struct {
	source     ConsumerSource
	streamName string
	subject    string
	worker     *Worker
	metrics    *observability.Metrics
	log        *slog.Logger

	consCtx jetstream.ConsumeContext
	cancel  context.CancelFunc
}

func NewSubscriber(source ConsumerSource, streamName, subject string, worker *Worker, metrics *observability.Metrics, log *slog.Logger) *Subscriber {
	return &Subscriber{
		source:     source,
		streamName: streamName,
		subject:    subject,
		worker:     worker,
		metrics:    metrics,
		log:        log.With(slog.String("component", "classification_subscriber")),
	}
}

// Start ensures the durable consumer and begins pulling messages in the
// background. Call Stop to drain in-flight work.
func (s *Subscriber) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	consumer, err := s.source.EnsureConsumer(ctx, s.streamName, natsclient.ClassificationConsumerConfig(s.subject))
	if err != nil {
		cancel()
		return fmt.Errorf("ensure classification consumer: %w", err)
	}

	consCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handleMessage(ctx, msg)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start classification consume: %w", err)
	}
	s.consCtx = consCtx

	s.log.InfoContext(ctx, "classification subscriber started", slog.String("subject", s.subject))
	return nil
}

// Stop halts message delivery. It does not wait for in-flight HandleJob
// calls; JetStream redelivers anything not yet acked.
func (s *Subscriber) Stop() {
	if s.consCtx != nil {
		s.consCtx.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Subscriber) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var job sideeffect.ClassificationJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		s.log.ErrorContext(ctx, "malformed classification job, terminating redelivery",
			slog.String("error", err.Error()))
		if termErr := msg.Term(); termErr != nil {
			s.log.ErrorContext(ctx, "failed to term malformed job", slog.String("error", termErr.Error()))
		}
		return
	}

	if err := s.worker.HandleJob(ctx, job); err != nil {
		s.log.ErrorContext(ctx, "classification job failed, nak for redelivery",
			slog.String("conversation_id", job.ConversationID.String()), slog.String("error", err.Error()))
		if nakErr := msg.Nak(); nakErr != nil {
			s.log.ErrorContext(ctx, "failed to nak classification job", slog.String("error", nakErr.Error()))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		s.log.ErrorContext(ctx, "failed to ack classification job", slog.String("error", err.Error()))
	}
}
