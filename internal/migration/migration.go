// Package migration moves a conversation's transcript from the hot
// message store to the durable relational store once the conversation
// closes, and triggers classification of the archived result.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weni-ai/conversation-ingestor/internal/durablestore"
	"github.com/weni-ai/conversation-ingestor/internal/hotstore"
	"github.com/weni-ai/conversation-ingestor/internal/locks"
	"github.com/weni-ai/conversation-ingestor/internal/logging"
	"github.com/weni-ai/conversation-ingestor/internal/observability"
)

const (
	lockKeyPrefix    = "migration"
	migrationLockTTL = 30 // seconds
)

// HotStore is the subset of hotstore.Store the Migration Service reads and
// clears.
type HotStore interface {
	GetAllMessages(ctx context.Context, key string) ([]hotstore.Item, error)
	DeleteAll(ctx context.Context, items []hotstore.Item) error
}

// DurableStore is the subset of durablestore.Store the Migration Service
// writes to.
type DurableStore interface {
	ArchiveMessages(ctx context.Context, conversationID uuid.UUID, messages []durablestore.ArchivedMessage) error
}

// ClassificationEnqueuer schedules the asynchronous classification job for
// a closed conversation. Implemented by internal/sideeffect.
type ClassificationEnqueuer interface {
	EnqueueClassification(ctx context.Context, conversation durablestore.Conversation) error
}

// Service implements registry.CloseHandler: every time the Conversation
// Registry closes a conversation it is handed here to drain the hot store
// and hand off for classification.
type Service struct {
	hotStore     HotStore
	durableStore DurableStore
	locks        locks.Manager
	classify     ClassificationEnqueuer
	metrics      *observability.Metrics
	log          *slog.Logger
}

func New(hotStore HotStore, durableStore DurableStore, lockManager locks.Manager, classify ClassificationEnqueuer, metrics *observability.Metrics, log *slog.Logger) *Service {
	return &Service{
		hotStore:     hotStore,
		durableStore: durableStore,
		locks:        lockManager,
		classify:     classify,
		metrics:      metrics,
		log:          log,
	}
}

// OnConversationClosed runs the migration in the background so the
// Conversation Registry's caller is never blocked on it, per spec §4.6.
func (s *Service) OnConversationClosed(ctx context.Context, conversation durablestore.Conversation) {
	bgCtx := observability.AsyncContext(observability.AsyncContextOptions{
		Logger:    s.log,
		Component: "migration",
		GroupKey:  conversation.ID.String(),
	})
	go func() {
		if err := s.migrate(bgCtx, conversation); err != nil {
			logging.ContextLogger(bgCtx, s.log).ErrorContext(bgCtx, "conversation migration failed",
				slog.String("conversation_id", conversation.ID.String()), slog.String("error", err.Error()))
			observability.CaptureWorkerException(bgCtx, "migration", conversation.ID.String(), err)
		}
	}()
}

// migrate implements spec §4.6: acquire the per-conversation lock, read
// every hot-store item, upsert the durable transcript, best-effort clear
// the hot store, enqueue classification, release the lock.
func (s *Service) migrate(ctx context.Context, conversation durablestore.Conversation) error {
	logger := logging.ContextLogger(ctx, s.log)

	lockKey := fmt.Sprintf("%s:%s", lockKeyPrefix, conversation.ID)
	lock, acquired, err := s.locks.Acquire(ctx, lockKey, migrationLockTTL)
	if err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if !acquired {
		logger.InfoContext(ctx, "migration already in progress elsewhere, skipping",
			slog.String("conversation_id", conversation.ID.String()))
		return nil
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logger.WarnContext(ctx, "failed to release migration lock",
				slog.String("conversation_id", conversation.ID.String()), slog.String("error", err.Error()))
		}
	}()

	start := time.Now()

	if conversation.ChannelUUID == nil {
		return fmt.Errorf("conversation %s has no channel_uuid, cannot derive hot-store key", conversation.ID)
	}
	key := hotstore.ConversationKey(conversation.ProjectID, conversation.ContactURN, *conversation.ChannelUUID)

	items, err := s.hotStore.GetAllMessages(ctx, key)
	if err != nil {
		return fmt.Errorf("read hot messages: %w", err)
	}

	messages := make([]durablestore.ArchivedMessage, 0, len(items))
	for _, item := range items {
		createdAt, parseErr := time.Parse("2006-01-02T15:04:05", item.CreatedAt)
		if parseErr != nil {
			createdAt = time.Now().UTC()
		}
		messages = append(messages, durablestore.ArchivedMessage{
			Text:      item.Text,
			Source:    item.Source,
			CreatedAt: createdAt,
		})
	}

	if err := s.durableStore.ArchiveMessages(ctx, conversation.ID, messages); err != nil {
		return fmt.Errorf("archive messages: %w", err)
	}

	// Best-effort: a failure here is logged but does not roll back the
	// archive write above, per spec §4.6 step 5.
	if err := s.hotStore.DeleteAll(ctx, items); err != nil {
		logger.ErrorContext(ctx, "failed to clear hot store after migration",
			slog.String("conversation_id", conversation.ID.String()), slog.String("error", err.Error()))
	}

	if s.metrics != nil {
		s.metrics.ConversationsMigrated.Inc()
		s.metrics.MigrationDuration.Observe(time.Since(start).Seconds())
	}

	logger.InfoContext(ctx, "conversation migrated",
		slog.String("conversation_id", conversation.ID.String()), slog.Int("message_count", len(messages)))

	if s.classify != nil {
		if err := s.classify.EnqueueClassification(ctx, conversation); err != nil {
			logger.ErrorContext(ctx, "failed to enqueue classification",
				slog.String("conversation_id", conversation.ID.String()), slog.String("error", err.Error()))
		}
	}

	return nil
}
