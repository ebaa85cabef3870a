// Package registry implements the Conversation state machine: lookup,
// creation, resolution transitions, and the single-active-conversation
// invariant per (project, contact, channel).
package registry

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/weni-ai/conversation-ingestor/internal/durablestore"
	"github.com/weni-ai/conversation-ingestor/internal/logging"
)

// Store is the subset of durablestore.Store the Registry depends on.
type Store interface {
	EnsureActiveConversation(ctx context.Context, projectID uuid.UUID, contactURN string, channelUUID uuid.UUID, contactName string) (durablestore.Conversation, []uuid.UUID, error)
	ApplyConversationWindow(ctx context.Context, projectID uuid.UUID, contactURN string, channelUUID uuid.UUID, patch durablestore.ConversationPatch, defaultContactName string) (durablestore.Conversation, bool, bool, error)
	UpdateConversationFields(ctx context.Context, conversationID uuid.UUID, patch durablestore.ConversationPatch) (durablestore.Conversation, bool, bool, error)
}

// CloseHandler is invoked whenever a conversation transitions out of
// IN_PROGRESS, so the Migration Service and classification enqueue can run
// within the same logical unit as the triggering write.
type CloseHandler interface {
	OnConversationClosed(ctx context.Context, conversation durablestore.Conversation)
}

type Registry struct {
	store Store
	close CloseHandler
	log   *slog.Logger
}

func New(store Store, close CloseHandler, log *slog.Logger) *Registry {
	return &Registry{store: store, close: close, log: log}
}

// EnsureActive implements spec §4.3's EnsureActive. Returns (nil, nil) for
// an empty channel_uuid per step 1 — no conversation is created, and the
// caller still acknowledges the message.
func (r *Registry) EnsureActive(ctx context.Context, projectID uuid.UUID, contactURN, contactName string, channelUUID *uuid.UUID) (*durablestore.Conversation, error) {
	logger := logging.ContextLogger(ctx, r.log)

	if channelUUID == nil || *channelUUID == uuid.Nil {
		logger.WarnContext(ctx, "message without channel_uuid, no conversation created",
			slog.String("project_id", projectID.String()),
			slog.String("contact_urn", contactURN))
		return nil, nil
	}

	conversation, demoted, err := r.store.EnsureActiveConversation(ctx, projectID, contactURN, *channelUUID, contactName)
	if err != nil {
		return nil, err
	}

	if len(demoted) > 0 {
		logger.WarnContext(ctx, "healed duplicate active conversations",
			slog.String("project_id", projectID.String()),
			slog.String("contact_urn", contactURN),
			slog.String("channel_uuid", channelUUID.String()),
			slog.String("kept_conversation_id", conversation.ID.String()),
			slog.Int("demoted_count", len(demoted)))
	}

	return &conversation, nil
}

// ApplyWindow implements spec §4.3's ApplyWindow. On a close transition it
// invokes the registered CloseHandler before returning.
func (r *Registry) ApplyWindow(ctx context.Context, projectID uuid.UUID, contactURN string, channelUUID uuid.UUID, patch durablestore.ConversationPatch, defaultContactName string) (durablestore.Conversation, error) {
	conversation, wasInProgress, closed, err := r.store.ApplyConversationWindow(ctx, projectID, contactURN, channelUUID, patch, defaultContactName)
	if err != nil {
		return durablestore.Conversation{}, err
	}

	logger := logging.ContextLogger(ctx, r.log)
	logger.InfoContext(ctx, "applied conversation window",
		slog.String("conversation_id", conversation.ID.String()),
		slog.Bool("was_in_progress", wasInProgress),
		slog.Bool("closed", closed),
		slog.String("resolution", conversation.Resolution.String()))

	if closed && r.close != nil {
		r.close.OnConversationClosed(ctx, conversation)
	}
	return conversation, nil
}

// UpdateFields implements spec §4.3's UpdateFields. On a close transition
// it invokes the registered CloseHandler before returning, within the same
// call — per spec, migration and classification enqueue must fire "after
// the save, within the same logical unit."
func (r *Registry) UpdateFields(ctx context.Context, conversationID uuid.UUID, patch durablestore.ConversationPatch) (durablestore.Conversation, error) {
	conversation, wasInProgress, closed, err := r.store.UpdateConversationFields(ctx, conversationID, patch)
	if err != nil {
		return durablestore.Conversation{}, err
	}

	if closed {
		logger := logging.ContextLogger(ctx, r.log)
		logger.InfoContext(ctx, "conversation closed via field update",
			slog.String("conversation_id", conversation.ID.String()),
			slog.Bool("was_in_progress", wasInProgress))
		if r.close != nil {
			r.close.OnConversationClosed(ctx, conversation)
		}
	}
	return conversation, nil
}
