// Package ingest is the Ingestion Pipeline: decode -> ensure conversation
// -> persist to hot store -> side-effects, sequenced per message group by
// the Coordinator.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/weni-ai/conversation-ingestor/internal/decode"
	"github.com/weni-ai/conversation-ingestor/internal/durablestore"
	"github.com/weni-ai/conversation-ingestor/internal/hotstore"
	"github.com/weni-ai/conversation-ingestor/internal/logging"
)

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}

const (
	sourceIncoming = "incoming"
	sourceOutgoing = "outgoing"

	// resolutionStatusInProgress mirrors durablestore.ResolutionInProgress;
	// hot-store writes always stamp the in-progress value because the
	// Hot Message Store guarantee forbids writing for any other state.
	resolutionStatusInProgress = 2

	keyCSAT = "weni_csat"
	keyNPS  = "weni_nps"
)

// Registry is the subset of registry.Registry the pipeline depends on.
type Registry interface {
	EnsureActive(ctx context.Context, projectID uuid.UUID, contactURN, contactName string, channelUUID *uuid.UUID) (*durablestore.Conversation, error)
	ApplyWindow(ctx context.Context, projectID uuid.UUID, contactURN string, channelUUID uuid.UUID, patch durablestore.ConversationPatch, defaultContactName string) (durablestore.Conversation, error)
	UpdateFields(ctx context.Context, conversationID uuid.UUID, patch durablestore.ConversationPatch) (durablestore.Conversation, error)
}

// HotStoreWriter is the subset of hotstore.Store the pipeline writes
// through.
type HotStoreWriter interface {
	Store(ctx context.Context, key string, msg hotstore.Message, resolutionStatus int, ttl time.Duration) error
}

// SideEffects is invoked for CSAT/NPS tags observed on an inbound message.
type SideEffects interface {
	DispatchFeedback(ctx context.Context, conversation durablestore.Conversation, key, value string) error
}

type Pipeline struct {
	registry    Registry
	hotStore    HotStoreWriter
	sideEffects SideEffects
	hotStoreTTL time.Duration
	log         *slog.Logger
}

func NewPipeline(registry Registry, hotStore HotStoreWriter, sideEffects SideEffects, hotStoreTTL time.Duration, log *slog.Logger) *Pipeline {
	return &Pipeline{
		registry:    registry,
		hotStore:    hotStore,
		sideEffects: sideEffects,
		hotStoreTTL: hotStoreTTL,
		log:         log,
	}
}

// Process handles one raw queue message per spec §4.5 and returns the
// Outcome the poll loop uses to decide whether to delete it.
func (p *Pipeline) Process(ctx context.Context, raw RawMessage) Outcome {
	logger := logging.ContextLogger(ctx, p.log)

	decoded, err := decode.Decode(raw.Body)
	if err != nil {
		if errors.Is(err, decode.ErrUnknownEventType) {
			logger.WarnContext(ctx, "unrecognized event type, acking without processing",
				slog.String("message_id", raw.MessageID), slog.String("error", err.Error()))
		} else {
			logger.ErrorContext(ctx, "malformed message payload, acking as poison pill",
				slog.String("message_id", raw.MessageID), slog.String("error", err.Error()))
		}
		return Rejected
	}

	switch evt := decoded.(type) {
	case decode.MessageEvent:
		return p.handleMessageEvent(ctx, logger, raw, evt)
	case decode.ConversationWindowEvent:
		return p.handleWindowEvent(ctx, logger, raw, evt)
	default:
		logger.ErrorContext(ctx, "decoded event of unexpected type", slog.String("message_id", raw.MessageID))
		return Rejected
	}
}

func (p *Pipeline) handleMessageEvent(ctx context.Context, logger *slog.Logger, raw RawMessage, evt decode.MessageEvent) Outcome {
	conversation, err := p.registry.EnsureActive(ctx, evt.ProjectUUID, evt.ContactURN, evt.Message.ContactName, evt.ChannelUUID)
	if err != nil {
		logger.ErrorContext(ctx, "ensure active conversation failed, deferring redelivery",
			slog.String("message_id", raw.MessageID), slog.String("error", err.Error()))
		return Deferred
	}
	if conversation == nil {
		// Missing channel_uuid: the message is still acknowledged, per
		// spec §4.5 step 3.b.
		return Processed
	}

	source := sourceIncoming
	if evt.EventType == decode.EventTypeMessageSent {
		source = sourceOutgoing
	}

	key := hotstore.ConversationKey(evt.ProjectUUID, evt.ContactURN, *evt.ChannelUUID)
	err = p.hotStore.Store(ctx, key, hotstore.Message{
		ID:        evt.Message.ID,
		Text:      evt.Message.Text,
		Source:    source,
		CreatedAt: evt.Message.CreatedAt.Format(time.RFC3339),
	}, resolutionStatusInProgress, p.hotStoreTTL)
	if err != nil {
		logger.ErrorContext(ctx, "hot store write failed, deferring redelivery",
			slog.String("message_id", raw.MessageID), slog.String("error", err.Error()))
		return Deferred
	}

	if (evt.Key == keyCSAT || evt.Key == keyNPS) && evt.Value != "" {
		p.applyFeedback(ctx, logger, *conversation, evt.Key, evt.Value)
	}

	return Processed
}

// applyFeedback persists the CSAT/NPS value on the conversation and
// dispatches the data-lake event. Failures here are logged and never
// abort acknowledgement of the inbound message, per spec §7.
func (p *Pipeline) applyFeedback(ctx context.Context, logger *slog.Logger, conversation durablestore.Conversation, key, value string) {
	patch := durablestore.ConversationPatch{}
	if key == keyCSAT {
		patch.CSAT = &value
	} else {
		if n, err := parseInt(value); err == nil {
			patch.NPS = &n
		}
	}

	if _, err := p.registry.UpdateFields(ctx, conversation.ID, patch); err != nil {
		logger.ErrorContext(ctx, "failed to record feedback on conversation",
			slog.String("conversation_id", conversation.ID.String()), slog.String("key", key), slog.String("error", err.Error()))
	}

	if p.sideEffects == nil {
		return
	}
	if err := p.sideEffects.DispatchFeedback(ctx, conversation, key, value); err != nil {
		logger.ErrorContext(ctx, "feedback side-effect failed",
			slog.String("conversation_id", conversation.ID.String()),
			slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (p *Pipeline) handleWindowEvent(ctx context.Context, logger *slog.Logger, raw RawMessage, evt decode.ConversationWindowEvent) Outcome {
	if evt.ChannelUUID == nil {
		logger.WarnContext(ctx, "conversation.window without channel_uuid, acking without processing",
			slog.String("message_id", raw.MessageID))
		return Rejected
	}

	hasChatsRoom := evt.HasChatsRoom
	patch := durablestore.ConversationPatch{
		ExternalID:   evt.ExternalID,
		StartDate:    evt.StartDate,
		EndDate:      evt.EndDate,
		HasChatsRoom: &hasChatsRoom,
	}
	if evt.ContactName != "" {
		patch.ContactName = &evt.ContactName
	}

	_, err := p.registry.ApplyWindow(ctx, evt.ProjectUUID, evt.ContactURN, *evt.ChannelUUID, patch, evt.ContactName)
	if err != nil {
		logger.ErrorContext(ctx, "apply window failed, deferring redelivery",
			slog.String("message_id", raw.MessageID), slog.String("error", err.Error()))
		return Deferred
	}
	return Processed
}
