package classify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/weni-ai/conversation-ingestor/internal/durablestore"
	"github.com/weni-ai/conversation-ingestor/internal/hotstore"
	"github.com/weni-ai/conversation-ingestor/internal/observability"
	"github.com/weni-ai/conversation-ingestor/internal/sideeffect"
)

const timestampLayout = "2006-01-02T15:04:05"

// HotStore is the subset of hotstore.Store the worker reads from. A
// conversation's hot-store partition may already be empty by the time the
// job runs if migration raced ahead; that is not an error, it just means
// the archived fallback applies.
type HotStore interface {
	GetAllMessages(ctx context.Context, key string) ([]hotstore.Item, error)
}

// ArchiveStore is the subset of durablestore.Store the worker needs: the
// conversation itself, its archived transcript, the reference taxonomy,
// and the place to write the verdict.
type ArchiveStore interface {
	FindConversation(ctx context.Context, id uuid.UUID) (durablestore.Conversation, error)
	FindArchivedMessages(ctx context.Context, conversationID uuid.UUID) (durablestore.ArchivedMessages, error)
	Topics(ctx context.Context) ([]durablestore.TopicWithSubTopics, error)
	SaveClassification(ctx context.Context, c durablestore.Classification) error
}

// Worker resolves a classification job to a transcript, invokes the
// remote classifier, and persists the result.
type Worker struct {
	hotStore     HotStore
	archiveStore ArchiveStore
	classifier   Classifier
	metrics      *observability.Metrics
	log          *slog.Logger
}

func NewWorker(hotStore HotStore, archiveStore ArchiveStore, classifier Classifier, metrics *observability.Metrics, log *slog.Logger) *Worker {
	return &Worker{
		hotStore:     hotStore,
		archiveStore: archiveStore,
		classifier:   classifier,
		metrics:      metrics,
		log:          log.With(slog.String("component", "classify_worker")),
	}
}

// HandleJob resolves, classifies, and persists the verdict for one
// classification job. Errors are returned for the caller to decide
// redelivery policy on; nothing here acks or deletes a queue message.
func (w *Worker) HandleJob(ctx context.Context, job sideeffect.ClassificationJob) error {
	conversation, err := w.archiveStore.FindConversation(ctx, job.ConversationID)
	if err != nil {
		w.fail("conversation_lookup")
		return fmt.Errorf("find conversation %s: %w", job.ConversationID, err)
	}

	messages, err := w.resolveMessages(ctx, conversation)
	if err != nil {
		w.fail("transcript_lookup")
		return fmt.Errorf("resolve transcript for %s: %w", job.ConversationID, err)
	}

	topics, err := w.archiveStore.Topics(ctx)
	if err != nil {
		w.fail("topics_lookup")
		return fmt.Errorf("load topics: %w", err)
	}

	request := Request{
		ProjectUUID:      conversation.ProjectID,
		ConversationUUID: conversation.ID,
		Messages:         messages,
		Topics:           toTopics(topics),
		Language:         defaultLanguage,
	}

	result, err := w.classifier.Classify(ctx, request)
	if err != nil {
		w.fail("classifier_invoke")
		return fmt.Errorf("classify conversation %s: %w", conversation.ID, err)
	}

	classification := durablestore.Classification{
		ConversationID: conversation.ID,
		TopicID:        result.TopicUUID,
		SubTopicID:     result.SubTopicUUID,
		Confidence:     result.Confidence,
	}
	if err := w.archiveStore.SaveClassification(ctx, classification); err != nil {
		w.fail("save_classification")
		return fmt.Errorf("save classification for %s: %w", conversation.ID, err)
	}

	w.log.InfoContext(ctx, "classified conversation",
		slog.String("conversation_id", conversation.ID.String()),
		slog.Float64("confidence", result.Confidence))
	return nil
}

// resolveMessages prefers the hot store, since a conversation migrated
// moments ago is cheaper to read there; it falls back to the archived
// transcript once the hot-store partition has been drained.
func (w *Worker) resolveMessages(ctx context.Context, conversation durablestore.Conversation) ([]Message, error) {
	if conversation.ChannelUUID != nil {
		key := hotstore.ConversationKey(conversation.ProjectID, conversation.ContactURN, *conversation.ChannelUUID)
		items, err := w.hotStore.GetAllMessages(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read hot store: %w", err)
		}
		if len(items) > 0 {
			return toMessagesFromItems(items), nil
		}
	}

	archived, err := w.archiveStore.FindArchivedMessages(ctx, conversation.ID)
	if err != nil {
		return nil, fmt.Errorf("read archived messages: %w", err)
	}
	return toMessagesFromArchived(archived.Messages), nil
}

func (w *Worker) fail(reason string) {
	w.metrics.ClassificationFailures.WithLabelValues(reason).Inc()
}

func toMessagesFromItems(items []hotstore.Item) []Message {
	messages := make([]Message, 0, len(items))
	for _, item := range items {
		messages = append(messages, Message{
			Sender:    item.Source,
			Timestamp: item.CreatedAt,
			Content:   item.Text,
		})
	}
	return messages
}

func toMessagesFromArchived(archived []durablestore.ArchivedMessage) []Message {
	messages := make([]Message, 0, len(archived))
	for _, m := range archived {
		messages = append(messages, Message{
			Sender:    m.Source,
			Timestamp: m.CreatedAt.Format(timestampLayout),
			Content:   m.Text,
		})
	}
	return messages
}

func toTopics(stored []durablestore.TopicWithSubTopics) []Topic {
	topics := make([]Topic, 0, len(stored))
	for _, t := range stored {
		subtopics := make([]SubTopic, 0, len(t.SubTopics))
		for _, s := range t.SubTopics {
			subtopics = append(subtopics, SubTopic{
				SubTopicUUID: s.ID,
				Name:         s.Name,
				Description:  s.Description,
			})
		}
		topics = append(topics, Topic{
			TopicUUID:   t.Topic.ID,
			Name:        t.Topic.Name,
			Description: t.Topic.Description,
			SubTopics:   subtopics,
		})
	}
	return topics
}
