package classify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weni-ai/conversation-ingestor/internal/durablestore"
	"github.com/weni-ai/conversation-ingestor/internal/hotstore"
	"github.com/weni-ai/conversation-ingestor/internal/observability"
	"github.com/weni-ai/conversation-ingestor/internal/sideeffect"
)

type fakeHotStore struct {
	items []hotstore.Item
	err   error
}

func (f *fakeHotStore) GetAllMessages(ctx context.Context, key string) ([]hotstore.Item, error) {
	return f.items, f.err
}

type fakeArchiveStore struct {
	conversation durablestore.Conversation
	conversationErr error
	archived     durablestore.ArchivedMessages
	archivedErr  error
	topics       []durablestore.TopicWithSubTopics
	topicsErr    error
	saved        *durablestore.Classification
	saveErr      error
}

func (f *fakeArchiveStore) FindConversation(ctx context.Context, id uuid.UUID) (durablestore.Conversation, error) {
	return f.conversation, f.conversationErr
}

func (f *fakeArchiveStore) FindArchivedMessages(ctx context.Context, conversationID uuid.UUID) (durablestore.ArchivedMessages, error) {
	return f.archived, f.archivedErr
}

func (f *fakeArchiveStore) Topics(ctx context.Context) ([]durablestore.TopicWithSubTopics, error) {
	return f.topics, f.topicsErr
}

func (f *fakeArchiveStore) SaveClassification(ctx context.Context, c durablestore.Classification) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = &c
	return nil
}

type fakeClassifier struct {
	request Request
	result  Result
	err     error
}

func (f *fakeClassifier) Classify(ctx context.Context, req Request) (Result, error) {
	f.request = req
	return f.result, f.err
}

func testMetrics() *observability.Metrics {
	return observability.NewMetrics("classify_test", prometheus.NewRegistry())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_HandleJob_PrefersHotStoreTranscript(t *testing.T) {
	channelUUID := uuid.New()
	conversationID := uuid.New()
	topicID := uuid.New()

	hotStore := &fakeHotStore{items: []hotstore.Item{
		{Text: "hello", Source: "incoming", CreatedAt: "2026-07-31T10:00:00"},
	}}
	archiveStore := &fakeArchiveStore{
		conversation: durablestore.Conversation{ID: conversationID, ProjectID: uuid.New(), ChannelUUID: &channelUUID},
		topics: []durablestore.TopicWithSubTopics{
			{Topic: durablestore.Topic{ID: topicID, Name: "billing"}},
		},
	}
	classifier := &fakeClassifier{result: Result{TopicUUID: &topicID, Confidence: 0.9}}

	worker := NewWorker(hotStore, archiveStore, classifier, testMetrics(), testLogger())

	err := worker.HandleJob(context.Background(), sideeffect.ClassificationJob{ConversationID: conversationID})
	require.NoError(t, err)

	require.Len(t, classifier.request.Messages, 1)
	assert.Equal(t, "hello", classifier.request.Messages[0].Content)
	assert.Equal(t, defaultLanguage, classifier.request.Language)
	require.NotNil(t, archiveStore.saved)
	assert.Equal(t, topicID, *archiveStore.saved.TopicID)
	assert.Equal(t, 0.9, archiveStore.saved.Confidence)
}

func TestWorker_HandleJob_FallsBackToArchivedTranscript(t *testing.T) {
	conversationID := uuid.New()

	hotStore := &fakeHotStore{items: nil}
	archiveStore := &fakeArchiveStore{
		conversation: durablestore.Conversation{ID: conversationID, ProjectID: uuid.New()},
		archived: durablestore.ArchivedMessages{
			Messages: []durablestore.ArchivedMessage{
				{Text: "archived message", Source: "outgoing", CreatedAt: time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)},
			},
		},
	}
	classifier := &fakeClassifier{result: Result{Confidence: 0.1}}

	worker := NewWorker(hotStore, archiveStore, classifier, testMetrics(), testLogger())

	err := worker.HandleJob(context.Background(), sideeffect.ClassificationJob{ConversationID: conversationID})
	require.NoError(t, err)
	require.Len(t, classifier.request.Messages, 1)
	assert.Equal(t, "archived message", classifier.request.Messages[0].Content)
}

func TestWorker_HandleJob_ClassifierFailureIsReturned(t *testing.T) {
	conversationID := uuid.New()
	archiveStore := &fakeArchiveStore{
		conversation: durablestore.Conversation{ID: conversationID, ProjectID: uuid.New()},
	}
	classifier := &fakeClassifier{err: errors.New("lambda timeout")}

	worker := NewWorker(&fakeHotStore{}, archiveStore, classifier, testMetrics(), testLogger())

	err := worker.HandleJob(context.Background(), sideeffect.ClassificationJob{ConversationID: conversationID})
	require.Error(t, err)
	assert.Nil(t, archiveStore.saved)
}
