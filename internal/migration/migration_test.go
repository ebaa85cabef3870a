package migration

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weni-ai/conversation-ingestor/internal/durablestore"
	"github.com/weni-ai/conversation-ingestor/internal/hotstore"
	"github.com/weni-ai/conversation-ingestor/internal/locks"
)

type fakeHotStore struct {
	mu      sync.Mutex
	items   []hotstore.Item
	deleted []hotstore.Item
}

func (f *fakeHotStore) GetAllMessages(ctx context.Context, key string) ([]hotstore.Item, error) {
	return f.items, nil
}

func (f *fakeHotStore) DeleteAll(ctx context.Context, items []hotstore.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, items...)
	return nil
}

type fakeDurableStore struct {
	mu       sync.Mutex
	archived map[uuid.UUID][]durablestore.ArchivedMessage
}

func (f *fakeDurableStore) ArchiveMessages(ctx context.Context, conversationID uuid.UUID, messages []durablestore.ArchivedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.archived == nil {
		f.archived = map[uuid.UUID][]durablestore.ArchivedMessage{}
	}
	f.archived[conversationID] = messages
	return nil
}

type fakeLockManager struct {
	denyOnce bool
}

type fakeLock struct{}

func (fakeLock) Refresh(ctx context.Context, ttlSeconds int) error { return nil }
func (fakeLock) Release(ctx context.Context) error                 { return nil }
func (fakeLock) GetValue() string                                  { return "v" }

func (f *fakeLockManager) Acquire(ctx context.Context, key string, ttlSeconds int) (locks.Lock, bool, error) {
	if f.denyOnce {
		f.denyOnce = false
		return nil, false, nil
	}
	return fakeLock{}, true, nil
}

type fakeClassifier struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeClassifier) EnqueueClassification(ctx context.Context, conversation durablestore.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func TestOnConversationClosed_MigratesAndClassifies(t *testing.T) {
	channel := uuid.New()
	conversation := durablestore.Conversation{
		ID:          uuid.New(),
		ProjectID:   uuid.New(),
		ContactURN:  "whatsapp:+1",
		ChannelUUID: &channel,
	}

	hs := &fakeHotStore{items: []hotstore.Item{
		{Text: "hi", Source: "incoming", CreatedAt: "2024-01-01T12:00:00"},
	}}
	ds := &fakeDurableStore{}
	classifier := &fakeClassifier{}
	svc := New(hs, ds, &fakeLockManager{}, classifier, nil, slog.Default())

	svc.OnConversationClosed(context.Background(), conversation)

	require.Eventually(t, func() bool {
		ds.mu.Lock()
		defer ds.mu.Unlock()
		return len(ds.archived) == 1
	}, time.Second, 10*time.Millisecond)

	ds.mu.Lock()
	archived := ds.archived[conversation.ID]
	ds.mu.Unlock()
	require.Len(t, archived, 1)
	assert.Equal(t, "hi", archived[0].Text)

	require.Eventually(t, func() bool {
		classifier.mu.Lock()
		defer classifier.mu.Unlock()
		return classifier.calls == 1
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		hs.mu.Lock()
		defer hs.mu.Unlock()
		return len(hs.deleted) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestOnConversationClosed_SkipsWhenLockHeldElsewhere(t *testing.T) {
	channel := uuid.New()
	conversation := durablestore.Conversation{ID: uuid.New(), ChannelUUID: &channel}

	ds := &fakeDurableStore{}
	svc := New(&fakeHotStore{}, ds, &fakeLockManager{denyOnce: true}, nil, nil, slog.Default())

	svc.OnConversationClosed(context.Background(), conversation)

	time.Sleep(50 * time.Millisecond)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	assert.Empty(t, ds.archived)
}
