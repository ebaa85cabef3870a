package registry

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weni-ai/conversation-ingestor/internal/durablestore"
)

type fakeStore struct {
	ensureActiveResult  durablestore.Conversation
	ensureActiveDemoted []uuid.UUID
	ensureActiveErr     error

	applyWindowResult        durablestore.Conversation
	applyWindowWasInProgress bool
	applyWindowClosed        bool
	applyWindowErr           error

	updateFieldsResult        durablestore.Conversation
	updateFieldsWasInProgress bool
	updateFieldsClosed        bool
	updateFieldsErr           error
}

func (f *fakeStore) EnsureActiveConversation(ctx context.Context, projectID uuid.UUID, contactURN string, channelUUID uuid.UUID, contactName string) (durablestore.Conversation, []uuid.UUID, error) {
	return f.ensureActiveResult, f.ensureActiveDemoted, f.ensureActiveErr
}

func (f *fakeStore) ApplyConversationWindow(ctx context.Context, projectID uuid.UUID, contactURN string, channelUUID uuid.UUID, patch durablestore.ConversationPatch, defaultContactName string) (durablestore.Conversation, bool, bool, error) {
	return f.applyWindowResult, f.applyWindowWasInProgress, f.applyWindowClosed, f.applyWindowErr
}

func (f *fakeStore) UpdateConversationFields(ctx context.Context, conversationID uuid.UUID, patch durablestore.ConversationPatch) (durablestore.Conversation, bool, bool, error) {
	return f.updateFieldsResult, f.updateFieldsWasInProgress, f.updateFieldsClosed, f.updateFieldsErr
}

type fakeCloseHandler struct {
	called       int
	lastConvID   uuid.UUID
}

func (f *fakeCloseHandler) OnConversationClosed(ctx context.Context, conversation durablestore.Conversation) {
	f.called++
	f.lastConvID = conversation.ID
}

func TestEnsureActive_NilChannelReturnsNoConversation(t *testing.T) {
	reg := New(&fakeStore{}, nil, nil)
	conv, err := reg.EnsureActive(context.Background(), uuid.New(), "whatsapp:+1", "Alice", nil)
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestEnsureActive_ReturnsConversation(t *testing.T) {
	want := durablestore.Conversation{ID: uuid.New(), Resolution: durablestore.ResolutionInProgress}
	store := &fakeStore{ensureActiveResult: want}
	reg := New(store, nil, nil)

	channel := uuid.New()
	conv, err := reg.EnsureActive(context.Background(), uuid.New(), "whatsapp:+1", "Alice", &channel)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, want.ID, conv.ID)
}

func TestApplyWindow_InvokesCloseHandlerOnClose(t *testing.T) {
	conv := durablestore.Conversation{ID: uuid.New(), Resolution: durablestore.ResolutionHasChatRoom}
	store := &fakeStore{applyWindowResult: conv, applyWindowWasInProgress: true, applyWindowClosed: true}
	closer := &fakeCloseHandler{}
	reg := New(store, closer, nil)

	_, err := reg.ApplyWindow(context.Background(), uuid.New(), "whatsapp:+1", uuid.New(), durablestore.ConversationPatch{}, "Alice")
	require.NoError(t, err)
	assert.Equal(t, 1, closer.called)
	assert.Equal(t, conv.ID, closer.lastConvID)
}

func TestApplyWindow_NoCloseHandlerCallWhenStillOpen(t *testing.T) {
	conv := durablestore.Conversation{ID: uuid.New(), Resolution: durablestore.ResolutionInProgress}
	store := &fakeStore{applyWindowResult: conv, applyWindowWasInProgress: true, applyWindowClosed: false}
	closer := &fakeCloseHandler{}
	reg := New(store, closer, nil)

	_, err := reg.ApplyWindow(context.Background(), uuid.New(), "whatsapp:+1", uuid.New(), durablestore.ConversationPatch{}, "Alice")
	require.NoError(t, err)
	assert.Equal(t, 0, closer.called)
}

func TestUpdateFields_InvokesCloseHandlerOnClose(t *testing.T) {
	conv := durablestore.Conversation{ID: uuid.New(), Resolution: durablestore.ResolutionResolved}
	store := &fakeStore{updateFieldsResult: conv, updateFieldsWasInProgress: true, updateFieldsClosed: true}
	closer := &fakeCloseHandler{}
	reg := New(store, closer, nil)

	_, err := reg.UpdateFields(context.Background(), conv.ID, durablestore.ConversationPatch{})
	require.NoError(t, err)
	assert.Equal(t, 1, closer.called)
}
