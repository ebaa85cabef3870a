package decode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_MessageReceived(t *testing.T) {
	body := []byte(`{
		"event_type": "message.received",
		"correlation_id": "corr-1",
		"project_uuid": "11111111-1111-1111-1111-111111111111",
		"contact_urn": "whatsapp:+1",
		"channel_uuid": "22222222-2222-2222-2222-222222222222",
		"message": {"id":"m1","text":"Hi","source":"incoming","created_at":"2024-01-01T12:00:00Z"}
	}`)

	decoded, err := Decode(body)
	require.NoError(t, err)

	evt, ok := decoded.(MessageEvent)
	require.True(t, ok)
	assert.Equal(t, EventTypeMessageReceived, evt.EventType)
	assert.Equal(t, "whatsapp:+1", evt.ContactURN)
	require.NotNil(t, evt.ChannelUUID)
	assert.Equal(t, "m1", evt.Message.ID)
	assert.Equal(t, 2024, evt.Message.CreatedAt.Year())
}

func TestDecode_MessageWithoutChannel(t *testing.T) {
	body := []byte(`{
		"event_type": "message.received",
		"project_uuid": "11111111-1111-1111-1111-111111111111",
		"contact_urn": "whatsapp:+1",
		"message": {"id":"m1","text":"Hi","source":"incoming"}
	}`)

	decoded, err := Decode(body)
	require.NoError(t, err)
	evt := decoded.(MessageEvent)
	assert.Nil(t, evt.ChannelUUID)
}

func TestDecode_MessageBadTimestampFallsBackToNow(t *testing.T) {
	body := []byte(`{
		"event_type": "message.sent",
		"project_uuid": "11111111-1111-1111-1111-111111111111",
		"contact_urn": "whatsapp:+1",
		"message": {"id":"m1","text":"Hi","source":"outgoing","created_at":"not-a-date"}
	}`)

	decoded, err := Decode(body)
	require.NoError(t, err)
	evt := decoded.(MessageEvent)
	assert.WithinDuration(t, time.Now().UTC(), evt.Message.CreatedAt, time.Minute)
	assert.False(t, evt.Message.CreatedAt.IsZero())
}

func TestDecode_ConversationWindow(t *testing.T) {
	body := []byte(`{
		"event_type": "conversation.window",
		"project_uuid": "11111111-1111-1111-1111-111111111111",
		"contact_urn": "whatsapp:+1",
		"channel_uuid": "22222222-2222-2222-2222-222222222222",
		"has_chats_room": true,
		"start": "2024-01-01T00:00:00Z",
		"end": "2024-01-02T00:00:00Z",
		"name": "Alice"
	}`)

	decoded, err := Decode(body)
	require.NoError(t, err)
	evt := decoded.(ConversationWindowEvent)
	assert.True(t, evt.HasChatsRoom)
	assert.Equal(t, "Alice", evt.ContactName)
	require.NotNil(t, evt.StartDate)
	require.NotNil(t, evt.EndDate)
}

func TestDecode_ConversationWindowNullDatesOnParseFailure(t *testing.T) {
	body := []byte(`{
		"event_type": "conversation.window",
		"project_uuid": "11111111-1111-1111-1111-111111111111",
		"contact_urn": "whatsapp:+1",
		"start_date": "garbage"
	}`)

	decoded, err := Decode(body)
	require.NoError(t, err)
	evt := decoded.(ConversationWindowEvent)
	assert.Nil(t, evt.StartDate)
}

func TestDecode_UnknownEventType(t *testing.T) {
	body := []byte(`{"event_type": "something.else"}`)
	_, err := Decode(body)
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnknownEventType)
}
