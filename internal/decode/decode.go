// Package decode maps raw queue payloads into the three typed events the
// ingestion pipeline routes on: MessageReceived, MessageSent, and
// ConversationWindow.
package decode

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType is the discriminant carried by the event_type attribute or
// top-level field.
type EventType string

const (
	EventTypeMessageReceived  EventType = "message.received"
	EventTypeMessageSent      EventType = "message.sent"
	EventTypeConversationWindow EventType = "conversation.window"
)

// ErrUnknownEventType marks a syntactically valid payload whose event_type
// this decoder does not recognize. The pipeline treats it as a poison
// pill: logged and acked, never retried.
var ErrUnknownEventType = fmt.Errorf("unknown event type")

// Message is the embedded message payload on message.received/message.sent.
type Message struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Source      string    `json:"source"`
	ContactName string    `json:"contact_name"`
	CreatedAt   time.Time `json:"-"`
}

// MessageEvent is the decoded form of message.received / message.sent.
type MessageEvent struct {
	EventType     EventType
	CorrelationID string
	ProjectUUID   uuid.UUID
	ContactURN    string
	ChannelUUID   *uuid.UUID
	Message       Message
	Key           string
	Value         string
}

// ConversationWindowEvent is the decoded form of conversation.window.
type ConversationWindowEvent struct {
	ProjectUUID  uuid.UUID
	ContactURN   string
	ChannelUUID  *uuid.UUID
	ExternalID   *string
	StartDate    *time.Time
	EndDate      *time.Time
	HasChatsRoom bool
	ContactName  string
}

type rawEnvelope struct {
	EventType   string `json:"event_type"`
	CorrelationID string `json:"correlation_id"`
	ProjectUUID string `json:"project_uuid"`
	ContactURN  string `json:"contact_urn"`
	ChannelUUID string `json:"channel_uuid"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	Message     struct {
		ID          string `json:"id"`
		Text        string `json:"text"`
		Source      string `json:"source"`
		ContactName string `json:"contact_name"`
		CreatedAt   string `json:"created_at"`
	} `json:"message"`

	ExternalID   string `json:"external_id"`
	Start        string `json:"start"`
	StartDate    string `json:"start_date"`
	End          string `json:"end"`
	EndDate      string `json:"end_date"`
	HasChatsRoom bool   `json:"has_chats_room"`
	Name         string `json:"name"`
	ContactName  string `json:"contact_name"`
}

// Decode parses body into one of MessageEvent or ConversationWindowEvent.
// It returns ErrUnknownEventType for a syntactically valid, unrecognized
// event_type, and any other error for malformed JSON — both are treated as
// deterministic (poison-pill) failures by the caller.
func Decode(body []byte) (any, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	switch EventType(raw.EventType) {
	case EventTypeMessageReceived, EventTypeMessageSent:
		return decodeMessageEvent(raw), nil
	case EventTypeConversationWindow:
		return decodeWindowEvent(raw), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, raw.EventType)
	}
}

func decodeMessageEvent(raw rawEnvelope) MessageEvent {
	evt := MessageEvent{
		EventType:     EventType(raw.EventType),
		CorrelationID: raw.CorrelationID,
		ProjectUUID:   parseUUIDLenient(raw.ProjectUUID),
		ContactURN:    raw.ContactURN,
		ChannelUUID:   parseOptionalUUID(raw.ChannelUUID),
		Key:           raw.Key,
		Value:         raw.Value,
		Message: Message{
			ID:          raw.Message.ID,
			Text:        raw.Message.Text,
			Source:      raw.Message.Source,
			ContactName: raw.Message.ContactName,
			CreatedAt:   parseTimestampOrNow(raw.Message.CreatedAt),
		},
	}
	return evt
}

func decodeWindowEvent(raw rawEnvelope) ConversationWindowEvent {
	start := firstNonEmpty(raw.Start, raw.StartDate)
	end := firstNonEmpty(raw.End, raw.EndDate)
	contactName := firstNonEmpty(raw.Name, raw.ContactName)

	evt := ConversationWindowEvent{
		ProjectUUID:  parseUUIDLenient(raw.ProjectUUID),
		ContactURN:   raw.ContactURN,
		ChannelUUID:  parseOptionalUUID(raw.ChannelUUID),
		HasChatsRoom: raw.HasChatsRoom,
		ContactName:  contactName,
	}
	if raw.ExternalID != "" {
		id := raw.ExternalID
		evt.ExternalID = &id
	}
	evt.StartDate = parseTimestampOrNil(start)
	evt.EndDate = parseTimestampOrNil(end)
	return evt
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseUUIDLenient(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func parseOptionalUUID(s string) *uuid.UUID {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

// normalizeTimestamp accepts ISO-8601, normalizing a trailing "Z" to
// "+00:00" before stripping the offset so downstream comparisons operate
// on naive UTC instants.
func normalizeTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	s = strings.Replace(s, "Z", "+00:00", 1)
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseTimestampOrNow(s string) time.Time {
	t, err := normalizeTimestamp(s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

func parseTimestampOrNil(s string) *time.Time {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	t, err := normalizeTimestamp(s)
	if err != nil {
		return nil
	}
	return &t
}
