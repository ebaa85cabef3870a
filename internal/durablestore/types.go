package durablestore

import (
	"time"

	"github.com/google/uuid"
)

// Resolution is the Conversation lifecycle state. Comparisons are always
// integer equality — the source this service replaces carries a parallel
// string-valued convention that this model rejects outright.
type Resolution int

const (
	ResolutionResolved     Resolution = 0
	ResolutionUnresolved   Resolution = 1
	ResolutionInProgress   Resolution = 2
	ResolutionUnclassified Resolution = 3
	ResolutionHasChatRoom  Resolution = 4
)

func (r Resolution) String() string {
	switch r {
	case ResolutionResolved:
		return "RESOLVED"
	case ResolutionUnresolved:
		return "UNRESOLVED"
	case ResolutionInProgress:
		return "IN_PROGRESS"
	case ResolutionUnclassified:
		return "UNCLASSIFIED"
	case ResolutionHasChatRoom:
		return "HAS_CHAT_ROOM"
	default:
		return "UNKNOWN"
	}
}

// Project is created on first sight of any event referencing its id and is
// immutable thereafter by this service.
type Project struct {
	ID        uuid.UUID
	Name      *string
	CreatedAt time.Time
}

// Conversation is the unit the whole ingestion pipeline revolves around.
type Conversation struct {
	ID            uuid.UUID
	ProjectID     uuid.UUID
	ContactURN    string
	ContactName   string
	ChannelUUID   *uuid.UUID
	ExternalID    *string
	StartDate     time.Time
	EndDate       time.Time
	HasChatsRoom  bool
	CSAT          *string
	NPS           *int
	Resolution    Resolution
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ArchivedMessage is one line of a closed conversation's durable,
// immutable transcript.
type ArchivedMessage struct {
	Text      string
	Source    string
	CreatedAt time.Time
}

// ArchivedMessages is one-to-one with a Conversation.
type ArchivedMessages struct {
	ConversationID uuid.UUID
	Messages       []ArchivedMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Classification is one-to-one with a Conversation, written by the
// classification worker after close and replaced if the job runs again.
type Classification struct {
	ConversationID uuid.UUID
	TopicID        *uuid.UUID
	SubTopicID     *uuid.UUID
	Confidence     float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Topic and SubTopic are the reference taxonomy the classification worker
// sends to the remote classifier and resolves its response against.
type Topic struct {
	ID          uuid.UUID
	Name        string
	Description string
}

type SubTopic struct {
	ID          uuid.UUID
	TopicID     uuid.UUID
	Name        string
	Description string
}

// ChannelResolutionCount is a transient, never-persisted aggregate the
// billing aggregator computes on demand for one (project, channel, date).
type ChannelResolutionCount struct {
	ChannelUUID    uuid.UUID
	Date           time.Time
	Resolved       int
	Unresolved     int
	HasChatsRooms  int
	Unclassified   int
}
