// Package classify implements the asynchronous worker that reads a closed
// conversation's transcript, invokes the remote classifier, and upserts
// the resulting topic/subtopic/confidence triple.
package classify

import "github.com/google/uuid"

// defaultLanguage is stamped on every classification request. Language
// detection is outside this service's scope; the remote classifier is
// expected to re-detect if it cares.
const defaultLanguage = "pt-BR"

// Message is one line of the transcript sent to the remote classifier.
type Message struct {
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}

// SubTopic is one leaf of the reference taxonomy.
type SubTopic struct {
	SubTopicUUID uuid.UUID `json:"subtopic_uuid"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
}

// Topic is one branch of the reference taxonomy sent with every request.
type Topic struct {
	TopicUUID   uuid.UUID  `json:"topic_uuid"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	SubTopics   []SubTopic `json:"subtopics"`
}

// Request is the payload sent to the remote classifier.
type Request struct {
	ProjectUUID      uuid.UUID `json:"project_uuid"`
	ConversationUUID uuid.UUID `json:"conversation_uuid"`
	Messages         []Message `json:"messages"`
	Topics           []Topic   `json:"topics"`
	Language         string    `json:"language"`
}

// Result is the remote classifier's verdict. TopicUUID and SubTopicUUID
// are nil when the classifier could not confidently assign either.
type Result struct {
	TopicUUID    *uuid.UUID `json:"topic_uuid,omitempty"`
	SubTopicUUID *uuid.UUID `json:"subtopic_uuid,omitempty"`
	Confidence   float64    `json:"confidence"`
}
