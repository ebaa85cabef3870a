package sideeffect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/weni-ai/conversation-ingestor/internal/durablestore"
)

const (
	valueTypeString = "string"
	keyCSAT         = "weni_csat"
	keyNPS          = "weni_nps"
)

// saoPaulo is the timezone data-lake events are stamped in, matching the
// reporting pipeline on the other side of the subject.
var saoPaulo = mustLoadLocation("America/Sao_Paulo")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Publisher is the subset of natsclient.Client the dispatcher depends on.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// AgentUUIDs maps a feedback key to the agent identifier tagged on its
// data-lake event metadata.
type AgentUUIDs struct {
	CSAT string
	NPS  string
}

// Dispatcher publishes CSAT/NPS data-lake events and classification jobs
// to NATS JetStream. A conversation's closure and the Side-Effect
// Dispatcher's own delivery are independent concerns: JetStream's stream
// persistence and redelivery already cover the durability a bespoke
// outbox table would add here.
type Dispatcher struct {
	publisher             Publisher
	validator             *Validator
	dataLakeSubject       string
	classificationSubject string
	agents                AgentUUIDs
	log                   *slog.Logger
}

func NewDispatcher(publisher Publisher, validator *Validator, dataLakeSubject, classificationSubject string, agents AgentUUIDs, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher:             publisher,
		validator:             validator,
		dataLakeSubject:       dataLakeSubject,
		classificationSubject: classificationSubject,
		agents:                agents,
		log:                   log.With(slog.String("component", "sideeffect_dispatcher")),
	}
}

// DispatchFeedback builds and publishes the data-lake event for a
// CSAT/NPS key captured on conversation. The event is validated before
// publish; an invalid event is never sent.
func (d *Dispatcher) DispatchFeedback(ctx context.Context, conversation durablestore.Conversation, key, value string) error {
	agentUUID := d.agentFor(key)
	metadata := map[string]any{
		"agent_uuid":      agentUUID,
		"conversation_id": conversation.ID.String(),
	}
	if conversation.ChannelUUID != nil {
		metadata["channel_uuid"] = conversation.ChannelUUID.String()
	}
	if !conversation.StartDate.IsZero() {
		metadata["start_date"] = conversation.StartDate.In(saoPaulo).Format(time.RFC3339)
	}
	if !conversation.EndDate.IsZero() {
		metadata["end_date"] = conversation.EndDate.In(saoPaulo).Format(time.RFC3339)
	}

	event := &DataLakeEvent{
		EventName:  dataLakeEventName,
		Date:       time.Now().In(saoPaulo).Format(time.RFC3339),
		Project:    conversation.ProjectID.String(),
		ContactURN: conversation.ContactURN,
		Key:        key,
		ValueType:  valueTypeString,
		Value:      value,
		Metadata:   metadata,
	}

	if err := d.validator.ValidateDataLakeEvent(event); err != nil {
		return fmt.Errorf("data-lake event for conversation %s: %w", conversation.ID, err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal data-lake event: %w", err)
	}

	if err := d.publisher.Publish(ctx, d.dataLakeSubject, payload); err != nil {
		return fmt.Errorf("publish data-lake event: %w", err)
	}

	d.log.InfoContext(ctx, "dispatched data-lake event",
		slog.String("conversation_id", conversation.ID.String()),
		slog.String("key", key))
	return nil
}

// EnqueueClassification publishes a classification job referencing a
// closed conversation for the classification worker to pick up.
func (d *Dispatcher) EnqueueClassification(ctx context.Context, conversation durablestore.Conversation) error {
	job := ClassificationJob{
		ConversationID: conversation.ID,
		ProjectID:      conversation.ProjectID,
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal classification job: %w", err)
	}

	if err := d.publisher.Publish(ctx, d.classificationSubject, payload); err != nil {
		return fmt.Errorf("publish classification job: %w", err)
	}

	d.log.InfoContext(ctx, "enqueued classification job",
		slog.String("conversation_id", conversation.ID.String()))
	return nil
}

func (d *Dispatcher) agentFor(key string) string {
	switch key {
	case keyCSAT:
		return d.agents.CSAT
	case keyNPS:
		return d.agents.NPS
	default:
		return ""
	}
}
