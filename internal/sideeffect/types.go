package sideeffect

import "github.com/google/uuid"

const dataLakeEventName = "weni_nexus_data"

// DataLakeEvent is the CSAT/NPS payload published to the data-lake
// transport. A value passes validation iff every string field is
// non-empty after trimming, Value is non-empty, and EventName is exactly
// "weni_nexus_data".
type DataLakeEvent struct {
	EventName  string         `json:"event_name" validate:"required,eq=weni_nexus_data"`
	Date       string         `json:"date" validate:"required,notblank"`
	Project    string         `json:"project" validate:"required,notblank"`
	ContactURN string         `json:"contact_urn" validate:"required,notblank"`
	Key        string         `json:"key" validate:"required,notblank"`
	ValueType  string         `json:"value_type" validate:"required,notblank"`
	Value      string         `json:"value" validate:"required,notblank"`
	Metadata   map[string]any `json:"metadata" validate:"required"`
}

// ClassificationJob references a closed conversation for the
// classification worker to pick up.
type ClassificationJob struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	ProjectID      uuid.UUID `json:"project_id"`
}
