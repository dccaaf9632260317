package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// User events (published by the user service, consumed here to keep
	// the local user cache in sync)
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"

	// Compliance events
	EventDeletionRequested = "compliance.deletion.requested"
	EventDeletionCancelled = "compliance.deletion.cancelled"
	EventAccountDeleted    = "compliance.account.deleted"
)

// Exchange names
const (
	ExchangeUserEvents       = "user.events"
	ExchangeComplianceEvents = "compliance.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// User Events

// UserCreatedEvent is published when a user is created
type UserCreatedEvent struct {
	UserID string `json:"user_id" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
	Name   string `json:"name" validate:"required"`
	Role   string `json:"role"`

	TenantID   string `json:"tenant_id" validate:"required,uuid"`
	TenantSlug string `json:"tenant_slug"`
}

// UserUpdatedEvent is published when a user is updated
type UserUpdatedEvent struct {
	UserID string         `json:"user_id" validate:"required"`
	Fields map[string]any `json:"fields"` // Changed fields

	TenantID   string `json:"tenant_id" validate:"required,uuid"`
	TenantSlug string `json:"tenant_slug"`
}

// UserDeletedEvent is published when a user is deleted
type UserDeletedEvent struct {
	UserID string `json:"user_id" validate:"required"`
	Email  string `json:"email"`

	TenantID   string `json:"tenant_id" validate:"required,uuid"`
	TenantSlug string `json:"tenant_slug"`
}

// Compliance Events

// DeletionRequestedEvent is published when a user requests account deletion
type DeletionRequestedEvent struct {
	RequestID     string    `json:"request_id"`
	UserID        string    `json:"user_id"`
	ScheduledDate time.Time `json:"scheduled_date"`
	TenantID      string    `json:"tenant_id"`
}

// DeletionCancelledEvent is published when a pending deletion request is cancelled
type DeletionCancelledEvent struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
}

// AccountDeletedEvent is published after a user's data has been erased
type AccountDeletedEvent struct {
	UserID                string   `json:"user_id"`
	TenantID              string   `json:"tenant_id"`
	DeletedCollections    []string `json:"deleted_collections"`
	AnonymizedCollections []string `json:"anonymized_collections"`
	RetainedCollections   []string `json:"retained_collections"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.NewString()
}
