package testutil

import (
	"github.com/google/uuid"

	"github.com/lllypuk/cqrskit/internal/domain/event"
)

// NewAggregateID returns a fresh aggregate id.
func NewAggregateID() string {
	return uuid.NewString()
}

// MetadataFixture returns metadata with a fresh correlation id.
func MetadataFixture(modifiers ...func(*event.Metadata)) event.Metadata {
	metadata := event.NewMetadata("user-1", uuid.NewString(), "")
	for _, modify := range modifiers {
		modify(&metadata)
	}
	return metadata
}

// WithUserID sets the metadata user.
func WithUserID(userID string) func(*event.Metadata) {
	return func(m *event.Metadata) {
		m.UserID = userID
	}
}

// WithCausationID sets the metadata causation id.
func WithCausationID(causationID string) func(*event.Metadata) {
	return func(m *event.Metadata) {
		m.CausationID = causationID
	}
}
