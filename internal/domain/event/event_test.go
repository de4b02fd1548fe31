package event_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventDomain "github.com/lllypuk/cqrskit/internal/domain/event"
)

type nameAdded struct {
	Name string `json:"name"`
}

func (nameAdded) EventType() string    { return "NameAdded" }
func (nameAdded) EventVersion() string { return "1.0.1" }

func TestNewMetadata(t *testing.T) {
	// Arrange
	userID := "user-123"
	correlationID := "corr-456"
	causationID := "cause-789"

	// Act
	metadata := eventDomain.NewMetadata(userID, correlationID, causationID)

	// Assert
	assert.Equal(t, userID, metadata.UserID)
	assert.Equal(t, correlationID, metadata.CorrelationID)
	assert.Equal(t, causationID, metadata.CausationID)
	assert.False(t, metadata.Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), metadata.Timestamp, time.Second)
}

func TestMetadata_WithIPAddress(t *testing.T) {
	metadata := eventDomain.NewMetadata("user-1", "corr-1", "cause-1")

	updated := metadata.WithIPAddress("192.168.1.1")

	assert.Equal(t, "192.168.1.1", updated.IPAddress)
	assert.Equal(t, metadata.UserID, updated.UserID)
}

func TestMetadata_WithUserAgent(t *testing.T) {
	metadata := eventDomain.NewMetadata("user-1", "corr-1", "cause-1")

	updated := metadata.WithUserAgent("Mozilla/5.0")

	assert.Equal(t, "Mozilla/5.0", updated.UserAgent)
	assert.Equal(t, metadata.UserID, updated.UserID)
}

func TestMetadata_With_DoesNotMutateOriginal(t *testing.T) {
	// Arrange
	original := eventDomain.Metadata{}.With("tenant", "a")

	// Act
	updated := original.With("tenant", "b").With("source", "import")

	// Assert
	value, ok := original.Get("tenant")
	require.True(t, ok)
	assert.Equal(t, "a", value)
	_, ok = original.Get("source")
	assert.False(t, ok)

	value, ok = updated.Get("tenant")
	require.True(t, ok)
	assert.Equal(t, "b", value)
	assert.Len(t, updated.Extra, 2)
}

func TestEnvelope_DelegatesToPayload(t *testing.T) {
	env := eventDomain.Envelope{
		AggregateID: "agg-1",
		Sequence:    3,
		Payload:     nameAdded{Name: "A"},
	}

	assert.Equal(t, "NameAdded", env.EventType())
	assert.Equal(t, "1.0.1", env.EventVersion())
}
