package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/cqrskit/internal/domain/event"
)

// RequireEventOfType finds the first envelope carrying an event of the given type.
func RequireEventOfType(t *testing.T, envelopes []event.Envelope, eventType string) event.Envelope {
	t.Helper()
	for _, env := range envelopes {
		if env.EventType() == eventType {
			return env
		}
	}
	require.Failf(t, "event not found", "no envelope with event type %q", eventType)
	return event.Envelope{}
}

// AssertContiguousSequences checks that envelopes belong to one aggregate and
// carry the sequences first, first+1, ...
func AssertContiguousSequences(t *testing.T, envelopes []event.Envelope, aggregateID string, first uint64) {
	t.Helper()
	for i, env := range envelopes {
		assert.Equal(t, aggregateID, env.AggregateID, "envelope %d", i)
		assert.Equal(t, first+uint64(i), env.Sequence, "envelope %d", i)
	}
}

// AssertEventTypes checks the event types of envelopes in order.
func AssertEventTypes(t *testing.T, envelopes []event.Envelope, expected ...string) {
	t.Helper()
	actual := make([]string, 0, len(envelopes))
	for _, env := range envelopes {
		actual = append(actual, env.EventType())
	}
	assert.Equal(t, expected, actual)
}
