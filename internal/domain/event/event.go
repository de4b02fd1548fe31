// Package event defines the domain event contract shared by the event store,
// the upcasting pipeline and the query processors.
package event

// Event is a state change emitted by an aggregate.
// Every concrete event is a named variant with a fixed field set; the schema
// version is explicit data and never inferred from the payload shape.
type Event interface {
	// EventType returns the stable name of the event variant
	EventType() string

	// EventVersion returns the semantic version of the payload schema
	EventVersion() string
}

// Envelope is a committed event together with its position in the aggregate stream.
type Envelope struct {
	AggregateID string
	Sequence    uint64
	Payload     Event
	Metadata    Metadata
}

// EventType returns the type of the wrapped event.
func (e Envelope) EventType() string {
	return e.Payload.EventType()
}

// EventVersion returns the schema version of the wrapped event.
func (e Envelope) EventVersion() string {
	return e.Payload.EventVersion()
}
