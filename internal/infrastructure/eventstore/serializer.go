package eventstore

import (
	"fmt"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/domain/event"
	"github.com/lllypuk/cqrskit/internal/infrastructure/codec"
	"github.com/lllypuk/cqrskit/internal/infrastructure/metrics"
	"github.com/lllypuk/cqrskit/internal/infrastructure/upcaster"
)

// EventSerializer converts between envelopes and their storage form.
// Stored records pass the upcaster pipeline before being decoded.
type EventSerializer struct {
	registry  *codec.Registry
	upcasters *upcaster.Pipeline
	metrics   *metrics.StoreMetrics
}

// NewEventSerializer creates a serializer over the given registry.
func NewEventSerializer(registry *codec.Registry, upcasters *upcaster.Pipeline) *EventSerializer {
	return &EventSerializer{
		registry:  registry,
		upcasters: upcasters,
	}
}

// Serialize converts a new event into its storage form at the given sequence.
func (s *EventSerializer) Serialize(
	aggregateID, aggregateType string,
	sequence uint64,
	evt event.Event,
	metadata event.Metadata,
) (SerializedEvent, error) {
	if evt == nil {
		return SerializedEvent{}, fmt.Errorf("%w: nil event at sequence %d", appcore.ErrSerialization, sequence)
	}
	if _, ok := s.registry.CurrentVersion(evt.EventType()); !ok {
		return SerializedEvent{}, fmt.Errorf("%w: event type %s is not registered",
			appcore.ErrSerialization, evt.EventType())
	}

	payload, err := s.registry.Encode(evt)
	if err != nil {
		return SerializedEvent{}, err
	}

	md, err := codec.EncodeValue(metadata)
	if err != nil {
		return SerializedEvent{}, err
	}

	return SerializedEvent{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Sequence:      sequence,
		EventType:     evt.EventType(),
		EventVersion:  evt.EventVersion(),
		Payload:       payload,
		Metadata:      md,
	}, nil
}

// Deserialize upcasts a stored record to the current schema and decodes it.
// The record itself is left untouched.
func (s *EventSerializer) Deserialize(rec SerializedEvent) (event.Envelope, error) {
	current, ok := s.registry.CurrentVersion(rec.EventType)
	if !ok {
		return event.Envelope{}, fmt.Errorf("%w: unknown event type %s at sequence %d",
			appcore.ErrSerialization, rec.EventType, rec.Sequence)
	}

	payload, err := s.upcasters.Upcast(rec.EventType, rec.EventVersion, current, rec.Payload)
	if err != nil {
		return event.Envelope{}, fmt.Errorf("event %s at sequence %d: %w", rec.EventType, rec.Sequence, err)
	}
	if rec.EventVersion != current {
		s.metrics.IncUpcast(rec.EventType)
	}

	evt, err := s.registry.Decode(rec.EventType, payload)
	if err != nil {
		return event.Envelope{}, err
	}

	var md event.Metadata
	if len(rec.Metadata) > 0 {
		if err = codec.DecodeValue(rec.Metadata, &md); err != nil {
			return event.Envelope{}, fmt.Errorf("metadata of sequence %d: %w", rec.Sequence, err)
		}
	}

	return event.Envelope{
		AggregateID: rec.AggregateID,
		Sequence:    rec.Sequence,
		Payload:     evt,
		Metadata:    md,
	}, nil
}

// DeserializeMany deserializes records preserving their order.
func (s *EventSerializer) DeserializeMany(records []SerializedEvent) ([]event.Envelope, error) {
	envelopes := make([]event.Envelope, 0, len(records))
	for _, rec := range records {
		env, err := s.Deserialize(rec)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}
