// Package codec serializes event, snapshot and view payloads to and from
// self-describing documents.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/domain/event"
)

// Document is an untyped structured payload.
// Numbers are kept as json.Number so integers of any size survive a round trip.
type Document = map[string]any

// Factory creates an empty instance of an event variant.
type Factory func() event.Event

type registration struct {
	factory Factory
	version string
}

// Registry maps event types to their variants and current schema versions.
// It is safe for concurrent use; registration normally happens once at wiring.
type Registry struct {
	mu    sync.RWMutex
	types map[string]registration
}

// NewRegistry creates a registry with the given event variants.
func NewRegistry(factories ...Factory) *Registry {
	r := &Registry{types: make(map[string]registration, len(factories))}
	for _, f := range factories {
		r.Register(f)
	}
	return r
}

// Register adds an event variant. The current version is taken from the
// variant itself; registering the same type again replaces it.
func (r *Registry) Register(factory Factory) {
	sample := factory()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.types[sample.EventType()] = registration{
		factory: factory,
		version: sample.EventVersion(),
	}
}

// CurrentVersion returns the schema version expected by business logic.
func (r *Registry) CurrentVersion(eventType string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.types[eventType]
	return reg.version, ok
}

// EventTypes returns the registered event types in lexical order.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.types))
	for t := range r.types {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Encode converts an event into a document.
func (r *Registry) Encode(evt event.Event) (Document, error) {
	if evt == nil {
		return nil, fmt.Errorf("%w: nil event", appcore.ErrSerialization)
	}
	return EncodeValue(evt)
}

// Decode creates the variant registered for eventType and fills it from doc.
func (r *Registry) Decode(eventType string, doc Document) (event.Event, error) {
	r.mu.RLock()
	reg, ok := r.types[eventType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown event type: %s", appcore.ErrSerialization, eventType)
	}

	evt := reg.factory()
	if err := DecodeValue(doc, evt); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", eventType, err)
	}
	return evt, nil
}

// EncodeValue converts any JSON-serializable value into a document.
func EncodeValue(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal value: %w", appcore.ErrSerialization, err)
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%w: value is not an object: %w", appcore.ErrSerialization, err)
	}
	return doc, nil
}

// DecodeValue fills target (a pointer) from doc.
func DecodeValue(doc Document, target any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal document: %w", appcore.ErrSerialization, err)
	}
	if err = json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: failed to unmarshal document: %w", appcore.ErrSerialization, err)
	}
	return nil
}

// Marshal renders a document as JSON text for storage.
func Marshal(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal document: %w", appcore.ErrSerialization, err)
	}
	return data, nil
}

// Unmarshal parses stored JSON text into a document.
func Unmarshal(data []byte) (Document, error) {
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal document: %w", appcore.ErrSerialization, err)
	}
	return doc, nil
}

func decodeDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Clone returns a deep copy of doc so transformations never touch the source.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Clone(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
