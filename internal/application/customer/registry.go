// Package customer wires the customer aggregate into the persistence core:
// event registration, schema upcasters and the customer read model.
package customer

import (
	"github.com/lllypuk/cqrskit/internal/domain/customer"
	"github.com/lllypuk/cqrskit/internal/domain/event"
	"github.com/lllypuk/cqrskit/internal/infrastructure/codec"
	"github.com/lllypuk/cqrskit/internal/infrastructure/upcaster"
)

// UnknownName is assigned to customers whose name predates the name field.
const UnknownName = "UNKNOWN"

// NewRegistry returns a registry with every customer event variant.
func NewRegistry() *codec.Registry {
	return codec.NewRegistry(
		func() event.Event { return &customer.NameAdded{} },
		func() event.Event { return &customer.EmailUpdated{} },
	)
}

// Upcasters returns the schema migrations of the customer events.
func Upcasters() []upcaster.Upcaster {
	return []upcaster.Upcaster{
		{
			// 1.0.0 stored no name; any stray value is replaced as well
			EventType:   customer.EventTypeNameAdded,
			FromVersion: "1.0.0",
			ToVersion:   customer.NameAddedVersion,
			Upcast: func(payload codec.Document) (codec.Document, error) {
				payload["name"] = UnknownName
				return payload, nil
			},
		},
	}
}

// NewUpcasterPipeline returns the validated customer upcaster chain.
func NewUpcasterPipeline() *upcaster.Pipeline {
	return upcaster.MustNewPipeline(Upcasters()...)
}
