package main

import (
	"context"

	"github.com/lllypuk/cqrskit/internal/bootstrap"
	"github.com/lllypuk/cqrskit/internal/infrastructure/eventbus"
	"github.com/lllypuk/cqrskit/internal/infrastructure/projector"
)

// viewRebuilder replays the history of one aggregate into its view.
type viewRebuilder interface {
	Rebuild(ctx context.Context, loader projector.EventLoader, aggregateID string) error
}

// newRebuildHandler rebuilds the view of the aggregate named by each message.
// Replaying from the store makes duplicate and out-of-order deliveries harmless.
func newRebuildHandler(view viewRebuilder, loader projector.EventLoader) eventbus.MessageHandler {
	return func(ctx context.Context, msg eventbus.Message) error {
		return view.Rebuild(ctx, loader, msg.AggregateID)
	}
}

func subscribeViews(c *bootstrap.Container) error {
	return c.EventBus.Subscribe(
		c.CustomerStore.AggregateType(),
		newRebuildHandler(c.CustomerQuery, c.CustomerStore),
	)
}
