// Package eventbus publishes committed events to Redis Pub/Sub and consumes
// them in background processes.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/domain/event"
	"github.com/lllypuk/cqrskit/internal/infrastructure/codec"
	"github.com/lllypuk/cqrskit/internal/infrastructure/metrics"
)

// Default retry configuration constants.
const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultBackoffFactor  = 2.0
	defaultChannelPrefix  = "events:"
)

// MessageHandler handles a message received from the bus.
type MessageHandler func(ctx context.Context, msg Message) error

// Message is the wire form of a committed event.
type Message struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Sequence      uint64          `json:"sequence"`
	EventType     string          `json:"event_type"`
	EventVersion  string          `json:"event_version"`
	Metadata      event.Metadata  `json:"metadata"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Envelope decodes the message payload with registry.
// The payload is expected in the current schema version of its event type.
func (m Message) Envelope(registry *codec.Registry) (event.Envelope, error) {
	doc, err := codec.Unmarshal(m.Payload)
	if err != nil {
		return event.Envelope{}, err
	}
	evt, err := registry.Decode(m.EventType, doc)
	if err != nil {
		return event.Envelope{}, err
	}
	return event.Envelope{
		AggregateID: m.AggregateID,
		Sequence:    m.Sequence,
		Payload:     evt,
		Metadata:    m.Metadata,
	}, nil
}

func newMessage(aggregateType string, env event.Envelope) (Message, error) {
	doc, err := codec.EncodeValue(env.Payload)
	if err != nil {
		return Message{}, err
	}
	payload, err := codec.Marshal(doc)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:            uuid.New().String(),
		AggregateType: aggregateType,
		AggregateID:   env.AggregateID,
		Sequence:      env.Sequence,
		EventType:     env.EventType(),
		EventVersion:  env.EventVersion(),
		Metadata:      env.Metadata,
		Payload:       payload,
		PublishedAt:   time.Now().UTC(),
	}, nil
}

// RetryConfig configures retry behavior for message handling.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     defaultMaxRetries,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		BackoffFactor:  defaultBackoffFactor,
	}
}

// RedisEventBus publishes committed events to one Redis channel per
// aggregate type and delivers them to subscribed handlers.
type RedisEventBus struct {
	client        *redis.Client
	pubsub        *redis.PubSub
	pubsubMu      sync.RWMutex
	handlers      map[string][]MessageHandler
	handlersMu    sync.RWMutex
	running       bool
	runningMu     sync.RWMutex
	shutdown      chan struct{}
	wg            sync.WaitGroup
	logger        *slog.Logger
	metrics       *metrics.ViewMetrics
	retryConfig   RetryConfig
	channelPrefix string
}

// Option configures a RedisEventBus.
type Option func(*RedisEventBus)

// WithLogger sets the logger for the event bus.
func WithLogger(logger *slog.Logger) Option {
	return func(b *RedisEventBus) {
		b.logger = logger
	}
}

// WithRetryConfig sets the retry configuration for message handling.
func WithRetryConfig(config RetryConfig) Option {
	return func(b *RedisEventBus) {
		b.retryConfig = config
	}
}

// WithChannelPrefix sets a prefix for Redis channel names.
func WithChannelPrefix(prefix string) Option {
	return func(b *RedisEventBus) {
		b.channelPrefix = prefix
	}
}

// WithMetrics enables publication counters.
func WithMetrics(m *metrics.ViewMetrics) Option {
	return func(b *RedisEventBus) {
		b.metrics = m
	}
}

// NewRedisEventBus creates a new Redis-based event bus.
func NewRedisEventBus(client *redis.Client, opts ...Option) *RedisEventBus {
	b := &RedisEventBus{
		client:        client,
		handlers:      make(map[string][]MessageHandler),
		shutdown:      make(chan struct{}),
		logger:        slog.Default(),
		retryConfig:   DefaultRetryConfig(),
		channelPrefix: defaultChannelPrefix,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Publish sends the envelopes of one commit to the channel of aggregateType.
// Envelopes are published in sequence order; the first failure stops the batch.
func (b *RedisEventBus) Publish(ctx context.Context, aggregateType string, events []event.Envelope) error {
	if aggregateType == "" {
		return errors.New("aggregate type cannot be empty")
	}

	channel := b.ChannelName(aggregateType)
	for _, env := range events {
		msg, err := newMessage(aggregateType, env)
		if err != nil {
			b.metrics.ObservePublish(aggregateType, err)
			return appcore.NewPersistenceError("publish", appcore.ErrSerialization, err)
		}

		data, err := json.Marshal(msg)
		if err != nil {
			b.metrics.ObservePublish(aggregateType, err)
			return appcore.NewPersistenceError("publish", appcore.ErrSerialization, err)
		}

		err = b.client.Publish(ctx, channel, data).Err()
		b.metrics.ObservePublish(aggregateType, err)
		if err != nil {
			return appcore.NewPersistenceError("publish", appcore.ErrConnection, err)
		}

		b.logger.DebugContext(ctx, "event published",
			slog.String("message_id", msg.ID),
			slog.String("event_type", msg.EventType),
			slog.String("aggregate_id", msg.AggregateID),
			slog.Uint64("sequence", msg.Sequence),
			slog.String("channel", channel),
		)
	}

	return nil
}

// Publisher returns a query processor that publishes every committed batch
// of aggregateType to the bus.
func (b *RedisEventBus) Publisher(aggregateType string) *Publisher {
	return &Publisher{bus: b, aggregateType: aggregateType}
}

// Publisher adapts RedisEventBus to appcore.Query.
type Publisher struct {
	bus           *RedisEventBus
	aggregateType string
}

var _ appcore.Query = (*Publisher)(nil)

// Dispatch publishes events. The commit is already durable, so failures are
// logged and left to a later rebuild.
func (p *Publisher) Dispatch(ctx context.Context, aggregateID string, events []event.Envelope) {
	if len(events) == 0 {
		return
	}
	if err := p.bus.Publish(ctx, p.aggregateType, events); err != nil {
		p.bus.logger.ErrorContext(ctx, "failed to publish committed events",
			slog.String("aggregate_type", p.aggregateType),
			slog.String("aggregate_id", aggregateID),
			slog.Int("events_count", len(events)),
			slog.String("error", err.Error()),
		)
	}
}

// Subscribe registers a handler for the events of an aggregate type.
// Handlers are called concurrently when messages are received.
func (b *RedisEventBus) Subscribe(aggregateType string, handler MessageHandler) error {
	if aggregateType == "" {
		return errors.New("aggregate type cannot be empty")
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()

	b.handlers[aggregateType] = append(b.handlers[aggregateType], handler)

	return nil
}

// Start begins listening on the subscribed channels.
// This method blocks until Shutdown is called or the context is cancelled.
func (b *RedisEventBus) Start(ctx context.Context) error {
	b.runningMu.Lock()
	if b.running {
		b.runningMu.Unlock()
		return errors.New("event bus is already running")
	}
	b.running = true
	b.runningMu.Unlock()

	channels := b.subscribedChannels()
	if len(channels) == 0 {
		b.logger.WarnContext(ctx, "starting event bus with no subscriptions")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.shutdown:
			return nil
		}
	}

	pubsub := b.client.Subscribe(ctx, channels...)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return appcore.NewPersistenceError("subscribe", appcore.ErrConnection, err)
	}

	b.pubsubMu.Lock()
	b.pubsub = pubsub
	b.pubsubMu.Unlock()

	b.logger.InfoContext(ctx, "event bus started",
		slog.Int("channel_count", len(channels)),
		slog.Any("channels", channels),
	)

	msgCh := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			b.logger.InfoContext(ctx, "event bus stopping due to context cancellation")
			return ctx.Err()

		case <-b.shutdown:
			b.logger.InfoContext(ctx, "event bus stopping due to shutdown signal")
			return nil

		case msg, ok := <-msgCh:
			if !ok {
				b.logger.WarnContext(ctx, "message channel closed")
				return nil
			}
			b.handleMessage(ctx, msg)
		}
	}
}

// Shutdown stops the event bus and waits for running handlers.
func (b *RedisEventBus) Shutdown() error {
	b.runningMu.Lock()
	if !b.running {
		b.runningMu.Unlock()
		return nil
	}
	b.running = false
	b.runningMu.Unlock()

	close(b.shutdown)

	b.wg.Wait()

	b.pubsubMu.Lock()
	pubsub := b.pubsub
	b.pubsub = nil
	b.pubsubMu.Unlock()

	if pubsub != nil {
		if err := pubsub.Close(); err != nil {
			return fmt.Errorf("failed to close pubsub: %w", err)
		}
	}

	return nil
}

// IsRunning returns true if the event bus is currently running.
func (b *RedisEventBus) IsRunning() bool {
	b.runningMu.RLock()
	defer b.runningMu.RUnlock()
	return b.running
}

// HandlerCount returns the number of handlers registered for an aggregate type.
func (b *RedisEventBus) HandlerCount(aggregateType string) int {
	b.handlersMu.RLock()
	defer b.handlersMu.RUnlock()
	return len(b.handlers[aggregateType])
}

// ChannelName returns the Redis channel of an aggregate type.
func (b *RedisEventBus) ChannelName(aggregateType string) string {
	return b.channelPrefix + aggregateType
}

func (b *RedisEventBus) subscribedChannels() []string {
	b.handlersMu.RLock()
	defer b.handlersMu.RUnlock()

	channels := make([]string, 0, len(b.handlers))
	for aggregateType := range b.handlers {
		channels = append(channels, b.ChannelName(aggregateType))
	}
	return channels
}

func (b *RedisEventBus) handleMessage(ctx context.Context, raw *redis.Message) {
	var msg Message
	if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
		b.logger.ErrorContext(ctx, "failed to unmarshal message",
			slog.String("channel", raw.Channel),
			slog.String("error", err.Error()),
		)
		return
	}

	b.handlersMu.RLock()
	handlers := b.handlers[msg.AggregateType]
	b.handlersMu.RUnlock()

	for i, handler := range handlers {
		b.wg.Add(1)
		go b.executeHandler(ctx, handler, msg, i)
	}
}

// executeHandler runs a single handler with exponential backoff.
func (b *RedisEventBus) executeHandler(
	ctx context.Context,
	handler MessageHandler,
	msg Message,
	handlerIndex int,
) {
	defer b.wg.Done()

	var lastErr error
	backoff := b.retryConfig.InitialBackoff

	for attempt := 0; attempt <= b.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			b.logger.DebugContext(ctx, "retrying message handler",
				slog.String("event_type", msg.EventType),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				b.logger.WarnContext(ctx, "handler retry cancelled",
					slog.String("event_type", msg.EventType),
					slog.String("error", ctx.Err().Error()),
				)
				return
			case <-time.After(backoff):
			}

			backoff = time.Duration(float64(backoff) * b.retryConfig.BackoffFactor)
			if backoff > b.retryConfig.MaxBackoff {
				backoff = b.retryConfig.MaxBackoff
			}
		}

		if err := handler(ctx, msg); err != nil {
			lastErr = err
			b.logger.WarnContext(ctx, "message handler failed",
				slog.String("event_type", msg.EventType),
				slog.String("aggregate_id", msg.AggregateID),
				slog.Int("handler_index", handlerIndex),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		b.logger.DebugContext(ctx, "message handler completed",
			slog.String("event_type", msg.EventType),
			slog.String("aggregate_id", msg.AggregateID),
			slog.Int("handler_index", handlerIndex),
		)
		return
	}

	b.logger.ErrorContext(ctx, "message handler failed after all retries",
		slog.String("event_type", msg.EventType),
		slog.String("aggregate_id", msg.AggregateID),
		slog.Int("handler_index", handlerIndex),
		slog.Int("max_retries", b.retryConfig.MaxRetries),
		slog.String("error", lastErr.Error()),
	)
}
