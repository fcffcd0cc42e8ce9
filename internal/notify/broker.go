package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel carries lock events between processes.
const DefaultChannel = "covenant:lock-events"

// Broker bridges lock events across processes through Redis pub/sub. Every
// process publishes to the channel and delivers what it receives to its own hub.
type Broker struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	logger  *slog.Logger
}

// NewBroker constructs a Broker.
func NewBroker(client redis.UniversalClient, channel string, hub *Hub, logger *slog.Logger) *Broker {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{client: client, channel: channel, hub: hub, logger: logger}
}

// Publish sends ev to every process. When Redis is unavailable the event is
// still delivered to local sessions and the error is returned.
func (b *Broker) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.hub.Deliver(ev)
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

// Run subscribes to the channel and delivers events until ctx is done.
func (b *Broker) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = pubsub.Close() }()
	if _, err := pubsub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("notify: drop malformed event", slog.Any("error", err))
				continue
			}
			b.hub.Deliver(ev)
		}
	}
}
