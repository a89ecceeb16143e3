package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"

	"github.com/vitchili/dynadoc-flow/internal/models"
)

// Consumer pulls messages from a subscription one at a time and hands them
// to a Dispatcher.
type Consumer struct {
	sub        *pubsub.Subscription
	dispatcher *Dispatcher
}

// NewConsumer binds a dispatcher to the subscription. Messages are handled
// strictly one after the other.
func NewConsumer(client *pubsub.Client, subscriptionID string, dispatcher *Dispatcher) *Consumer {
	sub := client.Subscription(subscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.NumGoroutines = 1
	return &Consumer{sub: sub, dispatcher: dispatcher}
}

// Run receives until ctx is done. It returns nil on cancellation and a
// models.TransportError when the subscription fails.
func (c *Consumer) Run(ctx context.Context) error {
	logCtx := slog.With("subscription", c.sub.ID())
	logCtx.Info("Starting consumer.")

	err := c.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		switch c.dispatcher.Dispatch(ctx, fromPubSub(m)) {
		case Ack:
			m.Ack()
		default:
			m.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		logCtx.Error("Subscription receive failed", "alert", true, "error", err)
		return &models.TransportError{Topic: c.sub.ID(), Err: fmt.Errorf("receive: %w", err)}
	}

	logCtx.Info("Consumer stopped.")
	return nil
}

func fromPubSub(m *pubsub.Message) Message {
	msg := Message{
		ID:         m.ID,
		Key:        m.OrderingKey,
		Data:       m.Data,
		Attributes: m.Attributes,
	}
	if m.DeliveryAttempt != nil {
		msg.Attempt = *m.DeliveryAttempt
	}
	return msg
}
