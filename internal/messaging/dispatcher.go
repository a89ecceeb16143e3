package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/vitchili/dynadoc-flow/internal/retry"
	"github.com/vitchili/dynadoc-flow/internal/telemetry"
)

// Dead-letter attributes added to a message on its way to the dead-letter topic.
const (
	AttrDeadLetterReason       = "dl-reason"
	AttrDeadLetterAttempts     = "dl-attempts"
	AttrDeadLetterSubscription = "dl-subscription"
)

// DeadLetterSink receives messages the dispatcher gave up on.
type DeadLetterSink interface {
	PublishRaw(ctx context.Context, topicID, key string, data []byte, attrs map[string]string) (string, error)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Subscription names the consumer in logs, dedupe keys and dead letters.
	Subscription string
	Policy       retry.Policy
	// MaxDeliveries is the broker delivery count at which a message is given
	// up without running the handler. Zero disables the check; the broker
	// only reports delivery counts on subscriptions with a dead-letter policy.
	MaxDeliveries int
	// Deduper is optional. Without it every delivery is processed.
	Deduper Deduper
	// DeadLetter and DeadLetterTopic are optional. Without them exhausted
	// messages are dropped.
	DeadLetter      DeadLetterSink
	DeadLetterTopic string
}

// Dispatcher decodes messages and runs the handler under the retry policy.
// It decides the outcome for the transport.
type Dispatcher struct {
	config  DispatcherConfig
	handler HandlerFunc
}

func NewDispatcher(config DispatcherConfig, handler HandlerFunc) *Dispatcher {
	return &Dispatcher{config: config, handler: handler}
}

// Dispatch processes one message. Messages that still fail after the retry
// budget, and messages that cannot be decoded, are dead-lettered or dropped
// and acknowledged. Nack is returned only when the context ends first or a
// dead letter could not be published.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Outcome {
	ctx = telemetry.Extract(ctx, msg.Attributes)
	logCtx := slog.With("subscription", d.config.Subscription, "messageId", msg.ID, "orderingKey", msg.Key)

	event, err := Decode(msg.Data, msg.Attributes)
	if err != nil {
		logCtx.ErrorContext(ctx, "Undecodable message", "error", err)
		return d.giveUp(ctx, logCtx, msg, 0, fmt.Errorf("undecodable message: %w", err))
	}
	logCtx = logCtx.With("eventId", event.ID(), "eventType", event.Type())

	if d.config.Deduper != nil {
		seen, err := d.config.Deduper.Seen(ctx, d.config.Subscription, event.ID())
		if err != nil {
			logCtx.WarnContext(ctx, "Dedupe lookup failed, processing anyway", "error", err)
		} else if seen {
			logCtx.InfoContext(ctx, "SKIPPING: Event already processed.")
			return Ack
		}
	}

	if d.config.MaxDeliveries > 0 && msg.Attempt >= d.config.MaxDeliveries {
		logCtx.ErrorContext(ctx, "Message redelivered too often", "deliveryAttempt", msg.Attempt)
		return d.giveUp(ctx, logCtx, msg, 0, fmt.Errorf("delivered %d times without an ack", msg.Attempt))
	}

	delivery := Delivery{Event: event, Key: msg.Key, MessageID: msg.ID}
	attempts, err := retry.Do(ctx, d.config.Policy, func(ctx context.Context, attempt int) error {
		delivery.Attempt = attempt
		return d.handler(ctx, delivery)
	}, func(attempt int, err error, wait time.Duration) {
		logCtx.WarnContext(ctx, "Handler failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	})
	if err == nil {
		if d.config.Deduper != nil {
			if err := d.config.Deduper.Mark(ctx, d.config.Subscription, event.ID()); err != nil {
				logCtx.WarnContext(ctx, "Could not record processed event", "error", err)
			}
		}
		logCtx.InfoContext(ctx, "Message processed.", "attempts", attempts)
		return Ack
	}

	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		logCtx.WarnContext(ctx, "Stopped before the message was processed", "attempts", attempts, "error", err)
		return Nack
	}
	return d.giveUp(ctx, logCtx, msg, attempts, err)
}

func (d *Dispatcher) giveUp(ctx context.Context, logCtx *slog.Logger, msg Message, attempts int, cause error) Outcome {
	if d.config.DeadLetter == nil || d.config.DeadLetterTopic == "" {
		logCtx.ErrorContext(ctx, "Dropping message after exhausting retries", "alert", true, "attempts", attempts, "error", cause)
		return Ack
	}

	attrs := make(map[string]string, len(msg.Attributes)+3)
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	attrs[AttrDeadLetterReason] = cause.Error()
	attrs[AttrDeadLetterAttempts] = strconv.Itoa(attempts)
	attrs[AttrDeadLetterSubscription] = d.config.Subscription

	// the dead letter must outlive a cancelled receive context
	dlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if _, err := d.config.DeadLetter.PublishRaw(dlCtx, d.config.DeadLetterTopic, msg.Key, msg.Data, attrs); err != nil {
		logCtx.ErrorContext(ctx, "Failed to dead-letter message", "alert", true, "attempts", attempts, "error", err, "cause", cause)
		return Nack
	}
	logCtx.ErrorContext(ctx, "Message dead-lettered after exhausting retries", "alert", true,
		"attempts", attempts, "deadLetterTopic", d.config.DeadLetterTopic, "error", cause)
	return Ack
}
