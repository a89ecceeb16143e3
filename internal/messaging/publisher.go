package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/vitchili/dynadoc-flow/internal/models"
	"github.com/vitchili/dynadoc-flow/internal/retry"
	"github.com/vitchili/dynadoc-flow/internal/telemetry"
)

// Publishes are retried with the same event id, so consumers can drop the
// duplicates a lost acknowledgement produces.
var defaultPublishPolicy = retry.Policy{Attempts: 3, Backoff: time.Second}

// Publisher sends events to Pub/Sub topics and waits for the server
// acknowledgement of each one.
type Publisher struct {
	client *pubsub.Client
	source string
	policy retry.Policy

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPublisher creates a publisher stamping events with the given source.
func NewPublisher(client *pubsub.Client, source string) *Publisher {
	return &Publisher{
		client: client,
		source: source,
		policy: defaultPublishPolicy,
		topics: map[string]*pubsub.Topic{},
	}
}

// Publish wraps data in a CloudEvent of the given type and publishes it with
// key as ordering key and subject. It returns the event id.
func (p *Publisher) Publish(ctx context.Context, topicID, key, eventType string, data any) (string, error) {
	event, err := NewEvent(p.source, eventType, key, data)
	if err != nil {
		return "", err
	}
	payload, attrs := Encode(event)
	telemetry.Inject(ctx, attrs)

	if _, err := p.PublishRaw(ctx, topicID, key, payload, attrs); err != nil {
		return "", err
	}
	return event.ID(), nil
}

// PublishRaw publishes an already encoded message and returns the server
// message id. Failures are reported as models.TransportError.
func (p *Publisher) PublishRaw(ctx context.Context, topicID, key string, data []byte, attrs map[string]string) (string, error) {
	topic := p.topic(topicID)
	logCtx := slog.With("topic", topicID, "orderingKey", key, "eventId", attrs[AttrID])

	var serverID string
	_, err := retry.Do(ctx, p.policy, func(ctx context.Context, attempt int) error {
		res := topic.Publish(ctx, &pubsub.Message{
			Data:        data,
			Attributes:  attrs,
			OrderingKey: key,
		})
		id, err := res.Get(ctx)
		if err != nil {
			if key != "" {
				topic.ResumePublish(key)
			}
			return err
		}
		serverID = id
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		logCtx.WarnContext(ctx, "Publish failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		logCtx.ErrorContext(ctx, "Failed to publish message", "error", err)
		return "", &models.TransportError{Topic: topicID, Err: fmt.Errorf("publish: %w", err)}
	}

	logCtx.DebugContext(ctx, "Published message.", "messageId", serverID)
	return serverID, nil
}

// Stop flushes and stops every topic handle.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, topic := range p.topics {
		topic.Stop()
		delete(p.topics, id)
	}
}

func (p *Publisher) topic(id string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	topic, ok := p.topics[id]
	if !ok {
		topic = p.client.Topic(id)
		topic.EnableMessageOrdering = true
		p.topics[id] = topic
	}
	return topic
}
