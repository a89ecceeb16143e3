package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RedeliveryBackoff is the broker-side wait before an unacknowledged message
// is delivered again.
const RedeliveryBackoff = 10 * time.Second

// Pub/Sub accepts between 5 and 100 delivery attempts in a dead-letter policy.
const (
	MinDeliveryAttempts = 5
	MaxDeliveryAttempts = 100
)

// ClampDeliveryAttempts bounds n to what a dead-letter policy accepts.
func ClampDeliveryAttempts(n int) int {
	return min(max(n, MinDeliveryAttempts), MaxDeliveryAttempts)
}

// SubscriptionSpec is an ordered subscription on a topic.
type SubscriptionSpec struct {
	ID    string
	Topic string
}

// Topology lists the topics and subscriptions the saga needs.
type Topology struct {
	Topics        []string
	Subscriptions []SubscriptionSpec
	AckDeadline   time.Duration
	// DeadLetterTopic, when set, receives messages the broker delivered
	// MaxDeliveryAttempts times without an ack.
	DeadLetterTopic     string
	MaxDeliveryAttempts int
}

// NewTopology describes the requested/delivered topics, their worker
// subscriptions and, when deadLetterTopic is set, the dead-letter topic.
func NewTopology(requestedTopic, requestedSub, deliveredTopic, deliveredSub, deadLetterTopic string, ackDeadline time.Duration) Topology {
	t := Topology{
		Topics: []string{requestedTopic, deliveredTopic},
		Subscriptions: []SubscriptionSpec{
			{ID: requestedSub, Topic: requestedTopic},
			{ID: deliveredSub, Topic: deliveredTopic},
		},
		AckDeadline:         ackDeadline,
		DeadLetterTopic:     deadLetterTopic,
		MaxDeliveryAttempts: MinDeliveryAttempts,
	}
	if deadLetterTopic != "" {
		t.Topics = append(t.Topics, deadLetterTopic)
	}
	return t
}

// Provision creates whatever part of the topology is missing. Existing topics
// and subscriptions are left untouched, except that a subscription without a
// dead-letter policy gets one when the topology has a dead-letter topic.
func Provision(ctx context.Context, client *pubsub.Client, t Topology) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range t.Topics {
		g.Go(func() error { return ensureTopic(gctx, client, id) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, spec := range t.Subscriptions {
		g.Go(func() error { return ensureSubscription(gctx, client, spec, t) })
	}
	return g.Wait()
}

func ensureTopic(ctx context.Context, client *pubsub.Client, id string) error {
	exists, err := client.Topic(id).Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check topic %s: %w", id, err)
	}
	if exists {
		slog.Info("SKIPPING: Topic already exists.", "topic", id)
		return nil
	}
	if _, err := client.CreateTopic(ctx, id); err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("failed to create topic %s: %w", id, err)
	}
	slog.Info("Created topic.", "topic", id)
	return nil
}

func ensureSubscription(ctx context.Context, client *pubsub.Client, spec SubscriptionSpec, t Topology) error {
	policy := deadLetterPolicy(client, t)
	sub := client.Subscription(spec.ID)

	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check subscription %s: %w", spec.ID, err)
	}
	if exists {
		return ensureDeadLetterPolicy(ctx, sub, policy)
	}

	_, err = client.CreateSubscription(ctx, spec.ID, pubsub.SubscriptionConfig{
		Topic:                 client.Topic(spec.Topic),
		AckDeadline:           t.AckDeadline,
		EnableMessageOrdering: true,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: RedeliveryBackoff,
			MaximumBackoff: RedeliveryBackoff,
		},
		DeadLetterPolicy: policy,
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("failed to create subscription %s: %w", spec.ID, err)
	}
	slog.Info("Created subscription.", "subscription", spec.ID, "topic", spec.Topic, "deadLetter", policy != nil)
	return nil
}

func ensureDeadLetterPolicy(ctx context.Context, sub *pubsub.Subscription, policy *pubsub.DeadLetterPolicy) error {
	if policy == nil {
		slog.Info("SKIPPING: Subscription already exists.", "subscription", sub.ID())
		return nil
	}
	cfg, err := sub.Config(ctx)
	if err != nil {
		return fmt.Errorf("failed to read subscription %s: %w", sub.ID(), err)
	}
	if cfg.DeadLetterPolicy != nil {
		slog.Info("SKIPPING: Subscription already exists.", "subscription", sub.ID())
		return nil
	}
	if _, err := sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{DeadLetterPolicy: policy}); err != nil {
		return fmt.Errorf("failed to set dead-letter policy on %s: %w", sub.ID(), err)
	}
	slog.Info("Added dead-letter policy to subscription.", "subscription", sub.ID(), "deadLetterTopic", policy.DeadLetterTopic)
	return nil
}

// deadLetterPolicy is nil when the topology has no dead-letter topic.
func deadLetterPolicy(client *pubsub.Client, t Topology) *pubsub.DeadLetterPolicy {
	if t.DeadLetterTopic == "" {
		return nil
	}
	return &pubsub.DeadLetterPolicy{
		DeadLetterTopic:     client.Topic(t.DeadLetterTopic).String(),
		MaxDeliveryAttempts: ClampDeliveryAttempts(t.MaxDeliveryAttempts),
	}
}
