package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"

	"github.com/vitchili/dynadoc-flow/internal/config"
	"github.com/vitchili/dynadoc-flow/internal/gcp"
	"github.com/vitchili/dynadoc-flow/internal/messaging"
	"github.com/vitchili/dynadoc-flow/internal/records"
	"github.com/vitchili/dynadoc-flow/internal/render"
	"github.com/vitchili/dynadoc-flow/internal/retry"
)

// runtime holds the messaging clients shared by the event-driven services.
type runtime struct {
	config    *config.Config
	pubsub    *pubsub.Client
	publisher *messaging.Publisher
	deduper   *messaging.RedisDeduper
	closers   []func() error
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	if err := cfg.Require("PROJECT_ID"); err != nil {
		return nil, err
	}

	client, err := gcp.NewPubSubClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		config:    cfg,
		pubsub:    client,
		publisher: messaging.NewPublisher(client, cfg.EventSource),
	}
	rt.closers = append(rt.closers, func() error {
		rt.publisher.Stop()
		return client.Close()
	})

	if cfg.RedisAddr != "" {
		rt.deduper = messaging.NewRedisDeduper(cfg.RedisAddr, "dynadoc", cfg.DedupeTTL)
		rt.closers = append(rt.closers, rt.deduper.Close)
	} else {
		slog.Warn("REDIS_ADDR not set, duplicate events will be processed again.")
	}
	return rt, nil
}

// dispatcher wraps handler with the consumer retry policy, dedupe and
// dead-lettering configured for this process.
func (rt *runtime) dispatcher(subscription string, handler messaging.HandlerFunc) *messaging.Dispatcher {
	dc := messaging.DispatcherConfig{
		Subscription:    subscription,
		Policy:          retry.Policy{Attempts: rt.config.ConsumerMaxAttempts, Backoff: rt.config.ConsumerBackoff},
		MaxDeliveries:   messaging.ClampDeliveryAttempts(rt.config.ConsumerMaxAttempts),
		DeadLetterTopic: rt.config.DeadLetterTopic,
	}
	if rt.deduper != nil {
		dc.Deduper = rt.deduper
	}
	if rt.config.DeadLetterTopic != "" {
		dc.DeadLetter = rt.publisher
	}
	return messaging.NewDispatcher(dc, handler)
}

func (rt *runtime) addCloser(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

func (rt *runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to release clients: %w", err)
	}
	return nil
}

// newRecordStore opens the Firestore record store. The client is closed with rt.
func newRecordStore(ctx context.Context, cfg *config.Config, rt *runtime) (*records.FirestoreStore, error) {
	client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	rt.addCloser(client.Close)
	return records.NewFirestoreStore(client, cfg.FirestoreCollection), nil
}

// newRenderer builds a renderer storing artifacts in the configured bucket.
// The storage client is closed with rt.
func newRenderer(ctx context.Context, cfg *config.Config, rt *runtime) (*render.Renderer, error) {
	client, err := gcp.NewStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	rt.addCloser(client.Close)

	renderer, err := render.New(cfg.RenderTmpDir, cfg.ArtifactsPrefix, gcp.NewObjectStore(client, cfg.ArtifactsBucket))
	if err != nil {
		return nil, err
	}
	if cfg.RenderFontPath != "" {
		if err := renderer.UseUTF8Font(cfg.RenderFontPath); err != nil {
			return nil, err
		}
	}
	return renderer, nil
}
