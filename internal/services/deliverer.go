package services

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vitchili/dynadoc-flow/internal/config"
	"github.com/vitchili/dynadoc-flow/internal/messaging"
	"github.com/vitchili/dynadoc-flow/internal/models"
	"github.com/vitchili/dynadoc-flow/internal/retry"
	"github.com/vitchili/dynadoc-flow/internal/telemetry"
	"github.com/vitchili/dynadoc-flow/internal/templates"
)

// DelivererConfig holds configuration for the template deliverer.
type DelivererConfig struct {
	DeliveredTopic        string
	RequestedSubscription string
}

// DelivererFunction answers template.requested events with the template's
// content on template.delivered.
type DelivererFunction struct {
	lookup    templates.Lookup
	publisher EventPublisher
	config    DelivererConfig
	runtime   *runtime
}

// NewDeliverer creates a DelivererFunction from the environment.
func NewDeliverer(ctx context.Context) (*DelivererFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Require("TEMPLATES_DATABASE_URL", "TEMPLATE_DELIVERED_TOPIC"); err != nil {
		return nil, err
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pool, err := templates.Connect(ctx, cfg.TemplatesDatabaseURL)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.addCloser(func() error {
		pool.Close()
		return nil
	})

	f := newDeliverer(templates.NewPostgresLookup(pool), rt.publisher, DelivererConfig{
		DeliveredTopic:        cfg.TemplateDeliveredTopic,
		RequestedSubscription: cfg.TemplateRequestedSubscription,
	})
	f.runtime = rt
	return f, nil
}

func newDeliverer(lookup templates.Lookup, publisher EventPublisher, config DelivererConfig) *DelivererFunction {
	return &DelivererFunction{lookup: lookup, publisher: publisher, config: config}
}

// Deliver resolves the template and its ordered sections and publishes them
// keyed by template id. It returns models.ErrNotFound when the template or
// its sections are missing.
func (f *DelivererFunction) Deliver(ctx context.Context, templateID string) (*models.TemplateSections, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "deliverer.Deliver",
		trace.WithAttributes(attribute.String("template.id", templateID)))
	defer span.End()

	logCtx := slog.With("templateId", templateID)
	logCtx.InfoContext(ctx, "Starting template delivery.")

	delivered, err := templates.Load(ctx, f.lookup, templateID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "template lookup failed")
		logCtx.ErrorContext(ctx, "Failed to load template", "error", err)
		return nil, fmt.Errorf("failed to load template %s: %w", templateID, err)
	}

	eventID, err := f.publisher.Publish(ctx, f.config.DeliveredTopic, templateID, models.TopicTemplateDelivered,
		models.TemplateDelivered{Data: *delivered})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		logCtx.ErrorContext(ctx, "Failed to publish delivered template", "error", err)
		return nil, fmt.Errorf("failed to publish template %s: %w", templateID, err)
	}

	span.SetAttributes(attribute.Int("sections.count", len(delivered.Sections)))
	logCtx.InfoContext(ctx, "Template delivery complete.", "sectionCount", len(delivered.Sections), "eventId", eventID)
	return delivered, nil
}

// HandleRequested is the messaging handler for template.requested.
func (f *DelivererFunction) HandleRequested(ctx context.Context, d messaging.Delivery) error {
	var req models.TemplateRequested
	if err := d.DecodeData(&req); err != nil {
		return retry.Permanent(fmt.Errorf("invalid template.requested payload: %w", err))
	}
	if req.TemplateID == "" {
		return retry.Permanent(&models.ValidationError{Messages: []string{"templateId is required"}})
	}
	_, err := f.Deliver(ctx, req.TemplateID)
	return err
}

// Dispatcher wraps HandleRequested with the configured retry, dedupe and
// dead-letter behaviour.
func (f *DelivererFunction) Dispatcher() *messaging.Dispatcher {
	return f.runtime.dispatcher(f.config.RequestedSubscription, f.HandleRequested)
}

// Consumer pulls template.requested events from the deliverer subscription.
func (f *DelivererFunction) Consumer() *messaging.Consumer {
	return messaging.NewConsumer(f.runtime.pubsub, f.config.RequestedSubscription, f.Dispatcher())
}

// Close releases the database pool and messaging clients.
func (f *DelivererFunction) Close() error {
	return f.runtime.Close()
}
