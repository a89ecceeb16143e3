package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vitchili/dynadoc-flow/internal/config"
	"github.com/vitchili/dynadoc-flow/internal/models"
	"github.com/vitchili/dynadoc-flow/internal/records"
	"github.com/vitchili/dynadoc-flow/internal/tags"
	"github.com/vitchili/dynadoc-flow/internal/telemetry"
)

const maxNameLength = 255

// RequesterConfig holds configuration for the document requester.
type RequesterConfig struct {
	RequestedTopic string
}

// RequesterFunction accepts generation requests: it stores a PENDING file and
// asks for the template's content.
type RequesterFunction struct {
	store     records.Store
	publisher EventPublisher
	config    RequesterConfig
	now       func() time.Time
	runtime   *runtime
}

// NewRequester creates a RequesterFunction from the environment.
func NewRequester(ctx context.Context) (*RequesterFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Require("PROJECT_ID", "FIRESTORE_COLLECTION", "TEMPLATE_REQUESTED_TOPIC"); err != nil {
		return nil, err
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := newRecordStore(ctx, cfg, rt)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	f := newRequester(store, rt.publisher, RequesterConfig{RequestedTopic: cfg.TemplateRequestedTopic})
	f.runtime = rt
	return f, nil
}

func newRequester(store records.Store, publisher EventPublisher, config RequesterConfig) *RequesterFunction {
	return &RequesterFunction{
		store:     store,
		publisher: publisher,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates the request, stores a PENDING file owned by req.UserID and
// publishes template.requested keyed by the template id. It returns the new
// file id. Malformed requests fail with *models.ValidationError. When the
// event cannot be published the file is removed again and the
// *models.TransportError is returned.
func (f *RequesterFunction) Submit(ctx context.Context, req models.GenerationRequest) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "requester.Submit",
		trace.WithAttributes(attribute.String("template.id", req.TemplateID)))
	defer span.End()

	logCtx := slog.With("templateId", req.TemplateID, "userId", req.UserID)

	if messages := ValidateRequest(req); len(messages) > 0 {
		span.SetStatus(codes.Error, "invalid request")
		logCtx.WarnContext(ctx, "Rejected generation request", "messages", messages)
		return "", &models.ValidationError{Messages: messages}
	}

	file, err := models.NewFile(strings.TrimSpace(req.Name), req.TemplateID, req.UserID, req.Payload, f.now())
	if err != nil {
		return "", err
	}
	logCtx = logCtx.With("fileId", file.ID)

	if err := f.store.Create(ctx, file); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		logCtx.ErrorContext(ctx, "Failed to store file", "error", err)
		return "", fmt.Errorf("failed to store file: %w", err)
	}

	eventID, err := f.publisher.Publish(ctx, f.config.RequestedTopic, req.TemplateID, models.TopicTemplateRequested,
		models.TemplateRequested{TemplateID: req.TemplateID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		logCtx.ErrorContext(ctx, "Failed to request template, removing file", "error", err)
		if delErr := f.store.Delete(context.WithoutCancel(ctx), file.ID); delErr != nil {
			logCtx.ErrorContext(ctx, "Failed to remove unrequested file", "error", delErr)
		}
		return "", err
	}

	logCtx.InfoContext(ctx, "Generation requested.", "eventId", eventID)
	return file.ID, nil
}

// ValidateRequest returns one message per problem with req.
func ValidateRequest(req models.GenerationRequest) []string {
	var messages []string
	if _, err := uuid.Parse(req.TemplateID); err != nil {
		messages = append(messages, "templateId must be a valid UUID")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		messages = append(messages, "name is required")
	} else if utf8.RuneCountInString(name) > maxNameLength {
		messages = append(messages, fmt.Sprintf("name must not exceed %d characters", maxNameLength))
	}
	if req.UserID == "" {
		messages = append(messages, "userId is required")
	}
	if req.Payload == nil {
		messages = append(messages, "payload is required")
	}

	keys := make([]string, 0, len(req.Payload))
	for key := range req.Payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !tags.IsTagName(key) {
			messages = append(messages, fmt.Sprintf("payload key %q must match [A-Z_]+", key))
		}
	}
	return messages
}

// Close releases the store and messaging clients.
func (f *RequesterFunction) Close() error {
	return f.runtime.Close()
}
