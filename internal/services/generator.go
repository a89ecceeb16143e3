package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vitchili/dynadoc-flow/internal/config"
	"github.com/vitchili/dynadoc-flow/internal/messaging"
	"github.com/vitchili/dynadoc-flow/internal/models"
	"github.com/vitchili/dynadoc-flow/internal/records"
	"github.com/vitchili/dynadoc-flow/internal/retry"
	"github.com/vitchili/dynadoc-flow/internal/tags"
	"github.com/vitchili/dynadoc-flow/internal/telemetry"
)

// InvalidPayloadMessage is recorded on a file whose stored payload cannot be decoded.
const InvalidPayloadMessage = "O payload do arquivo não é um JSON válido."

// GeneratorConfig holds configuration for the file generator.
type GeneratorConfig struct {
	Policy                retry.Policy
	Concurrency           int
	DeliveredSubscription string
}

// GenerationReport lists what happened to each pending file of a template.
type GenerationReport struct {
	TemplateID string
	Ready      []string
	Failed     []string
	// Pending holds files whose attempts were exhausted; they stay PENDING.
	Pending []string
	// Skipped holds files another worker finished or deleted meanwhile.
	Skipped []string
}

func (r *GenerationReport) add(o outcome, fileID string) {
	switch o {
	case outcomeReady:
		r.Ready = append(r.Ready, fileID)
	case outcomeError:
		r.Failed = append(r.Failed, fileID)
	case outcomeSkipped:
		r.Skipped = append(r.Skipped, fileID)
	default:
		r.Pending = append(r.Pending, fileID)
	}
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeReady
	outcomeError
	outcomeSkipped
)

// GeneratorFunction renders every pending file of a delivered template.
type GeneratorFunction struct {
	store    records.Store
	renderer Renderer
	config   GeneratorConfig
	now      func() time.Time
	runtime  *runtime
}

// NewGenerator creates a GeneratorFunction from the environment.
func NewGenerator(ctx context.Context) (*GeneratorFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Require("PROJECT_ID", "FIRESTORE_COLLECTION", "ARTIFACTS_BUCKET"); err != nil {
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
	renderer, err := newRenderer(ctx, cfg, rt)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	f := newGenerator(store, renderer, GeneratorConfig{
		Policy:                retry.Policy{Attempts: cfg.GenerationAttempts, Backoff: cfg.GenerationBackoff},
		Concurrency:           cfg.GenerationConcurrency,
		DeliveredSubscription: cfg.TemplateDeliveredSubscription,
	})
	f.runtime = rt
	return f, nil
}

func newGenerator(store records.Store, renderer Renderer, config GeneratorConfig) *GeneratorFunction {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &GeneratorFunction{
		store:    store,
		renderer: renderer,
		config:   config,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process generates every pending file of the template. Per-file failures are
// contained in the report; an error is returned only when the pending files
// could not be listed or ctx ended before all files were handled.
func (f *GeneratorFunction) Process(ctx context.Context, tpl models.Template, sections []models.Section) (*GenerationReport, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "generator.Process",
		trace.WithAttributes(attribute.String("template.id", tpl.ID)))
	defer span.End()

	logCtx := slog.With("templateId", tpl.ID)
	logCtx.InfoContext(ctx, "Starting file generation.", "sectionCount", len(sections))

	// --- 1. Load the files waiting for this template ---
	pending, err := f.store.FindPending(ctx, tpl.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pending lookup failed")
		logCtx.ErrorContext(ctx, "Failed to list pending files", "error", err)
		return nil, fmt.Errorf("failed to list pending files for template %s: %w", tpl.ID, err)
	}
	if len(pending) == 0 {
		logCtx.InfoContext(ctx, "No pending files for template.")
		return &GenerationReport{TemplateID: tpl.ID}, nil
	}
	logCtx.InfoContext(ctx, "Found pending files.", "fileCount", len(pending))

	// --- 2. Generate each file in isolation ---
	outcomes := make([]outcome, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.config.Concurrency)
	for i, file := range pending {
		g.Go(func() error {
			outcomes[i] = f.generate(gctx, tpl, sections, file.ID)
			return nil
		})
	}
	_ = g.Wait()

	// --- 3. Report ---
	report := &GenerationReport{TemplateID: tpl.ID}
	for i, file := range pending {
		report.add(outcomes[i], file.ID)
	}
	span.SetAttributes(
		attribute.Int("files.ready", len(report.Ready)),
		attribute.Int("files.failed", len(report.Failed)),
		attribute.Int("files.pending", len(report.Pending)),
	)
	logCtx.InfoContext(ctx, "File generation complete.",
		"ready", len(report.Ready), "failed", len(report.Failed),
		"pending", len(report.Pending), "skipped", len(report.Skipped))

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// generate runs one file's transaction under the retry policy.
func (f *GeneratorFunction) generate(ctx context.Context, tpl models.Template, sections []models.Section, fileID string) outcome {
	ctx, span := telemetry.Tracer().Start(ctx, "generator.generate",
		trace.WithAttributes(attribute.String("file.id", fileID)))
	defer span.End()
	logCtx := slog.With("templateId", tpl.ID, "fileId", fileID)

	result := outcomePending
	attempts, err := retry.Do(ctx, f.config.Policy, func(ctx context.Context, attempt int) error {
		o, err := f.attempt(ctx, tpl, sections, fileID)
		if errors.Is(err, models.ErrNotFound) {
			result = outcomeSkipped
			return nil
		}
		if err != nil {
			return err
		}
		result = o
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		logCtx.WarnContext(ctx, "File generation attempt failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempts exhausted")
		logCtx.ErrorContext(ctx, "File generation failed, file stays pending", "attempts", attempts, "error", err)
		return outcomePending
	}

	switch result {
	case outcomeReady:
		logCtx.InfoContext(ctx, "File generated.", "attempts", attempts)
	case outcomeError:
		logCtx.WarnContext(ctx, "File payload is missing tags, marked as error.")
	case outcomeSkipped:
		logCtx.InfoContext(ctx, "SKIPPING: File is no longer pending.")
	}
	return result
}

// attempt is one transactional pass over the file. A returned error means
// nothing was committed.
func (f *GeneratorFunction) attempt(ctx context.Context, tpl models.Template, sections []models.Section, fileID string) (outcome, error) {
	var result outcome
	var fileName, uploaded string

	err := f.store.Transact(ctx, fileID, func(ctx context.Context, current *models.File) (*models.File, error) {
		result, fileName, uploaded = outcomePending, "", ""

		if !current.IsPending() {
			result = outcomeSkipped
			return nil, nil
		}

		payload, err := current.DecodePayload()
		if err != nil {
			result = outcomeError
			return current.MarkError([]string{InvalidPayloadMessage}, f.now())
		}

		if messages := tags.Validate(sections, payload); len(messages) > 0 {
			result = outcomeError
			return current.MarkError(messages, f.now())
		}

		html := tags.Replace(sections, payload)
		name := current.Name
		if name == "" {
			name = tpl.Name
		}

		fileName, err = f.renderer.Render(ctx, name, html)
		if err != nil {
			return nil, err
		}
		uploaded, err = f.renderer.Upload(ctx, fileName)
		if err != nil {
			return nil, err
		}

		result = outcomeReady
		return current.MarkReady(uploaded, f.now()), nil
	})
	if err != nil {
		f.renderer.Discard(fileName)
		if uploaded != "" {
			// the commit failed after the upload; the object would be orphaned
			if _, rmErr := f.renderer.Remove(context.WithoutCancel(ctx), uploaded); rmErr != nil {
				slog.WarnContext(ctx, "Could not remove uncommitted artifact", "path", uploaded, "error", rmErr)
			}
		}
		return outcomePending, err
	}
	return result, nil
}

// HandleDelivered is the messaging handler for template.delivered.
func (f *GeneratorFunction) HandleDelivered(ctx context.Context, d messaging.Delivery) error {
	var delivered models.TemplateDelivered
	if err := d.DecodeData(&delivered); err != nil {
		return retry.Permanent(fmt.Errorf("invalid template.delivered payload: %w", err))
	}
	tpl := delivered.Data.Template
	if tpl.ID == "" {
		return retry.Permanent(&models.ValidationError{Messages: []string{"template.id is required"}})
	}
	if d.Key != "" && d.Key != tpl.ID {
		slog.WarnContext(ctx, "Ordering key does not match template id", "orderingKey", d.Key, "templateId", tpl.ID)
	}

	_, err := f.Process(ctx, tpl, delivered.Data.Sections)
	return err
}

// Dispatcher wraps HandleDelivered with the configured retry, dedupe and
// dead-letter behaviour.
func (f *GeneratorFunction) Dispatcher() *messaging.Dispatcher {
	return f.runtime.dispatcher(f.config.DeliveredSubscription, f.HandleDelivered)
}

// Consumer pulls template.delivered events from the generator subscription.
func (f *GeneratorFunction) Consumer() *messaging.Consumer {
	return messaging.NewConsumer(f.runtime.pubsub, f.config.DeliveredSubscription, f.Dispatcher())
}

// Close releases the storage and messaging clients.
func (f *GeneratorFunction) Close() error {
	return f.runtime.Close()
}
