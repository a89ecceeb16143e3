package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/vitchili/dynadoc-flow/internal/messaging"
	"github.com/vitchili/dynadoc-flow/internal/services"
	"github.com/vitchili/dynadoc-flow/internal/telemetry"
)

var (
	delivererInstance *services.DelivererFunction
	dispatcher        *messaging.Dispatcher
	once              sync.Once
	initErr           error
)

func init() {
	telemetry.InitLogger(os.Getenv("LOG_LEVEL"))

	// Eventarc delivers template.requested messages here.
	functions.CloudEvent("DeliverTemplate", deliverTemplate)
}

// main is required by the Go Functions Framework.
func main() {}

func deliverTemplate(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		if _, err := telemetry.SetupTracer(context.Background(), "template-deliverer", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); err != nil {
			slog.Warn("Tracing disabled", "error", err)
		}
		delivererInstance, initErr = services.NewDeliverer(context.Background())
		if initErr == nil {
			dispatcher = delivererInstance.Dispatcher()
		}
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	msg, err := messaging.DecodePush(e)
	if err != nil {
		// redelivering an unreadable envelope cannot help
		slog.Error("Failed to decode push event", "alert", true, "error", err, "eventId", e.ID())
		return nil
	}

	if dispatcher.Dispatch(ctx, msg) == messaging.Nack {
		return fmt.Errorf("message %s not processed", msg.ID)
	}
	return nil
}
