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
	generatorInstance *services.GeneratorFunction
	dispatcher        *messaging.Dispatcher
	once              sync.Once
	initErr           error
)

func init() {
	telemetry.InitLogger(os.Getenv("LOG_LEVEL"))

	// Eventarc delivers template.delivered messages here.
	functions.CloudEvent("GenerateFiles", generateFiles)
}

// main is required by the Go Functions Framework.
func main() {}

func generateFiles(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		if _, err := telemetry.SetupTracer(context.Background(), "file-generator", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); err != nil {
			slog.Warn("Tracing disabled", "error", err)
		}
		generatorInstance, initErr = services.NewGenerator(context.Background())
		if initErr == nil {
			dispatcher = generatorInstance.Dispatcher()
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
