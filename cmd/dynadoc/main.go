package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitchili/dynadoc-flow/internal/telemetry"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	telemetry.InitLogger(os.Getenv("LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, "dynadoc", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		slog.Warn("Tracing disabled", "error", err)
	} else {
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn("Tracer shutdown failed", "error", err)
			}
		}()
	}

	rootCmd := &cobra.Command{
		Use:           "dynadoc",
		Short:         "dynadoc - asynchronous document generation from templates",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(provisionCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(filesCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
