package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vitchili/dynadoc-flow/internal/services"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a pull consumer until interrupted",
	}
	cmd.AddCommand(delivererWorkerCmd())
	cmd.AddCommand(generatorWorkerCmd())
	return cmd
}

func delivererWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deliverer",
		Short: "Answer template.requested events with the template content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deliverer, err := services.NewDeliverer(ctx)
			if err != nil {
				return err
			}
			defer closeQuietly("deliverer", deliverer.Close)
			return deliverer.Consumer().Run(ctx)
		},
	}
}

func generatorWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generator",
		Short: "Render the pending files of every delivered template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			generator, err := services.NewGenerator(ctx)
			if err != nil {
				return err
			}
			defer closeQuietly("generator", generator.Close)
			return generator.Consumer().Run(ctx)
		},
	}
}

func closeQuietly(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		slog.Warn("Failed to close "+name, "error", err)
	}
}
