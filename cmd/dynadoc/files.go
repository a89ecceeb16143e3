package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitchili/dynadoc-flow/internal/services"
)

func filesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Inspect, download and delete generated files",
	}
	cmd.AddCommand(filesGetCmd())
	cmd.AddCommand(filesDownloadCmd())
	cmd.AddCommand(filesDeleteCmd())
	return cmd
}

func filesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Print a file record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			files, err := services.NewFiles(ctx)
			if err != nil {
				return err
			}
			defer closeQuietly("files", files.Close)

			file, err := files.Get(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(file)
		},
	}
}

func filesDownloadCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download [id]",
		Short: "Download a generated PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			files, err := services.NewFiles(ctx)
			if err != nil {
				return err
			}
			defer closeQuietly("files", files.Close)

			name, content, err := files.Download(ctx, args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = name + ".pdf"
			}
			if err := os.WriteFile(out, content, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", out, len(content))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (default: <name>.pdf)")
	return cmd
}

func filesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a file and its stored PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			files, err := services.NewFiles(ctx)
			if err != nil {
				return err
			}
			defer closeQuietly("files", files.Close)

			if err := files.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
