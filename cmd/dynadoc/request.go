package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitchili/dynadoc-flow/internal/models"
	"github.com/vitchili/dynadoc-flow/internal/services"
)

func requestCmd() *cobra.Command {
	var req models.GenerationRequest
	var payloadFile string

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Request a document from a template",
		Example: `  dynadoc request --template 6f1c... --name "Contrato Ana" --user u-1 --tag NAME=Ana
  dynadoc request --template 6f1c... --name "Contrato" --user u-1 --payload payload.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := cmd.Flags().GetStringToString("tag")
			if err != nil {
				return err
			}
			req.Payload = map[string]string{}
			if payloadFile != "" {
				raw, err := os.ReadFile(payloadFile)
				if err != nil {
					return fmt.Errorf("failed to read payload file: %w", err)
				}
				if err := json.Unmarshal(raw, &req.Payload); err != nil {
					return fmt.Errorf("payload file must be a JSON object of strings: %w", err)
				}
			}
			for k, v := range tags {
				req.Payload[k] = v
			}

			ctx := cmd.Context()
			requester, err := services.NewRequester(ctx)
			if err != nil {
				return err
			}
			defer closeQuietly("requester", requester.Close)

			id, err := requester.Submit(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.TemplateID, "template", "", "Template ID (UUID)")
	cmd.Flags().StringVar(&req.Name, "name", "", "Document name")
	cmd.Flags().StringVar(&req.UserID, "user", "", "Owner user ID")
	cmd.Flags().StringToStringP("tag", "t", nil, "Tag value, as NAME=value (repeatable)")
	cmd.Flags().StringVar(&payloadFile, "payload", "", "JSON file with the tag values")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
