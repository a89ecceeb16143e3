package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitchili/dynadoc-flow/internal/config"
	"github.com/vitchili/dynadoc-flow/internal/gcp"
	"github.com/vitchili/dynadoc-flow/internal/messaging"
)

func provisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create the Pub/Sub topics and subscriptions the workers use",
		Long: `Create whatever is missing of:
- the template.requested and template.delivered topics
- one ordered subscription per worker, with a 10s redelivery backoff
- the dead-letter topic, when DEAD_LETTER_TOPIC is set, and a dead-letter
  policy on both subscriptions after CONSUMER_MAX_ATTEMPTS deliveries`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Require("PROJECT_ID", "TEMPLATE_REQUESTED_TOPIC", "TEMPLATE_DELIVERED_TOPIC",
				"TEMPLATE_REQUESTED_SUBSCRIPTION", "TEMPLATE_DELIVERED_SUBSCRIPTION"); err != nil {
				return err
			}

			client, err := gcp.NewPubSubClient(ctx, cfg.ProjectID)
			if err != nil {
				return err
			}
			defer client.Close()

			topology := messaging.NewTopology(
				cfg.TemplateRequestedTopic, cfg.TemplateRequestedSubscription,
				cfg.TemplateDeliveredTopic, cfg.TemplateDeliveredSubscription,
				cfg.DeadLetterTopic, cfg.AckDeadline,
			)
			topology.MaxDeliveryAttempts = messaging.ClampDeliveryAttempts(cfg.ConsumerMaxAttempts)
			if err := messaging.Provision(ctx, client, topology); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Provisioned %d topics and %d subscriptions in %s\n",
				len(topology.Topics), len(topology.Subscriptions), cfg.ProjectID)
			return nil
		},
	}
}
