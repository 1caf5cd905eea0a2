package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ctscribe/internal/broker"
)

func newQueuesCommand(ctx *commandContext) *cobra.Command {
	queuesCmd := &cobra.Command{
		Use:   "queues",
		Short: "Inspect and purge broker queues",
	}
	queuesCmd.AddCommand(newQueuesStatsCommand(ctx))
	queuesCmd.AddCommand(newQueuesResetCommand(ctx))
	return queuesCmd
}

func newQueuesStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show message counts for every pipeline queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBroker(cmd.Context(), func(b *broker.Broker) error {
				stats, err := b.Inspect(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, stats)
				}
				rows := make([][]string, 0, len(stats))
				for _, s := range stats {
					rows = append(rows, []string{
						s.Queue,
						strconv.Itoa(s.Ready),
						strconv.Itoa(s.Unacked),
						strconv.Itoa(s.Consumers),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Queue", "Ready", "Unacked", "Consumers"}, rows, 1, 2, 3))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueuesResetCommand(ctx *commandContext) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every pipeline queue and its dead-letter queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete queued jobs without --yes")
			}
			return ctx.withBroker(cmd.Context(), func(b *broker.Broker) error {
				if err := b.DeleteAllQueues(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d queues\n", 2*len(broker.JobTypes))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deleting queued jobs")
	return cmd
}
