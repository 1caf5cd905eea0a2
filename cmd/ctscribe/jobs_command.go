package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ctscribe/internal/jobstatus"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Read the job run ledger",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsStatsCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var status, video string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent job runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := jobstatus.Filter{
				Status:     jobstatus.Status(strings.ToLower(strings.TrimSpace(status))),
				ResourceID: strings.TrimSpace(video),
				Limit:      limit,
			}
			if filter.Status != "" && !validStatus(filter.Status) {
				return fmt.Errorf("unknown status %q", status)
			}
			return ctx.withLedger(cmd.Context(), func(ledger *jobstatus.Ledger) error {
				runs, err := ledger.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, runs)
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No job runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						run.StartedAt.Local().Format("2006-01-02 15:04:05"),
						run.Queue,
						run.ResourceID,
						string(run.Status),
						strconv.Itoa(run.CueCount),
						formatDuration(run.Duration()),
						truncate(run.ErrorMessage, 60),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Started", "Queue", "Video", "Status", "Cues", "Took", "Error"}, rows, 4, 5))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (running, completed, skipped, rejected, failed)")
	cmd.Flags().StringVar(&video, "video", "", "Filter by video id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <video-id>",
		Short: "Show the newest run for a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(cmd.Context(), func(ledger *jobstatus.Ledger) error {
				run, ok, err := ledger.Latest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no runs recorded for %s", args[0])
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Video:        %s\n", run.ResourceID)
				fmt.Fprintf(out, "Queue:        %s\n", run.Queue)
				fmt.Fprintf(out, "Status:       %s\n", run.Status)
				fmt.Fprintf(out, "Forced:       %s\n", yesNo(run.Force))
				if run.Region != "" {
					fmt.Fprintf(out, "Region:       %s\n", run.Region)
				}
				fmt.Fprintf(out, "Cues:         %d\n", run.CueCount)
				if run.SkippedWords > 0 {
					fmt.Fprintf(out, "Skipped words: %d\n", run.SkippedWords)
				}
				fmt.Fprintf(out, "Started:      %s\n", run.StartedAt.Local().Format(time.RFC3339))
				if !run.FinishedAt.IsZero() {
					fmt.Fprintf(out, "Took:         %s\n", formatDuration(run.Duration()))
				}
				for _, output := range run.Outputs {
					fmt.Fprintf(out, "Output:       %s\n", output)
				}
				if run.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:        %s\n", run.ErrorMessage)
				}
				return nil
			})
		},
	}
}

func newJobsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count job runs by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(cmd.Context(), func(ledger *jobstatus.Ledger) error {
				counts, err := ledger.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(jobstatus.AllStatuses))
				for _, status := range jobstatus.AllStatuses {
					rows = append(rows, []string{string(status), strconv.Itoa(counts[status])})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Status", "Runs"}, rows, 1))
				return nil
			})
		},
	}
}

func validStatus(status jobstatus.Status) bool {
	for _, s := range jobstatus.AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(100 * time.Millisecond).String()
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len([]rune(value)) <= limit {
		return value
	}
	return string([]rune(value)[:limit-1]) + "…"
}
