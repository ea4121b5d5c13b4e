package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"retrievald/internal/client"
	"retrievald/internal/retrieval"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control backfill jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobActionCommand(ctx, "pause", "Pause a backfill job", "Paused", (*client.Client).PauseJob))
	jobsCmd.AddCommand(newJobActionCommand(ctx, "resume", "Resume a paused backfill job", "Resumed", (*client.Client).ResumeJob))
	jobsCmd.AddCommand(newJobsTriggerCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backfill jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				jobs, err := cl.BackfillJobs(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					if jobs == nil {
						jobs = []retrieval.BackfillJob{}
					}
					return writeJSON(cmd, jobs)
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No backfill jobs")
					return nil
				}
				fmt.Fprintln(out, renderJobsTable(jobs))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}

func renderJobsTable(jobs []retrieval.BackfillJob) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			jobLabel(job),
			job.Root,
			strconv.FormatInt(job.ItemsIndexed, 10),
			formatTime(job.UpdatedAt),
			truncate(job.Error, 40),
		})
	}
	return renderTable(tableSpec{
		Headers: []string{"ID", "Status", "Root", "Items", "Updated", "Error"},
		Rows:    rows,
		Aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	})
}

func jobLabel(job retrieval.BackfillJob) string {
	label := jobStatusLabel(job.Status)
	if job.Held {
		label += " (held)"
	}
	return label
}

type jobAction func(*client.Client, context.Context, string) error

func newJobActionCommand(ctx *commandContext, use, short, verb string, action jobAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				if err := action(cl, cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s job %s\n", verb, args[0])
				return nil
			})
		},
	}
}

func newJobsTriggerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Queue a backfill job for every enabled scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				if err := cl.TriggerBackfill(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Backfill triggered")
				return nil
			})
		},
	}
}
