package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"retrievald/internal/client"
	"retrievald/internal/retrieval"
)

type statusReport struct {
	Reachable  bool                  `json:"reachable"`
	Error      string                `json:"error,omitempty"`
	Running    bool                  `json:"running"`
	Paused     bool                  `json:"paused"`
	State      *retrieval.State      `json:"state,omitempty"`
	Progress   *retrieval.Progress   `json:"progress,omitempty"`
	IndexStats *retrieval.IndexStats `json:"indexStats,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and index status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.newClient()
			if err != nil {
				return err
			}
			report := collectStatus(cmd, cl)
			if jsonOutput {
				return writeJSON(cmd, report)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStatus(report, shouldColorize(cmd.OutOrStdout())))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}

func collectStatus(cmd *cobra.Command, cl *client.Client) statusReport {
	reqCtx := cmd.Context()
	health, err := cl.Health(reqCtx)
	if err != nil {
		return statusReport{Error: wrapDialError(err).Error()}
	}
	report := statusReport{Reachable: true, Running: health.Running, Paused: health.Paused}
	if report.State, err = cl.State(reqCtx); err != nil {
		report.Error = err.Error()
		return report
	}
	if report.Progress, err = cl.Progress(reqCtx); err != nil {
		report.Error = err.Error()
		return report
	}
	if report.IndexStats, err = cl.IndexStats(reqCtx); err != nil {
		report.Error = err.Error()
	}
	return report
}

func renderStatus(report statusReport, colorize bool) string {
	var lines []string
	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	switch {
	case !report.Reachable:
		lines = append(lines, renderStatusLine("Daemon", statusError, report.Error, colorize))
		return strings.Join(lines, "\n") + "\n"
	case !report.Running:
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "not started", colorize))
	default:
		lines = append(lines, renderStatusLine("Daemon", statusOK, "running", colorize))
	}
	if report.Paused {
		lines = append(lines, renderStatusLine("Indexing", statusWarn, "paused", colorize))
	} else {
		lines = append(lines, renderStatusLine("Indexing", statusOK, "active", colorize))
	}
	if report.Error != "" {
		lines = append(lines, renderStatusLine("API", statusError, report.Error, colorize))
	}

	if state := report.State; state != nil {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Scopes", colorize)...)
		if len(state.Scopes) == 0 {
			lines = append(lines, renderStatusLine("Scopes", statusWarn, "none configured", colorize))
		}
		for _, scope := range state.Scopes {
			kind, label := statusOK, "enabled"
			if !scope.Enabled {
				kind, label = statusInfo, "disabled"
			}
			lines = append(lines, renderStatusLine(scope.Root, kind, label, colorize))
		}
	}

	if progress := report.Progress; progress != nil {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Backfill", colorize)...)
		lines = append(lines,
			renderValueLine("Jobs", fmt.Sprintf("%d total, %d queued, %d running, %d paused, %d completed, %d failed",
				progress.TotalJobs, progress.QueuedJobs, progress.RunningJobs, progress.PausedJobs,
				progress.CompletedJobs, progress.FailedJobs)),
			renderValueLine("Progress", fmt.Sprintf("%.0f%%", progress.Percent)),
			renderValueLine("Held", fmt.Sprintf("%d", progress.HeldJobs)),
			renderValueLine("Items indexed", fmt.Sprintf("%d", progress.ItemsIndexed)),
		)
		if progress.FailedJobs > 0 {
			lines = append(lines, renderStatusLine("Failures", statusError, "run `retrievald jobs list` for details", colorize))
		}
	}

	if stats := report.IndexStats; stats != nil {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Index", colorize)...)
		lines = append(lines,
			renderValueLine("Items", fmt.Sprintf("%d", stats.Items)),
			renderValueLine("Size", formatBytes(stats.TotalBytes)),
			renderValueLine("Last indexed", formatTimePtr(stats.LastIndexedAt)),
		)
		types := make([]string, 0, len(stats.ByMimeType))
		for mimeType := range stats.ByMimeType {
			types = append(types, mimeType)
		}
		sort.Strings(types)
		for _, mimeType := range types {
			lines = append(lines, renderValueLine(mimeType, fmt.Sprintf("%d", stats.ByMimeType[mimeType])))
		}
	}
	return strings.Join(lines, "\n") + "\n"
}
