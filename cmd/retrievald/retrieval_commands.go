package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"retrievald/internal/client"
	"retrievald/internal/retrieval"
)

func newSuggestCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "suggest <query>",
		Short: "Suggest indexed items matching a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := retrieval.SuggestRequest{Query: strings.Join(args, " "), Limit: limit}
			return ctx.withClient(func(cl *client.Client) error {
				suggestions, err := cl.Suggest(cmd.Context(), req)
				if err != nil {
					return err
				}
				if jsonOutput {
					if suggestions == nil {
						suggestions = []retrieval.Suggestion{}
					}
					return writeJSON(cmd, suggestions)
				}
				out := cmd.OutOrStdout()
				if len(suggestions) == 0 {
					fmt.Fprintln(out, "No matches")
					return nil
				}
				rows := make([][]string, 0, len(suggestions))
				for _, s := range suggestions {
					rows = append(rows, []string{
						s.ItemID,
						s.Name,
						s.MimeType,
						strconv.FormatFloat(s.Score, 'f', 2, 64),
						s.Path,
					})
				}
				fmt.Fprintln(out, renderTable(tableSpec{
					Headers: []string{"Item", "Name", "Type", "Score", "Path"},
					Rows:    rows,
					Aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				}))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum suggestions (default 10)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "preview <item-id>",
		Short: "Show an indexed item and the head of its text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				preview, err := cl.Preview(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, preview)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderValueLine("Name", preview.Name))
				fmt.Fprintln(out, renderValueLine("Path", preview.Path))
				fmt.Fprintln(out, renderValueLine("Type", preview.MimeType))
				fmt.Fprintln(out, renderValueLine("Size", formatBytes(preview.Size)))
				fmt.Fprintln(out, renderValueLine("Modified", formatTime(preview.ModifiedAt)))
				if preview.Text != "" {
					fmt.Fprintln(out)
					fmt.Fprintln(out, preview.Text)
					if preview.Truncated {
						fmt.Fprintln(out, "... (truncated)")
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}

func newContextPackCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var itemIDs []string

	cmd := &cobra.Command{
		Use:   "context-pack [query]",
		Short: "Bundle item excerpts for a query or explicit item ids (JSON)",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := retrieval.ContextPackRequest{
				Query:   strings.Join(args, " "),
				Limit:   limit,
				ItemIDs: itemIDs,
			}
			return ctx.withClient(func(cl *client.Client) error {
				pack, err := cl.ContextPack(cmd.Context(), req)
				if err != nil {
					return err
				}
				return writeJSON(cmd, pack)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum items when packing by query")
	cmd.Flags().StringArrayVar(&itemIDs, "item", nil, "Item id to include (repeatable)")
	return cmd
}

func newActivityCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent engine activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				entries, err := cl.Activity(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					if entries == nil {
						entries = []retrieval.ActivityEntry{}
					}
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No activity recorded")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					rows = append(rows, []string{
						formatTime(entry.CreatedAt),
						kindLabel(entry.Kind),
						entry.JobID,
						entry.Message,
					})
				}
				fmt.Fprintln(out, renderTable(tableSpec{
					Headers: []string{"Time", "Kind", "Job", "Message"},
					Rows:    rows,
				}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}
