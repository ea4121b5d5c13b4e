package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"retrievald/internal/client"
	"retrievald/internal/config"
	"retrievald/internal/retrieval"
)

func newScopesCommand(ctx *commandContext) *cobra.Command {
	scopesCmd := &cobra.Command{
		Use:   "scopes",
		Short: "Show or replace the indexed scope roots",
	}
	scopesCmd.AddCommand(newScopesListCommand(ctx))
	scopesCmd.AddCommand(newScopesSetCommand(ctx))
	return scopesCmd
}

func newScopesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured scopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				state, err := cl.State(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(state.Scopes) == 0 {
					fmt.Fprintln(out, "No scopes configured")
					return nil
				}
				rows := make([][]string, 0, len(state.Scopes))
				for _, scope := range state.Scopes {
					rows = append(rows, []string{scope.Root, yesNo(scope.Enabled)})
				}
				fmt.Fprintln(out, renderTable(tableSpec{Headers: []string{"Root", "Enabled"}, Rows: rows}))
				return nil
			})
		},
	}
}

func newScopesSetCommand(ctx *commandContext) *cobra.Command {
	var disabled []string

	cmd := &cobra.Command{
		Use:   "set <root>...",
		Short: "Replace the scope set; roots must be inside the allowlist",
		Long: "Replace the scope set. Items indexed under roots that are no longer\n" +
			"listed leave the index. Pass no roots to clear every scope.",
		RunE: func(cmd *cobra.Command, args []string) error {
			scopes := make([]retrieval.Scope, 0, len(args)+len(disabled))
			for _, arg := range args {
				root, err := config.ExpandPath(arg)
				if err != nil {
					return err
				}
				scopes = append(scopes, retrieval.Scope{Root: root, Enabled: true})
			}
			for _, arg := range disabled {
				root, err := config.ExpandPath(arg)
				if err != nil {
					return err
				}
				scopes = append(scopes, retrieval.Scope{Root: root, Enabled: false})
			}
			return ctx.withClient(func(cl *client.Client) error {
				if err := cl.ConfigureScopes(cmd.Context(), scopes); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Configured %d scope(s)\n", len(scopes))
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&disabled, "disabled", nil, "Root to keep configured but not index (repeatable)")
	return cmd
}
