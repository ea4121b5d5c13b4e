package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"retrievald/internal/client"
	"retrievald/internal/config"
	"retrievald/internal/filestore"
)

func newFilesCommand(ctx *commandContext) *cobra.Command {
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "Manage task uploads and outputs",
	}
	filesCmd.AddCommand(newFilesUploadCommand(ctx))
	filesCmd.AddCommand(newFilesListCommand(ctx))
	filesCmd.AddCommand(newFilesGetCommand(ctx))
	filesCmd.AddCommand(newFilesCollectCommand(ctx))
	filesCmd.AddCommand(newFilesDeleteCommand(ctx))
	return filesCmd
}

func newFilesUploadCommand(ctx *commandContext) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "upload <task-id> <file>...",
		Short: "Upload local files into a task's inputs",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, paths := args[0], args[1:]
			if name != "" && len(paths) > 1 {
				return fmt.Errorf("--name applies to a single file")
			}
			return ctx.withClient(func(cl *client.Client) error {
				out := cmd.OutOrStdout()
				for _, path := range paths {
					target := name
					if target == "" {
						target = filepath.Base(path)
					}
					stored, err := uploadFile(cmd, cl, taskID, target, path)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Uploaded %s -> %s\n", path, stored)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Stored file name (defaults to the local base name)")
	return cmd
}

func uploadFile(cmd *cobra.Command, cl *client.Client, taskID, name, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	return cl.Upload(cmd.Context(), taskID, name, file)
}

func newFilesListCommand(ctx *commandContext) *cobra.Command {
	var outputs bool
	var pathsOnly bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List a task's uploads (or outputs with --outputs)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			if pathsOnly && outputs {
				return fmt.Errorf("--paths lists uploads only")
			}
			return ctx.withClient(func(cl *client.Client) error {
				out := cmd.OutOrStdout()
				if pathsOnly {
					paths, err := cl.UploadPaths(cmd.Context(), taskID)
					if err != nil {
						return err
					}
					if jsonOutput {
						return writeJSON(cmd, paths)
					}
					for _, path := range paths {
						fmt.Fprintln(out, path)
					}
					return nil
				}

				list := cl.ListUploads
				if outputs {
					list = cl.ListOutputs
				}
				files, err := list(cmd.Context(), taskID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, files)
				}
				if len(files) == 0 {
					fmt.Fprintf(out, "No files for task %s\n", taskID)
					return nil
				}
				fmt.Fprintln(out, renderFilesTable(files))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&outputs, "outputs", false, "List outputs instead of uploads")
	cmd.Flags().BoolVar(&pathsOnly, "paths", false, "Print absolute upload paths only")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}

func renderFilesTable(files []filestore.StoredFile) string {
	rows := make([][]string, 0, len(files))
	for _, file := range files {
		when := file.UploadedAt
		if when == nil {
			when = file.CreatedAt
		}
		rows = append(rows, []string{
			file.Name,
			file.MimeType,
			strconv.FormatInt(file.Size, 10),
			formatTimePtr(when),
		})
	}
	return renderTable(tableSpec{
		Headers: []string{"Name", "Type", "Bytes", "Stored"},
		Rows:    rows,
		Aligns:  []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	})
}

func newFilesGetCommand(ctx *commandContext) *cobra.Command {
	var direction string
	var dest string

	cmd := &cobra.Command{
		Use:   "get <task-id> <name>",
		Short: "Download a stored file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filestore.ParseDirection(direction)
			if err != nil {
				return err
			}
			return ctx.withClient(func(cl *client.Client) error {
				data, err := cl.FileData(cmd.Context(), args[0], dir, args[1])
				if err != nil {
					return err
				}
				if dest == "" || dest == "-" {
					_, err := cmd.OutOrStdout().Write(data.Data)
					return err
				}
				if err := os.WriteFile(dest, data.Data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", dest, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes (%s) to %s\n", len(data.Data), data.MimeType, dest)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&direction, "direction", "d", string(filestore.DirectionOutput), "input or output")
	cmd.Flags().StringVarP(&dest, "output", "o", "", "Destination file (stdout when empty)")
	return cmd
}

func newFilesCollectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "collect <task-id> <outbox-dir>",
		Short: "Copy an outbox directory's files into a task's outputs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outbox, err := config.ExpandPath(args[1])
			if err != nil {
				return err
			}
			return ctx.withClient(func(cl *client.Client) error {
				resp, err := cl.CollectOutputs(cmd.Context(), args[0], outbox)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Collected %d file(s); task %s has %d output(s)\n", resp.Copied, args[0], len(resp.Files))
				return nil
			})
		},
	}
}

func newFilesDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task's uploads and outputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				if err := cl.DeleteTask(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
				return nil
			})
		},
	}
}
