package main

import (
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:8080"

// watch always talks to a running server since the watcher lives there.
func watchClient(cmd *cobra.Command) *apiClient {
	if c := remote(cmd); c != nil {
		return c
	}
	return newAPIClient(defaultServerURL)
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage directories watched by a running server",
	}

	add := &cobra.Command{
		Use:   "add <path>",
		Short: "Add directory to watch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			noSync, _ := cmd.Flags().GetBool("no-sync")
			body := map[string]any{"path": path, "sync": !noSync}
			if err := watchClient(cmd).post(commandContext(cmd), "/api/v1/watch/directories", body, nil); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Added: %s\n", path)
			return err
		},
	}
	add.Flags().Bool("no-sync", false, "do not index files already in the directory")

	remove := &cobra.Command{
		Use:   "remove <path>",
		Short: "Remove directory from watch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if err := watchClient(cmd).delete(commandContext(cmd), "/api/v1/watch/directories?path="+url.QueryEscape(path), nil); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", path)
			return err
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List watched directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out struct {
				Directories []string `json:"directories"`
			}
			if err := watchClient(cmd).get(commandContext(cmd), "/api/v1/watch/directories", &out); err != nil {
				return err
			}
			for _, d := range out.Directories {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), d); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}
