package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "List the last seen post of every thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd)
			store, closeStore, err := openStore(cmd.Context(), cmd, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list seen-state: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No threads observed yet.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s\t%d\n", e.ThreadID, e.PostID)
			}
			return nil
		},
	}
}
