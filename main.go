// Package main implements a command-line service that watches forum threads
// and raises desktop notifications when new posts appear.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const appName = "forum-notifier"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd(Version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Watch forum threads and notify about new posts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(appName + " version {{.Version}}\n")

	cmd.PersistentFlags().String("data-dir", os.Getenv("LOCAL_STORAGE"), "directory for seen-state files (default ./data unless --bucket is set)")
	cmd.PersistentFlags().String("bucket", os.Getenv("STORAGE_BUCKET"), "Cloud Storage bucket for seen-state")
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().Bool("log-json", false, "log in JSON format")

	cmd.AddCommand(
		newWatchCmd(),
		newStateCmd(),
	)
	return cmd
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	return buildLogger(cmd.ErrOrStderr(), debug, logJSON)
}

func buildLogger(w io.Writer, debug, logJSON bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	if logJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
