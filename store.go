package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	gcs "cloud.google.com/go/storage"
	"github.com/spf13/cobra"

	"forum-notifier/storage"
)

const defaultDataDir = "./data"

// openStore picks local or Cloud Storage seen-state. The returned close
// function releases the storage client, if any.
func openStore(ctx context.Context, cmd *cobra.Command, logger *slog.Logger) (*storage.Store, func(), error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	bucket, _ := cmd.Flags().GetString("bucket")

	// Default to local mode if no bucket specified
	if bucket == "" && dataDir == "" {
		dataDir = defaultDataDir
		logger.Debug("No bucket set, using local storage", "storage_path", dataDir)
	}

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create local storage directory: %w", err)
		}
		logger.Info("Using local storage", "storage_path", dataDir)
		return storage.New(nil, "", dataDir, logger), func() {}, nil
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize storage client: %w", err)
	}
	logger.Info("Using Cloud Storage", "bucket", bucket)
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	return storage.New(client, bucket, "", logger), closeFn, nil
}
