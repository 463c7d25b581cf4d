package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/compute/metadata"
	"github.com/spf13/cobra"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"forum-notifier/browser"
	"forum-notifier/config"
	"forum-notifier/notify"
	"forum-notifier/poll"
	"forum-notifier/scraper"
)

const defaultInterval = 300

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the configured threads until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}

	cmd.Flags().String("config", "forums.yaml", "forum configuration file")
	cmd.Flags().Int("interval", defaultInterval, "seconds to wait between polling cycles")
	cmd.Flags().String("email-to", "", "also send notifications to this email address")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	logger := newLogger(cmd)
	slog.SetDefault(logger)

	configPath, _ := cmd.Flags().GetString("config")
	interval, _ := cmd.Flags().GetInt("interval")
	emailTo, _ := cmd.Flags().GetString("email-to")

	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %d", interval)
	}

	cfg, err := config.Load(configPath, logger)
	if err != nil {
		return err
	}
	targets := cfg.Targets()
	if len(targets) == 0 {
		logger.Warn("No threads configured", "config", configPath)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cmd, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	page, err := browser.New(browser.Options{}, logger)
	if err != nil {
		return fmt.Errorf("initialize browser: %w", err)
	}

	dispatcher, err := newDispatcher(ctx, emailTo, logger)
	if err != nil {
		return err
	}

	monitor := poll.New(targets, page, scraper.New(page, logger), store, dispatcher, logger)
	return monitor.Run(ctx, time.Duration(interval)*time.Second)
}

func newDispatcher(ctx context.Context, emailTo string, logger *slog.Logger) (poll.Dispatcher, error) {
	desktop := notify.NewDesktop(logger)
	if emailTo == "" {
		return desktop, nil
	}

	var provider notify.Provider = notify.NewLogProvider(logger)
	service, err := newGmailService(ctx)
	if err != nil {
		logger.Warn("Gmail unavailable, emails will only be logged", "error", err)
	} else {
		provider = notify.NewGmailProvider(service, logger)
	}

	mailer, err := notify.NewMailer(provider, emailTo, logger)
	if err != nil {
		return nil, fmt.Errorf("configure email: %w", err)
	}
	return notify.NewMulti(logger, desktop, mailer), nil
}

// newGmailService authenticates with GOOGLE_CREDENTIALS_JSON, or with the
// instance service account when running on Google Cloud.
func newGmailService(ctx context.Context) (*gmail.Service, error) {
	if creds := os.Getenv("GOOGLE_CREDENTIALS_JSON"); creds != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(creds)), option.WithScopes(gmail.GmailSendScope))
	}
	if metadata.OnGCE() {
		return gmail.NewService(ctx, option.WithScopes(gmail.GmailSendScope))
	}
	return nil, errors.New("GOOGLE_CREDENTIALS_JSON is not set and not running on Google Cloud")
}
