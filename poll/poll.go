// Package poll handles thread monitoring and checking for new posts.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"forum-notifier/browser"
	"forum-notifier/pkg/notifier"
	"forum-notifier/scraper"
)

// Browser navigates the shared page.
type Browser interface {
	Navigate(ctx context.Context, pageURL string) (status int, err error)
}

// Extractor reads the newest post from the page the Browser is on.
type Extractor interface {
	LatestPost(ctx context.Context) (*notifier.Post, error)
}

// Store interface for seen-state persistence.
type Store interface {
	Load(ctx context.Context, threadID string) (postID int64, ok bool, err error)
	Save(ctx context.Context, threadID string, postID int64) error
}

// Dispatcher interface for sending notifications.
type Dispatcher interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// Stats summarizes one polling cycle.
type Stats struct {
	Checked  int // Threads that reached the comparison step
	Skipped  int // Threads skipped because they failed earlier in this run
	Failed   int // Threads marked as failed during this cycle
	Errors   int // Transient errors, retried next cycle
	Notified int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithFailureTracker injects the failure tracker, e.g. to inspect it in tests.
func WithFailureTracker(f *FailureTracker) Option {
	return func(m *Monitor) { m.failures = f }
}

// WithSleeper replaces the wall-clock sleep between cycles.
func WithSleeper(s Sleeper) Option {
	return func(m *Monitor) { m.sleep = s }
}

// Monitor handles thread polling logic.
type Monitor struct {
	targets    []notifier.Target
	browser    Browser
	extractor  Extractor
	store      Store
	dispatcher Dispatcher
	failures   *FailureTracker
	sleep      Sleeper
	logger     *slog.Logger
}

// New creates a new poll monitor. Targets are visited in the given order.
func New(targets []notifier.Target, b Browser, extractor Extractor, store Store, dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		targets:    targets,
		browser:    b,
		extractor:  extractor,
		store:      store,
		dispatcher: dispatcher,
		failures:   NewFailureTracker(),
		sleep:      sleepContext,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Failures returns the tracker of permanently failed threads.
func (m *Monitor) Failures() *FailureTracker {
	return m.failures
}

// Run checks all threads, sleeps for interval and repeats until ctx is
// cancelled. Cancellation is a clean stop and returns nil.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	m.logger.Info("Monitor started", "threads", len(m.targets), "interval", interval.String())

	for cycle := 1; ctx.Err() == nil; cycle++ {
		stats, err := m.CheckAll(ctx)
		if err != nil {
			m.logger.Info("Cycle abandoned", "cycle", cycle, "error", err)
			break
		}
		m.logger.Info("Cycle completed",
			"cycle", cycle,
			"checked", stats.Checked,
			"skipped", stats.Skipped,
			"failed", stats.Failed,
			"errors", stats.Errors,
			"notified", stats.Notified,
			"failed_total", m.failures.Len())

		m.logger.Debug("Sleeping until next cycle", "interval", interval.String())
		if err := m.sleep(ctx, interval); err != nil {
			break
		}
	}

	m.logger.Info("Monitor stopped", "failed_threads", m.failures.Len())
	return nil
}

// CheckAll runs one cycle over all targets. It stops early, returning
// ctx.Err(), when ctx is cancelled between two threads.
func (m *Monitor) CheckAll(ctx context.Context) (Stats, error) {
	var stats Stats

	for _, target := range m.targets {
		select {
		case <-ctx.Done():
			m.logger.Info("Context cancelled, stopping poll check", "error", ctx.Err())
			return stats, ctx.Err()
		default:
		}

		pageURL := target.PageURL()
		if m.failures.IsMarked(pageURL) {
			m.logger.Debug("Skipping failed thread", "thread_id", target.ThreadID, "url", pageURL)
			stats.Skipped++
			continue
		}

		if err := m.checkThread(ctx, target, pageURL, &stats); err != nil {
			stats.Errors++
			m.logger.Warn("Thread check failed",
				"forum", target.Forum,
				"thread_id", target.ThreadID,
				"url", pageURL,
				"error", err)
		}
	}

	return stats, nil
}

func (m *Monitor) checkThread(ctx context.Context, target notifier.Target, pageURL string, stats *Stats) error {
	// Navigation and extraction are not interrupted once started.
	work := context.WithoutCancel(ctx)

	m.logger.Debug("Starting thread check",
		"forum", target.Forum,
		"subforum", target.Subforum,
		"thread_id", target.ThreadID,
		"url", pageURL)

	status, err := m.browser.Navigate(work, pageURL)
	if err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if status >= http.StatusMultipleChoices {
		m.markFailed(target, pageURL, fmt.Sprintf("HTTP %d", status), stats)
		return nil
	}

	post, err := m.extractor.LatestPost(work)
	if err != nil {
		if errors.Is(err, scraper.ErrPaginationMissing) || errors.Is(err, scraper.ErrPostIDMissing) || browser.IsHTTPStatusError(err) {
			m.markFailed(target, pageURL, err.Error(), stats)
			return nil
		}
		return fmt.Errorf("extract latest post: %w", err)
	}

	current, err := strconv.ParseInt(post.ID, 10, 64)
	if err != nil {
		m.markFailed(target, pageURL, fmt.Sprintf("%v: %q", scraper.ErrPostIDMissing, post.ID), stats)
		return nil
	}

	prior, hasPrior, err := m.store.Load(work, target.ThreadID)
	if err != nil {
		return fmt.Errorf("load seen-state: %w", err)
	}

	outcome := Classify(prior, hasPrior, current)
	stats.Checked++

	m.logger.Info("Thread checked",
		"thread_id", target.ThreadID,
		"title", post.Title,
		"outcome", outcome.String(),
		"post_id", current,
		"previous", prior)

	if outcome == NewPost {
		n := notifier.Notification{
			Title: "New post in " + post.Title,
			Body:  post.Body,
			Link:  post.URL,
		}
		if err := m.dispatcher.Notify(work, n); err != nil {
			return fmt.Errorf("send notification: %w", err)
		}
		stats.Notified++
	}

	if err := m.store.Save(work, target.ThreadID, current); err != nil {
		return fmt.Errorf("save seen-state: %w", err)
	}
	return nil
}

func (m *Monitor) markFailed(target notifier.Target, pageURL, reason string, stats *Stats) {
	m.failures.Mark(pageURL, reason)
	stats.Failed++
	m.logger.Error("Thread unreachable, skipping until restart",
		"forum", target.Forum,
		"thread_id", target.ThreadID,
		"url", pageURL,
		"reason", reason)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
