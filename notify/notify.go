// Package notify delivers new-post notifications to the desktop and,
// optionally, to an email address.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"forum-notifier/pkg/notifier"
)

// Dispatcher delivers a single notification.
type Dispatcher interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

// Multi fans a notification out to several dispatchers in order.
type Multi struct {
	dispatchers []Dispatcher
	logger      *slog.Logger
}

// NewMulti creates a fan-out dispatcher.
func NewMulti(logger *slog.Logger, dispatchers ...Dispatcher) *Multi {
	return &Multi{dispatchers: dispatchers, logger: logger}
}

// Notify sends n to every dispatcher. It fails only when none of them
// delivered the notification.
func (m *Multi) Notify(ctx context.Context, n notifier.Notification) error {
	if len(m.dispatchers) == 0 {
		return errors.New("no dispatchers configured")
	}

	var errs []error
	for i, d := range m.dispatchers {
		if err := d.Notify(ctx, n); err != nil {
			m.logger.Warn("Notification dispatcher failed", "dispatcher", fmt.Sprintf("%T", d), "index", i, "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m.dispatchers) {
		return fmt.Errorf("all dispatchers failed: %w", errors.Join(errs...))
	}
	return nil
}
