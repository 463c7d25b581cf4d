package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"github.com/gen2brain/beeep"

	"forum-notifier/pkg/notifier"
)

const (
	maxDesktopBody = 200
	notifierBinary = "terminal-notifier"
)

// Desktop shows notifications through the operating system's notification
// center.
type Desktop struct {
	logger   *slog.Logger
	goos     string
	lookPath func(file string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
	beep     func(title, message string) error
}

// NewDesktop creates a desktop dispatcher for the current platform.
func NewDesktop(logger *slog.Logger) *Desktop {
	return &Desktop{
		logger:   logger,
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
		beep: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

// Notify shows n. On macOS terminal-notifier is preferred when installed
// because it can open the post when the notification is clicked.
func (d *Desktop) Notify(ctx context.Context, n notifier.Notification) error {
	title := collapse(n.Title)
	body := escapeQuotes(truncate(n.Body, maxDesktopBody))

	if d.goos == "darwin" {
		if path, err := d.lookPath(notifierBinary); err == nil {
			args := []string{
				"-title", title,
				"-message", body,
				"-group", "forum-notifier",
			}
			if n.Link != "" {
				args = append(args, "-open", n.Link)
			}
			d.logger.Debug("Sending notification via terminal-notifier", "title", title, "link", n.Link)
			if err := d.run(ctx, path, args...); err != nil {
				return fmt.Errorf("run %s: %w", notifierBinary, err)
			}
			return nil
		}
	}

	message := body
	if n.Link != "" {
		message += "\n" + n.Link
	}
	d.logger.Debug("Sending desktop notification", "title", title, "link", n.Link)
	if err := d.beep(title, message); err != nil {
		return fmt.Errorf("desktop notify: %w", err)
	}
	return nil
}

// escapeQuotes prefixes literal double quotes with a backslash so the text
// survives notification backends that build quoted scripts.
func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate collapses whitespace and cuts s to at most maxLen runes.
func truncate(s string, maxLen int) string {
	s = collapse(s)
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}
