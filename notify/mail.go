package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"

	"forum-notifier/pkg/notifier"
)

const defaultSubject = "Forum thread update"

// Message is a notification rendered as an email with a plain text and an
// HTML alternative.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Provider delivers rendered messages.
type Provider interface {
	Send(ctx context.Context, msg *Message) error
}

// Mailer mirrors notifications to an email address.
type Mailer struct {
	provider Provider
	to       string
	logger   *slog.Logger
}

// NewMailer creates a dispatcher that emails every notification to to.
// The address is validated once here.
func NewMailer(provider Provider, to string, logger *slog.Logger) (*Mailer, error) {
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return nil, fmt.Errorf("parse email address %q: %w", to, err)
	}
	return &Mailer{
		provider: provider,
		to:       addr.Address,
		logger:   logger,
	}, nil
}

// Notify emails n using the notification title as subject.
func (m *Mailer) Notify(ctx context.Context, n notifier.Notification) error {
	msg := newMessage(m.to, n)
	m.logger.Info("Sending notification email", "to", msg.To, "subject", msg.Subject, "link", n.Link)

	if err := m.provider.Send(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func newMessage(to string, n notifier.Notification) *Message {
	subject := collapse(n.Title)
	if subject == "" {
		subject = defaultSubject
	}

	var text strings.Builder
	text.WriteString(subject + "\n\n")
	text.WriteString(strings.TrimSpace(n.Body) + "\n")
	if n.Link != "" {
		text.WriteString("\n" + n.Link + "\n")
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n</head>\n")
	b.WriteString("<body style=\"font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333;\">\n")
	fmt.Fprintf(&b, "<h2>%s</h2>\n", html.EscapeString(subject))
	fmt.Fprintf(&b, "<div style=\"white-space: pre-wrap; background: #f8f9fa; padding: 16px;\">%s</div>\n", html.EscapeString(strings.TrimSpace(n.Body)))
	if n.Link != "" {
		fmt.Fprintf(&b, "<p><a href=\"%s\">View this post</a></p>\n", html.EscapeString(n.Link))
	}
	b.WriteString("</body>\n</html>\n")

	return &Message{To: to, Subject: subject, Text: text.String(), HTML: b.String()}
}

// headerValue drops control characters so a value cannot start a new
// header line.
func headerValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// Bytes renders msg as an RFC 5322 multipart/alternative message. Non-ASCII
// subjects are sent as encoded words.
func (msg *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "To: %s\r\n", headerValue(msg.To))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerValue(msg.Subject)))
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", w.Boundary())

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, p := range parts {
		pw, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", p.contentType, err)
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(p.body)); err != nil {
			return nil, fmt.Errorf("write %s part: %w", p.contentType, err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("close %s part: %w", p.contentType, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

// GmailProvider sends messages through the Gmail API as the authenticated
// account.
type GmailProvider struct {
	service  *gmail.Service
	logger   *slog.Logger
	attempts uint
}

// NewGmailProvider creates a new Gmail email provider.
func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{service: service, logger: logger, attempts: 3}
}

// Send uploads msg with users.messages.send, retrying failed calls.
func (g *GmailProvider) Send(ctx context.Context, msg *Message) error {
	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("render message: %w", err)
	}
	encoded := base64.URLEncoding.EncodeToString(raw)

	err = retry.Do(
		func() error {
			start := time.Now()
			sent, sendErr := g.service.Users.Messages.Send("me", &gmail.Message{Raw: encoded}).Context(ctx).Do()
			if sendErr != nil {
				return sendErr
			}
			g.logger.Info("Notification email sent",
				"to", msg.To,
				"message_id", sent.Id,
				"duration_ms", time.Since(start).Milliseconds())
			return nil
		},
		retry.Attempts(g.attempts),
		retry.Delay(2*time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			g.logger.Warn("Gmail send failed, retrying", "attempt", n, "to", msg.To, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("gmail send: %w", err)
	}
	return nil
}

// LogProvider only logs messages. It stands in for Gmail when no
// credentials are available.
type LogProvider struct {
	logger *slog.Logger
}

// NewLogProvider creates a provider that logs instead of sending.
func NewLogProvider(logger *slog.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

// Send logs msg.
func (p *LogProvider) Send(_ context.Context, msg *Message) error {
	p.logger.Info("Email delivery disabled, message not sent",
		"to", msg.To,
		"subject", msg.Subject,
		"text", truncate(msg.Text, maxDesktopBody))
	return nil
}
