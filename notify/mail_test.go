package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"strings"
	"testing"

	"forum-notifier/pkg/notifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

type recordingProvider struct {
	sent []*Message
	err  error
}

func (p *recordingProvider) Send(_ context.Context, msg *Message) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

type parsedMessage struct {
	header mail.Header
	parts  map[string]string // media type -> decoded body
}

func parseMessage(t *testing.T, raw []byte) parsedMessage {
	t.Helper()
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/alternative", mediaType)

	parsed := parsedMessage{header: m.Header, parts: make(map[string]string)}
	r := multipart.NewReader(m.Body, params["boundary"])
	for {
		p, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		partType, _, err := mime.ParseMediaType(p.Header.Get("Content-Type"))
		require.NoError(t, err)
		body, err := io.ReadAll(p)
		require.NoError(t, err)
		// Quoted-printable text parts travel with CRLF line endings.
		parsed.parts[partType] = strings.ReplaceAll(string(body), "\r\n", "\n")
	}
	return parsed
}

func TestMailerNotify(t *testing.T) {
	provider := &recordingProvider{}
	m, err := NewMailer(provider, "Me <me@example.com>", testLogger())
	require.NoError(t, err)

	err = m.Notify(context.Background(), notifier.Notification{
		Title: "New post in <Engine> swap",
		Body:  "Torque & \"specs\"",
		Link:  "https://f.example/viewtopic.php?p=1&x=2",
	})
	require.NoError(t, err)
	require.Len(t, provider.sent, 1)

	msg := provider.sent[0]
	assert.Equal(t, "me@example.com", msg.To)
	assert.Equal(t, "New post in <Engine> swap", msg.Subject)
	assert.Equal(t, "New post in <Engine> swap\n\nTorque & \"specs\"\n\nhttps://f.example/viewtopic.php?p=1&x=2\n", msg.Text)
	assert.Contains(t, msg.HTML, "<h2>New post in &lt;Engine&gt; swap</h2>")
	assert.Contains(t, msg.HTML, "Torque &amp; &#34;specs&#34;")
	assert.Contains(t, msg.HTML, `href="https://f.example/viewtopic.php?p=1&amp;x=2"`)
}

func TestNewMailerRejectsInvalidAddress(t *testing.T) {
	_, err := NewMailer(&recordingProvider{}, "not an address", testLogger())
	assert.Error(t, err)
}

func TestMailerNotifyError(t *testing.T) {
	m, err := NewMailer(&recordingProvider{err: errors.New("quota exceeded")}, "me@example.com", testLogger())
	require.NoError(t, err)

	err = m.Notify(context.Background(), notifier.Notification{Title: "t"})
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestMessageWithoutTitleOrLink(t *testing.T) {
	msg := newMessage("me@example.com", notifier.Notification{Body: "b"})
	assert.Equal(t, defaultSubject, msg.Subject)
	assert.Equal(t, defaultSubject+"\n\nb\n", msg.Text)
	assert.NotContains(t, msg.HTML, "<a ")
}

func TestMessageBytes(t *testing.T) {
	msg := newMessage("me@example.com", notifier.Notification{
		Title: "Ünïcode thread",
		Body:  "line one\nline two with a very long tail " + strings.Repeat("x", 120),
		Link:  "https://f.example/viewtopic.php?p=105#p105",
	})

	raw, err := msg.Bytes()
	require.NoError(t, err)
	parsed := parseMessage(t, raw)

	subject, err := new(mime.WordDecoder).DecodeHeader(parsed.header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Ünïcode thread", subject)
	assert.Equal(t, "me@example.com", parsed.header.Get("To"))

	assert.Equal(t, msg.Text, parsed.parts["text/plain"])
	assert.Contains(t, parsed.parts["text/plain"], "https://f.example/viewtopic.php?p=105#p105")
	assert.Equal(t, msg.HTML, parsed.parts["text/html"])
}

func TestMessageBytesDropsHeaderInjection(t *testing.T) {
	msg := &Message{
		To:      "me@example.com\r\nBcc: evil@example.com",
		Subject: "Injected\r\nBcc: evil@example.com",
		Text:    "t",
		HTML:    "<p>t</p>",
	}

	raw, err := msg.Bytes()
	require.NoError(t, err)
	parsed := parseMessage(t, raw)

	assert.Empty(t, parsed.header.Get("Bcc"))
	assert.Equal(t, "InjectedBcc: evil@example.com", parsed.header.Get("Subject"))
}

func TestHeaderValue(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Normal subject", "Normal subject"},
		{"Tab\there", "Tabhere"},
		{"Ünïcode ok", "Ünïcode ok"},
		{"del\x7f", "del"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, headerValue(tt.input))
		})
	}
}

func TestLogProvider(t *testing.T) {
	assert.NoError(t, NewLogProvider(testLogger()).Send(context.Background(), newMessage("a@example.com", notifier.Notification{Title: "s"})))
}

func TestGmailProviderSend(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/users/me/messages/send") {
			http.NotFound(w, r)
			return
		}
		var msg gmail.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		raw = msg.Raw
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	service, err := gmail.NewService(ctx,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	p := NewGmailProvider(service, testLogger())
	msg := newMessage("me@example.com", notifier.Notification{
		Title: "New post in Engine swap",
		Body:  "second",
		Link:  "https://f.example/viewtopic.php?p=105#p105",
	})
	require.NoError(t, p.Send(ctx, msg))

	decoded, err := base64.URLEncoding.DecodeString(raw)
	require.NoError(t, err)
	parsed := parseMessage(t, decoded)
	assert.Equal(t, "New post in Engine swap", parsed.header.Get("Subject"))
	assert.Contains(t, parsed.parts["text/plain"], "https://f.example/viewtopic.php?p=105#p105")
}

func TestGmailProviderSendFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, `{"error":{"code":400,"message":"bad request"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	ctx := context.Background()
	service, err := gmail.NewService(ctx,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	p := NewGmailProvider(service, testLogger())
	p.attempts = 1

	err = p.Send(ctx, newMessage("me@example.com", notifier.Notification{Title: "t"}))
	assert.ErrorContains(t, err, "gmail send")
	assert.Equal(t, 1, calls)
}
