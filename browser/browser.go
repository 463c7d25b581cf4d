// Package browser provides the single reusable page used to load forum threads.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	maxBodyBytes     = 10 << 20
)

// HTTPStatusError indicates a page answered with a status of 300 or above.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsHTTPStatusError checks if an error is an HTTP status error.
func IsHTTPStatusError(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr)
}

// Options tunes the browser. Zero values select defaults.
type Options struct {
	Client    *http.Client
	UserAgent string
	Attempts  uint          // Fetch attempts on transport errors
	Delay     time.Duration // Initial retry delay
}

// Browser is a single page that is navigated from URL to URL.
// It is not safe for concurrent use.
type Browser struct {
	client    *http.Client
	logger    *slog.Logger
	userAgent string
	attempts  uint
	delay     time.Duration

	doc    *goquery.Document
	url    *url.URL
	status int
}

// New creates a browser with its own cookie jar.
func New(opts Options, logger *slog.Logger) (*Browser, error) {
	client := opts.Client
	if client == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		client = &http.Client{Timeout: 30 * time.Second, Jar: jar}
	}
	b := &Browser{
		client:    client,
		logger:    logger,
		userAgent: opts.UserAgent,
		attempts:  opts.Attempts,
		delay:     opts.Delay,
	}
	if b.userAgent == "" {
		b.userAgent = defaultUserAgent
	}
	if b.attempts == 0 {
		b.attempts = 3
	}
	if b.delay == 0 {
		b.delay = time.Second
	}
	return b, nil
}

// Document returns the DOM of the current page, or nil if the last
// navigation did not produce one.
func (b *Browser) Document() *goquery.Document {
	return b.doc
}

// URL returns the address of the current page after redirects.
func (b *Browser) URL() *url.URL {
	return b.url
}

// Status returns the status code of the last navigation.
func (b *Browser) Status() int {
	return b.status
}

// Navigate loads pageURL and returns the final response status.
// A status of 300 or above is not an error; the document is cleared instead.
// Transport failures are retried and returned as errors.
func (b *Browser) Navigate(ctx context.Context, pageURL string) (int, error) {
	var (
		doc    *goquery.Document
		final  *url.URL
		status int
	)

	err := retry.Do(
		func() error {
			b.logger.Debug("HTTP request starting", "method", "GET", "url", pageURL)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("User-Agent", b.userAgent)
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
			req.Header.Set("Accept-Language", "en-US,en;q=0.9")

			startTime := time.Now()
			resp, err := b.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				b.logger.Warn("HTTP request failed",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					b.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			status = resp.StatusCode
			final = resp.Request.URL

			b.logger.Debug("HTTP request completed",
				"url", pageURL,
				"final_url", final.String(),
				"status_code", status,
				"duration_ms", duration.Milliseconds())

			if status >= http.StatusMultipleChoices {
				doc = nil
				return nil
			}

			doc, err = goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
			if err != nil {
				return fmt.Errorf("parse HTML: %w", err)
			}
			return nil
		},
		retry.Attempts(b.attempts),
		retry.Delay(b.delay),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("Retrying page load after error", "attempt", n, "url", pageURL, "error", err)
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", pageURL, err)
	}

	b.doc = doc
	b.url = final
	b.status = status
	return status, nil
}

// Follow activates a link found on the current page: href is resolved
// against the current URL and loaded. A status of 300 or above is
// returned as *HTTPStatusError.
func (b *Browser) Follow(ctx context.Context, href string) error {
	if b.url == nil {
		return errors.New("no page loaded")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return fmt.Errorf("parse link %q: %w", href, err)
	}
	target := b.url.ResolveReference(ref)
	target.Fragment = ""

	status, err := b.Navigate(ctx, target.String())
	if err != nil {
		return err
	}
	if status >= http.StatusMultipleChoices {
		return &HTTPStatusError{URL: target.String(), StatusCode: status}
	}
	return nil
}
