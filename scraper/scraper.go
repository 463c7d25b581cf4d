// Package scraper extracts the newest post from a paginated forum thread page.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"forum-notifier/pkg/notifier"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	// ErrPaginationMissing means the page has no pagination controls and is
	// not a thread page.
	ErrPaginationMissing = errors.New("pagination not found")
	// ErrPostIDMissing means no post block with a numeric identifier was found.
	ErrPostIDMissing = errors.New("post id not found")
)

const defaultTitle = "Forum thread"

// Page is the browser page the scraper reads and navigates.
type Page interface {
	Document() *goquery.Document
	URL() *url.URL
	Follow(ctx context.Context, href string) error
}

// Scraper extracts posts from the page it was created with.
type Scraper struct {
	page   Page
	logger *slog.Logger
}

// New creates a new scraper.
func New(page Page, logger *slog.Logger) *Scraper {
	return &Scraper{
		page:   page,
		logger: logger,
	}
}

// LatestPost moves the page to the last pagination page of the current
// thread and returns its newest post.
// It fails with ErrPaginationMissing or ErrPostIDMissing on pages that do
// not look like a thread, and with *browser.HTTPStatusError if the last
// page cannot be opened.
func (s *Scraper) LatestPost(ctx context.Context) (*notifier.Post, error) {
	doc := s.page.Document()
	if doc == nil {
		return nil, ErrPaginationMissing
	}

	pagination := doc.Find(".pagination").First()
	if pagination.Length() == 0 {
		return nil, ErrPaginationMissing
	}

	if href, ok := lastPageLink(pagination); ok {
		s.logger.Debug("Opening last thread page", "from", s.page.URL().String(), "href", href)
		if err := s.page.Follow(ctx, href); err != nil {
			return nil, fmt.Errorf("open last page: %w", err)
		}
		doc = s.page.Document()
		if doc == nil {
			return nil, ErrPostIDMissing
		}
	}

	return s.parseLastPost(doc)
}

// lastPageLink returns the link of the pagination item right before the
// "next" control. Single-page threads and pages that are already the last
// one have nothing to follow.
func lastPageLink(pagination *goquery.Selection) (string, bool) {
	items := pagination.Find("ul").First().ChildrenFiltered("li")
	if items.Length() < 2 {
		return "", false
	}

	next := items.FilterFunction(func(_ int, li *goquery.Selection) bool {
		return li.HasClass("next")
	})
	if next.Length() == 0 {
		return "", false
	}

	last := next.Last().Prev()
	if last.Length() == 0 || last.HasClass("active") {
		return "", false
	}
	href, ok := last.Find("a[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", false
	}
	return href, true
}

func (s *Scraper) parseLastPost(doc *goquery.Document) (*notifier.Post, error) {
	post := doc.Find("div.post[id]").Last()
	if post.Length() == 0 {
		return nil, ErrPostIDMissing
	}

	idAttr, _ := post.Attr("id")
	id := postID(idAttr)
	if id == "" {
		return nil, fmt.Errorf("%w: malformed id attribute %q", ErrPostIDMissing, idAttr)
	}

	var content string
	if nodes := post.Find(".content").First().Nodes; len(nodes) > 0 {
		content = textContent(nodes[0])
	}
	if content == "" {
		content = "(empty post)"
	}

	return &notifier.Post{
		ID:    id,
		Title: threadTitle(doc),
		Body:  content,
		URL:   s.permalink(post, id),
	}, nil
}

// textContent returns the text below n with line breaks kept.
func textContent(n *html.Node) string {
	var b strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.Data == "br":
			b.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(b.String())
}

// postID strips the non-numeric prefix of a post block id ("p123" -> "123").
// It returns "" unless the remainder is all digits.
func postID(attr string) string {
	id := strings.TrimLeftFunc(strings.TrimSpace(attr), func(r rune) bool {
		return r < '0' || r > '9'
	})
	if id == "" {
		return ""
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return id
}

func threadTitle(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("h2.topic-title").First().Text())
	if title != "" {
		return title
	}
	raw := strings.TrimSpace(doc.Find("title").First().Text())
	if idx := strings.Index(raw, " - "); idx > 0 {
		raw = raw[:idx]
	}
	if raw == "" {
		return defaultTitle
	}
	return raw
}

func (s *Scraper) permalink(post *goquery.Selection, id string) string {
	base := s.page.URL()
	if base == nil {
		base = &url.URL{}
	}

	if href, ok := post.Find(".postbody h3 a[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			return base.ResolveReference(ref).String()
		}
		s.logger.Debug("Unparseable permalink, using page URL", "href", href)
	}

	fallback := *base
	fallback.Fragment = "p" + id
	return fallback.String()
}
