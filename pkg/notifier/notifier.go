// Package notifier contains the core domain types for the forum notification service.
package notifier

import (
	"fmt"
	"net/url"
	"strings"
)

// Target identifies one watched thread.
type Target struct {
	Forum      string // Forum name from the configuration
	BaseURL    string // Forum root, e.g. https://f.example/
	Subforum   string // Subforum name from the configuration
	SubforumID string
	ThreadID   string
}

// ValidThreadID reports whether id can name a thread. IDs are used as file
// and object names, so path separators and dot segments are rejected.
func ValidThreadID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// PageURL returns the fully-qualified URL of the thread's first page.
func (t Target) PageURL() string {
	base := t.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return fmt.Sprintf("%sviewtopic.php?f=%s&t=%s", base, url.QueryEscape(t.SubforumID), url.QueryEscape(t.ThreadID))
}

// Post is the newest post of a thread as extracted from its last page.
type Post struct {
	ID    string // Decimal post identifier, increases with recency
	Title string // Thread title (thread-scoped, not per post)
	Body  string // Plain text content
	URL   string // Absolute permalink
}

// Notification is a request to tell the user about a new post.
type Notification struct {
	Title string
	Body  string
	Link  string
}
