package poll

// Failure is a page URL that will not be visited again during this run.
type Failure struct {
	URL    string
	Reason string
}

// FailureTracker remembers permanently failed page URLs for the lifetime of
// a Monitor. Entries are never removed. It is not safe for concurrent use.
type FailureTracker struct {
	reasons map[string]string
	order   []string
}

// NewFailureTracker creates an empty tracker.
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{reasons: make(map[string]string)}
}

// Mark records url as failed. Marking an already failed URL keeps the
// first reason.
func (f *FailureTracker) Mark(url, reason string) {
	if _, ok := f.reasons[url]; ok {
		return
	}
	f.reasons[url] = reason
	f.order = append(f.order, url)
}

// IsMarked reports whether url has failed before.
func (f *FailureTracker) IsMarked(url string) bool {
	_, ok := f.reasons[url]
	return ok
}

// Len returns the number of failed URLs.
func (f *FailureTracker) Len() int {
	return len(f.order)
}

// Entries returns the failures in the order they were marked.
func (f *FailureTracker) Entries() []Failure {
	out := make([]Failure, 0, len(f.order))
	for _, u := range f.order {
		out = append(out, Failure{URL: u, Reason: f.reasons[u]})
	}
	return out
}
