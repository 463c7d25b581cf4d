package poll

// Outcome classifies a freshly extracted post against the stored state.
type Outcome int

const (
	// FirstObservation means nothing was stored for the thread yet.
	FirstObservation Outcome = iota
	// NewPost means the extracted post is newer than the stored one.
	NewPost
	// Unchanged covers equal and lower identifiers.
	Unchanged
)

func (o Outcome) String() string {
	switch o {
	case FirstObservation:
		return "first-observation"
	case NewPost:
		return "new-post"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Classify compares the current post ID with the prior one. In every case
// the caller stores current afterwards; only NewPost notifies.
func Classify(prior int64, hasPrior bool, current int64) Outcome {
	switch {
	case !hasPrior:
		return FirstObservation
	case current > prior:
		return NewPost
	default:
		return Unchanged
	}
}
