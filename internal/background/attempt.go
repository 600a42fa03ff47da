package background

import (
	"sync"
)

// State is a step of one save attempt
type State int

const (
	Extracted State = iota
	TextCommitting
	Duplicate
	Committed
	CommitFailed
	MediaDispatched
	EnrichmentGated
	EnrichmentSkipped
	Enriched
	QuotaDenied
	EnrichmentFailed
)

func (s State) String() string {
	switch s {
	case Extracted:
		return "extracted"
	case TextCommitting:
		return "text_committing"
	case Duplicate:
		return "duplicate"
	case Committed:
		return "committed"
	case CommitFailed:
		return "commit_failed"
	case MediaDispatched:
		return "media_dispatched"
	case EnrichmentGated:
		return "enrichment_gated"
	case EnrichmentSkipped:
		return "enrichment_skipped"
	case Enriched:
		return "enriched"
	case QuotaDenied:
		return "quota_denied"
	case EnrichmentFailed:
		return "enrichment_failed"
	}
	return "unknown"
}

// MediaResult is how the media stage of an attempt ended
type MediaResult string

const (
	MediaNone    MediaResult = ""
	MediaPending MediaResult = "pending"
	MediaStored  MediaResult = "stored"
	MediaEmpty   MediaResult = "empty"
	MediaFailed  MediaResult = "failed"
)

// Attempt tracks one save from extraction to its last background stage.
// The save result is returned before media and enrichment finish; Done
// closes once they have
type Attempt struct {
	mu      sync.Mutex
	history []State
	postID  string
	media   MediaResult
	images  int

	wg   sync.WaitGroup
	done chan struct{}
}

func newAttempt() *Attempt {
	return &Attempt{history: []State{Extracted}, done: make(chan struct{})}
}

// State returns the latest step of the pipeline's main line. Media runs
// beside it and is reported by Media
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history[len(a.history)-1]
}

// History returns every step in order
func (a *Attempt) History() []State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]State(nil), a.history...)
}

// PostID is the saved post id, empty until the text commit succeeds
func (a *Attempt) PostID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.postID
}

// Media returns the media stage outcome and the number of stored images
func (a *Attempt) Media() (MediaResult, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.media, a.images
}

// Done is closed when every stage of the attempt has ended
func (a *Attempt) Done() <-chan struct{} { return a.done }

func (a *Attempt) set(s State) {
	a.mu.Lock()
	a.history = append(a.history, s)
	a.mu.Unlock()
}

func (a *Attempt) setMedia(r MediaResult, n int) {
	a.mu.Lock()
	a.media, a.images = r, n
	a.mu.Unlock()
}

// spawn runs f as a background stage of the attempt
func (a *Attempt) spawn(f func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		f()
	}()
}

// seal closes Done once all spawned stages have returned. No stage may be
// spawned afterwards
func (a *Attempt) seal() {
	go func() {
		a.wg.Wait()
		close(a.done)
	}()
}
