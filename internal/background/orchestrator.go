// Package background is the durable context: it owns the credential, the
// save pipeline and its rate guard.
package background

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pbaille/postkeep/internal/bus"
	"github.com/pbaille/postkeep/internal/domain"
	"github.com/pbaille/postkeep/internal/enrich"
	"github.com/pbaille/postkeep/internal/media"
	"github.com/pbaille/postkeep/internal/metrics"
	"github.com/pbaille/postkeep/internal/protocol"
	"github.com/pbaille/postkeep/internal/ratelimit"
)

// User-visible messages.
const (
	msgNotLoggedIn  = "Not logged in. Run `postkeep token` and set POSTKEEP_TOKEN."
	msgTooMany      = "Too many requests, please wait"
	msgRateLimit    = "Rate limit, please wait"
	msgNoPost       = "Could not find post content here."
	msgAlreadySaved = "Post already saved"
	maxErrorLen     = 220
)

// Enricher produces metadata for post text and never fails
type Enricher interface {
	Analyze(ctx context.Context, text string) domain.Analysis
}

// Config tunes the orchestrator
type Config struct {
	// Guard limits saves from all pages together
	Guard ratelimit.Config
	// RateLimitBackoff is applied when the persistence service answers 429
	RateLimitBackoff time.Duration
	// AccountTTL is how long the account label is cached
	AccountTTL time.Duration

	Jitter   media.Jitter
	Compress media.CompressOptions

	MediaTimeout  time.Duration
	EnrichTimeout time.Duration
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		Guard:            ratelimit.Config{Limit: 60, Window: time.Minute, Cooldown: 250 * time.Millisecond},
		RateLimitBackoff: 30 * time.Second,
		AccountTTL:       5 * time.Minute,
		Jitter:           media.DefaultJitter,
		Compress:         media.DefaultCompress,
		MediaTimeout:     2 * time.Minute,
		EnrichTimeout:    2 * time.Minute,
	}
}

// Orchestrator runs save attempts: text commit first, then media and
// enrichment in the background.
type Orchestrator struct {
	posts    domain.Posts
	enricher Enricher
	bus      *bus.Bus
	direct   media.Getter
	cfg      Config
	log      *zap.Logger
	now      func() time.Time

	// guard is not safe for concurrent use on its own
	guardMu sync.Mutex
	guard   *ratelimit.Guard

	accountMu sync.Mutex
	label     string
	labelExp  time.Time

	wg sync.WaitGroup
}

// NewOrchestrator wires the pipeline. b may be nil when no page can relay
// media; direct may be nil to disable direct retrieval; a nil enricher uses
// the rule-based fallback only.
func NewOrchestrator(posts domain.Posts, en Enricher, b *bus.Bus, direct media.Getter, cfg Config, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if en == nil {
		en = enrich.NewClient(nil, log)
	}
	return &Orchestrator{
		posts:    posts,
		enricher: en,
		bus:      b,
		direct:   direct,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		guard:    ratelimit.New(cfg.Guard),
	}
}

// credentialed is implemented by persistence clients that may lack a token
type credentialed interface {
	LoggedIn() bool
}

// LoggedIn reports whether saves can reach the persistence service
func (o *Orchestrator) LoggedIn() bool {
	if c, ok := o.posts.(credentialed); ok {
		return c.LoggedIn()
	}
	return true
}

// Admit checks and records one action against the rate guard
func (o *Orchestrator) Admit() bool {
	o.guardMu.Lock()
	defer o.guardMu.Unlock()
	return o.guard.Allow()
}

// GuardState reports the rate guard's state
func (o *Orchestrator) GuardState() ratelimit.State {
	o.guardMu.Lock()
	defer o.guardMu.Unlock()
	return o.guard.State()
}

func (o *Orchestrator) backoff() {
	o.guardMu.Lock()
	o.guard.Backoff(o.cfg.RateLimitBackoff)
	o.guardMu.Unlock()
}

// AccountLabel returns the owner's label, cached for AccountTTL. Failures
// yield an empty label and are not cached.
func (o *Orchestrator) AccountLabel(ctx context.Context) string {
	o.accountMu.Lock()
	defer o.accountMu.Unlock()

	now := o.now()
	if o.label != "" && now.Before(o.labelExp) {
		return o.label
	}
	st, err := o.posts.Settings(ctx)
	if err != nil {
		o.log.Debug("account label unavailable", zap.Error(err))
		return ""
	}
	if st.Label != "" {
		o.label, o.labelExp = st.Label, now.Add(o.cfg.AccountTTL)
	}
	return st.Label
}

// Save commits p and returns the user-visible outcome as soon as the text
// is stored. Media and enrichment continue on their own goroutines and are
// tracked by the returned Attempt. origin is the page endpoint that
// extracted p, used to relay media retrieval.
func (o *Orchestrator) Save(ctx context.Context, p domain.ExtractedPost, origin string) (protocol.SaveResult, *Attempt) {
	a := newAttempt()
	defer a.seal()

	if !o.LoggedIn() {
		a.set(CommitFailed)
		metrics.Saves.WithLabelValues("not_logged_in").Inc()
		return protocol.SaveResult{Error: msgNotLoggedIn}, a
	}
	if len([]rune(strings.TrimSpace(p.BodyText))) < domain.MinBodyLength {
		a.set(CommitFailed)
		metrics.Saves.WithLabelValues("no_content").Inc()
		return protocol.SaveResult{Error: msgNoPost}, a
	}

	a.set(TextCommitting)
	res, err := o.posts.CreatePost(ctx, p)
	if err != nil {
		a.set(CommitFailed)
		return o.commitError(err), a
	}
	label := o.AccountLabel(ctx)

	// background stages outlive the request that started them
	bg := context.WithoutCancel(ctx)

	if res.Duplicate {
		// the persistence service merged the fresh counters into the matched record
		a.set(Duplicate)
		metrics.Saves.WithLabelValues("duplicate").Inc()
		return protocol.SaveResult{
			Success:      true,
			Duplicate:    true,
			PostID:       res.Post.ID,
			AccountLabel: label,
			Message:      msgAlreadySaved,
		}, a
	}

	a.set(Committed)
	a.mu.Lock()
	a.postID = res.Post.ID
	a.mu.Unlock()
	metrics.Saves.WithLabelValues("committed").Inc()
	o.log.Info("post saved",
		zap.String("post", res.Post.ID), zap.String("author", p.AuthorName), zap.Int("media", len(p.Media)))

	if len(p.Media) > 0 {
		a.set(MediaDispatched)
		a.setMedia(MediaPending, 0)
		refs := append([]domain.MediaRef(nil), p.Media...)
		o.track(a, func() { o.runMedia(bg, a, res.Post.ID, refs, origin) })
	}

	a.set(EnrichmentGated)
	post := res.Post
	o.track(a, func() { o.runEnrichment(bg, a, post) })

	msg := "Saved post by " + p.AuthorName
	if label != "" {
		msg += " to " + label
	}
	return protocol.SaveResult{Success: true, PostID: res.Post.ID, AccountLabel: label, Message: msg}, a
}

func (o *Orchestrator) commitError(err error) protocol.SaveResult {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		o.backoff()
		metrics.Saves.WithLabelValues("rate_limited").Inc()
		metrics.RateLimited.WithLabelValues("remote").Inc()
		return protocol.SaveResult{Error: msgTooMany}
	case errors.Is(err, domain.ErrNotLoggedIn), errors.Is(err, domain.ErrUnauthorized):
		metrics.Saves.WithLabelValues("not_logged_in").Inc()
		return protocol.SaveResult{Error: msgNotLoggedIn}
	}
	metrics.Saves.WithLabelValues("failed").Inc()
	o.log.Warn("save failed", zap.Error(err))
	msg := err.Error()
	if r := []rune(msg); len(r) > maxErrorLen {
		msg = string(r[:maxErrorLen])
	}
	return protocol.SaveResult{Error: msg}
}

// track runs f as a stage of a and of the orchestrator
func (o *Orchestrator) track(a *Attempt, f func()) {
	o.wg.Add(1)
	a.spawn(func() {
		defer o.wg.Done()
		f()
	})
}

// Wait blocks until every background stage started so far has ended
func (o *Orchestrator) Wait() { o.wg.Wait() }

// UpdateEngagement pushes fresh counters for a saved post
func (o *Orchestrator) UpdateEngagement(ctx context.Context, permalink string, e domain.Engagement) error {
	if !o.LoggedIn() {
		return domain.ErrNotLoggedIn
	}
	return o.posts.UpdateEngagementByURL(ctx, permalink, e)
}

func (o *Orchestrator) runMedia(ctx context.Context, a *Attempt, postID string, refs []domain.MediaRef, origin string) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.MediaTimeout)
	defer cancel()

	result, n := o.storeMedia(ctx, postID, refs, origin)
	a.setMedia(result, n)
}

// FetchMedia runs the media pipeline for an already saved post
func (o *Orchestrator) FetchMedia(ctx context.Context, postID string, refs []domain.MediaRef, origin string) (int, error) {
	if postID == "" {
		return 0, domain.Invalid("no post id provided")
	}
	if len(refs) == 0 {
		return 0, domain.Invalid("no image urls provided")
	}
	if !o.LoggedIn() {
		return 0, domain.ErrNotLoggedIn
	}
	result, n := o.storeMedia(ctx, postID, refs, origin)
	if result != MediaStored {
		return 0, eris.Errorf("media %s", result)
	}
	return n, nil
}

func (o *Orchestrator) storeMedia(ctx context.Context, postID string, refs []domain.MediaRef, origin string) (MediaResult, int) {
	images := media.Prepare(o.retrieve(ctx, refs, origin), o.cfg.Compress)
	if len(images) == 0 {
		metrics.Media.WithLabelValues(string(MediaEmpty)).Inc()
		o.log.Debug("no usable images", zap.String("post", postID))
		return MediaEmpty, 0
	}
	if err := o.posts.PatchMedia(ctx, postID, images); err != nil {
		metrics.Media.WithLabelValues(string(MediaFailed)).Inc()
		o.log.Warn("media upload failed", zap.String("post", postID), zap.Error(err))
		return MediaFailed, 0
	}
	metrics.Media.WithLabelValues(string(MediaStored)).Inc()
	o.log.Debug("media stored", zap.String("post", postID), zap.Int("images", len(images)))
	return MediaStored, len(images)
}

// retrieve asks the originating page first; when it cannot answer the
// images are downloaded directly.
func (o *Orchestrator) retrieve(ctx context.Context, refs []domain.MediaRef, origin string) []domain.MediaImage {
	if origin != "" && o.bus != nil {
		reply, err := bus.Call[protocol.ImagesFetched](ctx, o.bus, protocol.Background, origin, protocol.FetchImages{Refs: refs})
		if err == nil {
			return reply.Images
		}
		o.log.Debug("page relay failed, fetching directly", zap.String("page", origin), zap.Error(err))
	}
	if o.direct == nil {
		return nil
	}
	if err := media.InitialDelay(ctx, o.cfg.Jitter); err != nil {
		return nil
	}
	return media.FetchSequence(ctx, o.direct, refs, o.cfg.Jitter)
}

// runEnrichment tags a committed post. When settings or quota cannot be
// read the post is tagged locally instead of staying untagged; a quota
// denial ends the stage silently
func (o *Orchestrator) runEnrichment(ctx context.Context, a *Attempt, post domain.SavedPost) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.EnrichTimeout)
	defer cancel()

	st, err := o.posts.Settings(ctx)
	if err != nil {
		o.log.Warn("enrichment: settings unavailable, tagging locally", zap.Error(err))
		o.applyAnalysis(ctx, a, post.ID, enrich.Fallback(post.BodyText))
		return
	}
	if !st.AutoAnalyze {
		a.set(EnrichmentSkipped)
		return
	}

	quota, err := o.posts.CheckAndIncrementQuota(ctx)
	if err != nil {
		o.log.Warn("enrichment: quota check failed, tagging locally", zap.Error(err))
		o.applyAnalysis(ctx, a, post.ID, enrich.Fallback(post.BodyText))
		return
	}
	if !quota.Allowed {
		metrics.Enrichments.WithLabelValues("quota_denied").Inc()
		a.set(QuotaDenied)
		return
	}

	o.applyAnalysis(ctx, a, post.ID, o.enricher.Analyze(ctx, post.BodyText))
}

func (o *Orchestrator) applyAnalysis(ctx context.Context, a *Attempt, postID string, analysis domain.Analysis) {
	if _, err := o.posts.ApplyAnalysis(ctx, postID, analysis); err != nil {
		o.log.Warn("enrichment: write-back failed", zap.String("post", postID), zap.Error(err))
		metrics.Enrichments.WithLabelValues("write_failed").Inc()
		a.set(EnrichmentFailed)
		return
	}
	metrics.Enrichments.WithLabelValues(analysis.Source).Inc()
	o.log.Debug("post enriched",
		zap.String("post", postID), zap.String("topic", analysis.Topic), zap.String("source", analysis.Source))
	a.set(Enriched)
}
