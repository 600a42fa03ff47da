// Package agent is the page context: it reads the live document, answers
// extraction requests and offers the in-page save affordance.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pbaille/postkeep/internal/bus"
	"github.com/pbaille/postkeep/internal/domain"
	"github.com/pbaille/postkeep/internal/media"
	"github.com/pbaille/postkeep/internal/metrics"
	"github.com/pbaille/postkeep/internal/page"
	"github.com/pbaille/postkeep/internal/protocol"
	"github.com/pbaille/postkeep/internal/ratelimit"
)

const (
	msgTooMany     = "Too many saves, please wait a minute"
	msgNoPost      = "Could not find post content here."
	msgUnavailable = "Background service unavailable, try again"
)

// Document is the live page the agent reads.
type Document interface {
	Snapshot(ctx context.Context) (*page.Snapshot, error)
}

// Notifier shows a save outcome inside the page. Documents that cannot
// display anything leave it unimplemented and notifications are logged.
type Notifier interface {
	Notify(ctx context.Context, n protocol.ShowNotification) error
}

// Config tunes one agent
type Config struct {
	// InteractionTTL is how long a right-click or tap stays a valid hint
	InteractionTTL time.Duration
	// Debounce is the quiet period after a document change before a rescan
	Debounce time.Duration
	// Guard limits saves started from this page
	Guard  ratelimit.Config
	Jitter media.Jitter
	// SaveTimeout bounds the wait for the background's answer
	SaveTimeout time.Duration
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		InteractionTTL: 30 * time.Second,
		Debounce:       800 * time.Millisecond,
		Guard:          ratelimit.Config{Limit: 20, Window: time.Minute, Cooldown: 1500 * time.Millisecond},
		Jitter:         media.DefaultJitter,
		SaveTimeout:    time.Minute,
	}
}

// Agent serves one page.
type Agent struct {
	name   string
	doc    Document
	getter media.Getter
	bus    *bus.Bus
	cfg    Config
	log    *zap.Logger
	now    func() time.Time

	guardMu sync.Mutex
	guard   *ratelimit.Guard

	// permalinks saved from this page and the counters last pushed for them
	mu     sync.Mutex
	saved  map[string]bool
	pushed map[string]domain.Engagement
}

// New creates the agent of page id. getter retrieves images with the page's
// own session.
func New(id string, doc Document, getter media.Getter, b *bus.Bus, cfg Config, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	name := protocol.PageEndpoint(id)
	return &Agent{
		name:   name,
		doc:    doc,
		getter: getter,
		bus:    b,
		cfg:    cfg,
		log:    log.With(zap.String("page", name)),
		now:    time.Now,
		guard:  ratelimit.New(cfg.Guard),
		saved:  make(map[string]bool),
		pushed: make(map[string]domain.Engagement),
	}
}

// Name is the agent's bus address
func (a *Agent) Name() string { return a.name }

// Register starts the agent's endpoint
func (a *Agent) Register(ctx context.Context) (*bus.Endpoint, error) {
	return a.bus.Register(ctx, a.name, a.Handle)
}

// Handle dispatches one request
func (a *Agent) Handle(ctx context.Context, req *bus.Request) {
	switch m := req.Msg.(type) {
	case protocol.ExtractPost:
		post, err := a.Extract(ctx, m.Mode)
		if err != nil {
			req.Respond(nil, err)
			return
		}
		req.Respond(protocol.PostExtracted{Post: post}, nil)

	case protocol.FetchImages:
		refs := append([]domain.MediaRef(nil), m.Refs...)
		go func() {
			req.Respond(protocol.ImagesFetched{Images: media.FetchSequence(ctx, a.getter, refs, a.cfg.Jitter)}, nil)
		}()

	case protocol.ShowNotification:
		a.notify(ctx, m)

	default:
		req.Respond(nil, eris.Errorf("agent: unsupported message %T", req.Msg))
	}
}

// Extract reads the post the user means. ModeVisible ignores interaction
// and pointer hints.
func (a *Agent) Extract(ctx context.Context, mode protocol.Mode) (domain.ExtractedPost, error) {
	s, err := a.doc.Snapshot(ctx)
	if err != nil {
		metrics.Extractions.WithLabelValues("error").Inc()
		return domain.ExtractedPost{}, eris.Wrap(err, "snapshot document")
	}
	now := a.now()
	h := page.Hint{Kind: page.HintVisible}
	if mode != protocol.ModeVisible {
		h = page.HintFor(s, now, a.cfg.InteractionTTL)
	}

	post, err := page.ExtractActive(s, h, now)
	if err != nil {
		metrics.Extractions.WithLabelValues("empty").Inc()
		return domain.ExtractedPost{}, err
	}
	metrics.Extractions.WithLabelValues("ok").Inc()
	a.log.Debug("post extracted",
		zap.String("author", post.AuthorName), zap.String("url", post.Permalink), zap.Int("media", len(post.Media)))
	return post, nil
}

// Activate is the in-page save affordance: it saves the post nearest the
// last interaction through the background context and shows the outcome.
func (a *Agent) Activate(ctx context.Context) protocol.SaveResult {
	res := a.activate(ctx)
	msg := res.Message
	if !res.Success {
		msg = res.Error
	}
	a.notify(ctx, protocol.ShowNotification{Success: res.Success, Message: msg})
	return res
}

func (a *Agent) activate(ctx context.Context) protocol.SaveResult {
	a.guardMu.Lock()
	ok := a.guard.Allow()
	a.guardMu.Unlock()
	if !ok {
		metrics.RateLimited.WithLabelValues("page").Inc()
		return protocol.SaveResult{Error: msgTooMany}
	}

	post, err := a.Extract(ctx, protocol.ModeAuto)
	if err != nil {
		return protocol.SaveResult{Error: msgNoPost}
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.SaveTimeout)
	defer cancel()
	res, err := bus.Call[protocol.SaveResult](ctx, a.bus, a.name, protocol.Background,
		protocol.SavePost{Post: post, Origin: a.name})
	if err != nil {
		a.log.Warn("save request failed", zap.Error(err))
		if errors.Is(err, bus.ErrUnreachable) {
			return protocol.SaveResult{Error: msgUnavailable}
		}
		return protocol.SaveResult{Error: err.Error()}
	}

	// duplicates had their counters refreshed by the background already; a
	// page URL is shared by every post on it and is not worth remembering
	if res.Success && post.PermalinkCanonical && post.Permalink != "" {
		a.mu.Lock()
		a.saved[post.Permalink] = true
		a.pushed[post.Permalink] = post.Engagement
		a.mu.Unlock()
	}
	return res
}

func (a *Agent) notify(ctx context.Context, n protocol.ShowNotification) {
	if nt, ok := a.doc.(Notifier); ok {
		err := nt.Notify(ctx, n)
		if err == nil {
			return
		}
		a.log.Debug("notification not shown", zap.Error(err))
	}
	if n.Success {
		a.log.Info(n.Message)
		return
	}
	a.log.Warn(n.Message)
}
