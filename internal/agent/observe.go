package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pbaille/postkeep/internal/bus"
	"github.com/pbaille/postkeep/internal/domain"
	"github.com/pbaille/postkeep/internal/page"
	"github.com/pbaille/postkeep/internal/protocol"
)

// Observe rescans the document after it changes. The first change arms a
// timer of cfg.Debounce; changes before it fires are folded into the same
// rescan. Observe returns when ctx ends or changes is closed.
func (a *Agent) Observe(ctx context.Context, changes <-chan struct{}) error {
	var fire <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			if fire == nil {
				timer = time.NewTimer(a.cfg.Debounce)
				fire = timer.C
			}
		case <-fire:
			fire = nil
			a.Rescan(ctx)
		}
	}
}

// Rescan pushes fresh engagement counters for posts saved from this page.
// On a single post page the post is refreshed whether or not it was saved
// here. Counters are pushed once per permalink until they change.
func (a *Agent) Rescan(ctx context.Context) int {
	s, err := a.doc.Snapshot(ctx)
	if err != nil {
		a.log.Debug("rescan skipped", zap.Error(err))
		return 0
	}

	if page.IsPostURL(s.URL) {
		post, err := page.ExtractActive(s, page.Hint{Kind: page.HintVisible}, a.now())
		if err != nil || !post.PermalinkCanonical || post.Permalink == "" {
			return 0
		}
		if a.push(ctx, post.Permalink, post.Engagement) {
			return 1
		}
		return 0
	}

	pushed := 0
	for _, r := range page.Regions(s) {
		link, canonical := page.ExtractPermalink(s, r.Node)
		if !canonical {
			continue
		}
		a.mu.Lock()
		saved := a.saved[link]
		a.mu.Unlock()
		if !saved {
			continue
		}
		if a.push(ctx, link, page.ExtractEngagement(s, r.Node)) {
			pushed++
		}
	}
	return pushed
}

// push sends e for permalink unless it is empty or already sent
func (a *Agent) push(ctx context.Context, permalink string, e domain.Engagement) bool {
	if e.IsZero() {
		return false
	}
	a.mu.Lock()
	last, ok := a.pushed[permalink]
	a.mu.Unlock()
	if ok && last == e {
		return false
	}

	ack, err := bus.Call[protocol.Ack](ctx, a.bus, a.name, protocol.Background,
		protocol.UpdateEngagement{Permalink: permalink, Engagement: e})
	if err != nil || !ack.OK {
		a.log.Debug("engagement not updated", zap.String("url", permalink), zap.String("reason", ack.Error), zap.Error(err))
		return false
	}

	a.mu.Lock()
	a.pushed[permalink] = e
	a.mu.Unlock()
	return true
}
