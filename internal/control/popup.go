// Package control is the control surface: a short-lived context that asks
// the page for a post and the background for a save. It keeps no state
// between calls and may go away at any moment.
package control

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pbaille/postkeep/internal/bus"
	"github.com/pbaille/postkeep/internal/domain"
	"github.com/pbaille/postkeep/internal/protocol"
)

// DefaultTimeout bounds each request
const DefaultTimeout = 30 * time.Second

// Popup talks to the other contexts on behalf of the user
type Popup struct {
	bus     *bus.Bus
	timeout time.Duration
}

// New creates a control surface on b
func New(b *bus.Bus, timeout time.Duration) *Popup {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Popup{bus: b, timeout: timeout}
}

// ExtractActivePost asks page for the post the user means
func (p *Popup) ExtractActivePost(ctx context.Context, page string, mode protocol.Mode) (domain.ExtractedPost, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := bus.Call[protocol.PostExtracted](ctx, p.bus, protocol.Popup, page, protocol.ExtractPost{Mode: mode})
	if err != nil {
		if errors.Is(err, domain.ErrExtraction) {
			return domain.ExtractedPost{}, err
		}
		return domain.ExtractedPost{}, eris.Wrapf(err, "extract from %s", page)
	}
	return res.Post, nil
}

// RequestSave hands post to the background context. Transport failures come
// back as an unsuccessful result so callers only ever render one shape.
func (p *Popup) RequestSave(ctx context.Context, post domain.ExtractedPost, origin string) protocol.SaveResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := bus.Call[protocol.SaveResult](ctx, p.bus, protocol.Popup, protocol.Background,
		protocol.SavePost{Post: post, Origin: origin})
	if err != nil {
		return protocol.SaveResult{Error: "Background service unavailable: " + err.Error()}
	}
	return res
}

// RequestStatusCheck asks whether a credential is configured
func (p *Popup) RequestStatusCheck(ctx context.Context) (protocol.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	st, err := bus.Call[protocol.Status](ctx, p.bus, protocol.Popup, protocol.Background, protocol.GetStatus{})
	if err != nil {
		return protocol.Status{}, eris.Wrap(err, "status check")
	}
	return st, nil
}
