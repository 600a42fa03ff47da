// Package browser drives a Chrome tab and exposes it as a live document:
// snapshots with layout facts, change and activation events pushed from the
// page through a CDP binding, and image retrieval through the page's own
// network stack.
package browser

import (
	"context"
	"strings"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pbaille/postkeep/internal/page"
	"github.com/pbaille/postkeep/internal/protocol"
)

// Options configure the browser process
type Options struct {
	Headless bool
	ExecPath string
	// ProfileDir keeps cookies between runs so the user stays signed in
	ProfileDir string
	// Coalesce groups bursts of DOM mutations into one change event
	Coalesce time.Duration
}

// Browser is one Chrome process.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	opts        Options
	log         *zap.Logger
}

// Launch starts Chrome
func Launch(opts Options, log *zap.Logger) (*Browser, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Coalesce <= 0 {
		opts.Coalesce = 100 * time.Millisecond
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.ProfileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.ProfileDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(log.Sugar().Debugf))
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, eris.Wrap(err, "start browser")
	}
	return &Browser{ctx: ctx, cancel: cancel, allocCancel: allocCancel, opts: opts, log: log}, nil
}

// Close stops Chrome
func (b *Browser) Close() {
	b.cancel()
	b.allocCancel()
}

// Open navigates a new tab to url
func (b *Browser) Open(ctx context.Context, url string) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	t := &Tab{ctx: tabCtx, cancel: cancel, events: make(chan string, 16), log: b.log.With(zap.String("url", url))}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		if e, ok := ev.(*runtime.EventBindingCalled); ok && e.Name == bindingName {
			select {
			case t.events <- e.Payload:
			default:
			}
		}
	})

	probe := probeExpr(b.opts.Coalesce)
	var ok bool
	err := t.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := runtime.AddBinding(bindingName).Do(ctx); err != nil {
				return err
			}
			_, err := cdppage.AddScriptToEvaluateOnNewDocument(probe).Do(ctx)
			return err
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(probe, &ok),
	)
	if err != nil {
		cancel()
		return nil, eris.Wrapf(err, "open %s", url)
	}
	return t, nil
}

// Tab is one open page. It implements the agent's Document and Notifier
// and the media Getter.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	// events carries binding payloads pushed by the probe
	events chan string
	log    *zap.Logger
}

// Close closes the tab
func (t *Tab) Close() { t.cancel() }

// run executes actions in the tab, stopping early when ctx ends
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Snapshot stamps geometry into the document and captures it
func (t *Tab) Snapshot(ctx context.Context) (*page.Snapshot, error) {
	var (
		stamped bool
		url     string
		outer   string
	)
	err := t.run(ctx,
		chromedp.Evaluate(stampScript, &stamped),
		chromedp.Location(&url),
		chromedp.OuterHTML("html", &outer, chromedp.ByQuery),
	)
	if err != nil {
		return nil, eris.Wrap(err, "capture document")
	}
	return page.Parse(url, strings.NewReader(outer))
}

// Get downloads an image inside the page and returns it as a data URI
func (t *Tab) Get(ctx context.Context, url string) (string, error) {
	var data string
	err := t.run(ctx, chromedp.Evaluate(fetchExpr(url), &data, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return "", eris.Wrapf(err, "fetch %s in page", url)
	}
	return data, nil
}

// Notify shows a banner in the page
func (t *Tab) Notify(ctx context.Context, n protocol.ShowNotification) error {
	var ok bool
	return t.run(ctx, chromedp.Evaluate(toastExpr(n.Message, n.Success), &ok))
}

// Watch reports document changes and save activations pushed by the probe.
// Both channels close when ctx ends or the tab goes away. A tab has one
// watcher.
func (t *Tab) Watch(ctx context.Context) (changes, activations <-chan struct{}) {
	ch := make(chan struct{}, 1)
	act := make(chan struct{}, 1)
	go route(ctx, t.ctx.Done(), t.events, ch, act, t.log)
	return ch, act
}

func route(ctx context.Context, closed <-chan struct{}, events <-chan string, changes, activations chan<- struct{}, log *zap.Logger) {
	defer close(changes)
	defer close(activations)

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case ev := <-events:
			switch ev {
			case eventChange:
				signal(changes)
			case eventActivate:
				signal(activations)
			default:
				log.Debug("unknown probe event", zap.String("event", ev))
			}
		}
	}
}

// signal sends without blocking; a pending signal already covers this one
func signal(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
