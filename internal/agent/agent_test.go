package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pbaille/postkeep/internal/bus"
	"github.com/pbaille/postkeep/internal/domain"
	"github.com/pbaille/postkeep/internal/media"
	"github.com/pbaille/postkeep/internal/page"
	"github.com/pbaille/postkeep/internal/protocol"
	"github.com/pbaille/postkeep/internal/ratelimit"
)

const feedURL = "https://www.linkedin.com/feed/"

const docTemplate = `<html data-pk-viewport="0,0,1200,800"><body>
<div class="feed-shared-update-v2" data-urn="urn:li:activity:111" data-pk-rect="0,0,600,500">
  <div class="update-components-actor"><a href="/in/jane-doe"><span class="update-components-actor__title">Jane Doe</span></a></div>
  <span class="break-words">Three lessons from migrating our payments stack to event sourcing.</span>
  <div class="social-details-social-counts"><span>%d reactions</span><span>2 comments</span></div>
  <button aria-label="React Like">Like</button>
</div>
<div class="feed-shared-update-v2" data-urn="urn:li:activity:222" data-pk-rect="0,2000,600,500">
  <div class="update-components-actor"><a href="/in/bob-stone"><span class="update-components-actor__title">Bob Stone</span></a></div>
  <span class="break-words">Shipping is a habit, not an event. Small batches make mistakes cheap.</span>
  <div class="social-details-social-counts"><span>%d reactions</span><span>4 comments</span></div>
  <button aria-label="React Like" %s>Like</button>
</div>
</body></html>`

// fakeDoc serves a mutable document and records notifications
type fakeDoc struct {
	mu        sync.Mutex
	url       string
	html      string
	snapshots int
	notes     []protocol.ShowNotification
}

func (d *fakeDoc) Snapshot(ctx context.Context) (*page.Snapshot, error) {
	d.mu.Lock()
	d.snapshots++
	url, src := d.url, d.html
	d.mu.Unlock()
	return page.Parse(url, strings.NewReader(src))
}

func (d *fakeDoc) Notify(ctx context.Context, n protocol.ShowNotification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notes = append(d.notes, n)
	return nil
}

func (d *fakeDoc) set(likesA, likesB int, target bool) {
	stamp := ""
	if target {
		stamp = fmt.Sprintf(`%s="%d"`, page.AttrTarget, time.Now().UnixMilli())
	}
	d.mu.Lock()
	d.html = fmt.Sprintf(docTemplate, likesA, likesB, stamp)
	d.mu.Unlock()
}

func (d *fakeDoc) snapshotCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshots
}

func (d *fakeDoc) lastNote() protocol.ShowNotification {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.notes) == 0 {
		return protocol.ShowNotification{}
	}
	return d.notes[len(d.notes)-1]
}

// fakeBackground records what pages send it
type fakeBackground struct {
	mu      sync.Mutex
	saves   []protocol.SavePost
	updates []protocol.UpdateEngagement
}

func (f *fakeBackground) handle(ctx context.Context, req *bus.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch m := req.Msg.(type) {
	case protocol.SavePost:
		f.saves = append(f.saves, m)
		req.Respond(protocol.SaveResult{Success: true, PostID: "p1", Message: "Saved post by " + m.Post.AuthorName}, nil)
	case protocol.UpdateEngagement:
		f.updates = append(f.updates, m)
		req.Respond(protocol.Ack{OK: true}, nil)
	}
}

func (f *fakeBackground) counts() (saves, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves), len(f.updates)
}

type stubGetter map[string]string

func (g stubGetter) Get(ctx context.Context, url string) (string, error) {
	if v, ok := g[url]; ok {
		return v, nil
	}
	return "", errors.New("status 403")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Guard = ratelimit.Config{Limit: 20, Window: time.Minute}
	cfg.Jitter = media.Jitter{}
	cfg.Debounce = 50 * time.Millisecond
	cfg.SaveTimeout = 5 * time.Second
	return cfg
}

// setup starts an agent and, when withBackground is set, a recording background
func setup(t *testing.T, cfg Config, withBackground bool) (*Agent, *fakeDoc, *fakeBackground, *bus.Bus, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b := bus.New(nil)
	bg := &fakeBackground{}
	if withBackground {
		if _, err := b.Register(ctx, protocol.Background, bg.handle); err != nil {
			t.Fatal(err)
		}
	}

	doc := &fakeDoc{url: feedURL}
	doc.set(87, 1200, true)
	getter := stubGetter{"https://media.licdn.com/a.jpg": "data:image/jpeg;base64," + strings.Repeat("A", 64)}
	a := New("1", doc, getter, b, cfg, nil)
	if _, err := a.Register(ctx); err != nil {
		t.Fatal(err)
	}
	return a, doc, bg, b, ctx
}

func TestExtractPost(t *testing.T) {
	_, _, _, b, ctx := setup(t, testConfig(), false)
	tests := []struct {
		mode       protocol.Mode
		wantAuthor string
		wantURL    string
	}{
		{protocol.ModeAuto, "Bob Stone", "https://www.linkedin.com/feed/update/urn:li:activity:222/"},
		{protocol.ModeVisible, "Jane Doe", "https://www.linkedin.com/feed/update/urn:li:activity:111/"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			got, err := bus.Call[protocol.PostExtracted](ctx, b, protocol.Popup, protocol.PageEndpoint("1"), protocol.ExtractPost{Mode: tt.mode})
			if err != nil {
				t.Fatal(err)
			}
			if got.Post.AuthorName != tt.wantAuthor || got.Post.Permalink != tt.wantURL {
				t.Errorf("post = %q %q", got.Post.AuthorName, got.Post.Permalink)
			}
		})
	}
}

func TestExtractPostNothingFound(t *testing.T) {
	_, doc, _, b, ctx := setup(t, testConfig(), false)
	doc.mu.Lock()
	doc.html = `<html><body><nav><a href="/jobs/">Jobs</a></nav></body></html>`
	doc.mu.Unlock()

	_, err := bus.Call[protocol.PostExtracted](ctx, b, protocol.Popup, protocol.PageEndpoint("1"), protocol.ExtractPost{})
	if !errors.Is(err, domain.ErrExtraction) {
		t.Errorf("err = %v", err)
	}
}

func TestFetchImages(t *testing.T) {
	_, _, _, b, ctx := setup(t, testConfig(), false)
	refs := []domain.MediaRef{
		{URL: "https://media.licdn.com/a.jpg", AltText: "chart"},
		{URL: "https://media.licdn.com/expired.jpg"},
	}
	got, err := bus.Call[protocol.ImagesFetched](ctx, b, protocol.Background, protocol.PageEndpoint("1"), protocol.FetchImages{Refs: refs})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Images) != 2 {
		t.Fatalf("images = %d", len(got.Images))
	}
	if got.Images[0].DataURI == "" || got.Images[0].MimeType != "image/jpeg" || got.Images[0].AltText != "chart" {
		t.Errorf("first = %+v", got.Images[0])
	}
	if got.Images[1].DataURI != "" || got.Images[1].URL != refs[1].URL {
		t.Errorf("failed download = %+v", got.Images[1])
	}
}

func TestUnsupportedMessage(t *testing.T) {
	_, _, _, b, ctx := setup(t, testConfig(), false)
	if _, err := b.Send(ctx, protocol.Background, protocol.PageEndpoint("1"), protocol.GetStatus{}); err == nil {
		t.Error("unsupported message accepted")
	}
}

func TestShowNotification(t *testing.T) {
	_, doc, _, b, ctx := setup(t, testConfig(), false)
	if err := b.Post(ctx, protocol.Background, protocol.PageEndpoint("1"), protocol.ShowNotification{Success: true, Message: "Saved"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for doc.lastNote().Message != "Saved" {
		if time.Now().After(deadline) {
			t.Fatal("notification not shown")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestActivateThenRescan(t *testing.T) {
	a, doc, bg, _, ctx := setup(t, testConfig(), true)

	res := a.Activate(ctx)
	if !res.Success || res.Message != "Saved post by Bob Stone" {
		t.Fatalf("result = %+v", res)
	}
	if n := doc.lastNote(); !n.Success || n.Message != res.Message {
		t.Errorf("notification = %+v", n)
	}
	bg.mu.Lock()
	save := bg.saves[0]
	bg.mu.Unlock()
	if save.Origin != a.Name() || save.Post.Engagement.Likes != 1200 {
		t.Errorf("save request = %+v", save)
	}

	// counters unchanged since the save
	if n := a.Rescan(ctx); n != 0 {
		t.Errorf("pushed %d with unchanged counters", n)
	}

	doc.set(90, 1300, false)
	if n := a.Rescan(ctx); n != 1 {
		t.Errorf("pushed %d, want only the saved post", n)
	}
	if n := a.Rescan(ctx); n != 0 {
		t.Errorf("pushed %d on repeat", n)
	}

	bg.mu.Lock()
	defer bg.mu.Unlock()
	if len(bg.updates) != 1 {
		t.Fatalf("updates = %+v", bg.updates)
	}
	u := bg.updates[0]
	if u.Permalink != "https://www.linkedin.com/feed/update/urn:li:activity:222/" || u.Engagement.Likes != 1300 {
		t.Errorf("update = %+v", u)
	}
}

func TestActivateWithoutCanonicalPermalink(t *testing.T) {
	a, doc, bg, _, ctx := setup(t, testConfig(), true)
	strip := func() {
		doc.mu.Lock()
		doc.html = strings.NewReplacer(
			` data-urn="urn:li:activity:111"`, "",
			` data-urn="urn:li:activity:222"`, "",
		).Replace(doc.html)
		doc.mu.Unlock()
	}
	strip()

	res := a.Activate(ctx)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if saves, _ := bg.counts(); saves != 1 {
		t.Fatalf("saves = %d", saves)
	}
	if got := bg.saves[0].Post; got.PermalinkCanonical || got.Permalink != feedURL {
		t.Fatalf("permalink = %q canonical=%v", got.Permalink, got.PermalinkCanonical)
	}
	a.mu.Lock()
	remembered := len(a.saved)
	a.mu.Unlock()
	if remembered != 0 {
		t.Errorf("page URL remembered as a saved post")
	}

	doc.set(90, 1300, false)
	strip()
	if n := a.Rescan(ctx); n != 0 {
		t.Errorf("rescan pushed %d updates for a page URL", n)
	}
	if _, updates := bg.counts(); updates != 0 {
		t.Errorf("updates = %d", updates)
	}
}

func TestActivateFailures(t *testing.T) {
	t.Run("rate limited", func(t *testing.T) {
		cfg := testConfig()
		cfg.Guard = ratelimit.Config{Limit: 1, Window: time.Minute}
		a, doc, bg, _, ctx := setup(t, cfg, true)

		a.Activate(ctx)
		res := a.Activate(ctx)
		if res.Success || res.Error != msgTooMany {
			t.Errorf("result = %+v", res)
		}
		if n := doc.lastNote(); n.Success || n.Message != msgTooMany {
			t.Errorf("notification = %+v", n)
		}
		if saves, _ := bg.counts(); saves != 1 {
			t.Errorf("saves = %d", saves)
		}
	})

	t.Run("background gone", func(t *testing.T) {
		a, _, _, _, ctx := setup(t, testConfig(), false)
		if res := a.Activate(ctx); res.Success || res.Error != msgUnavailable {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("no post", func(t *testing.T) {
		a, doc, bg, _, ctx := setup(t, testConfig(), true)
		doc.mu.Lock()
		doc.html = `<html><body><p>hi</p></body></html>`
		doc.mu.Unlock()
		if res := a.Activate(ctx); res.Error != msgNoPost {
			t.Errorf("result = %+v", res)
		}
		if saves, _ := bg.counts(); saves != 0 {
			t.Errorf("saves = %d", saves)
		}
	})
}

func TestRescanPostPage(t *testing.T) {
	a, doc, bg, _, ctx := setup(t, testConfig(), true)
	doc.mu.Lock()
	doc.url = "https://www.linkedin.com/feed/update/urn:li:activity:111/"
	doc.mu.Unlock()

	if n := a.Rescan(ctx); n != 1 {
		t.Errorf("pushed %d on a post page", n)
	}
	if _, updates := bg.counts(); updates != 1 {
		t.Errorf("updates = %d", updates)
	}
}

func TestObserveDebounces(t *testing.T) {
	a, doc, _, _, ctx := setup(t, testConfig(), true)
	changes := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() { done <- a.Observe(ctx, changes) }()

	waitFor := func(n int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for doc.snapshotCount() < n {
			if time.Now().After(deadline) {
				t.Fatalf("snapshots = %d, want %d", doc.snapshotCount(), n)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	for range 5 {
		changes <- struct{}{}
	}
	waitFor(1)
	time.Sleep(150 * time.Millisecond)
	if got := doc.snapshotCount(); got != 1 {
		t.Errorf("burst caused %d rescans", got)
	}

	changes <- struct{}{}
	waitFor(2)

	close(changes)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Observe = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Observe did not return")
	}
}
