package page

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pbaille/postkeep/internal/domain"
)

const feedURL = "https://www.linkedin.com/feed/"

func loadFeed(t *testing.T) *Snapshot {
	t.Helper()
	f, err := os.Open("testdata/feed.html")
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()

	s, err := Parse(feedURL, f)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func parseString(t *testing.T, src string) *Snapshot {
	t.Helper()
	s, err := Parse(feedURL, strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func TestParseGeometry(t *testing.T) {
	s := parseString(t, `<html data-pk-viewport="0,100,1280,720" data-pk-pointer="40,300">
<body><div id="x" data-pk-rect="10,20,30,40" data-pk-target="1700000000000">x</div>
<div data-pk-target="1600000000000">older</div></body></html>`)

	want := Rect{X: 0, Y: 100, W: 1280, H: 720}
	if s.Viewport != want {
		t.Errorf("viewport = %+v, want %+v", s.Viewport, want)
	}
	if s.Pointer == nil || *s.Pointer != (Point{X: 40, Y: 300}) {
		t.Errorf("pointer = %+v", s.Pointer)
	}
	if attr(s.Target, "id") != "x" {
		t.Errorf("target = %v, want the most recent stamp", s.Target)
	}
	if !s.TargetAt.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("targetAt = %v", s.TargetAt)
	}
	box, ok := Box(s.Target)
	if !ok || box != (Rect{X: 10, Y: 20, W: 30, H: 40}) {
		t.Errorf("box = %+v, %v", box, ok)
	}
	if got := FormatRect(box); got != "10,20,30,40" {
		t.Errorf("FormatRect = %q", got)
	}
}

func TestResolveMostVisible(t *testing.T) {
	s := loadFeed(t)
	r := Resolve(s, Hint{Kind: HintVisible}, s.CapturedAt)
	if r == nil {
		t.Fatal("no region resolved")
	}

	post := Extract(s, r)
	if post.AuthorName != "Alice Martin" {
		t.Errorf("author = %q, want Alice Martin (not the resharer)", post.AuthorName)
	}
	if post.AuthorURL != "https://www.linkedin.com/in/alice-martin" {
		t.Errorf("author url = %q", post.AuthorURL)
	}
	if post.Permalink != "https://www.linkedin.com/feed/update/urn:li:ugcPost:7300000000000000222/" || !post.PermalinkCanonical {
		t.Errorf("permalink = %q canonical=%v", post.Permalink, post.PermalinkCanonical)
	}

	wantBody := "Shipping is a habit, not an event.\n" +
		"We moved from quarterly releases to daily deploys and the team got calmer, not busier. " +
		"Small batches make every mistake cheap to undo."
	if post.BodyText != wantBody {
		t.Errorf("body = %q\nwant %q", post.BodyText, wantBody)
	}
	if post.Timestamp != "3 hours ago" {
		t.Errorf("timestamp = %q", post.Timestamp)
	}
	want := domain.Engagement{Likes: 1200, Comments: 34, Reposts: 5}
	if post.Engagement != want {
		t.Errorf("engagement = %+v, want %+v", post.Engagement, want)
	}
}

func TestResolveRecentInteractionWins(t *testing.T) {
	s := loadFeed(t)
	now := time.Now()
	target := s.Doc.Find("#a-body").Get(0)

	r := Resolve(s, Hint{Kind: HintNode, Node: target, At: now.Add(-2 * time.Second)}, now)
	if r == nil || attr(r.Node, "id") != "post-a" {
		t.Fatalf("resolved %v, want post-a", r)
	}

	post := Extract(s, r)
	if post.AuthorName != "Jane Doe" {
		t.Errorf("author = %q", post.AuthorName)
	}
	if !strings.HasPrefix(post.BodyText, "Three lessons from migrating") || strings.Contains(post.BodyText, "see more") {
		t.Errorf("body = %q", post.BodyText)
	}
	if strings.Count(post.BodyText, "\n") != 3 {
		t.Errorf("line breaks not preserved: %q", post.BodyText)
	}
	if post.Timestamp != "2025-02-28T09:30:00Z" {
		t.Errorf("timestamp = %q", post.Timestamp)
	}
	if post.Engagement != (domain.Engagement{Likes: 87, Comments: 12}) {
		t.Errorf("engagement = %+v", post.Engagement)
	}
}

func TestResolveStaleInteractionFallsBackToVisibility(t *testing.T) {
	s := loadFeed(t)
	now := time.Now()
	target := s.Doc.Find("#a-comment-btn").Get(0)

	r := Resolve(s, Hint{Kind: HintNode, Node: target, At: now.Add(-10 * time.Minute)}, now)
	if r == nil {
		t.Fatal("no region resolved")
	}
	if link, _ := ExtractPermalink(s, r.Node); !strings.Contains(link, "ugcPost:7300000000000000222") {
		t.Errorf("resolved %s, want the visible post", link)
	}
}

func TestResolvePointer(t *testing.T) {
	s := loadFeed(t)
	r := Resolve(s, Hint{Kind: HintPointer, Point: Point{X: 300, Y: 1500}}, s.CapturedAt)
	if r == nil || attr(r.Node, "id") != "post-c" {
		t.Fatalf("resolved %v, want post-c", r)
	}

	post := Extract(s, r)
	if post.AuthorName != "Acme Robotics" {
		t.Errorf("author = %q", post.AuthorName)
	}
	if post.Permalink != feedURL || post.PermalinkCanonical {
		t.Errorf("permalink = %q canonical=%v, want page url", post.Permalink, post.PermalinkCanonical)
	}
	if post.Engagement.Likes != 7 {
		t.Errorf("likes = %d, want 7 (not borrowed from neighbours)", post.Engagement.Likes)
	}
}

func TestResolveNoUsableText(t *testing.T) {
	s := parseString(t, `<html><body>
<div class="feed-shared-update-v2" data-urn="urn:li:activity:1"><a href="/in/x">X</a><span class="break-words">hi</span></div>
</body></html>`)
	if r := Resolve(s, Hint{Kind: HintVisible}, time.Now()); r != nil {
		t.Errorf("resolved %v from a post without text", r)
	}
	if _, err := ExtractActive(s, Hint{Kind: HintVisible}, time.Now()); !errors.Is(err, domain.ErrExtraction) {
		t.Errorf("err = %v, want ErrExtraction", err)
	}
}

func TestResolvePrefersAuthoredPost(t *testing.T) {
	s := parseString(t, `<html><body>
<div id="anon" class="feed-shared-update-v2"><span class="break-words">A reasonably long anonymous update text.</span></div>
<div id="named" class="feed-shared-update-v2"><a href="/in/ann">Ann</a><span class="break-words">A reasonably long anonymous update text.</span></div>
</body></html>`)
	r := Resolve(s, Hint{Kind: HintVisible}, time.Now())
	if r == nil || attr(r.Node, "id") != "named" {
		t.Fatalf("resolved %v, want named", r)
	}
}

func TestRegions(t *testing.T) {
	s := loadFeed(t)
	regions := Regions(s)
	if len(regions) != 3 {
		t.Fatalf("got %d regions, want 3", len(regions))
	}
	ids := []string{attr(regions[0].Node, "id"), attr(regions[1].Node, "id"), attr(regions[2].Node, "id")}
	if ids[0] != "post-a" || ids[1] != "post-b-outer" || ids[2] != "post-c" {
		t.Errorf("regions = %v", ids)
	}
}

func TestExtractMedia(t *testing.T) {
	s := loadFeed(t)

	b := s.Doc.Find("#post-b").Get(0)
	media := ExtractMedia(s, b)
	if len(media) != 2 {
		t.Fatalf("media = %+v, want 2 images", media)
	}
	if media[0].URL != "https://media.licdn.com/dms/image/release-chart.jpg" || media[0].AltText != "Release cadence chart" {
		t.Errorf("first image = %+v", media[0])
	}
	if media[1].URL != "https://media.licdn.com/dms/image/team-photo.jpg" {
		t.Errorf("content-marked image missing: %+v", media[1])
	}

	a := s.Doc.Find("#post-a").Get(0)
	media = ExtractMedia(s, a)
	if len(media) != 1 || !strings.HasSuffix(media[0].URL, "diagram-a.png") {
		t.Errorf("post-a media = %+v", media)
	}
}

func TestExtractMediaRules(t *testing.T) {
	tests := []struct {
		name string
		img  string
		want bool
	}{
		{"large", `<img src="https://cdn.example/a.jpg" data-pk-rect="0,0,400,300">`, true},
		{"intrinsic only", `<img src="https://cdn.example/a.jpg" data-pk-natural="800,600">`, true},
		{"size attrs", `<img src="https://cdn.example/a.jpg" width="120" height="120">`, true},
		{"icon", `<img src="https://cdn.example/a.jpg" data-pk-rect="0,0,24,24">`, false},
		{"no size", `<img src="https://cdn.example/a.jpg">`, false},
		{"content marker", `<img class="feed-shared-image__image" src="https://cdn.example/a.jpg">`, true},
		{"data uri", `<img src="data:image/png;base64,AAAA" data-pk-rect="0,0,400,300">`, false},
		{"lazy source", `<img src="data:image/gif;base64,R0l" data-delayed-url="https://cdn.example/a.jpg" data-pk-rect="0,0,400,300">`, true},
		{"profile link", `<a href="/in/someone"><img src="https://cdn.example/a.jpg" data-pk-rect="0,0,400,300"></a>`, false},
		{"post link", `<a href="/feed/update/urn:li:activity:1/"><img src="https://cdn.example/a.jpg" data-pk-rect="0,0,400,300"></a>`, true},
		{"avatar", `<div class="ivm-image-view-model EntityPhoto-circle-4"><img src="https://cdn.example/a.jpg" data-pk-rect="0,0,400,300"></div>`, false},
		{"comment", `<div class="comments-comment-item"><img src="https://cdn.example/a.jpg" data-pk-rect="0,0,400,300"></div>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := parseString(t, `<html><body><div id="r">`+tt.img+`</div></body></html>`)
			got := ExtractMedia(s, s.Doc.Find("#r").Get(0))
			if (len(got) == 1) != tt.want {
				t.Errorf("media = %+v, want accepted=%v", got, tt.want)
			}
		})
	}
}

func TestExtractMediaLastResort(t *testing.T) {
	stray := `<img src="https://cdn.example/stray.jpg" data-pk-rect="0,600,400,300">`
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			"containers win",
			`<div class="update-components-image"><img src="https://cdn.example/chart.jpg" data-pk-rect="0,0,400,300"></div>` + stray,
			[]string{"https://cdn.example/chart.jpg"},
		},
		{
			"carousel counts as a container",
			`<ul class="carousel-track"><li><img src="https://cdn.example/slide.jpg" data-pk-rect="0,0,400,300"></li></ul>` + stray,
			[]string{"https://cdn.example/slide.jpg"},
		},
		{"bare region", stray, []string{"https://cdn.example/stray.jpg"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := parseString(t, `<html><body><div id="r">`+tt.body+`</div></body></html>`)
			got := ExtractMedia(s, s.Doc.Find("#r").Get(0))
			if len(got) != len(tt.want) {
				t.Fatalf("media = %+v, want %v", got, tt.want)
			}
			for i, u := range tt.want {
				if got[i].URL != u {
					t.Errorf("media[%d] = %s, want %s", i, got[i].URL, u)
				}
			}
		})
	}
}

func TestParseCount(t *testing.T) {
	tests := map[string]int{
		"12":     12,
		"1,234":  1234,
		"1.2K":   1200,
		"3k":     3000,
		"1.5M":   1500000,
		"  42  ": 42,
		"7.":     7,
		"":       0,
		"x":      0,
	}
	for in, want := range tests {
		if got := ParseCount(in); got != want {
			t.Errorf("ParseCount(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestCleanTextExcludesNoise(t *testing.T) {
	s := parseString(t, `<html><body><div id="r">
<p>First   line
continues</p>
<div class="artdeco-dropdown__content">Report post</div>
<button>Save</button>
<span data-pk-injected="true">Save to postkeep</span>
<p>Second<br>Third</p>
<script>ignored()</script>
</div></body></html>`)
	got := cleanText(s.Doc.Find("#r").Get(0))
	want := "First line continues\nSecond\nThird"
	if got != want {
		t.Errorf("cleanText = %q, want %q", got, want)
	}
}

func TestAuthorDefaults(t *testing.T) {
	s := parseString(t, `<html><body><div id="r"><span class="break-words">Text without any author link in it at all.</span></div></body></html>`)
	a := ExtractAuthor(s, s.Doc.Find("#r").Get(0))
	if a.Name != domain.UnknownAuthor {
		t.Errorf("author = %q", a.Name)
	}
}

func TestHintFor(t *testing.T) {
	now := time.Now()
	s := parseString(t, `<html data-pk-pointer="5,5"><body><p>x</p></body></html>`)
	if h := HintFor(s, now, time.Minute); h.Kind != HintPointer {
		t.Errorf("kind = %v, want pointer", h.Kind)
	}

	s.Target = s.Doc.Find("p").Get(0)
	s.TargetAt = now.Add(-10 * time.Second)
	if h := HintFor(s, now, time.Minute); h.Kind != HintNode {
		t.Errorf("kind = %v, want node", h.Kind)
	}

	s.TargetAt = now.Add(-time.Hour)
	s.Pointer = nil
	if h := HintFor(s, now, time.Minute); h.Kind != HintVisible {
		t.Errorf("kind = %v, want visible", h.Kind)
	}
}
