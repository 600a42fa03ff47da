package page

import (
	"math"
	"sort"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/pbaille/postkeep/internal/domain"
)

// Candidate sources.
const (
	identitySelector = `[data-urn*="urn:li:activity"], [data-urn*="urn:li:ugcPost"], [data-urn*="urn:li:share"], ` +
		`[data-id*="urn:li:activity"], [data-id*="urn:li:ugcPost"]`
	structuralSelector = `.feed-shared-update-v2, .occludable-update, [class*="feed-shared-update-v2"]`
	timestampSelector  = `time, [class*="actor__sub-description"], [class*="sub-description"]`
	controlsSelector   = `[class*="social-action"], [class*="social-details"], [class*="social-counts"], ` +
		`button[aria-label*="Like"], button[aria-label*="like"], button[aria-label*="React"]`
)

// maxWalkUp bounds the climb from a timestamp to its post container.
const maxWalkUp = 12

// Scoring weights.
const (
	weightText       = 40.0
	textSaturation   = 600.0
	weightAuthor     = 15.0
	weightVisible    = 20.0
	weightCentered   = 10.0
	weightPointer    = 50.0
	pointerFalloff   = 250.0
	weightContains   = 60.0
	weightInnermost  = 20.0
	interactionDecay = 20 * time.Second
)

// HintKind says which user signal drives resolution.
type HintKind int

const (
	// HintVisible picks the most visible post.
	HintVisible HintKind = iota
	// HintNode picks the post around a node the user interacted with.
	HintNode
	// HintPointer picks the post nearest a pointer position.
	HintPointer
)

// Hint carries the user signal for Resolve.
type Hint struct {
	Kind  HintKind
	Node  *html.Node
	At    time.Time
	Point Point
}

// Region is a scored candidate post container.
type Region struct {
	Node   *html.Node
	Score  float64
	Author Author
	Body   string
	order  int
}

// Resolve returns the region the user most plausibly means, or nil when no
// candidate yields usable text.
func Resolve(s *Snapshot, h Hint, now time.Time) *Region {
	regions := scoreCandidates(s, h, now)
	if len(regions) == 0 {
		return nil
	}
	sort.SliceStable(regions, func(i, j int) bool {
		a, b := regions[i], regions[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		aAuthor := a.Author.Name != domain.UnknownAuthor
		bAuthor := b.Author.Name != domain.UnknownAuthor
		if aAuthor != bAuthor {
			return aAuthor
		}
		return a.order < b.order
	})
	r := regions[0]
	return &r
}

// Regions lists every usable post region in document order, one per permalink.
func Regions(s *Snapshot) []Region {
	regions := scoreCandidates(s, Hint{Kind: HintVisible}, s.CapturedAt)
	sort.SliceStable(regions, func(i, j int) bool { return regions[i].order < regions[j].order })

	out := regions[:0]
	seen := make(map[string]bool)
	for _, r := range regions {
		link, canonical := ExtractPermalink(s, r.Node)
		key := link
		if !canonical {
			key = r.Body
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func scoreCandidates(s *Snapshot, h Hint, now time.Time) []Region {
	nodes := candidates(s, h)
	order := documentOrder(s)

	var innermost *html.Node
	if h.Kind == HintNode && h.Node != nil {
		depth := -1
		for _, n := range nodes {
			if isAncestor(n, h.Node) {
				if d := nodeDepth(n); d > depth {
					depth, innermost = d, n
				}
			}
		}
	}

	var regions []Region
	for _, n := range nodes {
		body := ExtractBody(s, n)
		if len([]rune(body)) < domain.MinBodyLength {
			continue
		}
		author := ExtractAuthor(s, n)

		score := weightText * math.Min(float64(len([]rune(body))), textSaturation) / textSaturation
		if author.Name != domain.UnknownAuthor {
			score += weightAuthor
		}
		score += visibilityScore(s, n)
		score += hintScore(s, h, n, innermost, now)

		regions = append(regions, Region{Node: n, Score: score, Author: author, Body: body, order: order[n]})
	}
	return regions
}

// candidates gathers containers from independent signals, deduplicated.
func candidates(s *Snapshot, h Hint) []*html.Node {
	var out []*html.Node
	seen := make(map[*html.Node]bool)
	add := func(n *html.Node) {
		if n == nil || seen[n] || n.Type != html.ElementNode || n.Data == "body" || n.Data == "html" {
			return
		}
		if insideExcluded(n, nil, isComment) {
			return
		}
		seen[n] = true
		out = append(out, n)
	}

	s.Doc.Find(identitySelector).Each(func(_ int, c *goquery.Selection) { add(c.Get(0)) })
	s.Doc.Find(structuralSelector).Each(func(_ int, c *goquery.Selection) { add(c.Get(0)) })
	s.Doc.Find(timestampSelector).Each(func(_ int, c *goquery.Selection) {
		if insideExcluded(c.Get(0), nil, isComment) {
			return
		}
		add(walkToControls(s, c.Get(0)))
	})
	if h.Kind == HintNode && h.Node != nil {
		add(walkToControls(s, h.Node))
	}
	return out
}

// walkToControls climbs from n to the nearest ancestor holding engagement controls.
func walkToControls(s *Snapshot, n *html.Node) *html.Node {
	p := n.Parent
	for i := 0; i < maxWalkUp && p != nil && p.Type == html.ElementNode; i++ {
		if p.Data == "body" {
			return nil
		}
		if s.Doc.FindNodes(p).Find(controlsSelector).Length() > 0 {
			return p
		}
		p = p.Parent
	}
	return nil
}

// visibilityScore rewards boxes inside the viewport and near its middle.
func visibilityScore(s *Snapshot, n *html.Node) float64 {
	box, ok := Box(n)
	if !ok || box.Empty() || s.Viewport.Empty() {
		return 0
	}
	inter := box.Intersect(s.Viewport)
	if inter.Empty() {
		return 0
	}
	// a post taller than the viewport counts as fully visible when it fills it
	visible := math.Min(1, inter.H/math.Min(box.H, s.Viewport.H)) * math.Min(1, inter.W/math.Min(box.W, s.Viewport.W))

	center := inter.Y + inter.H/2
	vCenter := s.Viewport.Y + s.Viewport.H/2
	centered := math.Max(0, 1-math.Abs(center-vCenter)/(s.Viewport.H/2))

	return weightVisible*visible + weightCentered*centered
}

func hintScore(s *Snapshot, h Hint, n, innermost *html.Node, now time.Time) float64 {
	switch h.Kind {
	case HintNode:
		if h.Node == nil || !isAncestor(n, h.Node) {
			return 0
		}
		decay := 1.0
		if !h.At.IsZero() {
			age := now.Sub(h.At)
			if age < 0 {
				age = 0
			}
			decay = math.Exp(-float64(age) / float64(interactionDecay))
		}
		score := weightContains
		if n == innermost {
			score += weightInnermost
		}
		return score * decay

	case HintPointer:
		box, ok := Box(n)
		if !ok || box.Empty() {
			return 0
		}
		if box.Contains(h.Point) {
			return weightPointer
		}
		return weightPointer * math.Max(0, 1-box.Distance(h.Point)/pointerFalloff)
	}
	return 0
}

func documentOrder(s *Snapshot) map[*html.Node]int {
	order := make(map[*html.Node]int)
	i := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			order[n] = i
			i++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, root := range s.Doc.Nodes {
		walk(root)
	}
	return order
}

func nodeDepth(n *html.Node) int {
	d := 0
	for p := n.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}
