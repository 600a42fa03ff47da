// Package page locates the post a user means inside a captured document and
// pulls its fields out.
//
// A document arrives as a Snapshot: parsed HTML plus the layout facts a live
// browser knows. The capture stamps them into the markup so a snapshot can be
// stored, replayed and tested without a browser:
//
//	<html data-pk-viewport="x,y,w,h" data-pk-pointer="x,y">
//	<div data-pk-rect="x,y,w,h">          element box in document coordinates
//	<img data-pk-natural="w,h">           intrinsic image size
//	<span data-pk-target="1700000000000"> last element the user interacted with (unix ms)
package page

import (
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
)

// Geometry attributes stamped by the capture.
const (
	AttrRect     = "data-pk-rect"
	AttrNatural  = "data-pk-natural"
	AttrViewport = "data-pk-viewport"
	AttrPointer  = "data-pk-pointer"
	AttrTarget   = "data-pk-target"
	AttrInjected = "data-pk-injected"
)

// Rect is a box in document coordinates.
type Rect struct {
	X, Y, W, H float64
}

// Empty reports whether the box has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Contains reports whether p lies inside the box.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// Intersect returns the overlap of two boxes.
func (r Rect) Intersect(o Rect) Rect {
	x0, y0 := math.Max(r.X, o.X), math.Max(r.Y, o.Y)
	x1, y1 := math.Min(r.X+r.W, o.X+o.W), math.Min(r.Y+r.H, o.Y+o.H)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Distance returns how far p is from the box, 0 when inside.
func (r Rect) Distance(p Point) float64 {
	dx := math.Max(0, math.Max(r.X-p.X, p.X-(r.X+r.W)))
	dy := math.Max(0, math.Max(r.Y-p.Y, p.Y-(r.Y+r.H)))
	return math.Hypot(dx, dy)
}

// Point is a position in document coordinates.
type Point struct {
	X, Y float64
}

// Snapshot is one capture of a document.
type Snapshot struct {
	URL        string
	Doc        *goquery.Document
	Viewport   Rect
	Pointer    *Point
	Target     *html.Node
	TargetAt   time.Time
	CapturedAt time.Time
}

// Parse reads a captured document. pageURL is the address it was loaded from.
func Parse(pageURL string, r io.Reader) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "parse document")
	}
	if u, err := url.Parse(pageURL); err == nil {
		doc.Url = u
	}

	s := &Snapshot{URL: pageURL, Doc: doc, CapturedAt: time.Now()}

	root := doc.Find("html").First()
	if v, ok := root.Attr(AttrViewport); ok {
		s.Viewport, _ = parseRect(v)
	}
	if v, ok := root.Attr(AttrPointer); ok {
		if p, ok := parsePoint(v); ok {
			s.Pointer = &p
		}
	}

	// the most recent stamp wins if several survived
	doc.Find("[" + AttrTarget + "]").Each(func(_ int, sel *goquery.Selection) {
		v, _ := sel.Attr(AttrTarget)
		ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return
		}
		at := time.UnixMilli(ms)
		if s.Target == nil || at.After(s.TargetAt) {
			s.Target = sel.Get(0)
			s.TargetAt = at
		}
	})

	return s, nil
}

// Box returns the stamped box of n.
func Box(n *html.Node) (Rect, bool) {
	v := attr(n, AttrRect)
	if v == "" {
		return Rect{}, false
	}
	return parseRect(v)
}

// naturalSize returns the intrinsic size stamped on an image, falling back to
// width/height attributes.
func naturalSize(n *html.Node) (w, h float64, ok bool) {
	if v := attr(n, AttrNatural); v != "" {
		if f := parseFloats(v, 2); f != nil {
			return f[0], f[1], true
		}
	}
	w, errW := strconv.ParseFloat(attr(n, "width"), 64)
	h, errH := strconv.ParseFloat(attr(n, "height"), 64)
	if errW == nil && errH == nil {
		return w, h, true
	}
	return 0, 0, false
}

func parseRect(v string) (Rect, bool) {
	f := parseFloats(v, 4)
	if f == nil {
		return Rect{}, false
	}
	return Rect{X: f[0], Y: f[1], W: f[2], H: f[3]}, true
}

func parsePoint(v string) (Point, bool) {
	f := parseFloats(v, 2)
	if f == nil {
		return Point{}, false
	}
	return Point{X: f[0], Y: f[1]}, true
}

func parseFloats(v string, n int) []float64 {
	parts := strings.Split(v, ",")
	if len(parts) != n {
		return nil
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		out[i] = f
	}
	return out
}

// FormatRect renders a box the way the capture stamps it.
func FormatRect(r Rect) string {
	return strconv.FormatFloat(r.X, 'f', -1, 64) + "," +
		strconv.FormatFloat(r.Y, 'f', -1, 64) + "," +
		strconv.FormatFloat(r.W, 'f', -1, 64) + "," +
		strconv.FormatFloat(r.H, 'f', -1, 64)
}

func attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// isAncestor reports whether a is n or one of its ancestors.
func isAncestor(a, n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n == a {
			return true
		}
	}
	return false
}

// resolveURL makes href absolute against the page URL.
func (s *Snapshot) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if s.Doc != nil && s.Doc.Url != nil {
		u = s.Doc.Url.ResolveReference(u)
	}
	return u.String()
}
