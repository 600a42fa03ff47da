package page

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/pbaille/postkeep/internal/domain"
)

const socialSelector = `[class*="social-details"], [class*="social-counts"]`

var countPattern = regexp.MustCompile(`(?i)(\d[\d,.]*\s*[KkMm]?)\s*(reaction|like|comment|repost|share)s?`)

// maxSocialWalk bounds how far above the region the social bar is searched.
const maxSocialWalk = 5

// ExtractEngagement reads like, comment and repost counters near region.
// The largest value seen per category wins.
func ExtractEngagement(s *Snapshot, region *html.Node) domain.Engagement {
	root := socialRoot(s, region)
	var e domain.Engagement

	record := func(text string) {
		for _, m := range countPattern.FindAllStringSubmatch(text, -1) {
			n := ParseCount(m[1])
			switch strings.ToLower(m[2]) {
			case "reaction", "like":
				e.Likes = max(e.Likes, n)
			case "comment":
				e.Comments = max(e.Comments, n)
			case "repost", "share":
				e.Reposts = max(e.Reposts, n)
			}
		}
	}

	sel := s.Doc.FindNodes(root)
	sel.Find("[aria-label]").Each(func(_ int, c *goquery.Selection) {
		if insideExcluded(c.Get(0), root, isCommentItem) {
			return
		}
		v, _ := c.Attr("aria-label")
		record(v)
	})
	sel.Find("button, span, a, li, div").Each(func(_ int, c *goquery.Selection) {
		n := c.Get(0)
		if c.Children().Length() > 2 || insideExcluded(n, root, isCommentItem) {
			return
		}
		if text := socialText(n); len(text) < 200 {
			record(text)
		}
	})
	return e
}

// socialRoot returns region when it holds the social bar, else the closest
// ancestor within maxSocialWalk levels holding exactly one. An ancestor with
// several bars spans other posts and is not used.
func socialRoot(s *Snapshot, region *html.Node) *html.Node {
	if s.Doc.FindNodes(region).Find(socialSelector).Length() > 0 {
		return region
	}
	p := region.Parent
	for i := 0; i < maxSocialWalk && p != nil && p.Type == html.ElementNode; i++ {
		if p.Data == "body" {
			break
		}
		switch n := s.Doc.FindNodes(p).Find(socialSelector).Length(); {
		case n == 1:
			return p
		case n > 1:
			return region
		}
		p = p.Parent
	}
	return region
}

// socialText is the collapsed text of n without comment threads.
func socialText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
			return
		case html.ElementNode:
			if isCommentItem(n) || n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// ParseCount reads "1,234", "1.2K" or "3M" style counters.
func ParseCount(raw string) int {
	t := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	mult := 1.0
	switch {
	case strings.HasSuffix(t, "K"):
		mult, t = 1e3, strings.TrimSuffix(t, "K")
	case strings.HasSuffix(t, "M"):
		mult, t = 1e6, strings.TrimSuffix(t, "M")
	}
	t = strings.ReplaceAll(t, ",", "")
	t = strings.TrimRight(t, ".")
	f, err := strconv.ParseFloat(t, 64)
	if err != nil || f < 0 {
		return 0
	}
	return int(f*mult + 0.5)
}
