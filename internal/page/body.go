package page

import (
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Body containers in priority order.
var bodySelectors = []string{
	`[class*="break-words"]`,
	`[class*="commentary"]`,
	`[class*="feed-shared-text"]`,
	`[class*="update-components-text"]`,
	`span[dir="ltr"]`,
}

// minBlockLength is the shortest generic block taken when no body container matched.
const minBlockLength = 60

// ExtractBody returns the post text of region without comments, menus,
// overlays or injected controls.
func ExtractBody(s *Snapshot, region *html.Node) string {
	sel := s.Doc.FindNodes(region)

	best := ""
	for _, q := range bodySelectors {
		sel.Find(q).Each(func(_ int, c *goquery.Selection) {
			n := c.Get(0)
			if insideExcluded(n, region, excluded) {
				return
			}
			if text := cleanText(n); len(text) > len(best) {
				best = text
			}
		})
	}
	if best != "" {
		return best
	}

	sel.Find("div, p, span").Each(func(_ int, c *goquery.Selection) {
		n := c.Get(0)
		if insideExcluded(n, region, excluded) {
			return
		}
		if text := cleanText(n); len(text) >= minBlockLength && len(text) > len(best) {
			best = text
		}
	})
	return best
}
