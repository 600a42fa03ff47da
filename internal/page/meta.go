package page

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const permalinkBase = "https://www.linkedin.com/feed/update/"

var (
	contentURN   = regexp.MustCompile(`urn:li:(activity|ugcPost|share):(\d+)`)
	relativeTime = regexp.MustCompile(`\b\d+\s*(?:s|m|h|d|w|mo|yr|y)\b`)
)

// ExtractTimestamp returns the region's publication time as shown.
func ExtractTimestamp(s *Snapshot, region *html.Node) string {
	sel := s.Doc.FindNodes(region)
	notComment := func(c *goquery.Selection) bool {
		return !insideExcluded(c.Get(0), region, isComment)
	}

	var ts string
	sel.Find("time").EachWithBreak(func(_ int, t *goquery.Selection) bool {
		if !notComment(t) {
			return true
		}
		if v, ok := t.Attr("datetime"); ok && strings.TrimSpace(v) != "" {
			ts = strings.TrimSpace(v)
			return false
		}
		if text := plainText(t.Get(0)); text != "" {
			ts = text
			return false
		}
		return true
	})
	if ts != "" {
		return ts
	}

	sel.Find(`[class*="sub-description"]`).EachWithBreak(func(_ int, d *goquery.Selection) bool {
		if !notComment(d) {
			return true
		}
		if hidden := d.Find(".visually-hidden").First(); hidden.Length() > 0 {
			if text := plainText(hidden.Get(0)); text != "" {
				ts = text
				return false
			}
		}
		if m := relativeTime.FindString(plainText(d.Get(0))); m != "" {
			ts = m
			return false
		}
		return true
	})
	return ts
}

// ExtractPermalink returns the canonical post URL when a stable content
// identifier is present, else the page URL. canonical reports which.
func ExtractPermalink(s *Snapshot, region *html.Node) (link string, canonical bool) {
	for _, key := range []string{"data-urn", "data-id"} {
		if u := urnPermalink(attr(region, key)); u != "" {
			return u, true
		}
	}

	sel := s.Doc.FindNodes(region)
	sel.Find(`[data-urn], [data-id]`).EachWithBreak(func(_ int, c *goquery.Selection) bool {
		n := c.Get(0)
		if insideExcluded(n, region, isComment) {
			return true
		}
		for _, key := range []string{"data-urn", "data-id"} {
			if u := urnPermalink(attr(n, key)); u != "" {
				link = u
				return false
			}
		}
		return true
	})
	if link != "" {
		return link, true
	}

	sel.Find(`a[href*="/feed/update/"], a[href*="/posts/"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if insideExcluded(a.Get(0), region, isComment) {
			return true
		}
		href, _ := a.Attr("href")
		link = stripQuery(s.resolveURL(href))
		return link == ""
	})
	if link != "" {
		return link, true
	}

	return s.URL, IsPostURL(s.URL)
}

// IsPostURL reports whether u addresses a single post.
func IsPostURL(u string) bool {
	return strings.Contains(u, "/feed/update/") || strings.Contains(u, "/posts/")
}

func urnPermalink(v string) string {
	m := contentURN.FindStringSubmatch(v)
	if m == nil {
		return ""
	}
	return permalinkBase + "urn:li:" + m[1] + ":" + m[2] + "/"
}

func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
