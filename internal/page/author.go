package page

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/pbaille/postkeep/internal/domain"
)

const (
	actorSelector = `[class*="feed-shared-actor"], [class*="update-components-actor"], ` +
		`[class*="feed-shared-header"], [class*="update-components-header"]`
	profileLinkSelector = `a[href*="/in/"], a[href*="/company/"]`
)

// Lines around a link that describe an activity rather than authorship.
var authorNoise = regexp.MustCompile(`(?i)(commented on this|reposted this|likes? this|liked this|celebrates? this|` +
	`supports? this|loves? this|finds? this|follows?\b|view profile|see more|^home$|my network|^jobs$|messaging|notifications)`)

// Author is a scored author candidate.
type Author struct {
	Name  string
	URL   string
	Score float64
}

// ExtractAuthor picks the most plausible author link inside region.
func ExtractAuthor(s *Snapshot, region *html.Node) Author {
	sel := s.Doc.FindNodes(region)
	var best Author
	seen := make(map[*html.Node]bool)

	consider := func(i int, link *html.Node, profile, inActor bool) {
		if seen[link] {
			return
		}
		seen[link] = true

		name := authorName(link)
		if name == "" || authorNoise.MatchString(name) {
			return
		}

		score := 0.0
		if profile {
			score += 10
		} else {
			score += 2
		}
		if inActor {
			score += 20
		}
		// earlier links are more likely the header
		score += 1 / float64(1+i)
		if insideExcluded(link, region, isComment) {
			score -= 50
		}
		if line := surroundingLine(link, region, name); line != "" && authorNoise.MatchString(line) {
			score -= 30
		}

		if best.Name == "" || score > best.Score {
			best = Author{Name: name, URL: s.profileURL(attr(link, "href")), Score: score}
		}
	}

	actors := sel.Find(actorSelector)
	actors.Find("a[href]").Each(func(i int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		consider(i, a.Get(0), isProfileHref(href), true)
	})
	sel.Find(profileLinkSelector).Each(func(i int, a *goquery.Selection) {
		inActor := actors.Length() > 0 && actors.Contains(a.Get(0))
		consider(i, a.Get(0), true, inActor)
	})

	if best.Name == "" {
		return Author{Name: domain.UnknownAuthor}
	}
	return best
}

// authorName is the first line of the link text, cut at the connection-degree bullet.
func authorName(link *html.Node) string {
	text := cleanText(link)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if i := strings.Index(text, "•"); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if n := len([]rune(text)); n < 1 || n > 99 {
		return ""
	}
	return text
}

// surroundingLine is the rendered line holding name in the closest block
// ancestor of link.
func surroundingLine(link, region *html.Node, name string) string {
	for p := link.Parent; p != nil && p != region; p = p.Parent {
		if p.Type != html.ElementNode || !blockTags[p.Data] {
			continue
		}
		for _, line := range strings.Split(cleanText(p), "\n") {
			if strings.Contains(line, name) {
				return line
			}
		}
		return ""
	}
	return ""
}

func isProfileHref(href string) bool {
	return strings.Contains(href, "/in/") || strings.Contains(href, "/company/")
}

// profileURL resolves href and drops tracking query parameters.
func (s *Snapshot) profileURL(href string) string {
	abs := s.resolveURL(href)
	u, err := url.Parse(abs)
	if err != nil || abs == "" {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
