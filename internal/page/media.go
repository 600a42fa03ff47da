package page

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/pbaille/postkeep/internal/domain"
)

// Image acceptance rules.
const (
	minMediaSide = 100
	maxMedia     = 10
)

var (
	mediaContainerSelector = `[class*="update-components-image"], [class*="feed-shared-image"], ` +
		`[class*="update-components-article"], [class*="feed-shared-article"], ` +
		`[class*="update-components-linkedin-video"], [class*="feed-shared-linkedin-video"]`
	carouselSelector = `[class*="carousel"], [class*="multi-image"], [class*="update-components-document"]`

	contentMarkers    = []string{"update-components-image__image", "feed-shared-image__image"}
	avatarMarkers     = []string{"avatar", "EntityPhoto", "presence-entity", "profile-photo", "actor__image", "ghost-person"}
	decorativeURLBits = []string{"profile-displayphoto", "company-logo", "/static/", "data:image/svg"}
)

// ExtractMedia lists images attached to the post in region. Media and
// carousel containers are searched first; every img of the region is only
// considered when they yield nothing. Content-marked images are always
// taken; others must pass the size gate and sit outside avatars and
// profile links.
func ExtractMedia(s *Snapshot, region *html.Node) []domain.MediaRef {
	sel := s.Doc.FindNodes(region)
	var refs []domain.MediaRef
	seen := make(map[string]bool)

	collect := func(imgs *goquery.Selection) {
		imgs.Each(func(_ int, img *goquery.Selection) {
			if len(refs) >= maxMedia {
				return
			}
			n := img.Get(0)
			src := imageSource(n)
			if src == "" || seen[src] {
				return
			}
			if !acceptImage(n, region, src) {
				return
			}
			seen[src] = true
			refs = append(refs, domain.MediaRef{URL: s.resolveURL(src), AltText: strings.TrimSpace(attr(n, "alt"))})
		})
	}

	collect(sel.Find(mediaContainerSelector).Find("img"))
	collect(sel.Find(carouselSelector).Find("img"))
	if len(refs) == 0 {
		// last resort: any large image in the region
		collect(sel.Find("img"))
	}
	return refs
}

// imageSource prefers the loaded source over lazy-load placeholders.
func imageSource(n *html.Node) string {
	for _, key := range []string{"src", "data-delayed-url", "data-src"} {
		v := strings.TrimSpace(attr(n, key))
		if v == "" || strings.HasPrefix(v, "data:") || strings.HasPrefix(v, "blob:") {
			continue
		}
		if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") || strings.HasPrefix(v, "//") {
			return v
		}
	}
	return ""
}

func acceptImage(n, region *html.Node, src string) bool {
	if insideExcluded(n, region, isComment) || insideExcluded(n, region, isInjected) {
		return false
	}
	if hasClassFragment(n, contentMarkers) {
		return true
	}
	for _, bit := range decorativeURLBits {
		if strings.Contains(src, bit) {
			return false
		}
	}
	if insideExcluded(n, region, func(p *html.Node) bool { return hasClassFragment(p, avatarMarkers) }) {
		return false
	}
	if insideExcluded(n, region, isProfileLinkWrapper) {
		return false
	}
	return largeEnough(n)
}

// isProfileLinkWrapper matches links to people or companies that are not
// themselves links to a post.
func isProfileLinkWrapper(n *html.Node) bool {
	if n.Data != "a" {
		return false
	}
	href := attr(n, "href")
	return isProfileHref(href) && !IsPostURL(href)
}

// largeEnough applies the size gate to the rendered box or the intrinsic size.
func largeEnough(n *html.Node) bool {
	if r, ok := Box(n); ok && r.W >= minMediaSide && r.H >= minMediaSide {
		return true
	}
	if w, h, ok := naturalSize(n); ok && w >= minMediaSide && h >= minMediaSide {
		return true
	}
	return false
}
