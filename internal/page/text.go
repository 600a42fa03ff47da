package page

import (
	"strings"

	"golang.org/x/net/html"
)

// Class fragments marking comment threads. The social activity wrapper holds
// comments too, so it counts for text but not for engagement.
var (
	commentItemMarkers = []string{"comments-comment", "comment-item", "comments-replies"}
	commentMarkers     = append(append([]string{}, commentItemMarkers...), "social-details-social-activity")
	overlayMarkers     = []string{"dropdown", "artdeco-toast", "overlay", "tooltip", "hoverable-link-text__popover"}
	overlayRoles       = map[string]bool{"menu": true, "dialog": true, "tooltip": true, "listbox": true}
	injectedMarkers    = []string{"rc-save-btn", "pk-save-btn"}
)

var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "svg": true,
	"template": true, "iframe": true, "button": true, "head": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true,
	"section": true, "article": true, "blockquote": true, "pre": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "footer": true, "tr": true, "figure": true, "figcaption": true,
}

func hasClassFragment(n *html.Node, frags []string) bool {
	class := attr(n, "class")
	if class == "" {
		return false
	}
	for _, f := range frags {
		if strings.Contains(class, f) {
			return true
		}
	}
	return false
}

func isComment(n *html.Node) bool     { return hasClassFragment(n, commentMarkers) }
func isCommentItem(n *html.Node) bool { return hasClassFragment(n, commentItemMarkers) }

func isOverlay(n *html.Node) bool {
	return overlayRoles[attr(n, "role")] || hasClassFragment(n, overlayMarkers)
}

func isInjected(n *html.Node) bool {
	return hasAttr(n, AttrInjected) || hasClassFragment(n, injectedMarkers)
}

// excluded reports whether text under n never belongs to a post body.
func excluded(n *html.Node) bool {
	return n.Type == html.ElementNode &&
		(skipTags[n.Data] || isComment(n) || isOverlay(n) || isInjected(n) ||
			hasClassFragment(n, []string{"visually-hidden"}))
}

// insideExcluded reports whether n sits in an excluded subtree below root.
func insideExcluded(n, root *html.Node, pred func(*html.Node) bool) bool {
	for p := n; p != nil && p != root; p = p.Parent {
		if p.Type == html.ElementNode && pred(p) {
			return true
		}
	}
	return false
}

// cleanText renders n roughly the way a browser's innerText would: excluded
// subtrees dropped, block and line-break boundaries as newlines, whitespace
// collapsed inside lines, empty lines removed.
func cleanText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			// source formatting newlines are plain whitespace
			sb.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
			return
		case html.ElementNode:
			if excluded(n) {
				return
			}
			if n.Data == "br" {
				sb.WriteByte('\n')
				return
			}
		}
		block := n.Type == html.ElementNode && blockTags[n.Data]
		if block {
			sb.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			sb.WriteByte('\n')
		}
	}
	walk(n)
	return normalizeLines(sb.String())
}

func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// plainText is the raw text content of n with whitespace collapsed.
func plainText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
