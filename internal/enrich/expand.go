package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const searchPrompt = `You are a search-term expansion tool for a LinkedIn post bookmarking app. Given a user's search query, generate relevant search terms that would match saved posts.

Respond with ONLY a JSON object. No other text.

{"terms":["..."],"topics":["..."],"sentiment":"..."}

- "terms": 5-10 specific words/phrases that might appear in LinkedIn posts about this topic (synonyms, abbreviations, related concepts)
- "topics": 1-3 categories from this list: Technology, Business, Career, Leadership, Marketing, Finance, Entrepreneurship, Education, Health, AI & Machine Learning, Personal Development, Industry News, Sustainability, Design, Engineering, Science.
- "sentiment": one of educational/inspirational/controversial/promotional/hiring/opinion/news/personal_story, or "" if unclear

Example:
Input: "startup fundraising tips"
Output: {"terms":["fundraising","startup","series a","seed round","investors","venture capital","vc","pitch deck","raise","funding"],"topics":["Entrepreneurship","Finance"],"sentiment":"educational"}`

// SearchTerms is an expanded search query.
type SearchTerms struct {
	Terms     []string `json:"terms"`
	Topics    []string `json:"topics"`
	Sentiment string   `json:"sentiment"`
}

// ExpandQuery asks the provider for synonyms and related topics of query.
// On any failure it returns the query and its longer words.
func (c *Client) ExpandQuery(ctx context.Context, query string) SearchTerms {
	query = strings.TrimSpace(query)
	if c.provider == nil || query == "" {
		return fallbackTerms(query)
	}

	timeout := 15 * time.Second
	if c.provider.Metered() {
		timeout = 8 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := c.provider.Generate(callCtx, Request{
		System:      searchPrompt,
		Prompt:      fmt.Sprintf("Search query: %q\n\nRespond with ONLY the JSON object, nothing else.", query),
		JSON:        true,
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil {
		c.log.Warn("enrich: search term expansion failed", zap.Error(err))
		return fallbackTerms(query)
	}

	parsed, ok := extractJSON(raw)
	if !ok {
		c.log.Warn("enrich: unparseable search terms", zap.String("raw", truncate(raw, 120)))
		return fallbackTerms(query)
	}

	out := SearchTerms{
		Terms:     capTrimmed(listField(parsed, "terms"), 12),
		Topics:    make([]string, 0, 3),
		Sentiment: normalizeSentiment(stringField(parsed, "sentiment")),
	}
	if len(out.Terms) == 0 {
		out.Terms = []string{query}
	}
	for _, t := range capTrimmed(listField(parsed, "topics"), 3) {
		if topic, sub := matchTopic(t); sub == "" && !contains(out.Topics, topic) {
			out.Topics = append(out.Topics, topic)
		}
	}
	return out
}

func fallbackTerms(query string) SearchTerms {
	terms := []string{}
	if query != "" {
		terms = append(terms, query)
	}
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) > 2 {
			terms = append(terms, w)
		}
	}
	return SearchTerms{Terms: terms, Topics: []string{}}
}

func capTrimmed(list []string, n int) []string {
	out := make([]string, 0, n)
	for _, s := range list {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == n {
			break
		}
	}
	return out
}
