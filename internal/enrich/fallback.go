package enrich

import (
	"regexp"
	"sort"
	"strings"

	"github.com/pbaille/postkeep/internal/domain"
)

var stopWords = toSet(`the a an is are was were be been being have has had do does did will would
could should may might shall can need dare ought used to of in for on with at by from as into through
during before after above below between out off over under again further then once here there when
where why how all each every both few more most other some such no not only own same so than too very
just because but and or if while that this it its i my we our you your they them their what which who
whom he she him her his about also get got like make many much new one two way even well back still going`)

var tokenJunk = regexp.MustCompile(`[^a-z0-9\s-]`)

type topicRule struct {
	topic    string
	patterns []*regexp.Regexp
}

// Patterns ending in * match as word prefixes.
var topicRules = []topicRule{
	rule("AI & Machine Learning", "ai", "machine learning", "deep learning", "neural*", "gpt", "llm*", "chatgpt", "artificial intelligence", "model training", "nlp"),
	rule("Technology", "software", "developer*", "programming", "code", "api*", "cloud", "devops", "saas", "tech stack", "open-source", "github"),
	rule("Career", "hired", "hiring", "job*", "career*", "interview*", "resume", "laid off", "layoff*", "promotion", "salary", "remote work"),
	rule("Entrepreneurship", "startup*", "founder*", "fundraising", "series a", "seed", "venture", "bootstrapped", "co-founder*", "pitch*"),
	rule("Leadership", "leadership", "ceo", "manager*", "team lead", "culture", "management", "mentor*"),
	rule("Marketing", "marketing", "brand*", "content strategy", "seo", "growth", "social media", "campaign*"),
	rule("Finance", "finance", "investing", "stock*", "revenue", "profit*", "valuation", "ipo", "funding"),
	rule("Personal Development", "productivity", "habit*", "mindset", "self-improvement", "motivation", "learning", "growth mindset"),
	rule("Education", "education", "university", "course*", "student*", "learning", "certification*", "bootcamp*"),
	rule("Design", "design*", "ux", "ui", "figma", "user experience", "prototyp*"),
	rule("Engineering", "engineering", "infrastructure", "system design", "scalab*", "architect*"),
	rule("Health", "health", "wellness", "mental health", "burnout", "work-life balance", "fitness"),
}

// Checked in order; first match wins.
var sentimentRules = []struct {
	sentiment string
	re        *regexp.Regexp
}{
	{"educational", regexp.MustCompile(`(?i)\b(learn\w*|lessons?|tips?|how to|guides?|explained)\b`)},
	{"inspirational", regexp.MustCompile(`(?i)\b(inspir\w*|motivat\w*|grateful|proud|achievements?)\b`)},
	{"hiring", regexp.MustCompile(`(?i)\b(hiring|we.?re hiring|open roles?|apply now|positions?)\b`)},
	{"promotional", regexp.MustCompile(`(?i)\b(launch\w*|announc\w*|excited to share|check out our)\b`)},
	{"opinion", regexp.MustCompile(`(?i)\b(opinion|unpopular|hot take|disagree|debate)\b`)},
	{"news", regexp.MustCompile(`(?i)\b(breaking|reports?|according to|study shows)\b`)},
}

// fallbackKeyword is used when the text holds no word at all.
const fallbackKeyword = "untitled"

// Fallback classifies text with keyword frequency and pattern rules.
// It is deterministic and never fails.
func Fallback(text string) domain.Analysis {
	lower := strings.ToLower(text)
	keywords := topKeywords(lower, 5)

	tags := make([]string, 0, 3)
	for _, k := range keywords {
		if t := normalizeTag(k); t != "" && !contains(tags, t) {
			tags = append(tags, t)
		}
		if len(tags) == 3 {
			break
		}
	}

	return domain.Analysis{
		Topic:     fallbackTopic(lower),
		Tags:      tags,
		Summary:   "",
		Sentiment: fallbackSentiment(lower),
		Keywords:  keywords,
		Source:    "fallback",
	}
}

// topKeywords ranks tokens by frequency, ties by first occurrence.
func topKeywords(lower string, n int) []string {
	tokens := strings.Fields(tokenJunk.ReplaceAllString(lower, " "))

	rank := func(keep func(string) bool) []string {
		counts := make(map[string]int)
		var order []string
		for _, tok := range tokens {
			tok = strings.Trim(tok, "-")
			if !keep(tok) {
				continue
			}
			if counts[tok] == 0 {
				order = append(order, tok)
			}
			counts[tok]++
		}
		sort.SliceStable(order, func(i, j int) bool {
			return counts[order[i]] > counts[order[j]]
		})
		if len(order) > n {
			order = order[:n]
		}
		return order
	}

	keywords := rank(func(t string) bool { return len(t) > 2 && !stopWords[t] })
	if len(keywords) == 0 {
		keywords = rank(func(t string) bool { return len(t) > 1 })
	}
	if len(keywords) == 0 {
		keywords = []string{fallbackKeyword}
	}
	return keywords
}

func fallbackTopic(lower string) string {
	best, bestScore := domain.TopicOther, 0
	for _, r := range topicRules {
		score := 0
		for _, p := range r.patterns {
			if p.MatchString(lower) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = r.topic, score
		}
	}
	return best
}

func fallbackSentiment(lower string) string {
	for _, r := range sentimentRules {
		if r.re.MatchString(lower) {
			return r.sentiment
		}
	}
	return ""
}

func rule(topic string, patterns ...string) topicRule {
	r := topicRule{topic: topic}
	for _, p := range patterns {
		expr := `\b` + regexp.QuoteMeta(strings.TrimSuffix(p, "*"))
		if !strings.HasSuffix(p, "*") {
			expr += `\b`
		}
		r.patterns = append(r.patterns, regexp.MustCompile(expr))
	}
	return r
}

func toSet(words string) map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		m[w] = true
	}
	return m
}
