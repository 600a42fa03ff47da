package enrich

import (
	"regexp"
	"strings"

	"github.com/pbaille/postkeep/internal/domain"
)

const (
	maxTags         = 8
	maxTagLen       = 40
	maxKeywords     = 6
	maxSummaryWords = 40
	maxSubTopicLen  = 60
)

// topicAliases maps lowercase variants models produce to canonical topics.
var topicAliases = map[string]string{
	"tech":                     "Technology",
	"ai":                       "AI & Machine Learning",
	"ml":                       "AI & Machine Learning",
	"machine learning":         "AI & Machine Learning",
	"artificial intelligence":  "AI & Machine Learning",
	"ai/ml":                    "AI & Machine Learning",
	"ai and machine learning":  "AI & Machine Learning",
	"ai & ml":                  "AI & Machine Learning",
	"deep learning":            "AI & Machine Learning",
	"self improvement":         "Personal Development",
	"self-improvement":         "Personal Development",
	"personal growth":          "Personal Development",
	"growth":                   "Personal Development",
	"achievement":              "Personal Development",
	"motivation":               "Personal Development",
	"startup":                  "Entrepreneurship",
	"startups":                 "Entrepreneurship",
	"founder":                  "Entrepreneurship",
	"hiring":                   "Career",
	"jobs":                     "Career",
	"job search":               "Career",
	"interview":                "Career",
	"networking":               "Career",
	"resume":                   "Career",
	"job market":               "Career",
	"promotion":                "Career",
	"layoff":                   "Career",
	"layoffs":                  "Career",
	"news":                     "Industry News",
	"industry":                 "Industry News",
	"branding":                 "Marketing",
	"sales":                    "Marketing",
	"social media":             "Marketing",
	"advertising":              "Marketing",
	"content marketing":        "Marketing",
	"ux":                       "Design",
	"ui":                       "Design",
	"ux design":                "Design",
	"product design":           "Design",
	"healthcare":               "Health",
	"wellness":                 "Health",
	"mental health":            "Health",
	"management":               "Leadership",
	"diversity":                "Leadership",
	"company culture":          "Leadership",
	"team building":            "Leadership",
	"investing":                "Finance",
	"economics":                "Finance",
	"crypto":                   "Finance",
	"cryptocurrency":           "Finance",
	"banking":                  "Finance",
	"venture capital":          "Finance",
	"green":                    "Sustainability",
	"climate":                  "Sustainability",
	"environment":              "Sustainability",
	"energy":                   "Sustainability",
	"clean energy":             "Sustainability",
	"cloud":                    "Technology",
	"cloud computing":          "Technology",
	"azure":                    "Technology",
	"aws":                      "Technology",
	"google cloud":             "Technology",
	"microsoft":                "Technology",
	"devops":                   "Technology",
	"cybersecurity":            "Technology",
	"programming":              "Technology",
	"software":                 "Technology",
	"data science":             "Technology",
	"blockchain":               "Technology",
	"web development":          "Technology",
	"software engineering":     "Engineering",
	"certification":            "Education",
	"certifications":           "Education",
	"learning":                 "Education",
	"training":                 "Education",
	"course":                   "Education",
	"online learning":          "Education",
	"professional development": "Education",
	"hr":                       "Business",
	"human resources":          "Business",
	"strategy":                 "Business",
	"innovation":               "Business",
	"product management":       "Business",
	"biotech":                  "Science",
	"research":                 "Science",
	"physics":                  "Science",
	"biology":                  "Science",
}

var (
	topicSet     = make(map[string]bool)
	sentimentSet = make(map[string]bool)

	topicJunk     = regexp.MustCompile(`[^a-z0-9 &/]`)
	tagSeparators = regexp.MustCompile(`[\s_/]+`)
	tagJunk       = regexp.MustCompile(`[^a-z0-9-]`)
	hyphenRuns    = regexp.MustCompile(`-+`)
	sentimentJunk = regexp.MustCompile(`[^a-z_]`)
)

func init() {
	for _, t := range domain.Topics {
		topicSet[t] = true
		topicAliases[strings.ToLower(t)] = t
	}
	for _, s := range domain.Sentiments {
		sentimentSet[s] = true
	}
}

// matchTopic maps a raw topic onto the closed vocabulary. Values that cannot
// be mapped come back as Other plus the original text as subTopic.
func matchTopic(raw string) (topic, subTopic string) {
	if raw == "" {
		return domain.TopicOther, ""
	}
	if topicSet[raw] {
		return raw, ""
	}
	lower := strings.ToLower(strings.TrimSpace(raw))
	if t, ok := topicAliases[lower]; ok {
		return t, ""
	}
	cleaned := strings.TrimSpace(topicJunk.ReplaceAllString(lower, ""))
	if t, ok := topicAliases[cleaned]; ok {
		return t, ""
	}
	return domain.TopicOther, strings.TrimSpace(truncate(raw, maxSubTopicLen))
}

// normalizeTag lowercases and hyphenates a label. Empty means rejected.
func normalizeTag(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = tagSeparators.ReplaceAllString(t, "-")
	t = tagJunk.ReplaceAllString(t, "")
	t = hyphenRuns.ReplaceAllString(t, "-")
	t = strings.Trim(t, "-")
	if len(t) < 2 {
		return ""
	}
	if len(t) > maxTagLen {
		t = strings.TrimRight(t[:maxTagLen], "-")
	}
	return t
}

func normalizeTags(raw []string) []string {
	tags := make([]string, 0, len(raw))
	seen := make(map[string]bool)
	for _, r := range raw {
		t := normalizeTag(r)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

func normalizeKeywords(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		k := strings.ToLower(strings.TrimSpace(r))
		if len(k) < 2 {
			continue
		}
		out = append(out, k)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// normalizeSentiment keeps only values from the closed vocabulary.
func normalizeSentiment(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "_")
	s = sentimentJunk.ReplaceAllString(s, "")
	if sentimentSet[s] {
		return s
	}
	return ""
}

// truncateSummary keeps at most maxSummaryWords words, ending on a sentence
// boundary when one falls past 40% of the slice.
func truncateSummary(raw string) string {
	trimmed := strings.TrimSpace(raw)
	words := strings.Fields(trimmed)
	if len(words) <= maxSummaryWords {
		return strings.Join(words, " ")
	}
	slice := strings.Join(words[:maxSummaryWords], " ")
	end := strings.LastIndexAny(slice, ".!?")
	if end > 0 && float64(end) > float64(len(slice))*0.4 {
		return slice[:end+1]
	}
	return slice + "…"
}

// clean turns a parsed model object into an Analysis.
func clean(parsed map[string]any) domain.Analysis {
	topic, subTopic := matchTopic(stringField(parsed, "topic"))
	tags := normalizeTags(listField(parsed, "tags"))

	// keep an unmapped topic as a tag so it is not lost
	if subTopic != "" {
		if asTag := normalizeTag(subTopic); asTag != "" && !contains(tags, asTag) {
			tags = append([]string{asTag}, tags...)
			if len(tags) > maxTags {
				tags = tags[:maxTags]
			}
		}
	}

	keywords := normalizeKeywords(listField(parsed, "keywords"))

	// sparse output: backfill tags from keywords
	if len(tags) < 3 {
		for _, kw := range keywords {
			asTag := normalizeTag(kw)
			if asTag == "" || contains(tags, asTag) {
				continue
			}
			tags = append(tags, asTag)
			if len(tags) >= 4 {
				break
			}
		}
	}

	return domain.Analysis{
		Topic:     topic,
		Tags:      tags,
		Summary:   truncateSummary(stringField(parsed, "summary")),
		Sentiment: normalizeSentiment(stringField(parsed, "sentiment")),
		Keywords:  keywords,
	}
}

// useful reports whether a model answer carries any signal.
func useful(a domain.Analysis) bool {
	return a.Topic != domain.TopicOther || len(a.Tags) > 0 || a.Summary != ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
