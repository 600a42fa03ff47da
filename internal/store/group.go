package store

import (
	"context"
	"sort"

	"github.com/pbaille/postkeep/internal/domain"
)

// GroupKeys lists the supported groupings.
var GroupKeys = []string{"author", "topic", "date", "tags", "sentiment", "engagement"}

// ValidGroup reports whether by is a supported grouping
func ValidGroup(by string) bool {
	for _, k := range GroupKeys {
		if k == by {
			return true
		}
	}
	return false
}

// Engagement buckets.
const (
	EngagementHigh   = "High (100+)"
	EngagementMedium = "Medium (20-99)"
	EngagementLow    = "Low (1-19)"
	EngagementNone   = "None"
)

// EngagementLevel buckets the total interaction count of a post.
func EngagementLevel(e domain.Engagement) string {
	switch total := e.Likes + e.Comments + e.Reposts; {
	case total >= 100:
		return EngagementHigh
	case total >= 20:
		return EngagementMedium
	case total >= 1:
		return EngagementLow
	}
	return EngagementNone
}

// Group buckets the owner's posts. Dates group newest first, every other key
// by descending size.
func (o *Owner) Group(ctx context.Context, by string) ([]domain.Group, error) {
	if !ValidGroup(by) {
		return nil, domain.Invalid("invalid group %q", by)
	}
	posts, err := o.All(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	groups := []domain.Group{}
	add := func(key string, p domain.SavedPost) {
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, domain.Group{Key: key})
		}
		groups[i].Count++
		groups[i].Posts = append(groups[i].Posts, p)
	}

	for _, p := range posts {
		switch by {
		case "author":
			add(p.AuthorName, p)
		case "topic":
			add(p.Topic, p)
		case "date":
			add(p.SavedAt.UTC().Format("2006-01-02"), p)
		case "tags":
			for _, t := range p.Tags {
				add(t, p)
			}
		case "sentiment":
			if p.Sentiment != "" {
				add(p.Sentiment, p)
			}
		case "engagement":
			add(EngagementLevel(p.Engagement), p)
		}
	}

	if by == "date" {
		sort.SliceStable(groups, func(i, j int) bool { return groups[i].Key > groups[j].Key })
	} else {
		sort.SliceStable(groups, func(i, j int) bool { return groups[i].Count > groups[j].Count })
	}
	return groups, nil
}
