package page

import (
	"time"

	"github.com/pbaille/postkeep/internal/domain"
)

// Extract pulls every field of the post in r. Fields are independent; a
// missing one never blocks the others.
func Extract(s *Snapshot, r *Region) domain.ExtractedPost {
	author := r.Author
	if author.Name == "" {
		author = ExtractAuthor(s, r.Node)
	}
	body := r.Body
	if body == "" {
		body = ExtractBody(s, r.Node)
	}
	link, canonical := ExtractPermalink(s, r.Node)

	capturedAt := s.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	return domain.ExtractedPost{
		AuthorName:         author.Name,
		AuthorURL:          author.URL,
		BodyText:           body,
		Permalink:          link,
		PermalinkCanonical: canonical,
		Timestamp:          ExtractTimestamp(s, r.Node),
		Engagement:         ExtractEngagement(s, r.Node),
		Media:              ExtractMedia(s, r.Node),
		CapturedAt:         capturedAt,
	}
}

// ExtractActive resolves the region for h and extracts it.
func ExtractActive(s *Snapshot, h Hint, now time.Time) (domain.ExtractedPost, error) {
	r := Resolve(s, h, now)
	if r == nil {
		return domain.ExtractedPost{}, domain.ErrExtraction
	}
	post := Extract(s, r)
	if len([]rune(post.BodyText)) < domain.MinBodyLength {
		return domain.ExtractedPost{}, domain.ErrExtraction
	}
	return post, nil
}

// HintFor picks the strongest signal a snapshot offers: a recent interaction,
// then the pointer, then visibility.
func HintFor(s *Snapshot, now time.Time, interactionTTL time.Duration) Hint {
	if s.Target != nil && (s.TargetAt.IsZero() || now.Sub(s.TargetAt) <= interactionTTL) {
		return Hint{Kind: HintNode, Node: s.Target, At: s.TargetAt}
	}
	if s.Pointer != nil {
		return Hint{Kind: HintPointer, Point: *s.Pointer}
	}
	return Hint{Kind: HintVisible}
}
