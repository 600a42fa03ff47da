package store

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/pbaille/postkeep/internal/domain"
)

// Owner is the store as seen by one owner. It implements domain.Posts.
type Owner struct {
	store *Store
	id    string
}

var _ domain.Posts = (*Owner)(nil)

// ID returns the owner id
func (o *Owner) ID() string { return o.id }

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreatePost inserts the post unless the owner already saved it. On a
// duplicate the stored engagement is refreshed with the non-zero counters of p.
// The lookup and the insert share one immediate transaction.
func (o *Owner) CreatePost(ctx context.Context, p domain.ExtractedPost) (domain.CreateResult, error) {
	if strings.TrimSpace(p.AuthorName) == "" || strings.TrimSpace(p.BodyText) == "" {
		return domain.CreateResult{}, domain.Invalid("authorName and postText are required")
	}
	if err := o.store.EnsureOwner(ctx, o.id, ""); err != nil {
		return domain.CreateResult{}, err
	}

	tx, err := o.store.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.CreateResult{}, eris.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	existing, err := o.findDuplicate(ctx, tx, p)
	if err != nil {
		return domain.CreateResult{}, err
	}
	if existing != nil {
		if !p.Engagement.IsZero() {
			merged := mergeEngagement(existing.Engagement, p.Engagement)
			if merged != existing.Engagement {
				if err := o.setEngagement(ctx, tx, existing.ID, merged); err != nil {
					return domain.CreateResult{}, err
				}
				existing.Engagement = merged
			}
		}
		if err := tx.Commit(); err != nil {
			return domain.CreateResult{}, eris.Wrap(err, "commit engagement")
		}
		return domain.CreateResult{Post: *existing, Duplicate: true}, nil
	}

	now := o.store.now().UTC()
	saved := domain.SavedPost{
		ID:                 uuid.New().String(),
		OwnerID:            o.id,
		AuthorName:         p.AuthorName,
		AuthorURL:          p.AuthorURL,
		BodyText:           p.BodyText,
		Permalink:          strings.TrimSpace(p.Permalink),
		PermalinkCanonical: p.PermalinkCanonical,
		Timestamp:          p.Timestamp,
		Engagement:         clampEngagement(p.Engagement),
		Media:              p.Media,
		Tags:               []string{},
		Keywords:           []string{},
		SavedAt:            now,
		UpdatedAt:          now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO posts (id, owner_id, author_name, author_url, body_text, permalink, permalink_canonical,
			timestamp, likes, comments, reposts, media, saved_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		saved.ID, o.id, saved.AuthorName, saved.AuthorURL, saved.BodyText, saved.Permalink, saved.PermalinkCanonical,
		saved.Timestamp, saved.Engagement.Likes, saved.Engagement.Comments, saved.Engagement.Reposts,
		encodeJSON(saved.Media), saved.SavedAt, saved.UpdatedAt,
	)
	if err != nil {
		return domain.CreateResult{}, eris.Wrap(err, "insert post")
	}
	if err := tx.Commit(); err != nil {
		return domain.CreateResult{}, eris.Wrap(err, "commit post")
	}
	return domain.CreateResult{Post: saved}, nil
}

// findDuplicate matches on the canonical permalink first, then on the
// leading characters of the body.
func (o *Owner) findDuplicate(ctx context.Context, q querier, p domain.ExtractedPost) (*domain.SavedPost, error) {
	if p.PermalinkCanonical && p.Permalink != "" {
		post, err := o.byPermalink(ctx, q, p.Permalink)
		if err == nil {
			return &post, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	prefix := bodyPrefix(p.BodyText)
	if prefix == "" {
		return nil, nil
	}
	row := q.QueryRowContext(ctx,
		"SELECT "+postColumns+" FROM posts WHERE owner_id = ? AND substr(body_text, 1, ?) = ? ORDER BY saved_at LIMIT 1",
		o.id, len([]rune(prefix)), prefix,
	)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "find duplicate")
	}
	return &post, nil
}

func bodyPrefix(body string) string {
	r := []rune(body)
	if len(r) > DuplicatePrefixLen {
		r = r[:DuplicatePrefixLen]
	}
	return string(r)
}

// byPermalink only matches canonical permalinks. A page URL shared by many
// posts never identifies one of them.
func (o *Owner) byPermalink(ctx context.Context, q querier, permalink string) (domain.SavedPost, error) {
	clean := strings.TrimRight(strings.TrimSpace(permalink), "/")
	row := q.QueryRowContext(ctx,
		"SELECT "+postColumns+" FROM posts WHERE owner_id = ? AND permalink_canonical = 1 AND permalink IN (?, ?) ORDER BY saved_at LIMIT 1",
		o.id, clean, clean+"/",
	)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return post, domain.ErrNotFound
	}
	if err != nil {
		return post, eris.Wrap(err, "find post by permalink")
	}
	return post, nil
}

// mergeEngagement keeps the stored value wherever the fresh one is zero.
func mergeEngagement(old, fresh domain.Engagement) domain.Engagement {
	fresh = clampEngagement(fresh)
	if fresh.Likes == 0 {
		fresh.Likes = old.Likes
	}
	if fresh.Comments == 0 {
		fresh.Comments = old.Comments
	}
	if fresh.Reposts == 0 {
		fresh.Reposts = old.Reposts
	}
	return fresh
}

func clampEngagement(e domain.Engagement) domain.Engagement {
	return domain.Engagement{Likes: max(0, e.Likes), Comments: max(0, e.Comments), Reposts: max(0, e.Reposts)}
}

func (o *Owner) setEngagement(ctx context.Context, q querier, id string, e domain.Engagement) error {
	_, err := q.ExecContext(ctx,
		"UPDATE posts SET likes = ?, comments = ?, reposts = ?, updated_at = ? WHERE id = ? AND owner_id = ?",
		e.Likes, e.Comments, e.Reposts, o.store.now().UTC(), id, o.id,
	)
	if err != nil {
		return eris.Wrap(err, "update engagement")
	}
	return nil
}

// GetPost returns one post
func (o *Owner) GetPost(ctx context.Context, id string) (domain.SavedPost, error) {
	row := o.store.db.QueryRowContext(ctx,
		"SELECT "+postColumns+" FROM posts WHERE id = ? AND owner_id = ?", id, o.id)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return post, domain.ErrNotFound
	}
	if err != nil {
		return post, eris.Wrap(err, "get post")
	}
	return post, nil
}

// ListPosts returns posts newest first
func (o *Owner) ListPosts(ctx context.Context, f domain.SearchFilter) (domain.PostPage, error) {
	return o.page(ctx, f, "owner_id = ?", []any{o.id})
}

// SearchPosts filters on free text across content and metadata, plus exact
// filters on author, topic, tag and sentiment.
func (o *Owner) SearchPosts(ctx context.Context, f domain.SearchFilter) (domain.PostPage, error) {
	where := []string{"owner_id = ?"}
	args := []any{o.id}

	if q := strings.TrimSpace(f.Query); q != "" {
		cond, a := anyFieldLike([]string{q}, searchFields)
		where = append(where, cond)
		args = append(args, a...)
	}
	if f.Author != "" {
		where = append(where, "author_name LIKE ? ESCAPE '\\'")
		args = append(args, likePattern(f.Author))
	}
	if f.Topic != "" {
		where = append(where, "topic LIKE ? ESCAPE '\\'")
		args = append(args, likePattern(f.Topic))
	}
	if f.Tag != "" {
		where = append(where, "tags LIKE ? ESCAPE '\\'")
		args = append(args, likePattern(f.Tag))
	}
	if f.Sentiment != "" {
		where = append(where, "sentiment = ?")
		args = append(args, f.Sentiment)
	}
	return o.page(ctx, f, strings.Join(where, " AND "), args)
}

var (
	searchFields = []string{"body_text", "author_name", "topic", "tags", "keywords", "summary"}
	termFields   = []string{"body_text", "topic", "tags", "keywords"}
)

// SearchAny matches posts where any of the terms hits the content or
// metadata, or whose topic is one of topics.
func (o *Owner) SearchAny(ctx context.Context, terms, topics []string, f domain.SearchFilter) (domain.PostPage, error) {
	var ors []string
	var args []any
	if len(terms) > 0 {
		cond, a := anyFieldLike(terms[:1], searchFields)
		ors = append(ors, cond)
		args = append(args, a...)
	}
	if len(terms) > 1 {
		cond, a := anyFieldLike(terms[1:], termFields)
		ors = append(ors, cond)
		args = append(args, a...)
	}
	if len(topics) > 0 {
		cond, a := anyFieldLike(topics, []string{"topic"})
		ors = append(ors, cond)
		args = append(args, a...)
	}
	if len(ors) == 0 {
		return domain.PostPage{Posts: []domain.SavedPost{}, Page: f.Normalize().Page}, nil
	}
	return o.page(ctx, f, "owner_id = ? AND ("+strings.Join(ors, " OR ")+")", append([]any{o.id}, args...))
}

func anyFieldLike(terms, fields []string) (string, []any) {
	var parts []string
	var args []any
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		for _, f := range fields {
			parts = append(parts, f+" LIKE ? ESCAPE '\\'")
			args = append(args, likePattern(t))
		}
	}
	if len(parts) == 0 {
		return "1 = 0", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func (o *Owner) page(ctx context.Context, f domain.SearchFilter, where string, args []any) (domain.PostPage, error) {
	f = f.Normalize()

	var total int
	if err := o.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts WHERE "+where, args...).Scan(&total); err != nil {
		return domain.PostPage{}, eris.Wrap(err, "count posts")
	}

	rows, err := o.store.db.QueryContext(ctx,
		"SELECT "+postColumns+" FROM posts WHERE "+where+" ORDER BY saved_at DESC LIMIT ? OFFSET ?",
		append(args, f.Limit, f.Offset())...,
	)
	if err != nil {
		return domain.PostPage{}, eris.Wrap(err, "list posts")
	}
	posts, err := scanPosts(rows)
	if err != nil {
		return domain.PostPage{}, err
	}

	return domain.PostPage{
		Posts:      posts,
		Total:      total,
		Page:       f.Page,
		TotalPages: int(math.Ceil(float64(total) / float64(f.Limit))),
	}, nil
}

// UpdateTags replaces the tags of a post
func (o *Owner) UpdateTags(ctx context.Context, id string, tags []string) (domain.SavedPost, error) {
	if tags == nil {
		tags = []string{}
	}
	res, err := o.store.db.ExecContext(ctx,
		"UPDATE posts SET tags = ?, updated_at = ? WHERE id = ? AND owner_id = ?",
		encodeJSON(tags), o.store.now().UTC(), id, o.id,
	)
	if err := affectedOne(res, err, "update tags"); err != nil {
		return domain.SavedPost{}, err
	}
	return o.GetPost(ctx, id)
}

// DeletePost removes a post
func (o *Owner) DeletePost(ctx context.Context, id string) error {
	res, err := o.store.db.ExecContext(ctx, "DELETE FROM posts WHERE id = ? AND owner_id = ?", id, o.id)
	return affectedOne(res, err, "delete post")
}

// PatchMedia stores retrieved images on a post
func (o *Owner) PatchMedia(ctx context.Context, id string, images []domain.MediaImage) error {
	res, err := o.store.db.ExecContext(ctx,
		"UPDATE posts SET images = ?, updated_at = ? WHERE id = ? AND owner_id = ?",
		encodeJSON(images), o.store.now().UTC(), id, o.id,
	)
	return affectedOne(res, err, "patch media")
}

// UpdateEngagementByURL refreshes the counters of the post saved under the
// canonical permalink, with or without a trailing slash. Zero counters keep
// the stored value.
func (o *Owner) UpdateEngagementByURL(ctx context.Context, permalink string, e domain.Engagement) error {
	if strings.TrimSpace(permalink) == "" {
		return domain.Invalid("postUrl is required")
	}
	post, err := o.byPermalink(ctx, o.store.db, permalink)
	if err != nil {
		return err
	}
	merged := mergeEngagement(post.Engagement, e)
	if merged == post.Engagement {
		return nil
	}
	return o.setEngagement(ctx, o.store.db, post.ID, merged)
}

// ApplyAnalysis merges enrichment into a post. Empty fields keep the stored
// value and tags are added to the existing ones.
func (o *Owner) ApplyAnalysis(ctx context.Context, id string, a domain.Analysis) (domain.SavedPost, error) {
	tx, err := o.store.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.SavedPost{}, eris.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	post, err := scanPost(tx.QueryRowContext(ctx,
		"SELECT "+postColumns+" FROM posts WHERE id = ? AND owner_id = ?", id, o.id))
	if errors.Is(err, sql.ErrNoRows) {
		return post, domain.ErrNotFound
	}
	if err != nil {
		return post, eris.Wrap(err, "get post")
	}

	if a.Topic != "" {
		post.Topic = a.Topic
	}
	if len(a.Keywords) > 0 {
		post.Keywords = a.Keywords
	}
	if a.Summary != "" {
		post.Summary = a.Summary
	}
	if a.Sentiment != "" {
		post.Sentiment = a.Sentiment
	}
	post.Tags = mergeTags(post.Tags, a.Tags)
	post.AIAnalyzed = true
	post.UpdatedAt = o.store.now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE posts SET topic = ?, keywords = ?, summary = ?, sentiment = ?, tags = ?, ai_analyzed = 1, updated_at = ?
		WHERE id = ? AND owner_id = ?`,
		post.Topic, encodeJSON(post.Keywords), post.Summary, post.Sentiment, encodeJSON(post.Tags), post.UpdatedAt,
		id, o.id,
	)
	if err != nil {
		return post, eris.Wrap(err, "apply analysis")
	}
	if err := tx.Commit(); err != nil {
		return post, eris.Wrap(err, "commit analysis")
	}
	return post, nil
}

func mergeTags(existing, added []string) []string {
	out := append([]string{}, existing...)
	seen := make(map[string]bool, len(out))
	for _, t := range out {
		seen[t] = true
	}
	for _, t := range added {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Unanalyzed returns up to limit posts that never went through enrichment,
// oldest first.
func (o *Owner) Unanalyzed(ctx context.Context, limit int) ([]domain.SavedPost, error) {
	rows, err := o.store.db.QueryContext(ctx,
		"SELECT "+postColumns+" FROM posts WHERE owner_id = ? AND ai_analyzed = 0 ORDER BY saved_at LIMIT ?",
		o.id, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "list unanalyzed posts")
	}
	return scanPosts(rows)
}

// All returns every post of the owner newest first.
func (o *Owner) All(ctx context.Context) ([]domain.SavedPost, error) {
	rows, err := o.store.db.QueryContext(ctx,
		"SELECT "+postColumns+" FROM posts WHERE owner_id = ? ORDER BY saved_at DESC", o.id)
	if err != nil {
		return nil, eris.Wrap(err, "list posts")
	}
	return scanPosts(rows)
}

func affectedOne(res sql.Result, err error, op string) error {
	if err != nil {
		return eris.Wrap(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, op)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
