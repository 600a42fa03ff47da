// Package apiclient talks to the persistence service over HTTP.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pbaille/postkeep/internal/domain"
)

// Client implements domain.Posts against the REST API. The owner is the
// subject of the bearer token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ domain.Posts = (*Client)(nil)

// New creates a client for baseURL (e.g. http://localhost:8080/api)
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		client:  &http.Client{Timeout: timeout},
	}
}

// LoggedIn reports whether a credential is configured
func (c *Client) LoggedIn() bool {
	return c.token != ""
}

// StatusError is an unexpected non-2xx answer
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Message)
}

type errorBody struct {
	Error string          `json:"error"`
	Limit *int            `json:"limit,omitempty"`
	Post  json.RawMessage `json:"post,omitempty"`
}

// call performs one request. Known statuses map onto domain errors; a 409
// comes back as *conflictError carrying the existing post.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	if c.token == "" {
		return domain.ErrNotLoggedIn
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return eris.Wrap(err, "read response")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return eris.Wrap(err, "unmarshal response")
		}
		return nil
	}

	var eb errorBody
	json.Unmarshal(data, &eb)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusBadRequest:
		return domain.Invalid("%s", eb.Error)
	case http.StatusConflict:
		return &conflictError{post: eb.Post}
	case http.StatusTooManyRequests:
		if eb.Limit != nil {
			return domain.ErrQuotaExceeded
		}
		return &domain.RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	msg := eb.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}

type conflictError struct {
	post json.RawMessage
}

func (e *conflictError) Error() string { return "post already saved" }

func retryAfter(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// CreatePost commits the post text. A 409 answer is a duplicate, not an error.
func (c *Client) CreatePost(ctx context.Context, p domain.ExtractedPost) (domain.CreateResult, error) {
	var post domain.SavedPost
	err := c.call(ctx, http.MethodPost, "/posts", p, &post)
	if err == nil {
		return domain.CreateResult{Post: post}, nil
	}

	var conflict *conflictError
	if !errors.As(err, &conflict) {
		return domain.CreateResult{}, err
	}
	res := domain.CreateResult{Duplicate: true}
	if len(conflict.post) > 0 {
		if err := json.Unmarshal(conflict.post, &res.Post); err != nil {
			return res, eris.Wrap(err, "unmarshal existing post")
		}
	}
	return res, nil
}

func filterQuery(f domain.SearchFilter) string {
	v := url.Values{}
	set := func(k, s string) {
		if s != "" {
			v.Set(k, s)
		}
	}
	set("q", f.Query)
	set("author", f.Author)
	set("topic", f.Topic)
	set("tag", f.Tag)
	set("sentiment", f.Sentiment)
	if f.Page > 0 {
		v.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// ListPosts returns posts newest first
func (c *Client) ListPosts(ctx context.Context, f domain.SearchFilter) (domain.PostPage, error) {
	var page domain.PostPage
	err := c.call(ctx, http.MethodGet, "/posts"+filterQuery(f), nil, &page)
	return page, err
}

// SearchPosts filters posts by free text and metadata
func (c *Client) SearchPosts(ctx context.Context, f domain.SearchFilter) (domain.PostPage, error) {
	var page domain.PostPage
	err := c.call(ctx, http.MethodGet, "/posts/search"+filterQuery(f), nil, &page)
	return page, err
}

// AISearchResult is a page plus the expanded terms the server used
type AISearchResult struct {
	domain.PostPage
	Terms  []string `json:"aiTerms"`
	Topics []string `json:"aiTopics"`
}

// SearchAI runs the query-expanding search
func (c *Client) SearchAI(ctx context.Context, f domain.SearchFilter) (AISearchResult, error) {
	var res AISearchResult
	err := c.call(ctx, http.MethodGet, "/posts/search/ai"+filterQuery(f), nil, &res)
	return res, err
}

// Group buckets posts by author, topic, date, tags, sentiment or engagement
func (c *Client) Group(ctx context.Context, by string) ([]domain.Group, error) {
	var res struct {
		Groups []domain.Group `json:"groups"`
	}
	err := c.call(ctx, http.MethodGet, "/posts/group/"+url.PathEscape(by), nil, &res)
	return res.Groups, err
}

// UpdateTags replaces the tag list of a post
func (c *Client) UpdateTags(ctx context.Context, id string, tags []string) (domain.SavedPost, error) {
	var post domain.SavedPost
	err := c.call(ctx, http.MethodPatch, "/posts/"+url.PathEscape(id)+"/tags", map[string][]string{"tags": tags}, &post)
	return post, err
}

// DeletePost removes a post
func (c *Client) DeletePost(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/posts/"+url.PathEscape(id), nil, nil)
}

// CheckAndIncrementQuota consumes one enrichment unit when allowed
func (c *Client) CheckAndIncrementQuota(ctx context.Context) (domain.Quota, error) {
	var q domain.Quota
	err := c.call(ctx, http.MethodPost, "/quota/consume", nil, &q)
	return q, err
}

// PatchMedia attaches retrieved images to a post
func (c *Client) PatchMedia(ctx context.Context, id string, images []domain.MediaImage) error {
	return c.call(ctx, http.MethodPatch, "/posts/"+url.PathEscape(id)+"/images",
		map[string][]domain.MediaImage{"images": images}, nil)
}

// UpdateEngagementByURL refreshes the counters of the post saved under permalink
func (c *Client) UpdateEngagementByURL(ctx context.Context, permalink string, e domain.Engagement) error {
	return c.call(ctx, http.MethodPatch, "/posts/engagement-by-url",
		map[string]any{"postUrl": permalink, "engagement": e}, nil)
}

// ApplyAnalysis writes enrichment metadata back
func (c *Client) ApplyAnalysis(ctx context.Context, id string, a domain.Analysis) (domain.SavedPost, error) {
	var post domain.SavedPost
	err := c.call(ctx, http.MethodPatch, "/posts/"+url.PathEscape(id)+"/analysis", a, &post)
	return post, err
}

// Analyze asks the server to enrich one post with its own provider
func (c *Client) Analyze(ctx context.Context, id string) (domain.SavedPost, error) {
	var post domain.SavedPost
	err := c.call(ctx, http.MethodPost, "/posts/"+url.PathEscape(id)+"/analyze", nil, &post)
	return post, err
}

// BatchResult is the answer of AnalyzeBatch
type BatchResult struct {
	Analyzed int    `json:"analyzed"`
	Total    int    `json:"total"`
	Message  string `json:"message,omitempty"`
}

// AnalyzeBatch enriches up to ten unanalyzed posts on the server
func (c *Client) AnalyzeBatch(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	err := c.call(ctx, http.MethodPost, "/posts/analyze-batch", nil, &res)
	return res, err
}

// Settings returns the owner's preferences and today's usage
func (c *Client) Settings(ctx context.Context) (domain.Settings, error) {
	var st domain.Settings
	err := c.call(ctx, http.MethodGet, "/settings", nil, &st)
	return st, err
}

// UpdateSettings applies a settings patch
func (c *Client) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	var st domain.Settings
	err := c.call(ctx, http.MethodPatch, "/settings", patch, &st)
	return st, err
}
