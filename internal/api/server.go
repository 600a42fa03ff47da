package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pbaille/postkeep/internal/auth"
	"github.com/pbaille/postkeep/internal/domain"
	"github.com/pbaille/postkeep/internal/enrich"
	"github.com/pbaille/postkeep/internal/media"
	"github.com/pbaille/postkeep/internal/metrics"
	"github.com/pbaille/postkeep/internal/ratelimit"
	"github.com/pbaille/postkeep/internal/store"
)

// Options tunes the per-owner limits
type Options struct {
	SavesPerMinute int
	AIPerHour      int
}

// batchSize is how many unanalyzed posts one analyze-batch call processes
const batchSize = 10

// Server handles HTTP requests for the post store
type Server struct {
	store  *store.Store
	signer *auth.Signer
	enrich *enrich.Client
	log    *zap.Logger
	saves  *ratelimit.Keyed
	ai     *ratelimit.Keyed
}

// New creates a new API server
func New(s *store.Store, signer *auth.Signer, ec *enrich.Client, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.SavesPerMinute <= 0 {
		opts.SavesPerMinute = 10
	}
	if opts.AIPerHour <= 0 {
		opts.AIPerHour = 20
	}
	return &Server{
		store:  s,
		signer: signer,
		enrich: ec,
		log:    log,
		saves:  ratelimit.NewKeyed(ratelimit.Config{Limit: opts.SavesPerMinute, Window: time.Minute}),
		ai:     ratelimit.NewKeyed(ratelimit.Config{Limit: opts.AIPerHour, Window: time.Hour}),
	}
}

// Handler builds the routed, instrumented handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	protect := func(h http.HandlerFunc) http.Handler {
		return s.signer.Middleware(s.login, h)
	}
	saveLimited := func(h http.HandlerFunc) http.Handler {
		return protect(s.saves.LimitHTTP(ownerKey, tooManyRequests, h).ServeHTTP)
	}
	aiLimited := func(h http.HandlerFunc) http.Handler {
		return protect(s.ai.LimitHTTP(ownerKey, tooManyRequests, h).ServeHTTP)
	}

	// Posts
	mux.Handle("POST /api/posts", saveLimited(s.createPost))
	mux.Handle("GET /api/posts", protect(s.listPosts))
	mux.Handle("GET /api/posts/search", protect(s.searchPosts))
	mux.Handle("GET /api/posts/search/ai", protect(s.searchAI))
	mux.Handle("GET /api/posts/group/{by}", protect(s.groupPosts))
	mux.Handle("PATCH /api/posts/engagement-by-url", protect(s.updateEngagement))
	mux.Handle("PATCH /api/posts/{id}/tags", protect(s.updateTags))
	mux.Handle("PATCH /api/posts/{id}/images", protect(s.updateImages))
	mux.Handle("PATCH /api/posts/{id}/analysis", protect(s.applyAnalysis))
	mux.Handle("DELETE /api/posts/{id}", protect(s.deletePost))

	// Enrichment
	mux.Handle("POST /api/posts/{id}/analyze", aiLimited(s.analyzePost))
	mux.Handle("POST /api/posts/analyze-batch", aiLimited(s.analyzeBatch))
	mux.Handle("POST /api/quota/consume", protect(s.consumeQuota))

	// Settings
	mux.Handle("GET /api/settings", protect(s.getSettings))
	mux.Handle("PATCH /api/settings", protect(s.patchSettings))

	mux.HandleFunc("GET /health", s.health)
	mux.Handle("GET /metrics", metrics.Handler())

	return metrics.Instrument(withCORS(mux))
}

// Run serves on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("starting server", zap.String("addr", addr), zap.String("llm", s.enrich.Provider()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return eris.Wrap(err, "listen")
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return eris.Wrap(err, "shutdown")
		}
		return nil
	}
}

func (s *Server) login(ctx context.Context, id auth.Identity) error {
	return s.store.EnsureOwner(ctx, id.Owner, id.Label)
}

func ownerKey(r *http.Request) string {
	id, _ := auth.FromContext(r.Context())
	return id.Owner
}

func (s *Server) owner(r *http.Request) *store.Owner {
	return s.store.Owner(ownerKey(r))
}

func tooManyRequests(w http.ResponseWriter, retry time.Duration) {
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":      "Too many requests, slow down",
		"retryAfter": int(retry.Round(time.Second) / time.Second),
	})
}

// withCORS adds CORS headers for the browser clients
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	var p domain.ExtractedPost
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.CapturedAt.IsZero() {
		p.CapturedAt = time.Now().UTC()
	}

	res, err := s.owner(r).CreatePost(r.Context(), p)
	if err != nil {
		s.fail(w, err, "Failed to save post")
		return
	}
	if res.Duplicate {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "Post already saved", "post": res.Post})
		return
	}
	writeJSON(w, http.StatusCreated, res.Post)
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	page, err := s.owner(r).ListPosts(r.Context(), filterFrom(r))
	if err != nil {
		s.fail(w, err, "Failed to fetch posts")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) searchPosts(w http.ResponseWriter, r *http.Request) {
	page, err := s.owner(r).SearchPosts(r.Context(), filterFrom(r))
	if err != nil {
		s.fail(w, err, "Search failed")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// aiSearchResponse is a page plus the terms the search actually used
type aiSearchResponse struct {
	domain.PostPage
	AITerms  []string `json:"aiTerms"`
	AITopics []string `json:"aiTopics"`
}

// directHits is how many direct matches make query expansion unnecessary
const directHits = 3

func (s *Server) searchAI(w http.ResponseWriter, r *http.Request) {
	f := filterFrom(r)
	q := strings.TrimSpace(f.Query)
	if q == "" {
		writeError(w, http.StatusBadRequest, "Query is required")
		return
	}
	f.Query = ""
	owner := s.owner(r)

	words := queryWords(q)
	terms := append([]string{q}, words...)
	direct, err := owner.SearchAny(r.Context(), terms, nil, f)
	if err != nil {
		s.fail(w, err, "AI search failed")
		return
	}
	if direct.Total >= directHits {
		writeJSON(w, http.StatusOK, aiSearchResponse{PostPage: direct, AITerms: words, AITopics: []string{}})
		return
	}

	expanded := s.enrich.ExpandQuery(r.Context(), q)
	page, err := owner.SearchAny(r.Context(), append(terms, expanded.Terms...), expanded.Topics, f)
	if err != nil {
		s.fail(w, err, "AI search failed")
		return
	}
	writeJSON(w, http.StatusOK, aiSearchResponse{PostPage: page, AITerms: expanded.Terms, AITopics: expanded.Topics})
}

// queryWords are the lowercase words of q with at least three characters
func queryWords(q string) []string {
	words := []string{}
	for _, w := range strings.Fields(strings.ToLower(q)) {
		if len([]rune(w)) >= 3 {
			words = append(words, w)
		}
	}
	return words
}

func (s *Server) groupPosts(w http.ResponseWriter, r *http.Request) {
	by := r.PathValue("by")
	if !store.ValidGroup(by) {
		writeError(w, http.StatusBadRequest, "Invalid group. Use: "+strings.Join(store.GroupKeys, ", "))
		return
	}

	groups, err := s.owner(r).Group(r.Context(), by)
	if err != nil {
		s.fail(w, err, "Grouping failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groupBy": by, "groups": groups})
}

type engagementRequest struct {
	Permalink  string             `json:"postUrl"`
	Engagement *domain.Engagement `json:"engagement"`
}

func (s *Server) updateEngagement(w http.ResponseWriter, r *http.Request) {
	var req engagementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Permalink) == "" || req.Engagement == nil {
		writeError(w, http.StatusBadRequest, "postUrl and engagement are required")
		return
	}

	if err := s.owner(r).UpdateEngagementByURL(r.Context(), req.Permalink, *req.Engagement); err != nil {
		s.fail(w, err, "Failed to update engagement")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (s *Server) updateTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	post, err := s.owner(r).UpdateTags(r.Context(), r.PathValue("id"), req.Tags)
	if err != nil {
		s.fail(w, err, "Failed to update tags")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) updateImages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Images []domain.MediaImage `json:"images"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	images := make([]domain.MediaImage, 0, len(req.Images))
	for _, img := range req.Images {
		if media.ValidDataURI(img.DataURI) {
			if img.MimeType == "" {
				img.MimeType = media.MimeType(img.DataURI)
			}
			images = append(images, img)
		}
	}
	if len(images) == 0 {
		writeError(w, http.StatusBadRequest, "no valid images")
		return
	}

	if err := s.owner(r).PatchMedia(r.Context(), r.PathValue("id"), images); err != nil {
		s.fail(w, err, "Failed to update images")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true, "count": len(images)})
}

// applyAnalysis stores metadata computed by a client. The client is expected
// to have consumed a quota unit through /api/quota/consume first.
func (s *Server) applyAnalysis(w http.ResponseWriter, r *http.Request) {
	var a domain.Analysis
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	post, err := s.owner(r).ApplyAnalysis(r.Context(), r.PathValue("id"), a)
	if err != nil {
		s.fail(w, err, "Failed to apply analysis")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) deletePost(w http.ResponseWriter, r *http.Request) {
	if err := s.owner(r).DeletePost(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, err, "Failed to delete post")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Post deleted"})
}

func quotaExceeded(w http.ResponseWriter, q domain.Quota) {
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":     fmt.Sprintf("Daily AI limit reached (%d/day). Adjust in Settings or try tomorrow.", q.Limit),
		"remaining": 0,
		"limit":     q.Limit,
	})
}

func (s *Server) analyzePost(w http.ResponseWriter, r *http.Request) {
	owner := s.owner(r)
	post, err := owner.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err, "Analysis failed")
		return
	}

	quota, err := owner.CheckAndIncrementQuota(r.Context())
	if err != nil {
		s.fail(w, err, "Analysis failed")
		return
	}
	if !quota.Allowed {
		quotaExceeded(w, quota)
		return
	}

	a := s.enrich.Analyze(r.Context(), post.BodyText)
	metrics.Enrichments.WithLabelValues(a.Source).Inc()
	post, err = owner.ApplyAnalysis(r.Context(), post.ID, a)
	if err != nil {
		s.fail(w, err, "Analysis failed")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		domain.SavedPost
		AIRemaining int `json:"aiRemaining"`
	}{post, quota.Remaining})
}

func (s *Server) analyzeBatch(w http.ResponseWriter, r *http.Request) {
	owner := s.owner(r)
	posts, err := owner.Unanalyzed(r.Context(), batchSize)
	if err != nil {
		s.fail(w, err, "Batch analysis failed")
		return
	}
	if len(posts) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"analyzed": 0, "message": "All posts are already analyzed"})
		return
	}

	analyzed := 0
	for _, post := range posts {
		quota, err := owner.CheckAndIncrementQuota(r.Context())
		if err != nil {
			s.fail(w, err, "Batch analysis failed")
			return
		}
		if !quota.Allowed {
			writeJSON(w, http.StatusOK, map[string]any{
				"analyzed": analyzed,
				"total":    len(posts),
				"message":  fmt.Sprintf("Stopped at %d/%d, daily AI limit reached (%d/day).", analyzed, len(posts), quota.Limit),
			})
			return
		}

		a := s.enrich.Analyze(r.Context(), post.BodyText)
		metrics.Enrichments.WithLabelValues(a.Source).Inc()
		if _, err := owner.ApplyAnalysis(r.Context(), post.ID, a); err != nil {
			s.log.Warn("batch analysis: apply failed", zap.String("post", post.ID), zap.Error(err))
			continue
		}
		analyzed++
	}

	writeJSON(w, http.StatusOK, map[string]any{"analyzed": analyzed, "total": len(posts)})
}

func (s *Server) consumeQuota(w http.ResponseWriter, r *http.Request) {
	quota, err := s.owner(r).CheckAndIncrementQuota(r.Context())
	if err != nil {
		s.fail(w, err, "Quota check failed")
		return
	}
	writeJSON(w, http.StatusOK, quota)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.owner(r).Settings(r.Context())
	if err != nil {
		s.fail(w, err, "Failed to get settings")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) patchSettings(w http.ResponseWriter, r *http.Request) {
	var patch domain.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	st, err := s.owner(r).UpdateSettings(r.Context(), patch)
	if err != nil {
		s.fail(w, err, "Failed to update settings")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func filterFrom(r *http.Request) domain.SearchFilter {
	q := r.URL.Query()
	return domain.SearchFilter{
		Query:     q.Get("q"),
		Author:    q.Get("author"),
		Topic:     q.Get("topic"),
		Tag:       q.Get("tag"),
		Sentiment: q.Get("sentiment"),
		Page:      intParam(q.Get("page")),
		Limit:     intParam(q.Get("limit")),
	}.Normalize()
}

func intParam(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// fail maps store errors to status codes; anything unexpected is logged
// and answered with msg.
func (s *Server) fail(w http.ResponseWriter, err error, msg string) {
	var invalid *domain.InvalidError
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Reason)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "Post not found")
	default:
		s.log.Error(strings.ToLower(msg), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
