package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pbaille/postkeep/internal/auth"
	"github.com/pbaille/postkeep/internal/domain"
	"github.com/pbaille/postkeep/internal/enrich"
	"github.com/pbaille/postkeep/internal/store"
)

type stubProvider struct {
	reply string
	calls atomic.Int32
}

func (p *stubProvider) Generate(ctx context.Context, r enrich.Request) (string, error) {
	p.calls.Add(1)
	return p.reply, nil
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Metered() bool { return false }

type testEnv struct {
	srv    *httptest.Server
	store  *store.Store
	signer *auth.Signer
	token  string
}

func newTestEnv(t *testing.T, p enrich.Provider, opts Options) *testEnv {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	signer, err := auth.NewSigner("a-test-secret-of-some-length", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	var ec *enrich.Client
	if p != nil {
		ec = enrich.NewClientWithConfig(p, enrich.Config{MaxInput: 1500, MinInput: 20, Timeout: time.Second}, nil)
	} else {
		ec = enrich.NewClient(nil, nil)
	}

	srv := httptest.NewServer(New(st, signer, ec, opts, nil).Handler())
	t.Cleanup(srv.Close)

	token, err := signer.Issue("owner-1", "Ada")
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{srv: srv, store: st, signer: signer, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func samplePost(body string) domain.ExtractedPost {
	return domain.ExtractedPost{
		AuthorName: "Alice Martin",
		BodyText:   body,
		Engagement: domain.Engagement{Likes: 3},
		CapturedAt: time.Now(),
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t, nil, Options{})

	resp, body := e.do(t, "GET", "/health", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}

	resp, err := http.Get(e.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestRequiresToken(t *testing.T) {
	e := newTestEnv(t, nil, Options{})

	for _, token := range []string{"", "not-a-jwt"} {
		resp, _ := e.do(t, "GET", "/api/posts", token, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d", token, resp.StatusCode)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t, nil, Options{})

	req, _ := http.NewRequest(http.MethodOptions, e.srv.URL+"/api/posts", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Errorf("allow headers = %q", resp.Header.Get("Access-Control-Allow-Headers"))
	}
}

func TestCreatePost(t *testing.T) {
	e := newTestEnv(t, nil, Options{})
	post := samplePost("Shipping a new fraud detection pipeline this week, lessons inside.")

	resp, first := e.do(t, "POST", "/api/posts", e.token, post)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d %v", resp.StatusCode, first)
	}
	if first["id"] == "" || first["ownerId"] != "owner-1" {
		t.Errorf("created = %v", first)
	}

	resp, dup := e.do(t, "POST", "/api/posts", e.token, post)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d", resp.StatusCode)
	}
	if dup["error"] != "Post already saved" {
		t.Errorf("duplicate error = %v", dup["error"])
	}
	existing, _ := dup["post"].(map[string]any)
	if existing["id"] != first["id"] {
		t.Errorf("duplicate points at %v, want %v", existing["id"], first["id"])
	}

	resp, _ = e.do(t, "POST", "/api/posts", e.token, domain.ExtractedPost{BodyText: "no author here at all, just text"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing author status = %d", resp.StatusCode)
	}
}

func TestSaveRateLimit(t *testing.T) {
	e := newTestEnv(t, nil, Options{SavesPerMinute: 2})

	bodies := []string{
		"First post body long enough to be saved.",
		"Second post body long enough to be saved.",
		"Third post body long enough to be saved.",
	}
	var last *http.Response
	for _, b := range bodies {
		last, _ = e.do(t, "POST", "/api/posts", e.token, samplePost(b))
	}
	if last.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third save status = %d", last.StatusCode)
	}
	if last.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// another owner has its own budget
	other, _ := e.signer.Issue("owner-2", "")
	resp, _ := e.do(t, "POST", "/api/posts", other, samplePost(bodies[2]))
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("other owner status = %d", resp.StatusCode)
	}
}

func TestListAndSearch(t *testing.T) {
	e := newTestEnv(t, nil, Options{})
	for _, b := range []string{
		"Kubernetes operators in production, what we learned.",
		"Hiring two senior designers for our Paris studio.",
	} {
		e.do(t, "POST", "/api/posts", e.token, samplePost(b))
	}

	resp, page := e.do(t, "GET", "/api/posts?limit=1", e.token, nil)
	if resp.StatusCode != http.StatusOK || page["total"] != float64(2) || page["totalPages"] != float64(2) {
		t.Errorf("list = %d %v", resp.StatusCode, page)
	}

	_, page = e.do(t, "GET", "/api/posts/search?q=designers", e.token, nil)
	if page["total"] != float64(1) {
		t.Errorf("search total = %v", page["total"])
	}
}

func TestSearchAI(t *testing.T) {
	p := &stubProvider{reply: `{"terms":["fraud detection"],"topics":["Engineering"],"sentiment":""}`}
	e := newTestEnv(t, p, Options{})
	for _, b := range []string{
		"Golang generics are finally useful for our team.",
		"Golang in production: three years later.",
		"Why golang is our default backend language.",
		"Our fraud detection models now run in real time.",
	} {
		e.do(t, "POST", "/api/posts", e.token, samplePost(b))
	}

	t.Run("direct hits skip expansion", func(t *testing.T) {
		_, page := e.do(t, "GET", "/api/posts/search/ai?q=golang", e.token, nil)
		if page["total"] != float64(3) {
			t.Errorf("total = %v", page["total"])
		}
		if terms, _ := page["aiTerms"].([]any); len(terms) != 1 || terms[0] != "golang" {
			t.Errorf("aiTerms = %v", page["aiTerms"])
		}
		if p.calls.Load() != 0 {
			t.Errorf("provider called %d times", p.calls.Load())
		}
	})

	t.Run("few hits expand the query", func(t *testing.T) {
		_, page := e.do(t, "GET", "/api/posts/search/ai?q=risk", e.token, nil)
		if page["total"] != float64(1) {
			t.Errorf("total = %v", page["total"])
		}
		if topics, _ := page["aiTopics"].([]any); len(topics) != 1 || topics[0] != "Engineering" {
			t.Errorf("aiTopics = %v", page["aiTopics"])
		}
		if p.calls.Load() != 1 {
			t.Errorf("provider called %d times", p.calls.Load())
		}
	})

	t.Run("query required", func(t *testing.T) {
		resp, _ := e.do(t, "GET", "/api/posts/search/ai", e.token, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})
}

func TestGroup(t *testing.T) {
	e := newTestEnv(t, nil, Options{})
	e.do(t, "POST", "/api/posts", e.token, samplePost("A post worth grouping by its author name."))

	resp, body := e.do(t, "GET", "/api/posts/group/author", e.token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	groups, _ := body["groups"].([]any)
	if len(groups) != 1 {
		t.Fatalf("groups = %v", body["groups"])
	}
	if g := groups[0].(map[string]any); g["key"] != "Alice Martin" || g["count"] != float64(1) {
		t.Errorf("group = %v", g)
	}

	resp, _ = e.do(t, "GET", "/api/posts/group/color", e.token, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid group status = %d", resp.StatusCode)
	}
}

func TestEngagementByURL(t *testing.T) {
	e := newTestEnv(t, nil, Options{})
	post := samplePost("Post with a permalink that gets fresh counters later.")
	post.Permalink = "https://www.linkedin.com/feed/update/urn:li:activity:42/"
	post.PermalinkCanonical = true
	e.do(t, "POST", "/api/posts", e.token, post)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"updated", engagementRequest{Permalink: post.Permalink, Engagement: &domain.Engagement{Likes: 10}}, http.StatusOK},
		{"unknown url", engagementRequest{Permalink: "https://www.linkedin.com/feed/update/urn:li:activity:7/", Engagement: &domain.Engagement{Likes: 1}}, http.StatusNotFound},
		{"missing engagement", map[string]string{"postUrl": post.Permalink}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := e.do(t, "PATCH", "/api/posts/engagement-by-url", e.token, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestTagsImagesDelete(t *testing.T) {
	e := newTestEnv(t, nil, Options{})
	_, created := e.do(t, "POST", "/api/posts", e.token, samplePost("A post that will be tagged and then deleted."))
	id := created["id"].(string)

	resp, post := e.do(t, "PATCH", "/api/posts/"+id+"/tags", e.token, map[string]any{"tags": []string{"go", "tips"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tags status = %d", resp.StatusCode)
	}
	if tags, _ := post["tags"].([]any); len(tags) != 2 {
		t.Errorf("tags = %v", post["tags"])
	}

	valid := domain.MediaImage{URL: "https://media.licdn.com/a.png", DataURI: "data:image/png;base64," + strings.Repeat("A", 60)}
	bogus := domain.MediaImage{URL: "https://media.licdn.com/b.png", DataURI: "data:text/html;base64,PGgxPg=="}

	resp, _ = e.do(t, "PATCH", "/api/posts/"+id+"/images", e.token, map[string]any{"images": []domain.MediaImage{bogus}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus images status = %d", resp.StatusCode)
	}
	resp, body := e.do(t, "PATCH", "/api/posts/"+id+"/images", e.token, map[string]any{"images": []domain.MediaImage{valid, bogus}})
	if resp.StatusCode != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("images = %d %v", resp.StatusCode, body)
	}

	other, _ := e.signer.Issue("owner-2", "")
	resp, _ = e.do(t, "DELETE", "/api/posts/"+id, other, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-owner delete status = %d", resp.StatusCode)
	}
	resp, _ = e.do(t, "DELETE", "/api/posts/"+id, e.token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
}

func TestAnalyzeQuota(t *testing.T) {
	e := newTestEnv(t, nil, Options{})
	_, created := e.do(t, "POST", "/api/posts", e.token,
		samplePost("We are hiring a backend engineer to build our machine learning platform."))
	id := created["id"].(string)

	resp, _ := e.do(t, "PATCH", "/api/settings", e.token, map[string]any{"dailyLimit": 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settings status = %d", resp.StatusCode)
	}

	resp, post := e.do(t, "POST", "/api/posts/"+id+"/analyze", e.token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze status = %d %v", resp.StatusCode, post)
	}
	if post["aiAnalyzed"] != true || post["aiRemaining"] != float64(0) || post["topic"] == "" {
		t.Errorf("analyzed post = %v", post)
	}

	resp, body := e.do(t, "POST", "/api/posts/"+id+"/analyze", e.token, nil)
	if resp.StatusCode != http.StatusTooManyRequests || body["limit"] != float64(1) {
		t.Errorf("over quota = %d %v", resp.StatusCode, body)
	}

	resp, _ = e.do(t, "POST", "/api/posts/missing/analyze", e.token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing post status = %d", resp.StatusCode)
	}

	_, st := e.do(t, "GET", "/api/settings", e.token, nil)
	if st["used"] != float64(1) || st["remaining"] != float64(0) {
		t.Errorf("settings = %v", st)
	}
}

func TestAnalyzeBatch(t *testing.T) {
	e := newTestEnv(t, nil, Options{})

	_, body := e.do(t, "POST", "/api/posts/analyze-batch", e.token, nil)
	if body["analyzed"] != float64(0) {
		t.Errorf("empty batch = %v", body)
	}

	for _, b := range []string{
		"Leadership lessons from ten years of running remote teams.",
		"A short guide to pricing your first SaaS product.",
	} {
		e.do(t, "POST", "/api/posts", e.token, samplePost(b))
	}
	e.do(t, "PATCH", "/api/settings", e.token, map[string]any{"dailyLimit": 1})

	resp, body := e.do(t, "POST", "/api/posts/analyze-batch", e.token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["analyzed"] != float64(1) || body["total"] != float64(2) || body["message"] == nil {
		t.Errorf("batch = %v", body)
	}
}

func TestQuotaAndSettings(t *testing.T) {
	e := newTestEnv(t, nil, Options{})
	e.do(t, "PATCH", "/api/settings", e.token, map[string]any{"dailyLimit": 2})

	var allowed []any
	for range 3 {
		_, q := e.do(t, "POST", "/api/quota/consume", e.token, nil)
		allowed = append(allowed, q["allowed"])
	}
	if allowed[0] != true || allowed[1] != true || allowed[2] != false {
		t.Errorf("allowed = %v", allowed)
	}

	tests := []struct {
		name string
		body any
		want int
	}{
		{"empty patch", map[string]any{}, http.StatusBadRequest},
		{"limit too high", map[string]any{"dailyLimit": 1000}, http.StatusBadRequest},
		{"auto analyze off", map[string]any{"autoAnalyze": false}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := e.do(t, "PATCH", "/api/settings", e.token, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	_, st := e.do(t, "GET", "/api/settings", e.token, nil)
	if st["autoAnalyze"] != false || st["label"] != "Ada" {
		t.Errorf("settings = %v", st)
	}
}
