package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestInstrumentLabelsRoute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Instrument(mux)

	for _, path := range []string{"/things/1", "/things/2", "/nowhere"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	out := scrape(t)
	for _, want := range []string{
		`route="GET /things/{id}"`,
		`code="418"`,
		`route="unmatched"`,
		`code="404"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
	if strings.Contains(out, `/things/1"`) {
		t.Error("raw path leaked into route label")
	}
}

func TestCountersExposed(t *testing.T) {
	Saves.WithLabelValues("committed").Inc()
	RateLimited.WithLabelValues("agent").Inc()

	out := scrape(t)
	for _, want := range []string{
		`postkeep_saves_total{outcome="committed"}`,
		`postkeep_rate_limited_total{context="agent"}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
