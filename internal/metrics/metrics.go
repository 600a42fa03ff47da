// Package metrics holds the Prometheus collectors shared by every context.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Saves counts save attempts by outcome.
	Saves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postkeep_saves_total",
		Help: "Save attempts by outcome.",
	}, []string{"outcome"})

	// Enrichments counts enrichment runs by result.
	Enrichments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postkeep_enrichments_total",
		Help: "Enrichment runs by result.",
	}, []string{"result"})

	// Media counts media pipeline runs by result.
	Media = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postkeep_media_total",
		Help: "Media pipeline runs by result.",
	}, []string{"result"})

	// RateLimited counts actions refused by a rate guard.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postkeep_rate_limited_total",
		Help: "Actions refused by a rate guard, by context.",
	}, []string{"context"})

	// Extractions counts extraction attempts by result.
	Extractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postkeep_extractions_total",
		Help: "Post extraction attempts by result.",
	}, []string{"result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "postkeep_http_request_duration_seconds",
		Help:    "API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument records the latency of every request by matched route.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		requestDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
