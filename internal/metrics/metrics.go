package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifeos_ingest_cycles_total",
		Help: "Total number of ingestion cycles by result.",
	}, []string{"result"})

	ingestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lifeos_ingest_cycle_duration_seconds",
		Help:    "Histogram of ingestion cycle latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	threadFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifeos_thread_fetch_failures_total",
		Help: "Total number of thread detail fetches dropped from a cycle.",
	})

	analysisFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifeos_analysis_fallbacks_total",
		Help: "Total number of summarizer failures answered with the fallback analysis.",
	})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifeos_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route", "status"})
)

// ObserveCycle records one ingestion cycle.
func ObserveCycle(result string, start time.Time) {
	ingestCycles.WithLabelValues(result).Inc()
	ingestDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

func ThreadFetchFailed() { threadFetchFailures.Inc() }

func AnalysisFallback() { analysisFallbacks.Inc() }

// Middleware counts requests per route pattern.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			httpRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(ww.Status())).Inc()
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
