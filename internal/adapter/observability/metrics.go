package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_polls_total",
			Help: "Total number of source polls by outcome",
		},
		[]string{"outcome"},
	)
	ItemsDiscoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_items_discovered_total",
			Help: "Total number of fresh items discovered by the polling scheduler",
		},
	)
	ScoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_scores_total",
			Help: "Total number of scoring attempts by outcome",
		},
		[]string{"outcome"},
	)
	RankHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_item_rank",
			Help:    "Distribution of ranks assigned by the scoring service",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)
	PublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_publishes_total",
			Help: "Total number of publish attempts by outcome",
		},
		[]string{"outcome"},
	)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Current number of slots per queue",
		},
		[]string{"queue"},
	)
)

// Poll outcomes.
const (
	PollNewItems    = "new_items"
	PollNoItems     = "no_items"
	PollDecodeError = "decode_error"
	PollStoreError  = "store_error"
)

// Score outcomes.
const (
	ScoreOK    = "scored"
	ScoreZero  = "zero"
	ScoreError = "error"
)

// Publish outcomes.
const (
	PublishOK          = "published"
	PublishSkipped     = "skipped"
	PublishRateLimited = "rate_limited"
	PublishFailed      = "failed"
)

// InitMetrics registers all collectors once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(PollsTotal)
	prometheus.MustRegister(ItemsDiscoveredTotal)
	prometheus.MustRegister(ScoresTotal)
	prometheus.MustRegister(RankHistogram)
	prometheus.MustRegister(PublishesTotal)
	prometheus.MustRegister(QueueDepth)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObservePoll records one polling iteration.
func ObservePoll(outcome string, newItems int) {
	PollsTotal.WithLabelValues(outcome).Inc()
	if newItems > 0 {
		ItemsDiscoveredTotal.Add(float64(newItems))
	}
}

// ObserveScore records one scoring attempt; rank is observed only on success.
func ObserveScore(outcome string, rank float64) {
	ScoresTotal.WithLabelValues(outcome).Inc()
	if outcome == ScoreOK {
		RankHistogram.Observe(rank)
	}
}

// ObservePublish records one publish attempt.
func ObservePublish(outcome string) {
	PublishesTotal.WithLabelValues(outcome).Inc()
}

// SetQueueDepth updates the depth gauge for one queue.
func SetQueueDepth(queue string, depth int64) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}
