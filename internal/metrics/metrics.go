package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the recommendation pipeline, the model
// gateway, article ingestion and the HTTP surface.

var (
	// Recommendation Metrics
	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsrec_recommendations_total",
			Help: "Total number of recommendation requests",
		},
		[]string{"outcome", "path"}, // path: "topics" or "cold_start"
	)

	RecommendationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsrec_recommendation_duration_seconds",
			Help:    "End-to-end duration of a recommendation request",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 90},
		},
	)

	AdjustmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsrec_adjustments_total",
			Help: "Total number of preference adjustment requests",
		},
		[]string{"outcome", "preferences_updated"},
	)

	ClicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsrec_clicks_total",
			Help: "Total number of recorded clicks",
		},
	)

	// Model Gateway Metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsrec_llm_requests_total",
			Help: "Total number of model completions by response shape and outcome",
		},
		[]string{"shape", "outcome"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsrec_llm_request_duration_seconds",
			Help:    "Duration of model completions including retries",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"shape"},
	)

	LLMRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsrec_llm_retries_total",
			Help: "Total number of retried model completions",
		},
		[]string{"shape"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "newsrec_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsrec_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Article Store Metrics
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsrec_refresh_total",
			Help: "Total number of ingestion cycles",
		},
		[]string{"outcome"},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsrec_refresh_duration_seconds",
			Help:    "Duration of ingestion cycles",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	ArticlesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsrec_articles_ingested_total",
			Help: "Total number of articles upserted into the store",
		},
	)

	ArticlesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsrec_articles_pruned_total",
			Help: "Total number of stale articles removed from the store",
		},
	)

	FeedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsrec_feed_errors_total",
			Help: "Total number of feeds that failed to fetch or parse",
		},
		[]string{"feed"},
	)

	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsrec_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsrec_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 90},
		},
		[]string{"method", "route"},
	)
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordRecommendation records one recommendation request.
func RecordRecommendation(path string, duration time.Duration, err error) {
	RecommendationsTotal.WithLabelValues(outcome(err), path).Inc()
	RecommendationDuration.Observe(duration.Seconds())
}

// RecordAdjustment records one adjustment request.
func RecordAdjustment(updated bool, err error) {
	AdjustmentsTotal.WithLabelValues(outcome(err), strconv.FormatBool(updated)).Inc()
}

// RecordLLMRequest records a completed model call for the given shape.
func RecordLLMRequest(shape string, duration time.Duration, err error) {
	LLMRequestsTotal.WithLabelValues(shape, outcome(err)).Inc()
	LLMRequestDuration.WithLabelValues(shape).Observe(duration.Seconds())
}

// RecordRefresh records an ingestion cycle.
func RecordRefresh(duration time.Duration, stored, pruned int, err error) {
	RefreshTotal.WithLabelValues(outcome(err)).Inc()
	RefreshDuration.Observe(duration.Seconds())
	ArticlesIngested.Add(float64(stored))
	ArticlesPruned.Add(float64(pruned))
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
