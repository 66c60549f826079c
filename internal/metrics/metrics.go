package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabula_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabula_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Rate limiting metrics
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabula_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"policy"},
	)

	RateLimitEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabula_rate_limit_entries",
			Help: "Current number of live in-memory rate limit windows",
		},
	)

	RateLimitSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabula_rate_limit_swept_total",
			Help: "Total number of expired rate limit windows removed by the sweeper",
		},
	)

	// Auth metrics
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabula_auth_failures_total",
			Help: "Total number of rejected credentials by reason",
		},
		[]string{"reason"},
	)

	IdentityCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabula_identity_cache_hits_total",
			Help: "Total number of token verifications answered from cache",
		},
	)

	// Conversion metrics
	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabula_conversions_total",
			Help: "Total number of conversions by outcome kind",
		},
		[]string{"outcome"},
	)

	ConversionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabula_conversion_duration_seconds",
			Help:    "Duration of spreadsheet parsing and projection in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabula_upload_bytes",
			Help:    "Size of uploaded spreadsheets in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	// History metrics
	HistoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabula_history_writes_total",
			Help: "Total number of history writes by result",
		},
		[]string{"result"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabula_events_published_total",
			Help: "Total number of bus events by subject and result",
		},
		[]string{"subject", "result"},
	)
)
