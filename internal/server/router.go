package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/tabula/common/httputil"
	"github.com/telhawk-systems/tabula/common/logging"
	"github.com/telhawk-systems/tabula/common/middleware"
	"github.com/telhawk-systems/tabula/internal/handlers"
	"github.com/telhawk-systems/tabula/internal/metrics"
)

// NewRouter constructs a ServeMux with the tabula API routes registered.
func NewRouter(h *handlers.Handler, cors middleware.CORSConfig, logger *logging.Logger) http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, instrument(pattern, fn, logger))
	}

	// Infrastructure
	route("GET /healthz", h.HealthCheck)
	route("GET /readyz", h.ReadyCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Conversion
	route("POST /api/convert", h.Convert)

	// History
	route("GET /api/history", h.ListHistory)
	route("DELETE /api/history", h.ClearHistory)
	route("GET /api/history/{id}", h.GetHistoryItem)

	// Identity
	route("GET /api/me", h.WhoAmI)

	// Scheduler
	route("GET /api/cron/keep-alive", h.KeepAlive)

	return middleware.RequestID(middleware.CORS(cors)(mux))
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument records request metrics under pattern and writes one access
// log line per request.
func instrument(pattern string, next http.Handler, logger *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		metrics.RequestsTotal.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(pattern).Observe(elapsed.Seconds())

		logger.WithContext(r.Context()).Info("request completed",
			logging.Method(r.Method),
			logging.Path(r.URL.Path),
			logging.Status(rec.status),
			logging.Duration(elapsed.Milliseconds()),
			logging.ClientKey(httputil.ClientKey(r)))
	})
}
