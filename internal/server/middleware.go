package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"newsrec/internal/logger"
	"newsrec/internal/metrics"
)

// requestLogger writes one log line per request and records HTTP metrics.
// Metrics are labelled by route pattern so user ids do not blow up cardinality.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		duration := time.Since(start)

		metrics.RecordHTTPRequest(r.Method, route, status, duration)

		evt := logger.Get().Info()
		if status >= http.StatusInternalServerError {
			evt = logger.Get().Warn()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", duration).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
