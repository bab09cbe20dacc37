package ingest

import (
	"context"
	"net/http"

	"github.com/raceboard/server/internal/telemetry/metrics"
)

// chain wraps a handler with the fixed middleware order every ingestion
// route shares: body size cap, request deadline, read-only gate, then
// request duration measurement around the handler itself.
func (s *Server) chain(h http.HandlerFunc) http.Handler {
	wrapped := s.withMetrics(h)
	wrapped = s.withReadOnlyGate(wrapped)
	wrapped = s.withDeadline(wrapped)
	return s.withBodyLimit(wrapped)
}

func (s *Server) withBodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withDeadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.reqTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) withReadOnlyGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.readOnly {
			w.Header().Set("X-Server-Read-Only", "1")
			writeError(w, readOnlyErr())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code the handler wrote, the same
// wrapped-ResponseWriter trick the teacher's metrics middleware uses so the
// histogram label reflects what was actually sent, not an assumed 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) withMetrics(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.StartTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		route := r.URL.Path
		if tpl, err := routeTemplate(r); err == nil {
			route = tpl
		}
		labels := map[string]string{
			"method": r.Method,
			"route":  route,
			"status": statusClass(rec.status),
		}
		s.metrics.IncCounter("ingest_requests_total", labels, 1)
		timer.ObserveSeconds(s.metrics, "ingest_request_duration_seconds", labels)
	})
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
