package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nkiryanov/hospitaldesk/internal/logger"
)

// statusRecorder keeps the status and body size sent to the desk client
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

// routePattern is the matched chi route, so audit lines group by endpoint and not by ids in the path
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// RequestLogger binds a logger tagged with the request id to the request context
// and writes one access line per served desk call
func RequestLogger(l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			log := l.With("request_id", chimw.GetReqID(r.Context()))
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r.WithContext(logger.WithContext(r.Context(), log)))

			log.Info(
				"desk request served",
				"method", r.Method,
				"route", routePattern(r),
				"uri", r.RequestURI,
				"status", rec.status,
				"bytes", rec.bytes,
				"took", time.Since(started),
			)
		})
	}
}
