package app

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/glmproxy/glmproxy/internal/core/constants"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// statusRecorder captures the response code for the access log without
// interfering with streaming writers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return s.recoverPanics(s.requestID(s.accessLog(next)))
}

// requestID tags every request with an ID. A client-supplied header wins so
// callers can correlate retried requests end to end.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(constants.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(constants.HeaderRequestID, id)
		r.Header.Set(constants.HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		if s.logger != nil {
			s.logger.Debug("Request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
				"request_id", r.Header.Get(constants.HeaderRequestID))
		}
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if s.logger != nil {
					s.logger.Error("Handler panic",
						"path", r.URL.Path,
						"panic", rec,
						"stack", string(debug.Stack()))
				}
				writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
