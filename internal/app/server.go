package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/glmproxy/glmproxy/internal/core/constants"
	"github.com/glmproxy/glmproxy/internal/logger"
)

// Server owns the HTTP listener and the route table.
type Server struct {
	app    *Application
	http   *http.Server
	logger *logger.StyledLogger
}

func NewServer(app *Application) *Server {
	s := &Server{app: app, logger: app.logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", s.handleProxy)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", app.metrics.Handler())

	mux.HandleFunc("GET /model-routing", s.handleRoutingGet)
	mux.HandleFunc("PUT /model-routing", s.handleRoutingPut)
	mux.HandleFunc("POST /model-routing/reset", s.handleRoutingReset)
	mux.HandleFunc("POST /model-routing/simulate", s.handleRoutingSimulate)
	mux.HandleFunc("GET /model-routing/test", s.handleRoutingTest)
	mux.HandleFunc("POST /model-routing/explain", s.handleRoutingExplain)
	mux.HandleFunc("GET /model-routing/cooldowns", s.handleRoutingCooldowns)
	mux.HandleFunc("GET /model-routing/export", s.handleRoutingExport)
	mux.HandleFunc("PUT /model-routing/overrides", s.handleOverridePut)
	mux.HandleFunc("DELETE /model-routing/overrides", s.handleOverrideDelete)

	cfg := app.config.Server
	s.http = &http.Server{
		Addr:         cfg.GetAddress(),
		Handler:      s.withMiddleware(mux),
		ReadTimeout:  time.Duration(cfg.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.WriteTimeoutMs) * time.Millisecond,
	}
	return s
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info("Listening", "address", s.http.Addr)
	}
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the full route table for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSONBody decodes a small admin payload, answering 400 itself on
// malformed input. Returns false when the response was already written.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "client_error", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeError emits the canonical error envelope clients expect from
// Anthropic-compatible APIs.
func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"type":    kind,
			"message": message,
		},
	})
}
