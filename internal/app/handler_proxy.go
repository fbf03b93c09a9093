package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/glmproxy/glmproxy/internal/core/constants"
	"github.com/glmproxy/glmproxy/internal/core/domain"
)

// handleProxy is the hot path: authenticate the proxy key, read the body
// once, and hand the job to the dispatch controller. Everything after that
// (routing, credential selection, retries, streaming) lives behind Dispatch.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, string(domain.OutcomeAuthError), "invalid or missing proxy key")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.DefaultMaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, string(domain.OutcomeClientError), "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, string(domain.OutcomeClientError), "failed to read request body")
		return
	}

	requestID := r.Header.Get(constants.HeaderRequestID)
	job := domain.NewJob(requestID, r.Method, r.URL.Path, r.Header, body)

	ctx, cancel := context.WithTimeout(r.Context(), s.app.config.Dispatch.GetRequestTimeout())
	defer cancel()

	derr := s.app.controller.Dispatch(ctx, job, w)
	if derr == nil {
		return
	}

	// Upstream error bodies pass through verbatim so clients see the
	// provider's own diagnostics. Everything else gets the canonical shape.
	if len(derr.Body) > 0 {
		w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
		w.WriteHeader(derr.Status)
		_, _ = w.Write(derr.Body)
		return
	}
	writeError(w, derr.Status, string(derr.Outcome), derr.Message)
}

// authorized checks the downstream proxy key. An empty ProxyKeys list means
// the proxy runs open, for local or network-isolated deployments.
func (s *Server) authorized(r *http.Request) bool {
	keys := s.app.config.Auth.ProxyKeys
	if len(keys) == 0 {
		return true
	}

	presented := r.Header.Get("x-api-key")
	if presented == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			presented = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if presented == "" {
		return false
	}
	for _, k := range keys {
		if k == presented {
			return true
		}
	}
	return false
}
