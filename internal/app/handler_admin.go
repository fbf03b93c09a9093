package app

import (
	"errors"
	"io"
	"net/http"

	"github.com/glmproxy/glmproxy/internal/config"
	"github.com/glmproxy/glmproxy/internal/core/domain"
)

func (s *Server) handleRoutingGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.router.Config())
}

// handleRoutingPut replaces the live routing config. Unknown keys are
// rejected so a typoed field never silently disables a rule.
func (s *Server) handleRoutingPut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(domain.OutcomeClientError), "failed to read request body")
		return
	}

	incoming, err := config.DecodeModelRoutingStrict(body)
	if err != nil {
		var unknown *domain.ErrUnknownConfigKey
		if errors.As(err, &unknown) {
			writeError(w, http.StatusBadRequest, string(domain.OutcomeClientError), unknown.Error())
			return
		}
		writeError(w, http.StatusBadRequest, string(domain.OutcomeClientError), "invalid routing config: "+err.Error())
		return
	}

	// Where the config persists is an operator decision, not an API one.
	current := s.app.router.Config()
	incoming.ConfigFile = current.ConfigFile

	warnings, err := s.app.router.UpdateConfig(*incoming)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(domain.OutcomeClientError), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"warnings": warnings,
	})
}

func (s *Server) handleRoutingReset(w http.ResponseWriter, r *http.Request) {
	current := s.app.router.Config()
	def := config.DefaultModelRoutingConfig()
	def.ConfigFile = current.ConfigFile
	def.PersistConfigEdits = current.PersistConfigEdits

	if _, err := s.app.router.UpdateConfig(def); err != nil {
		writeError(w, http.StatusInternalServerError, string(domain.OutcomeServerError), err.Error())
		return
	}
	s.app.router.ResetCooldowns()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type simulateRequest struct {
	Model    string `json:"model"`
	Features struct {
		MaxTokens    int  `json:"maxTokens"`
		MessageCount int  `json:"messageCount"`
		SystemLength int  `json:"systemLength"`
		HasTools     bool `json:"hasTools"`
		HasVision    bool `json:"hasVision"`
	} `json:"features"`
}

func (req *simulateRequest) features() domain.Features {
	return domain.Features{
		MaxTokens:    req.Features.MaxTokens,
		MessageCount: req.Features.MessageCount,
		SystemLength: req.Features.SystemLength,
		HasTools:     req.Features.HasTools,
		HasVision:    req.Features.HasVision,
	}
}

// handleRoutingSimulate answers "where would this request go" without
// touching the routing stats or cooldowns.
func (s *Server) handleRoutingSimulate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSimulate(w, r)
	if !ok {
		return
	}
	decision, err := s.app.router.Simulate(req.Model, req.features())
	if err != nil {
		writeError(w, http.StatusConflict, string(domain.OutcomeExhaustedModels), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// handleRoutingTest is the query-string flavour of simulate for quick
// curl checks.
func (s *Server) handleRoutingTest(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	if model == "" {
		writeError(w, http.StatusBadRequest, string(domain.OutcomeClientError), "model query parameter required")
		return
	}
	decision, err := s.app.router.Simulate(model, domain.Features{})
	if err != nil {
		writeError(w, http.StatusConflict, string(domain.OutcomeExhaustedModels), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// handleRoutingExplain pairs the simulated decision with the state that
// produced it, so an operator can see why a rule fired.
func (s *Server) handleRoutingExplain(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSimulate(w, r)
	if !ok {
		return
	}

	decision, err := s.app.router.Simulate(req.Model, req.features())
	response := map[string]any{
		"model":     req.Model,
		"features":  req.features(),
		"enabled":   s.app.router.Config().Enabled,
		"cooldowns": s.app.router.Cooldowns(),
	}
	if err != nil {
		response["error"] = err.Error()
		writeJSON(w, http.StatusOK, response)
		return
	}
	response["decision"] = decision
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleRoutingCooldowns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models": s.app.router.Cooldowns(),
		"pools":  s.app.cooldown.Snapshot(),
	})
}

func (s *Server) handleRoutingExport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"config": s.app.router.Config(),
		"stats":  s.app.router.Stats(),
	})
}

type overrideRequest struct {
	Model  string `json:"model"`
	Target string `json:"target"`
}

func (s *Server) handleOverridePut(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.app.router.SetOverride(req.Model, req.Target); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.OutcomeClientError), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "model": req.Model, "target": req.Target})
}

func (s *Server) handleOverrideDelete(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	if model == "" {
		var req overrideRequest
		if decodeJSONBody(w, r, &req) {
			model = req.Model
		} else {
			return
		}
	}
	if model == "" {
		writeError(w, http.StatusBadRequest, string(domain.OutcomeClientError), "model required")
		return
	}
	if err := s.app.router.DeleteOverride(model); err != nil {
		writeError(w, http.StatusInternalServerError, string(domain.OutcomeServerError), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "model": model})
}

func (s *Server) decodeSimulate(w http.ResponseWriter, r *http.Request) (*simulateRequest, bool) {
	var req simulateRequest
	if !decodeJSONBody(w, r, &req) {
		return nil, false
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, string(domain.OutcomeClientError), "model required")
		return nil, false
	}
	return &req, true
}
