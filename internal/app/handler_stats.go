package app

import (
	"net/http"
	"time"

	"github.com/glmproxy/glmproxy/internal/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Version,
		"uptime":  time.Since(s.app.startTime).Round(time.Second).String(),
	})
}

// handleStats is the operator dashboard in one payload: credential health,
// queue pressure, routing counters, and active cooldowns.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	app := s.app
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":    time.Since(app.startTime).Round(time.Second).String(),
		"providers": app.keys.ProviderHealthStats(),
		"credentials": map[string]any{
			"snapshot": app.keys.Snapshot(),
			"inFlight": app.keys.TotalInFlight(),
		},
		"queue":   app.queue.Stats(),
		"routing": app.router.Stats(),
		"cooldowns": map[string]any{
			"models": app.router.Cooldowns(),
			"pools":  app.cooldown.Snapshot(),
		},
		"registry": map[string]any{
			"providers":             app.registry.ProviderNames(),
			"defaultProvider":       app.registry.DefaultProvider(),
			"silentDefaultInjected": app.registry.SilentDefaultInjected(),
		},
	})
}
