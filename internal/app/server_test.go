package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glmproxy/glmproxy/internal/config"
	"github.com/glmproxy/glmproxy/internal/core/constants"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) *Application {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.ModelRouting.ConfigFile = ""
	cfg.ModelRouting.PersistConfigEdits = false
	// no credentials are loaded, so proxy requests park in the queue;
	// a short timeout keeps those tests fast
	cfg.Dispatch.QueueTimeoutMs = 20
	if mutate != nil {
		mutate(cfg)
	}

	app, err := NewWithConfig(time.Now(), cfg, nil)
	require.NoError(t, err)
	return app
}

func doRequest(app *Application, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	app.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doRequest(app, "GET", "/health", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload["status"])
	assert.NotEmpty(t, payload["version"])
}

func TestMetricsEndpointExposesRoutingGauges(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doRequest(app, "GET", "/metrics", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "glm_proxy_model_routing_enabled 1")
	assert.Contains(t, body, "glm_proxy_model_routing_cooldowns_active 0")
	assert.Contains(t, body, "glm_proxy_model_routing_overrides_active 0")
}

func TestRequestIDAssignedAndEchoed(t *testing.T) {
	app := newTestApp(t, nil)

	rec := doRequest(app, "GET", "/health", "", nil)
	assert.NotEmpty(t, rec.Header().Get(constants.HeaderRequestID))

	rec = doRequest(app, "GET", "/health", "", map[string]string{
		constants.HeaderRequestID: "caller-supplied-id",
	})
	assert.Equal(t, "caller-supplied-id", rec.Header().Get(constants.HeaderRequestID))
}

func TestProxyRejectsMissingProxyKey(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.Auth.ProxyKeys = []string{"proxy-secret"}
	})

	rec := doRequest(app, "POST", "/v1/messages", `{"model":"glm-4.5"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var payload struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "auth_error", payload.Error.Type)
}

func TestProxyTimesOutWithNoCredentials(t *testing.T) {
	// no keys are configured, so the request queues for a slot that never
	// frees and times out with the canonical error envelope
	app := newTestApp(t, nil)

	rec := doRequest(app, "POST", "/v1/messages",
		`{"model":"claude-3-5-haiku","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusRequestTimeout, rec.Code)

	var payload struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "queue_timeout", payload.Error.Type)
}

func TestProxyAcceptsBearerProxyKey(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.Auth.ProxyKeys = []string{"proxy-secret"}
	})

	rec := doRequest(app, "POST", "/v1/messages", `{"model":"glm-4.5"}`, map[string]string{
		"Authorization": "Bearer proxy-secret",
	})
	// past auth; fails later in dispatch, not with 401
	assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
}

func TestFlatKeysServeDefaultProviderRequests(t *testing.T) {
	// a bare keys list and no providers block is the minimal deployment;
	// those credentials must be acquirable for default-provider dispatch
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.Keys = []any{"sk-flat-111111", "sk-flat-222222"}
	})

	grant := app.keys.AcquireKey(nil, app.registry.DefaultProvider())
	require.NotNil(t, grant)
	app.keys.RecordSuccess(grant, 0)
}

func TestRoutingGetReturnsActiveConfig(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doRequest(app, "GET", "/model-routing", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var cfg config.ModelRoutingConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.True(t, cfg.Enabled)
	assert.Len(t, cfg.Tiers, 3)
}

func TestRoutingPutRejectsUnknownKey(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doRequest(app, "PUT", "/model-routing", `{"enabled": true, "tierz": {}}`, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown configuration key: tierz")
}

func TestRoutingPutRejectsInvalidConfig(t *testing.T) {
	app := newTestApp(t, nil)
	body := `{"enabled": true, "tiers": {"light": {"models": []}}, "failover": {"maxModelSwitchesPerRequest": 2}}`
	rec := doRequest(app, "PUT", "/model-routing", body, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "has no models")
}

func TestRoutingPutSwapsConfig(t *testing.T) {
	app := newTestApp(t, nil)

	next := config.DefaultModelRoutingConfig()
	next.Enabled = false
	next.ConfigFile = ""
	next.PersistConfigEdits = false
	body, err := json.Marshal(next)
	require.NoError(t, err)

	rec := doRequest(app, "PUT", "/model-routing", string(body), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.False(t, app.router.Config().Enabled)
}

func TestRoutingResetRestoresDefaults(t *testing.T) {
	app := newTestApp(t, nil)
	require.NoError(t, app.router.SetOverride("claude-3-opus", "glm-4.6"))

	rec := doRequest(app, "POST", "/model-routing/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, app.router.OverrideCount())
}

func TestRoutingSimulate(t *testing.T) {
	app := newTestApp(t, nil)

	rec := doRequest(app, "POST", "/model-routing/simulate",
		`{"model":"claude-3-haiku","features":{"maxTokens":100}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var decision struct {
		Tier          string `json:"tier"`
		SelectedModel string `json:"selectedModel"`
		Provider      string `json:"provider"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, "light", decision.Tier)
	assert.Equal(t, "glm-4.5-air", decision.SelectedModel)
	assert.Equal(t, "z.ai", decision.Provider)
}

func TestRoutingSimulateRequiresModel(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doRequest(app, "POST", "/model-routing/simulate", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoutingTestQueryFlavour(t *testing.T) {
	app := newTestApp(t, nil)

	rec := doRequest(app, "GET", "/model-routing/test?model=claude-3-opus", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tier":"heavy"`)

	rec = doRequest(app, "GET", "/model-routing/test", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoutingExplainIncludesState(t *testing.T) {
	app := newTestApp(t, nil)

	rec := doRequest(app, "POST", "/model-routing/explain", `{"model":"claude-3-haiku"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "claude-3-haiku", payload["model"])
	assert.Contains(t, payload, "decision")
	assert.Contains(t, payload, "cooldowns")
	assert.Equal(t, true, payload["enabled"])
}

func TestOverrideLifecycle(t *testing.T) {
	app := newTestApp(t, nil)

	rec := doRequest(app, "PUT", "/model-routing/overrides",
		`{"model":"claude-3-opus","target":"glm-4.6"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, app.router.OverrideCount())

	rec = doRequest(app, "DELETE", "/model-routing/overrides?model=claude-3-opus", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, app.router.OverrideCount())
}

func TestOverridePutRequiresBothFields(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doRequest(app, "PUT", "/model-routing/overrides", `{"model":"claude-3-opus"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCooldownsEndpoint(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doRequest(app, "GET", "/model-routing/cooldowns", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload, "models")
	assert.Contains(t, payload, "pools")
}

func TestStatsEndpoint(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doRequest(app, "GET", "/stats", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload, "providers")
	assert.Contains(t, payload, "queue")
	assert.Contains(t, payload, "routing")

	registry, ok := payload["registry"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "z.ai", registry["defaultProvider"])
}

func TestRoutingExport(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doRequest(app, "GET", "/model-routing/export", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload, "config")
	assert.Contains(t, payload, "stats")
}
