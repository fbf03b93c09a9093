// Package registry resolves incoming model names to upstream providers and
// formats each provider's authentication header.
package registry

import (
	"sort"
	"sync"

	"github.com/glmproxy/glmproxy/internal/core/domain"
	"github.com/glmproxy/glmproxy/internal/core/ports"
	"github.com/glmproxy/glmproxy/internal/logger"
)

// DefaultProviderName is injected when the config names no providers at all,
// or names providers without marking one as the catch-all.
const DefaultProviderName = "z.ai"

func defaultProviderConfig() domain.ProviderConfig {
	return domain.ProviderConfig{
		TargetHost:     "api.z.ai",
		TargetBasePath: "/api/anthropic",
		TargetProtocol: "https",
		AuthScheme:     domain.AuthSchemeBearer,
		CostTier:       domain.CostTierMetered,
	}
}

// Registry implements ports.ProviderRegistry. Providers and the model mapping
// are replaced wholesale on reload; reads take a shared lock.
type Registry struct {
	mu                    sync.RWMutex
	providers             map[string]domain.ProviderConfig
	mapping               map[string]domain.ModelMappingEntry
	defaultProvider       string
	silentDefaultInjected bool

	logger *logger.StyledLogger
}

var _ ports.ProviderRegistry = (*Registry)(nil)

func New(providers map[string]domain.ProviderConfig, mapping map[string]domain.ModelMappingEntry, log *logger.StyledLogger) *Registry {
	r := &Registry{logger: log}
	r.Load(providers, mapping)
	return r
}

// Load replaces the provider set and model mapping. When the user configured
// providers without a default one, the built-in default is injected silently
// and the flag set so callers can warn.
func (r *Registry) Load(providers map[string]domain.ProviderConfig, mapping map[string]domain.ModelMappingEntry) {
	next := make(map[string]domain.ProviderConfig, len(providers)+1)
	for name, cfg := range providers {
		if cfg.TargetProtocol == "" {
			cfg.TargetProtocol = "https"
		}
		if cfg.AuthScheme == "" {
			cfg.AuthScheme = domain.AuthSchemeAPIKey
		}
		next[name] = cfg
	}

	injected := false
	if _, ok := next[DefaultProviderName]; !ok {
		next[DefaultProviderName] = defaultProviderConfig()
		injected = len(providers) > 0
	}

	m := make(map[string]domain.ModelMappingEntry, len(mapping))
	for k, v := range mapping {
		m[k] = v
	}

	r.mu.Lock()
	r.providers = next
	r.mapping = m
	r.defaultProvider = DefaultProviderName
	r.silentDefaultInjected = injected
	r.mu.Unlock()

	if injected && r.logger != nil {
		r.logger.WarnWithProvider("No default provider configured, injected", DefaultProviderName)
	}
}

// ResolveProviderForModel maps an incoming model through the mapping block.
// A nil return means the mapping names a provider that is not configured and
// the caller must fail the request rather than guess.
func (r *Registry) ResolveProviderForModel(model string) *domain.ProviderResolution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.mapping[model]
	if !ok {
		return &domain.ProviderResolution{ProviderName: r.defaultProvider, TargetModel: model}
	}

	target := entry.Target
	if target == "" {
		target = model
	}
	if entry.Provider == "" {
		return &domain.ProviderResolution{ProviderName: r.defaultProvider, TargetModel: target}
	}
	if _, configured := r.providers[entry.Provider]; !configured {
		return nil
	}
	return &domain.ProviderResolution{ProviderName: entry.Provider, TargetModel: target}
}

func (r *Registry) Provider(name string) (domain.ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.providers[name]
	return cfg, ok
}

// FormatAuthHeader builds the provider's credential header. Nil means the
// provider is unknown or its custom scheme is missing a header name.
func (r *Registry) FormatAuthHeader(providerName, apiKey string) *domain.AuthHeader {
	r.mu.RLock()
	cfg, ok := r.providers[providerName]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	switch cfg.AuthScheme {
	case domain.AuthSchemeAPIKey:
		return &domain.AuthHeader{Name: "x-api-key", Value: apiKey}
	case domain.AuthSchemeBearer:
		return &domain.AuthHeader{Name: "authorization", Value: "Bearer " + apiKey}
	case domain.AuthSchemeCustom:
		if cfg.CustomAuthHeader == "" {
			return nil
		}
		return &domain.AuthHeader{Name: cfg.CustomAuthHeader, Value: apiKey}
	default:
		return nil
	}
}

func (r *Registry) DefaultProvider() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultProvider
}

func (r *Registry) SilentDefaultInjected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.silentDefaultInjected
}

// ProviderNames lists configured providers sorted for stable stats output.
func (r *Registry) ProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
