package domain

// AuthScheme selects how a provider expects the credential on the wire.
type AuthScheme string

const (
	AuthSchemeAPIKey AuthScheme = "x-api-key"
	AuthSchemeBearer AuthScheme = "bearer"
	AuthSchemeCustom AuthScheme = "custom"
)

// CostTier is advisory metadata surfaced in stats, never used for routing.
type CostTier string

const (
	CostTierFree    CostTier = "free"
	CostTierMetered CostTier = "metered"
	CostTierPremium CostTier = "premium"
)

// ProviderConfig describes one upstream provider's wire target and auth shape.
type ProviderConfig struct {
	TargetHost       string            `yaml:"target_host" json:"targetHost" mapstructure:"target_host"`
	TargetBasePath   string            `yaml:"target_base_path" json:"targetBasePath" mapstructure:"target_base_path"`
	TargetProtocol   string            `yaml:"target_protocol" json:"targetProtocol" mapstructure:"target_protocol"`
	AuthScheme       AuthScheme        `yaml:"auth_scheme" json:"authScheme" mapstructure:"auth_scheme"`
	CustomAuthHeader string            `yaml:"custom_auth_header" json:"customAuthHeader,omitempty" mapstructure:"custom_auth_header"`
	ExtraHeaders     map[string]string `yaml:"extra_headers" json:"extraHeaders,omitempty" mapstructure:"extra_headers"`
	CostTier         CostTier          `yaml:"cost_tier" json:"costTier,omitempty" mapstructure:"cost_tier"`
}

// AuthHeader is a formatted authentication header ready to set on a request.
type AuthHeader struct {
	Name  string
	Value string
}

// ModelMappingEntry maps an incoming model to an upstream target, optionally
// pinned to a named provider. In config the value may be a bare string
// (target only) or an object.
type ModelMappingEntry struct {
	Target   string `yaml:"target" json:"target" mapstructure:"target"`
	Provider string `yaml:"provider" json:"provider,omitempty" mapstructure:"provider"`
}

// ProviderResolution is the result of mapping an incoming model to a
// provider and target model.
type ProviderResolution struct {
	ProviderName string
	TargetModel  string
}
