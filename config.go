package authz

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration surface. Every knob has an explicit
// default; DefaultConfig is the production posture.
type Config struct {
	// EnforceTenantIsolation must stay true in production; it exists so a
	// test harness can exercise stores without a tenancy layer.
	EnforceTenantIsolation bool `json:"enforce_tenant_isolation" yaml:"enforce_tenant_isolation"`
	// EnableCache / CacheTTL govern RBAC resolution caching. The TTL is a
	// backstop; invalidation is explicit.
	EnableCache bool          `json:"enable_cache" yaml:"enable_cache"`
	CacheTTL    time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	// DefaultDecision applies when no policy matches. Deny fails closed.
	DefaultDecision Effect `json:"default_decision" yaml:"default_decision"`
	AuditLogging    bool   `json:"audit_logging" yaml:"audit_logging"`
	EnableABAC      bool   `json:"enable_abac" yaml:"enable_abac"`
	// RequireBoth demands RBAC and ABAC both allow; otherwise either side
	// allowing is sufficient.
	RequireBoth bool `json:"require_both" yaml:"require_both"`
}

// DefaultConfig fails closed on every axis.
func DefaultConfig() Config {
	return Config{
		EnforceTenantIsolation: true,
		EnableCache:            true,
		CacheTTL:               5 * time.Minute,
		DefaultDecision:        EffectDeny,
		AuditLogging:           true,
		EnableABAC:             true,
		RequireBoth:            true,
	}
}

// TenantConfig is the loadable fixture format: one tenant's roles,
// assignments and policies plus the engine settings. It is how operators
// seed stores and how the simulation CLI runs scenarios.
type TenantConfig struct {
	TenantID    string                      `json:"tenant_id" yaml:"tenant_id"`
	Roles       []*Role                     `json:"roles" yaml:"roles"`
	Assignments map[string][]RoleAssignment `json:"assignments" yaml:"assignments"` // userID -> assignments
	Policies    []*Policy                   `json:"policies" yaml:"policies"`
	Hierarchy   map[string]string           `json:"hierarchy,omitempty" yaml:"hierarchy,omitempty"` // org child -> parent
	Service     *Config                     `json:"service,omitempty" yaml:"service,omitempty"`
}

// ConfigLoader parses tenant configuration from the supported formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

// LoadYAML parses a YAML tenant configuration.
func (l *ConfigLoader) LoadYAML(data []byte) (*TenantConfig, error) {
	cfg := &TenantConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadJSON parses a JSON tenant configuration.
func (l *ConfigLoader) LoadJSON(data []byte) (*TenantConfig, error) {
	cfg := &TenantConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return cfg, cfg.Validate()
}

// ToYAML exports the configuration.
func (c *TenantConfig) ToYAML() ([]byte, error) { return yaml.Marshal(c) }

// ToJSON exports the configuration.
func (c *TenantConfig) ToJSON() ([]byte, error) { return json.MarshalIndent(c, "", "  ") }

// Validate checks cross-references: every policy carries the config's
// tenant, every assignment points at a declared role.
func (c *TenantConfig) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("config: tenant_id is required")
	}
	roleIDs := make(map[string]struct{}, len(c.Roles))
	for _, r := range c.Roles {
		if r.ID == "" {
			return fmt.Errorf("config: role without id")
		}
		if r.TenantID == "" {
			r.TenantID = c.TenantID
		}
		if r.TenantID != c.TenantID {
			return fmt.Errorf("config: role %s belongs to tenant %s, not %s", r.ID, r.TenantID, c.TenantID)
		}
		roleIDs[r.ID] = struct{}{}
	}
	for userID, asgs := range c.Assignments {
		for _, asg := range asgs {
			if _, ok := roleIDs[asg.RoleID]; !ok {
				return fmt.Errorf("config: user %s assigned undeclared role %s", userID, asg.RoleID)
			}
		}
	}
	for _, p := range c.Policies {
		if p.TenantID == "" {
			p.TenantID = c.TenantID
		}
		if p.TenantID != c.TenantID {
			return fmt.Errorf("config: policy %s belongs to tenant %s, not %s", p.ID, p.TenantID, c.TenantID)
		}
		if err := ValidatePolicy(p); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	// The hierarchy must be a forest; a parent chain that revisits an org
	// would never terminate during ancestor walks.
	for child := range c.Hierarchy {
		seen := map[string]struct{}{child: {}}
		for cur := c.Hierarchy[child]; cur != ""; cur = c.Hierarchy[cur] {
			if _, ok := seen[cur]; ok {
				return fmt.Errorf("config: hierarchy cycle through org %s", cur)
			}
			seen[cur] = struct{}{}
		}
	}
	return nil
}
