package authz

import (
	"context"
	"fmt"

	"github.com/GeorgeMwiki/BOSSNYUMBA101-sub015/logger"
)

// PolicyAdminStore is the optional write surface a PolicyStore may expose.
// The service forwards administrative operations to it and invalidates
// derived state; nothing in the decision path writes.
type PolicyAdminStore interface {
	PolicyStore
	CreatePolicy(ctx context.Context, p *Policy) error
	UpdatePolicy(ctx context.Context, p *Policy) error
	DeletePolicy(ctx context.Context, id, tenantID string) error
}

// Service is the single authorization entry point. It combines the RBAC
// resolver and the ABAC evaluator per configuration and returns one
// structured result for the transport layer to map onto its responses.
type Service struct {
	resolver  *PermissionResolver
	evaluator *PolicyEvaluator
	cfg       Config
	log       logger.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger installs a structured logger used for audit-style decision
// logging.
func WithLogger(l logger.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

// WithServiceOrgResolver installs the organization hierarchy used by the
// in_organization operator on the service's evaluator.
func WithServiceOrgResolver(orgs OrgResolver) ServiceOption {
	return func(s *Service) { s.evaluator.orgs = orgs }
}

// NewService wires the resolver and evaluator under one configuration.
func NewService(resolver *PermissionResolver, evaluator *PolicyEvaluator, cfg Config, opts ...ServiceOption) *Service {
	s := &Service{
		resolver:  resolver,
		evaluator: evaluator,
		cfg:       cfg,
		log:       logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BuildService constructs the resolver and evaluator from one Config and
// wires them into a Service. Most callers want this; the split
// constructors exist for tests and custom wiring.
func BuildService(roles RoleResolver, store PolicyStore, cfg Config, opts ...ServiceOption) (*Service, error) {
	resolverOpts := []ResolverOption{}
	if !cfg.EnableCache {
		resolverOpts = append(resolverOpts, WithoutCache())
	} else if cfg.CacheTTL > 0 {
		resolverOpts = append(resolverOpts, WithCacheTTL(cfg.CacheTTL))
	}
	resolver, err := NewPermissionResolver(roles, resolverOpts...)
	if err != nil {
		return nil, err
	}
	evalCfg := DefaultEvaluatorConfig()
	if cfg.DefaultDecision != "" {
		evalCfg.DefaultDecision = cfg.DefaultDecision
	}
	evaluator := NewPolicyEvaluator(store, evalCfg)
	return NewService(resolver, evaluator, cfg, opts...), nil
}

// Request bundles one authorization question for the batch API.
type Request struct {
	Subject     *Subject
	Action      Action
	Resource    *Resource
	Environment *Environment
}

// Authorize answers (subject, action, resource, environment). The call is
// pure with respect to stored state except for the resolver's permission
// cache; RBAC and ABAC run independently with no shared mutable state.
func (s *Service) Authorize(ctx context.Context, sub *Subject, act Action, res *Resource, env *Environment) (*Result, error) {
	return s.authorize(ctx, sub, act, res, env, s.evaluator.cfg.EnableTrace)
}

// Explain is Authorize with trace collection forced on, for the debugging
// surface.
func (s *Service) Explain(ctx context.Context, sub *Subject, act Action, res *Resource, env *Environment) (*Result, error) {
	return s.authorize(ctx, sub, act, res, env, true)
}

func (s *Service) authorize(ctx context.Context, sub *Subject, act Action, res *Resource, env *Environment, trace bool) (*Result, error) {
	if sub == nil || res == nil {
		return nil, fmt.Errorf("authorize: subject and resource are required")
	}

	// Cross-tenant requests are refused before either engine runs; neither
	// roles nor policies from one tenant may decide for another.
	if s.cfg.EnforceTenantIsolation && res.TenantID != "" && res.TenantID != sub.TenantID {
		out := &Result{
			Source: SourceTenant,
			Reason: fmt.Sprintf("denied: resource belongs to tenant %s, subject to tenant %s", res.TenantID, sub.TenantID),
		}
		s.auditDecision(sub, act, res, out)
		return out, nil
	}

	permission := res.Type + ":" + act.Name

	var rbacAllowed bool
	var err error
	if res.OrganizationID != "" {
		rbacAllowed, err = s.resolver.HasPermissionInOrg(ctx, sub, permission, res.OrganizationID)
	} else {
		rbacAllowed, err = s.resolver.HasPermission(ctx, sub, permission)
	}
	if err != nil {
		return nil, err
	}

	if !s.cfg.EnableABAC {
		out := &Result{
			Allowed:     rbacAllowed,
			Source:      SourceRBAC,
			RBACAllowed: rbacAllowed,
		}
		if rbacAllowed {
			out.Reason = fmt.Sprintf("allowed: role grants %s", permission)
		} else {
			out.Reason = fmt.Sprintf("denied: no role grants %s", permission)
		}
		s.auditDecision(sub, act, res, out)
		return out, nil
	}

	attrs := NewAttributeSet(sub, act, res, env)
	abac, err := s.evaluator.evaluate(ctx, sub, act, res, attrs, trace)
	if err != nil {
		return nil, err
	}

	out := &Result{
		Source:      SourceCombined,
		RBACAllowed: rbacAllowed,
		ABAC:        abac,
	}
	if s.cfg.RequireBoth {
		out.Allowed = rbacAllowed && abac.Allowed
	} else {
		out.Allowed = rbacAllowed || abac.Allowed
	}

	// Each combination outcome gets its own reason so an operator reading
	// logs can tell which side of the engine decided. Under require-either a
	// single-sided grant is an allow and the reason says so.
	switch {
	case rbacAllowed && abac.Allowed:
		out.Reason = fmt.Sprintf("allowed: role grants %s and %s", permission, abac.Reason)
	case !rbacAllowed && !abac.Allowed:
		out.Reason = fmt.Sprintf("denied by rbac and abac: no role grants %s; %s", permission, abac.Reason)
	case !rbacAllowed:
		if out.Allowed {
			out.Reason = fmt.Sprintf("allowed by abac: %s (no role grants %s)", abac.Reason, permission)
		} else {
			out.Reason = fmt.Sprintf("denied by rbac: no role grants %s (abac: %s)", permission, abac.Reason)
		}
	default:
		if out.Allowed {
			out.Reason = fmt.Sprintf("allowed by rbac: role grants %s (abac: %s)", permission, abac.Reason)
		} else {
			out.Reason = fmt.Sprintf("denied by abac: %s (rbac granted %s)", abac.Reason, permission)
		}
	}

	s.auditDecision(sub, act, res, out)
	return out, nil
}

// BatchAuthorize evaluates multiple requests sequentially. A store error
// aborts the batch; denials do not.
func (s *Service) BatchAuthorize(ctx context.Context, requests []Request) ([]*Result, error) {
	results := make([]*Result, len(requests))
	for i, req := range requests {
		r, err := s.Authorize(ctx, req.Subject, req.Action, req.Resource, req.Environment)
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

func (s *Service) auditDecision(sub *Subject, act Action, res *Resource, out *Result) {
	if !s.cfg.AuditLogging {
		return
	}
	s.log.Info("authorization decision",
		"tenant", sub.TenantID,
		"subject", sub.UserID,
		"action", act.Name,
		"resource", res.Type+":"+res.ID,
		"allowed", out.Allowed,
		"source", string(out.Source),
		"reason", out.Reason,
	)
}

// InvalidateUser forwards to the resolver cache; call it whenever a
// subject's role assignments change.
func (s *Service) InvalidateUser(tenantID, userID string) {
	s.resolver.InvalidateUser(tenantID, userID)
}

// ------------------------------------------------------------------------
// Policy administration passthrough
// ------------------------------------------------------------------------

// CreatePolicy validates and stores a policy through the injected admin
// store.
func (s *Service) CreatePolicy(ctx context.Context, p *Policy) error {
	admin, ok := s.evaluator.store.(PolicyAdminStore)
	if !ok {
		return fmt.Errorf("policy store is read-only")
	}
	if err := ValidatePolicy(p); err != nil {
		return err
	}
	p.Enabled = true
	return admin.CreatePolicy(ctx, p)
}

// UpdatePolicy validates and replaces a policy.
func (s *Service) UpdatePolicy(ctx context.Context, p *Policy) error {
	admin, ok := s.evaluator.store.(PolicyAdminStore)
	if !ok {
		return fmt.Errorf("policy store is read-only")
	}
	if err := ValidatePolicy(p); err != nil {
		return err
	}
	return admin.UpdatePolicy(ctx, p)
}

// DeletePolicy removes a policy within its tenant.
func (s *Service) DeletePolicy(ctx context.Context, id, tenantID string) error {
	admin, ok := s.evaluator.store.(PolicyAdminStore)
	if !ok {
		return fmt.Errorf("policy store is read-only")
	}
	return admin.DeletePolicy(ctx, id, tenantID)
}

// SetPolicyEnabled flips the enabled flag through get+update.
func (s *Service) SetPolicyEnabled(ctx context.Context, id, tenantID string, enabled bool) error {
	admin, ok := s.evaluator.store.(PolicyAdminStore)
	if !ok {
		return fmt.Errorf("policy store is read-only")
	}
	p, err := admin.GetPolicy(ctx, id, tenantID)
	if err != nil {
		return err
	}
	// Stores may hand back the object concurrent evaluations are reading;
	// flip the flag on a copy and swap it in through the store.
	updated := *p
	updated.Enabled = enabled
	return admin.UpdatePolicy(ctx, &updated)
}

// ValidatePolicy rejects structurally unusable policies before they reach
// the store.
func ValidatePolicy(p *Policy) error {
	if p.ID == "" {
		return fmt.Errorf("policy ID is required")
	}
	if p.TenantID == "" {
		return fmt.Errorf("policy %s: tenant ID is required", p.ID)
	}
	if len(p.Rules) == 0 {
		return fmt.Errorf("policy %s: at least one rule is required", p.ID)
	}
	for i, r := range p.Rules {
		if r.Effect != EffectAllow && r.Effect != EffectDeny {
			return fmt.Errorf("policy %s rule %d: effect must be allow or deny", p.ID, i)
		}
		if len(r.Actions) == 0 {
			return fmt.Errorf("policy %s rule %d: at least one action is required", p.ID, i)
		}
		if len(r.ResourceTypes) == 0 {
			return fmt.Errorf("policy %s rule %d: at least one resource type is required", p.ID, i)
		}
	}
	return nil
}
