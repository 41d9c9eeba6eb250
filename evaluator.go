package authz

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/GeorgeMwiki/BOSSNYUMBA101-sub015/logger"
)

// PolicyStore hands the evaluator an already-resolved, per-tenant policy
// set. Implementations must only ever return policies scoped to the given
// tenant (or explicitly global ones).
type PolicyStore interface {
	GetActivePolicies(ctx context.Context, tenantID string) ([]*Policy, error)
	GetPolicy(ctx context.Context, id, tenantID string) (*Policy, error)
}

// EvaluatorConfig tunes the PolicyEvaluator. MaxEvaluationTime is advisory
// only: a slow policy is logged, never aborted, because a truncated
// evaluation that skips a deny rule would fail open.
type EvaluatorConfig struct {
	DefaultDecision   Effect
	EnableTrace       bool
	MaxEvaluationTime time.Duration
}

// DefaultEvaluatorConfig fails closed and keeps tracing on.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		DefaultDecision:   EffectDeny,
		EnableTrace:       true,
		MaxEvaluationTime: 50 * time.Millisecond,
	}
}

// PolicyEvaluator produces a deterministic allow/deny decision from a
// tenant's active policies. Evaluation is stateless per call; any number of
// evaluations may run concurrently.
type PolicyEvaluator struct {
	store PolicyStore
	orgs  OrgResolver
	cfg   EvaluatorConfig
	log   logger.Logger
}

// EvaluatorOption configures a PolicyEvaluator.
type EvaluatorOption func(*PolicyEvaluator)

// WithOrgResolver installs the organization hierarchy used by the
// in_organization operator.
func WithOrgResolver(orgs OrgResolver) EvaluatorOption {
	return func(e *PolicyEvaluator) { e.orgs = orgs }
}

// WithEvaluatorLogger installs a structured logger.
func WithEvaluatorLogger(l logger.Logger) EvaluatorOption {
	return func(e *PolicyEvaluator) { e.log = l }
}

// NewPolicyEvaluator builds an evaluator over the injected store.
func NewPolicyEvaluator(store PolicyStore, cfg EvaluatorConfig, opts ...EvaluatorOption) *PolicyEvaluator {
	if cfg.DefaultDecision == "" {
		cfg.DefaultDecision = EffectDeny
	}
	e := &PolicyEvaluator{store: store, cfg: cfg, log: logger.NewNullLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the combining algorithm:
//
//  1. Active policies for the subject's tenant, priority descending, ties
//     keeping store order (stable sort).
//  2. Policies that do not target the subject or the resource's
//     organization are skipped without evaluating rules.
//  3. Within a targeted policy, rules run in array order; the first rule
//     whose filters and condition group all match wins for that policy.
//  4. Across policies a matched deny terminates evaluation immediately; a
//     matched allow is remembered and the scan continues in case a
//     lower-priority policy denies.
//  5. No match at all yields the configured default decision.
func (e *PolicyEvaluator) Evaluate(ctx context.Context, sub *Subject, act Action, res *Resource, attrs *AttributeSet) (*Decision, error) {
	return e.evaluate(ctx, sub, act, res, attrs, e.cfg.EnableTrace)
}

// EvaluateWithTrace forces trace collection on regardless of configuration.
func (e *PolicyEvaluator) EvaluateWithTrace(ctx context.Context, sub *Subject, act Action, res *Resource, attrs *AttributeSet) (*Decision, error) {
	return e.evaluate(ctx, sub, act, res, attrs, true)
}

func (e *PolicyEvaluator) evaluate(ctx context.Context, sub *Subject, act Action, res *Resource, attrs *AttributeSet, trace bool) (*Decision, error) {
	policies, err := e.store.GetActivePolicies(ctx, sub.TenantID)
	if err != nil {
		return nil, fmt.Errorf("fetch policies for tenant %s: %w", sub.TenantID, err)
	}

	ordered := make([]*Policy, len(policies))
	copy(ordered, policies)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	dec := &Decision{
		Allowed:           e.cfg.DefaultDecision == EffectAllow,
		Reason:            "no policy matched; default " + string(e.cfg.DefaultDecision),
		DecidingRuleIndex: -1,
	}
	allowSeen := false

	for _, p := range ordered {
		start := time.Now()

		if !targetsSubject(&p.Target, sub) {
			traceSkip(dec, p, "target filter excluded subject", start, trace)
			continue
		}
		if !targetsOrganization(&p.Target, res) {
			traceSkip(dec, p, "target filter excluded organization", start, trace)
			continue
		}

		matched, ruleIdx := e.matchRules(p, act, res, attrs)
		elapsed := time.Since(start)
		if e.cfg.MaxEvaluationTime > 0 && elapsed > e.cfg.MaxEvaluationTime {
			e.log.Debug("slow policy evaluation", "policy", p.ID, "elapsed", elapsed.String())
		}
		if !matched {
			if trace {
				dec.Trace = append(dec.Trace, PolicyTrace{PolicyID: p.ID, Matched: false, RuleIndex: -1, Elapsed: elapsed})
			}
			continue
		}

		rule := p.Rules[ruleIdx]
		if trace {
			dec.Trace = append(dec.Trace, PolicyTrace{PolicyID: p.ID, Matched: true, Effect: rule.Effect, RuleIndex: ruleIdx, Elapsed: elapsed})
		}

		if rule.Effect == EffectDeny {
			// Deny overrides everything, including any allow already seen
			// and all remaining lower-priority policies.
			dec.Allowed = false
			dec.Reason = fmt.Sprintf("denied by policy %s rule %d", p.ID, ruleIdx)
			dec.DecidingPolicyID = p.ID
			dec.DecidingRuleIndex = ruleIdx
			return dec, nil
		}
		if !allowSeen {
			allowSeen = true
			dec.Allowed = true
			dec.Reason = fmt.Sprintf("allowed by policy %s rule %d", p.ID, ruleIdx)
			dec.DecidingPolicyID = p.ID
			dec.DecidingRuleIndex = ruleIdx
		}
	}

	return dec, nil
}

func traceSkip(dec *Decision, p *Policy, why string, start time.Time, trace bool) {
	if trace {
		dec.Trace = append(dec.Trace, PolicyTrace{PolicyID: p.ID, Matched: false, RuleIndex: -1, Skipped: why, Elapsed: time.Since(start)})
	}
}

// matchRules returns the index of the first rule whose filters and
// condition group all match, in array order.
func (e *PolicyEvaluator) matchRules(p *Policy, act Action, res *Resource, attrs *AttributeSet) (bool, int) {
	for i, rule := range p.Rules {
		if !matchesAny(rule.Actions, act.Name) {
			continue
		}
		if !matchesAny(rule.ResourceTypes, res.Type) {
			continue
		}
		if rule.Condition != nil && !e.evalGroup(rule.Condition, attrs) {
			continue
		}
		return true, i
	}
	return false, -1
}

// evalGroup applies AND/OR over conditions and nested groups. An empty
// group is true; an unknown logic value is false (fail closed).
func (e *PolicyEvaluator) evalGroup(g *ConditionGroup, attrs *AttributeSet) bool {
	total := len(g.Conditions) + len(g.Groups)
	if total == 0 {
		return true
	}
	switch g.Logic {
	case LogicOr:
		for _, c := range g.Conditions {
			if applyOperator(c, attrs, e.orgs) {
				return true
			}
		}
		for i := range g.Groups {
			if e.evalGroup(&g.Groups[i], attrs) {
				return true
			}
		}
		return false
	case LogicAnd, "":
		for _, c := range g.Conditions {
			if !applyOperator(c, attrs, e.orgs) {
				return false
			}
		}
		for i := range g.Groups {
			if !e.evalGroup(&g.Groups[i], attrs) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// targetsSubject: empty principal lists target everyone.
func targetsSubject(t *PolicyTarget, sub *Subject) bool {
	if len(t.UserTypes) > 0 && !containsString(t.UserTypes, sub.UserType) {
		return false
	}
	if len(t.UserIDs) > 0 && !containsString(t.UserIDs, sub.UserID) {
		return false
	}
	if len(t.RoleIDs) > 0 {
		found := false
		for _, r := range sub.Roles {
			if containsString(t.RoleIDs, r) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// targetsOrganization: an empty target-organization list targets everyone.
func targetsOrganization(t *PolicyTarget, res *Resource) bool {
	if len(t.OrganizationIDs) == 0 {
		return true
	}
	return containsString(t.OrganizationIDs, res.OrganizationID)
}

// matchesAny supports the exact value, the global wildcard "*", and
// trailing-star prefixes like "lease*".
func matchesAny(patterns []string, value string) bool {
	for _, p := range patterns {
		if p == "*" || p == value {
			return true
		}
		if n := len(p); n > 0 && p[n-1] == '*' {
			prefix := p[:n-1]
			if len(value) >= len(prefix) && value[:len(prefix)] == prefix {
				return true
			}
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
