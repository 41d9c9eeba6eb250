package authz

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// fakePolicyStore is a minimal in-test PolicyStore/PolicyAdminStore keeping
// insertion order.
type fakePolicyStore struct {
	mu       sync.RWMutex
	policies []*Policy
}

func (f *fakePolicyStore) GetActivePolicies(ctx context.Context, tenantID string) ([]*Policy, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Policy, 0, len(f.policies))
	for _, p := range f.policies {
		if p.Enabled && (p.TenantID == tenantID || p.TenantID == "") {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePolicyStore) GetPolicy(ctx context.Context, id, tenantID string) (*Policy, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.policies {
		if p.ID == id && (p.TenantID == tenantID || p.TenantID == "") {
			dup := *p
			return &dup, nil
		}
	}
	return nil, fmt.Errorf("policy not found: %s", id)
}

func (f *fakePolicyStore) CreatePolicy(ctx context.Context, p *Policy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policies = append(f.policies, p)
	return nil
}

func (f *fakePolicyStore) UpdatePolicy(ctx context.Context, p *Policy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.policies {
		if existing.ID == p.ID {
			f.policies[i] = p
			return nil
		}
	}
	return fmt.Errorf("policy not found: %s", p.ID)
}

func (f *fakePolicyStore) DeletePolicy(ctx context.Context, id, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.policies {
		if existing.ID == id && existing.TenantID == tenantID {
			f.policies = append(f.policies[:i], f.policies[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("policy not found: %s", id)
}

func (f *fakePolicyStore) count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.policies)
}

// fakeRoleResolver serves roles and assignments from maps, keyed within one
// tenant.
type fakeRoleResolver struct {
	roles       map[string]*Role
	assignments map[string][]RoleAssignment // userID -> assignments
}

func newFakeRoleResolver() *fakeRoleResolver {
	return &fakeRoleResolver{
		roles:       map[string]*Role{},
		assignments: map[string][]RoleAssignment{},
	}
}

func (f *fakeRoleResolver) AssignmentsForUser(ctx context.Context, tenantID, userID string) ([]RoleAssignment, error) {
	return f.assignments[userID], nil
}

func (f *fakeRoleResolver) GetRole(ctx context.Context, tenantID, roleID string) (*Role, error) {
	if r, ok := f.roles[roleID]; ok && r.TenantID == tenantID {
		return r, nil
	}
	return nil, fmt.Errorf("role not found: %s", roleID)
}

type fakeOrgs struct {
	parent map[string]string
}

func (f fakeOrgs) IsAncestor(ancestor, org string) bool {
	cur := org
	for cur != "" {
		if cur == ancestor {
			return true
		}
		cur = f.parent[cur]
	}
	return false
}

func testSubject() *Subject {
	return &Subject{UserID: "user-1", TenantID: "tenant-1", UserType: "member", Roles: []string{"role-member"}}
}

func testResource() *Resource {
	return &Resource{Type: "unit", ID: "unit-9", TenantID: "tenant-1", OwnerID: "user-1"}
}

func attrsFor(sub *Subject, act Action, res *Resource, env *Environment) *AttributeSet {
	return NewAttributeSet(sub, act, res, env)
}

func allowRule(actions, types []string) Rule {
	return Rule{Effect: EffectAllow, Actions: actions, ResourceTypes: types}
}

func denyRule(actions, types []string) Rule {
	return Rule{Effect: EffectDeny, Actions: actions, ResourceTypes: types}
}

func TestDefaultDenyWhenNoPolicyMatches(t *testing.T) {
	ctx := context.Background()
	eval := NewPolicyEvaluator(&fakePolicyStore{}, DefaultEvaluatorConfig())

	sub, res := testSubject(), testResource()
	act := Action{Name: "read", ResourceType: "unit"}
	dec, err := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected default deny")
	}
	if dec.DecidingPolicyID != "" {
		t.Fatalf("expected no deciding policy, got %s", dec.DecidingPolicyID)
	}
	if dec.DecidingRuleIndex != -1 {
		t.Fatalf("expected deciding rule index -1, got %d", dec.DecidingRuleIndex)
	}
}

func TestDefaultAllowConfiguration(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultEvaluatorConfig()
	cfg.DefaultDecision = EffectAllow
	eval := NewPolicyEvaluator(&fakePolicyStore{}, cfg)

	sub, res := testSubject(), testResource()
	act := Action{Name: "read", ResourceType: "unit"}
	dec, err := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected default allow")
	}
}

func TestPriorityOrderingDecidesFirst(t *testing.T) {
	ctx := context.Background()
	store := &fakePolicyStore{policies: []*Policy{
		NewPolicyBuilder().ID("low").Tenant("tenant-1").Priority(50).
			Rule(allowRule([]string{"read"}, []string{"unit"})).Build(),
		NewPolicyBuilder().ID("high").Tenant("tenant-1").Priority(100).
			Rule(allowRule([]string{"read"}, []string{"unit"})).Build(),
	}}
	eval := NewPolicyEvaluator(store, DefaultEvaluatorConfig())

	sub, res := testSubject(), testResource()
	act := Action{Name: "read", ResourceType: "unit"}
	dec, err := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow")
	}
	if dec.DecidingPolicyID != "high" {
		t.Fatalf("expected priority-100 policy to decide, got %s", dec.DecidingPolicyID)
	}
}

func TestEqualPriorityKeepsStoreOrder(t *testing.T) {
	ctx := context.Background()
	store := &fakePolicyStore{policies: []*Policy{
		NewPolicyBuilder().ID("first").Tenant("tenant-1").Priority(10).
			Rule(allowRule([]string{"read"}, []string{"unit"})).Build(),
		NewPolicyBuilder().ID("second").Tenant("tenant-1").Priority(10).
			Rule(allowRule([]string{"read"}, []string{"unit"})).Build(),
	}}
	eval := NewPolicyEvaluator(store, DefaultEvaluatorConfig())

	sub, res := testSubject(), testResource()
	act := Action{Name: "read", ResourceType: "unit"}
	dec, _ := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if dec.DecidingPolicyID != "first" {
		t.Fatalf("expected stable order to keep first policy, got %s", dec.DecidingPolicyID)
	}
}

func TestDenyOverridesEarlierAllow(t *testing.T) {
	ctx := context.Background()
	store := &fakePolicyStore{policies: []*Policy{
		NewPolicyBuilder().ID("allow-high").Tenant("tenant-1").Priority(100).
			Rule(allowRule([]string{"read"}, []string{"unit"})).Build(),
		NewPolicyBuilder().ID("deny-low").Tenant("tenant-1").Priority(50).
			Rule(denyRule([]string{"read"}, []string{"unit"})).Build(),
	}}
	eval := NewPolicyEvaluator(store, DefaultEvaluatorConfig())

	sub, res := testSubject(), testResource()
	act := Action{Name: "read", ResourceType: "unit"}
	dec, err := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected deny to override the higher-priority allow")
	}
	if dec.DecidingPolicyID != "deny-low" {
		t.Fatalf("expected deny-low to decide, got %s", dec.DecidingPolicyID)
	}
	// the earlier allow must still appear in the trace
	foundAllow := false
	for _, tr := range dec.Trace {
		if tr.PolicyID == "allow-high" && tr.Matched && tr.Effect == EffectAllow {
			foundAllow = true
		}
	}
	if !foundAllow {
		t.Fatalf("expected allow-high in trace, got %+v", dec.Trace)
	}
}

func TestDenyStopsEvaluation(t *testing.T) {
	ctx := context.Background()
	store := &fakePolicyStore{policies: []*Policy{
		NewPolicyBuilder().ID("deny-high").Tenant("tenant-1").Priority(100).
			Rule(denyRule([]string{"read"}, []string{"unit"})).Build(),
		NewPolicyBuilder().ID("allow-low").Tenant("tenant-1").Priority(50).
			Rule(allowRule([]string{"read"}, []string{"unit"})).Build(),
	}}
	eval := NewPolicyEvaluator(store, DefaultEvaluatorConfig())

	sub, res := testSubject(), testResource()
	act := Action{Name: "read", ResourceType: "unit"}
	dec, _ := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if dec.Allowed {
		t.Fatalf("expected deny")
	}
	for _, tr := range dec.Trace {
		if tr.PolicyID == "allow-low" {
			t.Fatalf("expected evaluation to stop at the deny, but allow-low was evaluated")
		}
	}
}

func TestRuleArrayOrderWinsWithinPolicy(t *testing.T) {
	ctx := context.Background()
	// Both rules match; the first in the array decides for this policy.
	store := &fakePolicyStore{policies: []*Policy{
		NewPolicyBuilder().ID("mixed").Tenant("tenant-1").Priority(10).
			Rule(denyRule([]string{"read"}, []string{"unit"})).
			Rule(allowRule([]string{"*"}, []string{"*"})).Build(),
	}}
	eval := NewPolicyEvaluator(store, DefaultEvaluatorConfig())

	sub, res := testSubject(), testResource()
	act := Action{Name: "read", ResourceType: "unit"}
	dec, _ := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if dec.Allowed {
		t.Fatalf("expected the deny at rule 0 to win")
	}
	if dec.DecidingRuleIndex != 0 {
		t.Fatalf("expected rule index 0, got %d", dec.DecidingRuleIndex)
	}

	// Reversed order: the allow at rule 0 wins even though rule 1 would deny.
	store.policies[0].Rules = []Rule{
		allowRule([]string{"read"}, []string{"unit"}),
		denyRule([]string{"*"}, []string{"*"}),
	}
	dec, _ = eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if !dec.Allowed {
		t.Fatalf("expected the allow at rule 0 to win")
	}
	if dec.DecidingRuleIndex != 0 {
		t.Fatalf("expected rule index 0, got %d", dec.DecidingRuleIndex)
	}
}

func TestTargetFilterSkipsWithoutRuleEvaluation(t *testing.T) {
	ctx := context.Background()
	store := &fakePolicyStore{policies: []*Policy{
		NewPolicyBuilder().ID("admins-only").Tenant("tenant-1").Priority(10).
			TargetUserTypes("admin").
			Rule(allowRule([]string{"read"}, []string{"unit"})).Build(),
	}}
	eval := NewPolicyEvaluator(store, DefaultEvaluatorConfig())

	sub, res := testSubject(), testResource() // userType member
	act := Action{Name: "read", ResourceType: "unit"}
	dec, _ := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if dec.Allowed {
		t.Fatalf("expected default deny; policy does not target member")
	}
	if len(dec.Trace) != 1 || dec.Trace[0].Skipped == "" {
		t.Fatalf("expected one skipped trace entry, got %+v", dec.Trace)
	}
}

func TestTargetRoleAndOrganization(t *testing.T) {
	ctx := context.Background()
	store := &fakePolicyStore{policies: []*Policy{
		NewPolicyBuilder().ID("role-org").Tenant("tenant-1").Priority(10).
			TargetRoles("role-member").
			TargetOrganizations("org-a").
			Rule(allowRule([]string{"read"}, []string{"unit"})).Build(),
	}}
	eval := NewPolicyEvaluator(store, DefaultEvaluatorConfig())

	sub := testSubject()
	res := testResource()
	res.OrganizationID = "org-a"
	act := Action{Name: "read", ResourceType: "unit"}
	dec, _ := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if !dec.Allowed {
		t.Fatalf("expected allow for targeted role and organization")
	}

	res.OrganizationID = "org-b"
	dec, _ = eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if dec.Allowed {
		t.Fatalf("expected skip for untargeted organization")
	}
}

func TestWildcardAndPrefixPatterns(t *testing.T) {
	ctx := context.Background()
	store := &fakePolicyStore{policies: []*Policy{
		NewPolicyBuilder().ID("patterns").Tenant("tenant-1").Priority(10).
			Rule(allowRule([]string{"*"}, []string{"lease*"})).Build(),
	}}
	eval := NewPolicyEvaluator(store, DefaultEvaluatorConfig())

	sub := testSubject()
	res := &Resource{Type: "lease_agreement", ID: "l-1", TenantID: "tenant-1"}
	act := Action{Name: "terminate", ResourceType: "lease_agreement"}
	dec, _ := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if !dec.Allowed {
		t.Fatalf("expected wildcard action and prefixed resource type to match")
	}

	res2 := &Resource{Type: "unit", ID: "u-1", TenantID: "tenant-1"}
	dec, _ = eval.Evaluate(ctx, sub, act, res2, attrsFor(sub, act, res2, nil))
	if dec.Allowed {
		t.Fatalf("expected non-matching resource type to miss")
	}
}

func TestRefValuedOwnershipCondition(t *testing.T) {
	ctx := context.Background()
	store := &fakePolicyStore{policies: []*Policy{
		NewPolicyBuilder().ID("owner-only").Tenant("tenant-1").Priority(10).
			Rule(NewRuleBuilder(EffectAllow).
				Actions("update").ResourceTypes("unit").
				WhenAll(Cond(SourceResource, "ownerId", OpEquals, Ref(SourceSubject, "userId"))).
				Build()).
			Build(),
	}}
	eval := NewPolicyEvaluator(store, DefaultEvaluatorConfig())

	sub, res := testSubject(), testResource() // owner is user-1
	act := Action{Name: "update", ResourceType: "unit"}
	dec, _ := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if !dec.Allowed {
		t.Fatalf("expected owner to be allowed")
	}

	res.OwnerID = "someone-else"
	dec, _ = eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if dec.Allowed {
		t.Fatalf("expected non-owner to fall through to default deny")
	}
}

func TestDerivedHourCondition(t *testing.T) {
	ctx := context.Background()
	store := &fakePolicyStore{policies: []*Policy{
		NewPolicyBuilder().ID("no-night-work").Tenant("tenant-1").Priority(100).
			Rule(NewRuleBuilder(EffectDeny).
				Actions("*").ResourceTypes("*").
				WhenAll(Cond(SourceContext, "hour", OpLessThan, Literal(8))).
				Build()).
			Build(),
		NewPolicyBuilder().ID("allow-any").Tenant("tenant-1").Priority(1).
			Rule(allowRule([]string{"*"}, []string{"*"})).Build(),
	}}
	eval := NewPolicyEvaluator(store, DefaultEvaluatorConfig())

	sub, res := testSubject(), testResource()
	act := Action{Name: "read", ResourceType: "unit"}

	night := &Environment{Timestamp: "2026-01-15T03:00:00Z"}
	dec, _ := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, night))
	if dec.Allowed {
		t.Fatalf("expected deny at 03:00")
	}
	if dec.DecidingPolicyID != "no-night-work" {
		t.Fatalf("expected no-night-work to decide, got %s", dec.DecidingPolicyID)
	}

	day := &Environment{Timestamp: "2026-01-15T14:00:00Z"}
	dec, _ = eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, day))
	if !dec.Allowed {
		t.Fatalf("expected allow at 14:00")
	}
}

func TestMissingAttributeFailsClosed(t *testing.T) {
	ctx := context.Background()
	store := &fakePolicyStore{policies: []*Policy{
		NewPolicyBuilder().ID("needs-attr").Tenant("tenant-1").Priority(10).
			Rule(NewRuleBuilder(EffectAllow).
				Actions("read").ResourceTypes("unit").
				WhenAll(Cond(SourceResource, "metadata.clearance", OpEquals, Literal("public"))).
				Build()).
			Build(),
	}}
	eval := NewPolicyEvaluator(store, DefaultEvaluatorConfig())

	sub, res := testSubject(), testResource() // no metadata at all
	act := Action{Name: "read", ResourceType: "unit"}
	dec, _ := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if dec.Allowed {
		t.Fatalf("expected missing attribute to fail the condition")
	}
}

func TestNestedConditionGroups(t *testing.T) {
	ctx := context.Background()
	// allow when mfaVerified AND (userType admin OR owner)
	group := &ConditionGroup{
		Logic:      LogicAnd,
		Conditions: []Condition{Cond(SourceSubject, "mfaVerified", OpEquals, Literal(true))},
		Groups: []ConditionGroup{{
			Logic: LogicOr,
			Conditions: []Condition{
				Cond(SourceSubject, "userType", OpEquals, Literal("admin")),
				Cond(SourceResource, "ownerId", OpEquals, Ref(SourceSubject, "userId")),
			},
		}},
	}
	store := &fakePolicyStore{policies: []*Policy{
		NewPolicyBuilder().ID("nested").Tenant("tenant-1").Priority(10).
			Rule(NewRuleBuilder(EffectAllow).Actions("delete").ResourceTypes("unit").When(group).Build()).
			Build(),
	}}
	eval := NewPolicyEvaluator(store, DefaultEvaluatorConfig())
	act := Action{Name: "delete", ResourceType: "unit"}

	sub, res := testSubject(), testResource()
	sub.MFAVerified = true
	dec, _ := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if !dec.Allowed {
		t.Fatalf("expected allow: mfa + owner")
	}

	sub.MFAVerified = false
	dec, _ = eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if dec.Allowed {
		t.Fatalf("expected deny without mfa")
	}
}

func TestTraceDisabledProducesNoTrace(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultEvaluatorConfig()
	cfg.EnableTrace = false
	store := &fakePolicyStore{policies: []*Policy{
		NewPolicyBuilder().ID("p1").Tenant("tenant-1").Priority(10).
			Rule(allowRule([]string{"read"}, []string{"unit"})).Build(),
	}}
	eval := NewPolicyEvaluator(store, cfg)

	sub, res := testSubject(), testResource()
	act := Action{Name: "read", ResourceType: "unit"}
	dec, _ := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if len(dec.Trace) != 0 {
		t.Fatalf("expected empty trace, got %+v", dec.Trace)
	}

	// EvaluateWithTrace forces collection regardless of configuration.
	dec, _ = eval.EvaluateWithTrace(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if len(dec.Trace) == 0 {
		t.Fatalf("expected forced trace")
	}
}

func TestTenantScopedPolicyFetch(t *testing.T) {
	ctx := context.Background()
	store := &fakePolicyStore{policies: []*Policy{
		NewPolicyBuilder().ID("other-tenant").Tenant("tenant-2").Priority(100).
			Rule(allowRule([]string{"*"}, []string{"*"})).Build(),
	}}
	eval := NewPolicyEvaluator(store, DefaultEvaluatorConfig())

	sub, res := testSubject(), testResource()
	act := Action{Name: "read", ResourceType: "unit"}
	dec, _ := eval.Evaluate(ctx, sub, act, res, attrsFor(sub, act, res, nil))
	if dec.Allowed {
		t.Fatalf("another tenant's policy must never apply")
	}
}
