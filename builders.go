package authz

// Fluent builders for policies, rules and roles. Tests and the simulation
// CLI use these; nothing in the decision path depends on them.

// PolicyBuilder assembles a Policy.
type PolicyBuilder struct {
	p *Policy
}

func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{p: &Policy{Enabled: true}}
}

func (b *PolicyBuilder) ID(id string) *PolicyBuilder        { b.p.ID = id; return b }
func (b *PolicyBuilder) Tenant(t string) *PolicyBuilder     { b.p.TenantID = t; return b }
func (b *PolicyBuilder) Name(n string) *PolicyBuilder       { b.p.Name = n; return b }
func (b *PolicyBuilder) Priority(p int) *PolicyBuilder      { b.p.Priority = p; return b }
func (b *PolicyBuilder) Enabled(on bool) *PolicyBuilder     { b.p.Enabled = on; return b }
func (b *PolicyBuilder) Rule(r Rule) *PolicyBuilder         { b.p.Rules = append(b.p.Rules, r); return b }
func (b *PolicyBuilder) Target(t PolicyTarget) *PolicyBuilder { b.p.Target = t; return b }

func (b *PolicyBuilder) TargetUserTypes(types ...string) *PolicyBuilder {
	b.p.Target.UserTypes = append(b.p.Target.UserTypes, types...)
	return b
}

func (b *PolicyBuilder) TargetRoles(roleIDs ...string) *PolicyBuilder {
	b.p.Target.RoleIDs = append(b.p.Target.RoleIDs, roleIDs...)
	return b
}

func (b *PolicyBuilder) TargetOrganizations(orgIDs ...string) *PolicyBuilder {
	b.p.Target.OrganizationIDs = append(b.p.Target.OrganizationIDs, orgIDs...)
	return b
}

func (b *PolicyBuilder) Build() *Policy { return b.p }

// RuleBuilder assembles a Rule.
type RuleBuilder struct {
	r Rule
}

func NewRuleBuilder(effect Effect) *RuleBuilder {
	return &RuleBuilder{r: Rule{Effect: effect}}
}

func Allow() *RuleBuilder { return NewRuleBuilder(EffectAllow) }
func Deny() *RuleBuilder  { return NewRuleBuilder(EffectDeny) }

func (b *RuleBuilder) Actions(a ...string) *RuleBuilder {
	b.r.Actions = append(b.r.Actions, a...)
	return b
}

func (b *RuleBuilder) ResourceTypes(t ...string) *RuleBuilder {
	b.r.ResourceTypes = append(b.r.ResourceTypes, t...)
	return b
}

func (b *RuleBuilder) When(g *ConditionGroup) *RuleBuilder { b.r.Condition = g; return b }

// WhenAll is shorthand for an AND group of conditions.
func (b *RuleBuilder) WhenAll(conds ...Condition) *RuleBuilder {
	b.r.Condition = &ConditionGroup{Logic: LogicAnd, Conditions: conds}
	return b
}

// WhenAny is shorthand for an OR group of conditions.
func (b *RuleBuilder) WhenAny(conds ...Condition) *RuleBuilder {
	b.r.Condition = &ConditionGroup{Logic: LogicOr, Conditions: conds}
	return b
}

func (b *RuleBuilder) Build() Rule { return b.r }

// Cond is a terse condition constructor for tests and seed code.
func Cond(source AttributeSource, path string, op Operator, value ConditionValue) Condition {
	return Condition{Source: source, Path: path, Operator: op, Value: value}
}

// RoleBuilder assembles a Role.
type RoleBuilder struct {
	r *Role
}

func NewRoleBuilder() *RoleBuilder { return &RoleBuilder{r: &Role{}} }

func (b *RoleBuilder) ID(id string) *RoleBuilder    { b.r.ID = id; return b }
func (b *RoleBuilder) Tenant(t string) *RoleBuilder { b.r.TenantID = t; return b }
func (b *RoleBuilder) Name(n string) *RoleBuilder   { b.r.Name = n; return b }

func (b *RoleBuilder) Permission(resourceType string, actions ...string) *RoleBuilder {
	b.r.Permissions = append(b.r.Permissions, RolePermission{ResourceType: resourceType, Actions: actions})
	return b
}

func (b *RoleBuilder) Build() *Role { return b.r }
