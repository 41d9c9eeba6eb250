// Package authz implements a combined RBAC/ABAC authorization core for
// multi-tenant deployments. Role-derived permissions and attribute policies
// are evaluated independently and merged into a single decision; tenant
// isolation is enforced structurally by the tenancy package.
package authz

import (
	"encoding/json"
	"fmt"
	"time"
)

// Subject is the authenticated principal requesting access. It is built
// per request and must not be mutated during an authorization call.
type Subject struct {
	UserID          string   `json:"user_id" yaml:"user_id"`
	TenantID        string   `json:"tenant_id" yaml:"tenant_id"`
	UserType        string   `json:"user_type" yaml:"user_type"` // user, service, device
	Roles           []string `json:"roles" yaml:"roles"`
	OrganizationIDs []string `json:"organization_ids,omitempty" yaml:"organization_ids,omitempty"`
	PrimaryOrgID    string   `json:"primary_org_id,omitempty" yaml:"primary_org_id,omitempty"`
	// Permissions is the flattened "resourceType:action" set derived by the
	// PermissionResolver. It is never stored.
	Permissions []string `json:"permissions,omitempty" yaml:"-"`
	MFAVerified bool     `json:"mfa_verified" yaml:"mfa_verified"`
}

// Resource is the target of an action. TenantID is mandatory: every resource
// is tenant-scoped or explicitly global (empty tenant on the policy side only,
// never on the resource).
type Resource struct {
	Type           string         `json:"type" yaml:"type"`
	ID             string         `json:"id,omitempty" yaml:"id,omitempty"`
	TenantID       string         `json:"tenant_id" yaml:"tenant_id"`
	OrganizationID string         `json:"organization_id,omitempty" yaml:"organization_id,omitempty"`
	OwnerID        string         `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Action is the verb plus the resource type it targets, carried structurally
// so policies can match on either part.
type Action struct {
	Name         string `json:"name" yaml:"name"`
	ResourceType string `json:"resource_type" yaml:"resource_type"`
}

// Permission returns the canonical "resourceType:action" string for a.
func (a Action) Permission() string {
	return a.ResourceType + ":" + a.Name
}

// Environment carries request-time facts not intrinsic to subject or
// resource. Timestamp is an ISO-8601 string as received from the transport;
// derived attributes (hour of day) are computed once per evaluation.
type Environment struct {
	IPAddress string         `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	Timestamp string         `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	RequestID string         `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	SessionID string         `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Effect is the outcome a rule produces when it matches.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Role owns an ordered, duplicate-free list of permissions. Roles are
// tenant-scoped configuration.
type Role struct {
	ID          string           `json:"id" yaml:"id"`
	TenantID    string           `json:"tenant_id" yaml:"tenant_id"`
	Name        string           `json:"name" yaml:"name"`
	Permissions []RolePermission `json:"permissions" yaml:"permissions"`
	CreatedAt   time.Time        `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt   time.Time        `json:"updated_at,omitempty" yaml:"-"`
}

// RolePermission grants a set of actions on one resource type. The action
// "manage" implies every action on that type. Condition, when present, is
// advisory metadata surfaced to ABAC policies; the flattened RBAC set does
// not evaluate it.
type RolePermission struct {
	ResourceType string          `json:"resource_type" yaml:"resource_type"`
	Actions      []string        `json:"actions" yaml:"actions"`
	Condition    *ConditionGroup `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// RoleAssignment links a subject to a role, optionally scoped to one
// organization inside the tenant. An unscoped assignment grants tenant-wide.
type RoleAssignment struct {
	RoleID         string `json:"role_id" yaml:"role_id"`
	OrganizationID string `json:"organization_id,omitempty" yaml:"organization_id,omitempty"`
}

// Policy is an ordered collection of rules with a target filter. Higher
// priority policies are evaluated first; ties keep store order.
type Policy struct {
	ID        string       `json:"id" yaml:"id"`
	TenantID  string       `json:"tenant_id" yaml:"tenant_id"`
	Name      string       `json:"name,omitempty" yaml:"name,omitempty"`
	Priority  int          `json:"priority" yaml:"priority"`
	Target    PolicyTarget `json:"target" yaml:"target"`
	Rules     []Rule       `json:"rules" yaml:"rules"`
	Enabled   bool         `json:"enabled" yaml:"enabled"`
	CreatedAt time.Time    `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt time.Time    `json:"updated_at,omitempty" yaml:"-"`
}

// PolicyTarget filters which principals and organizations a policy applies
// to. An empty list targets everyone on that axis.
type PolicyTarget struct {
	UserTypes       []string `json:"user_types,omitempty" yaml:"user_types,omitempty"`
	RoleIDs         []string `json:"role_ids,omitempty" yaml:"role_ids,omitempty"`
	UserIDs         []string `json:"user_ids,omitempty" yaml:"user_ids,omitempty"`
	OrganizationIDs []string `json:"organization_ids,omitempty" yaml:"organization_ids,omitempty"`
}

// Rule matches an action/resource-type pair (wildcard "*" supported) plus an
// optional condition group. Within a policy, rules evaluate in array order
// and the first full match wins for that policy.
type Rule struct {
	Effect        Effect          `json:"effect" yaml:"effect"`
	Actions       []string        `json:"actions" yaml:"actions"`
	ResourceTypes []string        `json:"resource_types" yaml:"resource_types"`
	Condition     *ConditionGroup `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// GroupLogic combines the children of a ConditionGroup.
type GroupLogic string

const (
	LogicAnd GroupLogic = "and"
	LogicOr  GroupLogic = "or"
)

// ConditionGroup combines conditions and nested groups with AND/OR logic.
// An empty group is vacuously true.
type ConditionGroup struct {
	Logic      GroupLogic       `json:"logic" yaml:"logic"`
	Conditions []Condition      `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Groups     []ConditionGroup `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// AttributeSource names the bucket a dot-path resolves against.
type AttributeSource string

const (
	SourceSubject  AttributeSource = "subject"
	SourceResource AttributeSource = "resource"
	SourceContext  AttributeSource = "context"
	SourceAction   AttributeSource = "action"
)

// Condition compares one attribute against a value. The value may itself be
// a reference into the request, resolved at evaluation time.
type Condition struct {
	Source   AttributeSource `json:"source" yaml:"source"`
	Path     string          `json:"path" yaml:"path"`
	Operator Operator        `json:"operator" yaml:"operator"`
	Value    ConditionValue  `json:"value" yaml:"value"`
}

// AttributeRef points at another attribute in the same request, e.g.
// {subject userId} for "equal to the requesting user's id".
type AttributeRef struct {
	Source AttributeSource `json:"source"`
	Path   string          `json:"path"`
}

// ConditionValue is a tagged union: either a literal or a reference. A
// reference is serialized as {"ref": "subject.userId"}; anything else is
// taken literally.
type ConditionValue struct {
	Literal any
	Ref     *AttributeRef
}

// Literal wraps a plain comparison value.
func Literal(v any) ConditionValue { return ConditionValue{Literal: v} }

// Ref builds a reference-valued comparison.
func Ref(source AttributeSource, path string) ConditionValue {
	return ConditionValue{Ref: &AttributeRef{Source: source, Path: path}}
}

// IsRef reports whether v resolves through the request rather than a literal.
func (v ConditionValue) IsRef() bool { return v.Ref != nil }

func (v ConditionValue) MarshalJSON() ([]byte, error) {
	if v.Ref != nil {
		return json.Marshal(map[string]string{"ref": string(v.Ref.Source) + "." + v.Ref.Path})
	}
	return json.Marshal(v.Literal)
}

// MarshalYAML mirrors the JSON form, so exported configuration reloads into
// the same union arm it came from.
func (v ConditionValue) MarshalYAML() (any, error) {
	if v.Ref != nil {
		return map[string]string{"ref": string(v.Ref.Source) + "." + v.Ref.Path}, nil
	}
	return v.Literal, nil
}

func (v *ConditionValue) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil {
		if raw, ok := obj["ref"].(string); ok && len(obj) == 1 {
			ref, err := parseRef(raw)
			if err != nil {
				return err
			}
			v.Ref = ref
			v.Literal = nil
			return nil
		}
	}
	v.Ref = nil
	return json.Unmarshal(data, &v.Literal)
}

// UnmarshalYAML mirrors the JSON form so config files can use
// value: {ref: subject.userId} next to plain literals.
func (v *ConditionValue) UnmarshalYAML(unmarshal func(any) error) error {
	var obj map[string]any
	if err := unmarshal(&obj); err == nil {
		if raw, ok := obj["ref"].(string); ok && len(obj) == 1 {
			ref, err := parseRef(raw)
			if err != nil {
				return err
			}
			v.Ref = ref
			v.Literal = nil
			return nil
		}
		if len(obj) > 0 {
			v.Ref = nil
			v.Literal = obj
			return nil
		}
	}
	var lit any
	if err := unmarshal(&lit); err != nil {
		return err
	}
	v.Ref = nil
	v.Literal = lit
	return nil
}

func parseRef(raw string) (*AttributeRef, error) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '.' {
			src := AttributeSource(raw[:i])
			switch src {
			case SourceSubject, SourceResource, SourceContext, SourceAction:
				return &AttributeRef{Source: src, Path: raw[i+1:]}, nil
			}
			return nil, fmt.Errorf("unknown attribute source in ref %q", raw)
		}
	}
	return nil, fmt.Errorf("malformed attribute ref %q", raw)
}

// Decision is the evaluator and service output. Denial is data, not an
// error. Trace is diagnostic only and never drives control flow.
type Decision struct {
	Allowed           bool          `json:"allowed"`
	Reason            string        `json:"reason"`
	DecidingPolicyID  string        `json:"deciding_policy_id,omitempty"`
	DecidingRuleIndex int           `json:"deciding_rule_index"`
	Trace             []PolicyTrace `json:"trace,omitempty"`
}

// PolicyTrace records one examined policy: whether a rule matched, the
// effect it produced, the index of the matching rule and the time spent.
type PolicyTrace struct {
	PolicyID  string        `json:"policy_id"`
	Matched   bool          `json:"matched"`
	Effect    Effect        `json:"effect,omitempty"`
	RuleIndex int           `json:"rule_index"`
	Skipped   string        `json:"skipped,omitempty"` // non-empty when targeting excluded the policy
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// DecisionSource identifies which engine produced the final verdict.
type DecisionSource string

const (
	SourceRBAC     DecisionSource = "rbac"
	SourceABAC     DecisionSource = "abac"
	SourceCombined DecisionSource = "rbac+abac"
	SourceTenant   DecisionSource = "tenant"
)

// Result is the AuthorizationService output consumed by the transport layer.
type Result struct {
	Allowed     bool           `json:"allowed"`
	Reason      string         `json:"reason"`
	Source      DecisionSource `json:"source"`
	RBACAllowed bool           `json:"rbac_allowed"`
	ABAC        *Decision      `json:"abac,omitempty"`
}
