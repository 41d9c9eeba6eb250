package authz

import (
	"regexp"
	"strings"
)

// Operator names a comparison in a Condition. Unsupported operator/type
// combinations evaluate to false; no operator ever raises.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpStartsWith         Operator = "starts_with"
	OpEndsWith           Operator = "ends_with"
	OpMatches            Operator = "matches"
	OpExists             Operator = "exists"
	OpNotExists          Operator = "not_exists"
	OpIsOwner            Operator = "is_owner"
	OpInOrganization     Operator = "in_organization"
)

// OrgResolver answers organization-hierarchy membership questions for the
// in_organization operator. The zero resolver (nil) reduces the check to
// direct equality/membership.
type OrgResolver interface {
	IsAncestor(ancestor, org string) bool
}

// applyOperator resolves one condition against the request attributes. The
// comparison value is resolved first (literal or reference), then the
// operator is applied to the tagged values.
func applyOperator(cond Condition, attrs *AttributeSet, orgs OrgResolver) bool {
	left := attrs.Resolve(cond.Source, cond.Path)

	// Existence checks do not need the right-hand side.
	switch cond.Operator {
	case OpExists:
		return left.Kind != KindAbsent
	case OpNotExists:
		return left.Kind == KindAbsent
	}

	var right AttrValue
	if cond.Value.IsRef() {
		right = attrs.Resolve(cond.Value.Ref.Source, cond.Value.Ref.Path)
	} else {
		right = valueOf(cond.Value.Literal)
	}

	switch cond.Operator {
	case OpEquals, OpIsOwner:
		// is_owner is direct equality of the resolved values; callers pair it
		// with resource.ownerId against a subject.userId reference.
		return left.equal(right)
	case OpNotEquals:
		if left.Kind == KindAbsent || right.Kind == KindAbsent {
			return false
		}
		return !left.equal(right)
	case OpGreaterThan:
		return compareNumeric(left, right, func(a, b float64) bool { return a > b })
	case OpGreaterThanOrEqual:
		return compareNumeric(left, right, func(a, b float64) bool { return a >= b })
	case OpLessThan:
		return compareNumeric(left, right, func(a, b float64) bool { return a < b })
	case OpLessThanOrEqual:
		return compareNumeric(left, right, func(a, b float64) bool { return a <= b })
	case OpIn:
		return memberOf(left, right)
	case OpNotIn:
		if left.Kind == KindAbsent || right.Kind != KindArray {
			return false
		}
		return !memberOf(left, right)
	case OpContains:
		return containsValue(left, right)
	case OpNotContains:
		if left.Kind == KindAbsent || right.Kind == KindAbsent {
			return false
		}
		return !containsValue(left, right)
	case OpStartsWith:
		return left.Kind == KindString && right.Kind == KindString &&
			strings.HasPrefix(left.Str, right.Str)
	case OpEndsWith:
		return left.Kind == KindString && right.Kind == KindString &&
			strings.HasSuffix(left.Str, right.Str)
	case OpMatches:
		if left.Kind != KindString || right.Kind != KindString {
			return false
		}
		re, err := regexp.Compile(right.Str)
		if err != nil {
			return false
		}
		return re.MatchString(left.Str)
	case OpInOrganization:
		return inOrganization(left, right, orgs)
	default:
		return false
	}
}

func compareNumeric(left, right AttrValue, cmp func(a, b float64) bool) bool {
	a, ok := left.asNumber()
	if !ok {
		return false
	}
	b, ok := right.asNumber()
	if !ok {
		return false
	}
	return cmp(a, b)
}

// memberOf reports whether left is an element of the array-valued right.
func memberOf(left, right AttrValue) bool {
	if right.Kind != KindArray {
		return false
	}
	for _, item := range right.Arr {
		if left.equal(item) {
			return true
		}
	}
	return false
}

// containsValue: substring when both are strings, array membership when the
// left side is an array.
func containsValue(left, right AttrValue) bool {
	switch left.Kind {
	case KindString:
		if right.Kind != KindString {
			return false
		}
		return strings.Contains(left.Str, right.Str)
	case KindArray:
		for _, item := range left.Arr {
			if item.equal(right) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// inOrganization checks membership of the right-hand org in the left-hand
// value (an org id or list of org ids), walking the hierarchy when an
// OrgResolver is installed.
func inOrganization(left, right AttrValue, orgs OrgResolver) bool {
	if right.Kind != KindString {
		return false
	}
	match := func(org string) bool {
		if org == right.Str {
			return true
		}
		if orgs != nil {
			return orgs.IsAncestor(org, right.Str)
		}
		return false
	}
	switch left.Kind {
	case KindString:
		return match(left.Str)
	case KindArray:
		for _, item := range left.Arr {
			if item.Kind == KindString && match(item.Str) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
