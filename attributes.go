package authz

import (
	"strconv"

	"github.com/oarkflow/date"
)

// AttrKind tags the runtime type of a resolved attribute so the operator
// switch can be exhaustive instead of coercing interface{} values.
type AttrKind uint8

const (
	KindAbsent AttrKind = iota
	KindString
	KindNumber
	KindBool
	KindArray
)

// AttrValue is a resolved attribute. Absent is the result of any missing
// path segment; operators applied to Absent are false.
type AttrValue struct {
	Kind AttrKind
	Str  string
	Num  float64
	Bool bool
	Arr  []AttrValue
}

var absent = AttrValue{Kind: KindAbsent}

func StringValue(s string) AttrValue  { return AttrValue{Kind: KindString, Str: s} }
func NumberValue(n float64) AttrValue { return AttrValue{Kind: KindNumber, Num: n} }
func BoolValue(b bool) AttrValue      { return AttrValue{Kind: KindBool, Bool: b} }

// valueOf converts an arbitrary (JSON/YAML-shaped) value into an AttrValue.
// Maps stay traversable; anything unrecognized is Absent so evaluation
// fails closed.
func valueOf(v any) AttrValue {
	switch t := v.(type) {
	case nil:
		return absent
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case int:
		return NumberValue(float64(t))
	case int32:
		return NumberValue(float64(t))
	case int64:
		return NumberValue(float64(t))
	case float32:
		return NumberValue(float64(t))
	case float64:
		return NumberValue(t)
	case []string:
		arr := make([]AttrValue, len(t))
		for i, s := range t {
			arr[i] = StringValue(s)
		}
		return AttrValue{Kind: KindArray, Arr: arr}
	case []any:
		arr := make([]AttrValue, len(t))
		for i, item := range t {
			arr[i] = valueOf(item)
		}
		return AttrValue{Kind: KindArray, Arr: arr}
	default:
		return absent
	}
}

// asNumber attempts numeric coercion. Strings holding numbers coerce; other
// kinds do not.
func (v AttrValue) asNumber() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		n, err := strconv.ParseFloat(v.Str, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// equal compares two resolved values. Cross-kind comparisons are false
// except number-vs-numeric-string.
func (v AttrValue) equal(o AttrValue) bool {
	if v.Kind == KindAbsent || o.Kind == KindAbsent {
		return false
	}
	if v.Kind == o.Kind {
		switch v.Kind {
		case KindString:
			return v.Str == o.Str
		case KindNumber:
			return v.Num == o.Num
		case KindBool:
			return v.Bool == o.Bool
		case KindArray:
			if len(v.Arr) != len(o.Arr) {
				return false
			}
			for i := range v.Arr {
				if !v.Arr[i].equal(o.Arr[i]) {
					return false
				}
			}
			return true
		}
		return false
	}
	if vn, ok := v.asNumber(); ok {
		if on, ok2 := o.asNumber(); ok2 {
			return vn == on
		}
	}
	return false
}

// AttributeSet holds the four per-request attribute buckets. It is built
// once per evaluation; reference-valued conditions resolve against it and
// are never cached.
type AttributeSet struct {
	subject  map[string]any
	resource map[string]any
	context  map[string]any
	action   map[string]any
}

// NewAttributeSet builds the buckets from the request parts. Derived
// context attributes (hour, dayOfWeek) are computed here, before any rule
// matching, from the environment timestamp.
func NewAttributeSet(sub *Subject, act Action, res *Resource, env *Environment) *AttributeSet {
	s := &AttributeSet{
		subject:  map[string]any{},
		resource: map[string]any{},
		context:  map[string]any{},
		action:   map[string]any{},
	}
	if sub != nil {
		s.subject = map[string]any{
			"userId":          sub.UserID,
			"tenantId":        sub.TenantID,
			"userType":        sub.UserType,
			"roles":           sub.Roles,
			"organizationIds": sub.OrganizationIDs,
			"primaryOrgId":    sub.PrimaryOrgID,
			"permissions":     sub.Permissions,
			"mfaVerified":     sub.MFAVerified,
		}
	}
	if res != nil {
		s.resource = map[string]any{
			"type":           res.Type,
			"id":             res.ID,
			"tenantId":       res.TenantID,
			"organizationId": res.OrganizationID,
			"ownerId":        res.OwnerID,
		}
		if len(res.Metadata) > 0 {
			s.resource["metadata"] = res.Metadata
		}
	}
	s.action = map[string]any{
		"name":         act.Name,
		"resourceType": act.ResourceType,
	}
	if env != nil {
		s.context = map[string]any{
			"ipAddress": env.IPAddress,
			"userAgent": env.UserAgent,
			"timestamp": env.Timestamp,
			"requestId": env.RequestID,
			"sessionId": env.SessionID,
		}
		if len(env.Metadata) > 0 {
			s.context["metadata"] = env.Metadata
		}
		if env.Timestamp != "" {
			if t, err := date.Parse(env.Timestamp); err == nil {
				s.context["hour"] = t.Hour()
				s.context["minute"] = t.Minute()
				s.context["dayOfWeek"] = int(t.Weekday())
			}
		}
	}
	return s
}

// Resolve looks up a dot-path in the named bucket. Missing intermediate
// segments short-circuit to Absent; they never raise.
func (s *AttributeSet) Resolve(source AttributeSource, path string) AttrValue {
	var bucket map[string]any
	switch source {
	case SourceSubject:
		bucket = s.subject
	case SourceResource:
		bucket = s.resource
	case SourceContext:
		bucket = s.context
	case SourceAction:
		bucket = s.action
	default:
		return absent
	}
	return lookupPath(bucket, path)
}

func lookupPath(m map[string]any, path string) AttrValue {
	cur := any(m)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			seg := path[start:i]
			node, ok := cur.(map[string]any)
			if !ok {
				return absent
			}
			next, ok := node[seg]
			if !ok {
				return absent
			}
			cur = next
			start = i + 1
		}
	}
	if _, ok := cur.(map[string]any); ok {
		// a map is not a comparable leaf
		return absent
	}
	return valueOf(cur)
}
