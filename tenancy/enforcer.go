package tenancy

import "context"

// Entity is anything that knows which tenant owns it. Storage models
// implement this once and every enforcer primitive becomes available for
// them.
type Entity interface {
	GetTenantID() string
}

// Enforcer applies the tenant boundary to data-access results. It is
// constructed from a TenantContext only; there is no constructor taking an
// ambient or global tenant id.
type Enforcer struct {
	tc TenantContext
}

// NewEnforcer builds an enforcer for an explicit tenant context.
func NewEnforcer(tc TenantContext) *Enforcer { return &Enforcer{tc: tc} }

// EnforcerFromContext builds an enforcer from the propagated request
// context. Missing context is a programming error and panics, matching
// MustFromContext.
func EnforcerFromContext(ctx context.Context) *Enforcer {
	return &Enforcer{tc: MustFromContext(ctx)}
}

// Tenant returns the enforced tenant context.
func (e *Enforcer) Tenant() TenantContext { return e.tc }

// allows reports whether an entity of the given tenant may flow to the
// caller.
func (e *Enforcer) allows(tenantID string) bool {
	return e.tc.IsSuperAdmin || tenantID == e.tc.TenantID
}

// Assert returns an IsolationError if the entity belongs to another tenant
// and the context is not super-admin. The entity is otherwise untouched.
func (e *Enforcer) Assert(entity Entity) error {
	if entity == nil {
		return nil
	}
	if e.allows(entity.GetTenantID()) {
		return nil
	}
	return &IsolationError{Expected: e.tc.TenantID, Actual: entity.GetTenantID()}
}

// ScopeQuery returns a copy of the base filter with the enforced tenant id
// set, for storage layers that accept filter maps. Super-admin contexts get
// the base filter unchanged.
func (e *Enforcer) ScopeQuery(base map[string]any) map[string]any {
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	if !e.tc.IsSuperAdmin {
		out["tenant_id"] = e.tc.TenantID
	}
	return out
}

// AssertTenantMatch is the typed assertion: it returns the entity unchanged
// on success and an IsolationError otherwise.
func AssertTenantMatch[T Entity](e *Enforcer, entity T) (T, error) {
	if err := e.Assert(entity); err != nil {
		var zero T
		return zero, err
	}
	return entity, nil
}

// FilterTenantEntities drops entities outside the tenant boundary for
// non-super-admin contexts. Cross-tenant rows leaked by a join or cache are
// removed silently; not even a count survives. The operation is idempotent.
func FilterTenantEntities[T Entity](e *Enforcer, items []T) []T {
	if e.tc.IsSuperAdmin {
		return items
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if item.GetTenantID() == e.tc.TenantID {
			out = append(out, item)
		}
	}
	return out
}

// ValidateEntity is the null-safe assertion for lookup-by-id paths: a
// cross-tenant entity comes back nil, indistinguishable from "not found",
// so the existence of another tenant's record is never revealed.
func ValidateEntity[T any, PT interface {
	Entity
	*T
}](e *Enforcer, entity PT) PT {
	if entity == nil {
		return nil
	}
	if e.allows(entity.GetTenantID()) {
		return entity
	}
	return nil
}

// WrapDataAccess composes a single-entity fetch with ValidateEntity so the
// call site cannot forget the check. "Not yours" and "not found" are both
// nil.
func WrapDataAccess[A any, T any, PT interface {
	Entity
	*T
}](e *Enforcer, fetch func(context.Context, A) (PT, error)) func(context.Context, A) (PT, error) {
	return func(ctx context.Context, arg A) (PT, error) {
		entity, err := fetch(ctx, arg)
		if err != nil {
			return nil, err
		}
		return ValidateEntity[T](e, entity), nil
	}
}

// WrapArrayDataAccess composes a list fetch with FilterTenantEntities.
func WrapArrayDataAccess[A any, T Entity](e *Enforcer, fetch func(context.Context, A) ([]T, error)) func(context.Context, A) ([]T, error) {
	return func(ctx context.Context, arg A) ([]T, error) {
		items, err := fetch(ctx, arg)
		if err != nil {
			return nil, err
		}
		return FilterTenantEntities(e, items), nil
	}
}
