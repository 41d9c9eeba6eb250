// Package tenancy provides the tenant-context propagation primitives and the
// isolation enforcer that make cross-tenant data exposure structurally
// difficult. Every data-access call site is expected to go through an
// Enforcer obtained from the request context; there is no ambient default
// tenant.
package tenancy

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for tenant isolation. ErrNoTenantContext signals a
// programming error (a call path that never established a tenant); it is
// fatal at the point of use, never defaulted.
var (
	ErrIsolation       = errors.New("tenancy: tenant isolation violation")
	ErrNoTenantContext = errors.New("tenancy: no tenant context established")
)

// IsolationError is returned when an entity from another tenant reaches an
// assertion. It wraps ErrIsolation so callers can match with errors.Is.
type IsolationError struct {
	Expected string
	Actual   string
}

func (e *IsolationError) Error() string {
	return fmt.Sprintf("tenancy: tenant isolation violation: expected tenant %q, got %q", e.Expected, e.Actual)
}

func (e *IsolationError) Unwrap() error { return ErrIsolation }

// TenantContext is the per-request tenant identity. IsSuperAdmin contexts
// bypass filtering; they exist for operator tooling only and must never be
// constructed from request input.
type TenantContext struct {
	TenantID     string
	IsSuperAdmin bool
}

type ctxKey struct{}

// WithTenant returns a child context carrying tc. It is the only way a
// tenant context enters a request; downstream code recovers it with
// FromContext or MustFromContext. context.Context gives the per-request,
// non-leaking propagation the runtime offers.
func WithTenant(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext recovers the tenant context, or ErrNoTenantContext when the
// caller never established one.
func FromContext(ctx context.Context) (TenantContext, error) {
	tc, ok := ctx.Value(ctxKey{}).(TenantContext)
	if !ok {
		return TenantContext{}, ErrNoTenantContext
	}
	return tc, nil
}

// MustFromContext is FromContext for call sites where absence is a bug.
// Silently proceeding without isolation is worse than crashing, so it
// panics.
func MustFromContext(ctx context.Context) TenantContext {
	tc, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return tc
}
