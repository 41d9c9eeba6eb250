package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/GeorgeMwiki/BOSSNYUMBA101-sub015/logger"
)

// ManageAction implies every action on its resource type.
const ManageAction = "manage"

// RoleResolver owns the role -> permission source of truth. Implementations
// may be backed by SQL, Redis, or memory; fetches may block and the resolver
// tolerates their latency without imposing ordering on concurrent callers.
type RoleResolver interface {
	// AssignmentsForUser returns the subject's role assignments inside the
	// tenant. A user with no assignments returns an empty slice, not an
	// error.
	AssignmentsForUser(ctx context.Context, tenantID, userID string) ([]RoleAssignment, error)
	GetRole(ctx context.Context, tenantID, roleID string) (*Role, error)
}

// ResolvedPermissions is the flattened permission view for one subject:
// the tenant-wide set plus per-organization sets from org-scoped
// assignments.
type ResolvedPermissions struct {
	TenantID string
	UserID   string
	// All holds every permission the subject has anywhere in the tenant.
	All map[string]struct{}
	// TenantWide holds permissions from unscoped assignments.
	TenantWide map[string]struct{}
	// ByOrg holds permissions granted only inside one organization.
	ByOrg map[string]map[string]struct{}
}

// Strings returns the sorted-free flattened "resourceType:action" list.
func (r *ResolvedPermissions) Strings() []string {
	out := make([]string, 0, len(r.All))
	for p := range r.All {
		out = append(out, p)
	}
	return out
}

// PermissionResolver flattens role assignments into cacheable permission
// sets. The cache is keyed (tenantID, userID) and invalidated explicitly
// whenever assignments change; the TTL is only a backstop, never the
// correctness mechanism, because a stale elevated permission is a security
// defect.
type PermissionResolver struct {
	roles RoleResolver
	cache *ristretto.Cache
	ttl   time.Duration
	log   logger.Logger
}

// ResolverOption configures a PermissionResolver.
type ResolverOption func(*PermissionResolver)

// WithResolverLogger installs a structured logger.
func WithResolverLogger(l logger.Logger) ResolverOption {
	return func(r *PermissionResolver) { r.log = l }
}

// WithCacheTTL sets the backstop TTL for cached permission sets.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *PermissionResolver) { r.ttl = ttl }
}

// WithoutCache disables caching entirely; every query resolves fresh.
func WithoutCache() ResolverOption {
	return func(r *PermissionResolver) { r.cache = nil }
}

// NewPermissionResolver builds a resolver over the injected RoleResolver.
func NewPermissionResolver(roles RoleResolver, opts ...ResolverOption) (*PermissionResolver, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("permission cache: %w", err)
	}
	r := &PermissionResolver{
		roles: roles,
		cache: cache,
		ttl:   5 * time.Minute,
		log:   logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func cacheKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

// ResolvePermissions walks the subject's role assignments, unions each
// role's permission list and caches the result. A subject with zero
// assignments resolves to an empty set (default-deny), never an error.
func (r *PermissionResolver) ResolvePermissions(ctx context.Context, sub *Subject) (*ResolvedPermissions, error) {
	key := cacheKey(sub.TenantID, sub.UserID)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			if rp, ok2 := v.(*ResolvedPermissions); ok2 {
				return rp, nil
			}
		}
	}

	assignments, err := r.roles.AssignmentsForUser(ctx, sub.TenantID, sub.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve assignments for %s/%s: %w", sub.TenantID, sub.UserID, err)
	}

	rp := &ResolvedPermissions{
		TenantID:   sub.TenantID,
		UserID:     sub.UserID,
		All:        map[string]struct{}{},
		TenantWide: map[string]struct{}{},
		ByOrg:      map[string]map[string]struct{}{},
	}
	for _, asg := range assignments {
		role, err := r.roles.GetRole(ctx, sub.TenantID, asg.RoleID)
		if err != nil {
			// A dangling assignment grants nothing; it must not break the
			// rest of the resolution.
			r.log.Debug("skipping unresolvable role", "tenant", sub.TenantID, "role", asg.RoleID)
			continue
		}
		for _, perm := range role.Permissions {
			for _, action := range perm.Actions {
				p := perm.ResourceType + ":" + action
				rp.All[p] = struct{}{}
				if asg.OrganizationID == "" {
					rp.TenantWide[p] = struct{}{}
				} else {
					set, ok := rp.ByOrg[asg.OrganizationID]
					if !ok {
						set = map[string]struct{}{}
						rp.ByOrg[asg.OrganizationID] = set
					}
					set[p] = struct{}{}
				}
			}
		}
	}

	if r.cache != nil {
		r.cache.SetWithTTL(key, rp, 1, r.ttl)
		r.cache.Wait()
	}
	return rp, nil
}

// InvalidateUser drops the cached permission set for one subject. It must
// be called whenever that subject's role assignments change.
func (r *PermissionResolver) InvalidateUser(tenantID, userID string) {
	if r.cache != nil {
		r.cache.Del(cacheKey(tenantID, userID))
	}
}

// HasPermission answers a point query against the resolved set. "manage"
// on a resource type implies all actions on that type.
func (r *PermissionResolver) HasPermission(ctx context.Context, sub *Subject, permission string) (bool, error) {
	rp, err := r.ResolvePermissions(ctx, sub)
	if err != nil {
		return false, err
	}
	return setGrants(rp.All, permission), nil
}

// HasPermissionInOrg counts only assignments scoped to orgID or unscoped
// (tenant-wide).
func (r *PermissionResolver) HasPermissionInOrg(ctx context.Context, sub *Subject, permission, orgID string) (bool, error) {
	rp, err := r.ResolvePermissions(ctx, sub)
	if err != nil {
		return false, err
	}
	if setGrants(rp.TenantWide, permission) {
		return true, nil
	}
	if set, ok := rp.ByOrg[orgID]; ok && setGrants(set, permission) {
		return true, nil
	}
	return false, nil
}

// setGrants matches exactly, then falls back to the manage implication.
func setGrants(set map[string]struct{}, permission string) bool {
	if _, ok := set[permission]; ok {
		return true
	}
	for i := 0; i < len(permission); i++ {
		if permission[i] == ':' {
			_, ok := set[permission[:i]+":"+ManageAction]
			return ok
		}
	}
	return false
}
