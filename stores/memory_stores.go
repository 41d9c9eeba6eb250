// Package stores provides PolicyStore and RoleResolver implementations:
// in-memory for tests and small deployments, SQL via squealx, and a Redis
// role-assignment store.
package stores

import (
	"context"
	"fmt"
	"sync"
	"time"

	authz "github.com/GeorgeMwiki/BOSSNYUMBA101-sub015"
)

// MemoryPolicyStore keeps policies in insertion order so that equal
// priorities evaluate in the order they were loaded, which the evaluator's
// stable sort relies on.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies []*authz.Policy
	byID     map[string]*authz.Policy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{byID: make(map[string]*authz.Policy)}
}

func (s *MemoryPolicyStore) CreatePolicy(ctx context.Context, p *authz.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[p.ID]; exists {
		return fmt.Errorf("policy already exists: %s", p.ID)
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	s.policies = append(s.policies, p)
	s.byID[p.ID] = p
	return nil
}

func (s *MemoryPolicyStore) UpdatePolicy(ctx context.Context, p *authz.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[p.ID]
	if !ok {
		return fmt.Errorf("policy not found: %s", p.ID)
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = time.Now()
	for i, existing := range s.policies {
		if existing.ID == p.ID {
			s.policies[i] = p
			break
		}
	}
	s.byID[p.ID] = p
	return nil
}

func (s *MemoryPolicyStore) DeletePolicy(ctx context.Context, id, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok || p.TenantID != tenantID {
		return fmt.Errorf("policy not found: %s", id)
	}
	delete(s.byID, id)
	for i, existing := range s.policies {
		if existing.ID == id {
			s.policies = append(s.policies[:i], s.policies[i+1:]...)
			break
		}
	}
	return nil
}

// GetPolicy is tenant-scoped: asking for another tenant's policy id behaves
// exactly like asking for a nonexistent one. The returned policy is a copy;
// mutating it cannot race with concurrent evaluations.
func (s *MemoryPolicyStore) GetPolicy(ctx context.Context, id, tenantID string) (*authz.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok || (p.TenantID != tenantID && p.TenantID != "") {
		return nil, fmt.Errorf("policy not found: %s", id)
	}
	dup := *p
	return &dup, nil
}

// GetActivePolicies returns enabled policies for the tenant (plus global
// ones) in insertion order.
func (s *MemoryPolicyStore) GetActivePolicies(ctx context.Context, tenantID string) ([]*authz.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*authz.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		if !p.Enabled {
			continue
		}
		if p.TenantID == tenantID || p.TenantID == "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// MemoryRoleStore holds roles and role assignments for tests and seeds. It
// implements authz.RoleResolver directly.
type MemoryRoleStore struct {
	mu          sync.RWMutex
	roles       map[string]map[string]*authz.Role            // tenantID -> roleID -> role
	assignments map[string]map[string][]authz.RoleAssignment // tenantID -> userID -> assignments
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{
		roles:       make(map[string]map[string]*authz.Role),
		assignments: make(map[string]map[string][]authz.RoleAssignment),
	}
}

func (s *MemoryRoleStore) CreateRole(ctx context.Context, r *authz.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.roles[r.TenantID]
	if !ok {
		tenant = make(map[string]*authz.Role)
		s.roles[r.TenantID] = tenant
	}
	if _, exists := tenant[r.ID]; exists {
		return fmt.Errorf("role already exists: %s", r.ID)
	}
	r.CreatedAt = time.Now()
	tenant[r.ID] = r
	return nil
}

func (s *MemoryRoleStore) UpdateRole(ctx context.Context, r *authz.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.roles[r.TenantID]
	if !ok || tenant[r.ID] == nil {
		return fmt.Errorf("role not found: %s", r.ID)
	}
	r.UpdatedAt = time.Now()
	tenant[r.ID] = r
	return nil
}

func (s *MemoryRoleStore) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tenant, ok := s.roles[tenantID]; ok {
		delete(tenant, roleID)
	}
	return nil
}

func (s *MemoryRoleStore) GetRole(ctx context.Context, tenantID, roleID string) (*authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tenant, ok := s.roles[tenantID]; ok {
		if r, ok2 := tenant[roleID]; ok2 {
			return r, nil
		}
	}
	return nil, fmt.Errorf("role not found: %s", roleID)
}

// AssignRole links a subject to a role, optionally scoped to one
// organization. Duplicate assignments are collapsed.
func (s *MemoryRoleStore) AssignRole(ctx context.Context, tenantID, userID string, asg authz.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.assignments[tenantID]
	if !ok {
		tenant = make(map[string][]authz.RoleAssignment)
		s.assignments[tenantID] = tenant
	}
	for _, existing := range tenant[userID] {
		if existing == asg {
			return nil
		}
	}
	tenant[userID] = append(tenant[userID], asg)
	return nil
}

func (s *MemoryRoleStore) RevokeRole(ctx context.Context, tenantID, userID string, asg authz.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.assignments[tenantID]
	if !ok {
		return nil
	}
	kept := tenant[userID][:0]
	for _, existing := range tenant[userID] {
		if existing != asg {
			kept = append(kept, existing)
		}
	}
	tenant[userID] = kept
	return nil
}

func (s *MemoryRoleStore) AssignmentsForUser(ctx context.Context, tenantID, userID string) ([]authz.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenant, ok := s.assignments[tenantID]
	if !ok {
		return []authz.RoleAssignment{}, nil
	}
	out := make([]authz.RoleAssignment, len(tenant[userID]))
	copy(out, tenant[userID])
	return out, nil
}

// MemoryOrgResolver is an in-memory organization hierarchy (child ->
// parent) for the in_organization operator.
type MemoryOrgResolver struct {
	mu     sync.RWMutex
	parent map[string]string
}

func NewMemoryOrgResolver() *MemoryOrgResolver {
	return &MemoryOrgResolver{parent: make(map[string]string)}
}

func (m *MemoryOrgResolver) AddParent(child, parent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parent[child] = parent
}

func (m *MemoryOrgResolver) IsAncestor(ancestor, org string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ancestor == "" || org == "" {
		return false
	}
	if ancestor == org {
		return true
	}
	// Guard against a cyclic hierarchy; the walk must terminate even on
	// malformed data.
	seen := map[string]struct{}{org: {}}
	cur := org
	for {
		p, ok := m.parent[cur]
		if !ok || p == "" {
			return false
		}
		if p == ancestor {
			return true
		}
		if _, dup := seen[p]; dup {
			return false
		}
		seen[p] = struct{}{}
		cur = p
	}
}
