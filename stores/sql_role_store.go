package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	authz "github.com/GeorgeMwiki/BOSSNYUMBA101-sub015"
)

// SQLRoleStore persists roles and role assignments in SQL (squealx). It
// implements authz.RoleResolver, so it can back a PermissionResolver
// directly.
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

func (s *SQLRoleStore) CreateRole(ctx context.Context, r *authz.Role) error {
	perms, _ := json.Marshal(r.Permissions)
	q := `INSERT INTO roles(id, tenant_id, name, permissions_json, created_at) VALUES(:id, :tenant_id, :name, :permissions_json, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":               r.ID,
		"tenant_id":        r.TenantID,
		"name":             r.Name,
		"permissions_json": string(perms),
		"created_at":       time.Now(),
	})
	return err
}

func (s *SQLRoleStore) UpdateRole(ctx context.Context, r *authz.Role) error {
	perms, _ := json.Marshal(r.Permissions)
	q := `UPDATE roles SET name=:name, permissions_json=:permissions_json, updated_at=:updated_at WHERE id=:id AND tenant_id=:tenant_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":               r.ID,
		"tenant_id":        r.TenantID,
		"name":             r.Name,
		"permissions_json": string(perms),
		"updated_at":       time.Now(),
	})
	return err
}

func (s *SQLRoleStore) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	q := `DELETE FROM roles WHERE id = :id AND tenant_id = :tenant_id`
	if _, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": roleID, "tenant_id": tenantID}); err != nil {
		return err
	}
	q = `DELETE FROM role_assignments WHERE role_id = :role_id AND tenant_id = :tenant_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"role_id": roleID, "tenant_id": tenantID})
	return err
}

func (s *SQLRoleStore) GetRole(ctx context.Context, tenantID, roleID string) (*authz.Role, error) {
	q := `SELECT id, tenant_id, name, permissions_json, created_at, updated_at FROM roles WHERE id = :id AND tenant_id = :tenant_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": roleID, "tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("role not found: %s", roleID)
	}
	var idv, tenant, name, permsJSON string
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&idv, &tenant, &name, &permsJSON, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	role := &authz.Role{ID: idv, TenantID: tenant, Name: name}
	if err := json.Unmarshal([]byte(permsJSON), &role.Permissions); err != nil {
		return nil, fmt.Errorf("decode role permissions %s: %w", idv, err)
	}
	role.CreatedAt = scanTime(createdRaw)
	role.UpdatedAt = scanTime(updatedRaw)
	return role, nil
}

func (s *SQLRoleStore) ListRoles(ctx context.Context, tenantID string) ([]*authz.Role, error) {
	q := `SELECT id FROM roles WHERE tenant_id = :tenant_id ORDER BY created_at ASC, id ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	ids := make([]string, 0)
	for r.Next() {
		var id string
		if err := r.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	out := make([]*authz.Role, 0, len(ids))
	for _, id := range ids {
		role, err := s.GetRole(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

// AssignRole is idempotent: re-assigning the same role/org pair is a no-op.
func (s *SQLRoleStore) AssignRole(ctx context.Context, tenantID, userID string, asg authz.RoleAssignment) error {
	q := `INSERT OR IGNORE INTO role_assignments(tenant_id, user_id, role_id, organization_id) VALUES(:tenant_id, :user_id, :role_id, :organization_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"tenant_id":       tenantID,
		"user_id":         userID,
		"role_id":         asg.RoleID,
		"organization_id": asg.OrganizationID,
	})
	return err
}

func (s *SQLRoleStore) RevokeRole(ctx context.Context, tenantID, userID string, asg authz.RoleAssignment) error {
	q := `DELETE FROM role_assignments WHERE tenant_id = :tenant_id AND user_id = :user_id AND role_id = :role_id AND organization_id = :organization_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"tenant_id":       tenantID,
		"user_id":         userID,
		"role_id":         asg.RoleID,
		"organization_id": asg.OrganizationID,
	})
	return err
}

func (s *SQLRoleStore) AssignmentsForUser(ctx context.Context, tenantID, userID string) ([]authz.RoleAssignment, error) {
	q := `SELECT role_id, organization_id FROM role_assignments WHERE tenant_id = :tenant_id AND user_id = :user_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID, "user_id": userID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]authz.RoleAssignment, 0)
	for r.Next() {
		var asg authz.RoleAssignment
		if err := r.Scan(&asg.RoleID, &asg.OrganizationID); err != nil {
			return nil, err
		}
		out = append(out, asg)
	}
	return out, nil
}
