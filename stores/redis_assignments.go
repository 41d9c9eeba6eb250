package stores

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	authz "github.com/GeorgeMwiki/BOSSNYUMBA101-sub015"
)

// RedisAssignmentStore keeps role assignments in Redis sets, one set per
// tenant/user (key: roleasg:{tenantID}:{userID}). Each member encodes
// "roleID|organizationID"; the org part is empty for tenant-wide grants.
// Pair it with a role catalog via SplitRoleResolver to get a full
// authz.RoleResolver.
type RedisAssignmentStore struct {
	client *redis.Client
	keyFmt string
}

func NewRedisAssignmentStore(client *redis.Client) *RedisAssignmentStore {
	return &RedisAssignmentStore{client: client, keyFmt: "roleasg:%s:%s"}
}

func (r *RedisAssignmentStore) key(tenantID, userID string) string {
	return fmt.Sprintf(r.keyFmt, tenantID, userID)
}

func encodeAssignment(asg authz.RoleAssignment) string {
	return asg.RoleID + "|" + asg.OrganizationID
}

func decodeAssignment(member string) authz.RoleAssignment {
	roleID, orgID, _ := strings.Cut(member, "|")
	return authz.RoleAssignment{RoleID: roleID, OrganizationID: orgID}
}

func (r *RedisAssignmentStore) AssignRole(ctx context.Context, tenantID, userID string, asg authz.RoleAssignment) error {
	return r.client.SAdd(ctx, r.key(tenantID, userID), encodeAssignment(asg)).Err()
}

func (r *RedisAssignmentStore) RevokeRole(ctx context.Context, tenantID, userID string, asg authz.RoleAssignment) error {
	return r.client.SRem(ctx, r.key(tenantID, userID), encodeAssignment(asg)).Err()
}

func (r *RedisAssignmentStore) AssignmentsForUser(ctx context.Context, tenantID, userID string) ([]authz.RoleAssignment, error) {
	members, err := r.client.SMembers(ctx, r.key(tenantID, userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]authz.RoleAssignment, 0, len(members))
	for _, m := range members {
		out = append(out, decodeAssignment(m))
	}
	return out, nil
}

// AssignmentSource lists a user's role assignments without knowing role
// definitions.
type AssignmentSource interface {
	AssignmentsForUser(ctx context.Context, tenantID, userID string) ([]authz.RoleAssignment, error)
}

// RoleCatalog resolves role definitions without knowing who holds them.
type RoleCatalog interface {
	GetRole(ctx context.Context, tenantID, roleID string) (*authz.Role, error)
}

// SplitRoleResolver composes an assignment source with a role catalog into
// an authz.RoleResolver. Typical use: Redis assignments over a SQL or
// in-memory role catalog.
type SplitRoleResolver struct {
	Assignments AssignmentSource
	Roles       RoleCatalog
}

func (s *SplitRoleResolver) AssignmentsForUser(ctx context.Context, tenantID, userID string) ([]authz.RoleAssignment, error) {
	return s.Assignments.AssignmentsForUser(ctx, tenantID, userID)
}

func (s *SplitRoleResolver) GetRole(ctx context.Context, tenantID, roleID string) (*authz.Role, error) {
	return s.Roles.GetRole(ctx, tenantID, roleID)
}
