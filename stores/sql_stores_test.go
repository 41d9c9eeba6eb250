package stores

import (
	"context"
	"database/sql"
	"testing"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	authz "github.com/GeorgeMwiki/BOSSNYUMBA101-sub015"
)

func newTestDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSQLPolicyStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLPolicyStore(newTestDB(t))

	p := authz.NewPolicyBuilder().ID("pol-1").Tenant("tenant-1").Name("owner update").Priority(40).
		TargetUserTypes("member").
		Rule(authz.NewRuleBuilder(authz.EffectAllow).
			Actions("update").ResourceTypes("unit").
			WhenAll(authz.Cond(authz.SourceResource, "ownerId", authz.OpEquals, authz.Ref(authz.SourceSubject, "userId"))).
			Build()).
		Build()
	if err := store.CreatePolicy(ctx, p); err != nil {
		t.Fatalf("create policy: %v", err)
	}

	got, err := store.GetPolicy(ctx, "pol-1", "tenant-1")
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if got.Priority != 40 || !got.Enabled || got.Name != "owner update" {
		t.Fatalf("unexpected policy: %+v", got)
	}
	if len(got.Target.UserTypes) != 1 || got.Target.UserTypes[0] != "member" {
		t.Fatalf("target lost in roundtrip: %+v", got.Target)
	}
	if len(got.Rules) != 1 || got.Rules[0].Condition == nil {
		t.Fatalf("rules lost in roundtrip: %+v", got.Rules)
	}
	cond := got.Rules[0].Condition.Conditions[0]
	if !cond.Value.IsRef() || cond.Value.Ref.Path != "userId" {
		t.Fatalf("reference value lost in roundtrip: %+v", cond.Value)
	}

	// tenant scoping on reads
	if _, err := store.GetPolicy(ctx, "pol-1", "tenant-2"); err == nil {
		t.Fatalf("another tenant must not read the policy")
	}
}

func TestSQLPolicyStoreActiveListing(t *testing.T) {
	ctx := context.Background()
	store := NewSQLPolicyStore(newTestDB(t))

	mk := func(id string, enabled bool, tenant string) *authz.Policy {
		return authz.NewPolicyBuilder().ID(id).Tenant(tenant).Priority(1).Enabled(enabled).
			Rule(authz.NewRuleBuilder(authz.EffectAllow).Actions("*").ResourceTypes("*").Build()).
			Build()
	}
	for _, p := range []*authz.Policy{
		mk("on-1", true, "tenant-1"),
		mk("off-1", false, "tenant-1"),
		mk("other", true, "tenant-2"),
		mk("global", true, ""),
	} {
		if err := store.CreatePolicy(ctx, p); err != nil {
			t.Fatalf("create %s: %v", p.ID, err)
		}
	}

	got, err := store.GetActivePolicies(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := map[string]bool{}
	for _, p := range got {
		ids[p.ID] = true
	}
	if len(got) != 2 || !ids["on-1"] || !ids["global"] {
		t.Fatalf("unexpected active set: %v", ids)
	}

	if err := store.DeletePolicy(ctx, "on-1", "tenant-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = store.GetActivePolicies(ctx, "tenant-1")
	if len(got) != 1 {
		t.Fatalf("expected only the global policy after delete, got %d", len(got))
	}
}

func TestSQLRoleStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLRoleStore(newTestDB(t))

	role := authz.NewRoleBuilder().ID("role-manager").Tenant("tenant-1").Name("Manager").
		Permission("unit", "manage").
		Permission("invoice", "read", "approve").
		Build()
	if err := store.CreateRole(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}

	got, err := store.GetRole(ctx, "tenant-1", "role-manager")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if len(got.Permissions) != 2 || got.Permissions[0].ResourceType != "unit" {
		t.Fatalf("permissions lost in roundtrip: %+v", got.Permissions)
	}
	if _, err := store.GetRole(ctx, "tenant-2", "role-manager"); err == nil {
		t.Fatalf("another tenant must not read the role")
	}
}

func TestSQLRoleStoreAssignments(t *testing.T) {
	ctx := context.Background()
	store := NewSQLRoleStore(newTestDB(t))

	asg := authz.RoleAssignment{RoleID: "role-manager", OrganizationID: "org-a"}
	if err := store.AssignRole(ctx, "tenant-1", "user-1", asg); err != nil {
		t.Fatalf("assign: %v", err)
	}
	// idempotent
	if err := store.AssignRole(ctx, "tenant-1", "user-1", asg); err != nil {
		t.Fatalf("re-assign: %v", err)
	}

	got, err := store.AssignmentsForUser(ctx, "tenant-1", "user-1")
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(got) != 1 || got[0] != asg {
		t.Fatalf("unexpected assignments: %+v", got)
	}

	// tenant keyed
	got, _ = store.AssignmentsForUser(ctx, "tenant-2", "user-1")
	if len(got) != 0 {
		t.Fatalf("assignments must not cross tenants: %+v", got)
	}

	if err := store.RevokeRole(ctx, "tenant-1", "user-1", asg); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	got, _ = store.AssignmentsForUser(ctx, "tenant-1", "user-1")
	if len(got) != 0 {
		t.Fatalf("expected empty after revoke: %+v", got)
	}
}

// End to end: SQL stores backing the real resolver and evaluator.
func TestSQLBackedService(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	roleStore := NewSQLRoleStore(db)
	policyStore := NewSQLPolicyStore(db)

	role := authz.NewRoleBuilder().ID("role-manager").Tenant("tenant-1").Name("Manager").
		Permission("unit", "manage").Build()
	if err := roleStore.CreateRole(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := roleStore.AssignRole(ctx, "tenant-1", "user-1", authz.RoleAssignment{RoleID: "role-manager"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	allowAll := authz.NewPolicyBuilder().ID("allow-all").Tenant("tenant-1").Priority(1).
		Rule(authz.NewRuleBuilder(authz.EffectAllow).Actions("*").ResourceTypes("*").Build()).
		Build()
	if err := policyStore.CreatePolicy(ctx, allowAll); err != nil {
		t.Fatalf("create policy: %v", err)
	}

	svc, err := authz.BuildService(roleStore, policyStore, authz.DefaultConfig())
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	sub := &authz.Subject{UserID: "user-1", TenantID: "tenant-1", UserType: "member"}
	res := &authz.Resource{Type: "unit", ID: "u-1", TenantID: "tenant-1"}
	out, err := svc.Authorize(ctx, sub, authz.Action{Name: "read", ResourceType: "unit"}, res, nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !out.Allowed {
		t.Fatalf("expected allow, reason=%s", out.Reason)
	}
}
