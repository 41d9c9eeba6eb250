package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	authz "github.com/GeorgeMwiki/BOSSNYUMBA101-sub015"
)

// SQLPolicyStore persists policies in SQL (squealx). Target and rules are
// stored as JSON columns. Listing orders by created_at then id so that
// equal-priority policies keep a stable relative order across loads.
type SQLPolicyStore struct {
	db *squealx.DB
}

func NewSQLPolicyStore(db *squealx.DB) *SQLPolicyStore {
	return &SQLPolicyStore{db: db}
}

func (s *SQLPolicyStore) CreatePolicy(ctx context.Context, p *authz.Policy) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	target, _ := json.Marshal(p.Target)
	rules, _ := json.Marshal(p.Rules)
	q := `INSERT INTO policies(id, tenant_id, name, priority, target_json, rules_json, enabled, created_at, updated_at) VALUES(:id, :tenant_id, :name, :priority, :target_json, :rules_json, :enabled, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":          p.ID,
		"tenant_id":   p.TenantID,
		"name":        p.Name,
		"priority":    p.Priority,
		"target_json": string(target),
		"rules_json":  string(rules),
		"enabled":     boolToInt(p.Enabled),
		"created_at":  p.CreatedAt,
		"updated_at":  p.UpdatedAt,
	})
	return err
}

func (s *SQLPolicyStore) UpdatePolicy(ctx context.Context, p *authz.Policy) error {
	p.UpdatedAt = time.Now()
	target, _ := json.Marshal(p.Target)
	rules, _ := json.Marshal(p.Rules)
	q := `UPDATE policies SET name=:name, priority=:priority, target_json=:target_json, rules_json=:rules_json, enabled=:enabled, updated_at=:updated_at WHERE id=:id AND tenant_id=:tenant_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":          p.ID,
		"tenant_id":   p.TenantID,
		"name":        p.Name,
		"priority":    p.Priority,
		"target_json": string(target),
		"rules_json":  string(rules),
		"enabled":     boolToInt(p.Enabled),
		"updated_at":  p.UpdatedAt,
	})
	return err
}

func (s *SQLPolicyStore) DeletePolicy(ctx context.Context, id, tenantID string) error {
	q := `DELETE FROM policies WHERE id = :id AND tenant_id = :tenant_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id, "tenant_id": tenantID})
	return err
}

func (s *SQLPolicyStore) GetPolicy(ctx context.Context, id, tenantID string) (*authz.Policy, error) {
	q := `SELECT id, tenant_id, name, priority, target_json, rules_json, enabled, created_at, updated_at FROM policies WHERE id = :id AND (tenant_id = :tenant_id OR tenant_id = '')`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id, "tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("policy not found: %s", id)
	}
	return scanPolicy(r)
}

func (s *SQLPolicyStore) GetActivePolicies(ctx context.Context, tenantID string) ([]*authz.Policy, error) {
	q := `SELECT id, tenant_id, name, priority, target_json, rules_json, enabled, created_at, updated_at FROM policies WHERE enabled = 1 AND (tenant_id = :tenant_id OR tenant_id = '') ORDER BY created_at ASC, id ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authz.Policy, 0)
	for r.Next() {
		p, err := scanPolicy(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(r rowScanner) (*authz.Policy, error) {
	var idv, tenant, name, targetJSON, rulesJSON string
	var priority, enabledInt int
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&idv, &tenant, &name, &priority, &targetJSON, &rulesJSON, &enabledInt, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	p := &authz.Policy{ID: idv, TenantID: tenant, Name: name, Priority: priority, Enabled: enabledInt != 0}
	if err := json.Unmarshal([]byte(targetJSON), &p.Target); err != nil {
		return nil, fmt.Errorf("decode policy target %s: %w", idv, err)
	}
	if err := json.Unmarshal([]byte(rulesJSON), &p.Rules); err != nil {
		return nil, fmt.Errorf("decode policy rules %s: %w", idv, err)
	}
	p.CreatedAt = scanTime(createdRaw)
	p.UpdatedAt = scanTime(updatedRaw)
	return p, nil
}
