package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ai-brand-monitor/internal/domain"
	"ai-brand-monitor/internal/domain/model"
	"ai-brand-monitor/internal/domain/ports/repository"
)

var _ repository.OrgRepository = (*orgRepo)(nil)

type orgRepo struct {
	pool *pgxpool.Pool
}

func NewOrgRepo(pool *pgxpool.Pool) *orgRepo {
	return &orgRepo{pool: pool}
}

func (r *orgRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Org, error) {
	const q = `
SELECT id, name, brand_name, competitors, plan_tier, active, created_at
FROM orgs WHERE id = $1;`

	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var o model.Org
	if err := row.Scan(&o.ID, &o.Name, &o.BrandName, &o.Competitors, &o.PlanTier, &o.Active, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &o, nil
}

// ListEligible returns active orgs that would fan out to at least one task.
func (r *orgRepo) ListEligible(ctx context.Context, tx repository.Tx) ([]*model.Org, error) {
	const q = `
SELECT o.id, o.name, o.brand_name, o.competitors, o.plan_tier, o.active, o.created_at
FROM orgs o
WHERE o.active
  AND EXISTS (SELECT 1 FROM tracked_prompts p WHERE p.org_id = o.id AND p.active)
  AND EXISTS (SELECT 1 FROM provider_settings s WHERE s.org_id = o.id AND s.enabled)
ORDER BY o.created_at;`

	rows, err := pickRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Org
	for rows.Next() {
		var o model.Org
		if err := rows.Scan(&o.ID, &o.Name, &o.BrandName, &o.Competitors, &o.PlanTier, &o.Active, &o.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (r *orgRepo) ActivePrompts(ctx context.Context, tx repository.Tx, orgID string) ([]*model.TrackedPrompt, error) {
	const q = `
SELECT id, org_id, text, active, created_at
FROM tracked_prompts
WHERE org_id = $1 AND active
ORDER BY created_at;`

	rows, err := pickRows(ctx, r.pool, tx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.TrackedPrompt
	for rows.Next() {
		var p model.TrackedPrompt
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Text, &p.Active, &p.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *orgRepo) EnabledProviders(ctx context.Context, tx repository.Tx, orgID string) ([]*model.ProviderSetting, error) {
	const q = `
SELECT org_id, provider, model, enabled
FROM provider_settings
WHERE org_id = $1 AND enabled
ORDER BY provider;`

	rows, err := pickRows(ctx, r.pool, tx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ProviderSetting
	for rows.Next() {
		var s model.ProviderSetting
		if err := rows.Scan(&s.OrgID, &s.Provider, &s.Model, &s.Enabled); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
