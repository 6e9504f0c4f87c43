package repository

import (
	"context"

	"ai-brand-monitor/internal/domain/model"
)

// OrgRepository reads the tenant catalog the trigger fans out over.
type OrgRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Org, error)

	// ListEligible returns active orgs with at least one active prompt and
	// at least one enabled provider.
	ListEligible(ctx context.Context, tx Tx) ([]*model.Org, error)

	ActivePrompts(ctx context.Context, tx Tx, orgID string) ([]*model.TrackedPrompt, error)

	EnabledProviders(ctx context.Context, tx Tx, orgID string) ([]*model.ProviderSetting, error)
}
