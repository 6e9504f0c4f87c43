package model

import "time"

// Org is a tenant: a customer whose brand visibility we track.
type Org struct {
	ID          string
	Name        string
	BrandName   string
	Competitors []string
	PlanTier    string
	Active      bool
	CreatedAt   time.Time
}

// TrackedPrompt is one question the org wants asked of every enabled
// provider during a daily run.
type TrackedPrompt struct {
	ID        string
	OrgID     string
	Text      string
	Active    bool
	CreatedAt time.Time
}

// ProviderSetting enables one AI provider for an org.
type ProviderSetting struct {
	OrgID    string
	Provider string
	Model    string
	Enabled  bool
}
