package model

import (
	"time"
)

// Plan is the subscription tier of an installed tenant.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanPro      Plan = "pro"
	PlanBusiness Plan = "business"
)

// ParsePlan maps a provider-supplied plan string onto a known tier.
// Unknown or empty values fall back to the free tier.
func ParsePlan(s string) Plan {
	switch Plan(s) {
	case PlanPro:
		return PlanPro
	case PlanBusiness:
		return PlanBusiness
	default:
		return PlanFree
	}
}

// Tenant represents one installed instance of the app for one external
// company. CompanyID is the stable external identifier and is immutable
// once the row exists.
type Tenant struct {
	CompanyID         string    `json:"company_id"`
	ExperienceID      *string   `json:"experience_id,omitempty"`
	OwnerUserID       string    `json:"owner_user_id,omitempty"`
	AccessToken       string    `json:"-"`
	Plan              Plan      `json:"plan"`
	InstallGeneration int64     `json:"install_generation"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// HasCredential reports whether the tenant holds a usable provider token.
// Broken installs keep their row with an empty token.
func (t *Tenant) HasCredential() bool {
	return t != nil && t.AccessToken != ""
}

// Preferences is the 1:1 per-tenant settings row, created lazily on first
// read and never deleted independently of the tenant.
type Preferences struct {
	CompanyID         string     `json:"company_id"`
	GoalCents         *int64     `json:"goal_cents,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	ProWelcomeShownAt *time.Time `json:"pro_welcome_shown_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
