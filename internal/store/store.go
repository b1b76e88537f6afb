package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/creatorpulse/creator-analytics/internal/model"
)

// RedisClient is the subset of go-redis used by the tenant repository's
// read-through cache. Kept as an interface so tests can stub it and so a
// nil cache disables caching entirely.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// TenantStore persists tenant (installation) records.
//
// Lookup methods return (nil, nil) when no row matches.
type TenantStore interface {
	Create(ctx context.Context, t *model.Tenant) error
	// Upsert applies an install event: insert a fresh row or, on an
	// existing company id, replace the credential and plan and bump the
	// install generation. The experience id is claimed separately via
	// ClaimExperienceID so one tenant can never steal another's value.
	Upsert(ctx context.Context, t *model.Tenant) error
	GetByCompanyID(ctx context.Context, companyID string) (*model.Tenant, error)
	GetByExperienceID(ctx context.Context, experienceID string) (*model.Tenant, error)
	// GetLatestByOwnerUserID returns the most recently updated tenant
	// owned by the given external user.
	GetLatestByOwnerUserID(ctx context.Context, userID string) (*model.Tenant, error)
	UpdatePlan(ctx context.Context, companyID string, plan model.Plan) error
	// Delete removes the tenant row only; snapshots and preferences are
	// retained for a potential reinstall.
	Delete(ctx context.Context, companyID string) error
	ListWithCredentials(ctx context.Context) ([]model.Tenant, error)
	// ClaimExperienceID atomically sets the experience id on the tenant
	// unless another tenant already owns that value. Returns false when
	// the claim is rejected; the tenant's field is left untouched.
	ClaimExperienceID(ctx context.Context, companyID, experienceID string) (bool, error)
	// ApplyReinstall atomically moves the tenant to a new experience id,
	// resets the plan to free and bumps the install generation. Subject
	// to the same ownership guard as ClaimExperienceID.
	ApplyReinstall(ctx context.Context, companyID, experienceID string) (bool, error)
}

// PreferencesStore persists the per-tenant settings row.
type PreferencesStore interface {
	// GetOrCreate returns the preferences row, creating an empty one on
	// first access.
	GetOrCreate(ctx context.Context, companyID string) (*model.Preferences, error)
	SetGoal(ctx context.Context, companyID string, goalCents int64) error
	MarkCompleted(ctx context.Context, companyID string, at time.Time) error
	ClearCompleted(ctx context.Context, companyID string) error
	MarkProWelcomeShown(ctx context.Context, companyID string, at time.Time) error
}

// SnapshotCoverage summarizes how much of the time series exists for one
// tenant.
type SnapshotCoverage struct {
	TotalRows int
	Oldest    *time.Time
	Newest    *time.Time
}

// SnapshotStore persists the daily metrics time series. All queries except
// the two integrity probes are scoped to a single company id.
type SnapshotStore interface {
	Upsert(ctx context.Context, s *model.DailySnapshot) error
	GetRange(ctx context.Context, companyID string, from, to time.Time) ([]model.DailySnapshot, error)
	// GetLatestBefore returns the most recent snapshot strictly before
	// day, or (nil, nil) when none exists.
	GetLatestBefore(ctx context.Context, companyID string, day time.Time) (*model.DailySnapshot, error)
	Coverage(ctx context.Context, companyID string) (SnapshotCoverage, error)
	ListDates(ctx context.Context, companyID string, since time.Time) ([]time.Time, error)
	// CountAll is the integrity checker's unscoped probe. No other
	// caller may use it.
	CountAll(ctx context.Context) (int, error)
	// CountOtherTenantRows runs a company-scoped query and counts rows
	// whose company id differs from the requested one. Anything other
	// than zero indicates a query-isolation bug.
	CountOtherTenantRows(ctx context.Context, companyID string) (int, error)
}
