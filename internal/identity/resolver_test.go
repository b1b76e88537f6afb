package identity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorpulse/creator-analytics/internal/model"
	"github.com/creatorpulse/creator-analytics/internal/store"
)

func setup(t *testing.T) (*Resolver, *store.MemoryTenants, *store.MemoryPreferences) {
	t.Helper()
	mem := store.NewMemory()
	tenants, prefs := mem.Tenants(), mem.Preferences()
	return NewResolver(tenants, prefs), tenants, prefs
}

func TestResolve_OwnerMatchWinsOverURL(t *testing.T) {
	ctx := context.Background()
	resolver, tenants, _ := setup(t)

	require.NoError(t, tenants.Create(ctx, &model.Tenant{CompanyID: "biz_mine", OwnerUserID: "user_1"}))
	require.NoError(t, tenants.Create(ctx, &model.Tenant{CompanyID: "biz_other"}))

	res, err := resolver.Resolve(ctx, Request{CompanyID: "biz_other", UserID: "user_1"})
	require.NoError(t, err)

	assert.Equal(t, "biz_mine", res.Tenant.CompanyID)
	assert.Equal(t, "owner", res.Via)
	assert.True(t, res.URLMismatch)

	// The URL's record was not rewritten.
	other, _ := tenants.GetByCompanyID(ctx, "biz_other")
	assert.Equal(t, "", other.OwnerUserID)
}

func TestResolve_ExperienceBeforeCompany(t *testing.T) {
	ctx := context.Background()
	resolver, tenants, _ := setup(t)

	require.NoError(t, tenants.Create(ctx, &model.Tenant{CompanyID: "biz_by_exp"}))
	claimed, err := tenants.ClaimExperienceID(ctx, "biz_by_exp", "exp_1")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, tenants.Create(ctx, &model.Tenant{CompanyID: "biz_by_url"}))

	res, err := resolver.Resolve(ctx, Request{CompanyID: "biz_by_url", ExperienceID: "exp_1"})
	require.NoError(t, err)
	assert.Equal(t, "biz_by_exp", res.Tenant.CompanyID)
	assert.Equal(t, "experience", res.Via)
}

func TestResolve_CompanyFallback(t *testing.T) {
	ctx := context.Background()
	resolver, tenants, _ := setup(t)

	require.NoError(t, tenants.Create(ctx, &model.Tenant{CompanyID: "biz_url"}))

	res, err := resolver.Resolve(ctx, Request{CompanyID: "biz_url", ExperienceID: "exp_unknown_zz"})
	require.NoError(t, err)
	assert.Equal(t, "biz_url", res.Tenant.CompanyID)
	assert.Equal(t, "company", res.Via)
}

func TestResolve_CreatesForAuthenticatedUser(t *testing.T) {
	ctx := context.Background()
	resolver, tenants, _ := setup(t)

	res, err := resolver.Resolve(ctx, Request{CompanyID: "biz_new", UserID: "user_9"})
	require.NoError(t, err)
	assert.Equal(t, "created", res.Via)
	assert.Equal(t, "biz_new", res.Tenant.CompanyID)
	assert.Equal(t, "user_9", res.Tenant.OwnerUserID)
	assert.Equal(t, model.PlanFree, res.Tenant.Plan)

	stored, _ := tenants.GetByCompanyID(ctx, "biz_new")
	assert.NotNil(t, stored)
}

func TestResolve_SynthesizesCompanyIDWhenURLHasNone(t *testing.T) {
	ctx := context.Background()
	resolver, _, _ := setup(t)

	res, err := resolver.Resolve(ctx, Request{UserID: "user_9"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Tenant.CompanyID, "usr-"))
}

func TestResolve_UnresolvedWithoutAnyMatch(t *testing.T) {
	ctx := context.Background()
	resolver, _, _ := setup(t)

	_, err := resolver.Resolve(ctx, Request{CompanyID: "biz_ghost"})
	assert.ErrorIs(t, err, ErrUnresolved)

	_, err = resolver.Resolve(ctx, Request{})
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestResolve_ExperienceIDNeverStolen(t *testing.T) {
	ctx := context.Background()
	resolver, tenants, _ := setup(t)

	require.NoError(t, tenants.Create(ctx, &model.Tenant{CompanyID: "biz_a"}))
	claimed, err := tenants.ClaimExperienceID(ctx, "biz_a", "exp_owned")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, tenants.Create(ctx, &model.Tenant{CompanyID: "biz_b"}))

	// Resolving B with A's experience id finds A (experience lookup wins),
	// so route via B's company id directly to force the claim path.
	res, err := resolver.Resolve(ctx, Request{CompanyID: "biz_b", UserID: ""})
	require.NoError(t, err)
	require.Equal(t, "biz_b", res.Tenant.CompanyID)

	// Simulate the claim attempt B would make with a contested value.
	err = resolver.reconcileExperienceID(ctx, res.Tenant, "exp_owned")
	require.NoError(t, err)

	a, _ := tenants.GetByCompanyID(ctx, "biz_a")
	b, _ := tenants.GetByCompanyID(ctx, "biz_b")
	assert.Equal(t, "exp_owned", *a.ExperienceID)
	assert.Nil(t, b.ExperienceID)
}

func TestResolve_ReinstallResetsPlanAndOnboarding(t *testing.T) {
	ctx := context.Background()
	resolver, tenants, prefs := setup(t)

	require.NoError(t, tenants.Create(ctx, &model.Tenant{CompanyID: "biz_a", Plan: model.PlanPro}))
	claimed, err := tenants.ClaimExperienceID(ctx, "biz_a", "X")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, tenants.UpdatePlan(ctx, "biz_a", model.PlanPro))

	_, err = prefs.GetOrCreate(ctx, "biz_a")
	require.NoError(t, err)
	require.NoError(t, prefs.MarkCompleted(ctx, "biz_a", time.Now()))

	res, err := resolver.Resolve(ctx, Request{CompanyID: "biz_a", ExperienceID: "Y"})
	require.NoError(t, err)

	assert.Equal(t, "Y", *res.Tenant.ExperienceID)
	assert.Equal(t, model.PlanFree, res.Tenant.Plan)

	p, err := prefs.GetOrCreate(ctx, "biz_a")
	require.NoError(t, err)
	assert.Nil(t, p.CompletedAt)
}

func TestResolve_FreshInstallClearsStaleOnboarding(t *testing.T) {
	ctx := context.Background()
	resolver, tenants, prefs := setup(t)

	require.NoError(t, tenants.Create(ctx, &model.Tenant{CompanyID: "biz_a"}))
	_, err := prefs.GetOrCreate(ctx, "biz_a")
	require.NoError(t, err)
	require.NoError(t, prefs.MarkCompleted(ctx, "biz_a", time.Now()))

	// The tenant row was touched moments ago and sits on the free plan:
	// the completed marker is leftover from the previous install.
	res, err := resolver.Resolve(ctx, Request{CompanyID: "biz_a"})
	require.NoError(t, err)
	require.Equal(t, "biz_a", res.Tenant.CompanyID)

	p, err := prefs.GetOrCreate(ctx, "biz_a")
	require.NoError(t, err)
	assert.Nil(t, p.CompletedAt)
}

func TestResolve_SteadyStateKeepsOnboarding(t *testing.T) {
	ctx := context.Background()
	resolver, tenants, prefs := setup(t)

	require.NoError(t, tenants.Create(ctx, &model.Tenant{CompanyID: "biz_a"}))
	_, err := prefs.GetOrCreate(ctx, "biz_a")
	require.NoError(t, err)
	require.NoError(t, prefs.MarkCompleted(ctx, "biz_a", time.Now()))

	// Pretend the tenant has been stable for a while.
	resolver.now = func() time.Time { return time.Now().Add(time.Minute) }

	res, err := resolver.Resolve(ctx, Request{CompanyID: "biz_a"})
	require.NoError(t, err)
	require.Equal(t, "biz_a", res.Tenant.CompanyID)

	p, err := prefs.GetOrCreate(ctx, "biz_a")
	require.NoError(t, err)
	assert.NotNil(t, p.CompletedAt)
}
