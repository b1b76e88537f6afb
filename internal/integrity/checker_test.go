package integrity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorpulse/creator-analytics/internal/model"
	"github.com/creatorpulse/creator-analytics/internal/store"
)

func seed(t *testing.T) (*Checker, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return NewChecker(mem.Tenants(), mem.Snapshots()), mem
}

func TestCheck_UnknownTenant(t *testing.T) {
	ctx := context.Background()
	checker, _ := seed(t)

	report, err := checker.Check(ctx, "biz_ghost")
	require.NoError(t, err)
	assert.False(t, report.InstallFound)
	assert.False(t, report.HasAccessToken)
	assert.Zero(t, report.TotalRows)
	assert.Nil(t, report.OldestDate)
	assert.Len(t, report.Gaps, 14)
}

func TestCheck_CoverageAndGaps(t *testing.T) {
	ctx := context.Background()
	checker, mem := seed(t)

	require.NoError(t, mem.Tenants().Create(ctx, &model.Tenant{CompanyID: "biz_a", AccessToken: "tok"}))

	yesterday := model.DayUTC(time.Now()).AddDate(0, 0, -1)
	// Rows for the last 5 days except 3 days ago.
	for i := 0; i < 5; i++ {
		if i == 2 {
			continue
		}
		require.NoError(t, mem.Snapshots().Upsert(ctx, &model.DailySnapshot{
			CompanyID:     "biz_a",
			Date:          yesterday.AddDate(0, 0, -i),
			ActiveMembers: 10,
		}))
	}

	report, err := checker.Check(ctx, "biz_a")
	require.NoError(t, err)

	assert.True(t, report.InstallFound)
	assert.True(t, report.HasAccessToken)
	assert.Equal(t, 4, report.TotalRows)
	require.NotNil(t, report.OldestDate)
	require.NotNil(t, report.NewestDate)
	assert.Equal(t, yesterday.Format("2006-01-02"), *report.NewestDate)

	// 14-day window minus the 4 present days = 10 gaps, including the
	// missing middle day.
	assert.Len(t, report.Gaps, 10)
	assert.Contains(t, report.Gaps, yesterday.AddDate(0, 0, -2).Format("2006-01-02"))
}

func TestCheck_CrossTenantIsolation(t *testing.T) {
	ctx := context.Background()
	checker, mem := seed(t)

	require.NoError(t, mem.Tenants().Create(ctx, &model.Tenant{CompanyID: "biz_a", AccessToken: "tok"}))
	yesterday := model.DayUTC(time.Now()).AddDate(0, 0, -1)
	require.NoError(t, mem.Snapshots().Upsert(ctx, &model.DailySnapshot{CompanyID: "biz_a", Date: yesterday}))
	require.NoError(t, mem.Snapshots().Upsert(ctx, &model.DailySnapshot{CompanyID: "biz_b", Date: yesterday}))

	report, err := checker.Check(ctx, "biz_a")
	require.NoError(t, err)

	// The unscoped probe sees the whole table; the scoped query must not.
	assert.Equal(t, 2, report.UnscopedRowCount)
	assert.Zero(t, report.ScopedLeakCount)
}

func TestCheck_DetectsSeedData(t *testing.T) {
	ctx := context.Background()
	checker, mem := seed(t)

	require.NoError(t, mem.Tenants().Create(ctx, &model.Tenant{CompanyID: "biz_a", AccessToken: "tok"}))
	yesterday := model.DayUTC(time.Now()).AddDate(0, 0, -1)

	require.NoError(t, mem.Snapshots().Upsert(ctx, &model.DailySnapshot{
		CompanyID:         "biz_a",
		Date:              yesterday,
		GrossRevenueCents: 12345,
		ActiveMembers:     42,
	}))

	report, err := checker.Check(ctx, "biz_a")
	require.NoError(t, err)
	assert.True(t, report.HardcodedDataDetected)

	// A near-miss is fine.
	require.NoError(t, mem.Snapshots().Upsert(ctx, &model.DailySnapshot{
		CompanyID:         "biz_a",
		Date:              yesterday,
		GrossRevenueCents: 12345,
		ActiveMembers:     43,
	}))
	report, err = checker.Check(ctx, "biz_a")
	require.NoError(t, err)
	assert.False(t, report.HardcodedDataDetected)
}

func TestCheck_NeverMutates(t *testing.T) {
	ctx := context.Background()
	checker, mem := seed(t)

	require.NoError(t, mem.Tenants().Create(ctx, &model.Tenant{CompanyID: "biz_a", AccessToken: "tok"}))
	before, err := mem.Tenants().GetByCompanyID(ctx, "biz_a")
	require.NoError(t, err)

	_, err = checker.Check(ctx, "biz_a")
	require.NoError(t, err)

	after, err := mem.Tenants().GetByCompanyID(ctx, "biz_a")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	total, err := mem.Snapshots().CountAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}
