// Package ingest moves provider metrics into the snapshot store: the
// routine single-day pipeline across the whole fleet, and the per-tenant
// historical backfill.
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/creatorpulse/creator-analytics/internal/model"
	"github.com/creatorpulse/creator-analytics/internal/monitoring"
	"github.com/creatorpulse/creator-analytics/internal/provider"
	"github.com/creatorpulse/creator-analytics/internal/store"
)

// SummaryFetcher is implemented by provider.Client.
type SummaryFetcher interface {
	FetchDaySummary(ctx context.Context, token, companyID string, day time.Time) (provider.DaySummary, error)
}

// TenantResult is one tenant's outcome within a pipeline run.
type TenantResult struct {
	CompanyID string `json:"company_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// Pipeline runs one day's ingestion across every tenant holding a valid
// credential. Tenants are processed sequentially; one tenant's failure is
// recorded and the loop continues.
type Pipeline struct {
	tenants        store.TenantStore
	snapshots      store.SnapshotStore
	fetcher        SummaryFetcher
	perCallTimeout time.Duration
}

func NewPipeline(tenants store.TenantStore, snapshots store.SnapshotStore, fetcher SummaryFetcher) *Pipeline {
	return &Pipeline{
		tenants:        tenants,
		snapshots:      snapshots,
		fetcher:        fetcher,
		perCallTimeout: 30 * time.Second,
	}
}

// RunDaily ingests the given day for the whole fleet. The returned slice
// itemizes every tenant; a non-nil error means the run could not start at
// all (tenant listing failed), never that some tenants failed.
//
// Re-running for the same day overwrites each row with freshly fetched
// values.
func (p *Pipeline) RunDaily(ctx context.Context, day time.Time) ([]TenantResult, error) {
	day = model.DayUTC(day)
	started := time.Now()
	defer func() {
		monitoring.IngestionDuration.Observe(time.Since(started).Seconds())
	}()

	tenants, err := p.tenants.ListWithCredentials(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]TenantResult, 0, len(tenants))
	for _, t := range tenants {
		if err := p.ingestTenant(ctx, &t, day); err != nil {
			log.Error().Err(err).Str("company_id", t.CompanyID).Time("day", day).Msg("Tenant ingestion failed")
			results = append(results, TenantResult{CompanyID: t.CompanyID, Error: err.Error()})
			continue
		}
		results = append(results, TenantResult{CompanyID: t.CompanyID, OK: true})
	}

	log.Info().Time("day", day).Int("tenants", len(tenants)).Msg("Daily ingestion run finished")
	return results, nil
}

func (p *Pipeline) ingestTenant(ctx context.Context, t *model.Tenant, day time.Time) error {
	callCtx, cancel := context.WithTimeout(ctx, p.perCallTimeout)
	defer cancel()

	summary, err := p.fetcher.FetchDaySummary(callCtx, t.AccessToken, t.CompanyID, day)
	if err != nil {
		return err
	}
	return upsertSummary(callCtx, p.snapshots, t.CompanyID, day, summary, "daily")
}

func upsertSummary(ctx context.Context, snapshots store.SnapshotStore, companyID string, day time.Time, s provider.DaySummary, source string) error {
	snap := &model.DailySnapshot{
		CompanyID:         companyID,
		Date:              day,
		GrossRevenueCents: s.GrossRevenueCents,
		ActiveMembers:     s.ActiveMembers,
		NewMembers:        s.NewMembers,
		Cancellations:     s.Cancellations,
		TrialsStarted:     s.TrialsStarted,
		TrialsPaid:        s.TrialsPaid,
	}
	if err := snapshots.Upsert(ctx, snap); err != nil {
		return err
	}
	monitoring.SnapshotsUpserted.WithLabelValues(source).Inc()
	return nil
}

// Yesterday returns the previous UTC calendar day, the pipeline's usual
// target.
func Yesterday(now time.Time) time.Time {
	return model.DayUTC(now).AddDate(0, 0, -1)
}
