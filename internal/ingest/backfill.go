package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/creatorpulse/creator-analytics/internal/model"
	"github.com/creatorpulse/creator-analytics/internal/store"
)

// BackfillResult reports how much of the requested window was written.
// DaysWritten < TotalDays is a normal, reportable outcome.
type BackfillResult struct {
	DaysWritten int `json:"days_written"`
	TotalDays   int `json:"total_days"`
}

// Backfiller ingests the last N calendar days for one tenant, oldest
// first, throttling requests against the provider.
type Backfiller struct {
	snapshots      store.SnapshotStore
	fetcher        SummaryFetcher
	limiter        *rate.Limiter
	perCallTimeout time.Duration
}

func NewBackfiller(snapshots store.SnapshotStore, fetcher SummaryFetcher) *Backfiller {
	return &Backfiller{
		snapshots: snapshots,
		fetcher:   fetcher,
		// ~100ms between provider bursts.
		limiter:        rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		perCallTimeout: 30 * time.Second,
	}
}

// Backfill runs the last `days` calendar days ending yesterday, oldest
// first. Per-day failures are logged and skipped; no error escapes except
// through the itemized count. Cancelling ctx stops the walk early.
func (b *Backfiller) Backfill(ctx context.Context, companyID, token string, days int) BackfillResult {
	result := BackfillResult{TotalDays: days}
	yesterday := model.DayUTC(time.Now()).AddDate(0, 0, -1)

	for i := days - 1; i >= 0; i-- {
		if err := b.limiter.Wait(ctx); err != nil {
			log.Warn().Err(err).Str("company_id", companyID).Msg("Backfill cancelled")
			return result
		}

		day := yesterday.AddDate(0, 0, -i)
		if err := b.backfillDay(ctx, companyID, token, day); err != nil {
			log.Error().Err(err).Str("company_id", companyID).Time("day", day).Msg("Backfill day failed")
			continue
		}
		result.DaysWritten++
	}

	log.Info().
		Str("company_id", companyID).
		Int("days_written", result.DaysWritten).
		Int("total_days", result.TotalDays).
		Msg("Backfill finished")
	return result
}

func (b *Backfiller) backfillDay(ctx context.Context, companyID, token string, day time.Time) error {
	callCtx, cancel := context.WithTimeout(ctx, b.perCallTimeout)
	defer cancel()

	summary, err := b.fetcher.FetchDaySummary(callCtx, token, companyID, day)
	if err != nil {
		return err
	}
	return upsertSummary(callCtx, b.snapshots, companyID, day, summary, "backfill")
}
