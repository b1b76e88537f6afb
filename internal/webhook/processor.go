// Package webhook consumes signed lifecycle events from the membership
// platform and applies them to the tenant store.
package webhook

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/creatorpulse/creator-analytics/internal/ingest"
	"github.com/creatorpulse/creator-analytics/internal/model"
	"github.com/creatorpulse/creator-analytics/internal/monitoring"
	"github.com/creatorpulse/creator-analytics/internal/store"
)

// installBackfillDays is the historical window fetched after an install.
const installBackfillDays = 7

// backfillTimeout bounds one async backfill independently of the webhook
// request that triggered it.
const backfillTimeout = 5 * time.Minute

// BackfillRunner is implemented by ingest.Backfiller.
type BackfillRunner interface {
	Backfill(ctx context.Context, companyID, token string, days int) ingest.BackfillResult
}

type backfillJob struct {
	companyID string
	token     string
	days      int
}

// Processor applies webhook events to the tenant store. Installs enqueue a
// fire-and-forget backfill consumed by a background worker; a full queue
// or a failed backfill is logged and dropped, never retried, and never
// fails the webhook response.
type Processor struct {
	tenants    store.TenantStore
	backfills  chan backfillJob
	closeOnce  sync.Once
	workerDone chan struct{}
}

func NewProcessor(tenants store.TenantStore, backfiller BackfillRunner) *Processor {
	p := &Processor{
		tenants:    tenants,
		backfills:  make(chan backfillJob, 16),
		workerDone: make(chan struct{}),
	}
	go p.startBackfillWorker(backfiller)
	return p
}

// Close stops the backfill worker after it drains any queued jobs. Handle
// must not be called once Close has been.
func (p *Processor) Close() {
	p.closeOnce.Do(func() { close(p.backfills) })
	<-p.workerDone
}

func (p *Processor) startBackfillWorker(backfiller BackfillRunner) {
	defer close(p.workerDone)
	for job := range p.backfills {
		ctx, cancel := context.WithTimeout(context.Background(), backfillTimeout)
		result := backfiller.Backfill(ctx, job.companyID, job.token, job.days)
		cancel()
		log.Info().
			Str("company_id", job.companyID).
			Int("days_written", result.DaysWritten).
			Int("total_days", result.TotalDays).
			Msg("Install backfill completed")
	}
}

// Handle applies one verified, parsed event. Redelivery of the same event
// is safe: every transition is an upsert or an idempotent delete.
func (p *Processor) Handle(ctx context.Context, e Event) error {
	var err error
	switch e.Kind {
	case KindInstalled:
		err = p.handleInstalled(ctx, e)
	case KindUninstalled:
		err = p.handleUninstalled(ctx, e)
	case KindPlanUpdated:
		err = p.handlePlanUpdated(ctx, e)
	case KindUnknown:
		log.Debug().Msg("Unrecognized webhook event, no-op")
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	monitoring.WebhookEvents.WithLabelValues(e.Kind.String(), outcome).Inc()
	return err
}

func (p *Processor) handleInstalled(ctx context.Context, e Event) error {
	t := &model.Tenant{
		CompanyID:   e.CompanyID,
		AccessToken: e.AccessToken,
		Plan:        e.Plan,
	}
	if err := p.tenants.Upsert(ctx, t); err != nil {
		return err
	}

	if e.ExperienceID != "" {
		claimed, err := p.tenants.ClaimExperienceID(ctx, e.CompanyID, e.ExperienceID)
		if err != nil {
			return err
		}
		if !claimed {
			log.Warn().
				Str("company_id", e.CompanyID).
				Str("experience_id", e.ExperienceID).
				Msg("Install experience id owned by another tenant, left unset")
		}
	}

	log.Info().Str("company_id", e.CompanyID).Str("plan", string(t.Plan)).Msg("Tenant installed")

	select {
	case p.backfills <- backfillJob{companyID: e.CompanyID, token: e.AccessToken, days: installBackfillDays}:
	default:
		log.Warn().Str("company_id", e.CompanyID).Msg("Backfill queue full, install backfill dropped")
	}
	return nil
}

func (p *Processor) handleUninstalled(ctx context.Context, e Event) error {
	err := p.tenants.Delete(ctx, e.CompanyID)
	if err == sql.ErrNoRows {
		// Redelivery or an install that never landed; same end state.
		log.Info().Str("company_id", e.CompanyID).Msg("Uninstall for unknown tenant, dropped")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().Str("company_id", e.CompanyID).Msg("Tenant uninstalled, row removed")
	return nil
}

func (p *Processor) handlePlanUpdated(ctx context.Context, e Event) error {
	err := p.tenants.UpdatePlan(ctx, e.CompanyID, e.Plan)
	if err == sql.ErrNoRows {
		// Can legitimately race an install still in flight.
		log.Warn().Str("company_id", e.CompanyID).Str("plan", string(e.Plan)).Msg("Plan update for unknown tenant, dropped")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().Str("company_id", e.CompanyID).Str("plan", string(e.Plan)).Msg("Tenant plan updated")
	return nil
}
