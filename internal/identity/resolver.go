// Package identity maps the partially-trustworthy identifiers arriving on
// a request (URL company id, URL experience id, verified user id) onto
// exactly one tenant record.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/creatorpulse/creator-analytics/internal/model"
	"github.com/creatorpulse/creator-analytics/internal/store"
)

// ErrUnresolved signals that no tenant exists for the request and none
// could be created; the caller redirects to the install/login flow.
var ErrUnresolved = errors.New("identity: no tenant resolved")

// freshInstallWindow is the age under which a free-plan tenant is treated
// as a just-(re)installed one whose onboarding state must not leak from a
// previous install.
const freshInstallWindow = 5 * time.Second

// Request carries the identifiers present on one incoming request. All
// fields are optional; UserID is the only verified one.
type Request struct {
	CompanyID    string
	ExperienceID string
	UserID       string
}

// Resolution is the outcome of a successful resolve.
type Resolution struct {
	Tenant *model.Tenant
	// Via records which identifier won: "owner", "experience", "company"
	// or "created".
	Via string
	// URLMismatch is set when the URL claimed a different company id than
	// the canonical record. The canonical id is never rewritten; callers
	// may record the mismatch but must not correct the URL.
	URLMismatch bool
}

type Resolver struct {
	tenants store.TenantStore
	prefs   store.PreferencesStore
	now     func() time.Time
}

func NewResolver(tenants store.TenantStore, prefs store.PreferencesStore) *Resolver {
	return &Resolver{tenants: tenants, prefs: prefs, now: time.Now}
}

// Resolve applies the precedence chain: verified owner match, then URL
// experience id, then URL company id, then creation (authenticated
// requests only). It may create a tenant or preferences row and may move
// an experience id through the reinstall path; it never deletes.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	res, err := r.lookup(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := r.reconcileExperienceID(ctx, res.Tenant, req.ExperienceID); err != nil {
		return nil, err
	}
	if err := r.clearStaleOnboarding(ctx, res.Tenant); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Resolver) lookup(ctx context.Context, req Request) (*Resolution, error) {
	if req.UserID != "" {
		t, err := r.tenants.GetLatestByOwnerUserID(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if t != nil {
			mismatch := req.CompanyID != "" && req.CompanyID != t.CompanyID
			if mismatch {
				log.Info().
					Str("company_id", t.CompanyID).
					Str("url_company_id", req.CompanyID).
					Msg("URL company id differs from canonical tenant")
			}
			return &Resolution{Tenant: t, Via: "owner", URLMismatch: mismatch}, nil
		}
	}

	if req.ExperienceID != "" {
		t, err := r.tenants.GetByExperienceID(ctx, req.ExperienceID)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return &Resolution{Tenant: t, Via: "experience"}, nil
		}
	}

	if req.CompanyID != "" {
		t, err := r.tenants.GetByCompanyID(ctx, req.CompanyID)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return &Resolution{Tenant: t, Via: "company"}, nil
		}
	}

	if req.UserID != "" {
		return r.create(ctx, req)
	}

	return nil, ErrUnresolved
}

func (r *Resolver) create(ctx context.Context, req Request) (*Resolution, error) {
	companyID := req.CompanyID
	if companyID == "" {
		companyID = fmt.Sprintf("usr-%s", uuid.NewString())
	}
	t := &model.Tenant{
		CompanyID:   companyID,
		OwnerUserID: req.UserID,
		Plan:        model.PlanFree,
	}
	if err := r.tenants.Create(ctx, t); err != nil {
		return nil, err
	}
	log.Info().Str("company_id", companyID).Str("owner_user_id", req.UserID).Msg("Created tenant on first authenticated visit")
	return &Resolution{Tenant: t, Via: "created"}, nil
}

// reconcileExperienceID claims or moves the experience id for the resolved
// tenant. A value owned by another tenant is never stolen; the claim is
// rejected and the field left unset. A stored value differing from the
// request's is a reinstall signal: the id moves, the plan resets to free
// and onboarding restarts.
func (r *Resolver) reconcileExperienceID(ctx context.Context, t *model.Tenant, experienceID string) error {
	if experienceID == "" {
		return nil
	}

	if t.ExperienceID == nil {
		claimed, err := r.tenants.ClaimExperienceID(ctx, t.CompanyID, experienceID)
		if err != nil {
			return err
		}
		if !claimed {
			log.Warn().
				Str("company_id", t.CompanyID).
				Str("experience_id", experienceID).
				Msg("Experience id already owned by another tenant, claim rejected")
			return nil
		}
		t.ExperienceID = &experienceID
		return nil
	}

	if *t.ExperienceID == experienceID {
		return nil
	}

	moved, err := r.tenants.ApplyReinstall(ctx, t.CompanyID, experienceID)
	if err != nil {
		return err
	}
	if !moved {
		log.Warn().
			Str("company_id", t.CompanyID).
			Str("experience_id", experienceID).
			Msg("Reinstall experience id owned by another tenant, keeping stored value")
		return nil
	}

	log.Info().
		Str("company_id", t.CompanyID).
		Str("old_experience_id", *t.ExperienceID).
		Str("new_experience_id", experienceID).
		Msg("Reinstall detected, plan reset and onboarding restarted")

	if err := r.prefs.ClearCompleted(ctx, t.CompanyID); err != nil {
		return err
	}

	refreshed, err := r.tenants.GetByCompanyID(ctx, t.CompanyID)
	if err != nil {
		return err
	}
	if refreshed != nil {
		*t = *refreshed
	}
	return nil
}

// clearStaleOnboarding guards the race between a webhook-driven reset and
// a concurrent page load: a free-plan tenant touched within the last few
// seconds must not surface a completed-onboarding marker left over from
// the previous install.
func (r *Resolver) clearStaleOnboarding(ctx context.Context, t *model.Tenant) error {
	if t.Plan != model.PlanFree || r.now().Sub(t.UpdatedAt) >= freshInstallWindow {
		return nil
	}

	p, err := r.prefs.GetOrCreate(ctx, t.CompanyID)
	if err != nil {
		return err
	}
	if p.CompletedAt == nil {
		return nil
	}

	log.Info().Str("company_id", t.CompanyID).Msg("Clearing stale onboarding marker on fresh install")
	return r.prefs.ClearCompleted(ctx, t.CompanyID)
}
