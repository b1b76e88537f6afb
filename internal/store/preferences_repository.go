package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/creatorpulse/creator-analytics/internal/model"
)

// PreferencesRepository is the Postgres-backed PreferencesStore.
type PreferencesRepository struct {
	db *sql.DB
}

func NewPreferencesRepository(db *sql.DB) *PreferencesRepository {
	return &PreferencesRepository{db: db}
}

// GetOrCreate returns the preferences row for a tenant, inserting an empty
// one on first access.
func (r *PreferencesRepository) GetOrCreate(ctx context.Context, companyID string) (*model.Preferences, error) {
	query := `
		INSERT INTO preferences (company_id, created_at, updated_at)
		VALUES ($1, now(), now())
		ON CONFLICT (company_id) DO UPDATE SET company_id = EXCLUDED.company_id
		RETURNING company_id, goal_cents, completed_at, pro_welcome_shown_at, created_at, updated_at
	`
	p := &model.Preferences{}
	err := r.db.QueryRowContext(ctx, query, companyID).Scan(
		&p.CompanyID, &p.GoalCents, &p.CompletedAt, &p.ProWelcomeShownAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PreferencesRepository) SetGoal(ctx context.Context, companyID string, goalCents int64) error {
	query := `UPDATE preferences SET goal_cents = $2, updated_at = now() WHERE company_id = $1`
	_, err := r.db.ExecContext(ctx, query, companyID, goalCents)
	return err
}

func (r *PreferencesRepository) MarkCompleted(ctx context.Context, companyID string, at time.Time) error {
	query := `UPDATE preferences SET completed_at = $2, updated_at = now() WHERE company_id = $1`
	_, err := r.db.ExecContext(ctx, query, companyID, at)
	return err
}

func (r *PreferencesRepository) ClearCompleted(ctx context.Context, companyID string) error {
	query := `UPDATE preferences SET completed_at = NULL, updated_at = now() WHERE company_id = $1`
	_, err := r.db.ExecContext(ctx, query, companyID)
	return err
}

func (r *PreferencesRepository) MarkProWelcomeShown(ctx context.Context, companyID string, at time.Time) error {
	query := `UPDATE preferences SET pro_welcome_shown_at = $2, updated_at = now() WHERE company_id = $1`
	_, err := r.db.ExecContext(ctx, query, companyID, at)
	return err
}
