package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/creatorpulse/creator-analytics/internal/model"
)

// SnapshotRepository is the Postgres-backed SnapshotStore.
type SnapshotRepository struct {
	db *sql.DB
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

const snapshotColumns = `company_id, date, gross_revenue_cents, active_members, new_members, cancellations, trials_started, trials_paid, created_at, updated_at`

func scanSnapshot(row interface{ Scan(...any) error }) (*model.DailySnapshot, error) {
	s := &model.DailySnapshot{}
	err := row.Scan(&s.CompanyID, &s.Date, &s.GrossRevenueCents, &s.ActiveMembers, &s.NewMembers, &s.Cancellations, &s.TrialsStarted, &s.TrialsPaid, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Date = model.DayUTC(s.Date)
	return s, nil
}

// Upsert writes the full row, replacing any existing values for the same
// (company, date). Last write wins.
func (r *SnapshotRepository) Upsert(ctx context.Context, s *model.DailySnapshot) error {
	query := `
		INSERT INTO daily_snapshots (company_id, date, gross_revenue_cents, active_members, new_members, cancellations, trials_started, trials_paid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (company_id, date) DO UPDATE SET
			gross_revenue_cents = EXCLUDED.gross_revenue_cents,
			active_members = EXCLUDED.active_members,
			new_members = EXCLUDED.new_members,
			cancellations = EXCLUDED.cancellations,
			trials_started = EXCLUDED.trials_started,
			trials_paid = EXCLUDED.trials_paid,
			updated_at = now()
	`
	s.Date = model.DayUTC(s.Date)
	_, err := r.db.ExecContext(ctx, query,
		s.CompanyID, s.Date, s.GrossRevenueCents, s.ActiveMembers, s.NewMembers, s.Cancellations, s.TrialsStarted, s.TrialsPaid,
	)
	return err
}

// GetRange returns snapshots for [from, to] inclusive, oldest first.
func (r *SnapshotRepository) GetRange(ctx context.Context, companyID string, from, to time.Time) ([]model.DailySnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM daily_snapshots WHERE company_id = $1 AND date >= $2 AND date <= $3 ORDER BY date ASC`
	rows, err := r.db.QueryContext(ctx, query, companyID, model.DayUTC(from), model.DayUTC(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []model.DailySnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *s)
	}
	return snapshots, rows.Err()
}

// GetLatestBefore returns the most recent snapshot strictly before day.
func (r *SnapshotRepository) GetLatestBefore(ctx context.Context, companyID string, day time.Time) (*model.DailySnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM daily_snapshots WHERE company_id = $1 AND date < $2 ORDER BY date DESC LIMIT 1`
	return scanSnapshot(r.db.QueryRowContext(ctx, query, companyID, model.DayUTC(day)))
}

// Coverage reports row count and date bounds for one tenant.
func (r *SnapshotRepository) Coverage(ctx context.Context, companyID string) (SnapshotCoverage, error) {
	query := `SELECT count(*), min(date), max(date) FROM daily_snapshots WHERE company_id = $1`
	var c SnapshotCoverage
	var oldest, newest sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, companyID).Scan(&c.TotalRows, &oldest, &newest); err != nil {
		return c, err
	}
	if oldest.Valid {
		d := model.DayUTC(oldest.Time)
		c.Oldest = &d
	}
	if newest.Valid {
		d := model.DayUTC(newest.Time)
		c.Newest = &d
	}
	return c, nil
}

// ListDates returns the distinct snapshot dates on or after since.
func (r *SnapshotRepository) ListDates(ctx context.Context, companyID string, since time.Time) ([]time.Time, error) {
	query := `SELECT date FROM daily_snapshots WHERE company_id = $1 AND date >= $2 ORDER BY date ASC`
	rows, err := r.db.QueryContext(ctx, query, companyID, model.DayUTC(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, model.DayUTC(d))
	}
	return dates, rows.Err()
}

// CountAll is the integrity checker's unscoped probe.
func (r *SnapshotRepository) CountAll(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM daily_snapshots`).Scan(&n)
	return n, err
}

// CountOtherTenantRows fetches rows through the same scoped predicate the
// read queries use and counts foreign ids on the application side. Folding
// the mismatch check into the WHERE clause would let the predicate vouch
// for itself; the comparison has to happen outside the query.
func (r *SnapshotRepository) CountOtherTenantRows(ctx context.Context, companyID string) (int, error) {
	query := `SELECT company_id FROM daily_snapshots WHERE company_id = $1`
	rows, err := r.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}
	return countForeignRows(ids, companyID), rows.Err()
}

// countForeignRows counts ids differing from the requested company id.
func countForeignRows(ids []string, companyID string) int {
	n := 0
	for _, id := range ids {
		if id != companyID {
			n++
		}
	}
	return n
}
