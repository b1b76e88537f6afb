package model

import "time"

// DailySnapshot is one tenant's business metrics for one UTC calendar day.
// At most one row exists per (company, date); re-ingestion overwrites the
// full row in place.
type DailySnapshot struct {
	CompanyID         string    `json:"company_id"`
	Date              time.Time `json:"date"`
	GrossRevenueCents int64     `json:"gross_revenue_cents"`
	ActiveMembers     int       `json:"active_members"`
	NewMembers        int       `json:"new_members"`
	Cancellations     int       `json:"cancellations"`
	TrialsStarted     int       `json:"trials_started"`
	TrialsPaid        int       `json:"trials_paid"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DayUTC truncates t to UTC midnight, the canonical snapshot key.
func DayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
