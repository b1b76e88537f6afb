package store

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/creatorpulse/creator-analytics/internal/model"
)

// Memory is an in-memory implementation of the three store interfaces,
// used by unit tests and the `store: memory` dev mode. All three views
// share one mutex, which also makes the claim/reinstall operations atomic
// the way the SQL statements are.
type Memory struct {
	mu      sync.Mutex
	tenants map[string]model.Tenant
	prefs   map[string]model.Preferences
	snaps   map[string]map[string]model.DailySnapshot
}

func NewMemory() *Memory {
	return &Memory{
		tenants: make(map[string]model.Tenant),
		prefs:   make(map[string]model.Preferences),
		snaps:   make(map[string]map[string]model.DailySnapshot),
	}
}

func (m *Memory) Tenants() *MemoryTenants         { return &MemoryTenants{m: m} }
func (m *Memory) Preferences() *MemoryPreferences { return &MemoryPreferences{m: m} }
func (m *Memory) Snapshots() *MemorySnapshots     { return &MemorySnapshots{m: m} }

func dateKey(t time.Time) string {
	return model.DayUTC(t).Format("2006-01-02")
}

// MemoryTenants implements TenantStore.
type MemoryTenants struct {
	m *Memory
}

func (s *MemoryTenants) Create(ctx context.Context, t *model.Tenant) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	now := time.Now().UTC()
	if t.Plan == "" {
		t.Plan = model.PlanFree
	}
	t.InstallGeneration = 1
	t.CreatedAt = now
	t.UpdatedAt = now
	s.m.tenants[t.CompanyID] = *t
	return nil
}

func (s *MemoryTenants) Upsert(ctx context.Context, t *model.Tenant) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	now := time.Now().UTC()
	if t.Plan == "" {
		t.Plan = model.PlanFree
	}
	existing, ok := s.m.tenants[t.CompanyID]
	if !ok {
		t.InstallGeneration = 1
		t.CreatedAt = now
		t.UpdatedAt = now
		stored := *t
		stored.ExperienceID = nil
		s.m.tenants[t.CompanyID] = stored
		return nil
	}

	existing.AccessToken = t.AccessToken
	existing.Plan = t.Plan
	if t.OwnerUserID != "" {
		existing.OwnerUserID = t.OwnerUserID
	}
	existing.InstallGeneration++
	existing.UpdatedAt = now
	s.m.tenants[t.CompanyID] = existing

	t.InstallGeneration = existing.InstallGeneration
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = existing.UpdatedAt
	return nil
}

func (s *MemoryTenants) GetByCompanyID(ctx context.Context, companyID string) (*model.Tenant, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	t, ok := s.m.tenants[companyID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryTenants) GetByExperienceID(ctx context.Context, experienceID string) (*model.Tenant, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	for _, t := range s.m.tenants {
		if t.ExperienceID != nil && *t.ExperienceID == experienceID {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryTenants) GetLatestByOwnerUserID(ctx context.Context, userID string) (*model.Tenant, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var latest *model.Tenant
	for _, t := range s.m.tenants {
		if t.OwnerUserID != userID {
			continue
		}
		cp := t
		if latest == nil || cp.UpdatedAt.After(latest.UpdatedAt) {
			latest = &cp
		}
	}
	return latest, nil
}

func (s *MemoryTenants) UpdatePlan(ctx context.Context, companyID string, plan model.Plan) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	t, ok := s.m.tenants[companyID]
	if !ok {
		return sql.ErrNoRows
	}
	t.Plan = plan
	t.UpdatedAt = time.Now().UTC()
	s.m.tenants[companyID] = t
	return nil
}

func (s *MemoryTenants) Delete(ctx context.Context, companyID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if _, ok := s.m.tenants[companyID]; !ok {
		return sql.ErrNoRows
	}
	delete(s.m.tenants, companyID)
	return nil
}

func (s *MemoryTenants) ListWithCredentials(ctx context.Context) ([]model.Tenant, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var tenants []model.Tenant
	for _, t := range s.m.tenants {
		if t.AccessToken != "" {
			tenants = append(tenants, t)
		}
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].CompanyID < tenants[j].CompanyID })
	return tenants, nil
}

func (s *MemoryTenants) ClaimExperienceID(ctx context.Context, companyID, experienceID string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.claimLocked(companyID, experienceID, false), nil
}

func (s *MemoryTenants) ApplyReinstall(ctx context.Context, companyID, experienceID string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.claimLocked(companyID, experienceID, true), nil
}

func (s *MemoryTenants) claimLocked(companyID, experienceID string, reinstall bool) bool {
	t, ok := s.m.tenants[companyID]
	if !ok {
		return false
	}
	for id, other := range s.m.tenants {
		if id != companyID && other.ExperienceID != nil && *other.ExperienceID == experienceID {
			return false
		}
	}
	t.ExperienceID = &experienceID
	if reinstall {
		t.Plan = model.PlanFree
		t.InstallGeneration++
	}
	t.UpdatedAt = time.Now().UTC()
	s.m.tenants[companyID] = t
	return true
}

// MemoryPreferences implements PreferencesStore.
type MemoryPreferences struct {
	m *Memory
}

func (s *MemoryPreferences) GetOrCreate(ctx context.Context, companyID string) (*model.Preferences, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	p, ok := s.m.prefs[companyID]
	if !ok {
		now := time.Now().UTC()
		p = model.Preferences{CompanyID: companyID, CreatedAt: now, UpdatedAt: now}
		s.m.prefs[companyID] = p
	}
	cp := p
	return &cp, nil
}

func (s *MemoryPreferences) mutate(companyID string, fn func(*model.Preferences)) {
	p, ok := s.m.prefs[companyID]
	if !ok {
		return
	}
	fn(&p)
	p.UpdatedAt = time.Now().UTC()
	s.m.prefs[companyID] = p
}

func (s *MemoryPreferences) SetGoal(ctx context.Context, companyID string, goalCents int64) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.mutate(companyID, func(p *model.Preferences) { p.GoalCents = &goalCents })
	return nil
}

func (s *MemoryPreferences) MarkCompleted(ctx context.Context, companyID string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.mutate(companyID, func(p *model.Preferences) { p.CompletedAt = &at })
	return nil
}

func (s *MemoryPreferences) ClearCompleted(ctx context.Context, companyID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.mutate(companyID, func(p *model.Preferences) { p.CompletedAt = nil })
	return nil
}

func (s *MemoryPreferences) MarkProWelcomeShown(ctx context.Context, companyID string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.mutate(companyID, func(p *model.Preferences) { p.ProWelcomeShownAt = &at })
	return nil
}

// MemorySnapshots implements SnapshotStore.
type MemorySnapshots struct {
	m *Memory
}

func (s *MemorySnapshots) Upsert(ctx context.Context, snap *model.DailySnapshot) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	now := time.Now().UTC()
	snap.Date = model.DayUTC(snap.Date)
	byDate, ok := s.m.snaps[snap.CompanyID]
	if !ok {
		byDate = make(map[string]model.DailySnapshot)
		s.m.snaps[snap.CompanyID] = byDate
	}
	stored := *snap
	if existing, ok := byDate[dateKey(snap.Date)]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	byDate[dateKey(snap.Date)] = stored
	return nil
}

func (s *MemorySnapshots) sortedLocked(companyID string) []model.DailySnapshot {
	var snaps []model.DailySnapshot
	for _, snap := range s.m.snaps[companyID] {
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Date.Before(snaps[j].Date) })
	return snaps
}

func (s *MemorySnapshots) GetRange(ctx context.Context, companyID string, from, to time.Time) ([]model.DailySnapshot, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	from, to = model.DayUTC(from), model.DayUTC(to)
	var out []model.DailySnapshot
	for _, snap := range s.sortedLocked(companyID) {
		if !snap.Date.Before(from) && !snap.Date.After(to) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *MemorySnapshots) GetLatestBefore(ctx context.Context, companyID string, day time.Time) (*model.DailySnapshot, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	day = model.DayUTC(day)
	var latest *model.DailySnapshot
	for _, snap := range s.sortedLocked(companyID) {
		if snap.Date.Before(day) {
			cp := snap
			latest = &cp
		}
	}
	return latest, nil
}

func (s *MemorySnapshots) Coverage(ctx context.Context, companyID string) (SnapshotCoverage, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	snaps := s.sortedLocked(companyID)
	c := SnapshotCoverage{TotalRows: len(snaps)}
	if len(snaps) > 0 {
		oldest, newest := snaps[0].Date, snaps[len(snaps)-1].Date
		c.Oldest = &oldest
		c.Newest = &newest
	}
	return c, nil
}

func (s *MemorySnapshots) ListDates(ctx context.Context, companyID string, since time.Time) ([]time.Time, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	since = model.DayUTC(since)
	var dates []time.Time
	for _, snap := range s.sortedLocked(companyID) {
		if !snap.Date.Before(since) {
			dates = append(dates, snap.Date)
		}
	}
	return dates, nil
}

func (s *MemorySnapshots) CountAll(ctx context.Context) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	n := 0
	for _, byDate := range s.m.snaps {
		n += len(byDate)
	}
	return n, nil
}

func (s *MemorySnapshots) CountOtherTenantRows(ctx context.Context, companyID string) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	// Scoped the same way the SQL query is: rows are selected by the
	// company key first, then checked for a foreign id.
	n := 0
	for _, snap := range s.m.snaps[companyID] {
		if snap.CompanyID != companyID {
			n++
		}
	}
	return n, nil
}
