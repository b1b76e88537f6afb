package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/creatorpulse/creator-analytics/internal/crypto"
	"github.com/creatorpulse/creator-analytics/internal/model"
)

// TenantRepository is the Postgres-backed TenantStore. Provider access
// tokens are encrypted at rest; tenant-by-id reads go through an optional
// Redis read-through cache.
type TenantRepository struct {
	db     *sql.DB
	redis  RedisClient
	cipher *crypto.Cipher
}

// cachedTenant carries the decrypted token through the cache, which the
// Tenant JSON shape deliberately omits.
type cachedTenant struct {
	Tenant model.Tenant `json:"tenant"`
	Token  string       `json:"token"`
}

const tenantCacheTTL = 5 * time.Minute

// NewTenantRepository opens the database via the pgx stdlib driver.
// rdb may be nil to disable caching.
func NewTenantRepository(dsn string, rdb RedisClient, cipher *crypto.Cipher) (*TenantRepository, error) {
	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	db := stdlib.OpenDB(*config)
	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &TenantRepository{db: db, redis: rdb, cipher: cipher}, nil
}

// NewTenantRepositoryWithDB wraps an existing handle; used by cmd/server
// so the three repositories share one pool.
func NewTenantRepositoryWithDB(db *sql.DB, rdb RedisClient, cipher *crypto.Cipher) *TenantRepository {
	return &TenantRepository{db: db, redis: rdb, cipher: cipher}
}

// Close closes the database connection.
func (r *TenantRepository) Close() error {
	if r.redis != nil {
		r.redis.Close()
	}
	return r.db.Close()
}

func (r *TenantRepository) cacheKey(companyID string) string {
	return fmt.Sprintf("tenant:%s", companyID)
}

func (r *TenantRepository) invalidate(ctx context.Context, companyID string) {
	if r.redis != nil {
		r.redis.Del(ctx, r.cacheKey(companyID))
	}
}

func (r *TenantRepository) encryptToken(token string) ([]byte, []byte, error) {
	if token == "" {
		return nil, nil, nil
	}
	return r.cipher.Encrypt(token)
}

const tenantColumns = `company_id, experience_id, owner_user_id, encrypted_token, token_nonce, plan, install_generation, created_at, updated_at`

func (r *TenantRepository) scanTenant(row interface{ Scan(...any) error }) (*model.Tenant, error) {
	t := &model.Tenant{}
	var plan string
	var encToken, nonce []byte
	err := row.Scan(&t.CompanyID, &t.ExperienceID, &t.OwnerUserID, &encToken, &nonce, &plan, &t.InstallGeneration, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Plan = model.ParsePlan(plan)
	if len(encToken) > 0 && len(nonce) > 0 {
		token, err := r.cipher.Decrypt(encToken, nonce)
		if err != nil {
			return nil, fmt.Errorf("decrypt token for %s: %w", t.CompanyID, err)
		}
		t.AccessToken = token
	}
	return t, nil
}

// Create inserts a new tenant row.
func (r *TenantRepository) Create(ctx context.Context, t *model.Tenant) error {
	encToken, nonce, err := r.encryptToken(t.AccessToken)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tenants (company_id, experience_id, owner_user_id, encrypted_token, token_nonce, plan, install_generation, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, now(), now())
		RETURNING install_generation, created_at, updated_at
	`
	if t.Plan == "" {
		t.Plan = model.PlanFree
	}
	err = r.db.QueryRowContext(ctx, query,
		t.CompanyID, t.ExperienceID, t.OwnerUserID, encToken, nonce, string(t.Plan),
	).Scan(&t.InstallGeneration, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return err
	}

	r.invalidate(ctx, t.CompanyID)
	return nil
}

// Upsert applies an install event. On conflict the credential and plan are
// replaced and the install generation bumped; the experience id is never
// written here (see ClaimExperienceID).
func (r *TenantRepository) Upsert(ctx context.Context, t *model.Tenant) error {
	encToken, nonce, err := r.encryptToken(t.AccessToken)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tenants (company_id, owner_user_id, encrypted_token, token_nonce, plan, install_generation, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, now(), now())
		ON CONFLICT (company_id) DO UPDATE SET
			encrypted_token = EXCLUDED.encrypted_token,
			token_nonce = EXCLUDED.token_nonce,
			plan = EXCLUDED.plan,
			owner_user_id = CASE WHEN EXCLUDED.owner_user_id <> '' THEN EXCLUDED.owner_user_id ELSE tenants.owner_user_id END,
			install_generation = tenants.install_generation + 1,
			updated_at = now()
		RETURNING install_generation, created_at, updated_at
	`
	if t.Plan == "" {
		t.Plan = model.PlanFree
	}
	err = r.db.QueryRowContext(ctx, query,
		t.CompanyID, t.OwnerUserID, encToken, nonce, string(t.Plan),
	).Scan(&t.InstallGeneration, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return err
	}

	r.invalidate(ctx, t.CompanyID)
	return nil
}

// GetByCompanyID retrieves a tenant by its primary key.
func (r *TenantRepository) GetByCompanyID(ctx context.Context, companyID string) (*model.Tenant, error) {
	if r.redis != nil {
		cached, err := r.redis.Get(ctx, r.cacheKey(companyID)).Result()
		if err == nil {
			ct := &cachedTenant{}
			if err := json.Unmarshal([]byte(cached), ct); err == nil {
				ct.Tenant.AccessToken = ct.Token
				return &ct.Tenant, nil
			}
		}
	}

	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE company_id = $1`
	t, err := r.scanTenant(r.db.QueryRowContext(ctx, query, companyID))
	if err != nil || t == nil {
		return t, err
	}

	if r.redis != nil {
		data, err := json.Marshal(&cachedTenant{Tenant: *t, Token: t.AccessToken})
		if err == nil {
			r.redis.SetEx(ctx, r.cacheKey(companyID), data, tenantCacheTTL)
		}
	}
	return t, nil
}

// GetByExperienceID retrieves the tenant owning an experience id.
func (r *TenantRepository) GetByExperienceID(ctx context.Context, experienceID string) (*model.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE experience_id = $1`
	return r.scanTenant(r.db.QueryRowContext(ctx, query, experienceID))
}

// GetLatestByOwnerUserID returns the most recently updated tenant owned by
// the given user.
func (r *TenantRepository) GetLatestByOwnerUserID(ctx context.Context, userID string) (*model.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE owner_user_id = $1 ORDER BY updated_at DESC LIMIT 1`
	return r.scanTenant(r.db.QueryRowContext(ctx, query, userID))
}

// UpdatePlan sets the plan on an existing tenant. Returns sql.ErrNoRows
// when no tenant exists for the id.
func (r *TenantRepository) UpdatePlan(ctx context.Context, companyID string, plan model.Plan) error {
	query := `UPDATE tenants SET plan = $2, updated_at = now() WHERE company_id = $1`
	result, err := r.db.ExecContext(ctx, query, companyID, string(plan))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	r.invalidate(ctx, companyID)
	return nil
}

// Delete removes the tenant row. Snapshots and preferences stay behind for
// a potential reinstall.
func (r *TenantRepository) Delete(ctx context.Context, companyID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE company_id = $1`, companyID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	r.invalidate(ctx, companyID)
	return nil
}

// ListWithCredentials returns every tenant holding a provider token.
func (r *TenantRepository) ListWithCredentials(ctx context.Context) ([]model.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE encrypted_token IS NOT NULL AND length(encrypted_token) > 0 ORDER BY company_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []model.Tenant
	for rows.Next() {
		t, err := r.scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

// ClaimExperienceID sets the experience id unless another tenant owns it.
// The NOT EXISTS guard and the UPDATE run as one statement, so two
// concurrent claims cannot both win.
func (r *TenantRepository) ClaimExperienceID(ctx context.Context, companyID, experienceID string) (bool, error) {
	query := `
		UPDATE tenants SET experience_id = $2, updated_at = now()
		WHERE company_id = $1
		  AND NOT EXISTS (SELECT 1 FROM tenants other WHERE other.experience_id = $2 AND other.company_id <> $1)
	`
	result, err := r.db.ExecContext(ctx, query, companyID, experienceID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	r.invalidate(ctx, companyID)
	return rows > 0, nil
}

// ApplyReinstall moves the tenant to a new experience id, resets the plan
// to free and bumps the install generation, all in one guarded statement.
func (r *TenantRepository) ApplyReinstall(ctx context.Context, companyID, experienceID string) (bool, error) {
	query := `
		UPDATE tenants SET experience_id = $2, plan = 'free', install_generation = install_generation + 1, updated_at = now()
		WHERE company_id = $1
		  AND NOT EXISTS (SELECT 1 FROM tenants other WHERE other.experience_id = $2 AND other.company_id <> $1)
	`
	result, err := r.db.ExecContext(ctx, query, companyID, experienceID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	r.invalidate(ctx, companyID)
	return rows > 0, nil
}
