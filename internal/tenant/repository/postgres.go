package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/askeywa/Immigration-V2-sub004/internal/tenant/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var tenantColumns = []string{"t.id", "t.name", "t.domain", "t.status", "t.trial_ends_at", "t.created_at", "t.updated_at"}

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a tenant repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the tenant for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	return r.getOne(ctx, psql.Select(tenantColumns...).From("tenants t").Where(sq.Eq{"t.id": id}))
}

// GetByDomain returns the tenant whose primary domain or verified custom domain is host, or nil.
// Status is not filtered so the caller can tell a disabled tenant from an unknown one.
func (r *PostgresRepository) GetByDomain(ctx context.Context, host string) (*domain.Tenant, error) {
	host = strings.ToLower(host)
	q := psql.Select(tenantColumns...).
		From("tenants t").
		LeftJoin("tenant_domains d ON d.tenant_id = t.id").
		Where(sq.Or{
			sq.Eq{"t.domain": host},
			sq.And{sq.Eq{"d.hostname": host}, sq.NotEq{"d.verified_at": nil}},
		}).
		Limit(1)
	return r.getOne(ctx, q)
}

// GetBySlug returns the tenant whose normalized name is slug, or nil.
func (r *PostgresRepository) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	if slug == "" {
		return nil, nil
	}
	return r.getOne(ctx, psql.Select(tenantColumns...).From("tenants t").Where(sq.Eq{"t.slug": slug}))
}

// Create persists the tenant and its custom domains. The tenant must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	q, args, err := psql.Insert("tenants").
		Columns("id", "name", "slug", "domain", "status", "trial_ends_at", "created_at", "updated_at").
		Values(t.ID, t.Name, domain.Slug(t.Name), t.Domain, string(t.Status), timeToNullTime(t.TrialEndsAt), t.CreatedAt, t.UpdatedAt).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, d := range t.CustomDomains {
		q, args, err := psql.Insert("tenant_domains").
			Columns("hostname", "tenant_id", "verified_at").
			Values(d, t.ID, now).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateStatus sets the tenant's status. Returns an error if the update fails.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status domain.TenantStatus) error {
	if !status.Valid() {
		return errors.New("unknown status")
	}
	q, args, err := psql.Update("tenants").
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

// AddDomain attaches hostname to the tenant. Unverified domains never resolve.
func (r *PostgresRepository) AddDomain(ctx context.Context, tenantID, hostname string, verified bool) error {
	var verifiedAt sql.NullTime
	if verified {
		verifiedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	q, args, err := psql.Insert("tenant_domains").
		Columns("hostname", "tenant_id", "verified_at").
		Values(strings.ToLower(hostname), tenantID, verifiedAt).
		Suffix("ON CONFLICT (hostname) DO UPDATE SET verified_at = EXCLUDED.verified_at").
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

// GetSubscription returns the tenant's subscription, or nil if it has none.
func (r *PostgresRepository) GetSubscription(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	q, args, err := psql.Select("tenant_id", "plan", "status", "renews_at", "updated_at").
		From("subscriptions").
		Where(sq.Eq{"tenant_id": tenantID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var s domain.Subscription
	var renews sql.NullTime
	err = r.db.QueryRowContext(ctx, q, args...).Scan(&s.TenantID, &s.Plan, &s.Status, &renews, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.RenewsAt = nullTimeToPtr(renews)
	return &s, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, b sq.SelectBuilder) (*domain.Tenant, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var t domain.Tenant
	var status string
	var trial sql.NullTime
	err = r.db.QueryRowContext(ctx, q, args...).Scan(&t.ID, &t.Name, &t.Domain, &status, &trial, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.Status = domain.TenantStatus(status)
	t.TrialEndsAt = nullTimeToPtr(trial)
	domains, err := r.customDomains(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.CustomDomains = domains
	return &t, nil
}

func (r *PostgresRepository) customDomains(ctx context.Context, tenantID string) ([]string, error) {
	q, args, err := psql.Select("hostname").
		From("tenant_domains").
		Where(sq.Eq{"tenant_id": tenantID}).
		Where(sq.NotEq{"verified_at": nil}).
		OrderBy("hostname").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}
