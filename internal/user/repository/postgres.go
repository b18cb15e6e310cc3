package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/askeywa/Immigration-V2-sub004/internal/rls"
	"github.com/askeywa/Immigration-V2-sub004/internal/user/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var userColumns = []string{
	"id", "tenant_id", "email", "name", "password_hash", "role", "permissions",
	"status", "mfa_verified", "created_at", "updated_at",
}

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// scope restricts b to what enf may see. Super-admin contexts are limited to
// platform accounts so that a login on a super-admin domain cannot match a
// tenant user with the same email.
func scope(enf *rls.Enforcer, b sq.SelectBuilder) (sq.SelectBuilder, error) {
	if enf.Context().IsSuperAdmin() {
		return b.Where(sq.Eq{"tenant_id": nil, "role": string(domain.RoleSuperAdmin)}), nil
	}
	return enf.ScopedSelect(b, "tenant_id")
}

// GetByID returns the user for id, or nil if not found in scope.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, enf *rls.Enforcer, id string) (*domain.User, error) {
	b, err := scope(enf, psql.Select(userColumns...).From("users").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return r.getOne(ctx, b)
}

// GetByEmail returns the user with the given email (case-insensitive), or nil if not found in scope.
func (r *PostgresRepository) GetByEmail(ctx context.Context, enf *rls.Enforcer, email string) (*domain.User, error) {
	b, err := scope(enf, psql.Select(userColumns...).From("users").
		Where(sq.Expr("lower(email) = ?", strings.ToLower(strings.TrimSpace(email)))))
	if err != nil {
		return nil, err
	}
	return r.getOne(ctx, b)
}

func (r *PostgresRepository) getOne(ctx context.Context, b sq.SelectBuilder) (*domain.User, error) {
	q, args, err := b.Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	u, err := scanUser(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// Create persists the user. Tenant contexts stamp their tenant on the row and
// reject a user that names another tenant.
func (r *PostgresRepository) Create(ctx context.Context, enf *rls.Enforcer, u *domain.User) error {
	if !enf.Context().IsSuperAdmin() {
		payload := map[string]any{}
		if u.TenantID != "" {
			payload[rls.TenantKey] = u.TenantID
		}
		scoped, err := enf.EnsureTenantID(ctx, payload)
		if err != nil {
			return err
		}
		u.TenantID, _ = scoped[rls.TenantKey].(string)
	}
	if err := u.Validate(); err != nil {
		return err
	}
	perms, err := json.Marshal(nonNil(u.Permissions))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	q, args, err := psql.Insert("users").
		Columns(userColumns...).
		Values(u.ID, sql.NullString{String: u.TenantID, Valid: u.TenantID != ""}, u.Email, u.Name, u.PasswordHash,
			string(u.Role), string(perms), string(u.Status), u.MFAVerified, u.CreatedAt, u.UpdatedAt).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

// UpdateStatus enables or disables a user within scope.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, enf *rls.Enforcer, id string, status domain.UserStatus) error {
	b, err := enf.ScopedUpdate(psql.Update("users").
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}), "tenant_id")
	if err != nil {
		return err
	}
	q, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

// UpdatePasswordHash replaces the user's password hash within scope.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, enf *rls.Enforcer, id, hash string) error {
	b, err := enf.ScopedUpdate(psql.Update("users").
		Set("password_hash", hash).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}), "tenant_id")
	if err != nil {
		return err
	}
	q, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var (
		u                   domain.User
		tenantID            sql.NullString
		role, status, perms string
	)
	err := row.Scan(&u.ID, &tenantID, &u.Email, &u.Name, &u.PasswordHash, &role, &perms,
		&status, &u.MFAVerified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.TenantID = tenantID.String
	u.Role = domain.Role(role)
	u.Status = domain.UserStatus(status)
	if perms != "" {
		if err := json.Unmarshal([]byte(perms), &u.Permissions); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

func nonNil(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}
