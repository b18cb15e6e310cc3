package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/askeywa/Immigration-V2-sub004/internal/session/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var sessionColumns = []string{
	"id", "user_id", "tenant_id", "role", "permissions", "kind", "ip_address", "user_agent",
	"token_hash", "prev_token_hash", "prev_token_until", "mfa_verified", "login_at", "issued_at",
	"last_activity_at", "expires_at",
}

type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// GetByID returns the session for id, or nil if not found or revoked.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	q, args, err := psql.Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"id": id, "revoked_at": nil}).
		ToSql()
	if err != nil {
		return nil, err
	}
	s, err := scanSession(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListByUser returns the user's non-revoked sessions, oldest login first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	q, args, err := psql.Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"user_id": userID, "revoked_at": nil}).
		OrderBy("login_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Create persists the session to the database. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	perms, err := json.Marshal(nonNil(s.Permissions))
	if err != nil {
		return err
	}
	q, args, err := psql.Insert("sessions").
		Columns(sessionColumns...).
		Values(s.ID, s.UserID, stringToNull(s.TenantID), string(s.Role), string(perms), string(s.Kind),
			s.IPAddress, s.UserAgent, s.TokenHash, s.PrevTokenHash, timeToNull(s.PrevTokenUntil), s.MFAVerified,
			s.LoginAt, s.IssuedAt, s.LastActivity, s.ExpiresAt).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

// Update writes the mutable lifetime fields of a live session whose stored
// token hash is still loadedHash. No matching row yields ErrStale.
func (r *PostgresRepository) Update(ctx context.Context, s *domain.Session, loadedHash string) error {
	q, args, err := psql.Update("sessions").
		Set("last_activity_at", s.LastActivity).
		Set("issued_at", s.IssuedAt).
		Set("expires_at", s.ExpiresAt).
		Set("token_hash", s.TokenHash).
		Set("prev_token_hash", s.PrevTokenHash).
		Set("prev_token_until", timeToNull(s.PrevTokenUntil)).
		Where(sq.Eq{"id": s.ID, "token_hash": loadedHash, "revoked_at": nil}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

// Revoke marks the session with the given id as revoked. Already revoked or missing sessions are left alone.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	q, args, err := psql.Update("sessions").
		Set("revoked_at", r.now()).
		Where(sq.Eq{"id": id, "revoked_at": nil}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

// RevokeAllByUser revokes all sessions for the given user.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID string) error {
	q, args, err := psql.Update("sessions").
		Set("revoked_at", r.now()).
		Where(sq.Eq{"user_id": userID, "revoked_at": nil}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s          domain.Session
		tenantID   sql.NullString
		role, kind string
		perms      string
		prevUntil  sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &tenantID, &role, &perms, &kind, &s.IPAddress, &s.UserAgent,
		&s.TokenHash, &s.PrevTokenHash, &prevUntil, &s.MFAVerified, &s.LoginAt, &s.IssuedAt, &s.LastActivity, &s.ExpiresAt)
	if err != nil {
		return nil, err
	}
	s.PrevTokenUntil = prevUntil.Time
	s.TenantID = tenantID.String
	s.Role = domain.Role(role)
	s.Kind = domain.Kind(kind)
	if perms != "" {
		if err := json.Unmarshal([]byte(perms), &s.Permissions); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func stringToNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeToNull(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nonNil(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}
