package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/askeywa/Immigration-V2-sub004/internal/violation/domain"
)

// Repository defines durable persistence for security violations.
type Repository interface {
	Create(ctx context.Context, v *domain.Violation) error
	// ListByTenant returns the tenant's violations since the given time, newest first.
	// An empty tenantID lists violations without a tenant (super-admin or unresolved).
	ListByTenant(ctx context.Context, tenantID string, since time.Time, limit uint64) ([]*domain.Violation, error)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a violation repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the violation. Metadata is stored as JSONB.
func (r *PostgresRepository) Create(ctx context.Context, v *domain.Violation) error {
	meta := v.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	q, args, err := psql.Insert("security_violations").
		Columns("id", "occurred_at", "session_id", "tenant_id", "user_id", "kind", "severity", "metadata").
		Values(v.ID, v.OccurredAt, v.SessionID, v.TenantID, v.UserID, string(v.Kind), string(v.Severity), string(metaJSON)).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

func (r *PostgresRepository) ListByTenant(ctx context.Context, tenantID string, since time.Time, limit uint64) ([]*domain.Violation, error) {
	b := psql.Select("id", "occurred_at", "session_id", "tenant_id", "user_id", "kind", "severity", "metadata").
		From("security_violations").
		Where(sq.Eq{"tenant_id": tenantID}).
		Where(sq.GtOrEq{"occurred_at": since}).
		OrderBy("occurred_at DESC")
	if limit > 0 {
		b = b.Limit(limit)
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Violation
	for rows.Next() {
		var v domain.Violation
		var kind, severity, metaJSON string
		if err := rows.Scan(&v.ID, &v.OccurredAt, &v.SessionID, &v.TenantID, &v.UserID, &kind, &severity, &metaJSON); err != nil {
			return nil, err
		}
		v.Kind = domain.Kind(kind)
		v.Severity = domain.Severity(severity)
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &v.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}
