package repository

import (
	"context"
	"errors"
	"time"

	"github.com/askeywa/Immigration-V2-sub004/internal/session/domain"
)

// ErrStale is returned by Update when the stored session is gone or its token
// hash no longer matches the one the caller loaded.
var ErrStale = errors.New("session: stale update")

// ExpiredRetention is how long a store keeps a session past ExpiresAt, so a
// late request is answered as expired rather than unknown. It covers the
// longest MaxAge.
const ExpiredRetention = domain.MaxAgeMobile

func retention(grace time.Duration) time.Duration {
	if grace <= 0 {
		return ExpiredRetention
	}
	return grace
}

// Repository defines persistence for sessions. Implementations must honour ctx
// cancellation so the manager's store deadline cancels the underlying call.
type Repository interface {
	// GetByID returns the session for id, or nil if it does not exist or was revoked.
	// It returns an error only for storage failures, not for missing sessions.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// ListByUser returns the user's live sessions ordered by LoginAt, oldest first.
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	// Update persists LastActivity, IssuedAt, ExpiresAt and the token hashes,
	// provided the stored TokenHash still equals loadedHash. Otherwise, or when
	// the session was revoked meanwhile, it returns ErrStale and writes nothing.
	Update(ctx context.Context, s *domain.Session, loadedHash string) error
	// Revoke removes the session. Revoking a missing session is not an error.
	Revoke(ctx context.Context, id string) error
	RevokeAllByUser(ctx context.Context, userID string) error
}
