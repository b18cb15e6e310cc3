package interceptors

import (
	"context"

	"github.com/askeywa/Immigration-V2-sub004/internal/session/domain"
)

type contextKey struct{ name string }

var sessionKey = contextKey{"session"}

// WithSession returns a context carrying the validated session. Handlers read
// it via SessionFromContext, GetUserID and GetSessionID.
func WithSession(ctx context.Context, s *domain.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the validated session and true if one is set.
func SessionFromContext(ctx context.Context) (*domain.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*domain.Session)
	return s, ok && s != nil
}

// GetUserID returns the session's user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return "", false
	}
	return s.UserID, true
}

// GetSessionID returns the session_id from context and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return "", false
	}
	return s.ID, true
}
