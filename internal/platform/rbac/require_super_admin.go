// Package rbac holds the authorization guards shared by the HTTP and gRPC
// transports. Guards read the tenant context and session from ctx and return
// apperr errors, which both transports map to their own status codes.
package rbac

import (
	"context"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/server/interceptors"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
)

// RequireSuperAdmin ensures the request runs in a super-admin tenant context
// with a validated super-admin session. Returns the session's user id.
func RequireSuperAdmin(ctx context.Context) (userID string, err error) {
	tc, ok := tenancy.FromContext(ctx)
	if !ok {
		return "", apperr.ErrContextMissing
	}
	s, ok := interceptors.SessionFromContext(ctx)
	if !ok {
		return "", apperr.ErrSessionInvalid
	}
	if !tc.IsSuperAdmin() || !s.IsSuperAdmin() {
		return "", apperr.ErrSuperAdminRequired
	}
	return s.UserID, nil
}
