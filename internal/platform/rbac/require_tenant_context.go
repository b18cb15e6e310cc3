package rbac

import (
	"context"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
)

// RequireTenantContext ensures the request is scoped to exactly one tenant.
// Super-admin and neutral contexts are ContextMissing.
func RequireTenantContext(ctx context.Context) (tenancy.Context, error) {
	tc, err := tenancy.Require(ctx)
	if err != nil {
		return tenancy.Context{}, err
	}
	if !tc.HasTenant() {
		return tenancy.Context{}, apperr.ErrContextMissing
	}
	return tc, nil
}
