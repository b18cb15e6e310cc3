package repository

import (
	"context"

	"github.com/askeywa/Immigration-V2-sub004/internal/tenant/domain"
)

// Repository defines persistence for tenants and their domains.
// Lookups return (nil, nil) when no row matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Tenant, error)
	// GetByDomain matches the primary domain or a verified custom domain, regardless of status.
	GetByDomain(ctx context.Context, host string) (*domain.Tenant, error)
	// GetBySlug matches the tenant's normalized name.
	GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error)
	Create(ctx context.Context, t *domain.Tenant) error
	UpdateStatus(ctx context.Context, id string, status domain.TenantStatus) error
	AddDomain(ctx context.Context, tenantID, hostname string, verified bool) error
	GetSubscription(ctx context.Context, tenantID string) (*domain.Subscription, error)
}
