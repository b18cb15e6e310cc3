package repository

import (
	"context"

	"github.com/askeywa/Immigration-V2-sub004/internal/rls"
	"github.com/askeywa/Immigration-V2-sub004/internal/user/domain"
)

// Repository defines persistence for users. Every call is scoped by the
// caller's enforcer: tenant contexts only see their own tenant's users and a
// super-admin context only sees super admins.
type Repository interface {
	GetByID(ctx context.Context, enf *rls.Enforcer, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, enf *rls.Enforcer, email string) (*domain.User, error)
	Create(ctx context.Context, enf *rls.Enforcer, u *domain.User) error
	UpdateStatus(ctx context.Context, enf *rls.Enforcer, id string, status domain.UserStatus) error
	UpdatePasswordHash(ctx context.Context, enf *rls.Enforcer, id, hash string) error
}
