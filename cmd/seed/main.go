// seed inserts development tenants and users for local testing.
// Idempotent: tenants whose domain already resolves are skipped, as are users
// whose email is already registered in that tenant.
//
// Hosts (add them to /etc/hosts or use a *.localhost resolver):
//
//	acme.localhost     active tenant
//	globex.localhost   active tenant with custom domain portal.globex.test
//	initech.localhost  suspended tenant
//	localhost          super-admin domain
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/askeywa/Immigration-V2-sub004/internal/config"
	"github.com/askeywa/Immigration-V2-sub004/internal/db"
	identityservice "github.com/askeywa/Immigration-V2-sub004/internal/identity/service"
	"github.com/askeywa/Immigration-V2-sub004/internal/logger"
	"github.com/askeywa/Immigration-V2-sub004/internal/rls"
	"github.com/askeywa/Immigration-V2-sub004/internal/security"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
	tenantdomain "github.com/askeywa/Immigration-V2-sub004/internal/tenant/domain"
	tenantrepo "github.com/askeywa/Immigration-V2-sub004/internal/tenant/repository"
	userdomain "github.com/askeywa/Immigration-V2-sub004/internal/user/domain"
	userrepo "github.com/askeywa/Immigration-V2-sub004/internal/user/repository"
)

const devPassword = "Dev-Password-123!"

type seedUser struct {
	email, name string
	role        userdomain.Role
}

type seedTenant struct {
	tenant tenantdomain.Tenant
	users  []seedUser
}

var tenants = []seedTenant{
	{
		tenant: tenantdomain.Tenant{ID: "dev-tenant-acme", Name: "Acme", Domain: "acme.localhost", Status: tenantdomain.TenantStatusActive},
		users: []seedUser{
			{"admin@acme.test", "Acme Admin", userdomain.RoleTenantAdmin},
			{"user@acme.test", "Acme User", userdomain.RoleUser},
		},
	},
	{
		tenant: tenantdomain.Tenant{ID: "dev-tenant-globex", Name: "Globex", Domain: "globex.localhost", CustomDomains: []string{"portal.globex.test"}, Status: tenantdomain.TenantStatusActive},
		users: []seedUser{
			{"user@globex.test", "Globex User", userdomain.RoleUser},
		},
	},
	{
		tenant: tenantdomain.Tenant{ID: "dev-tenant-initech", Name: "Initech", Domain: "initech.localhost", Status: tenantdomain.TenantStatusSuspended},
	},
}

var superAdmin = seedUser{"root@platform.test", "Platform Admin", userdomain.RoleSuperAdmin}

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(logger.Options{Env: cfg.Env, Level: cfg.LogLevel, Service: "seed"})
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		log.Fatal("db", zap.Error(err))
	}
	defer conn.Close()

	tenantRepo := tenantrepo.NewPostgresRepository(conn)
	auth, err := identityservice.NewAuthenticator(userrepo.NewPostgresRepository(conn), security.NewHasher(cfg.BcryptCost))
	if err != nil {
		log.Fatal("authenticator", zap.Error(err))
	}

	now := time.Now().UTC()
	for _, st := range tenants {
		t := st.tenant
		existing, err := tenantRepo.GetByDomain(ctx, t.Domain)
		if err != nil {
			log.Fatal("lookup tenant", zap.String("domain", t.Domain), zap.Error(err))
		}
		if existing == nil {
			t.CreatedAt, t.UpdatedAt = now, now
			if err := tenantRepo.Create(ctx, &t); err != nil {
				log.Fatal("create tenant", zap.String("domain", t.Domain), zap.Error(err))
			}
			log.Info("tenant created", zap.String("tenant_id", t.ID), zap.String("domain", t.Domain))
		}
		enf := rls.New(tenancy.ForTenant(t.ID, t.Domain), nil)
		for _, u := range st.users {
			register(ctx, log, auth, enf, u)
		}
	}
	register(ctx, log, auth, rls.New(tenancy.ForSuperAdmin("localhost"), nil), superAdmin)
	log.Info("seed complete", zap.String("password", devPassword))
}

func register(ctx context.Context, log *zap.Logger, auth *identityservice.Authenticator, enf *rls.Enforcer, u seedUser) {
	created, err := auth.Register(ctx, enf, u.email, devPassword, u.name, u.role)
	switch {
	case errors.Is(err, identityservice.ErrEmailAlreadyRegistered):
		log.Debug("user exists", zap.String("email", u.email))
	case err != nil:
		log.Fatal("create user", zap.String("email", u.email), zap.Error(err))
	default:
		log.Info("user created", zap.String("email", created.Email), zap.String("tenant_id", created.TenantID))
	}
}
