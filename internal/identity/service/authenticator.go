package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/rls"
	"github.com/askeywa/Immigration-V2-sub004/internal/security"
	userdomain "github.com/askeywa/Immigration-V2-sub004/internal/user/domain"
)

// Sentinel errors for registration; login failures are always apperr.ErrInvalidCredentials.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
)

// UserRepo is the minimal user repository needed by the authenticator.
type UserRepo interface {
	GetByEmail(ctx context.Context, enf *rls.Enforcer, email string) (*userdomain.User, error)
	Create(ctx context.Context, enf *rls.Enforcer, u *userdomain.User) error
}

// PasswordRehasher is implemented by user repositories that can replace a
// stored password hash. Verify uses it to move hashes onto the current cost.
type PasswordRehasher interface {
	UpdatePasswordHash(ctx context.Context, enf *rls.Enforcer, id, hash string) error
}

// Authenticator verifies passwords against users visible to the request's tenant context.
type Authenticator struct {
	users     UserRepo
	hasher    *security.Hasher
	dummyHash string
}

// NewAuthenticator returns an Authenticator. A dummy hash is computed once so
// unknown emails cost the same bcrypt work as wrong passwords.
func NewAuthenticator(users UserRepo, hasher *security.Hasher) (*Authenticator, error) {
	dummy, err := hasher.Hash([]byte(uuid.NewString()))
	if err != nil {
		return nil, err
	}
	return &Authenticator{users: users, hasher: hasher, dummyHash: dummy}, nil
}

// Verify returns the active user with email and password in enf's scope. A
// tenant context only matches that tenant's users and a super-admin context
// only matches super admins.
func (a *Authenticator) Verify(ctx context.Context, enf *rls.Enforcer, email, password string) (*userdomain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, apperr.ErrInvalidCredentials
	}
	u, err := a.users.GetByEmail(ctx, enf, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		_ = a.hasher.Compare(a.dummyHash, []byte(password))
		return nil, apperr.ErrInvalidCredentials
	}
	if err := a.hasher.Compare(u.PasswordHash, []byte(password)); err != nil {
		return nil, apperr.ErrInvalidCredentials
	}
	if !u.IsActive() || !enf.ValidateOwnership(u) {
		return nil, apperr.ErrInvalidCredentials
	}
	if enf.Context().IsSuperAdmin() != u.IsSuperAdmin() {
		return nil, apperr.ErrInvalidCredentials
	}
	a.rehash(ctx, enf, u, password)
	return u, nil
}

// rehash replaces a hash made at another bcrypt cost. It is best effort: a
// failure leaves the old hash, which still verifies.
func (a *Authenticator) rehash(ctx context.Context, enf *rls.Enforcer, u *userdomain.User, password string) {
	r, ok := a.users.(PasswordRehasher)
	if !ok || !a.hasher.NeedsRehash(u.PasswordHash) {
		return
	}
	hashed, err := a.hasher.Hash([]byte(password))
	if err != nil {
		return
	}
	if err := r.UpdatePasswordHash(ctx, enf, u.ID, hashed); err == nil {
		u.PasswordHash = hashed
	}
}

// Register creates a user in enf's scope with a hashed password.
func (a *Authenticator) Register(ctx context.Context, enf *rls.Enforcer, email, password, name string, role userdomain.Role) (*userdomain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := a.users.GetByEmail(ctx, enf, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := a.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	u := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hashed,
		Role:         role,
		Status:       userdomain.UserStatusActive,
	}
	if err := a.users.Create(ctx, enf, u); err != nil {
		return nil, err
	}
	return u, nil
}

var simpleEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if !simpleEmail.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return errors.New("password must be at least 12 characters")
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	switch {
	case !hasUpper:
		return errors.New("password must contain at least one uppercase letter")
	case !hasLower:
		return errors.New("password must contain at least one lowercase letter")
	case !hasNumber:
		return errors.New("password must contain at least one number")
	case !hasSymbol:
		return errors.New("password must contain at least one symbol")
	}
	return nil
}
