package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordMismatch is returned by Compare when the password does not match.
var ErrPasswordMismatch = errors.New("security: password mismatch")

// DefaultBcryptCost applies when BCRYPT_COST is unset.
const DefaultBcryptCost = 12

// Hasher hashes user passwords with bcrypt at the configured BCRYPT_COST.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher. A non-positive cost uses DefaultBcryptCost and
// the result is clamped to bcrypt's accepted range.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = DefaultBcryptCost
	}
	cost = max(bcrypt.MinCost, min(cost, bcrypt.MaxCost))
	return &Hasher{cost: cost}
}

// Cost returns the bcrypt cost new hashes are created with.
func (h *Hasher) Cost() int { return h.cost }

// Hash returns the bcrypt hash stored in users.password_hash.
func (h *Hasher) Hash(password []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(password, h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare checks password against a stored hash. A wrong password yields
// ErrPasswordMismatch; a malformed hash yields bcrypt's error.
func (h *Hasher) Compare(hash string, password []byte) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), password)
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}

// NeedsRehash reports whether hash was created with a cost other than the
// configured one, e.g. after BCRYPT_COST was raised.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err != nil || cost != h.cost
}
