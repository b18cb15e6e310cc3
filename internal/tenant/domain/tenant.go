package domain

import (
	"errors"
	"strings"
	"time"
)

// Tenant is an isolated customer organization addressed by one or more domains.
type Tenant struct {
	ID            string
	Name          string
	Domain        string   // primary domain, lowercase
	CustomDomains []string // approved additional domains, lowercase
	Status        TenantStatus
	TrialEndsAt   *time.Time // only meaningful when Status is trial
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusTrial     TenantStatus = "trial"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusCancelled TenantStatus = "cancelled"
	TenantStatusExpired   TenantStatus = "expired"
)

// Valid reports whether s is a known status.
func (s TenantStatus) Valid() bool {
	switch s {
	case TenantStatusActive, TenantStatusTrial, TenantStatusSuspended, TenantStatusCancelled, TenantStatusExpired:
		return true
	}
	return false
}

// IsUsable reports whether requests may be served for the tenant at now.
// A trial whose end date has passed is not usable even if its row still says trial.
func (t *Tenant) IsUsable(now time.Time) bool {
	if t == nil {
		return false
	}
	switch t.Status {
	case TenantStatusActive:
		return true
	case TenantStatusTrial:
		return t.TrialEndsAt == nil || now.Before(*t.TrialEndsAt)
	default:
		return false
	}
}

// Serves reports whether host is the tenant's primary or an approved custom domain.
func (t *Tenant) Serves(host string) bool {
	if t == nil || host == "" {
		return false
	}
	if strings.EqualFold(t.Domain, host) {
		return true
	}
	for _, d := range t.CustomDomains {
		if strings.EqualFold(d, host) {
			return true
		}
	}
	return false
}

// Validate validates the tenant for persistence. Returns an error describing the first validation failure.
func (t *Tenant) Validate() error {
	if t.Name == "" {
		return errors.New("name is required")
	}
	if t.Domain == "" {
		return errors.New("domain is required")
	}
	if t.Status == "" {
		t.Status = TenantStatusActive
	}
	if !t.Status.Valid() {
		return errors.New("unknown status")
	}
	t.Domain = strings.ToLower(t.Domain)
	for i, d := range t.CustomDomains {
		t.CustomDomains[i] = strings.ToLower(d)
	}
	return nil
}
