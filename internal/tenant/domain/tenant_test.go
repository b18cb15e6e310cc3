package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTenant_IsUsable(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	testCases := []struct {
		name   string
		tenant *Tenant
		want   bool
	}{
		{"active", &Tenant{Status: TenantStatusActive}, true},
		{"trial open-ended", &Tenant{Status: TenantStatusTrial}, true},
		{"trial running", &Tenant{Status: TenantStatusTrial, TrialEndsAt: &future}, true},
		{"trial lapsed", &Tenant{Status: TenantStatusTrial, TrialEndsAt: &past}, false},
		{"suspended", &Tenant{Status: TenantStatusSuspended}, false},
		{"cancelled", &Tenant{Status: TenantStatusCancelled}, false},
		{"expired", &Tenant{Status: TenantStatusExpired}, false},
		{"nil", nil, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.tenant.IsUsable(now); got != tc.want {
				t.Errorf("IsUsable() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTenant_Serves(t *testing.T) {
	tn := &Tenant{Domain: "acme.example.com", CustomDomains: []string{"portal.acme.io"}}
	if !tn.Serves("ACME.example.com") {
		t.Error("primary domain should match case-insensitively")
	}
	if !tn.Serves("portal.acme.io") {
		t.Error("custom domain should match")
	}
	if tn.Serves("other.example.com") {
		t.Error("unrelated domain should not match")
	}
	if tn.Serves("") {
		t.Error("empty host should not match")
	}
}

func TestTenant_Validate(t *testing.T) {
	tn := &Tenant{Name: "Acme", Domain: "ACME.example.com", CustomDomains: []string{"Portal.Acme.io"}}
	if err := tn.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if tn.Status != TenantStatusActive {
		t.Errorf("Status = %q, want %q", tn.Status, TenantStatusActive)
	}
	if tn.Domain != "acme.example.com" || tn.CustomDomains[0] != "portal.acme.io" {
		t.Errorf("domains not lowercased: %q %v", tn.Domain, tn.CustomDomains)
	}

	if err := (&Tenant{Domain: "x"}).Validate(); err == nil {
		t.Error("missing name should fail")
	}
	if err := (&Tenant{Name: "x"}).Validate(); err == nil {
		t.Error("missing domain should fail")
	}
	if err := (&Tenant{Name: "x", Domain: "x", Status: "paused"}).Validate(); err == nil {
		t.Error("unknown status should fail")
	}
}

func TestSubscriptionResult(t *testing.T) {
	if r := NotConfigured(); r.State != SubscriptionNotConfigured || r.State.String() != "not_configured" {
		t.Errorf("NotConfigured = %+v", r)
	}
	if r := SubscriptionOf(nil); r.State != SubscriptionAbsent {
		t.Errorf("SubscriptionOf(nil).State = %v, want absent", r.State)
	}
	if r := SubscriptionOf(&Subscription{Plan: "pro"}); r.State != SubscriptionFound || r.Value.Plan != "pro" {
		t.Errorf("SubscriptionOf = %+v", r)
	}
	boom := errors.New("boom")
	if r := SubscriptionError(boom); r.State != SubscriptionFailed || !errors.Is(r.Err, boom) {
		t.Errorf("SubscriptionError = %+v", r)
	}
}

func TestSlug(t *testing.T) {
	for in, want := range map[string]string{
		"Acme Corp": "acmecorp",
		"acme-corp": "acmecorp",
		"ACME_CORP": "acmecorp",
		"Zeta 42!":  "zeta42",
		"":          "",
	} {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}
