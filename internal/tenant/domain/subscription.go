package domain

import "time"

// Subscription is the billing plan attached to a tenant. Only the fields the
// resolver surfaces are modelled; billing itself lives elsewhere.
type Subscription struct {
	TenantID  string
	Plan      string
	Status    string
	RenewsAt  *time.Time
	UpdatedAt time.Time
}

// LookupState distinguishes the outcomes of an optional subscription lookup.
type LookupState int

const (
	// SubscriptionNotConfigured means no subscription source is wired in.
	SubscriptionNotConfigured LookupState = iota
	// SubscriptionFound means the lookup succeeded and Value is set.
	SubscriptionFound
	// SubscriptionAbsent means the lookup succeeded and the tenant has no subscription.
	SubscriptionAbsent
	// SubscriptionFailed means the lookup itself failed; Err is set.
	SubscriptionFailed
)

func (s LookupState) String() string {
	switch s {
	case SubscriptionFound:
		return "found"
	case SubscriptionAbsent:
		return "absent"
	case SubscriptionFailed:
		return "failed"
	default:
		return "not_configured"
	}
}

// SubscriptionResult is the outcome of an optional subscription lookup.
type SubscriptionResult struct {
	State LookupState
	Value *Subscription
	Err   error
}

// NotConfigured returns the result used when no subscription source exists.
func NotConfigured() SubscriptionResult {
	return SubscriptionResult{State: SubscriptionNotConfigured}
}

// SubscriptionOf wraps a successful lookup; a nil subscription is Absent.
func SubscriptionOf(s *Subscription) SubscriptionResult {
	if s == nil {
		return SubscriptionResult{State: SubscriptionAbsent}
	}
	return SubscriptionResult{State: SubscriptionFound, Value: s}
}

// SubscriptionError wraps a failed lookup.
func SubscriptionError(err error) SubscriptionResult {
	return SubscriptionResult{State: SubscriptionFailed, Err: err}
}
