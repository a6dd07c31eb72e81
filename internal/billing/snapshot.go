package billing

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
)

// ErrReconciliationUnavailable marks a provider fetch that failed and was
// answered from the cached account state instead.
var ErrReconciliationUnavailable = errors.New("billing provider unavailable")

// Snapshot is the provider's view of one subscription, typed at the boundary.
type Snapshot struct {
	SubscriptionRef string
	Status          enums.SubscriptionStatus
	PeriodStart     time.Time
	PeriodEnd       *time.Time
	// NominalAllowance comes from the subscription's current price.
	NominalAllowance int
	// PaidAllowance comes from the latest paid invoice; zero when unknown.
	PaidAllowance int
}

// Entitled reports whether the subscription currently grants an allowance.
func (s *Snapshot) Entitled() bool {
	return s != nil && s.Status.IsEntitled()
}

// EffectiveAllowance prefers what was actually paid for over the nominal
// price for the rest of the period.
func (s *Snapshot) EffectiveAllowance() int {
	if s == nil {
		return 0
	}
	if s.PaidAllowance > 0 && s.PaidAllowance != s.NominalAllowance {
		return s.PaidAllowance
	}
	return s.NominalAllowance
}

// Provider fetches subscription state. A nil snapshot with a nil error means
// the provider no longer knows the subscription.
type Provider interface {
	Snapshot(ctx context.Context, subscriptionRef string) (*Snapshot, error)
}
