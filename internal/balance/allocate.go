package balance

import "github.com/angelmondragon/quickbrush-backend/pkg/db/models"

// Allocate splits amount between the remaining period allowance and purchased
// credits, allowance first. Neither side goes below zero, so a short result
// (fromAllowance+fromPurchased < amount) means the balance cannot cover it.
func Allocate(amount, allowanceRemaining, purchased int) (fromAllowance, fromPurchased int) {
	if amount <= 0 {
		return 0, 0
	}
	fromAllowance = min(amount, max(0, allowanceRemaining))
	fromPurchased = min(amount-fromAllowance, max(0, purchased))
	return fromAllowance, fromPurchased
}

// Available computes max(0, allowance-usage) + purchased.
func Available(purchased, usage, allowance int) int {
	return max(0, allowance-usage) + max(0, purchased)
}

// AvailableFor is Available over an account's cached counters.
func AvailableFor(acct *models.Account, allowance int) int {
	if acct == nil {
		return 0
	}
	return Available(acct.PurchasedCredits, acct.UsageThisPeriod, allowance)
}
