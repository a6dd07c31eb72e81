package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/quickbrush-backend/internal/balance"
	"github.com/angelmondragon/quickbrush-backend/internal/ledger"
	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
	"github.com/angelmondragon/quickbrush-backend/pkg/metrics"
)

// Result names how a reconciliation was resolved.
type Result string

const (
	ResultSkipped  Result = "skipped"
	ResultCached   Result = "cached"
	ResultDegraded Result = "degraded"
	ResultCleared  Result = "cleared"
	ResultRenewed  Result = "renewed"
	ResultSynced   Result = "synced"
)

// Reconciliation is the allowance an account may spend right now.
type Reconciliation struct {
	AccountID uuid.UUID
	Allowance int
	Status    *enums.SubscriptionStatus
	Result    Result
	// Renewal is the renewal row appended by this call, if any.
	Renewal *models.LedgerTransaction
	// Warning wraps ErrReconciliationUnavailable when cached state was used.
	Warning error
}

// Degraded reports whether the provider could not be reached.
func (r *Reconciliation) Degraded() bool {
	return r != nil && r.Result == ResultDegraded
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ReconcilerParams groups dependencies for the reconciler.
type ReconcilerParams struct {
	Accounts        balance.Repository
	Ledger          ledger.Repository
	Tx              txRunner
	Provider        Provider
	Logger          *logger.Logger
	Metrics         *metrics.BillingMetrics
	MinInterval     time.Duration
	ProviderTimeout time.Duration
	Now             func() time.Time
}

// Reconciler aligns an account's period usage with the provider's billing period.
type Reconciler struct {
	accounts        balance.Repository
	ledger          ledger.Repository
	tx              txRunner
	provider        Provider
	logg            *logger.Logger
	metrics         *metrics.BillingMetrics
	minInterval     time.Duration
	providerTimeout time.Duration
	now             func() time.Time
}

// NewReconciler builds a reconciler that owns the injected provider.
func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Accounts == nil {
		return nil, errors.New("account repository required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger repository required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Provider == nil {
		return nil, errors.New("billing provider required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{
		accounts:        params.Accounts,
		ledger:          params.Ledger,
		tx:              params.Tx,
		provider:        params.Provider,
		logg:            params.Logger,
		metrics:         params.Metrics,
		minInterval:     params.MinInterval,
		providerTimeout: params.ProviderTimeout,
		now:             now,
	}, nil
}

// Reconcile loads the account and reconciles it. Only the account read can fail.
func (r *Reconciler) Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error) {
	acct, err := r.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return r.ReconcileAccount(ctx, acct), nil
}

// ReconcileAccount never fails: provider trouble degrades to the cached
// allowance and cache write failures are logged.
func (r *Reconciler) ReconcileAccount(ctx context.Context, acct *models.Account) *Reconciliation {
	ctx = r.logg.WithAccountID(ctx, acct.ID.String())
	now := r.now()

	if !acct.HasSubscription() {
		return r.finish(&Reconciliation{AccountID: acct.ID, Result: ResultSkipped})
	}
	if r.fresh(acct, now) {
		return r.finish(&Reconciliation{
			AccountID: acct.ID,
			Allowance: acct.Allowance,
			Status:    acct.SubscriptionStatus,
			Result:    ResultCached,
		})
	}

	snap, err := r.fetch(ctx, *acct.SubscriptionRef)
	if err != nil {
		warning := fmt.Errorf("%w: %v", ErrReconciliationUnavailable, err)
		r.logg.Warn(r.logg.WithEvent(ctx, "billing.reconcile.degraded"), warning.Error())
		return r.finish(&Reconciliation{
			AccountID: acct.ID,
			Allowance: cachedAllowance(acct),
			Status:    acct.SubscriptionStatus,
			Result:    ResultDegraded,
			Warning:   warning,
		})
	}

	if !snap.Entitled() {
		return r.finish(r.clear(ctx, acct, snap, now))
	}

	allowance := snap.EffectiveAllowance()
	status := snap.Status
	cache := balance.SubscriptionCache{
		Status:       &status,
		Allowance:    allowance,
		PeriodEnd:    snap.PeriodEnd,
		ReconciledAt: now,
	}
	out := &Reconciliation{
		AccountID: acct.ID,
		Allowance: allowance,
		Status:    &status,
		Result:    ResultSynced,
	}
	if snap.NominalAllowance != allowance {
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"nominal_allowance": snap.NominalAllowance,
			"paid_allowance":    snap.PaidAllowance,
		}), "paid price governs allowance for the current period")
	}

	if acct.PeriodStart == nil || snap.PeriodStart.After(*acct.PeriodStart) {
		renewal, err := r.rollover(ctx, acct.ID, snap, cache)
		if err != nil {
			r.logg.Error(r.logg.WithEvent(ctx, "billing.reconcile.rollover_failed"), "period rollover failed", err)
			out.Result = ResultDegraded
			out.Warning = fmt.Errorf("%w: rollover: %v", ErrReconciliationUnavailable, err)
			return r.finish(out)
		}
		if renewal != nil {
			out.Result = ResultRenewed
			out.Renewal = renewal
			r.logg.Info(r.logg.WithFields(ctx, map[string]any{
				"event":        "billing.reconcile.renewed",
				"period_start": snap.PeriodStart,
				"allowance":    allowance,
			}), "subscription period rolled over")
			return r.finish(out)
		}
	}

	if err := r.accounts.UpdateSubscriptionCache(ctx, acct.ID, cache); err != nil {
		r.logg.Warn(r.logg.WithEvent(ctx, "billing.reconcile.cache_failed"), fmt.Sprintf("caching subscription state: %v", err))
	}
	return r.finish(out)
}

func (r *Reconciler) fresh(acct *models.Account, now time.Time) bool {
	if r.minInterval <= 0 || acct.ReconciledAt == nil || acct.SubscriptionStatus == nil {
		return false
	}
	if !acct.SubscriptionStatus.IsEntitled() {
		return false
	}
	if acct.PeriodEnd != nil && !now.Before(*acct.PeriodEnd) {
		return false
	}
	return now.Sub(*acct.ReconciledAt) < r.minInterval
}

func (r *Reconciler) fetch(ctx context.Context, ref string) (*Snapshot, error) {
	if r.providerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.providerTimeout)
		defer cancel()
	}
	return r.provider.Snapshot(ctx, ref)
}

// clear honors a cancel even when the write fails; the allowance is zero either
// way. The observed status is persisted so a later degraded read of the row
// still yields zero.
func (r *Reconciler) clear(ctx context.Context, acct *models.Account, snap *Snapshot, now time.Time) *Reconciliation {
	status := enums.SubscriptionStatusCanceled
	if snap != nil {
		status = snap.Status
	}
	ctx = r.logg.WithFields(ctx, map[string]any{
		"event":  "billing.reconcile.cleared",
		"status": status,
	})
	if err := r.accounts.ClearSubscription(ctx, acct.ID, status, now); err != nil {
		r.logg.Error(ctx, "clearing canceled subscription", err)
		fallback := balance.SubscriptionCache{Status: &status, PeriodEnd: acct.PeriodEnd, ReconciledAt: now}
		if err := r.accounts.UpdateSubscriptionCache(ctx, acct.ID, fallback); err != nil {
			r.logg.Error(ctx, "caching canceled status", err)
		}
	} else {
		r.logg.Info(ctx, "subscription no longer entitled; allowance cleared")
	}
	return &Reconciliation{
		AccountID: acct.ID,
		Status:    &status,
		Result:    ResultCleared,
	}
}

// rollover resets usage, appends the renewal row and caches the new state in
// one transaction. A nil row means another writer already applied the period.
func (r *Reconciler) rollover(ctx context.Context, accountID uuid.UUID, snap *Snapshot, cache balance.SubscriptionCache) (*models.LedgerTransaction, error) {
	var renewal *models.LedgerTransaction
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		accounts := r.accounts.WithTx(tx)
		updated, err := accounts.RolloverPeriod(ctx, accountID, snap.PeriodStart, snap.PeriodEnd)
		if err != nil {
			return err
		}
		if updated == nil {
			return nil
		}
		start := snap.PeriodStart
		row := &models.LedgerTransaction{
			AccountID:      accountID,
			Type:           enums.TransactionTypeRenewal,
			Amount:         cache.Allowance,
			BalanceAfter:   balance.Available(updated.PurchasedCredits, updated.UsageThisPeriod, cache.Allowance),
			PeriodStart:    &start,
			AccountVersion: updated.Version,
		}
		if err := r.ledger.WithTx(tx).Append(ctx, row); err != nil {
			return err
		}
		if err := accounts.UpdateSubscriptionCache(ctx, accountID, cache); err != nil {
			return err
		}
		renewal = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renewal, nil
}

func (r *Reconciler) finish(out *Reconciliation) *Reconciliation {
	r.metrics.IncReconcile(string(out.Result))
	return out
}

// cachedAllowance is the last-known allowance, zero once a non-entitled status was seen.
func cachedAllowance(acct *models.Account) int {
	if acct.SubscriptionStatus != nil && !acct.SubscriptionStatus.IsEntitled() {
		return 0
	}
	return acct.Allowance
}
