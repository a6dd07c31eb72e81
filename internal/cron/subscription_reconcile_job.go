package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/quickbrush-backend/internal/billing"
	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
)

const (
	defaultReconcileLimit    = 250
	defaultReconcileLookback = 24 * time.Hour
)

type staleSubscriptionLister interface {
	ListStaleSubscriptions(ctx context.Context, reconciledBefore time.Time, limit int) ([]models.Account, error)
}

type accountReconciler interface {
	ReconcileAccount(ctx context.Context, acct *models.Account) *billing.Reconciliation
}

// SubscriptionReconcileJobParams configures the subscription refresh job.
type SubscriptionReconcileJobParams struct {
	Logger     *logger.Logger
	Accounts   staleSubscriptionLister
	Reconciler accountReconciler
	Limit      int
	Lookback   time.Duration
	Now        func() time.Time
}

// NewSubscriptionReconcileJob builds the job that refreshes subscription
// caches before a request has to.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("account repository required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &subscriptionReconcileJob{
		logg:       params.Logger,
		accounts:   params.Accounts,
		reconciler: params.Reconciler,
		now:        now,
		limit:      limit,
		lookback:   lookback,
	}, nil
}

type subscriptionReconcileJob struct {
	logg       *logger.Logger
	accounts   staleSubscriptionLister
	reconciler accountReconciler
	now        func() time.Time
	limit      int
	lookback   time.Duration
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

// Run reconciles accounts whose cache is older than the lookback. Provider
// outages are collected so the cycle is reported failed; the remaining
// accounts are still processed.
func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.lookback)
	candidates, err := j.accounts.ListStaleSubscriptions(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("list stale subscriptions: %w", err)
	}

	var errs error
	results := map[billing.Result]int{}
	for i := range candidates {
		out := j.reconciler.ReconcileAccount(ctx, &candidates[i])
		results[out.Result]++
		if out.Warning != nil {
			errs = multierr.Append(errs, fmt.Errorf("account %s: %w", out.AccountID, out.Warning))
		}
	}

	fields := map[string]any{"candidates": len(candidates)}
	for result, n := range results {
		fields[string(result)] = n
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "subscription reconcile loop complete")
	return errs
}
