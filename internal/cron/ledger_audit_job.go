package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/quickbrush-backend/internal/ledger"
	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
	"github.com/angelmondragon/quickbrush-backend/pkg/metrics"
)

const (
	defaultAuditLimit    = 500
	defaultAuditLookback = 2 * time.Hour
)

type recentAccountLister interface {
	ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]models.Account, error)
}

type ledgerAuditor interface {
	Audit(ctx context.Context, accountID uuid.UUID) (*ledger.AuditReport, error)
}

// LedgerAuditJobParams configures the ledger audit job.
type LedgerAuditJobParams struct {
	Logger   *logger.Logger
	Accounts recentAccountLister
	Auditor  ledgerAuditor
	Metrics  *metrics.BillingMetrics
	Limit    int
	Lookback time.Duration
	Now      func() time.Time
}

// NewLedgerAuditJob builds the job that replays recently touched accounts
// and reports any divergence. It never corrects an account.
func NewLedgerAuditJob(params LedgerAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("account repository required")
	}
	if params.Auditor == nil {
		return nil, fmt.Errorf("ledger auditor required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultAuditLookback
	}
	return &ledgerAuditJob{
		logg:     params.Logger,
		accounts: params.Accounts,
		auditor:  params.Auditor,
		metrics:  params.Metrics,
		limit:    limit,
		lookback: lookback,
		now:      now,
	}, nil
}

type ledgerAuditJob struct {
	logg     *logger.Logger
	accounts recentAccountLister
	auditor  ledgerAuditor
	metrics  *metrics.BillingMetrics
	limit    int
	lookback time.Duration
	now      func() time.Time
}

func (j *ledgerAuditJob) Name() string { return "ledger-audit" }

func (j *ledgerAuditJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.lookback)
	accounts, err := j.accounts.ListUpdatedSince(ctx, since, j.limit)
	if err != nil {
		return fmt.Errorf("list recently updated accounts: %w", err)
	}

	var errs error
	inconsistent := 0
	for _, acct := range accounts {
		_, err := j.auditor.Audit(ctx, acct.ID)
		if err == nil {
			continue
		}
		var divergent *ledger.InconsistencyError
		if errors.As(err, &divergent) {
			inconsistent++
			j.metrics.IncInconsistency()
			j.logg.Error(j.logg.WithFields(ctx, map[string]any{
				"event":       "ledger.audit.inconsistent",
				"account_id":  acct.ID.String(),
				"divergences": divergent.Report.Divergences,
			}), "ledger inconsistency requires manual reconciliation", err)
		}
		errs = multierr.Append(errs, err)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"audited":      len(accounts),
		"inconsistent": inconsistent,
	}), "ledger audit loop complete")
	return errs
}
