package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/pagination"
	"github.com/google/uuid"
)

// ErrInconsistent marks an account whose cached fields disagree with its ledger.
var ErrInconsistent = errors.New("ledger inconsistency")

// AccountReader loads the cached account row the audit compares against.
type AccountReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// Service exposes read and audit operations over the transaction log.
type Service interface {
	List(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerTransaction, error)
	Audit(ctx context.Context, accountID uuid.UUID) (*AuditReport, error)
}

// Divergence is one field where the cached account and the replay disagree.
type Divergence struct {
	Field    string `json:"field"`
	Cached   string `json:"cached"`
	Replayed string `json:"replayed"`
}

// AuditReport summarizes a replay of one account.
type AuditReport struct {
	AccountID   uuid.UUID    `json:"account_id"`
	State       ReplayState  `json:"-"`
	Divergences []Divergence `json:"divergences,omitempty"`
	AuditedAt   time.Time    `json:"audited_at"`
}

// Consistent reports whether no divergence was found.
func (r *AuditReport) Consistent() bool {
	return r != nil && len(r.Divergences) == 0
}

// InconsistencyError carries the report of a failed audit. It matches ErrInconsistent.
type InconsistencyError struct {
	Report *AuditReport
}

func (e *InconsistencyError) Error() string {
	fields := make([]string, 0, len(e.Report.Divergences))
	for _, d := range e.Report.Divergences {
		fields = append(fields, fmt.Sprintf("%s cached=%s replayed=%s", d.Field, d.Cached, d.Replayed))
	}
	return fmt.Sprintf("ledger inconsistency for account %s: %s", e.Report.AccountID, strings.Join(fields, "; "))
}

func (e *InconsistencyError) Is(target error) bool {
	return target == ErrInconsistent
}

type service struct {
	repo     Repository
	accounts AccountReader
	now      func() time.Time
}

// NewService wires the ledger service with its repository and the account reader.
func NewService(repo Repository, accounts AccountReader) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("account reader required")
	}
	return &service{repo: repo, accounts: accounts, now: time.Now}, nil
}

func (s *service) List(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerTransaction, error) {
	if accountID == uuid.Nil {
		return nil, fmt.Errorf("account id is required")
	}
	return s.repo.ListByAccount(ctx, accountID, pagination.NormalizeLimit(limit))
}

// Audit replays the account's history and compares it to the cached fields.
// A divergent account yields both the report and an *InconsistencyError;
// nothing is corrected.
func (s *service) Audit(ctx context.Context, accountID uuid.UUID) (*AuditReport, error) {
	if accountID == uuid.Nil {
		return nil, fmt.Errorf("account id is required")
	}
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	history, err := s.repo.History(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load ledger history: %w", err)
	}

	report := Compare(account, history)
	report.AuditedAt = s.now().UTC()
	if !report.Consistent() {
		return report, &InconsistencyError{Report: report}
	}
	return report, nil
}

// Compare replays history and lists every field that disagrees with account.
func Compare(account *models.Account, history []models.LedgerTransaction) *AuditReport {
	state := Replay(history)
	report := &AuditReport{AccountID: account.ID, State: state}
	add := func(field, cached, replayed string) {
		report.Divergences = append(report.Divergences, Divergence{Field: field, Cached: cached, Replayed: replayed})
	}

	if account.PurchasedCredits != state.Purchased {
		add("purchased_credits", strconv.Itoa(account.PurchasedCredits), strconv.Itoa(state.Purchased))
	}
	if account.UsageThisPeriod != state.Usage {
		add("usage_this_period", strconv.Itoa(account.UsageThisPeriod), strconv.Itoa(state.Usage))
	}
	if !sameInstant(account.PeriodStart, state.PeriodStart) {
		add("period_start", formatInstant(account.PeriodStart), formatInstant(state.PeriodStart))
	}
	if account.Version != state.LastVersion {
		add("version", strconv.FormatInt(account.Version, 10), strconv.FormatInt(state.LastVersion, 10))
	}

	if last := latest(history); last != nil {
		// the cached allowance only describes the last row if no refresh happened since
		if account.ReconciledAt == nil || !account.ReconciledAt.After(last.CreatedAt) {
			expected := max(0, account.Allowance-state.Usage) + state.Purchased
			if last.BalanceAfter != expected {
				add("balance_after", strconv.Itoa(last.BalanceAfter), strconv.Itoa(expected))
			}
		}
	}
	return report
}

func latest(history []models.LedgerTransaction) *models.LedgerTransaction {
	var last *models.LedgerTransaction
	for i := range history {
		txn := &history[i]
		if last == nil || txn.AccountVersion > last.AccountVersion ||
			(txn.AccountVersion == last.AccountVersion && txn.CreatedAt.After(last.CreatedAt)) {
			last = txn
		}
	}
	return last
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

func formatInstant(t *time.Time) string {
	if t == nil {
		return "null"
	}
	return t.UTC().Format(time.RFC3339Nano)
}
