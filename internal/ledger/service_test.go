package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	"github.com/angelmondragon/quickbrush-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type fakeRepository struct {
	history   []models.LedgerTransaction
	lastLimit int
}

func (f *fakeRepository) WithTx(*gorm.DB) Repository { return f }

func (f *fakeRepository) Append(ctx context.Context, txn *models.LedgerTransaction) error {
	f.history = append(f.history, *txn)
	return nil
}

func (f *fakeRepository) FindByExternalRef(context.Context, string) (*models.LedgerTransaction, error) {
	return nil, nil
}

func (f *fakeRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerTransaction, error) {
	f.lastLimit = limit
	return f.history, nil
}

func (f *fakeRepository) History(context.Context, uuid.UUID) ([]models.LedgerTransaction, error) {
	return f.history, nil
}

type fakeAccounts struct {
	account *models.Account
	err     error
}

func (f *fakeAccounts) Get(context.Context, uuid.UUID) (*models.Account, error) {
	return f.account, f.err
}

func consistentFixture() (*models.Account, []models.LedgerTransaction) {
	id := uuid.New()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	reconciled := start.Add(-time.Minute)
	account := &models.Account{
		ID:               id,
		PurchasedCredits: 0,
		UsageThisPeriod:  5,
		Allowance:        5,
		PeriodStart:      &start,
		ReconciledAt:     &reconciled,
		Version:          4,
	}
	history := []models.LedgerTransaction{
		{AccountID: id, Type: enums.TransactionTypePurchase, Amount: 2, BalanceAfter: 2, AccountVersion: 1, CreatedAt: start.Add(-time.Hour)},
		{AccountID: id, Type: enums.TransactionTypeRenewal, Amount: 5, BalanceAfter: 7, PeriodStart: &start, AccountVersion: 2, CreatedAt: start},
		{AccountID: id, Type: enums.TransactionTypeUsage, Amount: -4, FromAllowance: 4, BalanceAfter: 3, AccountVersion: 3, CreatedAt: start.Add(time.Hour)},
		{AccountID: id, Type: enums.TransactionTypeUsage, Amount: -3, FromAllowance: 1, FromPurchased: 2, BalanceAfter: 0, AccountVersion: 4, CreatedAt: start.Add(2 * time.Hour)},
	}
	return account, history
}

func TestAuditConsistentAccount(t *testing.T) {
	account, history := consistentFixture()
	svc, err := NewService(&fakeRepository{history: history}, &fakeAccounts{account: account})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	report, err := svc.Audit(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("expected consistent audit, got %v", err)
	}
	if !report.Consistent() || report.State.Transactions != 4 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestAuditReportsEveryDivergence(t *testing.T) {
	account, history := consistentFixture()
	account.PurchasedCredits = 9
	account.UsageThisPeriod = 1
	svc, _ := NewService(&fakeRepository{history: history}, &fakeAccounts{account: account})

	report, err := svc.Audit(context.Background(), account.ID)
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
	var inconsistency *InconsistencyError
	if !errors.As(err, &inconsistency) || inconsistency.Report != report {
		t.Fatalf("expected error to carry the report")
	}
	fields := map[string]bool{}
	for _, d := range report.Divergences {
		fields[d.Field] = true
	}
	if !fields["purchased_credits"] || !fields["usage_this_period"] {
		t.Fatalf("expected purchased and usage divergences, got %+v", report.Divergences)
	}
	if account.PurchasedCredits != 9 {
		t.Fatal("audit must not correct the account")
	}
}

func TestAuditDetectsUnloggedVersionBump(t *testing.T) {
	account, history := consistentFixture()
	account.Version = 5
	svc, _ := NewService(&fakeRepository{history: history}, &fakeAccounts{account: account})

	report, err := svc.Audit(context.Background(), account.ID)
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected inconsistency, got %v", err)
	}
	if len(report.Divergences) != 1 || report.Divergences[0].Field != "version" {
		t.Fatalf("expected single version divergence, got %+v", report.Divergences)
	}
}

func TestAuditChecksBalanceAfterOnlyWithoutLaterRefresh(t *testing.T) {
	account, history := consistentFixture()
	history[3].BalanceAfter = 4

	svc, _ := NewService(&fakeRepository{history: history}, &fakeAccounts{account: account})
	if _, err := svc.Audit(context.Background(), account.ID); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected balance_after divergence, got %v", err)
	}

	refreshed := history[3].CreatedAt.Add(time.Minute)
	account.ReconciledAt = &refreshed
	account.Allowance = 9
	if _, err := svc.Audit(context.Background(), account.ID); err != nil {
		t.Fatalf("allowance refreshed after last row should skip balance_after check, got %v", err)
	}
}

func TestAuditPropagatesLoadErrors(t *testing.T) {
	svc, _ := NewService(&fakeRepository{}, &fakeAccounts{err: errors.New("db down")})
	if _, err := svc.Audit(context.Background(), uuid.New()); err == nil || errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected load error, got %v", err)
	}
	if _, err := svc.Audit(context.Background(), uuid.Nil); err == nil {
		t.Fatal("expected account id error")
	}
}

func TestListClampsLimit(t *testing.T) {
	repo := &fakeRepository{}
	svc, _ := NewService(repo, &fakeAccounts{})

	if _, err := svc.List(context.Background(), uuid.New(), 0); err != nil {
		t.Fatalf("list: %v", err)
	}
	if repo.lastLimit != pagination.DefaultLimit {
		t.Fatalf("expected default limit, got %d", repo.lastLimit)
	}
	if _, err := svc.List(context.Background(), uuid.New(), 1000); err != nil {
		t.Fatalf("list: %v", err)
	}
	if repo.lastLimit != pagination.MaxLimit {
		t.Fatalf("expected max limit, got %d", repo.lastLimit)
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(nil, &fakeAccounts{}); err == nil {
		t.Fatal("expected repository error")
	}
	if _, err := NewService(&fakeRepository{}, nil); err == nil {
		t.Fatal("expected account reader error")
	}
}
