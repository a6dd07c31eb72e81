package balance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/quickbrush-backend/internal/ledger"
	"github.com/angelmondragon/quickbrush-backend/pkg/db"
	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultMaxAttempts = 5

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConcurrentUpdate    = errors.New("concurrent account update")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("amount must be positive")

	errVersionConflict = errors.New("account version changed")
)

// InsufficientBalanceError reports the exact shortfall. It matches ErrInsufficientBalance.
type InsufficientBalanceError struct {
	Required  int
	Available int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// View is the typed balance snapshot for an account under a given allowance.
type View struct {
	Available int `json:"available"`
	Purchased int `json:"purchased"`
	Usage     int `json:"usage_this_period"`
	Allowance int `json:"allowance"`
}

// DebitInput charges Amount against the account, allowance first.
type DebitInput struct {
	AccountID  uuid.UUID
	Amount     int
	Allowance  int
	ArtifactID *uuid.UUID
}

// CreditInput adds Amount to purchased credits. ExternalRef makes the credit idempotent.
type CreditInput struct {
	AccountID   uuid.UUID
	Amount      int
	Kind        enums.TransactionType
	ExternalRef *string
	Note        *string
}

// Mutation is the outcome of a successful debit or credit.
type Mutation struct {
	Transaction models.LedgerTransaction
	Balance     View
	// Duplicate is set when a credit's external ref was already applied.
	Duplicate bool
}

// Service owns every write to the balance counters.
type Service interface {
	Balance(ctx context.Context, accountID uuid.UUID, allowance int) (*View, error)
	Debit(ctx context.Context, input DebitInput) (*Mutation, error)
	Credit(ctx context.Context, input CreditInput) (*Mutation, error)
}

type service struct {
	accounts    Repository
	ledger      ledger.Repository
	tx          txRunner
	maxAttempts int
}

// Option tunes the balance service.
type Option func(*service)

// WithMaxAttempts bounds how many times a conditional update is retried.
func WithMaxAttempts(n int) Option {
	return func(s *service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewService wires the balance service with its repositories and transaction runner.
func NewService(accounts Repository, ledgerRepo ledger.Repository, tx txRunner, opts ...Option) (Service, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account repository required")
	}
	if ledgerRepo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	s := &service{accounts: accounts, ledger: ledgerRepo, tx: tx, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) Balance(ctx context.Context, accountID uuid.UUID, allowance int) (*View, error) {
	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	view := viewOf(account.PurchasedCredits, account.UsageThisPeriod, allowance)
	return &view, nil
}

// Debit applies a conditional counter update and its usage row in one
// transaction, retrying on version conflicts.
func (s *service) Debit(ctx context.Context, input DebitInput) (*Mutation, error) {
	if input.AccountID == uuid.Nil {
		return nil, fmt.Errorf("account id is required")
	}
	if input.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		account, err := s.accounts.Get(ctx, input.AccountID)
		if err != nil {
			return nil, err
		}

		remaining := input.Allowance - account.UsageThisPeriod
		fromAllowance, fromPurchased := Allocate(input.Amount, remaining, account.PurchasedCredits)
		if fromAllowance+fromPurchased < input.Amount {
			return nil, &InsufficientBalanceError{
				Required:  input.Amount,
				Available: AvailableFor(account, input.Allowance),
			}
		}

		purchased := account.PurchasedCredits - fromPurchased
		usage := account.UsageThisPeriod + fromAllowance
		view := viewOf(purchased, usage, input.Allowance)
		txn := models.LedgerTransaction{
			AccountID:      input.AccountID,
			Type:           enums.TransactionTypeUsage,
			Amount:         -input.Amount,
			BalanceAfter:   view.Available,
			ArtifactID:     input.ArtifactID,
			FromAllowance:  fromAllowance,
			FromPurchased:  fromPurchased,
			AccountVersion: account.Version + 1,
		}

		err = s.apply(ctx, CounterUpdate{
			AccountID:       input.AccountID,
			ExpectedVersion: account.Version,
			Purchased:       purchased,
			Usage:           usage,
		}, &txn)
		if errors.Is(err, errVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("debit account %s: %w", input.AccountID, err)
		}
		return &Mutation{Transaction: txn, Balance: view}, nil
	}
	return nil, ErrConcurrentUpdate
}

// Credit adds to purchased credits only. A credit whose external ref was
// already recorded returns the original row with Duplicate set.
func (s *service) Credit(ctx context.Context, input CreditInput) (*Mutation, error) {
	if input.AccountID == uuid.Nil {
		return nil, fmt.Errorf("account id is required")
	}
	if input.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !input.Kind.IsCredit() {
		return nil, fmt.Errorf("credit kind %q not allowed", input.Kind)
	}
	if input.ExternalRef != nil {
		ref := strings.TrimSpace(*input.ExternalRef)
		if ref == "" {
			input.ExternalRef = nil
		} else {
			input.ExternalRef = &ref
			if dup, err := s.duplicateCredit(ctx, ref); dup != nil || err != nil {
				return dup, err
			}
		}
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		account, err := s.accounts.Get(ctx, input.AccountID)
		if err != nil {
			return nil, err
		}

		purchased := account.PurchasedCredits + input.Amount
		view := viewOf(purchased, account.UsageThisPeriod, account.Allowance)
		txn := models.LedgerTransaction{
			AccountID:      input.AccountID,
			Type:           input.Kind,
			Amount:         input.Amount,
			BalanceAfter:   view.Available,
			ExternalRef:    input.ExternalRef,
			Note:           input.Note,
			AccountVersion: account.Version + 1,
		}

		err = s.apply(ctx, CounterUpdate{
			AccountID:       input.AccountID,
			ExpectedVersion: account.Version,
			Purchased:       purchased,
			Usage:           account.UsageThisPeriod,
		}, &txn)
		if errors.Is(err, errVersionConflict) {
			continue
		}
		if err != nil {
			if input.ExternalRef != nil && db.IsUniqueViolation(err, "") {
				if dup, dupErr := s.duplicateCredit(ctx, *input.ExternalRef); dup != nil {
					return dup, nil
				} else if dupErr != nil {
					return nil, dupErr
				}
			}
			return nil, fmt.Errorf("credit account %s: %w", input.AccountID, err)
		}
		return &Mutation{Transaction: txn, Balance: view}, nil
	}
	return nil, ErrConcurrentUpdate
}

func (s *service) apply(ctx context.Context, update CounterUpdate, txn *models.LedgerTransaction) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		swapped, err := s.accounts.WithTx(tx).CompareAndSwapCounters(ctx, update)
		if err != nil {
			return err
		}
		if !swapped {
			return errVersionConflict
		}
		return s.ledger.WithTx(tx).Append(ctx, txn)
	})
}

func (s *service) duplicateCredit(ctx context.Context, ref string) (*Mutation, error) {
	existing, err := s.ledger.FindByExternalRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("lookup external ref: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	account, err := s.accounts.Get(ctx, existing.AccountID)
	if err != nil {
		return nil, err
	}
	return &Mutation{
		Transaction: *existing,
		Balance:     viewOf(account.PurchasedCredits, account.UsageThisPeriod, account.Allowance),
		Duplicate:   true,
	}, nil
}

func viewOf(purchased, usage, allowance int) View {
	return View{
		Available: Available(purchased, usage, allowance),
		Purchased: purchased,
		Usage:     usage,
		Allowance: allowance,
	}
}
