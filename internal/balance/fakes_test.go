package balance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/quickbrush-backend/internal/ledger"
	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// memStore keeps accounts and ledger rows behind one mutex so a conditional
// update plus its ledger append behave like a single transaction.
type memStore struct {
	mu        sync.Mutex
	accounts  map[uuid.UUID]models.Account
	txns      []models.LedgerTransaction
	conflicts int
	appendErr error
}

func newMemStore(accounts ...models.Account) *memStore {
	s := &memStore{accounts: map[uuid.UUID]models.Account{}}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *memStore) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[uuid.UUID]models.Account, len(s.accounts))
	for k, v := range s.accounts {
		snapshot[k] = v
	}
	txnCount := len(s.txns)
	if err := fn(nil); err != nil {
		s.accounts = snapshot
		s.txns = s.txns[:txnCount]
		return err
	}
	return nil
}

func (s *memStore) account(id uuid.UUID) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *memStore) ledgerRows() []models.LedgerTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LedgerTransaction, len(s.txns))
	copy(out, s.txns)
	return out
}

type memAccounts struct{ store *memStore }

func (r memAccounts) WithTx(*gorm.DB) Repository { return r }

func (r memAccounts) Create(ctx context.Context, account *models.Account) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.accounts[account.ID] = *account
	return nil
}

// Get must not be called from inside WithTx.
func (r memAccounts) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	a, ok := r.store.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

// CompareAndSwapCounters is always invoked with the store lock held by WithTx.
func (r memAccounts) CompareAndSwapCounters(ctx context.Context, u CounterUpdate) (bool, error) {
	if r.store.conflicts > 0 {
		r.store.conflicts--
		return false, nil
	}
	a, ok := r.store.accounts[u.AccountID]
	if !ok || a.Version != u.ExpectedVersion {
		return false, nil
	}
	a.PurchasedCredits = u.Purchased
	a.UsageThisPeriod = u.Usage
	a.Version++
	r.store.accounts[u.AccountID] = a
	return true, nil
}

func (r memAccounts) RolloverPeriod(context.Context, uuid.UUID, time.Time, *time.Time) (*models.Account, error) {
	return nil, errors.New("not implemented")
}

func (r memAccounts) UpdateSubscriptionCache(context.Context, uuid.UUID, SubscriptionCache) error {
	return nil
}

func (r memAccounts) ClearSubscription(context.Context, uuid.UUID, enums.SubscriptionStatus, time.Time) error {
	return nil
}

func (r memAccounts) ListStaleSubscriptions(context.Context, time.Time, int) ([]models.Account, error) {
	return nil, nil
}

func (r memAccounts) ListUpdatedSince(context.Context, time.Time, int) ([]models.Account, error) {
	return nil, nil
}

type memLedger struct{ store *memStore }

func (l memLedger) WithTx(*gorm.DB) ledger.Repository { return l }

// Append is always invoked with the store lock held by WithTx.
func (l memLedger) Append(ctx context.Context, txn *models.LedgerTransaction) error {
	if l.store.appendErr != nil {
		return l.store.appendErr
	}
	if err := ledger.Validate(txn); err != nil {
		return err
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	txn.CreatedAt = time.Now().UTC()
	l.store.txns = append(l.store.txns, *txn)
	return nil
}

func (l memLedger) FindByExternalRef(ctx context.Context, ref string) (*models.LedgerTransaction, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	for _, txn := range l.store.txns {
		if txn.ExternalRef != nil && *txn.ExternalRef == ref {
			found := txn
			return &found, nil
		}
	}
	return nil, nil
}

func (l memLedger) ListByAccount(context.Context, uuid.UUID, int) ([]models.LedgerTransaction, error) {
	return nil, nil
}

func (l memLedger) History(ctx context.Context, accountID uuid.UUID) ([]models.LedgerTransaction, error) {
	var out []models.LedgerTransaction
	for _, txn := range l.store.ledgerRows() {
		if txn.AccountID == accountID {
			out = append(out, txn)
		}
	}
	return out, nil
}

func newMemService(store *memStore, opts ...Option) Service {
	svc, err := NewService(memAccounts{store: store}, memLedger{store: store}, store, opts...)
	if err != nil {
		panic(err)
	}
	return svc
}
