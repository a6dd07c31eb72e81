package balance

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/angelmondragon/quickbrush-backend/internal/ledger"
	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/google/uuid"
)

// Concurrent debits race on the same account; the conditional update must
// never let the combined spend exceed what was available.
func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		allowance := rng.Intn(20)
		acct := models.Account{
			ID:               uuid.New(),
			PurchasedCredits: rng.Intn(30),
			UsageThisPeriod:  rng.Intn(allowance + 1),
		}
		initial := AvailableFor(&acct, allowance)

		store := newMemStore(acct)
		svc := newMemService(store, WithMaxAttempts(1000))

		workers := 16 + rng.Intn(16)
		amounts := make([]int, workers)
		for i := range amounts {
			amounts[i] = 1 + rng.Intn(5)
		}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			charged int
		)
		start := make(chan struct{})
		for _, amount := range amounts {
			wg.Add(1)
			go func(amount int) {
				defer wg.Done()
				<-start
				_, err := svc.Debit(context.Background(), DebitInput{AccountID: acct.ID, Amount: amount, Allowance: allowance})
				switch {
				case err == nil:
					mu.Lock()
					charged += amount
					mu.Unlock()
				case errors.Is(err, ErrInsufficientBalance):
				default:
					t.Errorf("seed %d: unexpected error %v", seed, err)
				}
			}(amount)
		}
		close(start)
		wg.Wait()

		stored := store.account(acct.ID)
		if charged > initial {
			t.Fatalf("seed %d: charged %d exceeds initial balance %d", seed, charged, initial)
		}
		if stored.PurchasedCredits < 0 || stored.UsageThisPeriod > max(allowance, acct.UsageThisPeriod) {
			t.Fatalf("seed %d: counters out of range %+v", seed, stored)
		}
		if got := AvailableFor(&stored, allowance); got != initial-charged {
			t.Fatalf("seed %d: expected remaining %d, got %d", seed, initial-charged, got)
		}

		rows := store.ledgerRows()
		spent := 0
		for _, row := range rows {
			spent -= row.Amount
		}
		if spent != charged {
			t.Fatalf("seed %d: ledger records %d spent, callers saw %d", seed, spent, charged)
		}
		replayed := ledger.Replay(rows)
		if replayed.LastVersion != stored.Version || len(rows) != int(stored.Version) {
			t.Fatalf("seed %d: every version bump needs exactly one row (rows=%d version=%d)", seed, len(rows), stored.Version)
		}
	}
}
