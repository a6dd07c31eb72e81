package ledger

import (
	"sort"
	"time"

	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
)

// ReplayState is the account state implied by its transaction history.
type ReplayState struct {
	Purchased    int
	Usage        int
	PeriodStart  *time.Time
	Transactions int
	LastVersion  int64
}

// Replay folds transactions into the balance counters they imply. Input may be
// in any order; rows are folded by account version, then creation time.
func Replay(txns []models.LedgerTransaction) ReplayState {
	ordered := make([]models.LedgerTransaction, len(txns))
	copy(ordered, txns)
	sortForReplay(ordered)

	var state ReplayState
	for _, txn := range ordered {
		switch {
		case txn.Type.IsCredit():
			state.Purchased += txn.Amount
		case txn.Type == enums.TransactionTypeUsage:
			state.Purchased -= txn.FromPurchased
			state.Usage += txn.FromAllowance
		case txn.Type == enums.TransactionTypeRenewal:
			state.Usage = 0
			if txn.PeriodStart != nil {
				start := txn.PeriodStart.UTC()
				state.PeriodStart = &start
			}
		}
		state.Transactions++
		state.LastVersion = txn.AccountVersion
	}
	return state
}

func sortForReplay(txns []models.LedgerTransaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		if txns[i].AccountVersion != txns[j].AccountVersion {
			return txns[i].AccountVersion < txns[j].AccountVersion
		}
		return txns[i].CreatedAt.Before(txns[j].CreatedAt)
	})
}
