package ledger

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	"github.com/google/uuid"
)

// ErrInvalidTransaction wraps every shape violation rejected by Validate.
var ErrInvalidTransaction = errors.New("invalid ledger transaction")

// Validate checks the per-type shape of a row before it is appended.
func Validate(txn *models.LedgerTransaction) error {
	if txn == nil {
		return fmt.Errorf("%w: nil transaction", ErrInvalidTransaction)
	}
	if txn.AccountID == uuid.Nil {
		return fmt.Errorf("%w: account id required", ErrInvalidTransaction)
	}
	if !txn.Type.IsValid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, txn.Type)
	}
	if txn.AccountVersion <= 0 {
		return fmt.Errorf("%w: account version required", ErrInvalidTransaction)
	}
	if txn.BalanceAfter < 0 {
		return fmt.Errorf("%w: negative balance_after %d", ErrInvalidTransaction, txn.BalanceAfter)
	}

	switch {
	case txn.Type.IsCredit():
		if txn.Amount <= 0 {
			return fmt.Errorf("%w: %s amount must be positive", ErrInvalidTransaction, txn.Type)
		}
		if txn.FromAllowance != 0 || txn.FromPurchased != 0 {
			return fmt.Errorf("%w: %s cannot carry an allocation split", ErrInvalidTransaction, txn.Type)
		}
	case txn.Type == enums.TransactionTypeUsage:
		if txn.Amount >= 0 {
			return fmt.Errorf("%w: usage amount must be negative", ErrInvalidTransaction)
		}
		if txn.FromAllowance < 0 || txn.FromPurchased < 0 || txn.FromAllowance+txn.FromPurchased != -txn.Amount {
			return fmt.Errorf("%w: usage split %d+%d does not cover %d", ErrInvalidTransaction, txn.FromAllowance, txn.FromPurchased, -txn.Amount)
		}
	case txn.Type == enums.TransactionTypeRenewal:
		if txn.Amount < 0 {
			return fmt.Errorf("%w: renewal amount must not be negative", ErrInvalidTransaction)
		}
		if txn.PeriodStart == nil {
			return fmt.Errorf("%w: renewal requires period_start", ErrInvalidTransaction)
		}
	}
	return nil
}
