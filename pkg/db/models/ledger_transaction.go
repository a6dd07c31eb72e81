package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
)

// LedgerTransaction is an immutable balance-affecting event. AccountVersion
// is the account version produced by the paired mutation and orders replay.
type LedgerTransaction struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	AccountID      uuid.UUID             `gorm:"column:account_id;type:uuid;not null;index:idx_ledger_transactions_account_created,priority:1"`
	Type           enums.TransactionType `gorm:"column:type;type:ledger_transaction_type;not null"`
	Amount         int                   `gorm:"column:amount;not null"`
	BalanceAfter   int                   `gorm:"column:balance_after;not null"`
	ArtifactID     *uuid.UUID            `gorm:"column:artifact_id;type:uuid"`
	FromAllowance  int                   `gorm:"column:from_allowance;not null;default:0"`
	FromPurchased  int                   `gorm:"column:from_purchased;not null;default:0"`
	PeriodStart    *time.Time            `gorm:"column:period_start"`
	ExternalRef    *string               `gorm:"column:external_ref;uniqueIndex"`
	Note           *string               `gorm:"column:note"`
	AccountVersion int64                 `gorm:"column:account_version;not null"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime;index:idx_ledger_transactions_account_created,priority:2"`
}

func (t *LedgerTransaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
