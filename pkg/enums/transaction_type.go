package enums

import "fmt"

// TransactionType maps to the ledger_transaction_type_enum enum in Postgres.
type TransactionType string

const (
	TransactionTypePurchase    TransactionType = "purchase"
	TransactionTypeUsage       TransactionType = "usage"
	TransactionTypeRenewal     TransactionType = "renewal"
	TransactionTypeRefund      TransactionType = "refund"
	TransactionTypeAdminAdjust TransactionType = "admin_adjust"
)

var validTransactionTypes = []TransactionType{
	TransactionTypePurchase,
	TransactionTypeUsage,
	TransactionTypeRenewal,
	TransactionTypeRefund,
	TransactionTypeAdminAdjust,
}

// IsValid reports whether the value matches the canonical transaction enum.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsCredit reports whether the type adds to purchased credits.
func (t TransactionType) IsCredit() bool {
	switch t {
	case TransactionTypePurchase, TransactionTypeRefund, TransactionTypeAdminAdjust:
		return true
	}
	return false
}

// ParseTransactionType converts raw input into TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}
