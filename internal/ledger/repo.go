package ledger

import (
	"context"
	"errors"

	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository manages persistence for ledger transactions. Rows are only ever
// inserted; there is no update or delete path.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, txn *models.LedgerTransaction) error
	FindByExternalRef(ctx context.Context, ref string) (*models.LedgerTransaction, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerTransaction, error)
	History(ctx context.Context, accountID uuid.UUID) ([]models.LedgerTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Append(ctx context.Context, txn *models.LedgerTransaction) error {
	if err := Validate(txn); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

// FindByExternalRef returns nil without error when no row carries ref.
func (r *repository) FindByExternalRef(ctx context.Context, ref string) (*models.LedgerTransaction, error) {
	var txn models.LedgerTransaction
	if err := r.db.WithContext(ctx).Where("external_ref = ?", ref).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// ListByAccount returns the newest transactions first.
func (r *repository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerTransaction, error) {
	var txns []models.LedgerTransaction
	q := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("account_version DESC").
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// History returns every transaction for the account in replay order.
func (r *repository) History(ctx context.Context, accountID uuid.UUID) ([]models.LedgerTransaction, error) {
	var txns []models.LedgerTransaction
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("account_version ASC").
		Order("created_at ASC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}
