package balance

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CounterUpdate is a conditional write of the balance counters. It applies only
// when the stored version still equals ExpectedVersion and bumps it by one.
type CounterUpdate struct {
	AccountID       uuid.UUID
	ExpectedVersion int64
	Purchased       int
	Usage           int
}

// SubscriptionCache carries the provider state mirrored on the account.
type SubscriptionCache struct {
	Status       *enums.SubscriptionStatus
	Allowance    int
	PeriodEnd    *time.Time
	ReconciledAt time.Time
}

// Repository persists accounts. Writes that change counters or the period go
// through conditional updates; cache writes do not bump the version.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, account *models.Account) error
	Get(ctx context.Context, id uuid.UUID) (*models.Account, error)
	CompareAndSwapCounters(ctx context.Context, update CounterUpdate) (bool, error)
	RolloverPeriod(ctx context.Context, id uuid.UUID, periodStart time.Time, periodEnd *time.Time) (*models.Account, error)
	UpdateSubscriptionCache(ctx context.Context, id uuid.UUID, cache SubscriptionCache) error
	ClearSubscription(ctx context.Context, id uuid.UUID, status enums.SubscriptionStatus, reconciledAt time.Time) error
	ListStaleSubscriptions(ctx context.Context, reconciledBefore time.Time, limit int) ([]models.Account, error)
	ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]models.Account, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an account repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) CompareAndSwapCounters(ctx context.Context, update CounterUpdate) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND version = ?", update.AccountID, update.ExpectedVersion).
		Updates(map[string]any{
			"purchased_credits": update.Purchased,
			"usage_this_period": update.Usage,
			"version":           update.ExpectedVersion + 1,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RolloverPeriod resets usage and moves period_start forward only when the
// stored period is older. It returns the updated account, or nil when another
// writer already applied this (or a newer) period.
func (r *repository) RolloverPeriod(ctx context.Context, id uuid.UUID, periodStart time.Time, periodEnd *time.Time) (*models.Account, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND (period_start IS NULL OR period_start < ?)", id, periodStart).
		Updates(map[string]any{
			"usage_this_period": 0,
			"period_start":      periodStart,
			"period_end":        periodEnd,
			"version":           gorm.Expr("version + 1"),
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.Get(ctx, id)
}

func (r *repository) UpdateSubscriptionCache(ctx context.Context, id uuid.UUID, cache SubscriptionCache) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"subscription_status": cache.Status,
			"allowance":           cache.Allowance,
			"period_end":          cache.PeriodEnd,
			"reconciled_at":       cache.ReconciledAt,
		}).Error
}

// ClearSubscription drops the subscription ref and keeps the observed
// non-entitled status.
func (r *repository) ClearSubscription(ctx context.Context, id uuid.UUID, status enums.SubscriptionStatus, reconciledAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"subscription_ref":    nil,
			"subscription_status": status,
			"allowance":           0,
			"reconciled_at":       reconciledAt,
		}).Error
}

func (r *repository) ListStaleSubscriptions(ctx context.Context, reconciledBefore time.Time, limit int) ([]models.Account, error) {
	var accounts []models.Account
	q := r.db.WithContext(ctx).
		Where("subscription_ref IS NOT NULL").
		Where("reconciled_at IS NULL OR reconciled_at < ?", reconciledBefore).
		Order("reconciled_at ASC NULLS FIRST")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repository) ListUpdatedSince(ctx context.Context, since time.Time, limit int) ([]models.Account, error) {
	var accounts []models.Account
	q := r.db.WithContext(ctx).
		Where("updated_at >= ?", since).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}
