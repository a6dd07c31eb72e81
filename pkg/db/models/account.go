package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
)

// Account holds the cached brushstroke balance for a resolved identity.
// Version is bumped by every balance or period mutation and guards
// conditional updates.
type Account struct {
	ID                 uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	Email              string                    `gorm:"column:email;not null"`
	PurchasedCredits   int                       `gorm:"column:purchased_credits;not null;default:0"`
	UsageThisPeriod    int                       `gorm:"column:usage_this_period;not null;default:0"`
	SubscriptionRef    *string                   `gorm:"column:subscription_ref"`
	SubscriptionStatus *enums.SubscriptionStatus `gorm:"column:subscription_status"`
	Allowance          int                       `gorm:"column:allowance;not null;default:0"`
	PeriodStart        *time.Time                `gorm:"column:period_start"`
	PeriodEnd          *time.Time                `gorm:"column:period_end"`
	ReconciledAt       *time.Time                `gorm:"column:reconciled_at"`
	Version            int64                     `gorm:"column:version;not null;default:0"`
	CreatedAt          time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Account) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// HasSubscription reports whether a provider subscription is linked.
func (a *Account) HasSubscription() bool {
	return a != nil && a.SubscriptionRef != nil && *a.SubscriptionRef != ""
}
