package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
)

// Artifact is an archived generation result. Evicted rows keep their metadata
// but lose PayloadKey.
type Artifact struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	AccountID      uuid.UUID            `gorm:"column:account_id;type:uuid;not null;index:idx_artifacts_account_created_status,priority:1"`
	Status         enums.ArtifactStatus `gorm:"column:status;type:artifact_status;not null;default:'completed';index:idx_artifacts_account_created_status,priority:3"`
	PayloadKey     *string              `gorm:"column:payload_key"`
	ContentType    string               `gorm:"column:content_type;not null"`
	SizeBytes      int64                `gorm:"column:size_bytes;not null;default:0"`
	Cost           int                  `gorm:"column:cost;not null;default:0"`
	Quality        enums.ImageQuality   `gorm:"column:quality;not null"`
	GenerationType enums.GenerationType `gorm:"column:generation_type;not null"`
	Description    string               `gorm:"column:description;not null"`
	EvictedAt      *time.Time           `gorm:"column:evicted_at"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime;index:idx_artifacts_account_created_status,priority:2"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Artifact) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
