package archive

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	"github.com/angelmondragon/quickbrush-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// evictBatch bounds how many rows one eviction pass transitions.
const evictBatch = 500

// Repository persists artifact metadata. Payload bytes live in the blob store.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, artifact *models.Artifact) error
	Get(ctx context.Context, accountID, id uuid.UUID) (*models.Artifact, error)
	CountCompleted(ctx context.Context, accountID uuid.UUID) (int, error)
	BeyondNewest(ctx context.Context, accountID uuid.UUID, keep int) ([]models.Artifact, error)
	MarkEvicted(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error)
	MarkUnbilled(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts listQuery) ([]models.Artifact, error)
}

type listQuery struct {
	accountID uuid.UUID
	limit     int
	cursor    *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the artifact repository to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, artifact *models.Artifact) error {
	return r.db.WithContext(ctx).Create(artifact).Error
}

// Get is scoped to the owner; another account's artifact is not found.
func (r *repository) Get(ctx context.Context, accountID, id uuid.UUID) (*models.Artifact, error) {
	var artifact models.Artifact
	if err := r.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		First(&artifact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &artifact, nil
}

func (r *repository) CountCompleted(ctx context.Context, accountID uuid.UUID) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Artifact{}).
		Where("account_id = ? AND status = ?", accountID, enums.ArtifactStatusCompleted).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// BeyondNewest returns completed artifacts outside the newest keep, oldest last.
func (r *repository) BeyondNewest(ctx context.Context, accountID uuid.UUID, keep int) ([]models.Artifact, error) {
	var rows []models.Artifact
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, enums.ArtifactStatusCompleted).
		Order("created_at DESC").
		Order("id DESC").
		Offset(keep).
		Limit(evictBatch).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkEvicted drops the payload reference of still-completed rows.
func (r *repository) MarkEvicted(ctx context.Context, ids []uuid.UUID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Artifact{}).
		Where("id IN ? AND status = ?", ids, enums.ArtifactStatusCompleted).
		Updates(map[string]any{
			"status":      enums.ArtifactStatusEvicted,
			"payload_key": gorm.Expr("NULL"),
			"evicted_at":  at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) MarkUnbilled(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.Artifact{}).
		Where("id = ?", id).
		Update("cost", 0)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) List(ctx context.Context, opts listQuery) ([]models.Artifact, error) {
	query := r.db.WithContext(ctx).Where("account_id = ?", opts.accountID)
	if c := opts.cursor; c != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", c.CreatedAt, c.CreatedAt, c.ID)
	}
	var rows []models.Artifact
	if err := query.Order("created_at DESC").Order("id DESC").Limit(opts.limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
