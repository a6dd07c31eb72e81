package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/quickbrush-backend/pkg/config"
	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/quickbrush-backend/pkg/errors"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
	"github.com/angelmondragon/quickbrush-backend/pkg/pagination"
	"github.com/angelmondragon/quickbrush-backend/pkg/storage/s3"
	"github.com/google/uuid"
)

const defaultCap = 100

var (
	ErrNotFound      = errors.New("artifact not found")
	ErrEvicted       = errors.New("artifact evicted")
	ErrPersistFailed = errors.New("artifact persist failed")
)

// BlobStore holds payload bytes. *s3.Client satisfies it.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
}

// SaveInput describes one generated image to archive.
type SaveInput struct {
	AccountID      uuid.UUID
	Payload        []byte
	ContentType    string
	Cost           int
	Quality        enums.ImageQuality
	GenerationType enums.GenerationType
	Description    string
}

// Saved is the outcome of a successful Save.
type Saved struct {
	Artifact       models.Artifact
	Evicted        []uuid.UUID
	RemainingSlots int
}

// Payload is an opened artifact.
type Payload struct {
	Artifact    models.Artifact
	Data        []byte
	ContentType string
}

// Page is one page of artifact metadata, newest first.
type Page struct {
	Items      []models.Artifact `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// Service manages the per-account artifact archive.
type Service interface {
	Save(ctx context.Context, input SaveInput) (*Saved, error)
	MarkUnbilled(ctx context.Context, artifactID uuid.UUID) error
	Open(ctx context.Context, accountID, artifactID uuid.UUID) (*Payload, error)
	List(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*Page, error)
	RemainingSlots(ctx context.Context, accountID uuid.UUID) (int, error)
}

// ServiceParams wires the archive service.
type ServiceParams struct {
	Repo   Repository
	Blobs  BlobStore
	Logger *logger.Logger
	Config config.ArchiveConfig
	Now    func() time.Time
}

type service struct {
	repo      Repository
	blobs     BlobStore
	logg      *logger.Logger
	cap       int
	keyPrefix string
	now       func() time.Time
}

// NewService validates dependencies and applies the archive defaults.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("archive repository required")
	}
	if params.Blobs == nil {
		return nil, fmt.Errorf("blob store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	capacity := params.Config.Cap
	if capacity <= 0 {
		capacity = defaultCap
	}
	prefix := strings.Trim(strings.TrimSpace(params.Config.KeyPrefix), "/")
	if prefix == "" {
		prefix = "artifacts"
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:      params.Repo,
		blobs:     params.Blobs,
		logg:      params.Logger,
		cap:       capacity,
		keyPrefix: prefix,
		now:       now,
	}, nil
}

// Save stores the payload, records the artifact and evicts the oldest
// completed artifacts beyond the cap. Eviction trouble never fails a save.
func (s *service) Save(ctx context.Context, input SaveInput) (*Saved, error) {
	if input.AccountID == uuid.Nil {
		return nil, fmt.Errorf("%w: account id is required", ErrPersistFailed)
	}
	if len(input.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrPersistFailed)
	}

	artifact := models.Artifact{
		ID:             uuid.New(),
		AccountID:      input.AccountID,
		Status:         enums.ArtifactStatusCompleted,
		ContentType:    input.ContentType,
		SizeBytes:      int64(len(input.Payload)),
		Cost:           input.Cost,
		Quality:        input.Quality,
		GenerationType: input.GenerationType,
		Description:    input.Description,
		CreatedAt:      s.now().UTC(),
	}
	key := s.objectKey(artifact.AccountID, artifact.ID)
	artifact.PayloadKey = &key

	if err := s.blobs.Put(ctx, key, input.Payload, input.ContentType); err != nil {
		return nil, fmt.Errorf("%w: store payload: %v", ErrPersistFailed, err)
	}
	if err := s.repo.Create(ctx, &artifact); err != nil {
		s.deleteBlob(ctx, key)
		return nil, fmt.Errorf("%w: record artifact: %v", ErrPersistFailed, err)
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"account_id":  artifact.AccountID.String(),
		"artifact_id": artifact.ID.String(),
	})
	evicted := s.evict(ctx, artifact.AccountID)

	remaining, err := s.RemainingSlots(ctx, artifact.AccountID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "archive slot count unavailable after save")
		remaining = 0
	}
	return &Saved{Artifact: artifact, Evicted: evicted, RemainingSlots: remaining}, nil
}

// evict transitions every completed artifact outside the newest cap. Running
// it concurrently for the same account converges on the same set.
func (s *service) evict(ctx context.Context, accountID uuid.UUID) []uuid.UUID {
	excess, err := s.repo.BeyondNewest(ctx, accountID, s.cap)
	if err != nil {
		s.logg.Error(ctx, "archive eviction scan failed", err)
		return nil
	}
	if len(excess) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(excess))
	for _, a := range excess {
		ids = append(ids, a.ID)
	}
	if _, err := s.repo.MarkEvicted(ctx, ids, s.now().UTC()); err != nil {
		s.logg.Error(ctx, "archive eviction failed", err)
		return nil
	}
	for _, a := range excess {
		if a.PayloadKey != nil {
			s.deleteBlob(ctx, *a.PayloadKey)
		}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"event":   "archive.evicted",
		"evicted": len(ids),
	}), "evicted artifacts beyond archive cap")
	return ids
}

func (s *service) deleteBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"payload_key": key,
			"error":       err.Error(),
		}), "artifact payload delete failed")
	}
}

// MarkUnbilled zeroes the recorded cost of an artifact whose debit failed.
func (s *service) MarkUnbilled(ctx context.Context, artifactID uuid.UUID) error {
	if artifactID == uuid.Nil {
		return ErrNotFound
	}
	return s.repo.MarkUnbilled(ctx, artifactID)
}

func (s *service) Open(ctx context.Context, accountID, artifactID uuid.UUID) (*Payload, error) {
	artifact, err := s.repo.Get(ctx, accountID, artifactID)
	if err != nil {
		return nil, err
	}
	if artifact.Status == enums.ArtifactStatusEvicted || artifact.PayloadKey == nil {
		return nil, ErrEvicted
	}
	data, contentType, err := s.blobs.Get(ctx, *artifact.PayloadKey)
	if err != nil {
		if errors.Is(err, s3.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: payload missing", ErrNotFound)
		}
		return nil, fmt.Errorf("load artifact payload: %w", err)
	}
	if contentType == "" {
		contentType = artifact.ContentType
	}
	return &Payload{Artifact: *artifact, Data: data, ContentType: contentType}, nil
}

func (s *service) List(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*Page, error) {
	query := listQuery{
		accountID: accountID,
		limit:     pagination.LimitWithBuffer(params.Limit),
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	query.cursor = cursor

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list artifacts")
	}
	items, next := pagination.Split(rows, params.Limit, func(a models.Artifact) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})
	return &Page{Items: items, NextCursor: next}, nil
}

func (s *service) RemainingSlots(ctx context.Context, accountID uuid.UUID) (int, error) {
	count, err := s.repo.CountCompleted(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return max(0, s.cap-count), nil
}

func (s *service) objectKey(accountID, artifactID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/%s", s.keyPrefix, accountID, artifactID)
}
