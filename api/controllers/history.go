package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/quickbrush-backend/api/responses"
	"github.com/angelmondragon/quickbrush-backend/api/validators"
	"github.com/angelmondragon/quickbrush-backend/internal/archive"
	"github.com/angelmondragon/quickbrush-backend/internal/ledger"
	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/quickbrush-backend/pkg/errors"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
	"github.com/angelmondragon/quickbrush-backend/pkg/pagination"
)

type transactionDTO struct {
	ID            uuid.UUID             `json:"id"`
	Type          enums.TransactionType `json:"type"`
	Amount        int                   `json:"amount"`
	BalanceAfter  int                   `json:"balance_after"`
	FromAllowance int                   `json:"from_allowance,omitempty"`
	FromPurchased int                   `json:"from_purchased,omitempty"`
	ArtifactID    *uuid.UUID            `json:"artifact_id,omitempty"`
	PeriodStart   *time.Time            `json:"period_start,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
}

type artifactDTO struct {
	ID             uuid.UUID            `json:"id"`
	Status         enums.ArtifactStatus `json:"status"`
	GenerationType enums.GenerationType `json:"type"`
	Quality        enums.ImageQuality   `json:"quality"`
	Description    string               `json:"description"`
	ContentType    string               `json:"content_type"`
	SizeBytes      int64                `json:"size_bytes"`
	Cost           int                  `json:"cost"`
	CreatedAt      time.Time            `json:"created_at"`
	EvictedAt      *time.Time           `json:"evicted_at,omitempty"`
}

type artifactPage struct {
	Items      []artifactDTO `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// ListTransactions returns the caller's most recent ledger entries.
func ListTransactions(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := requireAccount(w, r, logg)
		if !ok {
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.List(r.Context(), accountID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list transactions"))
			return
		}
		out := make([]transactionDTO, 0, len(rows))
		for _, row := range rows {
			out = append(out, toTransactionDTO(row))
		}
		responses.WriteSuccess(w, map[string]any{"items": out})
	}
}

// ListArtifacts pages through the caller's archive, newest first.
func ListArtifacts(svc archive.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := requireAccount(w, r, logg)
		if !ok {
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), accountID, pagination.Params{
			Limit:  limit,
			Cursor: validators.ParseQueryString(r, "cursor", ""),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := artifactPage{Items: make([]artifactDTO, 0, len(page.Items)), NextCursor: page.NextCursor}
		for _, item := range page.Items {
			out.Items = append(out.Items, toArtifactDTO(item))
		}
		responses.WriteSuccess(w, out)
	}
}

// GetArtifactPayload streams an archived image. Evicted artifacts keep their
// metadata but no longer have bytes to serve.
func GetArtifactPayload(svc archive.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := requireAccount(w, r, logg)
		if !ok {
			return
		}
		artifactID, err := validators.ParseUUID(chi.URLParam(r, "artifactId"), "artifactId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payload, err := svc.Open(r.Context(), accountID, artifactID)
		switch {
		case errors.Is(err, archive.ErrEvicted):
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "artifact has been evicted from the archive"))
			return
		case errors.Is(err, archive.ErrNotFound):
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "artifact not found"))
			return
		case err != nil:
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load artifact"))
			return
		}
		w.Header().Set("Cache-Control", "private, max-age=3600")
		responses.WriteBlob(w, payload.ContentType, payload.Data)
	}
}

func toTransactionDTO(t models.LedgerTransaction) transactionDTO {
	return transactionDTO{
		ID:            t.ID,
		Type:          t.Type,
		Amount:        t.Amount,
		BalanceAfter:  t.BalanceAfter,
		FromAllowance: t.FromAllowance,
		FromPurchased: t.FromPurchased,
		ArtifactID:    t.ArtifactID,
		PeriodStart:   t.PeriodStart,
		CreatedAt:     t.CreatedAt,
	}
}

func toArtifactDTO(a models.Artifact) artifactDTO {
	return artifactDTO{
		ID:             a.ID,
		Status:         a.Status,
		GenerationType: a.GenerationType,
		Quality:        a.Quality,
		Description:    a.Description,
		ContentType:    a.ContentType,
		SizeBytes:      a.SizeBytes,
		Cost:           a.Cost,
		CreatedAt:      a.CreatedAt,
		EvictedAt:      a.EvictedAt,
	}
}
