package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/quickbrush-backend/api/middleware"
	"github.com/angelmondragon/quickbrush-backend/api/responses"
	"github.com/angelmondragon/quickbrush-backend/api/validators"
	"github.com/angelmondragon/quickbrush-backend/internal/balance"
	"github.com/angelmondragon/quickbrush-backend/internal/generation"
	"github.com/angelmondragon/quickbrush-backend/internal/ratelimit"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/quickbrush-backend/pkg/errors"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
)

const sourceHeader = "X-Request-Source"

// GenerationService is the orchestrator surface the transport calls.
type GenerationService interface {
	RequestGeneration(ctx context.Context, req generation.Request) *generation.Result
	Balance(ctx context.Context, accountID uuid.UUID) (*balance.View, error)
	RateLimitStatus(ctx context.Context, accountID uuid.UUID, action string) ratelimit.Status
}

// RequestGeneration runs one paid generation for the caller.
func RequestGeneration(svc GenerationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := requireAccount(w, r, logg)
		if !ok {
			return
		}

		var spec generation.Spec
		if err := validators.DecodeJSON(r, &spec); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result := svc.RequestGeneration(r.Context(), generation.Request{
			AccountID: accountID,
			Spec:      spec,
			Source:    requestSource(r),
		})
		if err := result.Err(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// GetBalance reconciles the caller's subscription and reports the balance.
func GetBalance(svc GenerationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := requireAccount(w, r, logg)
		if !ok {
			return
		}
		view, err := svc.Balance(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// GetRateLimitStatus reports the caller's remaining budget for an action.
func GetRateLimitStatus(svc GenerationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := requireAccount(w, r, logg)
		if !ok {
			return
		}
		action := validators.ParseQueryString(r, "action", ratelimit.ActionGenerateImage)
		if action != ratelimit.ActionGenerateImage {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown action").
				WithDetails(map[string]any{"action": action}))
			return
		}
		responses.WriteSuccess(w, svc.RateLimitStatus(r.Context(), accountID, action))
	}
}

func requireAccount(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
		return uuid.Nil, false
	}
	return accountID, true
}

func requestSource(r *http.Request) enums.RequestSource {
	if src := enums.RequestSource(r.Header.Get(sourceHeader)); src.IsValid() {
		return src
	}
	return enums.RequestSourceAPI
}
