package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/quickbrush-backend/api/responses"
	"github.com/angelmondragon/quickbrush-backend/api/validators"
	"github.com/angelmondragon/quickbrush-backend/internal/billing"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
)

// PurchaseService is the pack purchase surface used by the billing routes.
type PurchaseService interface {
	Packs() []billing.Pack
	CompleteCheckout(ctx context.Context, accountID uuid.UUID, sessionID string) (*billing.PurchaseResult, error)
}

type completePurchaseRequest struct {
	SessionID string `json:"session_id" validate:"required,max=255"`
}

// ListPacks returns the one-time brushstroke packs on sale.
func ListPacks(svc PurchaseService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]any{"packs": svc.Packs()})
	}
}

// CompletePurchase credits the packs of a paid checkout session. Replays of
// the same session answer 200 with the original credit.
func CompletePurchase(svc PurchaseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := requireAccount(w, r, logg)
		if !ok {
			return
		}
		var body completePurchaseRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.CompleteCheckout(r.Context(), accountID, body.SessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusCreated
		if result.Duplicate {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}
