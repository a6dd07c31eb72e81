package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/quickbrush-backend/internal/balance"
	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/quickbrush-backend/pkg/errors"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
	"github.com/angelmondragon/quickbrush-backend/pkg/metrics"
)

// PurchaseParams groups dependencies for pack purchase crediting.
type PurchaseParams struct {
	Gateway  StripeGateway
	Catalog  *Catalog
	Balances balance.Service
	Logger   *logger.Logger
	Metrics  *metrics.BillingMetrics
}

// PurchaseService credits brushstroke packs once their checkout is paid.
type PurchaseService struct {
	gateway  StripeGateway
	catalog  *Catalog
	balances balance.Service
	logg     *logger.Logger
	metrics  *metrics.BillingMetrics
}

// PurchaseResult describes the credit applied for a checkout session.
type PurchaseResult struct {
	SessionID   string                   `json:"session_id"`
	Credited    int                      `json:"credited"`
	Duplicate   bool                     `json:"duplicate"`
	Balance     balance.View             `json:"balance"`
	Transaction models.LedgerTransaction `json:"-"`
}

// NewPurchaseService builds the pack purchase service.
func NewPurchaseService(params PurchaseParams) (*PurchaseService, error) {
	if params.Gateway == nil {
		return nil, errors.New("stripe gateway required")
	}
	if params.Catalog == nil {
		return nil, errors.New("catalog required")
	}
	if params.Balances == nil {
		return nil, errors.New("balance service required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	return &PurchaseService{
		gateway:  params.Gateway,
		catalog:  params.Catalog,
		balances: params.Balances,
		logg:     params.Logger,
		metrics:  params.Metrics,
	}, nil
}

// Packs lists the purchasable packs.
func (s *PurchaseService) Packs() []Pack {
	return s.catalog.Packs()
}

// CompleteCheckout credits the packs bought in a paid checkout session.
// Replaying the same session returns the original credit.
func (s *PurchaseService) CompleteCheckout(ctx context.Context, accountID uuid.UUID, sessionID string) (*PurchaseResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "account required")
	}
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session id is required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"account_id": accountID.String(),
		"session_id": sessionID,
	})

	raw, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, s.reject(pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found"))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve checkout session")
	}
	if raw == nil {
		return nil, s.reject(pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found"))
	}
	session := checkoutFromStripe(raw)

	if session.ClientReferenceID != accountID.String() {
		return nil, s.reject(pkgerrors.New(pkgerrors.CodeForbidden, "checkout session belongs to another account"))
	}
	if !session.Paid {
		return nil, s.reject(pkgerrors.New(pkgerrors.CodeStateConflict, "checkout session is not paid"))
	}

	amount, skus := s.creditFor(session.Lines)
	if amount == 0 {
		return nil, s.reject(pkgerrors.New(pkgerrors.CodeValidation, "checkout session contains no brushstroke packs"))
	}

	note := strings.Join(skus, ",")
	mutation, err := s.balances.Credit(ctx, balance.CreditInput{
		AccountID:   accountID,
		Amount:      amount,
		Kind:        enums.TransactionTypePurchase,
		ExternalRef: &session.ID,
		Note:        &note,
	})
	if err != nil {
		s.metrics.IncPurchase("failed")
		if errors.Is(err, balance.ErrAccountNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "credit purchased brushstrokes")
	}

	result := &PurchaseResult{
		SessionID:   session.ID,
		Credited:    mutation.Transaction.Amount,
		Duplicate:   mutation.Duplicate,
		Balance:     mutation.Balance,
		Transaction: mutation.Transaction,
	}
	if mutation.Duplicate {
		s.metrics.IncPurchase("duplicate")
		s.logg.Info(s.logg.WithEvent(ctx, "billing.purchase.duplicate"), "checkout session already credited")
		return result, nil
	}
	s.metrics.IncPurchase("credited")
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"event":    "billing.purchase.credited",
		"credited": amount,
	}), "brushstroke pack credited")
	return result, nil
}

func (s *PurchaseService) creditFor(lines []CheckoutLine) (int, []string) {
	total := 0
	var skus []string
	for _, line := range lines {
		pack, ok := s.catalog.PackForPrice(line.PriceID)
		if !ok {
			continue
		}
		total += pack.Brushstrokes * line.Quantity
		skus = append(skus, fmt.Sprintf("%sx%d", pack.SKU, line.Quantity))
	}
	return total, skus
}

func (s *PurchaseService) reject(err *pkgerrors.Error) error {
	s.metrics.IncPurchase("rejected")
	return err
}
