package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	pkgstripe "github.com/angelmondragon/quickbrush-backend/pkg/stripe"
)

// StripeGateway exposes the subset of Stripe reads the billing package needs.
type StripeGateway interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
}

type stripeGateway struct {
	api *stripe.Client
}

// NewStripeGateway wraps the injected Stripe client so the adapters can be tested.
func NewStripeGateway(client *pkgstripe.Client) StripeGateway {
	if client == nil || client.API() == nil {
		return nil
	}
	return &stripeGateway{api: client.API()}
}

func (g *stripeGateway) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionRetrieveParams{}
	params.AddExpand("latest_invoice")
	return g.api.V1Subscriptions.Retrieve(ctx, id, params)
}

func (g *stripeGateway) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionRetrieveParams{}
	params.AddExpand("line_items")
	return g.api.V1CheckoutSessions.Retrieve(ctx, id, params)
}

// StripeProvider turns Stripe subscriptions into typed snapshots.
type StripeProvider struct {
	gateway StripeGateway
	catalog *Catalog
}

// NewStripeProvider builds the reconciler's provider over an injected gateway.
func NewStripeProvider(gateway StripeGateway, catalog *Catalog) (*StripeProvider, error) {
	if gateway == nil {
		return nil, fmt.Errorf("stripe gateway required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	return &StripeProvider{gateway: gateway, catalog: catalog}, nil
}

func (p *StripeProvider) Snapshot(ctx context.Context, subscriptionRef string) (*Snapshot, error) {
	sub, err := p.gateway.GetSubscription(ctx, subscriptionRef)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("retrieve subscription %s: %w", subscriptionRef, err)
	}
	if sub == nil {
		return nil, nil
	}
	return snapshotFromSubscription(sub, p.catalog)
}

func snapshotFromSubscription(sub *stripe.Subscription, catalog *Catalog) (*Snapshot, error) {
	status, err := enums.ParseSubscriptionStatus(string(sub.Status))
	if err != nil {
		// paused and other provider-only states carry no allowance
		status = enums.SubscriptionStatusUnpaid
	}

	snap := &Snapshot{
		SubscriptionRef: sub.ID,
		Status:          status,
	}

	var nominal []string
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if item.Price != nil {
				nominal = append(nominal, item.Price.ID)
			}
			if item.CurrentPeriodStart > 0 {
				start := time.Unix(item.CurrentPeriodStart, 0).UTC()
				if snap.PeriodStart.IsZero() || start.After(snap.PeriodStart) {
					snap.PeriodStart = start
				}
			}
			if item.CurrentPeriodEnd > 0 {
				end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
				if snap.PeriodEnd == nil || end.After(*snap.PeriodEnd) {
					snap.PeriodEnd = &end
				}
			}
		}
	}
	if snap.Status.IsEntitled() && snap.PeriodStart.IsZero() {
		return nil, fmt.Errorf("subscription %s has no current period", sub.ID)
	}

	snap.NominalAllowance = catalog.HighestAllowance(nominal)
	snap.PaidAllowance = catalog.HighestAllowance(paidPriceIDs(sub.LatestInvoice))
	return snap, nil
}

// paidPriceIDs lists the price ids billed on invoice when it has been paid.
func paidPriceIDs(invoice *stripe.Invoice) []string {
	if invoice == nil || invoice.Status != stripe.InvoiceStatusPaid || invoice.Lines == nil {
		return nil
	}
	var ids []string
	for _, line := range invoice.Lines.Data {
		if line == nil || line.Pricing == nil || line.Pricing.PriceDetails == nil {
			continue
		}
		if id := line.Pricing.PriceDetails.Price; id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// CheckoutSession is the typed subset of a Stripe checkout session used to credit packs.
type CheckoutSession struct {
	ID                string
	ClientReferenceID string
	Paid              bool
	Lines             []CheckoutLine
}

// CheckoutLine is one purchased price and its quantity.
type CheckoutLine struct {
	PriceID  string
	Quantity int
}

func checkoutFromStripe(sess *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:                sess.ID,
		ClientReferenceID: strings.TrimSpace(sess.ClientReferenceID),
		Paid:              sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	if sess.LineItems == nil {
		return out
	}
	for _, item := range sess.LineItems.Data {
		if item == nil || item.Price == nil {
			continue
		}
		qty := int(item.Quantity)
		if qty <= 0 {
			qty = 1
		}
		out.Lines = append(out.Lines, CheckoutLine{PriceID: item.Price.ID, Quantity: qty})
	}
	return out
}

func isStripeNotFound(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing
}
