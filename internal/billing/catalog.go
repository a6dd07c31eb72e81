package billing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/quickbrush-backend/pkg/config"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
)

// Tier is a recurring subscription level and its per-period allowance.
type Tier struct {
	Name      string `json:"name"`
	PriceID   string `json:"-"`
	Allowance int    `json:"allowance"`
}

// Pack is a one-time brushstroke purchase.
type Pack struct {
	SKU          string          `json:"sku"`
	PriceID      string          `json:"price_id"`
	Brushstrokes int             `json:"brushstrokes"`
	Price        decimal.Decimal `json:"price"`
	Currency     enums.Currency  `json:"currency"`
}

// Catalog maps configured Stripe price ids to tiers and packs.
type Catalog struct {
	tiers map[string]Tier
	packs map[string]Pack
	order []string
}

// NewCatalog builds the catalog from the configured price ids. Entries whose
// price id is blank are left out.
func NewCatalog(cfg config.StripeConfig) *Catalog {
	c := &Catalog{
		tiers: make(map[string]Tier),
		packs: make(map[string]Pack),
	}
	c.addTier("basic", cfg.PriceBasic, 250)
	c.addTier("pro", cfg.PricePro, 500)
	c.addTier("premium", cfg.PricePremium, 1000)
	c.addTier("ultimate", cfg.PriceUltimate, 2500)

	c.addPack("pack_250", cfg.PricePack250, 250, decimal.NewFromInt(10))
	c.addPack("pack_500", cfg.PricePack500, 500, decimal.NewFromInt(20))
	c.addPack("pack_1000", cfg.PricePack1000, 1000, decimal.NewFromInt(40))
	c.addPack("pack_2500", cfg.PricePack2500, 2500, decimal.NewFromInt(100))
	return c
}

func (c *Catalog) addTier(name, priceID string, allowance int) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return
	}
	c.tiers[priceID] = Tier{Name: name, PriceID: priceID, Allowance: allowance}
}

func (c *Catalog) addPack(sku, priceID string, brushstrokes int, price decimal.Decimal) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return
	}
	c.packs[priceID] = Pack{
		SKU:          sku,
		PriceID:      priceID,
		Brushstrokes: brushstrokes,
		Price:        price,
		Currency:     enums.CurrencyUSD,
	}
	c.order = append(c.order, priceID)
}

// TierForPrice returns the tier sold under priceID.
func (c *Catalog) TierForPrice(priceID string) (Tier, bool) {
	t, ok := c.tiers[priceID]
	return t, ok
}

// AllowanceForPrice returns the per-period allowance of a tier price, or 0.
func (c *Catalog) AllowanceForPrice(priceID string) int {
	return c.tiers[priceID].Allowance
}

// HighestAllowance picks the largest allowance among the known tier prices.
func (c *Catalog) HighestAllowance(priceIDs []string) int {
	best := 0
	for _, id := range priceIDs {
		if a := c.AllowanceForPrice(id); a > best {
			best = a
		}
	}
	return best
}

// PackForPrice returns the pack sold under priceID.
func (c *Catalog) PackForPrice(priceID string) (Pack, bool) {
	p, ok := c.packs[priceID]
	return p, ok
}

// Packs lists the configured packs, smallest first.
func (c *Catalog) Packs() []Pack {
	out := make([]Pack, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.packs[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Brushstrokes < out[j].Brushstrokes })
	return out
}
