package billing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/quickbrush-backend/pkg/config"
)

func TestCatalogTiersAndPacks(t *testing.T) {
	c := NewCatalog(testStripeConfig())

	tiers := map[string]int{"price_basic": 250, "price_pro": 500, "price_premium": 1000, "price_ultimate": 2500, "price_pack_250": 0}
	for price, want := range tiers {
		if got := c.AllowanceForPrice(price); got != want {
			t.Fatalf("allowance for %s: expected %d got %d", price, want, got)
		}
	}
	if got := c.HighestAllowance([]string{"price_basic", "price_premium", "nope"}); got != 1000 {
		t.Fatalf("expected highest allowance 1000, got %d", got)
	}
	if got := c.HighestAllowance(nil); got != 0 {
		t.Fatalf("expected 0 for no prices, got %d", got)
	}

	packs := c.Packs()
	if len(packs) != 4 {
		t.Fatalf("expected 4 packs, got %d", len(packs))
	}
	wantPrices := []int64{10, 20, 40, 100}
	for i, p := range packs {
		if !p.Price.Equal(decimal.NewFromInt(wantPrices[i])) {
			t.Fatalf("pack %s: expected price %d got %s", p.SKU, wantPrices[i], p.Price)
		}
	}
	if pack, ok := c.PackForPrice("price_pack_1000"); !ok || pack.Brushstrokes != 1000 {
		t.Fatalf("unexpected pack lookup %+v ok=%v", pack, ok)
	}
}

func TestCatalogSkipsUnconfiguredPrices(t *testing.T) {
	c := NewCatalog(config.StripeConfig{PricePro: " price_pro ", PricePack250: "price_pack_250"})
	if _, ok := c.TierForPrice("price_pro"); !ok {
		t.Fatal("expected trimmed pro price to be known")
	}
	if _, ok := c.TierForPrice(""); ok {
		t.Fatal("blank price must not resolve to a tier")
	}
	if got := len(c.Packs()); got != 1 {
		t.Fatalf("expected one configured pack, got %d", got)
	}
}

func TestSnapshotEffectiveAllowance(t *testing.T) {
	cases := []struct {
		name          string
		nominal, paid int
		want          int
	}{
		{name: "no invoice", nominal: 500, paid: 0, want: 500},
		{name: "same price", nominal: 500, paid: 500, want: 500},
		{name: "downgrade scheduled", nominal: 250, paid: 1000, want: 1000},
		{name: "upgrade not yet billed", nominal: 2500, paid: 500, want: 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Snapshot{NominalAllowance: tc.nominal, PaidAllowance: tc.paid}
			if got := s.EffectiveAllowance(); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
	var nilSnap *Snapshot
	if nilSnap.EffectiveAllowance() != 0 || nilSnap.Entitled() {
		t.Fatal("nil snapshot grants nothing")
	}
}
