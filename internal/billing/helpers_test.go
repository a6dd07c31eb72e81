package billing

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/quickbrush-backend/internal/balance"
	"github.com/angelmondragon/quickbrush-backend/internal/ledger"
	"github.com/angelmondragon/quickbrush-backend/pkg/config"
	"github.com/angelmondragon/quickbrush-backend/pkg/db"
	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
	"github.com/angelmondragon/quickbrush-backend/pkg/metrics"
	"github.com/angelmondragon/quickbrush-backend/pkg/migrate"
)

type billingHarness struct {
	client   *db.Client
	accounts balance.Repository
	ledger   ledger.Repository
	balances balance.Service
	provider *fakeProvider
	reg      *prometheus.Registry
	metrics  *metrics.BillingMetrics
	logg     *logger.Logger
	now      time.Time
}

func newBillingHarness(t *testing.T) *billingHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	client := db.NewFromConn(conn)
	require.NoError(t, migrate.AutoMigrateModels(client))
	t.Cleanup(func() { _ = client.Close() })

	accounts := balance.NewRepository(conn)
	ledgerRepo := ledger.NewRepository(conn)
	balances, err := balance.NewService(accounts, ledgerRepo, client)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	return &billingHarness{
		client:   client,
		accounts: accounts,
		ledger:   ledgerRepo,
		balances: balances,
		provider: &fakeProvider{},
		reg:      reg,
		metrics:  metrics.NewBillingMetrics(reg),
		logg:     logger.New(logger.Options{ServiceName: "billing-test", Output: io.Discard}),
		now:      time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (h *billingHarness) reconciler(t *testing.T, tweak ...func(*ReconcilerParams)) *Reconciler {
	t.Helper()
	params := ReconcilerParams{
		Accounts: h.accounts,
		Ledger:   h.ledger,
		Tx:       h.client,
		Provider: h.provider,
		Logger:   h.logg,
		Metrics:  h.metrics,
		Now:      func() time.Time { return h.now },
	}
	for _, fn := range tweak {
		fn(&params)
	}
	r, err := NewReconciler(params)
	require.NoError(t, err)
	return r
}

func (h *billingHarness) createAccount(t *testing.T, acct *models.Account) *models.Account {
	t.Helper()
	if acct.Email == "" {
		acct.Email = "painter@example.com"
	}
	require.NoError(t, h.accounts.Create(context.Background(), acct))
	return acct
}

func (h *billingHarness) counter(t *testing.T, name, label, value string) float64 {
	t.Helper()
	mfs, err := h.reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabel(m.GetLabel(), label, value) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, l := range labels {
		if l.GetName() == name && l.GetValue() == value {
			return true
		}
	}
	return false
}

type fakeProvider struct {
	mu    sync.Mutex
	snap  *Snapshot
	err   error
	calls int
}

func (f *fakeProvider) set(snap *Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap, f.err = snap, err
}

func (f *fakeProvider) Snapshot(ctx context.Context, ref string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.snap == nil {
		return nil, nil
	}
	cp := *f.snap
	return &cp, nil
}

func testStripeConfig() config.StripeConfig {
	return config.StripeConfig{
		PriceBasic:    "price_basic",
		PricePro:      "price_pro",
		PricePremium:  "price_premium",
		PriceUltimate: "price_ultimate",
		PricePack250:  "price_pack_250",
		PricePack500:  "price_pack_500",
		PricePack1000: "price_pack_1000",
		PricePack2500: "price_pack_2500",
	}
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
