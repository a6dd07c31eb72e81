package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/quickbrush-backend/internal/archive"
	"github.com/angelmondragon/quickbrush-backend/internal/balance"
	"github.com/angelmondragon/quickbrush-backend/internal/billing"
	"github.com/angelmondragon/quickbrush-backend/internal/ledger"
	"github.com/angelmondragon/quickbrush-backend/internal/ratelimit"
	"github.com/angelmondragon/quickbrush-backend/pkg/config"
	"github.com/angelmondragon/quickbrush-backend/pkg/db"
	"github.com/angelmondragon/quickbrush-backend/pkg/db/models"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
	"github.com/angelmondragon/quickbrush-backend/pkg/metrics"
	"github.com/angelmondragon/quickbrush-backend/pkg/migrate"
)

type fakeLimiter struct {
	mu       sync.Mutex
	decision ratelimit.Decision
	admits   int
	records  []enums.RequestSource
}

func (f *fakeLimiter) Admit(ctx context.Context, accountID uuid.UUID, action string, source enums.RequestSource) ratelimit.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admits++
	if f.decision.Allowed {
		f.records = append(f.records, source)
	}
	return f.decision
}

func (f *fakeLimiter) Status(ctx context.Context, accountID uuid.UUID, action string) ratelimit.Status {
	return ratelimit.Status{RemainingThisHour: f.decision.RemainingThisHour, RetryAfterSeconds: f.decision.RetryAfterSeconds()}
}

type fakeReconciler struct {
	allowance int
	err       error
	calls     int
}

func (f *fakeReconciler) Reconcile(ctx context.Context, accountID uuid.UUID) (*billing.Reconciliation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &billing.Reconciliation{AccountID: accountID, Allowance: f.allowance, Result: billing.ResultSynced}, nil
}

type fakeGenerator struct {
	image *Image
	err   error
	block bool
	calls int
}

func (f *fakeGenerator) Generate(ctx context.Context, spec Spec) (*Image, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.image, nil
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func (m *memBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = data
	return nil
}

func (m *memBlobs) Get(ctx context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, "", errors.New("missing")
	}
	return data, "image/webp", nil
}

func (m *memBlobs) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// failingDebits wraps the real balance service and rejects every debit.
type failingDebits struct {
	balance.Service
	err error
}

func (f failingDebits) Debit(ctx context.Context, input balance.DebitInput) (*balance.Mutation, error) {
	return nil, f.err
}

type harness struct {
	conn       *gorm.DB
	accounts   balance.Repository
	ledger     ledger.Repository
	balances   balance.Service
	archive    archive.Service
	blobs      *memBlobs
	limiter    *fakeLimiter
	reconciler *fakeReconciler
	generator  *fakeGenerator
	reg        *prometheus.Registry
	logg       *logger.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	client := db.NewFromConn(conn)
	require.NoError(t, migrate.AutoMigrateModels(client))
	t.Cleanup(func() { _ = client.Close() })

	logg := logger.New(logger.Options{ServiceName: "generation-test", Output: io.Discard})
	accounts := balance.NewRepository(conn)
	ledgerRepo := ledger.NewRepository(conn)
	balances, err := balance.NewService(accounts, ledgerRepo, client)
	require.NoError(t, err)

	blobs := &memBlobs{objects: map[string][]byte{}}
	archiveSvc, err := archive.NewService(archive.ServiceParams{
		Repo:   archive.NewRepository(conn),
		Blobs:  blobs,
		Logger: logg,
		Config: config.ArchiveConfig{Cap: 100},
	})
	require.NoError(t, err)

	return &harness{
		conn:       conn,
		accounts:   accounts,
		ledger:     ledgerRepo,
		balances:   balances,
		archive:    archiveSvc,
		blobs:      blobs,
		limiter:    &fakeLimiter{decision: ratelimit.Decision{Allowed: true, RemainingThisHour: 49}},
		reconciler: &fakeReconciler{},
		generator:  &fakeGenerator{image: &Image{Data: []byte("webp-bytes"), ContentType: "image/webp"}},
		reg:        prometheus.NewRegistry(),
		logg:       logg,
	}
}

func (h *harness) service(t *testing.T, tweak ...func(*ServiceParams)) *Service {
	t.Helper()
	params := ServiceParams{
		Limiter:    h.limiter,
		Reconciler: h.reconciler,
		Balances:   h.balances,
		Archive:    h.archive,
		Generator:  h.generator,
		Timeout:    time.Second,
		Logger:     h.logg,
		Metrics:    metrics.NewGenerationMetrics(h.reg),
	}
	for _, fn := range tweak {
		fn(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	return svc
}

func (h *harness) createAccount(t *testing.T, purchased, usage int) *models.Account {
	t.Helper()
	acct := &models.Account{Email: "painter@example.com", PurchasedCredits: purchased, UsageThisPeriod: usage}
	require.NoError(t, h.accounts.Create(context.Background(), acct))
	return acct
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *models.Account {
	t.Helper()
	acct, err := h.accounts.Get(context.Background(), id)
	require.NoError(t, err)
	return acct
}

func (h *harness) history(t *testing.T, id uuid.UUID) []models.LedgerTransaction {
	t.Helper()
	txns, err := h.ledger.History(context.Background(), id)
	require.NoError(t, err)
	return txns
}

func (h *harness) artifactCount(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.conn.Model(&models.Artifact{}).Where("account_id = ?", id).Count(&count).Error)
	return count
}

func (h *harness) outcomeCount(t *testing.T, outcome Outcome) float64 {
	t.Helper()
	mfs, err := h.reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "quickbrush_generation_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == string(outcome) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func knightSpec(quality enums.ImageQuality) Spec {
	return Spec{
		Type:        enums.GenerationTypeCharacter,
		Description: "  a weary knight with a lantern  ",
		Quality:     quality,
		AspectRatio: enums.AspectRatioPortrait,
	}
}
