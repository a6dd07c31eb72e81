package ratelimit

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
	"github.com/angelmondragon/quickbrush-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/quickbrush-backend/pkg/redis"
)

// memAttempts mirrors the redis admit script under one mutex.
type memAttempts struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	members map[string][]string
	err     error
	admits  int
	reads   int
}

func newMemAttempts() *memAttempts {
	return &memAttempts{entries: map[string][]time.Time{}, members: map[string][]string{}}
}

func (m *memAttempts) AdmitAttempt(ctx context.Context, key, member string, at time.Time, windows []pkgredis.SlidingWindow, ttl time.Duration) (pkgredis.Admission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admits++
	if m.err != nil {
		return pkgredis.Admission{}, m.err
	}
	out := pkgredis.Admission{Admitted: true}
	for _, w := range windows {
		var inWindow []time.Time
		for _, e := range m.entries[key] {
			if at.Sub(e) < w.Duration {
				inWindow = append(inWindow, e)
			}
		}
		sort.Slice(inWindow, func(i, j int) bool { return inWindow[i].Before(inWindow[j]) })
		out.Counts = append(out.Counts, len(inWindow))
		if len(inWindow) >= w.Limit {
			out.Admitted = false
			out.RetryAfter = max(out.RetryAfter, w.Duration-at.Sub(inWindow[len(inWindow)-w.Limit]))
		}
	}
	if out.Admitted {
		m.entries[key] = append(m.entries[key], at)
		m.members[key] = append(m.members[key], member)
	}
	return out, nil
}

func (m *memAttempts) AttemptsSince(ctx context.Context, key string, since time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.err != nil {
		return nil, m.err
	}
	var out []time.Time
	for _, at := range m.entries[key] {
		if !at.Before(since) {
			out = append(out, at)
		}
	}
	return out, nil
}

func (m *memAttempts) RateLimitKey(parts ...string) string {
	return "qb:rate_limit:" + strings.Join(parts, ":")
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func defaultPolicy() Policy {
	return Policy{
		Short:  Window{Duration: 10 * time.Second, Limit: 1},
		Hourly: Window{Duration: time.Hour, Limit: 50},
	}
}

func newTestLimiter(t *testing.T, store attemptStore, clock *testClock, opts ...Option) *Limiter {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "ratelimit-test", Output: io.Discard})
	l, err := NewLimiter(store, defaultPolicy(), logg, append([]Option{WithClock(clock.now)}, opts...)...)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return l
}

func TestBurstWithinShortWindowAdmitsOnce(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := newMemAttempts()
	limiter := newTestLimiter(t, store, clock)
	account := uuid.New()
	start := clock.t

	allowed, denied := 0, 0
	lastRetry := -1
	for i := 0; i < 11; i++ {
		clock.t = start.Add(time.Duration(i) * 900 * time.Millisecond)
		d := limiter.Admit(ctx, account, ActionGenerateImage, enums.RequestSourceWeb)
		if d.Allowed {
			allowed++
			continue
		}
		denied++
		retry := d.RetryAfterSeconds()
		if retry <= 0 {
			t.Fatalf("request %d: expected positive retry-after", i)
		}
		if lastRetry >= 0 && retry > lastRetry {
			t.Fatalf("request %d: retry-after increased from %d to %d", i, lastRetry, retry)
		}
		lastRetry = retry
	}
	if allowed != 1 || denied != 10 {
		t.Fatalf("expected 1 allowed and 10 denied, got %d/%d", allowed, denied)
	}
	if lastRetry != 1 {
		t.Fatalf("expected final retry-after of 1s at t=9s, got %d", lastRetry)
	}
	if n := len(store.entries["qb:rate_limit:generate_image:"+account.String()]); n != 1 {
		t.Fatalf("denied attempts must not be recorded, log holds %d", n)
	}
}

func TestConcurrentBurstAdmitsOnce(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := newMemAttempts()
	limiter := newTestLimiter(t, store, clock)
	account := uuid.New()

	const requests = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		start   = make(chan struct{})
	)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d := limiter.Admit(ctx, account, ActionGenerateImage, enums.RequestSourceAPI)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if allowed != 1 {
		t.Fatalf("expected exactly 1 admission under 1/10s, got %d", allowed)
	}
	if store.admits != requests || store.reads != 0 {
		t.Fatalf("admission must be one store call per request, got %d admits and %d reads", store.admits, store.reads)
	}
}

func TestRetryAfterIsExactBackoff(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	d := Evaluate(defaultPolicy(), []time.Time{now.Add(-3 * time.Second)}, now)
	if d.Allowed {
		t.Fatal("expected denial inside the short window")
	}
	if d.RetryAfter != 7*time.Second || d.RetryAfterSeconds() != 7 {
		t.Fatalf("expected 7s back-off, got %s (%d)", d.RetryAfter, d.RetryAfterSeconds())
	}

	d = Evaluate(defaultPolicy(), []time.Time{now.Add(-10 * time.Second)}, now)
	if !d.Allowed {
		t.Fatal("attempt exactly one window old no longer counts")
	}
	if d.RemainingThisHour != 49 {
		t.Fatalf("expected 49 remaining, got %d", d.RemainingThisHour)
	}
}

func TestHourlyWindowBlocksUntilOldestExpires(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	attempts := make([]time.Time, 0, 50)
	for i := 0; i < 50; i++ {
		attempts = append(attempts, now.Add(-time.Duration(59-i)*time.Minute))
	}
	d := Evaluate(defaultPolicy(), attempts, now)
	if d.Allowed {
		t.Fatal("expected hourly denial")
	}
	if d.RetryAfter != time.Minute {
		t.Fatalf("expected back-off until the oldest attempt leaves the hour, got %s", d.RetryAfter)
	}
	if d.RemainingThisHour != 0 {
		t.Fatalf("expected no remaining budget, got %d", d.RemainingThisHour)
	}
}

func TestStoreFailureFailsOpen(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Now().UTC()}
	store := newMemAttempts()
	store.err = errors.New("redis: connection refused")
	reg := prometheus.NewRegistry()
	limiter := newTestLimiter(t, store, clock, WithMetrics(metrics.NewGenerationMetrics(reg)))

	d := limiter.Admit(ctx, uuid.New(), ActionGenerateImage, enums.RequestSourceAPI)
	if !d.Allowed || !d.FailOpen {
		t.Fatalf("expected fail-open admission, got %+v", d)
	}
	if status := limiter.Status(ctx, uuid.New(), ActionGenerateImage); status.RemainingThisHour != 50 {
		t.Fatalf("expected full budget while the store is down, got %+v", status)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() != "quickbrush_rate_limit_decisions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "decision" && l.GetValue() == "fail_open" && m.GetCounter().GetValue() == 1 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatal("expected fail_open decision to be counted")
	}
}

func TestStatusReportsBudgetAndMembersCarrySource(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := newMemAttempts()
	limiter := newTestLimiter(t, store, clock)
	account := uuid.New()

	if d := limiter.Admit(ctx, account, "  GENERATE_IMAGE ", enums.RequestSourceAPI); !d.Allowed || d.RemainingThisHour != 49 {
		t.Fatalf("unexpected first admission %+v", d)
	}
	clock.t = clock.t.Add(4 * time.Second)

	status := limiter.Status(ctx, account, ActionGenerateImage)
	if status.RemainingThisHour != 49 || status.RetryAfterSeconds != 6 {
		t.Fatalf("unexpected status %+v", status)
	}

	key := "qb:rate_limit:generate_image:" + account.String()
	members := store.members[key]
	if len(members) != 1 || !strings.HasSuffix(members[0], ":api") {
		t.Fatalf("expected one member tagged with its source, got %v", members)
	}
}

func TestNewLimiterValidates(t *testing.T) {
	logg := logger.New(logger.Options{Output: io.Discard})
	if _, err := NewLimiter(nil, defaultPolicy(), logg); err == nil {
		t.Fatal("expected store error")
	}
	if _, err := NewLimiter(newMemAttempts(), Policy{}, logg); err == nil {
		t.Fatal("expected policy error")
	}
	if _, err := NewLimiter(newMemAttempts(), defaultPolicy(), nil); err == nil {
		t.Fatal("expected logger error")
	}
}
