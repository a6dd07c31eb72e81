package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
	"github.com/angelmondragon/quickbrush-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/quickbrush-backend/pkg/redis"
)

// attemptStore is the sliding-log surface of pkg/redis.
type attemptStore interface {
	AdmitAttempt(ctx context.Context, key, member string, at time.Time, windows []pkgredis.SlidingWindow, ttl time.Duration) (pkgredis.Admission, error)
	AttemptsSince(ctx context.Context, key string, since time.Time) ([]time.Time, error)
	RateLimitKey(parts ...string) string
}

// Status is the caller-facing view of an account's budget for one action.
type Status struct {
	RemainingThisHour int `json:"remaining_this_hour"`
	RetryAfterSeconds int `json:"retry_after_seconds"`
}

// Limiter admits attempts per (account, action). Store failures fail open.
type Limiter struct {
	store   attemptStore
	policy  Policy
	logg    *logger.Logger
	metrics *metrics.GenerationMetrics
	now     func() time.Time
}

// Option tunes the limiter.
type Option func(*Limiter)

// WithMetrics records admission decisions.
func WithMetrics(m *metrics.GenerationMetrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLimiter builds a limiter over the attempt store.
func NewLimiter(store attemptStore, policy Policy, logg *logger.Logger, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("attempt store required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if len(slidingWindows(policy)) == 0 {
		return nil, errors.New("rate limit policy has no window")
	}
	l := &Limiter{
		store:  store,
		policy: policy,
		logg:   logg,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Admit checks both windows and records the attempt in a single atomic store
// call, so concurrent requests cannot all pass the same empty window. A store
// failure admits the request.
func (l *Limiter) Admit(ctx context.Context, accountID uuid.UUID, action string, source enums.RequestSource) Decision {
	if !source.IsValid() {
		source = enums.RequestSourceWeb
	}
	member := fmt.Sprintf("%s:%s", uuid.NewString(), source)
	windows := slidingWindows(l.policy)

	var decision Decision
	adm, err := l.store.AdmitAttempt(ctx, l.key(accountID, action), member, l.now(), windows, l.policy.Retention())
	if err != nil {
		decision = l.failOpen(ctx, action, err)
	} else {
		decision = Decision{Allowed: adm.Admitted, RetryAfter: adm.RetryAfter}
		if l.policy.Hourly.enabled() {
			used := adm.Counts[len(adm.Counts)-1]
			if adm.Admitted {
				used++
			}
			decision.RemainingThisHour = max(0, l.policy.Hourly.Limit-used)
		}
	}

	switch {
	case decision.FailOpen:
		l.metrics.IncRateLimitDecision(action, "fail_open")
	case decision.Allowed:
		l.metrics.IncRateLimitDecision(action, "allowed")
	default:
		l.metrics.IncRateLimitDecision(action, "limited")
	}
	return decision
}

func (l *Limiter) decide(ctx context.Context, accountID uuid.UUID, action string) Decision {
	now := l.now()
	attempts, err := l.store.AttemptsSince(ctx, l.key(accountID, action), now.Add(-l.policy.Retention()))
	if err != nil {
		return l.failOpen(ctx, action, err)
	}
	return Evaluate(l.policy, attempts, now)
}

func (l *Limiter) failOpen(ctx context.Context, action string, err error) Decision {
	l.logg.Warn(l.logg.WithFields(ctx, map[string]any{
		"event":  "rate_limit.fail_open",
		"action": action,
		"error":  err.Error(),
	}), "rate limit store unavailable; admitting request")
	return Decision{Allowed: true, FailOpen: true, RemainingThisHour: l.policy.Hourly.Limit}
}

// Status reports the remaining hourly budget and the current back-off.
func (l *Limiter) Status(ctx context.Context, accountID uuid.UUID, action string) Status {
	d := l.decide(ctx, accountID, action)
	return Status{
		RemainingThisHour: d.RemainingThisHour,
		RetryAfterSeconds: d.RetryAfterSeconds(),
	}
}

func (l *Limiter) key(accountID uuid.UUID, action string) string {
	action = strings.ToLower(strings.TrimSpace(action))
	if action == "" {
		action = ActionGenerateImage
	}
	return l.store.RateLimitKey(action, accountID.String())
}

// slidingWindows lists the enabled windows, hourly last.
func slidingWindows(p Policy) []pkgredis.SlidingWindow {
	var out []pkgredis.SlidingWindow
	for _, w := range []Window{p.Short, p.Hourly} {
		if w.enabled() {
			out = append(out, pkgredis.SlidingWindow{Duration: w.Duration, Limit: w.Limit})
		}
	}
	return out
}
