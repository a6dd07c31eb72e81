package ratelimit

import (
	"math"
	"sort"
	"time"

	"github.com/angelmondragon/quickbrush-backend/pkg/config"
)

// ActionGenerateImage is the action key for image generation admissions.
const ActionGenerateImage = "generate_image"

// Window is one sliding window: at most Limit attempts within Duration.
type Window struct {
	Duration time.Duration
	Limit    int
}

func (w Window) enabled() bool {
	return w.Duration > 0 && w.Limit > 0
}

// Policy pairs the short burst window with the hourly window.
type Policy struct {
	Short  Window
	Hourly Window
}

// PolicyFromConfig builds the admission policy from configuration.
func PolicyFromConfig(cfg config.RateLimitConfig) Policy {
	return Policy{
		Short:  Window{Duration: cfg.ShortWindow, Limit: cfg.ShortLimit},
		Hourly: Window{Duration: cfg.HourlyWindow, Limit: cfg.HourlyLimit},
	}
}

// Retention is how far back attempts must be kept to evaluate the policy.
func (p Policy) Retention() time.Duration {
	return max(p.Short.Duration, p.Hourly.Duration)
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed           bool
	RetryAfter        time.Duration
	RemainingThisHour int
	// FailOpen is set when the attempt store could not be read.
	FailOpen bool
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum one when denied.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	return max(1, int(math.Ceil(d.RetryAfter.Seconds())))
}

// Evaluate decides admission from the recorded attempt timestamps. It is pure;
// attempts may be in any order.
func Evaluate(p Policy, attempts []time.Time, now time.Time) Decision {
	sorted := append([]time.Time(nil), attempts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	decision := Decision{Allowed: true}
	for _, w := range []Window{p.Short, p.Hourly} {
		if !w.enabled() {
			continue
		}
		inWindow := within(sorted, now, w.Duration)
		if len(inWindow) >= w.Limit {
			// the attempt whose expiry frees a slot
			freeing := inWindow[len(inWindow)-w.Limit]
			retry := w.Duration - now.Sub(freeing)
			decision.Allowed = false
			if retry > decision.RetryAfter {
				decision.RetryAfter = retry
			}
		}
	}
	if p.Hourly.enabled() {
		used := len(within(sorted, now, p.Hourly.Duration))
		decision.RemainingThisHour = max(0, p.Hourly.Limit-used)
	}
	return decision
}

// within returns the suffix of sorted attempts younger than window.
func within(sorted []time.Time, now time.Time, window time.Duration) []time.Time {
	idx := sort.Search(len(sorted), func(i int) bool {
		return now.Sub(sorted[i]) < window
	})
	return sorted[idx:]
}
