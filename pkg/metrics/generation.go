package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GenerationMetrics tracks orchestrated generation requests.
type GenerationMetrics struct {
	outcomes  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	charged   *prometheus.CounterVec
	rateLimit *prometheus.CounterVec
}

// NewGenerationMetrics registers the generation metrics on the provided registerer.
func NewGenerationMetrics(reg prometheus.Registerer) *GenerationMetrics {
	if reg == nil {
		return &GenerationMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "generation",
		Name:      "requests_total",
		Help:      "Generation requests by terminal outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "generation",
		Name:      "duration_seconds",
		Help:      "End to end duration of generation requests.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"quality"})
	charged := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "generation",
		Name:      "brushstrokes_charged_total",
		Help:      "Brushstrokes debited for completed generations.",
	}, []string{"quality"})
	rateLimit := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rate_limit",
		Name:      "decisions_total",
		Help:      "Rate limiter admission decisions.",
	}, []string{"action", "decision"})
	reg.MustRegister(outcomes, duration, charged, rateLimit)
	return &GenerationMetrics{
		outcomes:  outcomes,
		duration:  duration,
		charged:   charged,
		rateLimit: rateLimit,
	}
}

// ObserveOutcome counts a terminal outcome and records how long the request took.
func (g *GenerationMetrics) ObserveOutcome(outcome, quality string, took time.Duration) {
	if g == nil || g.outcomes == nil {
		return
	}
	g.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
	g.duration.WithLabelValues(normalizeLabel(quality)).Observe(took.Seconds())
}

// AddCharged adds the brushstrokes debited for a completed generation.
func (g *GenerationMetrics) AddCharged(quality string, amount int) {
	if g == nil || g.charged == nil || amount <= 0 {
		return
	}
	g.charged.WithLabelValues(normalizeLabel(quality)).Add(float64(amount))
}

// IncRateLimitDecision counts one limiter decision (allowed, limited, fail_open).
func (g *GenerationMetrics) IncRateLimitDecision(action, decision string) {
	if g == nil || g.rateLimit == nil {
		return
	}
	g.rateLimit.WithLabelValues(normalizeLabel(action), normalizeLabel(decision)).Inc()
}
