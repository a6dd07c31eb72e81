package generation

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/quickbrush-backend/pkg/errors"
)

// Outcome is the terminal state of one generation request.
type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeInvalidRequest      Outcome = "invalid_request"
	OutcomeRateLimited         Outcome = "rate_limited"
	OutcomeInsufficientBalance Outcome = "insufficient_balance"
	OutcomeBalanceUnavailable  Outcome = "balance_unavailable"
	OutcomeGenerationFailed    Outcome = "generation_failed"
	OutcomePersistFailed       Outcome = "persist_failed"
)

// Failure describes why a request ended before completion. Only the fields
// relevant to Outcome are set.
type Failure struct {
	Outcome    Outcome
	RetryAfter time.Duration
	Required   int
	Available  int
	Reason     string
	Err        error
}

func (f *Failure) Error() string {
	switch f.Outcome {
	case OutcomeRateLimited:
		return fmt.Sprintf("rate limited: retry after %s", f.RetryAfter)
	case OutcomeInsufficientBalance:
		return fmt.Sprintf("insufficient balance: required %d, available %d", f.Required, f.Available)
	}
	if f.Reason != "" {
		return fmt.Sprintf("%s: %s", f.Outcome, f.Reason)
	}
	return string(f.Outcome)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (f *Failure) RetryAfterSeconds() int {
	if f == nil || f.RetryAfter <= 0 {
		return 0
	}
	return max(1, int(math.Ceil(f.RetryAfter.Seconds())))
}

// Result is what a generation request returns to the presentation layer.
type Result struct {
	OK                    bool       `json:"ok"`
	ArtifactID            *uuid.UUID `json:"artifact_id,omitempty"`
	CostCharged           int        `json:"cost_charged"`
	BalanceRemaining      int        `json:"balance_remaining"`
	ArchiveSlotsRemaining int        `json:"archive_slots_remaining"`
	Error                 *Failure   `json:"-"`
}

// Outcome reports the terminal state of the request.
func (r *Result) Outcome() Outcome {
	if r.Error != nil {
		return r.Error.Outcome
	}
	return OutcomeCompleted
}

// Err maps a failed result onto a pkg/errors code, nil on success.
func (r *Result) Err() error {
	f := r.Error
	if f == nil {
		return nil
	}
	switch f.Outcome {
	case OutcomeInvalidRequest:
		if typed := pkgerrors.As(f.Err); typed != nil {
			return typed
		}
		return pkgerrors.New(pkgerrors.CodeValidation, f.Reason)
	case OutcomeRateLimited:
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many generation requests").
			WithDetails(map[string]any{"retry_after_seconds": f.RetryAfterSeconds()})
	case OutcomeInsufficientBalance:
		return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "not enough brushstrokes").
			WithDetails(map[string]any{"required": f.Required, "available": f.Available})
	case OutcomeGenerationFailed:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, f, "image generation failed").
			WithDetails(map[string]any{"reason": f.Reason})
	case OutcomeBalanceUnavailable:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, f, "balance unavailable")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, f, "generation result could not be saved")
	}
}
