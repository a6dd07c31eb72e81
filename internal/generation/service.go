package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/quickbrush-backend/internal/archive"
	"github.com/angelmondragon/quickbrush-backend/internal/balance"
	"github.com/angelmondragon/quickbrush-backend/internal/billing"
	"github.com/angelmondragon/quickbrush-backend/internal/ratelimit"
	"github.com/angelmondragon/quickbrush-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/quickbrush-backend/pkg/errors"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
	"github.com/angelmondragon/quickbrush-backend/pkg/metrics"
)

const defaultGenerateTimeout = 120 * time.Second

// Admission is the rate limiter surface the orchestrator needs.
type Admission interface {
	Admit(ctx context.Context, accountID uuid.UUID, action string, source enums.RequestSource) ratelimit.Decision
	Status(ctx context.Context, accountID uuid.UUID, action string) ratelimit.Status
}

// Reconciler refreshes the subscription allowance before a balance read.
type Reconciler interface {
	Reconcile(ctx context.Context, accountID uuid.UUID) (*billing.Reconciliation, error)
}

// Request is one generation request from an authenticated account.
type Request struct {
	AccountID uuid.UUID
	Spec      Spec
	Source    enums.RequestSource
}

// ServiceParams wires the orchestrator.
type ServiceParams struct {
	Limiter    Admission
	Reconciler Reconciler
	Balances   balance.Service
	Archive    archive.Service
	Generator  ImageGenerator
	Tariff     Tariff
	Timeout    time.Duration
	Logger     *logger.Logger
	Metrics    *metrics.GenerationMetrics
	Now        func() time.Time
}

// Service orchestrates admission, balance check, generation, archiving and
// debit. It holds no per-account state and no lock across the generator call.
type Service struct {
	limiter    Admission
	reconciler Reconciler
	balances   balance.Service
	archive    archive.Service
	generator  ImageGenerator
	tariff     Tariff
	timeout    time.Duration
	logg       *logger.Logger
	metrics    *metrics.GenerationMetrics
	now        func() time.Time
}

// NewService validates dependencies.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Limiter == nil:
		return nil, fmt.Errorf("rate limiter required")
	case params.Reconciler == nil:
		return nil, fmt.Errorf("reconciler required")
	case params.Balances == nil:
		return nil, fmt.Errorf("balance service required")
	case params.Archive == nil:
		return nil, fmt.Errorf("archive service required")
	case params.Generator == nil:
		return nil, fmt.Errorf("image generator required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	tariff := params.Tariff
	if len(tariff) == 0 {
		tariff = DefaultTariff()
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		limiter:    params.Limiter,
		reconciler: params.Reconciler,
		balances:   params.Balances,
		archive:    params.Archive,
		generator:  params.Generator,
		tariff:     tariff,
		timeout:    timeout,
		logg:       params.Logger,
		metrics:    params.Metrics,
		now:        now,
	}, nil
}

// RequestGeneration runs one request to a terminal outcome. The account is
// charged only after the image has been archived.
func (s *Service) RequestGeneration(ctx context.Context, req Request) *Result {
	started := s.now()
	spec := req.Spec.Normalize()
	ctx = s.logg.WithAccountID(ctx, req.AccountID.String())
	ctx = s.logg.WithFields(ctx, map[string]any{
		"generation_type": string(spec.Type),
		"quality":         string(spec.Quality),
	})

	res := s.run(ctx, req.AccountID, spec, req.Source)

	s.metrics.ObserveOutcome(string(res.Outcome()), string(spec.Quality), s.now().Sub(started))
	s.logOutcome(ctx, res)
	return res
}

func (s *Service) run(ctx context.Context, accountID uuid.UUID, spec Spec, source enums.RequestSource) *Result {
	if accountID == uuid.Nil {
		return failed(&Failure{Outcome: OutcomeInvalidRequest, Reason: "account is required",
			Err: pkgerrors.New(pkgerrors.CodeUnauthorized, "account is required")})
	}
	if err := spec.Validate(); err != nil {
		return failed(&Failure{Outcome: OutcomeInvalidRequest, Reason: "invalid generation request", Err: err})
	}
	cost, ok := s.tariff.Cost(spec.Quality)
	if !ok {
		return failed(&Failure{Outcome: OutcomeInvalidRequest, Reason: fmt.Sprintf("no tariff for quality %q", spec.Quality)})
	}

	// Admitted
	decision := s.limiter.Admit(ctx, accountID, ratelimit.ActionGenerateImage, source)
	if !decision.Allowed {
		return failed(&Failure{Outcome: OutcomeRateLimited, RetryAfter: decision.RetryAfter})
	}

	// BalanceChecked
	view, allowance, err := s.currentBalance(ctx, accountID)
	if err != nil {
		return failed(&Failure{Outcome: OutcomeBalanceUnavailable, Reason: "balance could not be read", Err: err})
	}
	if view.Available < cost {
		res := failed(&Failure{Outcome: OutcomeInsufficientBalance, Required: cost, Available: view.Available})
		res.BalanceRemaining = view.Available
		return res
	}

	// Generated
	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	image, err := s.generator.Generate(genCtx, spec)
	cancel()
	if err != nil {
		reason := "image generation failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "image generation timed out"
		}
		res := failed(&Failure{Outcome: OutcomeGenerationFailed, Reason: reason, Err: err})
		res.BalanceRemaining = view.Available
		return res
	}

	// Archived
	description := spec.Description
	if image.RefinedDescription != "" {
		description = image.RefinedDescription
	}
	saved, err := s.archive.Save(ctx, archive.SaveInput{
		AccountID:      accountID,
		Payload:        image.Data,
		ContentType:    image.ContentType,
		Cost:           cost,
		Quality:        spec.Quality,
		GenerationType: spec.Type,
		Description:    description,
	})
	if err != nil {
		res := failed(&Failure{Outcome: OutcomePersistFailed, Reason: "generated image could not be archived", Err: err})
		res.BalanceRemaining = view.Available
		return res
	}
	artifactID := saved.Artifact.ID

	// Debited
	mutation, err := s.balances.Debit(ctx, balance.DebitInput{
		AccountID:  accountID,
		Amount:     cost,
		Allowance:  allowance,
		ArtifactID: &artifactID,
	})
	if err != nil {
		return s.unbilled(ctx, accountID, saved, allowance, view.Available, err)
	}

	// Completed
	s.metrics.AddCharged(string(spec.Quality), cost)
	return &Result{
		OK:                    true,
		ArtifactID:            &artifactID,
		CostCharged:           cost,
		BalanceRemaining:      mutation.Balance.Available,
		ArchiveSlotsRemaining: saved.RemainingSlots,
	}
}

// unbilled delivers the archived artifact without a charge after a failed debit.
func (s *Service) unbilled(ctx context.Context, accountID uuid.UUID, saved *archive.Saved, allowance, fallback int, debitErr error) *Result {
	artifactID := saved.Artifact.ID
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event":       "generation.unbilled",
		"artifact_id": artifactID.String(),
	})
	s.logg.Error(ctx, "debit failed after delivery; artifact left unbilled", debitErr)

	if err := s.archive.MarkUnbilled(ctx, artifactID); err != nil {
		s.logg.Error(ctx, "failed to flag artifact as unbilled", err)
	}

	remaining := fallback
	if view, err := s.balances.Balance(ctx, accountID, allowance); err == nil {
		remaining = view.Available
	}
	return &Result{
		OK:                    true,
		ArtifactID:            &artifactID,
		BalanceRemaining:      remaining,
		ArchiveSlotsRemaining: saved.RemainingSlots,
	}
}

func (s *Service) currentBalance(ctx context.Context, accountID uuid.UUID) (*balance.View, int, error) {
	rec, err := s.reconciler.Reconcile(ctx, accountID)
	if err != nil {
		return nil, 0, fmt.Errorf("reconcile subscription: %w", err)
	}
	view, err := s.balances.Balance(ctx, accountID, rec.Allowance)
	if err != nil {
		return nil, 0, fmt.Errorf("read balance: %w", err)
	}
	return view, rec.Allowance, nil
}

// Balance returns the reconciled balance of the account.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (*balance.View, error) {
	view, _, err := s.currentBalance(ctx, accountID)
	if err != nil {
		if errors.Is(err, balance.ErrAccountNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "balance unavailable")
	}
	return view, nil
}

// RateLimitStatus reports the remaining hourly budget for action.
func (s *Service) RateLimitStatus(ctx context.Context, accountID uuid.UUID, action string) ratelimit.Status {
	return s.limiter.Status(ctx, accountID, action)
}

func (s *Service) logOutcome(ctx context.Context, res *Result) {
	outcome := res.Outcome()
	fields := map[string]any{"event": "generation." + string(outcome)}
	if res.ArtifactID != nil {
		fields["artifact_id"] = res.ArtifactID.String()
		fields["cost_charged"] = res.CostCharged
	}
	ctx = s.logg.WithFields(ctx, fields)

	switch outcome {
	case OutcomeCompleted:
		s.logg.Info(ctx, "generation completed")
	case OutcomePersistFailed, OutcomeBalanceUnavailable:
		s.logg.Error(ctx, "generation aborted", res.Error)
	default:
		s.logg.Warn(s.logg.WithField(ctx, "reason", res.Error.Error()), "generation rejected")
	}
}

func failed(f *Failure) *Result {
	return &Result{Error: f}
}
