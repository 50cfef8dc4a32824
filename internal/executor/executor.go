// Package executor runs fallback chains with per-step timeout, retry, and
// rollback, guarding flaky dependencies with circuit breakers.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/remedy/internal/metrics"
	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/storage"
	"github.com/opsforge/remedy/internal/utils"
)

// Validator re-checks recovery success independently of the last step's own
// success predicate.
type Validator interface {
	Validate(ctx context.Context, diag models.DiagnosisResult) (bool, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, diag models.DiagnosisResult) (bool, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, diag models.DiagnosisResult) (bool, error) {
	return f(ctx, diag)
}

// Config tunes the executor.
type Config struct {
	BackoffBase       time.Duration // linear backoff unit between step retries
	RollbackTimeout   time.Duration // budget for each compensating action
	ValidationTimeout time.Duration // budget for the post-recovery validation
}

// Executor runs remediation steps. It never panics on a bad step; failures are
// reported as data unless a step is marked critical.
type Executor struct {
	actions   *Actions
	validator Validator
	cfg       Config
	logger    *slog.Logger
}

// New constructs an Executor. validator may be nil, in which case a chain that
// ran to completion without a critical failure counts as recovered.
func New(actions *Actions, validator Validator, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.RollbackTimeout <= 0 {
		cfg.RollbackTimeout = 15 * time.Second
	}
	if cfg.ValidationTimeout <= 0 {
		cfg.ValidationTimeout = 10 * time.Second
	}
	return &Executor{actions: actions, validator: validator, cfg: cfg, logger: logger}
}

// Execute runs a recovery option's plan: every step in ascending level order,
// recording failures as data. A critical step's failure abandons the remaining
// steps and rolls back previously-successful steps in reverse. Afterwards the
// validator independently decides whether recovery actually happened; a failed
// validation triggers a full rollback of the execution.
func (e *Executor) Execute(ctx context.Context, diag models.DiagnosisResult, option models.RecoveryOption) models.RecoveryExecution {
	exec := models.RecoveryExecution{
		ID:        uuid.NewString(),
		Option:    option,
		Status:    models.ExecutionInProgress,
		StartedAt: time.Now().UTC(),
	}

	steps := append([]models.FallbackStep(nil), option.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Level < steps[j].Level })

	var completed []models.FallbackStep // successful steps, for rollback
	aborted := false
	for _, step := range steps {
		result := e.runStep(ctx, diag, step)
		exec.Steps = append(exec.Steps, result)
		if result.Success {
			completed = append(completed, step)
			continue
		}
		if step.Critical {
			e.logger.Error("critical step failed, abandoning chain",
				slog.String("execution", exec.ID),
				slog.Int("level", step.Level),
				slog.String("action", string(step.Kind)),
				slog.String("error", result.Error))
			e.rollbackSteps(ctx, diag, completed, exec.ID)
			markRolledBack(exec.Steps, completed)
			aborted = true
			break
		}
	}

	exec.EndedAt = time.Now().UTC()
	if aborted {
		exec.Status = models.ExecutionRolledBack
		exec.FinalState = models.FinalFailed
		return exec
	}

	recovered, err := e.validate(ctx, diag)
	if err != nil {
		e.logger.Warn("recovery validation failed to run",
			slog.String("execution", exec.ID), slog.Any("error", err))
	}
	if recovered {
		exec.Status = models.ExecutionSuccess
		exec.FinalState = models.FinalRecovered
		return exec
	}

	// Validation says the system is not back to healthy. Unwind what we did.
	e.rollbackSteps(ctx, diag, completed, exec.ID)
	markRolledBack(exec.Steps, completed)
	exec.Status = models.ExecutionFailed
	if len(completed) > 0 {
		exec.FinalState = models.FinalPartial
	} else {
		exec.FinalState = models.FinalFailed
	}
	return exec
}

// ExecuteChain runs a trigger's fallback chain: levels are alternatives tried
// in ascending order, stopping at the first level whose step succeeds. It
// returns the attempts made and whether any level succeeded.
func (e *Executor) ExecuteChain(ctx context.Context, diag models.DiagnosisResult, steps []models.FallbackStep) ([]models.FallbackAttempt, bool) {
	ordered := append([]models.FallbackStep(nil), steps...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Level < ordered[j].Level })

	attempts := make([]models.FallbackAttempt, 0, len(ordered))
	for _, step := range ordered {
		result := e.runStep(ctx, diag, step)
		attempts = append(attempts, models.FallbackAttempt{
			Level:     result.Level,
			Action:    result.Kind,
			StartedAt: result.StartedAt,
			EndedAt:   result.EndedAt,
			Success:   result.Success,
			Error:     result.Error,
		})
		if result.Success {
			return attempts, true
		}
	}
	return attempts, false
}

// runStep retries a single step up to its retry count with linear backoff,
// racing each attempt against the step timeout.
func (e *Executor) runStep(ctx context.Context, diag models.DiagnosisResult, step models.FallbackStep) models.StepResult {
	result := models.StepResult{
		Level:     step.Level,
		Kind:      step.Kind,
		StartedAt: time.Now().UTC(),
	}
	handler := e.actions.Handler(step.Kind)

	var lastErr error
	for attempt := 1; attempt <= step.Retries; attempt++ {
		result.Attempts = attempt
		out, err := e.runOnce(ctx, handler, StepContext{Diagnosis: diag, Step: step, Attempt: attempt}, step.Timeout)
		if err == nil && (step.Succeeded == nil || step.Succeeded(out)) {
			result.Success = true
			break
		}
		if err == nil {
			err = errors.New("success predicate rejected the action result")
		}
		lastErr = err
		e.logger.Warn("step attempt failed",
			slog.Int("level", step.Level),
			slog.String("action", string(step.Kind)),
			slog.Int("attempt", attempt),
			slog.Any("error", err))

		// A non-operational fault is a bug, not a transient condition.
		// Retrying it would loop on the same failure.
		if !utils.IsOperational(err) {
			break
		}

		if attempt < step.Retries {
			if sleepErr := sleepCtx(ctx, e.cfg.BackoffBase*time.Duration(attempt)); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
	}

	result.EndedAt = time.Now().UTC()
	if !result.Success && lastErr != nil {
		result.Error = lastErr.Error()
	}
	metrics.ObserveStep(string(step.Kind), result.Success)
	return result
}

// runOnce races the action against the step timeout. A zero timeout blocks
// until the action resolves or the surrounding context is cancelled, which is
// how manual-intervention steps wait for an operator.
func (e *Executor) runOnce(ctx context.Context, handler ActionFunc, sc StepContext, timeout time.Duration) (models.ActionResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		result models.ActionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := handler(runCtx, sc)
		done <- outcome{result: r, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-runCtx.Done():
		if timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return models.ActionResult{}, fmt.Errorf("step timed out after %s", timeout)
		}
		return models.ActionResult{}, runCtx.Err()
	}
}

// rollbackSteps runs the compensating action of each previously-successful
// step, newest first. Rollback failures are logged and skipped; a compensating
// action must never take the chain down with it.
func (e *Executor) rollbackSteps(ctx context.Context, diag models.DiagnosisResult, completed []models.FallbackStep, execID string) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Rollback == nil {
			continue
		}
		compensating := models.FallbackStep{
			Level:   step.Level,
			Kind:    step.Rollback.Kind(),
			Params:  step.Rollback,
			Timeout: e.cfg.RollbackTimeout,
			Retries: 1,
		}
		handler := e.actions.Handler(compensating.Kind)
		_, err := e.runOnce(ctx, handler, StepContext{Diagnosis: diag, Step: compensating, Attempt: 1}, compensating.Timeout)
		if err != nil {
			e.logger.Error("rollback action failed",
				slog.String("execution", execID),
				slog.Int("level", step.Level),
				slog.String("action", string(compensating.Kind)),
				slog.Any("error", err))
			continue
		}
		e.logger.Info("rolled back step",
			slog.String("execution", execID),
			slog.Int("level", step.Level),
			slog.String("action", string(compensating.Kind)))
	}
}

// validate runs the independent recovery check within its own time budget so a
// stuck validator cannot hold the emergency loop open.
func (e *Executor) validate(ctx context.Context, diag models.DiagnosisResult) (bool, error) {
	if e.validator == nil {
		return true, nil
	}
	vctx, cancel := context.WithTimeout(ctx, e.cfg.ValidationTimeout)
	defer cancel()
	return e.validator.Validate(vctx, diag)
}

// markRolledBack flags the StepResults whose steps had a compensating action run.
func markRolledBack(results []models.StepResult, completed []models.FallbackStep) {
	rolled := make(map[int]bool, len(completed))
	for _, step := range completed {
		if step.Rollback != nil {
			rolled[step.Level] = true
		}
	}
	for i := range results {
		if results[i].Success && rolled[results[i].Level] {
			results[i].RolledBack = true
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StoreValidator is the default recovery validator: a component counts as
// healthy when no inconsistency marker is recorded against it. The surrounding
// pipeline's quality gates write and clear these markers.
type StoreValidator struct {
	store storage.Store
}

// NewStoreValidator constructs the marker-based validator.
func NewStoreValidator(store storage.Store) *StoreValidator {
	return &StoreValidator{store: store}
}

// Validate implements Validator. It checks the failing component and every
// affected component for an "inconsistent:" marker.
func (v *StoreValidator) Validate(ctx context.Context, diag models.DiagnosisResult) (bool, error) {
	components := diag.AffectedComponents
	if len(components) == 0 {
		components = []string{diag.Context.ComponentID}
	}
	for _, component := range components {
		_, err := v.store.Retrieve(ctx, "inconsistent:"+component)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return false, fmt.Errorf("check consistency of %s: %w", component, err)
		}
	}
	return true, nil
}
