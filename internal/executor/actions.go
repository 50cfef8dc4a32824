package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/notify"
	"github.com/opsforge/remedy/internal/storage"
	"github.com/opsforge/remedy/internal/utils"
)

// StepContext is everything an action handler sees about the step it runs.
type StepContext struct {
	Diagnosis models.DiagnosisResult
	Step      models.FallbackStep
	Attempt   int
}

// ActionFunc executes one remediation action once.
type ActionFunc func(ctx context.Context, sc StepContext) (models.ActionResult, error)

// OperationRunner re-runs the failed pipeline operation. The surrounding
// pipeline supplies the real implementation; retry-class actions call it
// through the component's circuit breaker.
type OperationRunner interface {
	Run(ctx context.Context, componentID, phase string) (models.ActionResult, error)
}

// RunnerFunc adapts a function to OperationRunner.
type RunnerFunc func(ctx context.Context, componentID, phase string) (models.ActionResult, error)

// Run implements OperationRunner.
func (f RunnerFunc) Run(ctx context.Context, componentID, phase string) (models.ActionResult, error) {
	return f(ctx, componentID, phase)
}

// Actions holds the built-in handler set and its collaborators.
type Actions struct {
	store          storage.Store
	notifier       notify.Notifier
	breakers       *BreakerRegistry
	runner         OperationRunner
	logger         *slog.Logger
	resolutionPoll time.Duration
}

// NewActions wires the built-in action handlers.
func NewActions(store storage.Store, notifier notify.Notifier, breakers *BreakerRegistry, runner OperationRunner, resolutionPoll time.Duration, logger *slog.Logger) *Actions {
	if logger == nil {
		logger = slog.Default()
	}
	if resolutionPoll <= 0 {
		resolutionPoll = 2 * time.Second
	}
	return &Actions{
		store:          store,
		notifier:       notifier,
		breakers:       breakers,
		runner:         runner,
		logger:         logger,
		resolutionPoll: resolutionPoll,
	}
}

// Handler dispatches on the action kind. Every kind has a handler; an unknown
// kind is a catalog bug and reports as a failed step, not a panic.
func (a *Actions) Handler(kind models.ActionKind) ActionFunc {
	switch kind {
	case models.ActionRetryBackoff:
		return a.retryBackoff
	case models.ActionSwitchAlternative:
		return a.switchAlternative
	case models.ActionRestoreCheckpoint:
		return a.restoreCheckpoint
	case models.ActionPartialRollback, models.ActionFullRollback:
		return a.rollback
	case models.ActionSkip:
		return a.skip
	case models.ActionIsolate:
		return a.isolate
	case models.ActionCacheFallback:
		return a.cacheFallback
	case models.ActionDegrade:
		return a.degrade
	case models.ActionManualIntervention:
		return a.manualIntervention
	case models.ActionSafeShutdown:
		return a.safeShutdown
	case models.ActionPersistCheckpoint:
		return a.persistCheckpoint
	case models.ActionNotifyWait:
		return a.notifyWait
	case models.ActionQuarantine:
		return a.quarantine
	default:
		return func(context.Context, StepContext) (models.ActionResult, error) {
			return models.ActionResult{}, utils.NonOperationalError("executor.dispatch",
				fmt.Sprintf("no handler for action kind %q", kind), nil)
		}
	}
}

func (a *Actions) retryBackoff(ctx context.Context, sc StepContext) (models.ActionResult, error) {
	if a.runner == nil {
		return models.ActionResult{}, errors.New("no operation runner configured")
	}
	component := sc.Diagnosis.Context.ComponentID
	var result models.ActionResult
	err := a.breakers.For(component).Execute(ctx, func(ctx context.Context) error {
		var runErr error
		result, runErr = a.runner.Run(ctx, component, sc.Diagnosis.Context.Phase)
		return runErr
	})
	return result, err
}

func (a *Actions) switchAlternative(ctx context.Context, sc StepContext) (models.ActionResult, error) {
	params, ok := sc.Step.Params.(models.SwitchAlternativeParams)
	if !ok {
		return models.ActionResult{}, paramsMismatch(sc.Step)
	}
	if params.AlternativeID == "" {
		return models.ActionResult{}, errors.New("no alternative component configured")
	}
	routeKey := "route:" + params.DependencyID
	if err := a.store.Put(ctx, routeKey, []byte(params.AlternativeID)); err != nil {
		return models.ActionResult{}, fmt.Errorf("record route switch: %w", err)
	}
	return models.ActionResult{
		Output:  "switched",
		Details: map[string]string{"route": routeKey, "target": params.AlternativeID},
	}, nil
}

func (a *Actions) restoreCheckpoint(ctx context.Context, sc StepContext) (models.ActionResult, error) {
	params, ok := sc.Step.Params.(models.RestoreCheckpointParams)
	if !ok {
		return models.ActionResult{}, paramsMismatch(sc.Step)
	}
	snapshot, err := a.store.Retrieve(ctx, params.CheckpointKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.ActionResult{}, fmt.Errorf("checkpoint %s does not exist", params.CheckpointKey)
		}
		return models.ActionResult{}, fmt.Errorf("load checkpoint: %w", err)
	}
	stateKey := "state:" + sc.Diagnosis.Context.ComponentID
	if err := a.store.Put(ctx, stateKey, snapshot); err != nil {
		return models.ActionResult{}, fmt.Errorf("restore state: %w", err)
	}
	return models.ActionResult{
		Output:  "restored",
		Details: map[string]string{"checkpoint": params.CheckpointKey, "state": stateKey},
	}, nil
}

// rollback rewinds pipeline state. Partial clears only the failing component's
// stage state; full clears every affected component's.
func (a *Actions) rollback(ctx context.Context, sc StepContext) (models.ActionResult, error) {
	params, ok := sc.Step.Params.(models.RollbackParams)
	if !ok {
		return models.ActionResult{}, paramsMismatch(sc.Step)
	}
	targets := []string{sc.Diagnosis.Context.ComponentID}
	if params.Full {
		targets = sc.Diagnosis.AffectedComponents
	}
	for _, component := range targets {
		if err := a.store.Delete(ctx, "state:"+component); err != nil {
			return models.ActionResult{}, fmt.Errorf("clear state of %s: %w", component, err)
		}
	}
	marker := fmt.Sprintf("rollback:%s:%s", sc.Diagnosis.Context.ComponentID, params.ToPhase)
	if err := a.store.Put(ctx, marker, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
		return models.ActionResult{}, fmt.Errorf("record rollback marker: %w", err)
	}
	return models.ActionResult{
		Output:  "rolled_back",
		Details: map[string]string{"toPhase": params.ToPhase, "components": fmt.Sprintf("%d", len(targets))},
	}, nil
}

func (a *Actions) skip(_ context.Context, sc StepContext) (models.ActionResult, error) {
	params, ok := sc.Step.Params.(models.SkipParams)
	if !ok {
		return models.ActionResult{}, paramsMismatch(sc.Step)
	}
	return models.ActionResult{Output: "skipped", Details: map[string]string{"reason": params.Reason}}, nil
}

func (a *Actions) isolate(ctx context.Context, sc StepContext) (models.ActionResult, error) {
	params, ok := sc.Step.Params.(models.IsolateParams)
	if !ok {
		return models.ActionResult{}, paramsMismatch(sc.Step)
	}
	key := "isolated:" + params.ComponentID
	if err := a.store.Put(ctx, key, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
		return models.ActionResult{}, fmt.Errorf("record isolation: %w", err)
	}
	return models.ActionResult{Output: "isolated", Details: map[string]string{"component": params.ComponentID}}, nil
}

func (a *Actions) cacheFallback(ctx context.Context, sc StepContext) (models.ActionResult, error) {
	params, ok := sc.Step.Params.(models.CacheFallbackParams)
	if !ok {
		return models.ActionResult{}, paramsMismatch(sc.Step)
	}
	cached, err := a.store.Retrieve(ctx, params.CacheKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.ActionResult{}, fmt.Errorf("no cached output under %s", params.CacheKey)
		}
		return models.ActionResult{}, fmt.Errorf("load cached output: %w", err)
	}
	return models.ActionResult{
		Output:  string(cached),
		Details: map[string]string{"source": params.CacheKey},
	}, nil
}

func (a *Actions) degrade(ctx context.Context, sc StepContext) (models.ActionResult, error) {
	params, ok := sc.Step.Params.(models.DegradeParams)
	if !ok {
		return models.ActionResult{}, paramsMismatch(sc.Step)
	}
	key := "mode:" + sc.Diagnosis.Context.ComponentID
	if err := a.store.Put(ctx, key, []byte(params.Mode)); err != nil {
		return models.ActionResult{}, fmt.Errorf("record degraded mode: %w", err)
	}
	return models.ActionResult{Output: "degraded", Details: map[string]string{"mode": params.Mode}}, nil
}

func (a *Actions) manualIntervention(ctx context.Context, sc StepContext) (models.ActionResult, error) {
	params, ok := sc.Step.Params.(models.ManualInterventionParams)
	if !ok {
		return models.ActionResult{}, paramsMismatch(sc.Step)
	}
	a.logger.Info("waiting for manual intervention",
		slog.String("component", sc.Diagnosis.Context.ComponentID),
		slog.String("resolutionKey", params.ResolutionKey))
	return a.awaitResolution(ctx, params.ResolutionKey)
}

func (a *Actions) notifyWait(ctx context.Context, sc StepContext) (models.ActionResult, error) {
	params, ok := sc.Step.Params.(models.NotifyWaitParams)
	if !ok {
		return models.ActionResult{}, paramsMismatch(sc.Step)
	}
	if a.notifier != nil {
		if err := a.notifier.Send(ctx, params.ChannelID, params.Message); err != nil {
			// The wait still proceeds: an operator may notice through other means.
			a.logger.Error("notify-and-wait send failed",
				slog.String("channel", params.ChannelID), slog.Any("error", err))
		}
	}
	return a.awaitResolution(ctx, params.ResolutionKey)
}

// awaitResolution polls the store until the resolution signal appears or the
// context is cancelled. The orchestrator's override path writes the key. An
// observed signal is consumed: resolution keys are stable across emergencies,
// so a leftover signal would wave through every later step with the same key.
func (a *Actions) awaitResolution(ctx context.Context, key string) (models.ActionResult, error) {
	fullKey := storage.PrefixResolution + key
	ticker := time.NewTicker(a.resolutionPoll)
	defer ticker.Stop()
	for {
		value, err := a.store.Retrieve(ctx, fullKey)
		if err == nil {
			if delErr := a.store.Delete(ctx, fullKey); delErr != nil {
				a.logger.Warn("failed to consume resolution signal",
					slog.String("key", fullKey), slog.Any("error", delErr))
			}
			return models.ActionResult{
				Output:  "resolved",
				Details: map[string]string{"resolution": string(value)},
			}, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			a.logger.Warn("resolution poll failed", slog.String("key", fullKey), slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return models.ActionResult{}, fmt.Errorf("resolution wait aborted: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (a *Actions) safeShutdown(ctx context.Context, sc StepContext) (models.ActionResult, error) {
	if _, ok := sc.Step.Params.(models.SafeShutdownParams); !ok {
		return models.ActionResult{}, paramsMismatch(sc.Step)
	}
	key := "shutdown:" + sc.Diagnosis.Context.ComponentID
	if err := a.store.Put(ctx, key, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
		return models.ActionResult{}, fmt.Errorf("record shutdown: %w", err)
	}
	return models.ActionResult{Output: "shutdown_requested"}, nil
}

func (a *Actions) persistCheckpoint(ctx context.Context, sc StepContext) (models.ActionResult, error) {
	params, ok := sc.Step.Params.(models.PersistCheckpointParams)
	if !ok {
		return models.ActionResult{}, paramsMismatch(sc.Step)
	}
	stateKey := "state:" + sc.Diagnosis.Context.ComponentID
	state, err := a.store.Retrieve(ctx, stateKey)
	if errors.Is(err, storage.ErrNotFound) {
		// Nothing persisted yet; checkpoint the failure-time snapshot instead.
		state = []byte(sc.Diagnosis.Context.PartialOutput)
	} else if err != nil {
		return models.ActionResult{}, fmt.Errorf("read state for checkpoint: %w", err)
	}
	if err := a.store.Put(ctx, params.CheckpointKey, state); err != nil {
		return models.ActionResult{}, fmt.Errorf("persist checkpoint: %w", err)
	}
	return models.ActionResult{Output: "checkpointed", Details: map[string]string{"checkpoint": params.CheckpointKey}}, nil
}

func (a *Actions) quarantine(ctx context.Context, sc StepContext) (models.ActionResult, error) {
	params, ok := sc.Step.Params.(models.QuarantineParams)
	if !ok {
		return models.ActionResult{}, paramsMismatch(sc.Step)
	}
	until := time.Now().UTC().Add(params.Duration)
	key := "quarantine:" + params.ComponentID
	if err := a.store.Put(ctx, key, []byte(until.Format(time.RFC3339))); err != nil {
		return models.ActionResult{}, fmt.Errorf("record quarantine: %w", err)
	}
	return models.ActionResult{
		Output:  "quarantined",
		Details: map[string]string{"component": params.ComponentID, "until": until.Format(time.RFC3339)},
	}, nil
}

// paramsMismatch is a catalog or template bug, not a transient fault, so it is
// classified non-operational and never retried.
func paramsMismatch(step models.FallbackStep) error {
	return utils.NonOperationalError("executor.step",
		fmt.Sprintf("level %d params do not match action kind %s", step.Level, step.Kind), nil)
}
