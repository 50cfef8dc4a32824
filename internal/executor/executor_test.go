package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/notify"
	"github.com/opsforge/remedy/internal/storage"
)

type fakeRunner struct {
	calls int
	err   error
	delay time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, componentID, phase string) (models.ActionResult, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return models.ActionResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return models.ActionResult{}, f.err
	}
	return models.ActionResult{Output: "ok"}, nil
}

func testHarness(t *testing.T, runner OperationRunner, validator Validator) (*Executor, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	breakers := NewBreakerRegistry(BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}, nil, nil)
	actions := NewActions(store, notify.LogNotifier{}, breakers, runner, 10*time.Millisecond, nil)
	exec := New(actions, validator, Config{BackoffBase: time.Millisecond}, nil)
	return exec, store
}

func testDiag() models.DiagnosisResult {
	return models.DiagnosisResult{
		Context: models.FailureContext{
			Kind:          models.FailureTimeout,
			ComponentID:   "worker",
			ComponentKind: "agent",
			Phase:         "build",
		},
		Cause:              models.RootCause{Category: "dependency_slow", Severity: models.SeverityMedium},
		AffectedComponents: []string{"worker"},
	}
}

func step(level int, kind models.ActionKind, params models.ActionParams) models.FallbackStep {
	return models.FallbackStep{
		Level:   level,
		Kind:    kind,
		Params:  params,
		Timeout: time.Second,
		Retries: 1,
	}
}

func TestChainStopsAtFirstSuccessfulLevel(t *testing.T) {
	exec, _ := testHarness(t, nil, nil)

	attempts, ok := exec.ExecuteChain(context.Background(), testDiag(), []models.FallbackStep{
		step(1, models.ActionSkip, models.SkipParams{Reason: "nothing to do"}),
		step(2, models.ActionDegrade, models.DegradeParams{Mode: "reduced"}),
	})
	if !ok {
		t.Fatal("expected chain success")
	}
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want exactly 1 when level 1 succeeds", len(attempts))
	}
	if !attempts[0].Success || attempts[0].Level != 1 {
		t.Fatalf("unexpected attempt record: %+v", attempts[0])
	}
}

func TestChainTriesLevelsInOrderUntilSuccess(t *testing.T) {
	exec, _ := testHarness(t, nil, nil)

	// Levels 1 and 2 fail (no checkpoint, no cached output); level 3 succeeds.
	attempts, ok := exec.ExecuteChain(context.Background(), testDiag(), []models.FallbackStep{
		step(1, models.ActionRestoreCheckpoint, models.RestoreCheckpointParams{CheckpointKey: "checkpoint:worker"}),
		step(2, models.ActionCacheFallback, models.CacheFallbackParams{CacheKey: "cache:worker", MaxAge: time.Hour}),
		step(3, models.ActionSkip, models.SkipParams{Reason: "shed the work"}),
	})
	if !ok {
		t.Fatal("expected chain success at level 3")
	}
	if len(attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(attempts))
	}
	for i, attempt := range attempts {
		if attempt.Level != i+1 {
			t.Fatalf("attempt %d has level %d, want %d", i, attempt.Level, i+1)
		}
	}
	if attempts[0].Success || attempts[1].Success {
		t.Fatal("levels 1 and 2 should have failed")
	}
	if !attempts[2].Success || attempts[2].Action != models.ActionSkip {
		t.Fatalf("final attempt = %+v, want successful skip", attempts[2])
	}
}

func TestChainReportsExhaustion(t *testing.T) {
	exec, _ := testHarness(t, nil, nil)

	attempts, ok := exec.ExecuteChain(context.Background(), testDiag(), []models.FallbackStep{
		step(1, models.ActionRestoreCheckpoint, models.RestoreCheckpointParams{CheckpointKey: "checkpoint:worker"}),
		step(2, models.ActionCacheFallback, models.CacheFallbackParams{CacheKey: "cache:worker", MaxAge: time.Hour}),
	})
	if ok {
		t.Fatal("expected chain failure")
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
	for _, attempt := range attempts {
		if attempt.Error == "" {
			t.Fatalf("failed attempt missing error: %+v", attempt)
		}
	}
}

func TestExecuteRunsAllStepsAndValidates(t *testing.T) {
	exec, store := testHarness(t, nil, nil)

	option := models.RecoveryOption{
		Strategy: models.StrategyIsolateAndDegrade,
		Steps: []models.FallbackStep{
			step(1, models.ActionIsolate, models.IsolateParams{ComponentID: "worker"}),
			step(2, models.ActionDegrade, models.DegradeParams{Mode: "cached_only"}),
		},
	}

	result := exec.Execute(context.Background(), testDiag(), option)
	if result.Status != models.ExecutionSuccess || result.FinalState != models.FinalRecovered {
		t.Fatalf("status=%s final=%s, want success/recovered", result.Status, result.FinalState)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("step results = %d, want 2", len(result.Steps))
	}

	if _, err := store.Retrieve(context.Background(), "isolated:worker"); err != nil {
		t.Fatalf("isolation marker missing: %v", err)
	}
	raw, err := store.Retrieve(context.Background(), "mode:worker")
	if err != nil || string(raw) != "cached_only" {
		t.Fatalf("mode marker = %q (%v), want cached_only", raw, err)
	}
}

func TestCriticalFailureAbortsAndRollsBack(t *testing.T) {
	exec, store := testHarness(t, nil, nil)

	switchStep := step(1, models.ActionSwitchAlternative,
		models.SwitchAlternativeParams{AlternativeID: "standby", DependencyID: "dep"})
	switchStep.Rollback = models.SwitchAlternativeParams{AlternativeID: "primary", DependencyID: "dep"}

	restore := step(2, models.ActionRestoreCheckpoint, models.RestoreCheckpointParams{CheckpointKey: "checkpoint:gone"})
	restore.Critical = true

	never := step(3, models.ActionSkip, models.SkipParams{Reason: "unreachable"})

	result := exec.Execute(context.Background(), testDiag(), models.RecoveryOption{
		Strategy: models.StrategyRestoreCheckpoint,
		Steps:    []models.FallbackStep{switchStep, restore, never},
	})

	if result.Status != models.ExecutionRolledBack || result.FinalState != models.FinalFailed {
		t.Fatalf("status=%s final=%s, want rolled_back/failed", result.Status, result.FinalState)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("step results = %d, want 2 (level 3 abandoned)", len(result.Steps))
	}
	if !result.Steps[0].RolledBack {
		t.Fatal("successful step before the critical failure should be rolled back")
	}

	raw, err := store.Retrieve(context.Background(), "route:dep")
	if err != nil || string(raw) != "primary" {
		t.Fatalf("route after rollback = %q (%v), want primary", raw, err)
	}
}

func TestFailedValidationTriggersFullRollback(t *testing.T) {
	notRecovered := ValidatorFunc(func(context.Context, models.DiagnosisResult) (bool, error) {
		return false, nil
	})
	exec, store := testHarness(t, nil, notRecovered)

	switchStep := step(1, models.ActionSwitchAlternative,
		models.SwitchAlternativeParams{AlternativeID: "standby", DependencyID: "dep"})
	switchStep.Rollback = models.SwitchAlternativeParams{AlternativeID: "primary", DependencyID: "dep"}

	result := exec.Execute(context.Background(), testDiag(), models.RecoveryOption{
		Strategy: models.StrategySwitchAlternative,
		Steps:    []models.FallbackStep{switchStep},
	})

	if result.Status != models.ExecutionFailed || result.FinalState != models.FinalPartial {
		t.Fatalf("status=%s final=%s, want failed/partial", result.Status, result.FinalState)
	}
	raw, err := store.Retrieve(context.Background(), "route:dep")
	if err != nil || string(raw) != "primary" {
		t.Fatalf("route after rollback = %q (%v), want primary", raw, err)
	}
}

func TestRetryStepStopsAtOpenBreaker(t *testing.T) {
	runner := &fakeRunner{err: errors.New("dependency exploded")}
	exec, _ := testHarness(t, runner, nil)

	retry := step(1, models.ActionRetryBackoff, models.RetryBackoffParams{OperationKey: "build", BaseDelay: time.Millisecond})
	retry.Retries = 3

	attempts, ok := exec.ExecuteChain(context.Background(), testDiag(), []models.FallbackStep{retry})
	if ok {
		t.Fatal("expected failure")
	}
	if attempts[0].Success {
		t.Fatal("expected failed attempt")
	}
	// Breaker threshold is 2: the third retry is rejected without a call.
	if runner.calls != 2 {
		t.Fatalf("runner calls = %d, want 2 (third rejected by open circuit)", runner.calls)
	}
}

func TestStepTimesOut(t *testing.T) {
	runner := &fakeRunner{delay: 500 * time.Millisecond}
	exec, _ := testHarness(t, runner, nil)

	retry := step(1, models.ActionRetryBackoff, models.RetryBackoffParams{OperationKey: "build", BaseDelay: time.Millisecond})
	retry.Timeout = 20 * time.Millisecond

	attempts, ok := exec.ExecuteChain(context.Background(), testDiag(), []models.FallbackStep{retry})
	if ok || attempts[0].Success {
		t.Fatal("expected step to fail on timeout")
	}
	if attempts[0].Error == "" {
		t.Fatal("expected timeout error recorded")
	}
}

func TestNotifyWaitResolvesFromStore(t *testing.T) {
	exec, store := testHarness(t, nil, nil)
	ctx := context.Background()

	if err := store.Put(ctx, storage.PrefixResolution+"manual:worker", []byte("operator fixed it")); err != nil {
		t.Fatalf("seed resolution: %v", err)
	}

	wait := models.FallbackStep{
		Level: 1,
		Kind:  models.ActionNotifyWait,
		Params: models.NotifyWaitParams{
			ChannelID:     "operators",
			Message:       "help",
			ResolutionKey: "manual:worker",
		},
		Timeout: 0, // blocks on the resolution signal
		Retries: 1,
	}

	attempts, ok := exec.ExecuteChain(ctx, testDiag(), []models.FallbackStep{wait})
	if !ok || !attempts[0].Success {
		t.Fatalf("expected resolution to succeed, got %+v", attempts[0])
	}
}

func TestResolutionSignalIsConsumed(t *testing.T) {
	exec, store := testHarness(t, nil, nil)
	ctx := context.Background()
	key := storage.PrefixResolution + "manual:worker"

	if err := store.Put(ctx, key, []byte("operator fixed it")); err != nil {
		t.Fatalf("seed resolution: %v", err)
	}

	wait := models.FallbackStep{
		Level: 1,
		Kind:  models.ActionManualIntervention,
		Params: models.ManualInterventionParams{
			Instructions:  "check the worker",
			ResolutionKey: "manual:worker",
		},
		Timeout: 0,
		Retries: 1,
	}

	attempts, ok := exec.ExecuteChain(ctx, testDiag(), []models.FallbackStep{wait})
	if !ok || !attempts[0].Success {
		t.Fatalf("first emergency should resolve, got %+v", attempts[0])
	}
	if _, err := store.Retrieve(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("resolution signal still present after use (err = %v)", err)
	}

	// A later emergency with the same key must block on a fresh signal, not
	// ride the old one.
	secondCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	attempts, ok = exec.ExecuteChain(secondCtx, testDiag(), []models.FallbackStep{wait})
	if ok || attempts[0].Success {
		t.Fatal("second emergency must wait for its own resolution")
	}
}

func TestValidationIsBounded(t *testing.T) {
	stuck := ValidatorFunc(func(ctx context.Context, _ models.DiagnosisResult) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	store := storage.NewMemoryStore()
	breakers := NewBreakerRegistry(BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}, nil, nil)
	actions := NewActions(store, notify.LogNotifier{}, breakers, nil, 10*time.Millisecond, nil)
	exec := New(actions, stuck, Config{BackoffBase: time.Millisecond, ValidationTimeout: 20 * time.Millisecond}, nil)

	start := time.Now()
	result := exec.Execute(context.Background(), testDiag(), models.RecoveryOption{
		Strategy: models.StrategyIsolateAndDegrade,
		Steps:    []models.FallbackStep{step(1, models.ActionSkip, models.SkipParams{Reason: "noop"})},
	})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("execution took %s, validation budget not enforced", elapsed)
	}
	if result.Status != models.ExecutionFailed || result.FinalState != models.FinalPartial {
		t.Fatalf("status=%s final=%s, want failed/partial when validation never confirms", result.Status, result.FinalState)
	}
}

func TestManualInterventionAbortsOnCancel(t *testing.T) {
	exec, _ := testHarness(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	wait := models.FallbackStep{
		Level: 1,
		Kind:  models.ActionManualIntervention,
		Params: models.ManualInterventionParams{
			Instructions:  "check the worker",
			ResolutionKey: "manual:never-written",
		},
		Timeout: 0,
		Retries: 1,
	}

	attempts, ok := exec.ExecuteChain(ctx, testDiag(), []models.FallbackStep{wait})
	if ok || attempts[0].Success {
		t.Fatal("expected cancellation to fail the step")
	}
}

func TestParamsMismatchIsNotRetried(t *testing.T) {
	exec, _ := testHarness(t, nil, nil)

	bad := models.FallbackStep{
		Level:   1,
		Kind:    models.ActionDegrade,
		Params:  models.SkipParams{Reason: "wrong payload"},
		Timeout: time.Second,
		Retries: 5,
	}

	result := exec.Execute(context.Background(), testDiag(), models.RecoveryOption{
		Strategy: models.StrategyIsolateAndDegrade,
		Steps:    []models.FallbackStep{bad},
	})
	if result.Steps[0].Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 for a non-operational fault", result.Steps[0].Attempts)
	}
}
