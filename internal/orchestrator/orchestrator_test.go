package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opsforge/remedy/internal/catalog"
	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/notify"
	"github.com/opsforge/remedy/internal/storage"
)

type fakeDiagnoser struct{}

func (fakeDiagnoser) Diagnose(fc models.FailureContext) models.DiagnosisResult {
	return models.DiagnosisResult{
		Context: fc,
		Cause:   models.RootCause{Category: "test_cause", Severity: models.SeverityMedium},
		Impact:  models.Impact{Severity: models.SeverityMedium},
	}
}

type fakeGenerator struct {
	options []models.RecoveryOption
}

func (f *fakeGenerator) Generate(context.Context, models.DiagnosisResult) []models.RecoveryOption {
	return f.options
}

type fakeExecutor struct {
	mu             sync.Mutex
	succeedAtLevel int // 0 means every level fails
	executions     []models.RecoveryExecution
	executeCalls   int
	handledOrder   []string
}

func (f *fakeExecutor) ExecuteChain(_ context.Context, diag models.DiagnosisResult, steps []models.FallbackStep) ([]models.FallbackAttempt, bool) {
	f.mu.Lock()
	f.handledOrder = append(f.handledOrder, diag.Context.ComponentID)
	f.mu.Unlock()

	var attempts []models.FallbackAttempt
	for _, step := range steps {
		success := step.Level == f.succeedAtLevel
		attempts = append(attempts, models.FallbackAttempt{
			Level:   step.Level,
			Action:  step.Kind,
			Success: success,
		})
		if success {
			return attempts, true
		}
	}
	return attempts, false
}

func (f *fakeExecutor) Execute(context.Context, models.DiagnosisResult, models.RecoveryOption) models.RecoveryExecution {
	exec := f.executions[f.executeCalls]
	f.executeCalls++
	return exec
}

type fakeLearner struct {
	learned int
}

func (f *fakeLearner) Learn(context.Context, models.DiagnosisResult, models.RecoveryExecution) error {
	f.learned++
	return nil
}

func (f *fakeLearner) RecommendedPrevention(context.Context, string, string) ([]models.PreventionStrategy, error) {
	return nil, nil
}

type countingNotifier struct {
	mu    sync.Mutex
	sends map[string]int
}

func newCountingNotifier() *countingNotifier {
	return &countingNotifier{sends: make(map[string]int)}
}

func (n *countingNotifier) Send(_ context.Context, channelID, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends[channelID]++
	return nil
}

func chainTrigger(id string, severity models.Severity, levels int) models.TriggerDefinition {
	steps := make([]models.FallbackStep, 0, levels)
	for i := 1; i <= levels; i++ {
		steps = append(steps, models.FallbackStep{
			Level:   i,
			Kind:    models.ActionSkip,
			Params:  models.SkipParams{Reason: "test"},
			Timeout: time.Second,
			Retries: 1,
		})
	}
	return models.TriggerDefinition{
		ID:             id,
		Severity:       severity,
		Detect:         func(models.StateSnapshot) (bool, error) { return true, nil },
		Steps:          steps,
		EscalationPath: []string{"oncall", "owner"},
		Channels:       []string{"operators"},
	}
}

func newTestOrchestrator(t *testing.T, defs []models.TriggerDefinition, exec *fakeExecutor, gen *fakeGenerator, notifier notify.Notifier) (*Orchestrator, storage.Store, *notify.Dispatcher, *fakeLearner) {
	t.Helper()
	cat, err := catalog.New(defs...)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	store := storage.NewMemoryStore()
	dispatcher := notify.NewDispatcher(notifier, nil, time.Second, nil)
	learner := &fakeLearner{}
	if gen == nil {
		gen = &fakeGenerator{}
	}
	return New(cat, fakeDiagnoser{}, gen, exec, learner, dispatcher, store, nil), store, dispatcher, learner
}

func TestTriggerMitigatedAtFirstLevel(t *testing.T) {
	def := chainTrigger("t1", models.SeverityHigh, 3)
	exec := &fakeExecutor{succeedAtLevel: 1}
	orch, store, _, _ := newTestOrchestrator(t, []models.TriggerDefinition{def}, exec, nil, newCountingNotifier())

	event := orch.HandleTrigger(context.Background(), def)
	if event == nil {
		t.Fatal("expected an event")
	}
	if event.Status != models.EventMitigated {
		t.Fatalf("status = %s, want MITIGATED", event.Status)
	}
	if len(event.Attempts) != 1 {
		t.Fatalf("attempts = %d, want exactly 1 when level 1 succeeds", len(event.Attempts))
	}
	if event.Resolution == nil || event.Resolution.Kind != models.ResolutionMitigated {
		t.Fatalf("resolution = %+v", event.Resolution)
	}

	var persisted models.EmergencyEvent
	if err := storage.RetrieveJSON(context.Background(), store, storage.PrefixEvent+event.ID, &persisted); err != nil {
		t.Fatalf("event not persisted: %v", err)
	}
	var report models.RecoveryReport
	if err := storage.RetrieveJSON(context.Background(), store, storage.PrefixReport+event.ID, &report); err != nil {
		t.Fatalf("report not persisted: %v", err)
	}
	if report.FinalState != models.FinalRecovered {
		t.Fatalf("report final state = %s, want recovered", report.FinalState)
	}
}

func TestTriggerMitigatedAtLastLevel(t *testing.T) {
	def := chainTrigger("t1", models.SeverityHigh, 3)
	exec := &fakeExecutor{succeedAtLevel: 3}
	orch, _, _, _ := newTestOrchestrator(t, []models.TriggerDefinition{def}, exec, nil, newCountingNotifier())

	event := orch.HandleTrigger(context.Background(), def)
	if event.Status != models.EventMitigated {
		t.Fatalf("status = %s, want MITIGATED", event.Status)
	}
	if len(event.Attempts) != 3 {
		t.Fatalf("attempts = %d, want one per level tried", len(event.Attempts))
	}
	for i, attempt := range event.Attempts {
		if attempt.Level != i+1 {
			t.Fatalf("attempt %d has level %d, want strictly ascending", i, attempt.Level)
		}
	}
	if event.Resolution.FinalAction != models.ActionSkip {
		t.Fatalf("final action = %s, want the level-3 action", event.Resolution.FinalAction)
	}
}

func TestTriggerEscalatesAndNotifiesExactlyOnce(t *testing.T) {
	def := chainTrigger("t1", models.SeverityCritical, 3)
	exec := &fakeExecutor{succeedAtLevel: 0}
	notifier := newCountingNotifier()
	orch, _, dispatcher, _ := newTestOrchestrator(t, []models.TriggerDefinition{def}, exec, nil, notifier)

	event := orch.HandleTrigger(context.Background(), def)
	if event.Status != models.EventEscalated {
		t.Fatalf("status = %s, want ESCALATED", event.Status)
	}
	if len(event.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3 (every level tried)", len(event.Attempts))
	}

	dispatcher.Wait()
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	for _, channel := range []string{"oncall", "owner", "operators"} {
		if notifier.sends[channel] != 1 {
			t.Fatalf("channel %s notified %d times, want exactly 1", channel, notifier.sends[channel])
		}
	}
}

func TestHandleCycleOrdersBySeverity(t *testing.T) {
	defs := []models.TriggerDefinition{
		chainTrigger("low", models.SeverityLow, 1),
		chainTrigger("critical", models.SeverityCritical, 1),
		chainTrigger("medium", models.SeverityMedium, 1),
	}
	exec := &fakeExecutor{succeedAtLevel: 1}
	orch, _, _, _ := newTestOrchestrator(t, defs, exec, nil, newCountingNotifier())

	orch.HandleCycle(context.Background(), defs)

	want := []string{"critical", "medium", "low"}
	if len(exec.handledOrder) != len(want) {
		t.Fatalf("handled %v, want %v", exec.handledOrder, want)
	}
	for i := range want {
		if exec.handledOrder[i] != want[i] {
			t.Fatalf("handled order %v, want %v", exec.handledOrder, want)
		}
	}
}

func failedExecution(strategy models.StrategyKind) models.RecoveryExecution {
	return models.RecoveryExecution{
		Option:     models.RecoveryOption{Strategy: strategy},
		Status:     models.ExecutionFailed,
		FinalState: models.FinalFailed,
		Steps:      []models.StepResult{{Level: 1, Kind: models.ActionSkip}},
	}
}

func recoveredExecution(strategy models.StrategyKind) models.RecoveryExecution {
	return models.RecoveryExecution{
		Option:     models.RecoveryOption{Strategy: strategy},
		Status:     models.ExecutionSuccess,
		FinalState: models.FinalRecovered,
		Steps:      []models.StepResult{{Level: 1, Kind: models.ActionSkip, Success: true}},
	}
}

func someOptions(n int) []models.RecoveryOption {
	out := make([]models.RecoveryOption, n)
	for i := range out {
		out[i] = models.RecoveryOption{Strategy: models.StrategyRetry}
	}
	return out
}

func TestHandleFailureRecoversOnSecondOption(t *testing.T) {
	def := chainTrigger("t1", models.SeverityHigh, 1)
	def.FailureKinds = []models.FailureKind{models.FailureTimeout}
	exec := &fakeExecutor{executions: []models.RecoveryExecution{
		failedExecution(models.StrategyRetry),
		recoveredExecution(models.StrategySwitchAlternative),
	}}
	gen := &fakeGenerator{options: someOptions(2)}
	orch, _, _, learner := newTestOrchestrator(t, []models.TriggerDefinition{def}, exec, gen, newCountingNotifier())

	report := orch.HandleFailure(context.Background(), models.FailureContext{
		Kind:        models.FailureTimeout,
		ComponentID: "worker",
	})
	if report == nil {
		t.Fatal("expected a report")
	}
	if report.Status != models.EventMitigated || report.FinalState != models.FinalRecovered {
		t.Fatalf("status=%s final=%s, want MITIGATED/recovered", report.Status, report.FinalState)
	}
	if report.TriggerID != "t1" {
		t.Fatalf("trigger id = %s, want t1 (covers timeout)", report.TriggerID)
	}
	if len(report.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(report.Attempts))
	}
	if learner.learned != 2 {
		t.Fatalf("learner saw %d executions, want 2 (every execution learned)", learner.learned)
	}
}

func TestHandleFailureStopsAtAttemptCap(t *testing.T) {
	def := chainTrigger("t1", models.SeverityHigh, 1)
	exec := &fakeExecutor{executions: []models.RecoveryExecution{
		failedExecution(models.StrategyRetry),
		failedExecution(models.StrategyRestoreCheckpoint),
		failedExecution(models.StrategyRollback),
		recoveredExecution(models.StrategyManualIntervention), // never reached
	}}
	gen := &fakeGenerator{options: someOptions(5)}
	notifier := newCountingNotifier()
	orch, _, dispatcher, _ := newTestOrchestrator(t, []models.TriggerDefinition{def}, exec, gen, notifier)

	report := orch.HandleFailure(context.Background(), models.FailureContext{
		Kind:        models.FailureAgentCrash,
		ComponentID: "worker",
	})
	if exec.executeCalls != 3 {
		t.Fatalf("executions = %d, want the cap of 3", exec.executeCalls)
	}
	if report.Status != models.EventEscalated {
		t.Fatalf("status = %s, want ESCALATED", report.Status)
	}

	// No trigger covers agent_crash here, so there is no escalation path; the
	// escalation itself must still be recorded.
	dispatcher.Wait()
	if report.TriggerID != "adhoc:agent_crash" {
		t.Fatalf("trigger id = %s, want adhoc:agent_crash", report.TriggerID)
	}
}

func TestDuplicateTriggerFiringIsDropped(t *testing.T) {
	def := chainTrigger("t1", models.SeverityHigh, 1)
	exec := &fakeExecutor{succeedAtLevel: 1}
	orch, _, _, _ := newTestOrchestrator(t, []models.TriggerDefinition{def}, exec, nil, newCountingNotifier())

	orch.activeMu.Lock()
	orch.active[def.ID] = true
	orch.activeMu.Unlock()

	if event := orch.HandleTrigger(context.Background(), def); event != nil {
		t.Fatal("expected duplicate firing to be dropped while the event is active")
	}
}

func TestResolveEventWritesSignal(t *testing.T) {
	def := chainTrigger("t1", models.SeverityLow, 1)
	orch, store, _, _ := newTestOrchestrator(t, []models.TriggerDefinition{def}, &fakeExecutor{}, nil, newCountingNotifier())

	if err := orch.ResolveEvent(context.Background(), "manual:worker:build", "fixed by hand"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	raw, err := store.Retrieve(context.Background(), storage.PrefixResolution+"manual:worker:build")
	if err != nil || string(raw) != "fixed by hand" {
		t.Fatalf("resolution = %q (%v)", raw, err)
	}

	if err := orch.ResolveEvent(context.Background(), "", "notes"); err == nil {
		t.Fatal("expected error for empty resolution key")
	}
}

func TestReportsSinceFilter(t *testing.T) {
	def := chainTrigger("t1", models.SeverityLow, 1)
	orch, store, _, _ := newTestOrchestrator(t, []models.TriggerDefinition{def}, &fakeExecutor{}, nil, newCountingNotifier())
	ctx := context.Background()

	old := models.RecoveryReport{EventID: "old", CreatedAt: time.Now().Add(-2 * time.Hour)}
	recent := models.RecoveryReport{EventID: "recent", CreatedAt: time.Now()}
	for _, r := range []models.RecoveryReport{old, recent} {
		if err := storage.PutJSON(ctx, store, storage.PrefixReport+r.EventID, r); err != nil {
			t.Fatalf("seed report: %v", err)
		}
	}

	all, err := orch.Reports(ctx, time.Time{})
	if err != nil || len(all) != 2 {
		t.Fatalf("all reports = %d (%v), want 2", len(all), err)
	}
	if all[0].EventID != "recent" {
		t.Fatalf("reports not newest-first: %s", all[0].EventID)
	}

	filtered, err := orch.Reports(ctx, time.Now().Add(-time.Hour))
	if err != nil || len(filtered) != 1 || filtered[0].EventID != "recent" {
		t.Fatalf("filtered = %v (%v), want only recent", filtered, err)
	}
}
