// Package orchestrator drives the emergency loop: diagnose, pick a recovery
// option, execute it, learn from the outcome, and escalate when everything
// fails. Emergencies are handled strictly one at a time because recovery
// actions mutate shared pipeline state.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/remedy/internal/catalog"
	"github.com/opsforge/remedy/internal/metrics"
	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/notify"
	"github.com/opsforge/remedy/internal/storage"
	"github.com/opsforge/remedy/internal/utils"
)

// attemptCap bounds how many ranked options one emergency may try.
const attemptCap = 3

// Diagnoser classifies a failure. It never fails; an unmatched failure comes
// back as a low-confidence generic cause.
type Diagnoser interface {
	Diagnose(fc models.FailureContext) models.DiagnosisResult
}

// OptionGenerator produces ranked recovery options, best first, never empty.
type OptionGenerator interface {
	Generate(ctx context.Context, diag models.DiagnosisResult) []models.RecoveryOption
}

// ChainExecutor runs recovery plans and trigger fallback chains.
type ChainExecutor interface {
	Execute(ctx context.Context, diag models.DiagnosisResult, option models.RecoveryOption) models.RecoveryExecution
	ExecuteChain(ctx context.Context, diag models.DiagnosisResult, steps []models.FallbackStep) ([]models.FallbackAttempt, bool)
}

// Learner records recovery outcomes and serves prevention recommendations.
type Learner interface {
	Learn(ctx context.Context, diag models.DiagnosisResult, exec models.RecoveryExecution) error
	RecommendedPrevention(ctx context.Context, componentKind, phase string) ([]models.PreventionStrategy, error)
}

// Orchestrator owns the emergency loop.
type Orchestrator struct {
	catalog    *catalog.Catalog
	diagnoser  Diagnoser
	generator  OptionGenerator
	executor   ChainExecutor
	learner    Learner
	dispatcher *notify.Dispatcher
	store      storage.Store
	logger     *slog.Logger
	latency    *utils.LatencyTracker

	mu sync.Mutex // serializes all emergency handling

	activeMu sync.Mutex
	active   map[string]bool // trigger ids with an event in flight or queued
}

// New wires the orchestrator. learner and dispatcher may be nil in tests.
func New(cat *catalog.Catalog, diag Diagnoser, gen OptionGenerator, exec ChainExecutor, learner Learner, dispatcher *notify.Dispatcher, store storage.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		catalog:    cat,
		diagnoser:  diag,
		generator:  gen,
		executor:   exec,
		learner:    learner,
		dispatcher: dispatcher,
		store:      store,
		logger:     logger,
		latency:    utils.NewLatencyTracker(256),
		active:     make(map[string]bool),
	}
}

// HandleCycle processes the triggers fired by one monitor cycle, most severe
// first, one at a time to completion. Implements monitor.Handler.
func (o *Orchestrator) HandleCycle(ctx context.Context, fired []models.TriggerDefinition) {
	ordered := append([]models.TriggerDefinition(nil), fired...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Severity.Rank() > ordered[j].Severity.Rank()
	})
	for _, def := range ordered {
		o.HandleTrigger(ctx, def)
	}
}

// HandleTrigger runs one trigger's fallback chain: levels in ascending order,
// stopping at the first success. Exactly one attempt is recorded per level
// tried. At most one event per trigger id can be active at a time; a firing
// while its event is still being handled is dropped.
func (o *Orchestrator) HandleTrigger(ctx context.Context, def models.TriggerDefinition) *models.EmergencyEvent {
	o.activeMu.Lock()
	if o.active[def.ID] {
		o.activeMu.Unlock()
		o.logger.Warn("trigger already has an active event, skipping", slog.String("trigger", def.ID))
		return nil
	}
	o.active[def.ID] = true
	o.activeMu.Unlock()
	defer func() {
		o.activeMu.Lock()
		delete(o.active, def.ID)
		o.activeMu.Unlock()
	}()

	o.mu.Lock()
	defer o.mu.Unlock()

	started := time.Now()
	event := models.NewEmergencyEvent(uuid.NewString(), def.ID, def.Severity)
	o.persistEvent(ctx, event)
	o.logger.Info("emergency triggered",
		slog.String("event", event.ID),
		slog.String("trigger", def.ID),
		slog.String("severity", string(def.Severity)))

	diag := o.diagnoser.Diagnose(triggerFailureContext(def))

	attempts, recovered := o.executor.ExecuteChain(ctx, diag, def.Steps)
	for _, attempt := range attempts {
		if err := event.EnterFallback(attempt.Level); err != nil {
			o.logger.Error("event state transition rejected", slog.Any("error", err))
		}
		event.RecordAttempt(attempt)
	}

	if recovered {
		last := attempts[len(attempts)-1]
		o.finish(ctx, event, models.EventMitigated, models.Resolution{
			Kind:        models.ResolutionMitigated,
			FinalAction: last.Action,
			Notes:       fmt.Sprintf("fallback level %d succeeded", last.Level),
		})
	} else {
		o.escalate(ctx, event, def.EscalationPath, def.Channels,
			fmt.Sprintf("emergency %s: trigger %s exhausted all %d fallback levels", event.ID, def.ID, len(def.Steps)))
	}

	o.persistReport(ctx, buildReport(event, diag, nil, o.preventions(ctx, diag)))

	elapsed := time.Since(started)
	o.latency.Observe(elapsed)
	metrics.ObserveEmergency(string(event.Severity), string(event.Status), elapsed)
	return event
}

// HandleFailure is the inbound entry point for pipeline failures. It never
// returns an error: every outcome, including total recovery failure, is a
// report. Emergencies are serialized with trigger handling.
func (o *Orchestrator) HandleFailure(ctx context.Context, fc models.FailureContext) *models.RecoveryReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	started := time.Now()
	diag := o.diagnoser.Diagnose(fc)
	diag.Options = o.generator.Generate(ctx, diag)

	triggerID := "adhoc:" + string(fc.Kind)
	severity := diag.Impact.Severity
	var escalationPath, channels []string
	if def, ok := o.catalog.ForFailureKind(fc.Kind); ok {
		triggerID = def.ID
		escalationPath = def.EscalationPath
		channels = def.Channels
		if def.Severity.Rank() > severity.Rank() {
			severity = def.Severity
		}
	}

	event := models.NewEmergencyEvent(uuid.NewString(), triggerID, severity)
	o.persistEvent(ctx, event)
	o.logger.Info("handling pipeline failure",
		slog.String("event", event.ID),
		slog.String("component", fc.ComponentID),
		slog.String("kind", string(fc.Kind)),
		slog.String("cause", diag.Cause.Category))

	var executions []models.RecoveryExecution
	recovered := false
	for i, option := range diag.Options {
		if i >= attemptCap {
			break
		}
		if err := event.EnterFallback(i + 1); err != nil {
			o.logger.Error("event state transition rejected", slog.Any("error", err))
			break
		}

		exec := o.executor.Execute(ctx, diag, option)
		executions = append(executions, exec)
		event.RecordAttempt(attemptFrom(i+1, option, exec))
		o.learn(ctx, diag, exec)

		if exec.Recovered() {
			recovered = true
			o.finish(ctx, event, models.EventMitigated, models.Resolution{
				Kind:        models.ResolutionMitigated,
				FinalAction: finalAction(option, exec),
				Notes:       fmt.Sprintf("strategy %s recovered the failure", option.Strategy),
			})
			break
		}
		o.logger.Warn("recovery option failed, moving to next",
			slog.String("event", event.ID),
			slog.String("strategy", string(option.Strategy)),
			slog.String("finalState", string(exec.FinalState)))
	}

	if !recovered {
		o.escalate(ctx, event, escalationPath, channels,
			fmt.Sprintf("emergency %s: %s on %s not recovered after %d attempts",
				event.ID, diag.Cause.Category, fc.ComponentID, len(executions)))
	}

	report := buildReport(event, diag, executions, o.preventions(ctx, diag))
	o.persistReport(ctx, report)

	elapsed := time.Since(started)
	o.latency.Observe(elapsed)
	metrics.ObserveEmergency(string(event.Severity), string(event.Status), elapsed)
	o.logger.Info("emergency finished",
		slog.String("event", event.ID),
		slog.String("status", string(event.Status)),
		slog.Duration("took", elapsed),
		slog.Duration("p95", o.latency.Percentile(95)))
	return report
}

// ResolveEvent is the operator override path: it writes the resolution signal
// a blocked manual-intervention step is polling for.
func (o *Orchestrator) ResolveEvent(ctx context.Context, resolutionKey, notes string) error {
	if resolutionKey == "" {
		return fmt.Errorf("resolution key is required")
	}
	if notes == "" {
		notes = "resolved by operator"
	}
	key := storage.PrefixResolution + resolutionKey
	if err := o.store.Put(ctx, key, []byte(notes)); err != nil {
		return fmt.Errorf("record resolution %s: %w", resolutionKey, err)
	}
	o.logger.Info("operator resolution recorded", slog.String("key", resolutionKey))
	return nil
}

// Report loads one persisted recovery report by event id.
func (o *Orchestrator) Report(ctx context.Context, eventID string) (*models.RecoveryReport, error) {
	var report models.RecoveryReport
	if err := storage.RetrieveJSON(ctx, o.store, storage.PrefixReport+eventID, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Reports lists persisted reports created at or after since, newest first.
// A zero since returns everything.
func (o *Orchestrator) Reports(ctx context.Context, since time.Time) ([]models.RecoveryReport, error) {
	keys, err := o.store.Keys(ctx, storage.PrefixReport)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	out := make([]models.RecoveryReport, 0, len(keys))
	for _, key := range keys {
		var report models.RecoveryReport
		if err := storage.RetrieveJSON(ctx, o.store, key, &report); err != nil {
			o.logger.Warn("skipping unreadable report", slog.String("key", key), slog.Any("error", err))
			continue
		}
		if !since.IsZero() && report.CreatedAt.Before(since) {
			continue
		}
		out = append(out, report)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Preventions exposes learned prevention recommendations for a component kind
// and phase.
func (o *Orchestrator) Preventions(ctx context.Context, componentKind, phase string) ([]models.PreventionStrategy, error) {
	if o.learner == nil {
		return nil, nil
	}
	return o.learner.RecommendedPrevention(ctx, componentKind, phase)
}

func (o *Orchestrator) finish(ctx context.Context, event *models.EmergencyEvent, status models.EventStatus, res models.Resolution) {
	if err := event.Finish(status, res); err != nil {
		o.logger.Error("event finish rejected", slog.Any("error", err))
		return
	}
	o.persistEvent(ctx, event)
}

// escalate marks the event escalated and notifies every escalation-path
// collaborator and channel exactly once, without blocking on delivery.
func (o *Orchestrator) escalate(ctx context.Context, event *models.EmergencyEvent, path, channels []string, message string) {
	o.finish(ctx, event, models.EventEscalated, models.Resolution{
		Kind:  models.ResolutionEscalated,
		Notes: message,
	})
	metrics.ObserveEscalation()

	targets := dedupe(append(append([]string(nil), path...), channels...))
	if o.dispatcher != nil && len(targets) > 0 {
		o.dispatcher.Dispatch(targets, message)
	}
	o.logger.Error("emergency escalated",
		slog.String("event", event.ID),
		slog.Int("notified", len(targets)))
}

func (o *Orchestrator) learn(ctx context.Context, diag models.DiagnosisResult, exec models.RecoveryExecution) {
	if o.learner == nil {
		return
	}
	if err := o.learner.Learn(ctx, diag, exec); err != nil {
		o.logger.Error("pattern learning failed", slog.Any("error", err))
	}
}

func (o *Orchestrator) preventions(ctx context.Context, diag models.DiagnosisResult) []models.PreventionStrategy {
	if o.learner == nil {
		return nil
	}
	out, err := o.learner.RecommendedPrevention(ctx, diag.Context.ComponentKind, diag.Context.Phase)
	if err != nil {
		o.logger.Warn("prevention lookup failed", slog.Any("error", err))
		return nil
	}
	return out
}

func (o *Orchestrator) persistEvent(ctx context.Context, event *models.EmergencyEvent) {
	if err := storage.PutJSON(ctx, o.store, storage.PrefixEvent+event.ID, event); err != nil {
		o.logger.Error("event persist failed", slog.String("event", event.ID), slog.Any("error", err))
	}
}

func (o *Orchestrator) persistReport(ctx context.Context, report *models.RecoveryReport) {
	if err := storage.PutJSON(ctx, o.store, storage.PrefixReport+report.EventID, report); err != nil {
		o.logger.Error("report persist failed", slog.String("event", report.EventID), slog.Any("error", err))
	}
}

// triggerFailureContext synthesizes a failure context for a monitor-fired
// trigger, whose steps were already bound at catalog-definition time.
func triggerFailureContext(def models.TriggerDefinition) models.FailureContext {
	kind := models.FailureStateInconsistent
	if len(def.FailureKinds) > 0 {
		kind = def.FailureKinds[0]
	}
	return models.FailureContext{
		Kind:          kind,
		ComponentID:   def.ID,
		ComponentKind: "trigger",
		Phase:         "monitor",
		Timestamp:     time.Now().UTC(),
		Error:         def.Description,
	}
}

func attemptFrom(level int, option models.RecoveryOption, exec models.RecoveryExecution) models.FallbackAttempt {
	attempt := models.FallbackAttempt{
		Level:     level,
		Action:    finalAction(option, exec),
		StartedAt: exec.StartedAt,
		EndedAt:   exec.EndedAt,
		Success:   exec.Recovered(),
	}
	if !exec.Recovered() {
		attempt.Error = fmt.Sprintf("strategy %s ended %s", option.Strategy, exec.FinalState)
	}
	return attempt
}

// finalAction is the action of the last step that actually ran.
func finalAction(option models.RecoveryOption, exec models.RecoveryExecution) models.ActionKind {
	if len(exec.Steps) > 0 {
		return exec.Steps[len(exec.Steps)-1].Kind
	}
	if len(option.Steps) > 0 {
		return option.Steps[0].Kind
	}
	return ""
}

func buildReport(event *models.EmergencyEvent, diag models.DiagnosisResult, executions []models.RecoveryExecution, preventions []models.PreventionStrategy) *models.RecoveryReport {
	report := &models.RecoveryReport{
		EventID:            event.ID,
		TriggerID:          event.TriggerID,
		Severity:           event.Severity,
		Cause:              diag.Cause,
		AffectedComponents: diag.AffectedComponents,
		Attempts:           event.Attempts,
		Status:             event.Status,
		Preventions:        preventions,
		CreatedAt:          time.Now().UTC(),
	}
	if event.Resolution != nil {
		switch event.Resolution.Kind {
		case models.ResolutionMitigated:
			report.FinalState = models.FinalRecovered
		case models.ResolutionUnrecoverable:
			report.FinalState = models.FinalFailed
		default:
			report.FinalState = models.FinalFailed
		}
	}
	report.Lessons = deriveLessons(event, diag, executions)
	return report
}

// deriveLessons writes the human-readable afterword of the report.
func deriveLessons(event *models.EmergencyEvent, diag models.DiagnosisResult, executions []models.RecoveryExecution) []string {
	var lessons []string
	if event.Resolution != nil {
		lessons = append(lessons, fmt.Sprintf("handled in %.1f minutes",
			utils.DurationMinutes(event.CreatedAt, event.Resolution.ResolvedAt)))
	}
	for _, exec := range executions {
		if exec.Recovered() {
			lessons = append(lessons, fmt.Sprintf("strategy %s recovered cause %s", exec.Option.Strategy, diag.Cause.Category))
		} else {
			lessons = append(lessons, fmt.Sprintf("strategy %s did not recover cause %s (ended %s)",
				exec.Option.Strategy, diag.Cause.Category, exec.FinalState))
		}
	}
	if len(diag.AffectedComponents) > 3 {
		lessons = append(lessons, fmt.Sprintf("blast radius was widespread (%d components), consider isolating %s earlier",
			len(diag.AffectedComponents), diag.Context.ComponentID))
	}
	return lessons
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
