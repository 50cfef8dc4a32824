// Package patterns records recovery outcomes keyed by failure signature and
// derives prevention strategies once a pattern recurs. The pattern store is
// append-only and survives restarts through the external key-value store.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/storage"
)

// deriveAfter is how many occurrences a signature needs before prevention
// strategies are derived from its history.
const deriveAfter = 3

// maxRecommendations caps RecommendedPrevention output.
const maxRecommendations = 5

// Learner owns the failure-pattern history.
type Learner struct {
	store  storage.Store
	logger *slog.Logger

	mu       sync.Mutex
	sigLocks map[string]*sync.Mutex
}

// NewLearner constructs a Learner persisting through the given store.
func NewLearner(store storage.Store, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{
		store:    store,
		logger:   logger,
		sigLocks: make(map[string]*sync.Mutex),
	}
}

// lockFor serializes read-modify-write per signature. Two emergencies with the
// same signature must not race on occurrence counters.
func (l *Learner) lockFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.sigLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.sigLocks[key] = lock
	}
	return lock
}

// Learn folds one recovery execution into the pattern for its signature,
// creating the pattern on first occurrence and deriving preventions once the
// signature has recurred enough.
func (l *Learner) Learn(ctx context.Context, diag models.DiagnosisResult, exec models.RecoveryExecution) error {
	sig := diag.Signature()
	key := patternKey(sig)

	lock := l.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	pattern, err := l.load(ctx, key)
	if err != nil {
		return err
	}
	if pattern == nil {
		pattern = &models.FailurePattern{Signature: sig}
	}

	at := exec.EndedAt
	if at.IsZero() {
		at = exec.StartedAt
	}
	pattern.RecordOutcome(exec.Option.Strategy, exec.Recovered(), at)

	if pattern.Occurrences >= deriveAfter {
		pattern.Preventions = derivePreventions(pattern)
	}

	if err := storage.PutJSON(ctx, l.store, key, pattern); err != nil {
		return fmt.Errorf("persist pattern %s: %w", key, err)
	}

	l.logger.Debug("pattern updated",
		slog.String("signature", sig.Key()),
		slog.Int("occurrences", pattern.Occurrences),
		slog.Bool("recovered", exec.Recovered()))
	return nil
}

// Pattern loads the pattern for a signature, nil when it was never seen.
func (l *Learner) Pattern(ctx context.Context, sig models.FailureSignature) (*models.FailurePattern, error) {
	return l.load(ctx, patternKey(sig))
}

// SuccessfulStrategies lists strategies that have recovered this signature at
// least once, for the strategy generator's ranking boost. Unknown signatures
// yield nil.
func (l *Learner) SuccessfulStrategies(ctx context.Context, sig models.FailureSignature) []models.StrategyKind {
	pattern, err := l.load(ctx, patternKey(sig))
	if err != nil {
		l.logger.Warn("pattern lookup failed", slog.Any("error", err))
		return nil
	}
	if pattern == nil {
		return nil
	}
	strategies := make([]models.StrategyKind, 0, len(pattern.SuccessCounts))
	for strategy, count := range pattern.SuccessCounts {
		if count > 0 {
			strategies = append(strategies, strategy)
		}
	}
	sort.Slice(strategies, func(i, j int) bool { return strategies[i] < strategies[j] })
	return strategies
}

// RecommendedPrevention aggregates preventions from all patterns matching the
// component kind or phase, sorted by effectiveness, capped at a fixed count.
// A signature with no recorded occurrences contributes nothing.
func (l *Learner) RecommendedPrevention(ctx context.Context, componentKind, phase string) ([]models.PreventionStrategy, error) {
	keys, err := l.store.Keys(ctx, storage.PrefixPattern)
	if err != nil {
		return nil, fmt.Errorf("scan patterns: %w", err)
	}

	best := make(map[string]models.PreventionStrategy)
	for _, key := range keys {
		pattern, err := l.load(ctx, key)
		if err != nil || pattern == nil {
			continue
		}
		if !strings.EqualFold(pattern.Signature.ComponentKind, componentKind) &&
			!strings.EqualFold(pattern.Signature.Phase, phase) {
			continue
		}
		for _, prev := range pattern.Preventions {
			if existing, ok := best[prev.Name]; !ok || prev.Effectiveness > existing.Effectiveness {
				best[prev.Name] = prev
			}
		}
	}

	out := make([]models.PreventionStrategy, 0, len(best))
	for _, prev := range best {
		out = append(out, prev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Effectiveness != out[j].Effectiveness {
			return out[i].Effectiveness > out[j].Effectiveness
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > maxRecommendations {
		out = out[:maxRecommendations]
	}
	return out, nil
}

func (l *Learner) load(ctx context.Context, key string) (*models.FailurePattern, error) {
	var pattern models.FailurePattern
	err := storage.RetrieveJSON(ctx, l.store, key, &pattern)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pattern %s: %w", key, err)
	}
	return &pattern, nil
}

func patternKey(sig models.FailureSignature) string {
	return storage.PrefixPattern + sig.Key()
}

// derivePreventions turns the successful-strategy history into proactive
// mitigations, each scored with that strategy's historical success rate.
func derivePreventions(pattern *models.FailurePattern) []models.PreventionStrategy {
	out := make([]models.PreventionStrategy, 0, len(pattern.SuccessCounts))
	for strategy, count := range pattern.SuccessCounts {
		if count == 0 {
			continue
		}
		name, desc := preventionFor(strategy)
		out = append(out, models.PreventionStrategy{
			Name:          name,
			Description:   desc,
			Effectiveness: pattern.SuccessRate(strategy),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Effectiveness != out[j].Effectiveness {
			return out[i].Effectiveness > out[j].Effectiveness
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func preventionFor(strategy models.StrategyKind) (string, string) {
	switch strategy {
	case models.StrategyRetry:
		return "pre_apply_backoff_budget", "Reserve a retry/backoff budget for this stage before it runs"
	case models.StrategyRestoreCheckpoint:
		return "pre_persist_checkpoints", "Checkpoint stage state eagerly so restores are always possible"
	case models.StrategySwitchAlternative:
		return "pre_register_alternative", "Keep a warmed alternative component registered for this stage"
	case models.StrategyResourceRelief:
		return "pre_apply_resource_limit", "Apply a resource limit to the stage before execution"
	case models.StrategyIsolateAndDegrade:
		return "pre_stage_degraded_mode", "Prepare a degraded mode the stage can drop into immediately"
	case models.StrategyRollback:
		return "pre_snapshot_before_stage", "Snapshot pipeline state at the stage boundary before running it"
	case models.StrategyManualIntervention:
		return "pre_inject_contextual_hints", "Attach operator runbook hints to the stage context up front"
	default:
		return "pre_review_stage_" + string(strategy), "Review stage configuration related to " + string(strategy)
	}
}
