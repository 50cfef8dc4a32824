// Package strategy turns a diagnosis into a ranked list of recovery options.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opsforge/remedy/internal/models"
)

// LearnerClient is the slice of the pattern learner the generator consults.
type LearnerClient interface {
	SuccessfulStrategies(ctx context.Context, sig models.FailureSignature) []models.StrategyKind
}

// PrereqChecker decides whether a named prerequisite holds for a diagnosis.
type PrereqChecker interface {
	Satisfied(ctx context.Context, name string, diag models.DiagnosisResult) bool
}

// PrereqFunc adapts a function to PrereqChecker.
type PrereqFunc func(ctx context.Context, name string, diag models.DiagnosisResult) bool

// Satisfied implements PrereqChecker.
func (f PrereqFunc) Satisfied(ctx context.Context, name string, diag models.DiagnosisResult) bool {
	return f(ctx, name, diag)
}

// historyBoost is the multiplicative ranking bonus for options whose strategy
// previously recovered this signature. Only the resulting order is contractual.
const historyBoost = 1.25

// Defaults are the step-level settings applied to materialized templates.
type Defaults struct {
	Timeout     time.Duration
	Retries     int
	BackoffBase time.Duration
}

// Generator materializes, filters, and ranks recovery options.
type Generator struct {
	learner  LearnerClient
	prereqs  PrereqChecker
	defaults Defaults
	logger   *slog.Logger
}

// New constructs a Generator. learner and prereqs may be nil; a nil prereq
// checker treats every prerequisite as unsatisfied except the empty set.
func New(learner LearnerClient, prereqs PrereqChecker, defaults Defaults, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = 30 * time.Second
	}
	if defaults.Retries < 1 {
		defaults.Retries = 2
	}
	if defaults.BackoffBase <= 0 {
		defaults.BackoffBase = 500 * time.Millisecond
	}
	return &Generator{learner: learner, prereqs: prereqs, defaults: defaults, logger: logger}
}

// Generate returns ranked options, best first. It always returns at least one
// option: a manual-intervention fallback closes the list.
func (g *Generator) Generate(ctx context.Context, diag models.DiagnosisResult) []models.RecoveryOption {
	options := make([]models.RecoveryOption, 0, 4)

	for _, tpl := range templatesFor(diag.Cause.Category) {
		if !g.satisfied(ctx, tpl.prereqs, diag) {
			g.logger.Debug("option filtered by prerequisites",
				slog.String("strategy", string(tpl.strategy)),
				slog.Any("prereqs", tpl.prereqs))
			continue
		}
		options = append(options, g.materialize(tpl, diag))
	}

	options = append(options, g.synthesize(ctx, diag, options)...)
	options = append(options, g.manualFallback(diag))

	g.rank(ctx, diag, options)
	return options
}

func (g *Generator) satisfied(ctx context.Context, prereqs []string, diag models.DiagnosisResult) bool {
	if len(prereqs) == 0 {
		return true
	}
	if g.prereqs == nil {
		return false
	}
	for _, p := range prereqs {
		if !g.prereqs.Satisfied(ctx, p, diag) {
			return false
		}
	}
	return true
}

// rank orders options by successProbability x (1 - riskWeight), boosting
// strategies that previously recovered this signature; ties break by lower
// estimated time.
func (g *Generator) rank(ctx context.Context, diag models.DiagnosisResult, options []models.RecoveryOption) {
	boosted := make(map[models.StrategyKind]bool)
	if g.learner != nil {
		for _, s := range g.learner.SuccessfulStrategies(ctx, diag.Signature()) {
			boosted[s] = true
		}
	}

	score := func(o models.RecoveryOption) float64 {
		s := o.Score()
		if boosted[o.Strategy] {
			s *= historyBoost
		}
		return s
	}

	sort.SliceStable(options, func(i, j int) bool {
		si, sj := score(options[i]), score(options[j])
		if si != sj {
			return si > sj
		}
		return options[i].EstimatedTime < options[j].EstimatedTime
	})
}

// synthesize adds options derived from the impact assessment rather than the
// category templates.
func (g *Generator) synthesize(ctx context.Context, diag models.DiagnosisResult, existing []models.RecoveryOption) []models.RecoveryOption {
	have := make(map[models.StrategyKind]bool, len(existing))
	for _, o := range existing {
		have[o.Strategy] = true
	}

	var out []models.RecoveryOption
	if diag.Impact.Scope == models.ScopeWidespread && !have[models.StrategyIsolateAndDegrade] {
		out = append(out, g.materialize(isolateTemplate(), diag))
	}
	if diag.Impact.DataLossRisk == models.RiskHigh && !have[models.StrategyRollback] {
		tpl := rollbackTemplate()
		if g.satisfied(ctx, tpl.prereqs, diag) {
			out = append(out, g.materialize(tpl, diag))
		}
	}
	return out
}

// manualFallback guarantees the generator never returns an empty list.
func (g *Generator) manualFallback(diag models.DiagnosisResult) models.RecoveryOption {
	resolutionKey := "manual:" + diag.Context.ComponentID + ":" + diag.Context.Phase
	return models.RecoveryOption{
		Strategy:           models.StrategyManualIntervention,
		Description:        fmt.Sprintf("Hand %s over to an operator and wait for resolution", diag.Context.ComponentID),
		EstimatedTime:      30 * time.Minute,
		SuccessProbability: 0.95,
		Risk:               models.RiskHigh, // high operator cost keeps it ranked last
		Steps: []models.FallbackStep{
			{
				Level: 1,
				Kind:  models.ActionNotifyWait,
				Params: models.NotifyWaitParams{
					ChannelID:     "operators",
					Message:       fmt.Sprintf("manual intervention required for %s (%s)", diag.Context.ComponentID, diag.Cause.Category),
					ResolutionKey: resolutionKey,
				},
				Timeout: 0, // block for the external resolution signal
				Retries: 1,
			},
		},
	}
}

func (g *Generator) materialize(tpl optionTemplate, diag models.DiagnosisResult) models.RecoveryOption {
	steps := tpl.steps(diag, g.defaults)
	for i := range steps {
		if steps[i].Timeout == 0 && steps[i].Kind != models.ActionManualIntervention && steps[i].Kind != models.ActionNotifyWait {
			steps[i].Timeout = g.defaults.Timeout
		}
		if steps[i].Retries < 1 {
			steps[i].Retries = g.defaults.Retries
		}
	}
	return models.RecoveryOption{
		Strategy:           tpl.strategy,
		Description:        fmt.Sprintf(tpl.description, diag.Context.ComponentID),
		EstimatedTime:      tpl.estimatedTime,
		SuccessProbability: tpl.probability,
		Risk:               tpl.risk,
		Prerequisites:      tpl.prereqs,
		Steps:              steps,
	}
}
