package strategy

import (
	"context"
	"testing"

	"github.com/opsforge/remedy/internal/models"
)

type fakeLearner struct {
	successful []models.StrategyKind
}

func (f *fakeLearner) SuccessfulStrategies(context.Context, models.FailureSignature) []models.StrategyKind {
	return f.successful
}

func allowAll(context.Context, string, models.DiagnosisResult) bool { return true }
func denyAll(context.Context, string, models.DiagnosisResult) bool  { return false }

func diagWith(category string) models.DiagnosisResult {
	return models.DiagnosisResult{
		Context: models.FailureContext{
			Kind:          models.FailureTimeout,
			ComponentID:   "executor",
			ComponentKind: "agent",
			Phase:         "build",
		},
		Cause: models.RootCause{Category: category, Severity: models.SeverityMedium},
	}
}

func TestGenerateAlwaysIncludesManualFallback(t *testing.T) {
	g := New(nil, PrereqFunc(denyAll), Defaults{}, nil)

	options := g.Generate(context.Background(), diagWith("no_such_category"))
	if len(options) == 0 {
		t.Fatal("expected at least the manual fallback")
	}
	last := options[len(options)-1]
	if last.Strategy != models.StrategyManualIntervention {
		t.Fatalf("last option = %s, want manual_intervention", last.Strategy)
	}
	if len(last.Steps) != 1 || last.Steps[0].Kind != models.ActionNotifyWait {
		t.Fatalf("manual fallback should be a single notify-and-wait step")
	}
	if last.Steps[0].Timeout != 0 {
		t.Fatal("manual fallback must block on the external resolution signal")
	}
}

func TestGenerateRanksByScore(t *testing.T) {
	g := New(nil, PrereqFunc(allowAll), Defaults{}, nil)

	options := g.Generate(context.Background(), diagWith("dependency_unreachable"))
	for i := 1; i < len(options); i++ {
		prev, cur := options[i-1], options[i]
		if prev.Score() < cur.Score() {
			t.Fatalf("options out of order at %d: %s (%.3f) before %s (%.3f)",
				i, prev.Strategy, prev.Score(), cur.Strategy, cur.Score())
		}
		if prev.Score() == cur.Score() && prev.EstimatedTime > cur.EstimatedTime {
			t.Fatalf("tie at %d not broken by estimated time", i)
		}
	}
}

func TestLearnerBoostReordersOptions(t *testing.T) {
	diag := diagWith("dependency_slow")

	plain := New(nil, PrereqFunc(allowAll), Defaults{}, nil).Generate(context.Background(), diag)
	if plain[0].Strategy != models.StrategyRetry {
		t.Fatalf("baseline best = %s, want retry", plain[0].Strategy)
	}

	// Retry scores 0.7*0.9=0.63 against switch's 0.75*0.7=0.525; a history
	// boost on switch (0.525*1.25=0.656) must put it first.
	boosted := New(
		&fakeLearner{successful: []models.StrategyKind{models.StrategySwitchAlternative}},
		PrereqFunc(allowAll), Defaults{}, nil,
	).Generate(context.Background(), diag)
	if boosted[0].Strategy != models.StrategySwitchAlternative {
		t.Fatalf("boosted best = %s, want switch_alternative", boosted[0].Strategy)
	}
}

func TestPrerequisitesFilterOptions(t *testing.T) {
	g := New(nil, PrereqFunc(func(_ context.Context, name string, _ models.DiagnosisResult) bool {
		return name != PrereqCheckpointExists
	}), Defaults{}, nil)

	options := g.Generate(context.Background(), diagWith("process_fault"))
	for _, opt := range options {
		if opt.Strategy == models.StrategyRestoreCheckpoint {
			t.Fatal("restore_checkpoint should be filtered without a checkpoint")
		}
	}
}

func TestSynthesizedOptionsFromImpact(t *testing.T) {
	g := New(nil, PrereqFunc(allowAll), Defaults{}, nil)

	diag := diagWith("dependency_slow")
	diag.Impact.Scope = models.ScopeWidespread
	diag.Impact.DataLossRisk = models.RiskHigh

	var haveIsolate, haveRollback bool
	for _, opt := range g.Generate(context.Background(), diag) {
		switch opt.Strategy {
		case models.StrategyIsolateAndDegrade:
			haveIsolate = true
		case models.StrategyRollback:
			haveRollback = true
		}
	}
	if !haveIsolate {
		t.Fatal("widespread impact should synthesize an isolate option")
	}
	if !haveRollback {
		t.Fatal("high data-loss risk should synthesize a rollback option")
	}
}

func TestCacheFallbackDoesNotShadowIsolate(t *testing.T) {
	g := New(nil, PrereqFunc(allowAll), Defaults{}, nil)

	diag := diagWith("dependency_slow")
	diag.Impact.Scope = models.ScopeWidespread

	// Cache fallback and isolate-and-degrade are distinct strategies: a
	// cache-fallback option in the template set must not suppress the isolate
	// option synthesized for widespread impact.
	var haveCache, haveIsolate bool
	for _, opt := range g.Generate(context.Background(), diag) {
		switch opt.Strategy {
		case models.StrategyCacheFallback:
			haveCache = true
		case models.StrategyIsolateAndDegrade:
			haveIsolate = true
		}
	}
	if !haveCache {
		t.Fatal("dependency_slow should offer a cache_fallback option")
	}
	if !haveIsolate {
		t.Fatal("widespread impact should still synthesize an isolate option")
	}
}

func TestMaterializeAppliesStepDefaults(t *testing.T) {
	g := New(nil, PrereqFunc(allowAll), Defaults{}, nil)

	for _, opt := range g.Generate(context.Background(), diagWith("memory_exhaustion")) {
		for _, step := range opt.Steps {
			if err := step.Validate(); err != nil {
				t.Errorf("option %s: invalid materialized step: %v", opt.Strategy, err)
			}
		}
	}
}
