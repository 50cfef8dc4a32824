package strategy

import (
	"time"

	"github.com/opsforge/remedy/internal/models"
)

// Prerequisite names understood by the store-backed checker.
const (
	PrereqCheckpointExists      = "checkpoint_exists"
	PrereqAlternativeConfigured = "alternative_configured"
	PrereqCachedOutputExists    = "cached_output_exists"
)

// optionTemplate is an abstract recovery plan for one root-cause category.
// steps materializes the plan against a concrete diagnosis.
type optionTemplate struct {
	strategy      models.StrategyKind
	description   string // fmt pattern, %s = component id
	probability   float64
	risk          models.RiskLevel
	estimatedTime time.Duration
	prereqs       []string
	steps         func(diag models.DiagnosisResult, d Defaults) []models.FallbackStep
}

// templatesFor returns the candidate templates for a root-cause category.
// Unknown categories fall back to the retry family; the manual-intervention
// option is appended by the generator regardless.
func templatesFor(category string) []optionTemplate {
	switch category {
	case "memory_exhaustion":
		return []optionTemplate{resourceReliefTemplate(), restoreCheckpointTemplate(), retryTemplate()}
	case "process_fault":
		return []optionTemplate{restoreCheckpointTemplate(), retryTemplate()}
	case "dependency_slow":
		return []optionTemplate{retryTemplate(), switchAlternativeTemplate(), cacheFallbackTemplate()}
	case "dependency_unreachable":
		return []optionTemplate{switchAlternativeTemplate(), cacheFallbackTemplate(), retryTemplate()}
	case "contract_violation":
		return []optionTemplate{retryTemplate(), restoreCheckpointTemplate()}
	case "disk_pressure":
		return []optionTemplate{resourceReliefTemplate()}
	case "quota_exhaustion":
		return []optionTemplate{retryTemplate(), switchAlternativeTemplate()}
	case "state_corruption", "memory_corruption":
		return []optionTemplate{rollbackTemplate(), restoreCheckpointTemplate()}
	default:
		return []optionTemplate{retryTemplate()}
	}
}

func retryTemplate() optionTemplate {
	return optionTemplate{
		strategy:      models.StrategyRetry,
		description:   "Retry %s with linear backoff",
		probability:   0.7,
		risk:          models.RiskLow,
		estimatedTime: time.Minute,
		steps: func(diag models.DiagnosisResult, d Defaults) []models.FallbackStep {
			return []models.FallbackStep{
				{
					Level: 1,
					Kind:  models.ActionRetryBackoff,
					Params: models.RetryBackoffParams{
						OperationKey: diag.Context.Phase,
						BaseDelay:    d.BackoffBase,
					},
					Retries: 3,
				},
			}
		},
	}
}

func restoreCheckpointTemplate() optionTemplate {
	return optionTemplate{
		strategy:      models.StrategyRestoreCheckpoint,
		description:   "Restore %s from its last checkpoint and re-run the stage",
		probability:   0.8,
		risk:          models.RiskMedium,
		estimatedTime: 2 * time.Minute,
		prereqs:       []string{PrereqCheckpointExists},
		steps: func(diag models.DiagnosisResult, d Defaults) []models.FallbackStep {
			checkpointKey := "checkpoint:" + diag.Context.ComponentID
			return []models.FallbackStep{
				{
					Level:    1,
					Kind:     models.ActionRestoreCheckpoint,
					Params:   models.RestoreCheckpointParams{CheckpointKey: checkpointKey},
					Critical: true, // a failed restore must not be followed by a re-run
					Retries:  2,
				},
				{
					Level: 2,
					Kind:  models.ActionRetryBackoff,
					Params: models.RetryBackoffParams{
						OperationKey: diag.Context.Phase,
						BaseDelay:    d.BackoffBase,
					},
					Retries: 2,
				},
			}
		},
	}
}

func switchAlternativeTemplate() optionTemplate {
	return optionTemplate{
		strategy:      models.StrategySwitchAlternative,
		description:   "Route %s traffic to its configured alternative",
		probability:   0.75,
		risk:          models.RiskMedium,
		estimatedTime: 90 * time.Second,
		prereqs:       []string{PrereqAlternativeConfigured},
		steps: func(diag models.DiagnosisResult, d Defaults) []models.FallbackStep {
			return []models.FallbackStep{
				{
					Level: 1,
					Kind:  models.ActionSwitchAlternative,
					Params: models.SwitchAlternativeParams{
						AlternativeID: diag.Context.State["alternativeId"],
						DependencyID:  diag.Context.ComponentID,
					},
					Retries: 2,
					Rollback: models.SwitchAlternativeParams{
						AlternativeID: diag.Context.ComponentID,
						DependencyID:  diag.Context.ComponentID,
					},
				},
			}
		},
	}
}

func cacheFallbackTemplate() optionTemplate {
	return optionTemplate{
		strategy:      models.StrategyCacheFallback,
		description:   "Serve %s output from the last known-good cache",
		probability:   0.6,
		risk:          models.RiskLow,
		estimatedTime: 30 * time.Second,
		prereqs:       []string{PrereqCachedOutputExists},
		steps: func(diag models.DiagnosisResult, d Defaults) []models.FallbackStep {
			return []models.FallbackStep{
				{
					Level: 1,
					Kind:  models.ActionCacheFallback,
					Params: models.CacheFallbackParams{
						CacheKey: "cache:" + diag.Context.ComponentID,
						MaxAge:   time.Hour,
					},
					Retries: 1,
				},
				{
					Level:   2,
					Kind:    models.ActionDegrade,
					Params:  models.DegradeParams{Mode: "cached_only"},
					Retries: 1,
				},
			}
		},
	}
}

func resourceReliefTemplate() optionTemplate {
	return optionTemplate{
		strategy:      models.StrategyResourceRelief,
		description:   "Degrade %s to relieve resource pressure, then retry",
		probability:   0.65,
		risk:          models.RiskLow,
		estimatedTime: 2 * time.Minute,
		steps: func(diag models.DiagnosisResult, d Defaults) []models.FallbackStep {
			return []models.FallbackStep{
				{
					Level:   1,
					Kind:    models.ActionDegrade,
					Params:  models.DegradeParams{Mode: "reduced_batch", DisabledFeatures: []string{"prefetch"}},
					Retries: 1,
				},
				{
					Level: 2,
					Kind:  models.ActionRetryBackoff,
					Params: models.RetryBackoffParams{
						OperationKey: diag.Context.Phase,
						BaseDelay:    d.BackoffBase,
					},
					Retries: 2,
				},
			}
		},
	}
}

func isolateTemplate() optionTemplate {
	return optionTemplate{
		strategy:      models.StrategyIsolateAndDegrade,
		description:   "Isolate %s and degrade the surrounding stages",
		probability:   0.55,
		risk:          models.RiskMedium,
		estimatedTime: 3 * time.Minute,
		steps: func(diag models.DiagnosisResult, d Defaults) []models.FallbackStep {
			return []models.FallbackStep{
				{
					Level:   1,
					Kind:    models.ActionIsolate,
					Params:  models.IsolateParams{ComponentID: diag.Context.ComponentID},
					Retries: 1,
				},
				{
					Level:   2,
					Kind:    models.ActionDegrade,
					Params:  models.DegradeParams{Mode: "partial_pipeline"},
					Retries: 1,
				},
			}
		},
	}
}

func rollbackTemplate() optionTemplate {
	return optionTemplate{
		strategy:      models.StrategyRollback,
		description:   "Checkpoint current state, then roll %s back to the stage boundary",
		probability:   0.7,
		risk:          models.RiskHigh,
		estimatedTime: 5 * time.Minute,
		steps: func(diag models.DiagnosisResult, d Defaults) []models.FallbackStep {
			return []models.FallbackStep{
				{
					Level:   1,
					Kind:    models.ActionPersistCheckpoint,
					Params:  models.PersistCheckpointParams{CheckpointKey: "checkpoint:" + diag.Context.ComponentID + ":pre-rollback"},
					Retries: 2,
				},
				{
					Level:    2,
					Kind:     models.ActionPartialRollback,
					Params:   models.RollbackParams{ToPhase: diag.Context.Phase},
					Critical: true,
					Retries:  1,
				},
			}
		},
	}
}
