package catalog

import (
	"time"

	"github.com/opsforge/remedy/internal/models"
)

// Default returns the built-in emergency definitions. They watch the health
// gauges and flags the surrounding pipeline publishes into the store and carry
// pre-bound fallback chains. Deployments with their own catalog pass their
// definitions to New directly.
func Default() []models.TriggerDefinition {
	return []models.TriggerDefinition{
		{
			ID:           "agent-crash-loop",
			Description:  "pipeline agent crashed and did not come back",
			Severity:     models.SeverityCritical,
			FailureKinds: []models.FailureKind{models.FailureAgentCrash},
			Detect: func(s models.StateSnapshot) (bool, error) {
				return s.Flag("agent_crashed"), nil
			},
			Steps: []models.FallbackStep{
				{
					Level:   1,
					Kind:    models.ActionRestoreCheckpoint,
					Params:  models.RestoreCheckpointParams{CheckpointKey: "checkpoint:pipeline"},
					Timeout: 30 * time.Second,
					Retries: 2,
				},
				{
					Level: 2,
					Kind:  models.ActionNotifyWait,
					Params: models.NotifyWaitParams{
						ChannelID:     "operators",
						Message:       "pipeline agent crash loop, checkpoint restore failed",
						ResolutionKey: "manual:agent-crash-loop",
					},
					Retries: 1,
				},
			},
			EscalationPath: []string{"oncall-primary", "pipeline-owner"},
			Channels:       []string{"operators"},
		},
		{
			ID:           "memory-pressure",
			Description:  "pipeline memory usage above the safe watermark",
			Severity:     models.SeverityHigh,
			FailureKinds: []models.FailureKind{models.FailureResourceExhaustion},
			Detect: func(s models.StateSnapshot) (bool, error) {
				return s.Value("memory_used_ratio") > 0.9, nil
			},
			Steps: []models.FallbackStep{
				{
					Level:   1,
					Kind:    models.ActionDegrade,
					Params:  models.DegradeParams{Mode: "reduced_batch", DisabledFeatures: []string{"prefetch"}},
					Timeout: 15 * time.Second,
					Retries: 1,
				},
				{
					Level:   2,
					Kind:    models.ActionSafeShutdown,
					Params:  models.SafeShutdownParams{FlushTimeout: 20 * time.Second},
					Timeout: 30 * time.Second,
					Retries: 1,
				},
			},
			EscalationPath: []string{"oncall-primary"},
			Channels:       []string{"operators"},
		},
		{
			ID:           "dependency-down",
			Description:  "an upstream dependency stopped answering",
			Severity:     models.SeverityHigh,
			FailureKinds: []models.FailureKind{models.FailureDependencyDown, models.FailureTimeout},
			Detect: func(s models.StateSnapshot) (bool, error) {
				return s.Flag("dependency_down"), nil
			},
			Steps: []models.FallbackStep{
				{
					Level:   1,
					Kind:    models.ActionSwitchAlternative,
					Params:  models.SwitchAlternativeParams{AlternativeID: "standby", DependencyID: "primary"},
					Timeout: 20 * time.Second,
					Retries: 2,
				},
				{
					Level:   2,
					Kind:    models.ActionCacheFallback,
					Params:  models.CacheFallbackParams{CacheKey: "cache:primary", MaxAge: time.Hour},
					Timeout: 10 * time.Second,
					Retries: 1,
				},
				{
					Level: 3,
					Kind:  models.ActionNotifyWait,
					Params: models.NotifyWaitParams{
						ChannelID:     "operators",
						Message:       "dependency down, no alternative or cache available",
						ResolutionKey: "manual:dependency-down",
					},
					Retries: 1,
				},
			},
			EscalationPath: []string{"oncall-primary", "dependency-owner"},
			Channels:       []string{"operators"},
		},
		{
			ID:          "state-corruption",
			Description: "pipeline state diverged from its invariants",
			Severity:    models.SeverityCritical,
			FailureKinds: []models.FailureKind{
				models.FailureOutputCorruption,
				models.FailureStateInconsistent,
			},
			Detect: func(s models.StateSnapshot) (bool, error) {
				return s.Flag("state_inconsistent"), nil
			},
			Steps: []models.FallbackStep{
				{
					Level:   1,
					Kind:    models.ActionIsolate,
					Params:  models.IsolateParams{ComponentID: "pipeline"},
					Timeout: 10 * time.Second,
					Retries: 1,
				},
				{
					Level:   2,
					Kind:    models.ActionFullRollback,
					Params:  models.RollbackParams{ToPhase: "last_consistent", Full: true},
					Timeout: 60 * time.Second,
					Retries: 1,
				},
				{
					Level: 3,
					Kind:  models.ActionManualIntervention,
					Params: models.ManualInterventionParams{
						Instructions:  "inspect pipeline state keys and clear the inconsistency markers",
						ResolutionKey: "manual:state-corruption",
					},
					Retries: 1,
				},
			},
			EscalationPath: []string{"oncall-primary", "data-owner"},
			Channels:       []string{"operators"},
		},
		{
			ID:           "queue-backlog",
			Description:  "work queue depth above the drain capacity",
			Severity:     models.SeverityMedium,
			FailureKinds: []models.FailureKind{models.FailureValidationError},
			Detect: func(s models.StateSnapshot) (bool, error) {
				return s.Value("queue_depth") > 1000, nil
			},
			Steps: []models.FallbackStep{
				{
					Level:   1,
					Kind:    models.ActionDegrade,
					Params:  models.DegradeParams{Mode: "drain_only", DisabledFeatures: []string{"enrichment"}},
					Timeout: 15 * time.Second,
					Retries: 1,
				},
				{
					Level:   2,
					Kind:    models.ActionSkip,
					Params:  models.SkipParams{Reason: "backlog not draining, shedding low-priority work"},
					Timeout: 5 * time.Second,
					Retries: 1,
				},
			},
			EscalationPath: []string{"pipeline-owner"},
			Channels:       []string{"operators"},
		},
	}
}
