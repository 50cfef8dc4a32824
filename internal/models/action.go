package models

import "time"

// ActionKind enumerates the remediation actions a fallback step can take.
type ActionKind string

const (
	ActionRetryBackoff       ActionKind = "retry_with_backoff"
	ActionSwitchAlternative  ActionKind = "switch_to_alternative"
	ActionRestoreCheckpoint  ActionKind = "restore_checkpoint"
	ActionPartialRollback    ActionKind = "partial_rollback"
	ActionFullRollback       ActionKind = "full_rollback"
	ActionSkip               ActionKind = "skip"
	ActionIsolate            ActionKind = "isolate"
	ActionCacheFallback      ActionKind = "cache_fallback"
	ActionDegrade            ActionKind = "degrade"
	ActionManualIntervention ActionKind = "manual_intervention"
	ActionSafeShutdown       ActionKind = "safe_shutdown"
	ActionPersistCheckpoint  ActionKind = "persist_and_checkpoint"
	ActionNotifyWait         ActionKind = "notify_and_wait"
	ActionQuarantine         ActionKind = "quarantine"
)

// ActionParams is the per-kind payload of a fallback step. Each action kind has
// exactly one concrete params type so missing fields fail at catalog build time,
// not mid-recovery.
type ActionParams interface {
	Kind() ActionKind
}

// RetryBackoffParams re-runs the failed operation with linear backoff.
type RetryBackoffParams struct {
	OperationKey string
	BaseDelay    time.Duration
}

func (RetryBackoffParams) Kind() ActionKind { return ActionRetryBackoff }

// SwitchAlternativeParams routes work to a configured alternative component.
type SwitchAlternativeParams struct {
	AlternativeID string
	DependencyID  string // breaker key guarding the alternative, optional
}

func (SwitchAlternativeParams) Kind() ActionKind { return ActionSwitchAlternative }

// RestoreCheckpointParams rewinds component state to a stored checkpoint.
type RestoreCheckpointParams struct {
	CheckpointKey string
}

func (RestoreCheckpointParams) Kind() ActionKind { return ActionRestoreCheckpoint }

// RollbackParams undoes pipeline state back to a stage boundary.
type RollbackParams struct {
	ToPhase string
	Full    bool
}

func (p RollbackParams) Kind() ActionKind {
	if p.Full {
		return ActionFullRollback
	}
	return ActionPartialRollback
}

// SkipParams records why the failing stage output is being skipped.
type SkipParams struct {
	Reason string
}

func (SkipParams) Kind() ActionKind { return ActionSkip }

// IsolateParams fences a component off from the rest of the pipeline.
type IsolateParams struct {
	ComponentID string
}

func (IsolateParams) Kind() ActionKind { return ActionIsolate }

// CacheFallbackParams serves the last known-good output from the store.
type CacheFallbackParams struct {
	CacheKey string
	MaxAge   time.Duration
}

func (CacheFallbackParams) Kind() ActionKind { return ActionCacheFallback }

// DegradeParams switches a component to reduced-functionality mode.
type DegradeParams struct {
	Mode             string
	DisabledFeatures []string
}

func (DegradeParams) Kind() ActionKind { return ActionDegrade }

// ManualInterventionParams blocks until an operator writes the resolution key.
type ManualInterventionParams struct {
	Instructions  string
	ResolutionKey string
}

func (ManualInterventionParams) Kind() ActionKind { return ActionManualIntervention }

// SafeShutdownParams flushes state and stops the affected component.
type SafeShutdownParams struct {
	FlushTimeout time.Duration
}

func (SafeShutdownParams) Kind() ActionKind { return ActionSafeShutdown }

// PersistCheckpointParams snapshots current component state before riskier steps.
type PersistCheckpointParams struct {
	CheckpointKey string
}

func (PersistCheckpointParams) Kind() ActionKind { return ActionPersistCheckpoint }

// NotifyWaitParams notifies a channel and waits for the resolution key.
type NotifyWaitParams struct {
	ChannelID     string
	Message       string
	ResolutionKey string
}

func (NotifyWaitParams) Kind() ActionKind { return ActionNotifyWait }

// QuarantineParams removes a component from rotation for a period.
type QuarantineParams struct {
	ComponentID string
	Duration    time.Duration
}

func (QuarantineParams) Kind() ActionKind { return ActionQuarantine }
