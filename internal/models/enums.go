package models

// Severity captures impact levels, ordered from LOW to CRITICAL.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank maps a severity onto a sortable ordinal; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 0
	default:
		return -1
	}
}

// EventStatus is the emergency-event state machine.
type EventStatus string

const (
	EventTriggered      EventStatus = "TRIGGERED"
	EventFallbackActive EventStatus = "FALLBACK_ACTIVE"
	EventMitigated      EventStatus = "MITIGATED"
	EventEscalated      EventStatus = "ESCALATED"
	EventUnrecoverable  EventStatus = "UNRECOVERABLE"
)

// Terminal reports whether no further transitions are allowed.
func (s EventStatus) Terminal() bool {
	switch s {
	case EventMitigated, EventEscalated, EventUnrecoverable:
		return true
	default:
		return false
	}
}

// ExecutionStatus tracks a single recovery execution.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionInProgress ExecutionStatus = "in_progress"
	ExecutionSuccess    ExecutionStatus = "success"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionRolledBack ExecutionStatus = "rolled_back"
)

// FinalState is the validated outcome of a recovery execution.
type FinalState string

const (
	FinalRecovered FinalState = "recovered"
	FinalPartial   FinalState = "partial"
	FinalFailed    FinalState = "failed"
)

// RiskLevel grades how dangerous a recovery option is to apply.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Weight returns the ranking penalty applied to an option of this risk.
func (r RiskLevel) Weight() float64 {
	switch r {
	case RiskHigh:
		return 0.6
	case RiskMedium:
		return 0.3
	default:
		return 0.1
	}
}

// Scope sizes the blast radius of a failure.
type Scope string

const (
	ScopeIsolated   Scope = "isolated"
	ScopeModerate   Scope = "moderate"
	ScopeWidespread Scope = "widespread"
)

// FailureKind classifies the raw failure reported by the pipeline.
type FailureKind string

const (
	FailureAgentCrash         FailureKind = "agent_crash"
	FailureTimeout            FailureKind = "timeout"
	FailureValidationError    FailureKind = "validation_error"
	FailureResourceExhaustion FailureKind = "resource_exhaustion"
	FailureOutputCorruption   FailureKind = "output_corruption"
	FailureDependencyDown     FailureKind = "dependency_down"
	FailureStateInconsistent  FailureKind = "state_inconsistent"
)

// StrategyKind names a family of recovery strategies.
type StrategyKind string

const (
	StrategyRetry              StrategyKind = "retry"
	StrategyRestoreCheckpoint  StrategyKind = "restore_checkpoint"
	StrategySwitchAlternative  StrategyKind = "switch_alternative"
	StrategyCacheFallback      StrategyKind = "cache_fallback"
	StrategyResourceRelief     StrategyKind = "resource_relief"
	StrategyIsolateAndDegrade  StrategyKind = "isolate_and_degrade"
	StrategyRollback           StrategyKind = "rollback"
	StrategyManualIntervention StrategyKind = "manual_intervention"
)
