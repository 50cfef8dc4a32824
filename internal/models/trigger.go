package models

import (
	"fmt"
	"time"
)

// StateSnapshot is a point-in-time view of the live pipeline state the monitor
// evaluates trigger predicates against.
type StateSnapshot struct {
	Values map[string]float64
	Flags  map[string]bool
	Taken  time.Time
}

// Value returns the named gauge, zero when absent.
func (s StateSnapshot) Value(key string) float64 {
	if s.Values == nil {
		return 0
	}
	return s.Values[key]
}

// Flag returns the named boolean, false when absent.
func (s StateSnapshot) Flag(key string) bool {
	if s.Flags == nil {
		return false
	}
	return s.Flags[key]
}

// Predicate decides whether a trigger condition holds for a snapshot.
type Predicate func(StateSnapshot) (bool, error)

// ActionResult is what a step action produced, fed to the success predicate.
type ActionResult struct {
	Output  string
	Details map[string]string
}

// SuccessPredicate evaluates an action result. A nil predicate means
// "no error implies success".
type SuccessPredicate func(ActionResult) bool

// FallbackStep is one level of a trigger's remediation chain. A Timeout of zero
// means the step blocks until an external resolution signal arrives, which only
// makes sense for manual-intervention and notify-and-wait actions.
type FallbackStep struct {
	Level     int
	Kind      ActionKind
	Params    ActionParams
	Timeout   time.Duration
	Retries   int
	Critical  bool
	Succeeded SuccessPredicate
	Rollback  ActionParams // optional compensating action
}

// Validate checks structural invariants of a single step.
func (s FallbackStep) Validate() error {
	if s.Level < 1 {
		return fmt.Errorf("step level %d: must be >= 1", s.Level)
	}
	if s.Retries < 1 {
		return fmt.Errorf("step level %d: retries must be >= 1", s.Level)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("step level %d: timeout must be >= 0", s.Level)
	}
	if s.Params == nil {
		return fmt.Errorf("step level %d: params are required", s.Level)
	}
	if s.Params.Kind() != s.Kind {
		return fmt.Errorf("step level %d: params kind %s does not match step kind %s", s.Level, s.Params.Kind(), s.Kind)
	}
	if s.Timeout == 0 && s.Kind != ActionManualIntervention && s.Kind != ActionNotifyWait {
		return fmt.Errorf("step level %d: zero timeout is only valid for manual-intervention or notify-and-wait", s.Level)
	}
	return nil
}

// TriggerDefinition is one immutable emergency definition in the catalog.
type TriggerDefinition struct {
	ID             string
	Description    string
	Severity       Severity
	FailureKinds   []FailureKind // inbound failures this trigger covers
	Detect         Predicate
	Steps          []FallbackStep
	EscalationPath []string
	Channels       []string
}

// Validate checks the trigger's invariants: non-empty id, a detection predicate,
// and fallback levels ascending and contiguous from 1.
func (t TriggerDefinition) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("trigger id is required")
	}
	if t.Severity.Rank() < 0 {
		return fmt.Errorf("trigger %s: unknown severity %q", t.ID, t.Severity)
	}
	if t.Detect == nil {
		return fmt.Errorf("trigger %s: detection predicate is required", t.ID)
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("trigger %s: at least one fallback step is required", t.ID)
	}
	for i, step := range t.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("trigger %s: %w", t.ID, err)
		}
		if step.Level != i+1 {
			return fmt.Errorf("trigger %s: levels must be contiguous from 1, got %d at position %d", t.ID, step.Level, i)
		}
	}
	return nil
}

// Covers reports whether this trigger handles the given failure kind.
func (t TriggerDefinition) Covers(kind FailureKind) bool {
	for _, k := range t.FailureKinds {
		if k == kind {
			return true
		}
	}
	return false
}
