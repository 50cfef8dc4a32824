package models

import "time"

// FailureContext is the raw failure handed in by the surrounding pipeline.
type FailureContext struct {
	Kind          FailureKind       `json:"kind"`
	ComponentID   string            `json:"componentId"`
	ComponentKind string            `json:"componentKind"`
	Phase         string            `json:"phase"`
	Timestamp     time.Time         `json:"timestamp"`
	Error         string            `json:"error"`
	Stack         string            `json:"stack,omitempty"`
	State         map[string]string `json:"state,omitempty"`
	Input         string            `json:"input,omitempty"`
	PartialOutput string            `json:"partialOutput,omitempty"`
}

// RootCause is the classified origin of a failure. Produced deterministically
// by rule matching: identical context yields an identical category.
type RootCause struct {
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Evidence    []string `json:"evidence,omitempty"`
}

// Impact sizes the blast radius and recovery effort of a diagnosis.
type Impact struct {
	Severity          Severity      `json:"severity"`
	Scope             Scope         `json:"scope"`
	EstimatedRecovery time.Duration `json:"estimatedRecovery"`
	DataLossRisk      RiskLevel     `json:"dataLossRisk"`
}

// DiagnosisResult bundles everything the executor and learner need about a
// failure: context, cause, blast radius, and the ranked recovery options.
type DiagnosisResult struct {
	Context            FailureContext
	Cause              RootCause
	AffectedComponents []string
	Impact             Impact
	Options            []RecoveryOption // ranked best-first by the strategy generator
}

// Recommended returns the best-ranked option, nil when none were generated.
func (d DiagnosisResult) Recommended() *RecoveryOption {
	if len(d.Options) == 0 {
		return nil
	}
	return &d.Options[0]
}

// Signature correlates this diagnosis with recurring failures.
func (d DiagnosisResult) Signature() FailureSignature {
	return FailureSignature{
		FailureKind:   d.Context.Kind,
		Category:      d.Cause.Category,
		ComponentKind: d.Context.ComponentKind,
		Phase:         d.Context.Phase,
	}
}
