package models

import "time"

// RecoveryOption is one candidate remediation plan for a diagnosis.
type RecoveryOption struct {
	Strategy           StrategyKind
	Description        string
	EstimatedTime      time.Duration
	SuccessProbability float64 // in [0,1]
	Risk               RiskLevel
	Prerequisites      []string
	Steps              []FallbackStep
}

// Score is the ranking key: successProbability x (1 - riskWeight).
func (o RecoveryOption) Score() float64 {
	return o.SuccessProbability * (1 - o.Risk.Weight())
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	Level      int        `json:"level"`
	Kind       ActionKind `json:"kind"`
	Attempts   int        `json:"attempts"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    time.Time  `json:"endedAt"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	RolledBack bool       `json:"rolledBack,omitempty"`
}

// RecoveryExecution is the full record of running one option's chain.
type RecoveryExecution struct {
	ID         string
	Option     RecoveryOption
	Status     ExecutionStatus
	StartedAt  time.Time
	EndedAt    time.Time
	Steps      []StepResult
	FinalState FinalState
}

// Recovered reports whether validation confirmed full recovery.
func (e RecoveryExecution) Recovered() bool {
	return e.FinalState == FinalRecovered
}

// RecoveryReport is the persisted outcome handed to downstream sign-off gates.
type RecoveryReport struct {
	EventID            string               `json:"eventId"`
	TriggerID          string               `json:"triggerId"`
	Severity           Severity             `json:"severity"`
	Cause              RootCause            `json:"cause"`
	AffectedComponents []string             `json:"affectedComponents,omitempty"`
	Attempts           []FallbackAttempt    `json:"attempts"`
	FinalState         FinalState           `json:"finalState"`
	Status             EventStatus          `json:"status"`
	Lessons            []string             `json:"lessons,omitempty"`
	Preventions        []PreventionStrategy `json:"preventions,omitempty"`
	CreatedAt          time.Time            `json:"createdAt"`
}
