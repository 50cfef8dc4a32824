package models

import (
	"fmt"
	"time"
)

// FailureSignature correlates recurring failures across emergencies.
type FailureSignature struct {
	FailureKind   FailureKind `json:"failureKind"`
	Category      string      `json:"category"`
	ComponentKind string      `json:"componentKind"`
	Phase         string      `json:"phase"`
}

// Key renders a stable store key fragment for this signature.
func (s FailureSignature) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", s.FailureKind, s.Category, s.ComponentKind, s.Phase)
}

// PreventionStrategy is a proactive mitigation derived from recovery history.
type PreventionStrategy struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Effectiveness float64 `json:"effectiveness"` // historical success rate for the signature
}

// FailurePattern aggregates recovery outcomes per signature. Patterns are
// append-only: created on first occurrence, updated forever after, never deleted.
type FailurePattern struct {
	Signature     FailureSignature     `json:"signature"`
	Occurrences   int                  `json:"occurrences"`
	SuccessCounts map[StrategyKind]int `json:"successCounts,omitempty"`
	FailureCounts map[StrategyKind]int `json:"failureCounts,omitempty"`
	Preventions   []PreventionStrategy `json:"preventions,omitempty"`
	LastSeen      time.Time            `json:"lastSeen"`
}

// RecordOutcome folds one execution outcome into the pattern.
func (p *FailurePattern) RecordOutcome(strategy StrategyKind, recovered bool, at time.Time) {
	p.Occurrences++
	if at.After(p.LastSeen) {
		p.LastSeen = at
	}
	if recovered {
		if p.SuccessCounts == nil {
			p.SuccessCounts = make(map[StrategyKind]int)
		}
		p.SuccessCounts[strategy]++
		return
	}
	if p.FailureCounts == nil {
		p.FailureCounts = make(map[StrategyKind]int)
	}
	p.FailureCounts[strategy]++
}

// SuccessRate returns the historical success rate of a strategy for this
// signature, zero when the strategy was never tried.
func (p *FailurePattern) SuccessRate(strategy StrategyKind) float64 {
	succ := p.SuccessCounts[strategy]
	fail := p.FailureCounts[strategy]
	total := succ + fail
	if total == 0 {
		return 0
	}
	return float64(succ) / float64(total)
}
