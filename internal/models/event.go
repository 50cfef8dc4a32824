package models

import (
	"fmt"
	"time"
)

// ResolutionKind classifies how an emergency ended.
type ResolutionKind string

const (
	ResolutionMitigated     ResolutionKind = "mitigated"
	ResolutionEscalated     ResolutionKind = "escalated"
	ResolutionUnrecoverable ResolutionKind = "unrecoverable"
)

// Resolution records the terminal outcome of an emergency event.
type Resolution struct {
	Kind        ResolutionKind `json:"kind"`
	FinalAction ActionKind     `json:"finalAction,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	ResolvedAt  time.Time      `json:"resolvedAt"`
}

// FallbackAttempt is one executed fallback level within an event.
type FallbackAttempt struct {
	Level     int        `json:"level"`
	Action    ActionKind `json:"action"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   time.Time  `json:"endedAt"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
}

// EmergencyEvent tracks one emergency from trigger to terminal state.
// Status moves TRIGGERED -> FALLBACK_ACTIVE (ActiveLevel monotonic) ->
// {MITIGATED | ESCALATED | UNRECOVERABLE}.
type EmergencyEvent struct {
	ID          string            `json:"id"`
	TriggerID   string            `json:"triggerId"`
	Severity    Severity          `json:"severity"`
	Status      EventStatus       `json:"status"`
	ActiveLevel int               `json:"activeLevel"`
	CreatedAt   time.Time         `json:"createdAt"`
	Attempts    []FallbackAttempt `json:"attempts"`
	Resolution  *Resolution       `json:"resolution,omitempty"`
}

// NewEmergencyEvent creates an event in the TRIGGERED state.
func NewEmergencyEvent(id, triggerID string, severity Severity) *EmergencyEvent {
	return &EmergencyEvent{
		ID:        id,
		TriggerID: triggerID,
		Severity:  severity,
		Status:    EventTriggered,
		CreatedAt: time.Now().UTC(),
	}
}

// EnterFallback transitions the event into fallback level k. Levels must be
// monotonically increasing and the event must not be terminal.
func (e *EmergencyEvent) EnterFallback(level int) error {
	if e.Status.Terminal() {
		return fmt.Errorf("event %s: already terminal (%s)", e.ID, e.Status)
	}
	if level <= e.ActiveLevel {
		return fmt.Errorf("event %s: fallback level must increase, have %d got %d", e.ID, e.ActiveLevel, level)
	}
	e.Status = EventFallbackActive
	e.ActiveLevel = level
	return nil
}

// RecordAttempt appends a completed fallback attempt.
func (e *EmergencyEvent) RecordAttempt(a FallbackAttempt) {
	e.Attempts = append(e.Attempts, a)
}

// Finish moves the event into a terminal status with its resolution.
func (e *EmergencyEvent) Finish(status EventStatus, res Resolution) error {
	if !status.Terminal() {
		return fmt.Errorf("event %s: %s is not a terminal status", e.ID, status)
	}
	if e.Status.Terminal() {
		return fmt.Errorf("event %s: already terminal (%s)", e.ID, e.Status)
	}
	res.ResolvedAt = time.Now().UTC()
	e.Status = status
	e.Resolution = &res
	return nil
}
