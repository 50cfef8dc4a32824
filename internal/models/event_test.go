package models

import "testing"

func TestEventLifecycle(t *testing.T) {
	event := NewEmergencyEvent("e1", "trigger-1", SeverityHigh)
	if event.Status != EventTriggered {
		t.Fatalf("expected TRIGGERED, got %s", event.Status)
	}

	if err := event.EnterFallback(1); err != nil {
		t.Fatalf("enter level 1: %v", err)
	}
	if event.Status != EventFallbackActive || event.ActiveLevel != 1 {
		t.Fatalf("expected active level 1, got %s level %d", event.Status, event.ActiveLevel)
	}

	if err := event.EnterFallback(1); err == nil {
		t.Fatal("expected error: fallback levels must be monotonic")
	}
	if err := event.EnterFallback(2); err != nil {
		t.Fatalf("enter level 2: %v", err)
	}

	if err := event.Finish(EventMitigated, Resolution{Kind: ResolutionMitigated}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if event.Resolution == nil || event.Resolution.ResolvedAt.IsZero() {
		t.Fatal("expected resolution with timestamp")
	}

	if err := event.EnterFallback(3); err == nil {
		t.Fatal("expected error: terminal events accept no transitions")
	}
	if err := event.Finish(EventEscalated, Resolution{Kind: ResolutionEscalated}); err == nil {
		t.Fatal("expected error: event already terminal")
	}
}

func TestEventFinishRejectsNonTerminal(t *testing.T) {
	event := NewEmergencyEvent("e1", "trigger-1", SeverityLow)
	if err := event.Finish(EventFallbackActive, Resolution{}); err == nil {
		t.Fatal("expected error for non-terminal status")
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	ordered := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Fatalf("%s should outrank %s", ordered[i], ordered[i-1])
		}
	}
	if Severity("BOGUS").Rank() != -1 {
		t.Fatal("unknown severity should rank -1")
	}
}

func TestRecoveryOptionScore(t *testing.T) {
	cases := []struct {
		name string
		opt  RecoveryOption
		want float64
	}{
		{"low risk", RecoveryOption{SuccessProbability: 0.8, Risk: RiskLow}, 0.8 * 0.9},
		{"medium risk", RecoveryOption{SuccessProbability: 0.8, Risk: RiskMedium}, 0.8 * 0.7},
		{"high risk", RecoveryOption{SuccessProbability: 0.8, Risk: RiskHigh}, 0.8 * 0.4},
	}
	for _, tc := range cases {
		if got := tc.opt.Score(); got != tc.want {
			t.Errorf("%s: score = %v, want %v", tc.name, got, tc.want)
		}
	}
}
