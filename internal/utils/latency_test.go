package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentiles(t *testing.T) {
	tracker := NewLatencyTracker(10)
	for _, d := range []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
	} {
		tracker.Observe(d)
	}

	if tracker.Count() != 5 {
		t.Fatalf("count = %d, want 5", tracker.Count())
	}
	if got := tracker.Percentile(0); got != 10*time.Millisecond {
		t.Fatalf("p0 = %v, want the fastest sample", got)
	}
	if got := tracker.Percentile(100); got != 50*time.Millisecond {
		t.Fatalf("p100 = %v, want the slowest sample", got)
	}
	if got := tracker.Percentile(95); got < 40*time.Millisecond {
		t.Fatalf("p95 = %v, want at least 40ms", got)
	}
}

func TestLatencyTrackerEmptyWindow(t *testing.T) {
	if got := NewLatencyTracker(8).Percentile(95); got != 0 {
		t.Fatalf("p95 of empty window = %v, want 0", got)
	}
}

func TestLatencyTrackerEvictsOldest(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}

	if tracker.Count() != 3 {
		t.Fatalf("count = %d, want the window size 3", tracker.Count())
	}
	if got := tracker.Percentile(0); got != 7*time.Millisecond {
		t.Fatalf("p0 = %v, want 7ms after evicting older samples", got)
	}
}
