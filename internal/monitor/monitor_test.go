package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsforge/remedy/internal/catalog"
	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/storage"
)

type recordingHandler struct {
	cycles [][]models.TriggerDefinition
}

func (h *recordingHandler) HandleCycle(_ context.Context, fired []models.TriggerDefinition) {
	h.cycles = append(h.cycles, fired)
}

func monitorTrigger(id string, detect models.Predicate) models.TriggerDefinition {
	return models.TriggerDefinition{
		ID:       id,
		Severity: models.SeverityMedium,
		Detect:   detect,
		Steps: []models.FallbackStep{
			{
				Level:   1,
				Kind:    models.ActionSkip,
				Params:  models.SkipParams{Reason: "test"},
				Timeout: time.Second,
				Retries: 1,
			},
		},
	}
}

func TestRunCycleFiresMatchingTriggers(t *testing.T) {
	cat, err := catalog.New(
		monitorTrigger("hot", func(s models.StateSnapshot) (bool, error) {
			return s.Value("load") > 10, nil
		}),
		monitorTrigger("cold", func(s models.StateSnapshot) (bool, error) {
			return s.Flag("never_set"), nil
		}),
	)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	source := SourceFunc(func(context.Context) (models.StateSnapshot, error) {
		return models.StateSnapshot{Values: map[string]float64{"load": 42}}, nil
	})
	handler := &recordingHandler{}
	fired := New(cat, source, handler, nil).RunCycle(context.Background())

	if len(fired) != 1 || fired[0].ID != "hot" {
		t.Fatalf("fired = %v, want only hot", fired)
	}
	if len(handler.cycles) != 1 {
		t.Fatalf("handler cycles = %d, want 1", len(handler.cycles))
	}
}

func TestPredicateErrorIsNotTriggered(t *testing.T) {
	cat, err := catalog.New(
		monitorTrigger("broken", func(models.StateSnapshot) (bool, error) {
			return true, errors.New("predicate bug")
		}),
		monitorTrigger("fine", func(models.StateSnapshot) (bool, error) {
			return true, nil
		}),
	)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	source := SourceFunc(func(context.Context) (models.StateSnapshot, error) {
		return models.StateSnapshot{}, nil
	})
	fired := New(cat, source, nil, nil).RunCycle(context.Background())

	// A predicate error counts as not-triggered, the rest of the catalog still runs.
	if len(fired) != 1 || fired[0].ID != "fine" {
		t.Fatalf("fired = %v, want only fine", fired)
	}
}

func TestSnapshotFailureSkipsCycle(t *testing.T) {
	cat, _ := catalog.New(monitorTrigger("any", func(models.StateSnapshot) (bool, error) {
		return true, nil
	}))
	source := SourceFunc(func(context.Context) (models.StateSnapshot, error) {
		return models.StateSnapshot{}, errors.New("store down")
	})
	handler := &recordingHandler{}

	if fired := New(cat, source, handler, nil).RunCycle(context.Background()); fired != nil {
		t.Fatalf("fired = %v, want nil on snapshot failure", fired)
	}
	if len(handler.cycles) != 0 {
		t.Fatal("handler should not run when the snapshot fails")
	}
}

func TestStoreSourceParsesGaugesAndFlags(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	seed := map[string]string{
		"gauge:queue_depth":       "1500",
		"gauge:memory_used_ratio": "0.93",
		"gauge:bad":               "not-a-number",
		"flag:dependency_down":    "true",
		"flag:bad":                "maybe",
		"unrelated:key":           "ignored",
	}
	for k, v := range seed {
		if err := store.Put(ctx, k, []byte(v)); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}

	snap, err := NewStoreSource(store, nil).Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Value("queue_depth") != 1500 {
		t.Fatalf("queue_depth = %v", snap.Value("queue_depth"))
	}
	if !snap.Flag("dependency_down") {
		t.Fatal("dependency_down flag missing")
	}
	if _, ok := snap.Values["bad"]; ok {
		t.Fatal("unparseable gauge should be skipped")
	}
	if _, ok := snap.Flags["bad"]; ok {
		t.Fatal("unparseable flag should be skipped")
	}
}
