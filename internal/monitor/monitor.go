// Package monitor periodically evaluates trigger conditions against the live
// pipeline state and hands fired triggers to the orchestrator.
package monitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opsforge/remedy/internal/catalog"
	"github.com/opsforge/remedy/internal/models"
)

// SnapshotSource provides the point-in-time pipeline state a cycle evaluates
// trigger predicates against.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (models.StateSnapshot, error)
}

// SourceFunc adapts a function to SnapshotSource.
type SourceFunc func(ctx context.Context) (models.StateSnapshot, error)

// Snapshot implements SnapshotSource.
func (f SourceFunc) Snapshot(ctx context.Context) (models.StateSnapshot, error) {
	return f(ctx)
}

// Handler consumes the triggers fired in one cycle.
type Handler interface {
	HandleCycle(ctx context.Context, fired []models.TriggerDefinition)
}

// Monitor evaluates the catalog once per cycle. Cycles are single-flight: a
// new cycle never starts while the previous one, including the orchestration
// it triggered, is still running.
type Monitor struct {
	catalog *catalog.Catalog
	source  SnapshotSource
	handler Handler
	logger  *slog.Logger

	inFlight atomic.Bool
}

// New constructs a Monitor.
func New(cat *catalog.Catalog, source SnapshotSource, handler Handler, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{catalog: cat, source: source, handler: handler, logger: logger}
}

// RunCycle evaluates every trigger against a fresh snapshot. A predicate error
// is logged and counted as not-triggered; one broken predicate must not stop
// the rest of the catalog from being checked. Returns the fired triggers.
func (m *Monitor) RunCycle(ctx context.Context) []models.TriggerDefinition {
	if !m.inFlight.CompareAndSwap(false, true) {
		m.logger.Warn("monitor cycle skipped, previous cycle still running")
		return nil
	}
	defer m.inFlight.Store(false)

	started := time.Now()
	snap, err := m.source.Snapshot(ctx)
	if err != nil {
		m.logger.Error("state snapshot failed, skipping cycle", slog.Any("error", err))
		return nil
	}

	var fired []models.TriggerDefinition
	for _, def := range m.catalog.All() {
		ok, err := def.Detect(snap)
		if err != nil {
			m.logger.Error("trigger predicate failed",
				slog.String("trigger", def.ID), slog.Any("error", err))
			continue
		}
		if ok {
			fired = append(fired, def)
		}
	}

	if len(fired) > 0 {
		m.logger.Info("monitor cycle fired triggers",
			slog.Int("count", len(fired)),
			slog.Duration("evaluation", time.Since(started)))
		if m.handler != nil {
			m.handler.HandleCycle(ctx, fired)
		}
	} else {
		m.logger.Debug("monitor cycle clean", slog.Duration("evaluation", time.Since(started)))
	}
	return fired
}
