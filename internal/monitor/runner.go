package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/storage"
)

// Runner drives the monitor on a fixed schedule.
type Runner struct {
	monitor  *Monitor
	interval time.Duration
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewRunner schedules RunCycle every interval. The schedule itself also skips
// a tick if the previous cycle is still running, on top of the monitor's own
// single-flight guard.
func NewRunner(m *Monitor, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		monitor:  m,
		interval: interval,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start begins the periodic loop and runs one cycle immediately.
func (r *Runner) Start(ctx context.Context) error {
	expr := fmt.Sprintf("@every %s", r.interval)
	_, err := r.cron.AddFunc(expr, func() {
		r.monitor.RunCycle(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule monitor cycle: %w", err)
	}
	r.cron.Start()
	r.logger.Info("monitor started", slog.Duration("interval", r.interval))
	go r.monitor.RunCycle(ctx)
	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (r *Runner) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.logger.Info("monitor stopped")
}

// Store key prefixes the pipeline writes its live state under.
const (
	gaugePrefix = "gauge:"
	flagPrefix  = "flag:"
)

// StoreSource builds snapshots from gauge and flag keys in the key-value
// store, which is how the surrounding pipeline publishes its health state.
type StoreSource struct {
	store  storage.Store
	logger *slog.Logger
}

// NewStoreSource constructs the store-backed snapshot source.
func NewStoreSource(store storage.Store, logger *slog.Logger) *StoreSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSource{store: store, logger: logger}
}

// Snapshot implements SnapshotSource. Unparseable values are logged and
// skipped so one corrupt key cannot blind the whole monitor.
func (s *StoreSource) Snapshot(ctx context.Context) (models.StateSnapshot, error) {
	snap := models.StateSnapshot{
		Values: make(map[string]float64),
		Flags:  make(map[string]bool),
		Taken:  time.Now().UTC(),
	}

	gaugeKeys, err := s.store.Keys(ctx, gaugePrefix)
	if err != nil {
		return models.StateSnapshot{}, fmt.Errorf("list gauges: %w", err)
	}
	for _, key := range gaugeKeys {
		raw, err := s.store.Retrieve(ctx, key)
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
		if err != nil {
			s.logger.Warn("unparseable gauge", slog.String("key", key))
			continue
		}
		snap.Values[strings.TrimPrefix(key, gaugePrefix)] = v
	}

	flagKeys, err := s.store.Keys(ctx, flagPrefix)
	if err != nil {
		return models.StateSnapshot{}, fmt.Errorf("list flags: %w", err)
	}
	for _, key := range flagKeys {
		raw, err := s.store.Retrieve(ctx, key)
		if err != nil {
			continue
		}
		v, err := strconv.ParseBool(strings.TrimSpace(string(raw)))
		if err != nil {
			s.logger.Warn("unparseable flag", slog.String("key", key))
			continue
		}
		snap.Flags[strings.TrimPrefix(key, flagPrefix)] = v
	}

	return snap, nil
}
