package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opsforge/remedy/internal/metrics"
	"github.com/opsforge/remedy/internal/storage"
)

// BreakerState enumerates circuit breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// ErrCircuitOpen is returned when a call is rejected without invoking the
// protected dependency.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// Breaker guards one unstable dependency. CLOSED passes calls through counting
// consecutive failures; OPEN rejects immediately; after Timeout has elapsed
// since the last failure the next call runs as a HALF_OPEN trial. Counters
// reset on every entry into CLOSED or HALF_OPEN.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time

	onTransition func(name string, snapshot BreakerSnapshot)
}

// BreakerSnapshot is the persistable view of a breaker.
type BreakerSnapshot struct {
	State       BreakerState `json:"state"`
	Failures    int          `json:"failures"`
	Successes   int          `json:"successes"`
	LastFailure time.Time    `json:"lastFailure"`
}

// NewBreaker constructs a closed breaker. onTransition is invoked (with the
// lock held, keep it cheap) whenever the state changes; it may be nil.
func NewBreaker(name string, cfg BreakerConfig, onTransition func(string, BreakerSnapshot)) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, state: BreakerClosed, onTransition: onTransition}
}

// Execute runs fn through the breaker. In the OPEN state the call is rejected
// with ErrCircuitOpen and fn is never invoked, unless the timeout has elapsed,
// in which case the call proceeds as the HALF_OPEN trial.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// State returns the current state, transitioning OPEN breakers whose timeout
// has elapsed only on the next call attempt, not here.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the persistable state.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Restore overwrites breaker state from a snapshot, used at boot.
func (b *Breaker) Restore(s BreakerSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.State == "" {
		return
	}
	b.state = s.State
	b.failures = s.Failures
	b.successes = s.Successes
	b.lastFailure = s.LastFailure
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerOpen {
		return nil
	}
	if time.Since(b.lastFailure) < b.cfg.Timeout {
		return ErrCircuitOpen
	}
	b.transition(BreakerHalfOpen)
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.lastFailure = time.Now()
		switch b.state {
		case BreakerHalfOpen:
			// Any failure during the trial re-opens the circuit.
			b.transition(BreakerOpen)
		case BreakerClosed:
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				b.transition(BreakerOpen)
			}
		}
		return
	}

	switch b.state {
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(BreakerClosed)
		}
	case BreakerClosed:
		b.failures = 0
	}
}

// transition must be called with the lock held.
func (b *Breaker) transition(next BreakerState) {
	if b.state == next {
		return
	}
	b.state = next
	switch next {
	case BreakerClosed, BreakerHalfOpen:
		b.failures = 0
		b.successes = 0
	}
	metrics.ObserveBreakerTransition(string(next))
	if b.onTransition != nil {
		b.onTransition(b.name, b.snapshotLocked())
	}
}

func (b *Breaker) snapshotLocked() BreakerSnapshot {
	return BreakerSnapshot{
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFailure,
	}
}

// BreakerRegistry hands out one breaker per protected dependency, restoring
// persisted state at first use and snapshotting on every transition when a
// store is configured.
type BreakerRegistry struct {
	cfg    BreakerConfig
	store  storage.Store // nil disables persistence
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerRegistry constructs a registry. store may be nil.
func NewBreakerRegistry(cfg BreakerConfig, store storage.Store, logger *slog.Logger) *BreakerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerRegistry{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker guarding the named dependency, creating it on first
// use. The breaker lives as long as the registry, matching the lifetime of
// the dependency's client.
func (r *BreakerRegistry) For(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}

	var onTransition func(string, BreakerSnapshot)
	if r.store != nil {
		onTransition = r.persist
	}
	b := NewBreaker(name, r.cfg, onTransition)
	if r.store != nil {
		var snap BreakerSnapshot
		err := storage.RetrieveJSON(context.Background(), r.store, storage.PrefixBreaker+name, &snap)
		if err == nil {
			b.Restore(snap)
		} else if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("breaker state restore failed", slog.String("breaker", name), slog.Any("error", err))
		}
	}
	r.breakers[name] = b
	return b
}

// persist snapshots are best effort; a failed write is logged, never surfaced
// into the recovery path.
func (r *BreakerRegistry) persist(name string, snap BreakerSnapshot) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := storage.PutJSON(ctx, r.store, storage.PrefixBreaker+name, snap); err != nil {
			r.logger.Warn("breaker state persist failed", slog.String("breaker", name), slog.Any("error", err))
		}
	}()
}
