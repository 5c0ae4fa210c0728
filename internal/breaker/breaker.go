// Package breaker implements C7: a three-state circuit breaker per named
// dependency (spec.md §4.7). Grounded on pincex_unified's
// internal/infrastructure/ratelimit.CircuitBreaker for the atomic
// CAS-driven closed/open/half-open FSM shape, enriched with the rolling
// failure/slow-call window from original_source's
// src/api/sre/circuit_breaker.py (RollingWindow, failure_rate,
// slow_call_rate, minimum_throughput) since spec.md's window-based
// trip condition needs more than the teacher's plain consecutive-failure
// counter.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Aidin1998/predictmarket/pkg/models"
	"go.uber.org/zap"
)

// State is one of the three FSM states (spec.md §4.7).
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures one named breaker. FailureRateThreshold and
// SlowRateThreshold are percentages in [0,100]; either tripping the
// window opens the circuit once MinSamples calls have been recorded.
type Config struct {
	Name                 string
	WindowSize           int           // rolling window sample count, spec's "size N"
	MinSamples           int           // spec's "min-samples"
	FailureRateThreshold float64       // spec's F_threshold, percent
	SlowRateThreshold    float64       // spec's S_threshold, percent
	SlowCallThreshold    time.Duration // latency above this counts as slow
	Cooldown             time.Duration // initial open->half-open delay
	MaxCooldown          time.Duration // cap for the exponential backoff
	ProbeCount           int           // spec's P concurrent half-open probes
}

func DefaultConfig(name string) Config {
	return Config{
		Name:                 name,
		WindowSize:           100,
		MinSamples:           10,
		FailureRateThreshold: 50,
		SlowRateThreshold:    50,
		SlowCallThreshold:    2 * time.Second,
		Cooldown:             5 * time.Second,
		MaxCooldown:          2 * time.Minute,
		ProbeCount:           3,
	}
}

type outcome struct {
	ok   bool
	slow bool
}

// rollingWindow is a fixed-capacity ring buffer of recent call outcomes,
// the Go counterpart of the Python source's RollingWindow class.
type rollingWindow struct {
	buf  []outcome
	next int
	n    int
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{buf: make([]outcome, size)}
}

func (w *rollingWindow) add(o outcome) {
	w.buf[w.next] = o
	w.next = (w.next + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

func (w *rollingWindow) rates() (failurePct, slowPct float64, samples int) {
	if w.n == 0 {
		return 0, 0, 0
	}
	var failures, slows int
	for i := 0; i < w.n; i++ {
		o := w.buf[i]
		if !o.ok {
			failures++
		}
		if o.slow {
			slows++
		}
	}
	return float64(failures) / float64(w.n) * 100, float64(slows) / float64(w.n) * 100, w.n
}

func (w *rollingWindow) reset() {
	w.next, w.n = 0, 0
}

// Breaker guards calls to one named dependency. All state mutation is
// serialized behind mu; spec.md §4.7 requires state and window updates to
// appear atomic to concurrent callers, which a single mutex gives directly
// without needing the teacher's separate atomics-per-field scheme.
type Breaker struct {
	cfg    Config
	logger *zap.Logger

	mu             sync.Mutex
	state          State
	window         *rollingWindow
	nextAttempt    time.Time
	cooldown       time.Duration
	halfOpenInUse  int
	halfOpenFailed bool
}

func New(cfg Config, logger *zap.Logger) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 100
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	if cfg.MaxCooldown < cfg.Cooldown {
		cfg.MaxCooldown = cfg.Cooldown
	}
	if cfg.ProbeCount <= 0 {
		cfg.ProbeCount = 1
	}
	return &Breaker{
		cfg:      cfg,
		logger:   logger,
		window:   newRollingWindow(cfg.WindowSize),
		cooldown: cfg.Cooldown,
	}
}

// allow decides whether a call may proceed, transitioning open->half-open
// once next-attempt has passed (spec.md §4.7 "open").
func (b *Breaker) allow(now time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, nil
	case StateOpen:
		if now.Before(b.nextAttempt) {
			return false, fmt.Errorf("breaker %s: %w", b.cfg.Name, models.ErrCircuitOpen)
		}
		b.state = StateHalfOpen
		b.halfOpenInUse = 0
		b.halfOpenFailed = false
		b.logger.Info("breaker: half-open probe window opened", zap.String("name", b.cfg.Name))
		fallthrough
	case StateHalfOpen:
		if b.state != StateHalfOpen {
			return true, nil
		}
		if b.halfOpenInUse >= b.cfg.ProbeCount {
			return false, fmt.Errorf("breaker %s: %w", b.cfg.Name, models.ErrCircuitOpen)
		}
		b.halfOpenInUse++
		return true, nil
	default:
		return false, fmt.Errorf("breaker %s: unknown state", b.cfg.Name)
	}
}

// record folds a completed call's outcome back into the breaker's state
// (spec.md §4.7's per-state transition rules).
func (b *Breaker) record(ok bool, duration time.Duration, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	slow := duration > b.cfg.SlowCallThreshold

	switch b.state {
	case StateHalfOpen:
		b.halfOpenInUse--
		if !ok {
			b.halfOpenFailed = true
		}
		if b.halfOpenFailed {
			b.tripOpen(now)
			return
		}
		if b.halfOpenInUse == 0 {
			// every dispatched probe has returned and none failed
			b.state = StateClosed
			b.window.reset()
			b.cooldown = b.cfg.Cooldown
			b.logger.Info("breaker: closed after successful probes", zap.String("name", b.cfg.Name))
		}
		return
	case StateOpen:
		return // stray completion from a probe issued before we tripped
	}

	b.window.add(outcome{ok: ok, slow: slow})
	failPct, slowPct, samples := b.window.rates()
	if samples < b.cfg.MinSamples {
		return
	}
	if failPct > b.cfg.FailureRateThreshold || slowPct > b.cfg.SlowRateThreshold {
		b.tripOpen(now)
	}
}

// tripOpen must be called with mu held.
func (b *Breaker) tripOpen(now time.Time) {
	wasHalfOpen := b.state == StateHalfOpen
	b.state = StateOpen
	b.nextAttempt = now.Add(b.cooldown)
	b.logger.Warn("breaker: opened", zap.String("name", b.cfg.Name), zap.Duration("cooldown", b.cooldown))
	if wasHalfOpen {
		b.cooldown *= 2
		if b.cooldown > b.cfg.MaxCooldown {
			b.cooldown = b.cfg.MaxCooldown
		}
	}
}

// Execute runs fn under the breaker's protection, honoring spec.md §4.7's
// short-circuit-on-open and probe-limited half-open semantics.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	now := time.Now()
	ok, err := b.allow(now)
	if !ok {
		return err
	}
	start := time.Now()
	callErr := fn(ctx)
	b.record(callErr == nil, time.Since(start), time.Now())
	return callErr
}

// State returns the breaker's current state for observability.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed, discarding window history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.window.reset()
	b.cooldown = b.cfg.Cooldown
	b.halfOpenInUse = 0
	b.halfOpenFailed = false
}

// Registry manages breakers by name, mirroring the teacher's
// CircuitBreakerManager.
type Registry struct {
	logger *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{logger: logger, breakers: make(map[string]*Breaker)}
}

func (r *Registry) GetOrCreate(cfg Config) *Breaker {
	r.mu.RLock()
	if b, ok := r.breakers[cfg.Name]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[cfg.Name]; ok {
		return b
	}
	b := New(cfg, r.logger)
	r.breakers[cfg.Name] = b
	return b
}

func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
