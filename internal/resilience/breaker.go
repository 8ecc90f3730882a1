package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/paywatch/payhook-backend/pkg/config"
	pkgerrors "github.com/paywatch/payhook-backend/pkg/errors"
)

// State is the lifecycle position of one circuit breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a single breaker. Transient failures tolerate double
// the configured threshold because bulk webhook delivery produces transient
// blips under load.
type BreakerConfig struct {
	FailureThreshold     int
	BulkFailureThreshold int
	SuccessThreshold     int
	ResetTimeout         time.Duration
	BulkResetTimeout     time.Duration
	ForgivenessWindow    time.Duration
	Exempt               bool
}

func (c *BreakerConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.BulkFailureThreshold <= 0 {
		c.BulkFailureThreshold = c.FailureThreshold * 2
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.BulkResetTimeout <= 0 {
		c.BulkResetTimeout = 3 * c.ResetTimeout
	}
	if c.ForgivenessWindow <= 0 {
		c.ForgivenessWindow = 30 * time.Second
	}
}

// Breaker guards one named downstream operation. All state is process-local
// and resets on restart.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu                   sync.Mutex
	state                State
	transientFailures    int
	permanentFailures    int
	consecutiveSuccesses int
	lastFailure          time.Time
	lastSuccess          time.Time
	openedAt             time.Time
	openedBulk           bool

	now func() time.Time
}

// NewBreaker builds a closed breaker for the named operation.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	cfg.applyDefaults()
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Name returns the operation name the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State reports the current state, applying lazy open→half-open transitions.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// Allow reports whether a call may proceed. Exempt breakers always allow so
// a designated disaster-fallback path keeps making forward progress.
func (b *Breaker) Allow() bool {
	if b.cfg.Exempt {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state != StateOpen
}

// refreshLocked demotes an open breaker to half-open when the reset window
// has elapsed, or earlier when a recent success suggests the dependency
// already recovered.
func (b *Breaker) refreshLocked() {
	if b.state != StateOpen {
		return
	}
	now := b.now()

	reset := b.cfg.ResetTimeout
	if b.openedBulk {
		reset = b.cfg.BulkResetTimeout
	}
	if now.Sub(b.openedAt) >= reset {
		b.toHalfOpenLocked()
		return
	}
	if !b.lastSuccess.IsZero() && now.Sub(b.lastSuccess) <= b.cfg.ForgivenessWindow {
		b.toHalfOpenLocked()
	}
}

func (b *Breaker) toHalfOpenLocked() {
	b.state = StateHalfOpen
	b.consecutiveSuccesses = 0
}

// RecordSuccess feeds a successful call into the breaker accounting.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSuccess = b.now()
	b.consecutiveSuccesses++

	// transient failures decay faster than permanent ones
	b.transientFailures /= 2
	if b.permanentFailures > 0 {
		b.permanentFailures--
	}

	if b.state == StateHalfOpen && b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
		b.state = StateClosed
		b.transientFailures = 0
		b.permanentFailures = 0
	}
}

// RecordFailure feeds a failed call into the breaker accounting. bulk marks
// the call as part of a multi-transaction batch, which raises the trip
// threshold and lengthens the reset window.
func (b *Breaker) RecordFailure(kind FailureKind, bulk bool) {
	if kind == FailureNone {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	b.consecutiveSuccesses = 0

	threshold := b.cfg.FailureThreshold
	if bulk {
		threshold = b.cfg.BulkFailureThreshold
	}

	switch kind {
	case FailureTransient:
		b.transientFailures++
		// transient blips get twice the headroom before tripping
		if b.transientFailures < threshold*2 {
			if b.state == StateHalfOpen {
				b.openLocked(bulk)
			}
			return
		}
	default:
		b.permanentFailures++
		if b.permanentFailures < threshold {
			if b.state == StateHalfOpen {
				b.openLocked(bulk)
			}
			return
		}
	}

	b.openLocked(bulk)
}

func (b *Breaker) openLocked(bulk bool) {
	b.state = StateOpen
	b.openedAt = b.now()
	b.openedBulk = bulk
	b.transientFailures = 0
	b.permanentFailures = 0
}

// Execute runs fn under the breaker. While open it fails immediately with a
// CodeCircuitOpen error callers can distinguish from real failures.
func (b *Breaker) Execute(ctx context.Context, bulk bool, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		return pkgerrors.New(pkgerrors.CodeCircuitOpen, b.name+" temporarily unavailable")
	}

	err := fn(ctx)
	if err == nil {
		b.RecordSuccess()
		return nil
	}
	b.RecordFailure(Classify(err), bulk)
	return err
}

// StateGauge maps states onto the metric values exported per operation.
func (b *Breaker) StateGauge() int {
	switch b.State() {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Registry hands out one breaker per operation name with shared settings.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      config.ResilienceConfig
}

// NewRegistry builds a registry from the resilience configuration.
func NewRegistry(cfg config.ResilienceConfig) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// For returns the breaker guarding the named operation, creating it on first
// use.
func (r *Registry) For(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, BreakerConfig{
		FailureThreshold:     r.cfg.FailureThreshold,
		BulkFailureThreshold: r.cfg.BulkFailureThreshold,
		SuccessThreshold:     r.cfg.SuccessThreshold,
		ResetTimeout:         r.cfg.ResetTimeout,
		BulkResetTimeout:     r.cfg.BulkResetTimeout,
		ForgivenessWindow:    r.cfg.ForgivenessWindow,
		Exempt:               name != "" && name == r.cfg.ExemptOperation,
	})
	r.breakers[name] = b
	return b
}

// Snapshot returns the current state per operation for metrics export.
func (r *Registry) Snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make(map[string]int, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.StateGauge()
	}
	return states
}

type breakerStateSetter interface {
	SetBreakerState(operation string, state int)
}

// ExportStates publishes every breaker's state gauge once immediately and
// then on each tick until the context ends.
func (r *Registry) ExportStates(ctx context.Context, interval time.Duration, setter breakerStateSetter) {
	if setter == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for name, state := range r.Snapshot() {
			setter.SetBreakerState(name, state)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
