package resilience

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

const maxBackoff = 30 * time.Second

// State represents the current breaker state.
type State int

const (
	// Closed accepts all requests and tracks failures.
	Closed State = iota
	// Open rejects requests until the cool-off period expires.
	Open
	// HalfOpen lets a single probe through to sample the dependency.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func (s State) gauge() float64 {
	switch s {
	case Closed, Open, HalfOpen:
		return float64(s)
	default:
		return -1
	}
}

// Counts is a snapshot of the outcomes observed in the current window.
type Counts struct {
	Requests  int
	Failures  int
	Rejected  int
	WindowAge time.Duration
}

// Breaker opens once the failure ratio inside a rolling window crosses the
// configured threshold. The window restarts once it has run for the configured length while closed, so stale
// failures age out instead of being carried forward.
type Breaker struct {
	mu sync.Mutex

	minRequests  int
	failureRatio float64
	openFor      time.Duration
	window       time.Duration

	state       State
	requests    int
	failures    int
	rejected    int
	windowStart time.Time
	openedAt    time.Time
	probeAt     time.Time
	probing     bool

	target string
	logger zerolog.Logger
	now    func() time.Time
}

// NewBreaker constructs a breaker that opens when at least minRequests outcomes
// have been reported in the window and the failure share reaches failureRatio.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	switch {
	case failureRatio <= 0:
		failureRatio = 0.5
	case failureRatio > 1:
		failureRatio = 1
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	b := &Breaker{
		minRequests:  minRequests,
		failureRatio: failureRatio,
		openFor:      openFor,
		state:        Closed,
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
	b.windowStart = b.now()
	return b
}

// WithTarget sets the dependency label used in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.publishStateLocked()
	return b
}

// WithWindow sets how long closed-state outcomes are kept. Zero keeps them until
// the next transition.
func (b *Breaker) WithWindow(d time.Duration) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d > 0 {
		b.window = d
	}
	return b
}

// WithClock replaces the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
		b.windowStart = now()
	}
	return b
}

// WithLogger sets the logger used for transition events.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// State returns the current state. An open breaker whose cool-off has elapsed
// still reports Open until the next Allow moves it to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Target returns the dependency label.
func (b *Breaker) Target() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.label()
}

// Counts returns the outcomes recorded since the window last restarted.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counts{
		Requests:  b.requests,
		Failures:  b.failures,
		Rejected:  b.rejected,
		WindowAge: b.now().Sub(b.windowStart),
	}
}

// Allow reports whether a request may proceed. Only one probe is admitted while
// half-open; a probe that never reports expires after the cool-off period so the
// breaker cannot wedge.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case Closed:
		if b.window > 0 && now.Sub(b.windowStart) >= b.window {
			b.resetWindowLocked(now)
		}
		return true
	case Open:
		if now.Sub(b.openedAt) < b.openFor {
			return b.rejectLocked()
		}
		b.transitionLocked(ctx, HalfOpen)
		b.probing, b.probeAt = true, now
		return true
	default:
		if b.probing && now.Sub(b.probeAt) < b.openFor {
			return b.rejectLocked()
		}
		b.probing, b.probeAt = true, now
		return true
	}
}

// Report records the outcome of an admitted request.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.transitionLocked(ctx, Closed)
		} else {
			b.transitionLocked(ctx, Open)
		}
		return
	}

	b.requests++
	if !success {
		b.failures++
	}
	if b.requests < b.minRequests {
		return
	}
	if float64(b.failures)/float64(b.requests) >= b.failureRatio {
		b.transitionLocked(ctx, Open)
	}
}

func (b *Breaker) rejectLocked() bool {
	b.rejected++
	if BreakerRejectedTotal != nil {
		BreakerRejectedTotal.WithLabelValues(b.label()).Inc()
	}
	return false
}

func (b *Breaker) resetWindowLocked(now time.Time) {
	b.requests, b.failures, b.rejected = 0, 0, 0
	b.windowStart = now
}

func (b *Breaker) transitionLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	now := b.now()
	b.state = next
	switch next {
	case Open:
		b.openedAt = now
	case Closed:
		b.openedAt = time.Time{}
	}
	b.resetWindowLocked(now)
	b.publishStateLocked()

	target := b.label()
	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(target, prev.String(), next.String()).Inc()
	}
	if next == Open && BreakerOpenedTotal != nil {
		BreakerOpenedTotal.WithLabelValues(target).Inc()
	}

	logger := b.logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = *l
	}
	evt := logger.Info().Str("target", target).Str("from_state", prev.String()).Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) publishStateLocked() {
	if BreakerState != nil {
		BreakerState.WithLabelValues(b.label()).Set(b.state.gauge())
	}
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}

// Backoff returns the exponential delay for the given attempt, capped at 30s.
// jitterPct spreads the result by up to that fraction in either direction.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	attempt = max(attempt, 1)
	d := base
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	d = min(d, maxBackoff)
	if jitterPct <= 0 {
		return d
	}
	spread := float64(d) * jitterPct
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
