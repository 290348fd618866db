package gatewayproxy

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's state machine position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the sliding-window error-rate parameters that trip a
// breaker open, and the timer that drives it back to half-open.
type BreakerConfig struct {
	ErrorThreshold float64       // weighted error rate that trips the breaker, e.g. 0.5
	MinSamples     int           // minimum requests observed before it can trip
	WindowSeconds  int           // sliding window width, capped at 60
	OpenTimeout    time.Duration // time spent Open before probing Half-Open
}

// DefaultBreakerConfig returns conservative defaults for a chat-server
// upstream.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ErrorThreshold: 0.5,
		MinSamples:     5,
		WindowSeconds:  30,
		OpenTimeout:    30 * time.Second,
	}
}

type bucket struct {
	errors float64
	total  int
}

type slidingWindow struct {
	buckets  [60]bucket
	size     int
	head     int
	headTime int64
}

func newSlidingWindow(windowSeconds int) slidingWindow {
	if windowSeconds <= 0 || windowSeconds > 60 {
		windowSeconds = 60
	}
	return slidingWindow{size: windowSeconds}
}

func (w *slidingWindow) advance(nowSec int64) {
	if w.headTime == 0 {
		w.headTime = nowSec
		return
	}
	gap := nowSec - w.headTime
	if gap <= 0 {
		return
	}
	clear := int(gap)
	if clear > w.size {
		clear = w.size
	}
	for i := 0; i < clear; i++ {
		idx := (w.head + 1 + i) % w.size
		w.buckets[idx] = bucket{}
	}
	w.head = (w.head + int(gap)) % w.size
	w.headTime = nowSec
}

func (w *slidingWindow) record(weight float64, now time.Time) {
	w.advance(now.Unix())
	w.buckets[w.head].total++
	w.buckets[w.head].errors += weight
}

func (w *slidingWindow) errorRate(now time.Time) (rate float64, samples int) {
	w.advance(now.Unix())
	var errs float64
	var total int
	for i := 0; i < w.size; i++ {
		errs += w.buckets[i].errors
		total += w.buckets[i].total
	}
	if total == 0 {
		return 0, 0
	}
	return errs / float64(total), total
}

func (w *slidingWindow) reset() {
	for i := 0; i < w.size; i++ {
		w.buckets[i] = bucket{}
	}
	w.head, w.headTime = 0, 0
}

// Breaker is a per-upstream circuit breaker. State transitions happen under
// a short write-lock; the Open -> HalfOpen transition is timer-driven
// (evaluated lazily on the next Allow call rather than by a background
// goroutine).
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	window      slidingWindow
	openedAt    time.Time
	probing     bool
	threshold   float64
	minSamples  int
	openTimeout time.Duration
}

// NewBreaker creates a Breaker from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		state:       BreakerClosed,
		window:      newSlidingWindow(cfg.WindowSeconds),
		threshold:   cfg.ErrorThreshold,
		minSamples:  cfg.MinSamples,
		openTimeout: cfg.OpenTimeout,
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed, transitioning Open -> HalfOpen
// when the open timeout has elapsed and admitting exactly one probe while
// half-open.
func (b *Breaker) Allow() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if now.Sub(b.openedAt) >= b.openTimeout {
			b.state = BreakerHalfOpen
			b.probing = true
			return true
		}
		return false
	case BreakerHalfOpen:
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	}
	return false
}

// RecordSuccess records a successful call outcome.
func (b *Breaker) RecordSuccess() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window.record(0, now)

	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
		b.probing = false
		b.window.reset()
	}
}

// RecordError records a failed call outcome with weight in [0,1].
func (b *Breaker) RecordError(weight float64) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window.record(weight, now)

	switch b.state {
	case BreakerClosed:
		rate, samples := b.window.errorRate(now)
		if samples >= b.minSamples && rate >= b.threshold {
			b.state = BreakerOpen
			b.openedAt = now
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = now
		b.probing = false
	}
}

// BreakerRegistry owns one Breaker per upstream name, created on first use.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewBreakerRegistry creates a BreakerRegistry whose breakers all share cfg.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*Breaker), cfg: cfg}
}

// GetOrCreate returns the breaker for upstream, creating one if needed.
func (r *BreakerRegistry) GetOrCreate(upstream string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[upstream]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[upstream]; ok {
		return b
	}
	b = NewBreaker(r.cfg)
	r.breakers[upstream] = b
	return b
}
