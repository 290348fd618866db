package gatewayproxy

import (
	"testing"
	"time"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ErrorThreshold: 0.5,
		MinSamples:     4,
		WindowSeconds:  10,
		OpenTimeout:    20 * time.Millisecond,
	}
}

func TestBreakerStartsClosed(t *testing.T) {
	t.Parallel()

	b := NewBreaker(testBreakerConfig())
	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want BreakerClosed", b.State())
	}
	if !b.Allow() {
		t.Error("Allow() = false, want true for a closed breaker")
	}
}

func TestBreakerTripsOpenAboveErrorThreshold(t *testing.T) {
	t.Parallel()

	b := NewBreaker(testBreakerConfig())
	b.RecordSuccess()
	b.RecordError(1)
	b.RecordError(1)
	b.RecordError(1)

	if b.State() != BreakerOpen {
		t.Fatalf("State() = %v, want BreakerOpen", b.State())
	}
	if b.Allow() {
		t.Error("Allow() = true, want false for an open breaker")
	}
}

func TestBreakerStaysClosedBelowMinSamples(t *testing.T) {
	t.Parallel()

	b := NewBreaker(testBreakerConfig())
	b.RecordError(1)
	b.RecordError(1)

	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want BreakerClosed (below MinSamples)", b.State())
	}
}

func TestBreakerTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	t.Parallel()

	b := NewBreaker(testBreakerConfig())
	for i := 0; i < 4; i++ {
		b.RecordError(1)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("State() = %v, want BreakerOpen", b.State())
	}

	time.Sleep(25 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("Allow() = false, want true once OpenTimeout has elapsed")
	}
	if b.State() != BreakerHalfOpen {
		t.Errorf("State() = %v, want BreakerHalfOpen", b.State())
	}
}

func TestBreakerHalfOpenAdmitsOnlyOneProbe(t *testing.T) {
	t.Parallel()

	b := NewBreaker(testBreakerConfig())
	for i := 0; i < 4; i++ {
		b.RecordError(1)
	}
	time.Sleep(25 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("first Allow() after timeout = false, want true")
	}
	if b.Allow() {
		t.Error("second Allow() while half-open probe outstanding = true, want false")
	}
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	t.Parallel()

	b := NewBreaker(testBreakerConfig())
	for i := 0; i < 4; i++ {
		b.RecordError(1)
	}
	time.Sleep(25 * time.Millisecond)
	b.Allow()
	b.RecordSuccess()

	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want BreakerClosed after half-open success", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b := NewBreaker(testBreakerConfig())
	for i := 0; i < 4; i++ {
		b.RecordError(1)
	}
	time.Sleep(25 * time.Millisecond)
	b.Allow()
	b.RecordError(1)

	if b.State() != BreakerOpen {
		t.Errorf("State() = %v, want BreakerOpen after half-open failure", b.State())
	}
	if b.Allow() {
		t.Error("Allow() = true immediately after reopening, want false")
	}
}

func TestBreakerRegistryReturnsSameInstancePerUpstream(t *testing.T) {
	t.Parallel()

	r := NewBreakerRegistry(testBreakerConfig())
	a := r.GetOrCreate("chatserver")
	b := r.GetOrCreate("chatserver")
	if a != b {
		t.Error("GetOrCreate() returned different instances for the same upstream")
	}

	c := r.GetOrCreate("notifyserver")
	if a == c {
		t.Error("GetOrCreate() returned the same instance for different upstreams")
	}
}

func TestBreakerStateString(t *testing.T) {
	t.Parallel()

	cases := map[BreakerState]string{
		BreakerClosed:   "closed",
		BreakerOpen:     "open",
		BreakerHalfOpen: "half_open",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%v).String() = %q, want %q", state, got, want)
		}
	}
}
