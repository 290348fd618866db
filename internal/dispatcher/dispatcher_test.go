package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fechatter/fechatter/internal/config"
)

// countingTransport fails the first failCount calls to Publish with a
// retryable error, then succeeds.
type countingTransport struct {
	mu         sync.Mutex
	failCount  int
	calls      int
	lastHeader map[string]string
}

func (t *countingTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	return t.PublishWithHeaders(ctx, subject, nil, payload)
}

func (t *countingTransport) PublishWithHeaders(ctx context.Context, subject string, headers map[string]string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	t.lastHeader = headers
	if t.calls <= t.failCount {
		return Retryable(errors.New("transient failure"))
	}
	return nil
}

func (t *countingTransport) IsHealthy(ctx context.Context) bool { return true }

func testConfig() *config.Config {
	return &config.Config{
		DispatchMaxAttempts: 3,
		DispatchBackoffBase: time.Millisecond,
		DispatchBackoffCap:  10 * time.Millisecond,
	}
}

func TestDispatcherPublishDurableRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	transport := &countingTransport{failCount: 2}
	d := New(transport, transport, testConfig(), zerolog.Nop())

	if err := d.PublishDurable(context.Background(), "fechatter.domain.message", []byte("payload")); err != nil {
		t.Fatalf("PublishDurable() error = %v", err)
	}
	if transport.calls != 3 {
		t.Errorf("calls = %d, want 3", transport.calls)
	}
}

func TestDispatcherPublishDurableExhaustsRetries(t *testing.T) {
	t.Parallel()

	transport := &countingTransport{failCount: 100}
	d := New(transport, transport, testConfig(), zerolog.Nop())

	if err := d.PublishDurable(context.Background(), "fechatter.domain.message", []byte("payload")); err == nil {
		t.Fatal("PublishDurable() error = nil, want non-nil after exhausting retries")
	}
	if transport.calls != 3 {
		t.Errorf("calls = %d, want 3 (DispatchMaxAttempts)", transport.calls)
	}
}

func TestDispatcherPublishDurableNonRetryableFailsFast(t *testing.T) {
	t.Parallel()

	transport := &failingTransport{err: errors.New("bad header")}
	d := New(transport, transport, testConfig(), zerolog.Nop())

	if err := d.PublishDurable(context.Background(), "fechatter.domain.message", []byte("payload")); err == nil {
		t.Fatal("PublishDurable() error = nil, want non-nil")
	}
	if transport.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry for non-retryable error)", transport.calls)
	}
}

type failingTransport struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (t *failingTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return t.err
}

func (t *failingTransport) PublishWithHeaders(ctx context.Context, subject string, headers map[string]string, payload []byte) error {
	return t.Publish(ctx, subject, payload)
}

func (t *failingTransport) IsHealthy(ctx context.Context) bool { return true }

func TestDispatcherPublishRealtimeIsNonBlocking(t *testing.T) {
	t.Parallel()

	transport := NewMemoryTransport()
	d := New(transport, transport, testConfig(), zerolog.Nop())

	start := time.Now()
	d.PublishRealtime("fechatter.realtime.chat.1", []byte("hi"))
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("PublishRealtime() took %v, want effectively immediate return", elapsed)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(transport.Messages()) == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("PublishRealtime() message was never recorded by the transport")
}

func TestDispatcherPublishBatch(t *testing.T) {
	t.Parallel()

	transport := NewMemoryTransport()
	d := New(transport, transport, testConfig(), zerolog.Nop())

	msgs := []Message{
		{Subject: "fechatter.domain.message", Payload: []byte("a")},
		{Subject: "fechatter.domain.message", Payload: []byte("b")},
		{Subject: "fechatter.domain.chat", Payload: []byte("c")},
	}
	errs := d.PublishBatch(context.Background(), msgs)
	for i, err := range errs {
		if err != nil {
			t.Errorf("PublishBatch() errs[%d] = %v, want nil", i, err)
		}
	}
	if got := len(transport.Messages()); got != 3 {
		t.Errorf("transport recorded %d messages, want 3", got)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	if IsRetryable(errors.New("plain")) {
		t.Error("IsRetryable() = true for a plain error, want false")
	}
	if !IsRetryable(Retryable(errors.New("transient"))) {
		t.Error("IsRetryable() = false for a Retryable-wrapped error, want true")
	}
}

func TestMemoryTransportHealthToggle(t *testing.T) {
	t.Parallel()

	transport := NewMemoryTransport()
	if !transport.IsHealthy(context.Background()) {
		t.Error("IsHealthy() = false for a fresh transport, want true")
	}
	transport.SetHealthy(false)
	if transport.IsHealthy(context.Background()) {
		t.Error("IsHealthy() = true after SetHealthy(false)")
	}
}
