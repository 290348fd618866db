package dispatcher

import (
	"context"
	"sync"
)

// MemoryTransport is an in-process Transport for development and tests. It
// stores every published message so callers can assert on what would have
// gone out over the wire.
type MemoryTransport struct {
	mu       sync.Mutex
	messages []Message
	healthy  bool
}

// NewMemoryTransport creates a healthy, empty in-memory transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{healthy: true}
}

// Publish records subject and payload with no headers.
func (t *MemoryTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	return t.PublishWithHeaders(ctx, subject, nil, payload)
}

// PublishWithHeaders records subject, headers, and payload.
func (t *MemoryTransport) PublishWithHeaders(ctx context.Context, subject string, headers map[string]string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, Message{Subject: subject, Headers: headers, Payload: payload})
	return nil
}

// PublishBatch records every message and reports success for each.
func (t *MemoryTransport) PublishBatch(ctx context.Context, msgs []Message) ([]error, error) {
	errs := make([]error, len(msgs))
	for i, m := range msgs {
		errs[i] = t.PublishWithHeaders(ctx, m.Subject, m.Headers, m.Payload)
	}
	return errs, nil
}

// IsHealthy reports the transport's configured health, true by default.
func (t *MemoryTransport) IsHealthy(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.healthy
}

// SetHealthy overrides the value returned by IsHealthy, for exercising
// degraded-transport behavior in tests.
func (t *MemoryTransport) SetHealthy(healthy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthy = healthy
}

// Messages returns a copy of every message published so far, in order.
func (t *MemoryTransport) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Reset clears the recorded message history.
func (t *MemoryTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}
