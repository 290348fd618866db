package eventpub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fechatter/fechatter/internal/config"
)

type recordedPublish struct {
	subject string
	headers map[string]string
	payload []byte
}

type fakeDispatcher struct {
	mu       sync.Mutex
	durable  []recordedPublish
	realtime []recordedPublish
}

func (f *fakeDispatcher) PublishDurable(ctx context.Context, subject string, payload []byte) error {
	return f.PublishDurableWithHeaders(ctx, subject, nil, payload)
}

func (f *fakeDispatcher) PublishDurableWithHeaders(ctx context.Context, subject string, headers map[string]string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durable = append(f.durable, recordedPublish{subject, headers, payload})
	return nil
}

func (f *fakeDispatcher) PublishRealtime(subject string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.realtime = append(f.realtime, recordedPublish{subject: subject, payload: payload})
}

func unsignedConfig() *config.Config {
	return &config.Config{}
}

func signedConfig() *config.Config {
	return &config.Config{EventSigningEnabled: true, EventSigningSecret: testSecret}
}

func TestPublisherMessageCreatedUnsigned(t *testing.T) {
	t.Parallel()

	fake := &fakeDispatcher{}
	p := NewPublisher(fake, unsignedConfig(), zerolog.Nop())

	err := p.MessageCreated(context.Background(), MessageEventData{
		MessageID: 1, ChatID: 42, SenderID: 7, Content: "hello",
	}, []int64{7, 8, 9})
	if err != nil {
		t.Fatalf("MessageCreated() error = %v", err)
	}

	if len(fake.durable) != 2 {
		t.Fatalf("durable publishes = %d, want 2 (domain + search index)", len(fake.durable))
	}
	if fake.durable[0].subject != SubjectDomainMessage {
		t.Errorf("durable[0].subject = %q, want %q", fake.durable[0].subject, SubjectDomainMessage)
	}
	if fake.durable[1].subject != SubjectSearchIndexMessage {
		t.Errorf("durable[1].subject = %q, want %q", fake.durable[1].subject, SubjectSearchIndexMessage)
	}
	for _, d := range fake.durable {
		if len(d.headers) != 0 {
			t.Errorf("durable publish headers = %v, want empty when signing is unconfigured", d.headers)
		}
		var env Envelope
		if err := json.Unmarshal(d.payload, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Sig != "" {
			t.Errorf("envelope.Sig = %q, want empty when signing is unconfigured", env.Sig)
		}
		if env.Version != EnvelopeVersion {
			t.Errorf("envelope.Version = %d, want %d", env.Version, EnvelopeVersion)
		}
	}

	if len(fake.realtime) != 1 {
		t.Fatalf("realtime publishes = %d, want 1", len(fake.realtime))
	}
	if fake.realtime[0].subject != SubjectRealtimeChat(42) {
		t.Errorf("realtime subject = %q, want %q", fake.realtime[0].subject, SubjectRealtimeChat(42))
	}
}

func TestPublisherSignsInHeaderByDefault(t *testing.T) {
	t.Parallel()

	fake := &fakeDispatcher{}
	p := NewPublisher(fake, signedConfig(), zerolog.Nop())

	if err := p.MessageUpdated(context.Background(), MessageEventData{MessageID: 1, ChatID: 1}); err != nil {
		t.Fatalf("MessageUpdated() error = %v", err)
	}

	if len(fake.durable) != 1 {
		t.Fatalf("durable publishes = %d, want 1", len(fake.durable))
	}
	sig, ok := fake.durable[0].headers[SignatureHeader]
	if !ok || sig == "" {
		t.Fatal("expected X-Event-Signature header to be set")
	}

	var env Envelope
	if err := json.Unmarshal(fake.durable[0].payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Sig != "" {
		t.Errorf("envelope.Sig = %q, want empty in header mode", env.Sig)
	}
	if !Verify(env.Payload, sig, testSecret) {
		t.Error("header signature does not verify against the envelope payload")
	}
}

func TestPublisherEmbedsSignatureWhenConfigured(t *testing.T) {
	t.Parallel()

	fake := &fakeDispatcher{}
	p := NewPublisher(fake, signedConfig(), zerolog.Nop()).EmbedSignature()

	if err := p.MessageDeleted(context.Background(), 1, 2); err != nil {
		t.Fatalf("MessageDeleted() error = %v", err)
	}

	if len(fake.durable) != 2 {
		t.Fatalf("durable publishes = %d, want 2 (domain + search index delete)", len(fake.durable))
	}
	var env Envelope
	if err := json.Unmarshal(fake.durable[0].payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Sig == "" {
		t.Fatal("expected envelope.Sig to be set in embed mode")
	}
	if !Verify(env.Payload, env.Sig, testSecret) {
		t.Error("embedded signature does not verify against the envelope payload")
	}
	if _, ok := fake.durable[0].headers[SignatureHeader]; ok {
		t.Error("expected no X-Event-Signature header in embed mode")
	}
}

func TestPublisherDuplicateMessageAttempted(t *testing.T) {
	t.Parallel()

	fake := &fakeDispatcher{}
	p := NewPublisher(fake, unsignedConfig(), zerolog.Nop())
	p.DuplicateMessageAttempted(1, 2, 3)

	if len(fake.realtime) != 1 {
		t.Fatalf("realtime publishes = %d, want 1", len(fake.realtime))
	}
	if fake.realtime[0].subject != SubjectRealtimeChat(1) {
		t.Errorf("subject = %q, want %q", fake.realtime[0].subject, SubjectRealtimeChat(1))
	}
}
