package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/fechatter/fechatter/internal/eventpub"
)

// domainSubjects are the durable subjects the notify server attaches a
// durable consumer to: messages are acknowledged after Router.Handle
// succeeds, and left unacked on failure so JetStream redelivers them.
var domainSubjects = []string{
	eventpub.SubjectDomainMessage,
	eventpub.SubjectDomainChat,
	eventpub.SubjectDomainUser,
	eventpub.SubjectDomainSystem,
}

// realtimeSubjects are the ephemeral wildcard subjects the notify server
// subscribes to with an ordinary (non-durable, non-acked) subscription.
var realtimeSubjects = []string{
	"fechatter.realtime.chat.*",
	"fechatter.realtime.chat.*.read",
	"fechatter.realtime.chat.*.typing",
	"fechatter.realtime.chat.*.deleted",
	"fechatter.realtime.user.*.presence",
}

// Consumer attaches the Router to a NATS JetStream connection: a durable
// consumer per domain subject, and a plain subscription per realtime
// subject.
type Consumer struct {
	nc          *nats.Conn
	js          nats.JetStreamContext
	durableName string
	router      *Router
	log         zerolog.Logger
	subs        []*nats.Subscription
}

// NewConsumer connects to url and prepares a Consumer. durableName identifies
// the JetStream durable consumer so a restart resumes from where it left
// off rather than replaying or skipping messages.
func NewConsumer(url, durableName string, router *Router, logger zerolog.Logger) (*Consumer, error) {
	nc, err := nats.Connect(url, nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("acquire JetStream context: %w", err)
	}
	return &Consumer{
		nc:          nc,
		js:          js,
		durableName: durableName,
		router:      router,
		log:         logger.With().Str("component", "notify.consumer").Logger(),
	}, nil
}

// Start subscribes to every domain and realtime subject. It returns once all
// subscriptions are established; delivery happens on NATS's own goroutines
// until ctx is cancelled and Close is called.
func (c *Consumer) Start(ctx context.Context) error {
	for _, subject := range domainSubjects {
		sub, err := c.js.Subscribe(subject, c.handleDurable, nats.Durable(c.durableName), nats.ManualAck())
		if err != nil {
			return fmt.Errorf("subscribe durable %q: %w", subject, err)
		}
		c.subs = append(c.subs, sub)
	}
	for _, subject := range realtimeSubjects {
		sub, err := c.nc.Subscribe(subject, c.handleRealtime)
		if err != nil {
			return fmt.Errorf("subscribe realtime %q: %w", subject, err)
		}
		c.subs = append(c.subs, sub)
	}

	go func() {
		<-ctx.Done()
		c.Close()
	}()
	return nil
}

// Close drains every subscription and closes the underlying connection.
func (c *Consumer) Close() {
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	c.nc.Drain()
}

func (c *Consumer) handleDurable(msg *nats.Msg) {
	env, err := decodeEnvelope(msg.Data)
	if err != nil {
		c.log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to decode durable envelope, not acking")
		return
	}
	if err := c.router.Handle(env); err != nil {
		c.log.Error().Err(err).Str("subject", msg.Subject).Str("kind", string(env.Kind)).Msg("failed to handle durable envelope, not acking")
		return
	}
	if err := msg.Ack(); err != nil {
		c.log.Warn().Err(err).Str("subject", msg.Subject).Msg("failed to ack durable envelope")
	}
}

func (c *Consumer) handleRealtime(msg *nats.Msg) {
	env, err := decodeEnvelope(msg.Data)
	if err != nil {
		c.log.Warn().Err(err).Str("subject", msg.Subject).Msg("failed to decode realtime envelope")
		return
	}
	if err := c.router.Handle(env); err != nil {
		c.log.Warn().Err(err).Str("subject", msg.Subject).Str("kind", string(env.Kind)).Msg("failed to handle realtime envelope")
	}
}

func decodeEnvelope(data []byte) (eventpub.Envelope, error) {
	var env eventpub.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return eventpub.Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}
