package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// NATSTransport publishes to a NATS JetStream-backed durable subject. It
// satisfies Transport and BatchTransport.
type NATSTransport struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log zerolog.Logger
}

// NewNATSTransport connects to url and opens a JetStream context.
func NewNATSTransport(url string, logger zerolog.Logger) (*NATSTransport, error) {
	nc, err := nats.Connect(url, nats.MaxReconnects(-1), nats.ReconnectWait(2*nats.DefaultReconnectWait))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open jetstream context: %w", err)
	}
	return &NATSTransport{
		nc:  nc,
		js:  js,
		log: logger.With().Str("component", "dispatcher.nats").Logger(),
	}, nil
}

// Publish sends payload on subject, using the request context for the
// publish ack wait.
func (t *NATSTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	_, err := t.js.Publish(subject, payload, nats.Context(ctx))
	if err != nil {
		return classifyError(err)
	}
	return nil
}

// PublishWithHeaders sends payload on subject carrying the given NATS
// message headers (used for the out-of-band event signature).
func (t *NATSTransport) PublishWithHeaders(ctx context.Context, subject string, headers map[string]string, payload []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = payload
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	_, err := t.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return classifyError(err)
	}
	return nil
}

// PublishBatch publishes msgs concurrently, bounded at 10 in flight.
func (t *NATSTransport) PublishBatch(ctx context.Context, msgs []Message) ([]error, error) {
	results := make([]error, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(10)
	for i, m := range msgs {
		i, m := i, m
		g.Go(func() error {
			results[i] = t.PublishWithHeaders(gctx, m.Subject, m.Headers, m.Payload)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// IsHealthy reports whether the underlying NATS connection is up.
func (t *NATSTransport) IsHealthy(ctx context.Context) bool {
	return t.nc.IsConnected()
}

// Close drains and closes the underlying connection.
func (t *NATSTransport) Close() {
	_ = t.nc.Drain()
}

// classifyError marks transient connection/timeout errors as retryable;
// everything else (e.g. a malformed subject) is treated as non-retryable.
func classifyError(err error) error {
	switch {
	case errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionDraining),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrSlowConsumer),
		errors.Is(err, nats.ErrJetStreamNotEnabled),
		errors.Is(err, nats.ErrNoResponders):
		return Retryable(err)
	default:
		return err
	}
}

// KafkaTransport is a reserved placeholder: spec names Kafka as a future
// transport target. Every method signals ErrNotImplemented rather than
// silently no-op'ing.
type KafkaTransport struct{}

func (KafkaTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	return ErrNotImplemented
}

func (KafkaTransport) PublishWithHeaders(ctx context.Context, subject string, headers map[string]string, payload []byte) error {
	return ErrNotImplemented
}

func (KafkaTransport) IsHealthy(ctx context.Context) bool {
	return false
}
