// Package dispatcher implements the dual-stream event transport: a narrow
// capability interface any message bus can satisfy, a durable publish path
// with retry/backoff, and a realtime publish path that is fire-and-forget.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/fechatter/fechatter/internal/config"
)

// ErrNotImplemented is returned by transport capabilities a given
// implementation does not support (e.g. a reserved Kafka transport).
var ErrNotImplemented = errors.New("dispatcher: not implemented")

// Message is one unit of work for a batch publish.
type Message struct {
	Subject string
	Headers map[string]string
	Payload []byte
}

// Transport is the narrow capability set a message bus must provide.
// Dispatcher is generic over this interface rather than any specific client.
type Transport interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	PublishWithHeaders(ctx context.Context, subject string, headers map[string]string, payload []byte) error
	IsHealthy(ctx context.Context) bool
}

// BatchTransport is an optional extension a transport may implement to
// publish a batch more efficiently than sequential calls.
type BatchTransport interface {
	Transport
	PublishBatch(ctx context.Context, msgs []Message) ([]error, error)
}

// retryableError wraps a transient transport error (connection, timeout, IO)
// so the dispatcher's retry loop knows to keep trying. Non-retryable errors
// (serialization, invalid header, unsupported transport) are returned as-is.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as a transient transport error eligible for retry.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err (or any error it wraps) was marked
// Retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Dispatcher splits outbound events across a durable transport (retried,
// cancellable) and a realtime transport (best-effort, non-blocking).
type Dispatcher struct {
	durable  Transport
	realtime Transport
	cfg      *config.Config
	log      zerolog.Logger
}

// New creates a Dispatcher. durable and realtime may be the same Transport
// value when a single bus serves both streams (e.g. in tests).
func New(durable, realtime Transport, cfg *config.Config, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		durable:  durable,
		realtime: realtime,
		cfg:      cfg,
		log:      logger.With().Str("component", "dispatcher").Logger(),
	}
}

// PublishDurable publishes to the domain/search stream, retrying transient
// failures with exponential backoff (initial DispatchBackoffBase, capped at
// DispatchBackoffCap, up to DispatchMaxAttempts total attempts). It returns
// promptly if ctx is cancelled mid-retry.
func (d *Dispatcher) PublishDurable(ctx context.Context, subject string, payload []byte) error {
	return d.publishDurable(ctx, func(ctx context.Context) error {
		return d.durable.Publish(ctx, subject, payload)
	})
}

// PublishDurableWithHeaders is PublishDurable with transport headers, used
// to carry an HMAC signature out-of-band when configured to do so.
func (d *Dispatcher) PublishDurableWithHeaders(ctx context.Context, subject string, headers map[string]string, payload []byte) error {
	return d.publishDurable(ctx, func(ctx context.Context) error {
		return d.durable.PublishWithHeaders(ctx, subject, headers, payload)
	})
}

func (d *Dispatcher) publishDurable(ctx context.Context, publish func(context.Context) error) error {
	attempts := d.cfg.DispatchMaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff, err := retry.NewExponential(d.cfg.DispatchBackoffBase)
	if err != nil {
		return fmt.Errorf("construct backoff: %w", err)
	}
	backoff = retry.WithCappedDuration(d.cfg.DispatchBackoffCap, backoff)
	backoff = retry.WithMaxRetries(uint64(attempts-1), backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := publish(ctx)
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// PublishRealtime dispatches to the realtime stream from a detached
// goroutine. Failures are logged and never propagate to the caller: the
// domain write that triggered this publish has already succeeded.
func (d *Dispatcher) PublishRealtime(subject string, payload []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.realtime.Publish(ctx, subject, payload); err != nil {
			d.log.Warn().Err(err).Str("subject", subject).Msg("realtime publish failed")
		}
	}()
}

// PublishBatch publishes msgs to the durable stream. If the transport
// implements BatchTransport its native batch path is used; otherwise
// publishes run concurrently with a bound of 10 in flight. Per-item errors
// are returned in a result slice the same length as msgs; the caller decides
// how to handle partial failure.
func (d *Dispatcher) PublishBatch(ctx context.Context, msgs []Message) []error {
	if bt, ok := d.durable.(BatchTransport); ok {
		if errs, err := bt.PublishBatch(ctx, msgs); err == nil {
			return errs
		}
	}

	results := make([]error, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(10)
	for i, m := range msgs {
		i, m := i, m
		g.Go(func() error {
			results[i] = d.durable.PublishWithHeaders(gctx, m.Subject, m.Headers, m.Payload)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// IsHealthy reports whether both streams' transports are reachable.
func (d *Dispatcher) IsHealthy(ctx context.Context) bool {
	return d.durable.IsHealthy(ctx) && d.realtime.IsHealthy(ctx)
}
