package client

import (
	"context"

	"github.com/agentuity/go-exchange/eventing"
	"github.com/agentuity/go-exchange/resilience"
	"github.com/agentuity/go-exchange/telemetry"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Action is the kind of an invalidation event.
type Action string

const (
	ActionDelete Action = "delete"
	ActionClear  Action = "clear"
)

// InvalidationEvent is broadcast after a client deletes keys or clears its
// cache.
type InvalidationEvent struct {
	Sender string   `msgpack:"sender"`
	Action Action   `msgpack:"action"`
	Keys   []string `msgpack:"keys,omitempty"`
}

const senderHeader = "x-exchange-sender"

func (c *Client) publish(ctx context.Context, ev InvalidationEvent) error {
	if c.events == nil {
		return nil
	}
	data, err := msgpack.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "client: encode invalidation")
	}
	err = resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.events.Publish(ctx, c.channel, data, eventing.WithHeader(senderHeader, ev.Sender))
	})
	if err != nil {
		return errors.Wrapf(err, "client: publish %s on %s", ev.Action, c.channel)
	}
	return nil
}

// Listen applies invalidations published by other clients until ctx is done.
// It returns once the subscription is active; events from this client are
// ignored.
func (c *Client) Listen(ctx context.Context) error {
	if c.events == nil {
		return errors.New("client: listen requires eventing")
	}
	sub, err := c.events.Subscribe(ctx, c.channel, c.onInvalidation)
	if err != nil {
		return errors.Wrapf(err, "client: subscribe %s", c.channel)
	}
	go func() {
		<-ctx.Done()
		if err := sub.Close(); err != nil {
			c.logger.Warn("closing invalidation subscription: %s", err)
		}
	}()
	return nil
}

func (c *Client) onInvalidation(ctx context.Context, msg eventing.Message) {
	if msg.Headers().Get(senderHeader) == c.id {
		return
	}
	ctx, log, span := telemetry.StartSpan(ctx, c.logger, tracer, "client.invalidation",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("channel", msg.Subject())),
	)
	var err error
	defer func() { endSpan(span, err) }()

	var ev InvalidationEvent
	if err = msgpack.Unmarshal(msg.Data(), &ev); err != nil {
		log.Error("invalid invalidation event on %s: %s", msg.Subject(), err)
		return
	}
	if ev.Sender == c.id {
		return
	}
	span.SetAttributes(
		attribute.String("action", string(ev.Action)),
		attribute.String("sender", ev.Sender),
		attribute.Int("keys", len(ev.Keys)),
	)
	switch ev.Action {
	case ActionDelete:
		if len(ev.Keys) == 0 {
			return
		}
		err = c.deleteLocal(ctx, ev.Keys)
	case ActionClear:
		err = c.clearLocal(ctx)
	default:
		log.Warn("unknown invalidation action %q from %s", ev.Action, ev.Sender)
		return
	}
	if err != nil {
		log.Error("applying %s from %s: %s", ev.Action, ev.Sender, err)
		return
	}
	log.Debug("applied %s of %d keys from %s", ev.Action, len(ev.Keys), ev.Sender)
}
