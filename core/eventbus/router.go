// Package eventbus routes events published on the external bus to the live
// session they address.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	orchestration "github.com/koscakluka/ema-live/core"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/rewards"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultSessionID       = "default"
	DefaultDispatchTimeout = 10 * time.Second
)

var ErrSessionNotFound = errors.New("no live session")

// Message is one payload received from the bus.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription delivers bus messages in the order of their channel. The
// channel is closed when the subscription ends.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Sessions resolves session ids to live sessions.
type Sessions interface {
	Lookup(sessionID string) (Session, bool)
}

// Rewarder starts the reward for a tip without waiting on it.
type Rewarder interface {
	Process(ctx context.Context, tip events.Tip) (*rewards.Task, bool)
}

type Router struct {
	sessions         Sessions
	rewarder         Rewarder
	channelKinds     map[string]events.Kind
	defaultSessionID string
	dispatchTimeout  time.Duration
}

type RouterOption func(*Router)

// WithRewards sends every routed tip to rewarder as well.
func WithRewards(rewarder Rewarder) RouterOption {
	return func(r *Router) { r.rewarder = rewarder }
}

// WithChannelKind makes payloads without a type on channel decode as kind.
func WithChannelKind(channel string, kind events.Kind) RouterOption {
	return func(r *Router) { r.channelKinds[channel] = kind }
}

func WithDefaultSessionID(sessionID string) RouterOption {
	return func(r *Router) { r.defaultSessionID = sessionID }
}

func WithDispatchTimeout(timeout time.Duration) RouterOption {
	return func(r *Router) {
		if timeout > 0 {
			r.dispatchTimeout = timeout
		}
	}
}

func NewRouter(sessions Sessions, opts ...RouterOption) *Router {
	r := &Router{
		sessions:         sessions,
		channelKinds:     map[string]events.Kind{},
		defaultSessionID: DefaultSessionID,
		dispatchTimeout:  DefaultDispatchTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run handles messages one at a time until ctx is done or the subscription
// ends. Individual routing failures are logged and never stop the loop.
func (r *Router) Run(ctx context.Context, subscription Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-subscription.Messages():
			if !ok {
				return nil
			}
			err := r.Handle(ctx, msg)
			switch {
			case err == nil:
			case errors.Is(err, orchestration.ErrCommandPending):
				logger.InfoContext(ctx, "bus event still being applied after dispatch timeout", "channel", msg.Channel, "error", err)
			default:
				logger.WarnContext(ctx, "dropped bus event", "channel", msg.Channel, "error", err)
			}
		}
	}
}

// Handle decodes a single message and dispatches it.
func (r *Router) Handle(ctx context.Context, msg Message) error {
	event, err := events.Decode(msg.Payload, events.DecodeOptions{
		DefaultKind:      r.channelKinds[msg.Channel],
		DefaultSessionID: r.defaultSessionID,
	})
	if err != nil {
		eventsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "invalid")))
		return err
	}
	return r.Dispatch(ctx, event)
}

// Dispatch hands event to its session. Events for sessions that are not live
// return ErrSessionNotFound and have no other effect. An error wrapping
// [orchestration.ErrCommandPending] means the session accepted the event but
// did not finish applying it within the dispatch timeout.
func (r *Router) Dispatch(ctx context.Context, event events.Event) (err error) {
	ctx, span := tracer.Start(ctx, "dispatch event")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", string(event.Kind())),
		attribute.String("session.id", event.SessionID()),
	)

	outcome := "dispatched"
	defer func() {
		if errors.Is(err, orchestration.ErrCommandPending) {
			outcome = "pending"
		}
		if err != nil && outcome != "pending" {
			if outcome == "dispatched" {
				outcome = "failed"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		eventsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", string(event.Kind())),
			attribute.String("outcome", outcome),
		))
	}()

	session, ok := r.sessions.Lookup(event.SessionID())
	if !ok {
		outcome = "unrouted"
		return fmt.Errorf("%w: %s", ErrSessionNotFound, event.SessionID())
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, r.dispatchTimeout)
	defer cancel()

	switch e := event.(type) {
	case events.Interrupt:
		return session.Interrupt(dispatchCtx, e.HeardText)

	case events.NewPrompt:
		_, err := session.SendPrompt(dispatchCtx, e.Text)
		return err

	case events.ChangePersona:
		_, err := session.ChangePersona(dispatchCtx, e.Persona)
		return err

	case events.Tip:
		if r.rewarder != nil {
			if task, created := r.rewarder.Process(ctx, e); created {
				logger.InfoContext(ctx, "reward started", "session", e.SessionID(), "task", task.ID, "tier", task.Tier.String())
			}
		}
		_, err := session.ReactToTip(dispatchCtx, e)
		return err
	}

	return fmt.Errorf("%w: %T", events.ErrUnknownKind, event)
}
