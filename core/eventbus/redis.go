package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-live/core/events"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultChannel     = "vtuber_events"
	DefaultTipsChannel = "crypto_tips"

	defaultConnectAttempts = 3
	messageBufferSize      = 100
)

var ErrUnavailable = errors.New("event bus unavailable")

// Bus is a redis pub/sub connection used both to subscribe to and to
// publish events.
type Bus struct {
	client *redis.Client
}

type ConnectOptions struct {
	URL string
	// Attempts bounds the connection attempts, spaced by an exponential
	// backoff starting at InitialBackoff.
	Attempts       uint64
	InitialBackoff time.Duration
}

// Connect dials redis and retries with backoff. Running out of attempts
// returns ErrUnavailable so the caller can carry on without the bus.
func Connect(ctx context.Context, opts ConnectOptions) (*Bus, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %w", ErrUnavailable, err)
	}
	client := redis.NewClient(redisOpts)

	attempts := opts.Attempts
	if attempts == 0 {
		attempts = defaultConnectAttempts
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}

	backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(initial))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.WarnContext(ctx, "event bus not reachable", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return NewBus(client), nil
}

func NewBus(client *redis.Client) *Bus {
	return &Bus{client: client}
}

func (b *Bus) Client() *redis.Client { return b.client }

// Subscribe subscribes to channels and waits for redis to confirm it.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", channels, err)
	}

	subscription := &redisSubscription{
		pubsub:   pubsub,
		messages: make(chan Message, messageBufferSize),
		closed:   make(chan struct{}),
	}
	go subscription.forward()
	return subscription, nil
}

// Publish encodes event and publishes it on channel.
func (b *Bus) Publish(ctx context.Context, channel string, event events.Event) error {
	payload, err := events.Encode(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

// Publisher returns a publisher bound to channel.
func (b *Bus) Publisher(channel string) *Publisher {
	return &Publisher{bus: b, channel: channel}
}

func (b *Bus) Close() error {
	return b.client.Close()
}

type Publisher struct {
	bus     *Bus
	channel string
}

func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	return p.bus.Publish(ctx, p.channel, event)
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	messages  chan Message
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) forward() {
	defer close(s.messages)
	for msg := range s.pubsub.Channel() {
		select {
		case s.messages <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
		case <-s.closed:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.messages }

func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return s.pubsub.Close()
}
