// Package ledger stores the outcome of finished reward tasks.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/koscakluka/ema-live/core/rewards"
	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidConfig = errors.New("invalid ledger config")
	ErrInvalidType   = errors.New("unknown ledger type")
)

// Ledger is a rewards.Ledger that can also be read back.
type Ledger interface {
	rewards.Ledger
	// Get returns nil if no record exists for id.
	Get(ctx context.Context, id string) (*rewards.TaskRecord, error)
	// Session returns the records of a session in the order they were
	// recorded.
	Session(ctx context.Context, sessionID string) ([]rewards.TaskRecord, error)
	Close() error
}

type Type string

const (
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
)

type config struct {
	redisClient *redis.Client
	ttl         time.Duration
}

type Option func(*config)

func WithRedisClient(client *redis.Client) Option {
	return func(c *config) { c.redisClient = client }
}

// WithTTL sets how long records are kept. Only the redis ledger expires
// records.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) { c.ttl = ttl }
}

// New creates a ledger of the given type. The redis ledger requires
// WithRedisClient.
func New(ledgerType Type, opts ...Option) (Ledger, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch ledgerType {
	case TypeMemory, "":
		return NewMemory(), nil
	case TypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedis(cfg.redisClient, cfg.ttl), nil
	default:
		return nil, ErrInvalidType
	}
}
