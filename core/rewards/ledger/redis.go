package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/koscakluka/ema-live/core/rewards"
	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix  = "reward:"
	sessionKeyPrefix = "reward:session:"
	defaultTTL       = 7 * 24 * time.Hour
)

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Record stores the record and appends it to its session index in a single
// transaction. Recording the same task twice overwrites the record without
// duplicating the index entry.
func (r *Redis) Record(ctx context.Context, record rewards.TaskRecord) error {
	val, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode reward record: %w", err)
	}

	key := r.recordKey(record.ID)
	sessionKey := r.sessionKey(record.SessionID)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, val, r.ttl)
		if exists == 0 {
			pipe.RPush(ctx, sessionKey, record.ID)
		}
		pipe.Expire(ctx, sessionKey, r.ttl)
		return nil
	})
	return err
}

func (r *Redis) Get(ctx context.Context, id string) (*rewards.TaskRecord, error) {
	val, err := r.client.Get(ctx, r.recordKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record rewards.TaskRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return nil, fmt.Errorf("failed to decode reward record %s: %w", id, err)
	}
	return &record, nil
}

// Session skips records that already expired while the index did not.
func (r *Redis) Session(ctx context.Context, sessionID string) ([]rewards.TaskRecord, error) {
	ids, err := r.client.LRange(ctx, r.sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]rewards.TaskRecord, 0, len(ids))
	for _, id := range ids {
		record, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if record != nil {
			records = append(records, *record)
		}
	}
	return records, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) recordKey(id string) string {
	return recordKeyPrefix + id
}

func (r *Redis) sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}
