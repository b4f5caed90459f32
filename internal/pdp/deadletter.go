package pdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/medrecord-gateway/internal/infra"
)

// RedisDeadLetter — dead-letter очередь на Redis List (LPUSH / RPOP, FIFO).
// Переживает рестарт шлюза, Replay может выполнить любой инстанс.
type RedisDeadLetter struct {
	rdb     *redis.Client
	key     string
	lockKey string
}

func NewRedisDeadLetter(rdb *redis.Client) *RedisDeadLetter {
	return &RedisDeadLetter{rdb: rdb, key: infra.RedisKeySyncDeadLetter, lockKey: infra.RedisKeySyncReplayLock}
}

func (d *RedisDeadLetter) Push(ctx context.Context, t Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("dead-letter: encode: %w", err)
	}
	return d.rdb.LPush(ctx, d.key, data).Err()
}

func (d *RedisDeadLetter) Pop(ctx context.Context) (Task, bool, error) {
	data, err := d.rdb.RPop(ctx, d.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, err
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, false, fmt.Errorf("dead-letter: decode: %w", err)
	}
	return t, true, nil
}

// TryLock — распределенная блокировка (SetNX), чтобы только один инстанс разбирал
// dead-letter. Блокировка не снимается явно, она истекает через ttl.
func (d *RedisDeadLetter) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	return d.rdb.SetNX(ctx, d.lockKey, "replaying", ttl).Result()
}
