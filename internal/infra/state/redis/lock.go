package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"impostor-game/internal/repository"
)

const (
	defaultLockTTL   = 5 * time.Second
	lockRetryBackoff = 20 * time.Millisecond
)

// 只释放自己持有的锁
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRoomLocker 用 SET NX PX 实现跨实例的房间锁。
// TTL 兜底持有者崩溃的情况，正常路径由 unlock 释放。
type RedisRoomLocker struct {
	client *redis.Client
	keys   Keys
	ttl    time.Duration
}

var _ repository.RoomLocker = (*RedisRoomLocker)(nil)

// NewRedisRoomLocker 创建房间锁，ttl <= 0 时使用默认值。
func NewRedisRoomLocker(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisRoomLocker {
	if client == nil {
		panic("redis client cannot be nil for RedisRoomLocker")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisRoomLocker{client: client, keys: NewKeys(keyPrefix), ttl: ttl}
}

func (l *RedisRoomLocker) Lock(ctx context.Context, roomID string, wait time.Duration) (func(), error) {
	key := l.keys.Lock(roomID)
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// 请求的 ctx 可能已经取消，释放锁使用独立的 ctx
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := releaseLockScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
					logrus.WithError(err).Warnf("redis: failed to release lock %s", key)
				}
			}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, repository.ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryBackoff):
		}
	}
}
