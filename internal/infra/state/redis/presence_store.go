package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"impostor-game/internal/domain"
	"impostor-game/internal/repository"
)

// 只有当 user->conn 仍指向被解绑的连接时才删除用户映射，重连后旧连接的断开不会影响新连接。
var unbindUserScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1], KEYS[2])
end
return 0
`)

// RedisPresenceStore 是 PresenceRepository 接口的 Redis 实现
type RedisPresenceStore struct {
	client *redis.Client
	keys   Keys
}

var _ repository.PresenceRepository = (*RedisPresenceStore)(nil)

// NewRedisPresenceStore 创建 RedisPresenceStore 实例
func NewRedisPresenceStore(client *redis.Client, keyPrefix string) *RedisPresenceStore {
	if client == nil {
		panic("redis client cannot be nil for RedisPresenceStore")
	}
	return &RedisPresenceStore{client: client, keys: NewKeys(keyPrefix)}
}

func (r *RedisPresenceStore) GetPlayers(ctx context.Context, roomID string) ([]domain.Player, error) {
	key := r.keys.Players(roomID)
	entries, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get players for room %s from %s: %w", roomID, key, err)
	}
	players := make([]domain.Player, 0, len(entries))
	for userID, raw := range entries {
		var p domain.Player
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			logrus.Warnf("redis: failed to unmarshal player %s in room %s: %v", userID, roomID, err)
			continue
		}
		players = append(players, p)
	}
	domain.SortPlayers(players)
	return players, nil
}

func (r *RedisPresenceStore) SavePlayer(ctx context.Context, roomID string, player domain.Player) error {
	key := r.keys.Players(roomID)
	data, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal player %s: %w", player.UserID, err)
	}
	if err := r.client.HSet(ctx, key, player.UserID, data).Err(); err != nil {
		return fmt.Errorf("redis: failed to save player %s in room %s on %s: %w", player.UserID, roomID, key, err)
	}
	return nil
}

func (r *RedisPresenceStore) RemovePlayer(ctx context.Context, roomID string, userID string) error {
	key := r.keys.Players(roomID)
	if err := r.client.HDel(ctx, key, userID).Err(); err != nil {
		return fmt.Errorf("redis: failed to remove player %s from room %s on %s: %w", userID, roomID, key, err)
	}
	return nil
}

func (r *RedisPresenceStore) BindConnection(ctx context.Context, connID, userID, roomID string) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.keys.Connection(connID), userID, 0)
	pipe.Set(ctx, r.keys.UserConnection(userID), connID, 0)
	pipe.Set(ctx, r.keys.UserRoom(userID), roomID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to bind connection %s to user %s: %w", connID, userID, err)
	}
	return nil
}

func (r *RedisPresenceStore) UnbindConnection(ctx context.Context, connID, userID string) error {
	if err := r.client.Del(ctx, r.keys.Connection(connID)).Err(); err != nil {
		return fmt.Errorf("redis: failed to unbind connection %s: %w", connID, err)
	}
	if userID == "" {
		return nil
	}
	keys := []string{r.keys.UserConnection(userID), r.keys.UserRoom(userID)}
	if err := unbindUserScript.Run(ctx, r.client, keys, connID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: failed to unbind user %s from connection %s: %w", userID, connID, err)
	}
	return nil
}

func (r *RedisPresenceStore) getString(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis: failed to get %s: %w", key, err)
	}
	return v, nil
}

func (r *RedisPresenceStore) UserForConnection(ctx context.Context, connID string) (string, error) {
	return r.getString(ctx, r.keys.Connection(connID))
}

func (r *RedisPresenceStore) ConnectionForUser(ctx context.Context, userID string) (string, error) {
	return r.getString(ctx, r.keys.UserConnection(userID))
}

func (r *RedisPresenceStore) RoomForUser(ctx context.Context, userID string) (string, error) {
	return r.getString(ctx, r.keys.UserRoom(userID))
}
