package redisstate

import (
	"fmt"
	"strings"

	"impostor-game/internal/domain"
)

// DefaultKeyPrefix 默认 key 前缀 "ig:" (impostor game)
const DefaultKeyPrefix = "ig:"

// Keys 生成 Live Room Store 使用的全部 Redis key。
// 同一房间的 key 共享 "{prefix}room:{roomID}:" 前缀，删除和设置 TTL 时统一处理。
type Keys struct {
	prefix string
}

// NewKeys 创建 key 生成器，prefix 为空时使用 DefaultKeyPrefix。
func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return Keys{prefix: prefix}
}

// Prefix 返回 key 前缀。
func (k Keys) Prefix() string { return k.prefix }

func (k Keys) room(roomID, suffix string) string {
	return fmt.Sprintf("%sroom:%s:%s", k.prefix, roomID, suffix)
}

// --- 房间级 key ---

func (k Keys) Meta(roomID string) string     { return k.room(roomID, "meta") }
func (k Keys) Members(roomID string) string  { return k.room(roomID, "members") }
func (k Keys) Settings(roomID string) string { return k.room(roomID, "settings") }
func (k Keys) Phase(roomID string) string    { return k.room(roomID, "phase") }
func (k Keys) Round(roomID string) string    { return k.room(roomID, "round") }
func (k Keys) Turn(roomID string) string     { return k.room(roomID, "turn") }
func (k Keys) Ejected(roomID string) string  { return k.room(roomID, "ejected") }
func (k Keys) History(roomID string) string  { return k.room(roomID, "history") }
func (k Keys) Players(roomID string) string  { return k.room(roomID, "players") }
func (k Keys) Sequence(roomID string) string { return k.room(roomID, "seq") }
func (k Keys) Lock(roomID string) string     { return k.room(roomID, "lock") }

// Votes 每个回合一个投票 hash。
func (k Keys) Votes(roomID string, round int) string {
	return k.room(roomID, fmt.Sprintf("votes:%d", round))
}

// Channel 房间的 Pub/Sub 频道，用于跨实例广播。
func (k Keys) Channel(roomID string) string { return k.room(roomID, "pubsub") }

// --- 连接与用户映射 ---

func (k Keys) Connection(connID string) string { return fmt.Sprintf("%sconn:%s:user", k.prefix, connID) }
func (k Keys) UserRoom(userID string) string   { return fmt.Sprintf("%suser:%s:room", k.prefix, userID) }
func (k Keys) UserConnection(userID string) string {
	return fmt.Sprintf("%suser:%s:conn", k.prefix, userID)
}

// RateLimit 限流计数器。
func (k Keys) RateLimit(client string) string { return fmt.Sprintf("%sratelimit:%s", k.prefix, client) }

// RoomKeys 返回属于房间的全部数据 key (不含锁)。投票 key 按回合上限全部列出。
func (k Keys) RoomKeys(roomID string) []string {
	keys := []string{
		k.Meta(roomID),
		k.Members(roomID),
		k.Settings(roomID),
		k.Phase(roomID),
		k.Round(roomID),
		k.Turn(roomID),
		k.Ejected(roomID),
		k.History(roomID),
		k.Players(roomID),
		k.Sequence(roomID),
	}
	for round := 1; round <= domain.MaxRoundsLimit; round++ {
		keys = append(keys, k.Votes(roomID, round))
	}
	return keys
}

// RoomIDFromPhaseKey 从阶段 key 中取出房间 ID，key 格式不符时返回 false。
func (k Keys) RoomIDFromPhaseKey(key string) (string, bool) {
	head := k.prefix + "room:"
	if !strings.HasPrefix(key, head) || !strings.HasSuffix(key, ":phase") {
		return "", false
	}
	roomID := strings.TrimSuffix(strings.TrimPrefix(key, head), ":phase")
	return roomID, roomID != ""
}
