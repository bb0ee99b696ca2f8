package repository

import (
	"context"
	"time"

	"impostor-game/internal/domain"
)

// PresenceRepository 保存名册以及 连接<->用户、用户<->房间 的映射。
// 映射存放在共享存储中，任何实例都能处理任一连接的断开事件。
type PresenceRepository interface {
	// GetPlayers 返回房间名册，按加入顺序排序。
	GetPlayers(ctx context.Context, roomID string) ([]domain.Player, error)

	// SavePlayer 新增或覆盖名册中的玩家 (以 UserID 为键)。
	SavePlayer(ctx context.Context, roomID string, player domain.Player) error

	// RemovePlayer 从名册中移除玩家，不存在时不报错。
	RemovePlayer(ctx context.Context, roomID string, userID string) error

	// BindConnection 记录 connID -> userID、userID -> connID 和 userID -> roomID。
	BindConnection(ctx context.Context, connID, userID, roomID string) error

	// UnbindConnection 清除 connID 的映射；仅当 userID 当前仍指向该连接时才清除用户映射。
	UnbindConnection(ctx context.Context, connID, userID string) error

	// UserForConnection 返回连接对应的用户，未找到返回 ErrNotFound。
	UserForConnection(ctx context.Context, connID string) (string, error)

	// ConnectionForUser 返回用户当前的连接，未找到返回 ErrNotFound。
	ConnectionForUser(ctx context.Context, userID string) (string, error)

	// RoomForUser 返回用户所在房间，未找到返回 ErrNotFound。
	RoomForUser(ctx context.Context, userID string) (string, error)
}

// RoomLocker 串行化同一房间的状态推进，跨实例生效。
type RoomLocker interface {
	// Lock 在 wait 时间内获取房间锁，返回释放函数。超时返回 ErrLockNotAcquired。
	Lock(ctx context.Context, roomID string, wait time.Duration) (unlock func(), err error)
}
