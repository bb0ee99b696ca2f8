package repository

import (
	"context"
	"time"

	"impostor-game/internal/domain"
)

// RoomStateRepository 是房间实时状态 (Live Room Store) 的访问契约，由 Redis 实现。
// 所有写操作对任何实例的后续读取立即可见，不做本地缓存；重试是幂等的。
type RoomStateRepository interface {
	// === Room lifecycle ===

	// CreateRoom 创建房间记录。房间已存在时返回 ErrDuplicateEntry。
	CreateRoom(ctx context.Context, roomID string) error

	// RoomExists 报告房间记录是否存在。
	RoomExists(ctx context.Context, roomID string) (bool, error)

	// Delete 立即删除房间的全部键。
	Delete(ctx context.Context, roomID string) error

	// ExpireAfter 为房间的全部键设置 TTL (软删除)。
	ExpireAfter(ctx context.Context, roomID string, ttl time.Duration) error

	// CancelExpiry 取消 ExpireAfter 设置的 TTL。
	CancelExpiry(ctx context.Context, roomID string) error

	// ListGameRooms 返回所有处于某个阶段 (已开局) 的房间，按房间 ID 排序。
	ListGameRooms(ctx context.Context) ([]string, error)

	// === Game settings ===

	// SetMembers 写入本局玩家用户名集合 (开局时调用一次)。
	SetMembers(ctx context.Context, roomID string, usernames []string) error

	// GetMembers 返回本局玩家，按字典序。
	GetMembers(ctx context.Context, roomID string) ([]string, error)

	// SetStartingSettings 一次性写入开局设置，把回合计数重置为 1，
	// 并清除上一局残留的出局者、投票和历史缓冲。
	SetStartingSettings(ctx context.Context, roomID string, settings domain.GameSettings) error

	// GetSettings 读取开局设置。未开局时返回 ErrNotFound。
	GetSettings(ctx context.Context, roomID string) (*domain.GameSettings, error)

	GetFirstPlayer(ctx context.Context, roomID string) (string, error)
	GetMaxRounds(ctx context.Context, roomID string) (int, error)
	GetPerTurnSeconds(ctx context.Context, roomID string) (int, error)
	GetImpostorName(ctx context.Context, roomID string) (string, error)

	// === Phase ===

	// SetPhase 记录阶段、持续时间和服务端开始时间，覆盖之前的阶段。
	SetPhase(ctx context.Context, roomID string, phase domain.Phase, duration time.Duration) (*domain.PhaseState, error)

	// GetPhase 返回当前阶段。房间从未初始化时返回 ErrNotFound。
	GetPhase(ctx context.Context, roomID string) (*domain.PhaseState, error)

	// NextStateSequence 递增并返回房间的 GameState 序号。
	NextStateSequence(ctx context.Context, roomID string) (int64, error)

	// === Turn / round ===

	GetCurrentTurnPlayer(ctx context.Context, roomID string) (string, error)
	SetCurrentTurnPlayer(ctx context.Context, roomID string, username string) error
	GetRoundNumber(ctx context.Context, roomID string) (int, error)
	IncrementRound(ctx context.Context, roomID string) (int, error)

	// GetEjectedPlayer 返回最近一次投票的出局者，空字符串表示没有记录。
	GetEjectedPlayer(ctx context.Context, roomID string) (string, error)
	// SetEjectedPlayer 写入出局者，传空字符串清除。
	SetEjectedPlayer(ctx context.Context, roomID string, username string) error

	// === Votes ===

	// RecordVote 原子地记录一票并把 event 追加到历史缓冲。
	// 该回合投票人已投过票时返回 false，两者都不写入；出错时两者都不写入。
	RecordVote(ctx context.Context, roomID string, round int, voter, target string, event domain.GameHistoryEvent) (bool, error)

	// GetVotes 返回 投票人 -> 目标。
	GetVotes(ctx context.Context, roomID string, round int) (map[string]string, error)

	// ClearVotes 删除该回合的投票。
	ClearVotes(ctx context.Context, roomID string, round int) error

	// === Live history buffer ===

	AppendHistoryEvent(ctx context.Context, roomID string, event domain.GameHistoryEvent) error

	// RecordClue 原子地追加线索事件、交出发言权 (nextTurn 为空时不变) 并切换阶段。
	// 出错时不写入任何一项。
	RecordClue(ctx context.Context, roomID string, event domain.GameHistoryEvent, nextTurn string,
		phase domain.Phase, duration time.Duration) (*domain.PhaseState, error)

	GetHistory(ctx context.Context, roomID string) ([]domain.GameHistoryEvent, error)
}
