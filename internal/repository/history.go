package repository

import (
	"context"
	"time"

	"impostor-game/internal/domain"
)

// HistoryRepository 是持久化游戏历史的访问契约，由 GORM 实现。
// 历史记录只追加、不修改。
type HistoryRepository interface {
	// SaveGame 在一个事务中写入游戏摘要、全量事件、显著事件、按用户索引以及战绩。
	// 同一 GameID 重复调用是无操作，结束阶段的重试因此是安全的。
	SaveGame(ctx context.Context, game *domain.FinishedGame) error

	// FindGame 查找游戏摘要，不存在时返回 ErrGameNotFound。
	FindGame(ctx context.Context, gameID string) (*domain.GameRecord, error)

	// ListEvents 按时间升序返回一局的全部事件。
	ListEvents(ctx context.Context, gameID string) ([]domain.GameHistoryEvent, error)

	// ListSignificantEvents 按时间升序返回一局的线索和投票事件。
	ListSignificantEvents(ctx context.Context, gameID string) ([]domain.GameHistoryEvent, error)

	// ListEventsInRange 按时间升序返回区间内的事件。
	ListEventsInRange(ctx context.Context, gameID string, r EventRange) ([]domain.GameHistoryEvent, error)

	// FindSignificantFrom 返回时间不早于 from 的第一个线索/投票事件，没有时返回 ErrNotFound。
	// from 为 nil 表示从头开始。
	FindSignificantFrom(ctx context.Context, gameID string, from *time.Time) (*domain.GameHistoryEvent, error)

	// ListGamesForUser 按结束时间倒序返回用户参与过的游戏。
	ListGamesForUser(ctx context.Context, username string, count, offset int) ([]domain.UserGameIndex, error)
}

// EventRange 按事件时间筛选，字段为 nil 或 0 时不限制。
type EventRange struct {
	From  *time.Time // 含
	After *time.Time // 不含
	To    *time.Time // 含
	Limit int
}

// UserStatsRepository 读取玩家战绩。战绩的写入随 SaveGame 一起完成。
type UserStatsRepository interface {
	// FindByUsername 不存在时返回 ErrNotFound。
	FindByUsername(ctx context.Context, username string) (*domain.UserStats, error)
}

// WordRepository 提供秘密词。
type WordRepository interface {
	// RandomWord 随机返回一个词，词库为空时返回 ErrNotFound。
	RandomWord(ctx context.Context) (string, error)
}
