package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"impostor-game/internal/domain"
	"impostor-game/internal/repository"
)

const (
	defaultHistoryPageSize = 20
	maxHistoryPageSize     = 100
)

// ReplayPage 是一次增量回放的结果。Cursor 为 nil 表示没有更多事件。
type ReplayPage struct {
	View   domain.GameView `json:"view"`
	Cursor *time.Time      `json:"cursor"`
}

// ReplayService 从持久化历史重建已结束的游戏。
// 两种增量模式只读取游标附近的事件，切片和重建都是纯函数。
type ReplayService struct {
	history repository.HistoryRepository
	stats   repository.UserStatsRepository
}

// NewReplayService 创建 ReplayService 实例。
func NewReplayService(history repository.HistoryRepository, stats repository.UserStatsRepository) *ReplayService {
	if history == nil || stats == nil {
		panic("ReplayService dependencies cannot be nil")
	}
	return &ReplayService{history: history, stats: stats}
}

// HistoryPage 按结束时间倒序返回用户参与过的游戏，每一局都是完整重建的视图。
// count <= 0 时使用默认页大小。
func (s *ReplayService) HistoryPage(ctx context.Context, username string, count, offset int) ([]domain.GameView, error) {
	if count <= 0 {
		count = defaultHistoryPageSize
	}
	if count > maxHistoryPageSize {
		count = maxHistoryPageSize
	}
	if offset < 0 {
		offset = 0
	}
	logCtx := logrus.WithField("username", username)
	rows, err := s.history.ListGamesForUser(ctx, username, count, offset)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load history page")
		return nil, mapRepoError(err, ErrGameNotFound)
	}

	views := make([]domain.GameView, 0, len(rows))
	for _, row := range rows {
		view, err := s.FullGame(ctx, row.GameID)
		if err != nil {
			logCtx.WithError(err).WithField("game_id", row.GameID).Error("Failed to rebuild game for history page")
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

// Stats 返回用户战绩，从未玩过的用户返回全零。
func (s *ReplayService) Stats(ctx context.Context, username string) (*domain.UserStats, error) {
	stats, err := s.stats.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return &domain.UserStats{Username: username}, nil
	}
	if err != nil {
		return nil, mapRepoError(err, ErrGameNotFound)
	}
	return stats, nil
}

// FullGame 扫描全量事件一次，重建完整视图。
func (s *ReplayService) FullGame(ctx context.Context, gameID string) (*domain.GameView, error) {
	record, events, err := s.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	view := domain.Reconstruct(events)
	withRecord(&view, record)
	return &view, nil
}

// NextAny 返回游标处的下一个事件组成的部分视图，以及再下一个事件的时间戳。
// 只读取游标处起的两个事件。
func (s *ReplayService) NextAny(ctx context.Context, gameID string, cursor *time.Time) (*ReplayPage, error) {
	record, err := s.findGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	events, err := s.history.ListEventsInRange(ctx, gameID, repository.EventRange{From: cursor, Limit: 2})
	if err != nil {
		return nil, s.eventsError(gameID, err)
	}
	part, next := domain.SliceNextAny(events, cursor)
	return newReplayPage(record, part, next), nil
}

// NextSignificant 返回从游标到下一个线索/投票 (含) 的全部事件组成的部分视图。
// 检查点从显著事件表查出，再按时间区间读取全量事件，不扫描整局。
func (s *ReplayService) NextSignificant(ctx context.Context, gameID string, cursor *time.Time) (*ReplayPage, error) {
	record, err := s.findGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	checkpoint, err := s.history.FindSignificantFrom(ctx, gameID, cursor)
	if errors.Is(err, repository.ErrNotFound) {
		// 之后没有检查点，返回剩余全部事件
		rest, err := s.history.ListEventsInRange(ctx, gameID, repository.EventRange{From: cursor})
		if err != nil {
			return nil, s.eventsError(gameID, err)
		}
		part, next := domain.SliceNextSignificant(rest, cursor)
		return newReplayPage(record, part, next), nil
	}
	if err != nil {
		return nil, s.eventsError(gameID, err)
	}

	at := checkpoint.Timestamp
	events, err := s.history.ListEventsInRange(ctx, gameID, repository.EventRange{From: cursor, To: &at})
	if err != nil {
		return nil, s.eventsError(gameID, err)
	}
	following, err := s.history.ListEventsInRange(ctx, gameID, repository.EventRange{After: &at, Limit: 1})
	if err != nil {
		return nil, s.eventsError(gameID, err)
	}
	part, next := domain.SliceNextSignificant(append(events, following...), cursor)
	return newReplayPage(record, part, next), nil
}

func newReplayPage(record *domain.GameRecord, part []domain.GameHistoryEvent, next *time.Time) *ReplayPage {
	view := domain.Reconstruct(part)
	view.GameID = record.ID
	view.RoomID = record.RoomID
	return &ReplayPage{View: view, Cursor: next}
}

// Checkpoints 返回一局的全部线索和投票事件，供客户端绘制进度条。
func (s *ReplayService) Checkpoints(ctx context.Context, gameID string) ([]domain.GameHistoryEvent, error) {
	if _, err := s.findGame(ctx, gameID); err != nil {
		return nil, err
	}
	events, err := s.history.ListSignificantEvents(ctx, gameID)
	if err != nil {
		return nil, mapRepoError(err, ErrGameNotFound)
	}
	if events == nil {
		events = []domain.GameHistoryEvent{}
	}
	return events, nil
}

func (s *ReplayService) findGame(ctx context.Context, gameID string) (*domain.GameRecord, error) {
	record, err := s.history.FindGame(ctx, gameID)
	if err != nil {
		return nil, mapRepoError(err, ErrGameNotFound)
	}
	return record, nil
}

func (s *ReplayService) eventsError(gameID string, err error) error {
	logrus.WithError(err).WithField("game_id", gameID).Error("Failed to load game events")
	return mapRepoError(err, ErrGameNotFound)
}

func (s *ReplayService) load(ctx context.Context, gameID string) (*domain.GameRecord, []domain.GameHistoryEvent, error) {
	record, err := s.findGame(ctx, gameID)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.history.ListEvents(ctx, gameID)
	if err != nil {
		return nil, nil, s.eventsError(gameID, err)
	}
	return record, events, nil
}

func withRecord(view *domain.GameView, record *domain.GameRecord) {
	view.GameID = record.ID
	view.RoomID = record.RoomID
	view.Players = record.Players
	ended := record.EndedAt
	view.EndedAt = &ended
}
