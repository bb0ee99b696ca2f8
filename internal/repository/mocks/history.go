package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"impostor-game/internal/domain"
	"impostor-game/internal/repository"
)

// HistoryRepository 是 repository.HistoryRepository 的 mock
type HistoryRepository struct {
	mock.Mock
}

func (m *HistoryRepository) SaveGame(ctx context.Context, game *domain.FinishedGame) error {
	args := m.Called(ctx, game)
	return args.Error(0)
}

func (m *HistoryRepository) FindGame(ctx context.Context, gameID string) (*domain.GameRecord, error) {
	args := m.Called(ctx, gameID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GameRecord), args.Error(1)
}

func (m *HistoryRepository) ListEvents(ctx context.Context, gameID string) ([]domain.GameHistoryEvent, error) {
	args := m.Called(ctx, gameID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.GameHistoryEvent), args.Error(1)
}

func (m *HistoryRepository) ListSignificantEvents(ctx context.Context, gameID string) ([]domain.GameHistoryEvent, error) {
	args := m.Called(ctx, gameID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.GameHistoryEvent), args.Error(1)
}

func (m *HistoryRepository) ListEventsInRange(ctx context.Context, gameID string, r repository.EventRange) ([]domain.GameHistoryEvent, error) {
	args := m.Called(ctx, gameID, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.GameHistoryEvent), args.Error(1)
}

func (m *HistoryRepository) FindSignificantFrom(ctx context.Context, gameID string, from *time.Time) (*domain.GameHistoryEvent, error) {
	args := m.Called(ctx, gameID, from)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GameHistoryEvent), args.Error(1)
}

func (m *HistoryRepository) ListGamesForUser(ctx context.Context, username string, count, offset int) ([]domain.UserGameIndex, error) {
	args := m.Called(ctx, username, count, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.UserGameIndex), args.Error(1)
}

// UserStatsRepository 是 repository.UserStatsRepository 的 mock
type UserStatsRepository struct {
	mock.Mock
}

func (m *UserStatsRepository) FindByUsername(ctx context.Context, username string) (*domain.UserStats, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UserStats), args.Error(1)
}

// WordRepository 是 repository.WordRepository 的 mock
type WordRepository struct {
	mock.Mock
}

func (m *WordRepository) RandomWord(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
