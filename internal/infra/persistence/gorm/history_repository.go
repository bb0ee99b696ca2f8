package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"impostor-game/internal/domain"
	"impostor-game/internal/repository"
)

const eventBatchSize = 200

// GormHistoryRepository 是 HistoryRepository 接口的 GORM 实现
type GormHistoryRepository struct {
	db *gorm.DB
}

var _ repository.HistoryRepository = (*GormHistoryRepository)(nil)

// NewGormHistoryRepository 创建 GormHistoryRepository 实例
func NewGormHistoryRepository(db *gorm.DB) *GormHistoryRepository {
	if db == nil {
		panic("database connection cannot be nil for GormHistoryRepository")
	}
	return &GormHistoryRepository{db: db}
}

// SaveGame 在一个事务中写入整局游戏。
// 摘要已存在时直接返回 nil，上一次写入要么完整提交要么完全回滚，重试不会产生重复数据。
func (r *GormHistoryRepository) SaveGame(ctx context.Context, game *domain.FinishedGame) error {
	if game == nil || game.Record.ID == "" {
		return fmt.Errorf("gorm: cannot save game without id")
	}
	gameID := game.Record.ID

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 幂等检查
		var existing int64
		if err := tx.Model(&domain.GameRecord{}).Where("id = ?", gameID).Count(&existing).Error; err != nil {
			return fmt.Errorf("gorm: failed to check game %s: %w", gameID, err)
		}
		if existing > 0 {
			return nil
		}

		// 2. 游戏摘要
		record := game.Record
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("gorm: failed to save game %s: %w", gameID, err)
		}

		// 3. 全量事件和显著事件
		events := make([]domain.GameHistoryEvent, len(game.Events))
		copy(events, game.Events)
		for i := range events {
			events[i].GameID = gameID
		}
		events = domain.NormalizeTimeline(events)

		significant := make([]domain.GameHistoryEvent, 0, len(events))
		for _, e := range events {
			if e.Type.IsSignificant() {
				significant = append(significant, e)
			}
		}
		if len(events) > 0 {
			if err := tx.CreateInBatches(events, eventBatchSize).Error; err != nil {
				return fmt.Errorf("gorm: failed to save %d events for game %s: %w", len(events), gameID, err)
			}
		}
		if len(significant) > 0 {
			if err := tx.Table(domain.SignificantEventsTable).CreateInBatches(significant, eventBatchSize).Error; err != nil {
				return fmt.Errorf("gorm: failed to save %d significant events for game %s: %w", len(significant), gameID, err)
			}
		}

		// 4. 按用户索引
		if len(record.Players) > 0 {
			index := make([]domain.UserGameIndex, 0, len(record.Players))
			for _, name := range record.Players {
				index = append(index, domain.UserGameIndex{
					Username: name,
					EndedAt:  record.EndedAt,
					GameID:   gameID,
					RoomID:   record.RoomID,
				})
			}
			if err := tx.Create(&index).Error; err != nil {
				return fmt.Errorf("gorm: failed to index game %s by user: %w", gameID, err)
			}
		}

		// 5. 战绩
		for _, res := range game.Results {
			if err := incrementStats(tx, res); err != nil {
				return fmt.Errorf("gorm: failed to update stats of %s for game %s: %w", res.Username, gameID, err)
			}
		}
		return nil
	})
}

func incrementStats(tx *gorm.DB, res domain.PlayerResult) error {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.UserStats{Username: res.Username}).Error; err != nil {
		return err
	}

	var crewWin, impostorWin int
	if res.Won {
		if res.IsImpostor {
			impostorWin = 1
		} else {
			crewWin = 1
		}
	}
	return tx.Model(&domain.UserStats{}).
		Where("username = ?", res.Username).
		Updates(map[string]interface{}{
			"games_played":     gorm.Expr("games_played + ?", 1),
			"wins_as_crewmate": gorm.Expr("wins_as_crewmate + ?", crewWin),
			"wins_as_impostor": gorm.Expr("wins_as_impostor + ?", impostorWin),
			"total_score":      gorm.Expr("total_score + ?", res.Points),
		}).Error
}

func (r *GormHistoryRepository) FindGame(ctx context.Context, gameID string) (*domain.GameRecord, error) {
	var record domain.GameRecord
	err := r.db.WithContext(ctx).Where("id = ?", gameID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrGameNotFound
		}
		return nil, fmt.Errorf("gorm: failed to find game %s: %w", gameID, err)
	}
	return &record, nil
}

func (r *GormHistoryRepository) ListEvents(ctx context.Context, gameID string) ([]domain.GameHistoryEvent, error) {
	return r.listEvents(r.db.WithContext(ctx), gameID)
}

func (r *GormHistoryRepository) ListSignificantEvents(ctx context.Context, gameID string) ([]domain.GameHistoryEvent, error) {
	return r.listEvents(r.db.WithContext(ctx).Table(domain.SignificantEventsTable), gameID)
}

func (r *GormHistoryRepository) listEvents(db *gorm.DB, gameID string) ([]domain.GameHistoryEvent, error) {
	var events []domain.GameHistoryEvent
	err := db.Where("game_id = ?", gameID).Order("event_time ASC").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: failed to list events for game %s: %w", gameID, err)
	}
	return events, nil
}

// ListEventsInRange 事件时间在同一局内严格递增 (见 NormalizeTimeline)，时间可以直接作为游标。
func (r *GormHistoryRepository) ListEventsInRange(ctx context.Context, gameID string, rng repository.EventRange) ([]domain.GameHistoryEvent, error) {
	db := r.db.WithContext(ctx).Where("game_id = ?", gameID)
	if rng.From != nil {
		db = db.Where("event_time >= ?", rng.From.UTC())
	}
	if rng.After != nil {
		db = db.Where("event_time > ?", rng.After.UTC())
	}
	if rng.To != nil {
		db = db.Where("event_time <= ?", rng.To.UTC())
	}
	if rng.Limit > 0 {
		db = db.Limit(rng.Limit)
	}
	var events []domain.GameHistoryEvent
	if err := db.Order("event_time ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("gorm: failed to list event range for game %s: %w", gameID, err)
	}
	return events, nil
}

func (r *GormHistoryRepository) FindSignificantFrom(ctx context.Context, gameID string, from *time.Time) (*domain.GameHistoryEvent, error) {
	db := r.db.WithContext(ctx).Table(domain.SignificantEventsTable).Where("game_id = ?", gameID)
	if from != nil {
		db = db.Where("event_time >= ?", from.UTC())
	}
	var event domain.GameHistoryEvent
	err := db.Order("event_time ASC").First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("gorm: failed to find checkpoint for game %s: %w", gameID, err)
	}
	return &event, nil
}

func (r *GormHistoryRepository) ListGamesForUser(ctx context.Context, username string, count, offset int) ([]domain.UserGameIndex, error) {
	var rows []domain.UserGameIndex
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		Order("ended_at DESC").
		Order("game_id ASC").
		Limit(count).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: failed to list games for %s: %w", username, err)
	}
	return rows, nil
}
