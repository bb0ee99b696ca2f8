package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"impostor-game/internal/domain"
	"impostor-game/internal/repository"
)

// GormUserStatsRepository 是 UserStatsRepository 接口的 GORM 实现
type GormUserStatsRepository struct {
	db *gorm.DB
}

var _ repository.UserStatsRepository = (*GormUserStatsRepository)(nil)

// NewGormUserStatsRepository 创建 GormUserStatsRepository 实例
func NewGormUserStatsRepository(db *gorm.DB) *GormUserStatsRepository {
	if db == nil {
		panic("database connection cannot be nil for GormUserStatsRepository")
	}
	return &GormUserStatsRepository{db: db}
}

func (r *GormUserStatsRepository) FindByUsername(ctx context.Context, username string) (*domain.UserStats, error) {
	var stats domain.UserStats
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&stats).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("gorm: failed to find stats for %s: %w", username, err)
	}
	return &stats, nil
}
