package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"impostor-game/internal/domain"
)

// MigrateDB 迁移全部持久化表。
// 全量事件表和显著事件表共用 GameHistoryEvent 结构，后者通过 Table() 单独迁移。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	err := db.AutoMigrate(
		&domain.GameRecord{},
		&domain.GameHistoryEvent{},
		&domain.UserGameIndex{},
		&domain.UserStats{},
		&domain.SecretWord{},
	)
	if err != nil {
		logrus.Errorf("Failed to auto-migrate tables: %v", err)
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	if err := db.Table(domain.SignificantEventsTable).AutoMigrate(&domain.GameHistoryEvent{}); err != nil {
		logrus.Errorf("Failed to auto-migrate %s: %v", domain.SignificantEventsTable, err)
		return fmt.Errorf("failed to migrate %s: %w", domain.SignificantEventsTable, err)
	}

	logrus.Info("Database migration completed successfully")
	return nil
}
