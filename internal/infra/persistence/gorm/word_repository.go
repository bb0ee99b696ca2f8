package gormpersistence

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"impostor-game/internal/domain"
	"impostor-game/internal/repository"
)

// GormWordRepository 是 WordRepository 接口的 GORM 实现
type GormWordRepository struct {
	db *gorm.DB

	mu  sync.Mutex
	rng *rand.Rand
}

var _ repository.WordRepository = (*GormWordRepository)(nil)

// NewGormWordRepository 创建 GormWordRepository 实例
func NewGormWordRepository(db *gorm.DB) *GormWordRepository {
	if db == nil {
		panic("database connection cannot be nil for GormWordRepository")
	}
	return &GormWordRepository{db: db, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// RandomWord 先取总数再随机偏移，避免依赖各数据库不同的 RANDOM()/RAND() 语法。
func (r *GormWordRepository) RandomWord(ctx context.Context) (string, error) {
	db := r.db.WithContext(ctx)
	var total int64
	if err := db.Model(&domain.SecretWord{}).Count(&total).Error; err != nil {
		return "", fmt.Errorf("gorm: failed to count secret words: %w", err)
	}
	if total == 0 {
		return "", repository.ErrNotFound
	}

	r.mu.Lock()
	offset := r.rng.Int63n(total)
	r.mu.Unlock()

	var word domain.SecretWord
	if err := db.Order("id ASC").Offset(int(offset)).Limit(1).Find(&word).Error; err != nil {
		return "", fmt.Errorf("gorm: failed to pick secret word at %d: %w", offset, err)
	}
	if word.Word == "" {
		// 计数和查询之间有删除
		return "", repository.ErrNotFound
	}
	return word.Word, nil
}

// EnsureWords 插入尚不存在的词，已存在的跳过。
func (r *GormWordRepository) EnsureWords(ctx context.Context, words []string) error {
	if len(words) == 0 {
		return nil
	}
	rows := make([]domain.SecretWord, 0, len(words))
	for _, w := range words {
		rows = append(rows, domain.SecretWord{Word: w})
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "word"}}, DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("gorm: failed to seed %d secret words: %w", len(words), err)
	}
	return nil
}
