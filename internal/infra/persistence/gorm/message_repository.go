package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/repository"
)

// GormMessageRepository 是 MessageRepository 接口的 GORM 实现
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建 GormMessageRepository 实例
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMessageRepository")
	}
	return &GormMessageRepository{db: db}
}

var _ repository.MessageRepository = (*GormMessageRepository)(nil)

// SaveBatch 批量插入消息，主键冲突时忽略 (后台任务可能重试)
func (r *GormMessageRepository) SaveBatch(ctx context.Context, messages []domain.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(messages, 100).Error
	if err != nil {
		return fmt.Errorf("gorm: save message batch (size %d): %w", len(messages), err)
	}
	return nil
}

// ListBySession 按时间正序分页返回会话消息
func (r *GormMessageRepository) ListBySession(ctx context.Context, sessionID string, page domain.Page) ([]domain.ChatMessage, int64, error) {
	page = page.Normalize()
	query := r.db.WithContext(ctx).Model(&domain.ChatMessage{}).Where("session_id = ?", sessionID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("gorm: count messages of session '%s': %w", sessionID, err)
	}
	var messages []domain.ChatMessage
	err := query.Order("created_at ASC").
		Offset(page.Offset()).
		Limit(page.PageSize).
		Find(&messages).Error
	if err != nil {
		return nil, 0, fmt.Errorf("gorm: list messages of session '%s': %w", sessionID, err)
	}
	return messages, total, nil
}
