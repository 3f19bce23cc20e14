package repository

import (
	"context"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
)

// MessageRepository 定义了聊天消息的持久化操作。
type MessageRepository interface {
	// SaveBatch 批量保存消息。重复的消息 ID 会被忽略 (任务重试时幂等)。
	SaveBatch(ctx context.Context, messages []domain.ChatMessage) error

	// ListBySession 按时间正序分页返回会话消息
	ListBySession(ctx context.Context, sessionID string, page domain.Page) ([]domain.ChatMessage, int64, error)
}
