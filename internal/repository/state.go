package repository

import (
	"context"
	"time"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
)

// PresenceRepository 记录在线状态，通常由 Redis 实现。
// 每个参与者保存最后心跳时间，超过 TTL 视为离线。
type PresenceRepository interface {
	// MarkOnline 记录或刷新心跳
	MarkOnline(ctx context.Context, peer domain.Peer, at time.Time) error

	// MarkOffline 移除在线记录
	MarkOffline(ctx context.Context, peer domain.Peer) error

	// IsOnline 判断参与者在 since 之后是否有心跳
	IsOnline(ctx context.Context, peer domain.Peer, since time.Time) (bool, error)

	// ListOnline 返回 since 之后有心跳的参与者 ID
	ListOnline(ctx context.Context, role domain.Role, since time.Time) ([]string, error)

	// CountOnline 统计 since 之后有心跳的参与者数量
	CountOnline(ctx context.Context, role domain.Role, since time.Time) (int64, error)

	// PurgeStale 清理 before 之前的心跳记录，返回清理数量
	PurgeStale(ctx context.Context, role domain.Role, before time.Time) (int64, error)
}

// StateRepository 保存会话的实时状态: 最近消息缓存与每日计数器。
type StateRepository interface {
	// PushRecentMessage 将消息追加到会话最近消息列表，并保持列表长度
	PushRecentMessage(ctx context.Context, msg domain.ChatMessage) error

	// GetRecentMessages 返回会话最近的消息 (时间正序)
	GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error)

	// DropRecentMessages 删除会话的消息缓存
	DropRecentMessages(ctx context.Context, sessionID string) error

	// IncrementCounter 递增某天的计数器
	IncrementCounter(ctx context.Context, day, name string) error

	// GetCounters 返回某天的全部计数器
	GetCounters(ctx context.Context, day string) (map[string]int64, error)
}
