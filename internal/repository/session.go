package repository

import (
	"context"
	"time"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
)

// SessionRepository 定义了聊天会话的持久化操作 (MySQL)。
// 状态迁移全部使用条件更新，未命中时返回 ErrConflict。
type SessionRepository interface {
	// Create 保存新会话。访客已有未结束的会话时返回 ErrDuplicateEntry
	Create(ctx context.Context, session *domain.ChatSession) error

	// FindByID 根据 ID 查找会话，不存在时返回 ErrSessionNotFound
	FindByID(ctx context.Context, id string) (*domain.ChatSession, error)

	// FindOpenByVisitor 查找访客未结束的会话，不存在时返回 ErrSessionNotFound
	FindOpenByVisitor(ctx context.Context, visitorID string) (*domain.ChatSession, error)

	// List 分页查询会话，按创建时间倒序
	List(ctx context.Context, filter domain.SessionFilter, page domain.Page) ([]domain.ChatSession, int64, error)

	// ListWaiting 按创建时间正序返回等待中的会话
	ListWaiting(ctx context.Context, limit int) ([]domain.ChatSession, error)

	// ListActiveByStaff 返回某客服正在接待的会话
	ListActiveByStaff(ctx context.Context, staffID string) ([]domain.ChatSession, error)

	// ListActive 返回全部进行中的会话 (巡检使用)
	ListActive(ctx context.Context) ([]domain.ChatSession, error)

	// ListIdle 返回最后活跃时间早于 before 的未结束会话
	ListIdle(ctx context.Context, before time.Time, limit int) ([]domain.ChatSession, error)

	// CountByStatus 统计指定状态的会话数量
	CountByStatus(ctx context.Context, status domain.SessionStatus) (int64, error)

	// CountWaitingBefore 统计早于指定时间创建的等待会话数 (用于计算排队位置)
	CountWaitingBefore(ctx context.Context, createdAt time.Time) (int64, error)

	// CountActiveByStaff 统计每个客服进行中的会话数
	CountActiveByStaff(ctx context.Context, staffIDs []string) (map[string]int, error)

	// Assign 将等待中的会话分配给客服 (waiting -> active)。
	// 容量检查与写入在同一事务中完成，客服已满员时返回 ErrCapacityExceeded。
	Assign(ctx context.Context, id, staffID string, capacity int, at time.Time) error

	// Reassign 将进行中的会话从一个客服转给另一个客服，目标客服满员时返回 ErrCapacityExceeded
	Reassign(ctx context.Context, id, fromStaffID, toStaffID string, capacity int, at time.Time) error

	// Requeue 将进行中的会话退回等待队列 (active -> waiting)
	Requeue(ctx context.Context, id, staffID string) error

	// Close 结束一个未结束的会话
	Close(ctx context.Context, id string, closedBy domain.Role, at time.Time) error

	// Touch 刷新会话最后活跃时间并累加消息数
	Touch(ctx context.Context, id string, at time.Time, messages int) error
}
