package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/repository"
)

// GormSessionRepository 是 SessionRepository 接口的 GORM 实现
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建 GormSessionRepository 实例
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSessionRepository")
	}
	return &GormSessionRepository{db: db}
}

// Create 保存新会话。未结束的会话写入 open_visitor_id，由唯一索引拦截同一访客的第二个会话。
func (r *GormSessionRepository) Create(ctx context.Context, session *domain.ChatSession) error {
	if session.IsOpen() {
		visitorID := session.VisitorID
		session.OpenVisitorID = &visitorID
	}
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create session (visitor: %s): %w", session.VisitorID, err)
	}
	return nil
}

// FindByID 根据 ID 查找会话
func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*domain.ChatSession, error) {
	var session domain.ChatSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: find session by id '%s': %w", id, err)
	}
	return &session, nil
}

// FindOpenByVisitor 查找访客最近一个未结束的会话
func (r *GormSessionRepository) FindOpenByVisitor(ctx context.Context, visitorID string) (*domain.ChatSession, error) {
	var session domain.ChatSession
	err := r.db.WithContext(ctx).
		Where("visitor_id = ? AND status <> ?", visitorID, domain.SessionClosed).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: find open session for visitor '%s': %w", visitorID, err)
	}
	return &session, nil
}

// List 分页查询会话
func (r *GormSessionRepository) List(ctx context.Context, filter domain.SessionFilter, page domain.Page) ([]domain.ChatSession, int64, error) {
	page = page.Normalize()
	query := r.db.WithContext(ctx).Model(&domain.ChatSession{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.StaffID != "" {
		query = query.Where("staff_id = ?", filter.StaffID)
	}
	if filter.VisitorID != "" {
		query = query.Where("visitor_id = ?", filter.VisitorID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("gorm: count sessions: %w", err)
	}
	var sessions []domain.ChatSession
	err := query.Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.PageSize).
		Find(&sessions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("gorm: list sessions: %w", err)
	}
	return sessions, total, nil
}

// ListWaiting 按排队顺序返回等待中的会话
func (r *GormSessionRepository) ListWaiting(ctx context.Context, limit int) ([]domain.ChatSession, error) {
	var sessions []domain.ChatSession
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.SessionWaiting).
		Order("created_at ASC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list waiting sessions: %w", err)
	}
	return sessions, nil
}

// ListActiveByStaff 返回某客服正在接待的会话
func (r *GormSessionRepository) ListActiveByStaff(ctx context.Context, staffID string) ([]domain.ChatSession, error) {
	var sessions []domain.ChatSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND staff_id = ?", domain.SessionActive, staffID).
		Order("assigned_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list active sessions of staff '%s': %w", staffID, err)
	}
	return sessions, nil
}

// ListActive 返回全部进行中的会话
func (r *GormSessionRepository) ListActive(ctx context.Context) ([]domain.ChatSession, error) {
	var sessions []domain.ChatSession
	err := r.db.WithContext(ctx).Where("status = ?", domain.SessionActive).Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list active sessions: %w", err)
	}
	return sessions, nil
}

// ListIdle 返回长时间无活动的未结束会话
func (r *GormSessionRepository) ListIdle(ctx context.Context, before time.Time, limit int) ([]domain.ChatSession, error) {
	var sessions []domain.ChatSession
	err := r.db.WithContext(ctx).
		Where("status <> ? AND last_activity < ?", domain.SessionClosed, before).
		Order("last_activity ASC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list idle sessions: %w", err)
	}
	return sessions, nil
}

// CountByStatus 统计指定状态的会话数量
func (r *GormSessionRepository) CountByStatus(ctx context.Context, status domain.SessionStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.ChatSession{}).Where("status = ?", status).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: count sessions by status '%s': %w", status, err)
	}
	return count, nil
}

// CountWaitingBefore 统计排在指定时间之前的等待会话
func (r *GormSessionRepository) CountWaitingBefore(ctx context.Context, createdAt time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.ChatSession{}).
		Where("status = ? AND created_at < ?", domain.SessionWaiting, createdAt).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: count waiting sessions: %w", err)
	}
	return count, nil
}

// CountActiveByStaff 使用 GROUP BY 统计每个客服的进行中会话数
func (r *GormSessionRepository) CountActiveByStaff(ctx context.Context, staffIDs []string) (map[string]int, error) {
	loads := make(map[string]int, len(staffIDs))
	if len(staffIDs) == 0 {
		return loads, nil // 避免空的 IN 查询
	}
	var rows []struct {
		StaffID string
		Total   int
	}
	err := r.db.WithContext(ctx).Model(&domain.ChatSession{}).
		Select("staff_id, COUNT(*) AS total").
		Where("status = ? AND staff_id IN ?", domain.SessionActive, staffIDs).
		Group("staff_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: count active sessions by staff: %w", err)
	}
	for _, row := range rows {
		loads[row.StaffID] = row.Total
	}
	return loads, nil
}

// Assign 条件更新: 只有 waiting 状态的会话才能被分配。
// 先锁住客服行再统计负载，同一客服的并发分配在事务内串行执行。
func (r *GormSessionRepository) Assign(ctx context.Context, id, staffID string, capacity int, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockStaffCapacity(tx, staffID, capacity); err != nil {
			return err
		}
		result := tx.Model(&domain.ChatSession{}).
			Where("id = ? AND status = ?", id, domain.SessionWaiting).
			Updates(map[string]interface{}{
				"staff_id":      staffID,
				"status":        domain.SessionActive,
				"assigned_at":   at,
				"last_activity": at,
			})
		return conditionalResult(result, "assign session "+id)
	})
}

// Reassign 条件更新: 会话必须仍由 fromStaffID 接待，容量检查针对 toStaffID
func (r *GormSessionRepository) Reassign(ctx context.Context, id, fromStaffID, toStaffID string, capacity int, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockStaffCapacity(tx, toStaffID, capacity); err != nil {
			return err
		}
		result := tx.Model(&domain.ChatSession{}).
			Where("id = ? AND status = ? AND staff_id = ?", id, domain.SessionActive, fromStaffID).
			Updates(map[string]interface{}{
				"staff_id":      toStaffID,
				"assigned_at":   at,
				"last_activity": at,
			})
		return conditionalResult(result, "reassign session "+id)
	})
}

// lockStaffCapacity 对客服行加 FOR UPDATE 锁，然后检查进行中的会话数。
// 必须在事务中调用，锁在事务提交或回滚时释放。
func lockStaffCapacity(tx *gorm.DB, staffID string, capacity int) error {
	var locked domain.Staff
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", staffID).
		Take(&locked).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return repository.ErrStaffNotFound
		}
		return fmt.Errorf("gorm: lock staff '%s': %w", staffID, err)
	}

	var active int64
	err = tx.Model(&domain.ChatSession{}).
		Where("status = ? AND staff_id = ?", domain.SessionActive, staffID).
		Count(&active).Error
	if err != nil {
		return fmt.Errorf("gorm: count active sessions of staff '%s': %w", staffID, err)
	}
	if active >= int64(capacity) {
		return repository.ErrCapacityExceeded
	}
	return nil
}

// Requeue 条件更新: active -> waiting
func (r *GormSessionRepository) Requeue(ctx context.Context, id, staffID string) error {
	result := r.db.WithContext(ctx).Model(&domain.ChatSession{}).
		Where("id = ? AND status = ? AND staff_id = ?", id, domain.SessionActive, staffID).
		Updates(map[string]interface{}{
			"staff_id":    nil,
			"status":      domain.SessionWaiting,
			"assigned_at": nil,
		})
	return conditionalResult(result, "requeue session "+id)
}

// Close 条件更新: 已结束的会话不会被再次结束。同时释放 open_visitor_id，访客之后可以开启新会话。
func (r *GormSessionRepository) Close(ctx context.Context, id string, closedBy domain.Role, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.ChatSession{}).
		Where("id = ? AND status <> ?", id, domain.SessionClosed).
		Updates(map[string]interface{}{
			"status":          domain.SessionClosed,
			"closed_by":       closedBy,
			"closed_at":       at,
			"open_visitor_id": nil,
		})
	return conditionalResult(result, "close session "+id)
}

// Touch 刷新最后活跃时间并累加消息数
func (r *GormSessionRepository) Touch(ctx context.Context, id string, at time.Time, messages int) error {
	err := r.db.WithContext(ctx).Model(&domain.ChatSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_activity": at,
			"message_count": gorm.Expr("message_count + ?", messages),
		}).Error
	if err != nil {
		return fmt.Errorf("gorm: touch session '%s': %w", id, err)
	}
	return nil
}

// conditionalResult 将条件更新的结果映射为仓库错误
func conditionalResult(result *gorm.DB, op string) error {
	if result.Error != nil {
		return fmt.Errorf("gorm: %s: %w", op, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrConflict
	}
	return nil
}

var _ repository.SessionRepository = (*GormSessionRepository)(nil)
