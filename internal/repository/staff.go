package repository

import (
	"context"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
)

// StaffRepository 定义了客服资料的读取操作。
type StaffRepository interface {
	// FindByID 根据 ID 查找客服，不存在时返回 ErrStaffNotFound
	FindByID(ctx context.Context, id string) (*domain.Staff, error)

	// FindByIDs 批量查询客服，未找到的 ID 会被忽略
	FindByIDs(ctx context.Context, ids []string) ([]domain.Staff, error)
}
