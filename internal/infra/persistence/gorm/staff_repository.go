package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/repository"
)

// GormStaffRepository 是 StaffRepository 接口的 GORM 实现
type GormStaffRepository struct {
	db *gorm.DB // 依赖 GORM DB 连接
}

// NewGormStaffRepository 创建 GormStaffRepository 实例
func NewGormStaffRepository(db *gorm.DB) *GormStaffRepository {
	if db == nil {
		panic("database connection cannot be nil for GormStaffRepository")
	}
	return &GormStaffRepository{db: db}
}

var _ repository.StaffRepository = (*GormStaffRepository)(nil)

// FindByID 根据客服 ID 查找
func (r *GormStaffRepository) FindByID(ctx context.Context, id string) (*domain.Staff, error) {
	var staff domain.Staff
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&staff).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrStaffNotFound
		}
		return nil, fmt.Errorf("gorm: find staff by id '%s': %w", id, err)
	}
	return &staff, nil
}

// FindByIDs 批量查询客服资料
func (r *GormStaffRepository) FindByIDs(ctx context.Context, ids []string) ([]domain.Staff, error) {
	var staff []domain.Staff
	if len(ids) == 0 {
		return staff, nil // 避免空的 IN 查询，直接返回空 slice
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&staff).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find staff by ids: %w", err)
	}
	return staff, nil
}
