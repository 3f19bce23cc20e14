package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
)

// compositeIndexes 是 AutoMigrate 无法从单字段标签推导出的联合索引
var compositeIndexes = []struct {
	table   string
	name    string
	columns string
}{
	// 历史消息按会话分页、按时间排序
	{"chat_messages", "idx_chat_messages_session_created", "session_id, created_at"},
	// 等待队列按创建时间排队
	{"chat_sessions", "idx_chat_sessions_status_created", "status, created_at"},
	// 统计客服负载
	{"chat_sessions", "idx_chat_sessions_staff_status", "staff_id, status"},
}

// MigrateDB 迁移聊天相关的表结构，返回错误以便调用者知道迁移是否成功。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	err := db.AutoMigrate(
		&domain.Staff{},
		&domain.ChatSession{},
		&domain.ChatMessage{},
	)
	if err != nil {
		logrus.Errorf("Failed to auto-migrate chat tables: %v", err)
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	for _, idx := range compositeIndexes {
		if err := ensureIndex(db, idx.table, idx.name, idx.columns); err != nil {
			return err
		}
	}

	logrus.Info("Database migration completed successfully")
	return nil
}

// ensureIndex 在索引不存在时创建它
func ensureIndex(db *gorm.DB, table, name, columns string) error {
	var count int64
	err := db.Raw(
		"SELECT COUNT(*) FROM information_schema.statistics WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?",
		table, name,
	).Scan(&count).Error
	if err != nil {
		return fmt.Errorf("failed to inspect index %s: %w", name, err)
	}
	if count > 0 {
		return nil
	}
	if err := db.Exec(fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, table, columns)).Error; err != nil {
		logrus.Errorf("Failed to create index %s: %v", name, err)
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	logrus.WithFields(logrus.Fields{"table": table, "index": name}).Info("Index created")
	return nil
}
