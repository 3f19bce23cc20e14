package domain

import "time"

// Staff 表示可以接待访客的客服人员。
// ID 与后台管理系统中的用户 ID 相同，本服务只读不写。
type Staff struct {
	ID                 string    `gorm:"primaryKey;size:64" json:"id"`
	UserName           string    `gorm:"size:191;uniqueIndex:idx_chat_staff_username;not null" json:"userName"`
	DisplayName        string    `gorm:"size:100" json:"displayName"`
	AvatarURL          string    `gorm:"size:255" json:"avatarUrl"`
	IsActive           bool      `gorm:"not null;default:true" json:"isActive"`
	MaxConcurrentChats int       `gorm:"not null;default:0" json:"maxConcurrentChats"` // 0 表示使用服务默认值
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定 GORM 表名
func (Staff) TableName() string { return "chat_staff" }

// Name 返回展示用名称
func (s *Staff) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.UserName
}

// Capacity 返回该客服最多同时接待的会话数
func (s *Staff) Capacity(defaultCapacity int) int {
	if s.MaxConcurrentChats > 0 {
		return s.MaxConcurrentChats
	}
	return defaultCapacity
}

// Profile 返回可以推送给访客的公开信息
func (s *Staff) Profile() StaffProfile {
	return StaffProfile{ID: s.ID, Name: s.Name(), AvatarURL: s.AvatarURL}
}

// StaffProfile 是客服对访客公开的资料
type StaffProfile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}
