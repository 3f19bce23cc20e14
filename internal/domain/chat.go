package domain

import "time"

// Role 标识聊天参与者的身份
type Role string

const (
	RoleVisitor Role = "visitor" // 网站访客 (匿名)
	RoleStaff   Role = "staff"   // 客服人员 (后台用户)

	// ClosedBySystem 只用于 ChatSession.ClosedBy，表示空闲超时等自动结束
	ClosedBySystem Role = "system"
)

// Valid 判断角色是否合法
func (r Role) Valid() bool {
	return r == RoleVisitor || r == RoleStaff
}

// AllStaffID 作为 Peer.ID 使用时表示 "所有在线客服"
const AllStaffID = "*"

// Peer 是 Hub 中可寻址的一个参与者 (访客或客服)。
type Peer struct {
	Role Role   `json:"role"`
	ID   string `json:"id"`
}

// VisitorPeer / StaffPeer 是构造 Peer 的快捷方式
func VisitorPeer(id string) Peer { return Peer{Role: RoleVisitor, ID: id} }
func StaffPeer(id string) Peer   { return Peer{Role: RoleStaff, ID: id} }

// AllStaff 返回代表全部在线客服的 Peer
func AllStaff() Peer { return Peer{Role: RoleStaff, ID: AllStaffID} }

// IsBroadcast 判断是否为广播目标
func (p Peer) IsBroadcast() bool { return p.ID == AllStaffID }

// SessionStatus 表示会话所处的阶段
type SessionStatus string

const (
	SessionWaiting SessionStatus = "waiting" // 等待客服接入
	SessionActive  SessionStatus = "active"  // 已分配客服
	SessionClosed  SessionStatus = "closed"  // 已结束
)

// Valid 判断状态值是否合法 (用于查询参数)
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionWaiting, SessionActive, SessionClosed:
		return true
	}
	return false
}

// ChatSession 表示一次访客与客服之间的对话。
// 不变量: Status == active 当且仅当 StaffID != nil。
// OpenVisitorID 在会话未结束时等于 VisitorID，结束后置空；唯一索引保证每个访客最多一个未结束的会话。
type ChatSession struct {
	ID            string        `gorm:"primaryKey;size:36" json:"id"`
	VisitorID     string        `gorm:"size:36;index;not null" json:"visitorId"`
	OpenVisitorID *string       `gorm:"size:36;uniqueIndex:idx_chat_sessions_open_visitor" json:"-"`
	VisitorName   string        `gorm:"size:100" json:"visitorName"`
	StaffID       *string       `gorm:"size:64;index" json:"staffId"`
	Status        SessionStatus `gorm:"size:16;index;not null" json:"status"`
	ClosedBy      Role          `gorm:"size:16" json:"closedBy,omitempty"`
	MessageCount  int           `gorm:"not null;default:0" json:"messageCount"`
	CreatedAt     time.Time     `gorm:"autoCreateTime;index" json:"createdAt"`
	AssignedAt    *time.Time    `json:"assignedAt"`
	ClosedAt      *time.Time    `json:"closedAt"`
	LastActivity  time.Time     `gorm:"index" json:"lastActivity"`
}

// IsOpen 会话是否仍可收发消息
func (s *ChatSession) IsOpen() bool {
	return s.Status != SessionClosed
}

// AssignedTo 判断会话是否分配给指定客服
func (s *ChatSession) AssignedTo(staffID string) bool {
	return s.StaffID != nil && *s.StaffID == staffID
}

// MessageKind 区分普通消息与系统提示
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageSystem MessageKind = "system"
)

// ChatMessage 表示会话中的一条消息。ID 在服务端生成 (uuid)，
// 因此可以先推送给客户端，再由后台任务异步落库。
type ChatMessage struct {
	ID         string      `gorm:"primaryKey;size:36" json:"id"`
	SessionID  string      `gorm:"size:36;index;not null" json:"sessionId"`
	SenderRole Role        `gorm:"size:16;not null" json:"senderRole"`
	SenderID   string      `gorm:"size:64;not null" json:"senderId"`
	SenderName string      `gorm:"size:100" json:"senderName"`
	Kind       MessageKind `gorm:"size:16;not null" json:"kind"`
	Content    string      `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time   `gorm:"index" json:"createdAt"`
}

// SessionFilter 是会话列表查询条件
type SessionFilter struct {
	Status    SessionStatus
	StaffID   string
	VisitorID string
}
