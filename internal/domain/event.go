package domain

import "time"

// 集成事件的路由键
const (
	EventSessionOpened   = "session.opened"
	EventSessionAssigned = "session.assigned"
	EventSessionClosed   = "session.closed"
	EventMessageOffline  = "message.offline" // 无客服在线时访客留言
)

// ChatEvent 是发布到消息代理的集成事件，供后台系统 (邮件提醒、CRM) 消费
type ChatEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	SessionID  string    `json:"sessionId"`
	VisitorID  string    `json:"visitorId,omitempty"`
	StaffID    string    `json:"staffId,omitempty"`
	Content    string    `json:"content,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
