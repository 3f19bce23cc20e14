package dto

import "github.com/lsiswin/RecyclingApi-sub001/internal/domain"

// 客户端 -> 服务端 的帧类型
const (
	InMessage  = "message"
	InTyping   = "typing"
	InStart    = "start"    // 访客在会话结束后重新发起咨询
	InAccept   = "accept"   // 客服手动接入等待中的会话
	InClose    = "close"    // 结束会话
	InTransfer = "transfer" // 客服转接
)

// 服务端 -> 客户端 的帧类型
const (
	OutWelcome         = "welcome"
	OutMessage         = "message"
	OutTyping          = "typing"
	OutWaiting         = "waiting"          // 访客: 排队中
	OutAssigned        = "assigned"         // 访客: 已有客服接入
	OutSessionAssigned = "session_assigned" // 客服: 新会话分配给你
	OutSessionClosed   = "session_closed"
	OutSessionRemoved  = "session_removed" // 客服: 会话被转走或重新排队
	OutQueue           = "queue"           // 全体客服: 等待队列变化
	OutError           = "error"
)

// InboundFrame 表示从 WebSocket 收到的一条客户端消息
type InboundFrame struct {
	Type          string `json:"type"`
	SessionID     string `json:"sessionId,omitempty"`
	Content       string `json:"content,omitempty"`
	Name          string `json:"name,omitempty"`
	TargetStaffID string `json:"targetStaffId,omitempty"`
}

// Frame 表示推送给客户端的一条消息。字段按帧类型选择性填充。
type Frame struct {
	Type         string               `json:"type"`
	SessionID    string               `json:"sessionId,omitempty"`
	VisitorID    string               `json:"visitorId,omitempty"`
	Session      *domain.ChatSession  `json:"session,omitempty"`
	Sessions     []domain.ChatSession `json:"sessions,omitempty"`
	Message      *domain.ChatMessage  `json:"message,omitempty"`
	History      []domain.ChatMessage `json:"history,omitempty"`
	Staff        *domain.StaffProfile `json:"staff,omitempty"`
	From         *domain.Peer         `json:"from,omitempty"`
	Position     int64                `json:"position,omitempty"`
	WaitingCount *int64               `json:"waitingCount,omitempty"`
	ClosedBy     domain.Role          `json:"closedBy,omitempty"`
	Reason       string               `json:"reason,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// Outbound 是一帧消息及其接收者列表。Service 产出，Hub 负责投递。
type Outbound struct {
	To    []domain.Peer `json:"to"`
	Frame Frame         `json:"frame"`
}

// To 是构造 Outbound 的快捷方式
func To(frame Frame, peers ...domain.Peer) Outbound {
	return Outbound{To: peers, Frame: frame}
}

// ErrorFrame 构造错误帧
func ErrorFrame(sessionID, message string) Frame {
	return Frame{Type: OutError, SessionID: sessionID, Error: message}
}

// QueueFrame 构造等待队列变化通知
func QueueFrame(waiting int64) Frame {
	return Frame{Type: OutQueue, WaitingCount: &waiting}
}
