package domain

import "time"

// StaffLoad 描述一个在线客服当前的接待负载，用于分配算法
type StaffLoad struct {
	StaffID  string
	Active   int // 当前进行中的会话数
	Capacity int // 0 表示使用默认容量
}

// StaffPresence 是在线客服列表中的一项
type StaffPresence struct {
	StaffProfile
	ActiveSessions int `json:"activeSessions"`
	Capacity       int `json:"capacity"`
}

// Availability 是聊天挂件在打开前探测的信息
type Availability struct {
	Online      bool  `json:"online"`
	OnlineStaff int64 `json:"onlineStaff"`
}

// ChatStats 是后台统计面板的数据
type ChatStats struct {
	OnlineVisitors   int64     `json:"onlineVisitors"`
	OnlineStaff      int64     `json:"onlineStaff"`
	WaitingSessions  int64     `json:"waitingSessions"`
	ActiveSessions   int64     `json:"activeSessions"`
	SessionsToday    int64     `json:"sessionsToday"`
	MessagesToday    int64     `json:"messagesToday"`
	LocalConnections int       `json:"localConnections"`
	GeneratedAt      time.Time `json:"generatedAt"`
}

// 每日计数器的字段名
const (
	CounterSessions = "sessions"
	CounterMessages = "messages"
)

// DayKey 返回计数器使用的日期键 (UTC)
func DayKey(t time.Time) string {
	return t.UTC().Format("20060102")
}
