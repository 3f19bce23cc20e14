package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/dto"
	"github.com/lsiswin/RecyclingApi-sub001/internal/repository"
)

const (
	assignBatchSize = 50  // 单次分配最多处理的等待会话数
	sweepBatchSize  = 200 // 单次巡检最多关闭的空闲会话数
	visitorNameMax  = 50
)

// MessagePersister 负责把消息写入持久化存储，通常是投递一个后台任务。
type MessagePersister interface {
	PersistMessage(ctx context.Context, msg domain.ChatMessage) error
}

// EventPublisher 发布集成事件 (RabbitMQ)。
type EventPublisher interface {
	Publish(ctx context.Context, event domain.ChatEvent) error
}

// NopEventPublisher 在未配置消息代理时使用
type NopEventPublisher struct{}

// Publish 丢弃事件
func (NopEventPublisher) Publish(context.Context, domain.ChatEvent) error { return nil }

// ChatOptions 是聊天服务的可调参数
type ChatOptions struct {
	MaxSessionsPerStaff int           // 客服默认最大同时接待数
	PresenceTTL         time.Duration // 心跳超过该时长视为离线
	IdleTimeout         time.Duration // 会话空闲超过该时长自动结束
	HistoryLimit        int           // 连接时下发的历史消息条数
	MaxMessageLength    int
}

// DefaultChatOptions 返回默认参数
func DefaultChatOptions() ChatOptions {
	return ChatOptions{
		MaxSessionsPerStaff: 5,
		PresenceTTL:         90 * time.Second,
		IdleTimeout:         30 * time.Minute,
		HistoryLimit:        50,
		MaxMessageLength:    DefaultMaxMessageLength,
	}
}

// withDefaults 用默认值补齐未设置的参数
func (o ChatOptions) withDefaults() ChatOptions {
	d := DefaultChatOptions()
	if o.MaxSessionsPerStaff <= 0 {
		o.MaxSessionsPerStaff = d.MaxSessionsPerStaff
	}
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = d.PresenceTTL
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = d.IdleTimeout
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = d.HistoryLimit
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = d.MaxMessageLength
	}
	return o
}

// ChatService 负责访客与客服之间的会话管理: 开启/恢复会话、分配客服、
// 消息路由、转接、结束以及周期巡检。
// 所有会改变连接端状态的操作都返回 []dto.Outbound，由 Hub 负责投递。
type ChatService struct {
	sessions  repository.SessionRepository
	messages  repository.MessageRepository
	staff     repository.StaffRepository
	presence  repository.PresenceRepository
	state     repository.StateRepository
	persister MessagePersister
	events    EventPublisher
	filter    *ContentFilter
	opts      ChatOptions
	now       func() time.Time

	profilesMu sync.RWMutex
	profiles   map[string]domain.StaffProfile // 客服资料缓存，避免每条消息查库

	opening singleflight.Group // 按访客 ID 合并并发的开启会话请求
}

// NewChatService 创建 ChatService 实例。
func NewChatService(
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	staff repository.StaffRepository,
	presence repository.PresenceRepository,
	state repository.StateRepository,
	persister MessagePersister,
	events EventPublisher,
	opts ChatOptions,
) *ChatService {
	if sessions == nil || messages == nil || staff == nil || presence == nil || state == nil {
		panic("All repositories must be non-nil for ChatService")
	}
	if persister == nil {
		panic("MessagePersister cannot be nil for ChatService")
	}
	if events == nil {
		events = NopEventPublisher{}
	}
	opts = opts.withDefaults()
	return &ChatService{
		sessions:  sessions,
		messages:  messages,
		staff:     staff,
		presence:  presence,
		state:     state,
		persister: persister,
		events:    events,
		filter:    NewContentFilter(opts.MaxMessageLength),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		profiles:  make(map[string]domain.StaffProfile),
	}
}

// Options 返回生效的参数
func (s *ChatService) Options() ChatOptions { return s.opts }

// onlineSince 返回判断在线的心跳时间下限
func (s *ChatService) onlineSince() time.Time {
	return s.now().Add(-s.opts.PresenceTTL)
}

// =====================================================================
// 连接生命周期
// =====================================================================

// ConnectVisitor 处理访客连接: 记录在线状态，恢复或创建会话并尝试分配客服。
func (s *ChatService) ConnectVisitor(ctx context.Context, visitorID, name string) (*domain.ChatSession, []dto.Outbound, error) {
	if _, err := uuid.Parse(visitorID); err != nil {
		return nil, nil, ErrInvalidVisitor
	}
	if err := s.presence.MarkOnline(ctx, domain.VisitorPeer(visitorID), s.now()); err != nil {
		logrus.WithError(err).WithField("visitor_id", visitorID).Warn("Failed to mark visitor online")
	}
	return s.openSession(ctx, visitorID, name)
}

// StartSession 访客在上一个会话结束后重新发起咨询
func (s *ChatService) StartSession(ctx context.Context, visitorID, name string) (*domain.ChatSession, []dto.Outbound, error) {
	if _, err := uuid.Parse(visitorID); err != nil {
		return nil, nil, ErrInvalidVisitor
	}
	return s.openSession(ctx, visitorID, name)
}

// DisconnectVisitor 访客的最后一个连接断开。会话保留，等待重连或空闲超时。
func (s *ChatService) DisconnectVisitor(ctx context.Context, visitorID string) error {
	if err := s.presence.MarkOffline(ctx, domain.VisitorPeer(visitorID)); err != nil {
		logrus.WithError(err).WithField("visitor_id", visitorID).Error("Failed to mark visitor offline")
		return ErrInternalServer
	}
	return nil
}

// ConnectStaff 处理客服连接: 校验账号，记录在线状态，下发进行中的会话，
// 然后尝试把等待中的会话分配出去。
func (s *ChatService) ConnectStaff(ctx context.Context, staffID string) (*domain.Staff, []dto.Outbound, error) {
	logCtx := logrus.WithField("staff_id", staffID)

	staff, err := s.loadStaff(ctx, staffID)
	if err != nil {
		return nil, nil, err
	}
	if !staff.IsActive {
		logCtx.Warn("Inactive staff attempted to connect")
		return nil, nil, ErrStaffInactive
	}
	if err := s.presence.MarkOnline(ctx, domain.StaffPeer(staffID), s.now()); err != nil {
		logCtx.WithError(err).Error("Failed to mark staff online")
		return nil, nil, ErrInternalServer
	}

	welcome, err := s.staffWelcome(ctx, staff)
	if err != nil {
		return nil, nil, err
	}
	out := []dto.Outbound{dto.To(welcome, domain.StaffPeer(staffID))}

	assigned, err := s.AssignWaiting(ctx)
	if err != nil {
		logCtx.WithError(err).Warn("Assigning waiting sessions after staff connect failed")
	}
	out = append(out, assigned...)

	logCtx.WithField("active_sessions", len(welcome.Sessions)).Info("Staff connected")
	return staff, out, nil
}

// StaffWelcome 为客服新打开的连接生成欢迎帧，不刷新在线状态，也不触发分配。
func (s *ChatService) StaffWelcome(ctx context.Context, staffID string) (dto.Frame, error) {
	staff, err := s.loadStaff(ctx, staffID)
	if err != nil {
		return dto.Frame{}, err
	}
	if !staff.IsActive {
		return dto.Frame{}, ErrStaffInactive
	}
	return s.staffWelcome(ctx, staff)
}

// ResumeVisitor 为访客新打开的连接生成当前会话的状态帧。
// 只读取已有会话，不创建会话，也不触发分配。会话已结束时返回不带会话的 welcome。
func (s *ChatService) ResumeVisitor(ctx context.Context, visitorID string) (*domain.ChatSession, []dto.Frame, error) {
	if _, err := uuid.Parse(visitorID); err != nil {
		return nil, nil, ErrInvalidVisitor
	}
	session, err := s.sessions.FindOpenByVisitor(ctx, visitorID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, []dto.Frame{{Type: dto.OutWelcome, VisitorID: visitorID}}, nil
		}
		logrus.WithError(err).WithField("visitor_id", visitorID).Error("Failed to find open session for visitor")
		return nil, nil, ErrInternalServer
	}

	frames := []dto.Frame{s.welcomeFrame(ctx, session, true)}
	switch session.Status {
	case domain.SessionActive:
		if session.StaffID == nil {
			break
		}
		if profile, err := s.staffProfile(ctx, *session.StaffID); err == nil {
			frames = append(frames, dto.Frame{Type: dto.OutAssigned, SessionID: session.ID, Staff: &profile})
		}
	case domain.SessionWaiting:
		frames = append(frames, dto.Frame{
			Type:      dto.OutWaiting,
			SessionID: session.ID,
			Position:  s.queuePosition(ctx, session),
		})
	}
	return session, frames, nil
}

// DisconnectStaff 客服的最后一个连接断开。
// 进行中的会话暂不回收，超过在线 TTL 后由巡检任务重新排队。
func (s *ChatService) DisconnectStaff(ctx context.Context, staffID string) error {
	if err := s.presence.MarkOffline(ctx, domain.StaffPeer(staffID)); err != nil {
		logrus.WithError(err).WithField("staff_id", staffID).Error("Failed to mark staff offline")
		return ErrInternalServer
	}
	return nil
}

// Heartbeat 刷新一组本地连接参与者的在线状态
func (s *ChatService) Heartbeat(ctx context.Context, peers []domain.Peer) error {
	now := s.now()
	var firstErr error
	for _, p := range peers {
		if err := s.presence.MarkOnline(ctx, p, now); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"role": p.Role, "peer_id": p.ID}).Warn("Heartbeat failed")
			if firstErr == nil {
				firstErr = ErrInternalServer
			}
		}
	}
	return firstErr
}

// =====================================================================
// 消息
// =====================================================================

// SendVisitorMessage 处理访客发送的消息
func (s *ChatService) SendVisitorMessage(ctx context.Context, visitorID, sessionID, content string) ([]dto.Outbound, error) {
	text, err := s.filter.Clean(content)
	if err != nil {
		return nil, err
	}
	session, err := s.findSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.VisitorID != visitorID {
		return nil, ErrNotParticipant
	}
	if !session.IsOpen() {
		return nil, ErrSessionClosed
	}

	msg := s.newMessage(session.ID, domain.VisitorPeer(visitorID), session.VisitorName, text)
	if err := s.record(ctx, msg); err != nil {
		return nil, err
	}

	recipients := []domain.Peer{domain.VisitorPeer(visitorID)}
	if session.StaffID != nil {
		recipients = append(recipients, domain.StaffPeer(*session.StaffID))
	} else {
		// 排队中: 所有客服都离线时发布留言事件，由后台系统提醒
		online, err := s.presence.CountOnline(ctx, domain.RoleStaff, s.onlineSince())
		if err != nil {
			logrus.WithError(err).Warn("Failed to count online staff")
		} else if online == 0 {
			s.publish(ctx, domain.ChatEvent{
				Type:      domain.EventMessageOffline,
				SessionID: session.ID,
				VisitorID: visitorID,
				Content:   text,
			})
		}
	}
	return []dto.Outbound{dto.To(dto.Frame{Type: dto.OutMessage, SessionID: session.ID, Message: &msg}, recipients...)}, nil
}

// SendStaffMessage 处理客服发送的消息，只有被分配的客服可以发言
func (s *ChatService) SendStaffMessage(ctx context.Context, staffID, sessionID, content string) ([]dto.Outbound, error) {
	text, err := s.filter.Clean(content)
	if err != nil {
		return nil, err
	}
	session, err := s.findSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.AssignedTo(staffID) {
		return nil, ErrNotParticipant
	}
	if !session.IsOpen() {
		return nil, ErrSessionClosed
	}

	profile, err := s.staffProfile(ctx, staffID)
	if err != nil {
		return nil, err
	}
	msg := s.newMessage(session.ID, domain.StaffPeer(staffID), profile.Name, text)
	if err := s.record(ctx, msg); err != nil {
		return nil, err
	}
	frame := dto.Frame{Type: dto.OutMessage, SessionID: session.ID, Message: &msg}
	return []dto.Outbound{dto.To(frame, domain.VisitorPeer(session.VisitorID), domain.StaffPeer(staffID))}, nil
}

// Typing 转发 "正在输入" 提示，不落库
func (s *ChatService) Typing(ctx context.Context, from domain.Peer, sessionID string) ([]dto.Outbound, error) {
	session, err := s.findSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(session, from) {
		return nil, ErrNotParticipant
	}
	if !session.IsOpen() {
		return nil, ErrSessionClosed
	}
	var target domain.Peer
	switch from.Role {
	case domain.RoleVisitor:
		if session.StaffID == nil {
			return nil, nil // 还没有客服，无人接收
		}
		target = domain.StaffPeer(*session.StaffID)
	default:
		target = domain.VisitorPeer(session.VisitorID)
	}
	sender := from
	return []dto.Outbound{dto.To(dto.Frame{Type: dto.OutTyping, SessionID: session.ID, From: &sender}, target)}, nil
}

// =====================================================================
// 分配、转接与结束
// =====================================================================

// AssignWaiting 按排队顺序把等待中的会话分配给负载最低的在线客服，
// 直到没有会话或没有空闲客服为止。
func (s *ChatService) AssignWaiting(ctx context.Context) ([]dto.Outbound, error) {
	_, out, err := s.assignWaiting(ctx)
	return out, err
}

func (s *ChatService) assignWaiting(ctx context.Context) (map[string]bool, []dto.Outbound, error) {
	assigned := make(map[string]bool)
	waiting, err := s.sessions.ListWaiting(ctx, assignBatchSize)
	if err != nil {
		logrus.WithError(err).Error("Failed to list waiting sessions")
		return assigned, nil, ErrInternalServer
	}
	if len(waiting) == 0 {
		return assigned, nil, nil
	}
	loads, staffByID, err := s.onlineStaffLoads(ctx)
	if err != nil {
		return assigned, nil, err
	}
	if len(loads) == 0 {
		return assigned, nil, nil
	}

	var out []dto.Outbound
	for i := 0; i < len(waiting); {
		session := waiting[i]
		staffID, ok := PickStaff(loads, s.opts.MaxSessionsPerStaff)
		if !ok {
			break // 所有在线客服都已满员
		}
		load := findLoad(loads, staffID)
		capacity := effectiveCapacity(*load, s.opts.MaxSessionsPerStaff)
		now := s.now()
		logCtx := logrus.WithFields(logrus.Fields{"session_id": session.ID, "staff_id": staffID})
		err := s.sessions.Assign(ctx, session.ID, staffID, capacity, now)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrCapacityExceeded), errors.Is(err, repository.ErrStaffNotFound):
			// 负载快照已过期 (手动接入或其他节点刚占用了名额)，换一位客服重试同一个会话
			logCtx.Debug("Staff filled up concurrently, picking another")
			load.Active = capacity
			continue
		case errors.Is(err, repository.ErrConflict):
			logCtx.Debug("Session already taken by another node, skipping")
			i++
			continue
		default:
			logCtx.WithError(err).Error("Failed to assign session")
			return assigned, out, ErrInternalServer
		}
		i++
		load.Active++
		session.StaffID = &staffID
		session.Status = domain.SessionActive
		session.AssignedAt = &now
		session.LastActivity = now
		assigned[session.ID] = true

		staff := staffByID[staffID]
		out = append(out, s.assignmentFrames(ctx, &session, staff.Profile())...)
		s.publish(ctx, domain.ChatEvent{
			Type:      domain.EventSessionAssigned,
			SessionID: session.ID,
			VisitorID: session.VisitorID,
			StaffID:   staffID,
		})
		logCtx.WithField("wait_seconds", now.Sub(session.CreatedAt).Seconds()).Info("Session assigned")
	}
	if len(assigned) > 0 {
		out = append(out, s.queueUpdate(ctx)...)
	}
	return assigned, out, nil
}

// AcceptSession 客服手动接入一个等待中的会话
func (s *ChatService) AcceptSession(ctx context.Context, staffID, sessionID string) ([]dto.Outbound, error) {
	staff, err := s.loadStaff(ctx, staffID)
	if err != nil {
		return nil, err
	}
	if !staff.IsActive {
		return nil, ErrStaffInactive
	}
	session, err := s.findSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsOpen() {
		return nil, ErrSessionClosed
	}
	if session.Status != domain.SessionWaiting {
		return nil, ErrSessionNotWaiting
	}
	capacity := staff.Capacity(s.opts.MaxSessionsPerStaff)
	if err := s.checkCapacity(ctx, staff.ID, capacity, ErrStaffAtCapacity); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.sessions.Assign(ctx, session.ID, staffID, capacity, now); err != nil {
		switch {
		case errors.Is(err, repository.ErrCapacityExceeded):
			return nil, ErrStaffAtCapacity
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrSessionNotWaiting
		case errors.Is(err, repository.ErrStaffNotFound):
			return nil, ErrStaffNotFound
		}
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to accept session")
		return nil, ErrInternalServer
	}
	session.StaffID = &staffID
	session.Status = domain.SessionActive
	session.AssignedAt = &now
	session.LastActivity = now

	out := s.assignmentFrames(ctx, session, staff.Profile())
	out = append(out, s.queueUpdate(ctx)...)
	s.publish(ctx, domain.ChatEvent{
		Type:      domain.EventSessionAssigned,
		SessionID: session.ID,
		VisitorID: session.VisitorID,
		StaffID:   staffID,
	})
	logrus.WithFields(logrus.Fields{"session_id": sessionID, "staff_id": staffID}).Info("Session accepted manually")
	return out, nil
}

// TransferSession 把进行中的会话转给另一位在线且未满员的客服
func (s *ChatService) TransferSession(ctx context.Context, fromStaffID, sessionID, toStaffID string) ([]dto.Outbound, error) {
	if toStaffID == "" || toStaffID == fromStaffID {
		return nil, ErrInvalidInput
	}
	session, err := s.findSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.AssignedTo(fromStaffID) {
		return nil, ErrNotParticipant
	}
	if !session.IsOpen() {
		return nil, ErrSessionClosed
	}

	target, err := s.loadStaff(ctx, toStaffID)
	if err != nil {
		return nil, err
	}
	if !target.IsActive {
		return nil, ErrStaffUnavailable
	}
	online, err := s.presence.IsOnline(ctx, domain.StaffPeer(toStaffID), s.onlineSince())
	if err != nil {
		logrus.WithError(err).WithField("staff_id", toStaffID).Error("Failed to check staff presence")
		return nil, ErrInternalServer
	}
	if !online {
		return nil, ErrStaffUnavailable
	}
	capacity := target.Capacity(s.opts.MaxSessionsPerStaff)
	if err := s.checkCapacity(ctx, target.ID, capacity, ErrStaffUnavailable); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.sessions.Reassign(ctx, session.ID, fromStaffID, toStaffID, capacity, now); err != nil {
		switch {
		case errors.Is(err, repository.ErrCapacityExceeded), errors.Is(err, repository.ErrStaffNotFound):
			return nil, ErrStaffUnavailable
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrNotParticipant
		}
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to transfer session")
		return nil, ErrInternalServer
	}
	session.StaffID = &toStaffID
	session.AssignedAt = &now
	session.LastActivity = now

	out := []dto.Outbound{dto.To(dto.Frame{
		Type:      dto.OutSessionRemoved,
		SessionID: session.ID,
		Reason:    "transferred",
	}, domain.StaffPeer(fromStaffID))}
	out = append(out, s.assignmentFrames(ctx, session, target.Profile())...)
	s.publish(ctx, domain.ChatEvent{
		Type:      domain.EventSessionAssigned,
		SessionID: session.ID,
		VisitorID: session.VisitorID,
		StaffID:   toStaffID,
	})
	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"from_staff": fromStaffID,
		"to_staff":   toStaffID,
	}).Info("Session transferred")
	return out, nil
}

// CloseSession 由会话参与者 (访客本人或被分配的客服) 结束会话
func (s *ChatService) CloseSession(ctx context.Context, actor domain.Peer, sessionID string) ([]dto.Outbound, error) {
	session, err := s.findSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(session, actor) {
		return nil, ErrNotParticipant
	}
	if !session.IsOpen() {
		return nil, ErrSessionClosed
	}
	out, err := s.closeSession(ctx, session, actor.Role, "")
	if err != nil {
		return nil, err
	}
	if session.StaffID != nil {
		// 客服释放了一个名额
		assigned, err := s.AssignWaiting(ctx)
		if err != nil {
			logrus.WithError(err).Warn("Assigning waiting sessions after close failed")
		}
		out = append(out, assigned...)
	}
	return out, nil
}

// closeSession 执行条件更新并生成通知帧
func (s *ChatService) closeSession(ctx context.Context, session *domain.ChatSession, closedBy domain.Role, reason string) ([]dto.Outbound, error) {
	wasWaiting := session.Status == domain.SessionWaiting
	now := s.now()
	if err := s.sessions.Close(ctx, session.ID, closedBy, now); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrSessionClosed
		}
		logrus.WithError(err).WithField("session_id", session.ID).Error("Failed to close session")
		return nil, ErrInternalServer
	}
	session.Status = domain.SessionClosed
	session.ClosedBy = closedBy
	session.ClosedAt = &now

	recipients := []domain.Peer{domain.VisitorPeer(session.VisitorID)}
	staffID := ""
	if session.StaffID != nil {
		staffID = *session.StaffID
		recipients = append(recipients, domain.StaffPeer(staffID))
	}
	out := []dto.Outbound{dto.To(dto.Frame{
		Type:      dto.OutSessionClosed,
		SessionID: session.ID,
		ClosedBy:  closedBy,
		Reason:    reason,
	}, recipients...)}
	if wasWaiting {
		out = append(out, s.queueUpdate(ctx)...)
	}
	// 已结束会话的历史从数据库查询
	if err := s.state.DropRecentMessages(ctx, session.ID); err != nil {
		logrus.WithError(err).WithField("session_id", session.ID).Warn("Failed to drop recent messages")
	}
	s.publish(ctx, domain.ChatEvent{
		Type:      domain.EventSessionClosed,
		SessionID: session.ID,
		VisitorID: session.VisitorID,
		StaffID:   staffID,
	})
	logrus.WithFields(logrus.Fields{
		"session_id": session.ID,
		"closed_by":  closedBy,
		"reason":     reason,
	}).Info("Session closed")
	return out, nil
}

// SweepIdle 周期巡检:
//  1. 结束空闲超时的会话
//  2. 客服已离线的进行中会话退回等待队列
//  3. 清理过期的在线记录
//  4. 重新分配等待中的会话
func (s *ChatService) SweepIdle(ctx context.Context) ([]dto.Outbound, error) {
	now := s.now()
	logCtx := logrus.WithField("operation", "SweepIdle")
	var out []dto.Outbound

	idle, err := s.sessions.ListIdle(ctx, now.Add(-s.opts.IdleTimeout), sweepBatchSize)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list idle sessions")
		return nil, ErrInternalServer
	}
	for i := range idle {
		frames, err := s.closeSession(ctx, &idle[i], domain.ClosedBySystem, "idle")
		if err != nil {
			if !errors.Is(err, ErrSessionClosed) {
				logCtx.WithError(err).WithField("session_id", idle[i].ID).Warn("Failed to close idle session")
			}
			continue
		}
		out = append(out, frames...)
	}

	requeued, err := s.requeueOrphaned(ctx)
	if err != nil {
		return out, err
	}
	out = append(out, requeued...)

	since := s.onlineSince()
	for _, role := range []domain.Role{domain.RoleStaff, domain.RoleVisitor} {
		removed, err := s.presence.PurgeStale(ctx, role, since)
		if err != nil {
			logCtx.WithError(err).WithField("role", role).Warn("Failed to purge stale presence")
		} else if removed > 0 {
			logCtx.WithFields(logrus.Fields{"role": role, "removed": removed}).Info("Stale presence purged")
		}
	}

	assigned, err := s.AssignWaiting(ctx)
	if err != nil {
		return out, err
	}
	out = append(out, assigned...)
	logCtx.WithFields(logrus.Fields{"idle_closed": len(idle), "frames": len(out)}).Debug("Sweep finished")
	return out, nil
}

// requeueOrphaned 把客服已离线的会话退回队列
func (s *ChatService) requeueOrphaned(ctx context.Context) ([]dto.Outbound, error) {
	active, err := s.sessions.ListActive(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to list active sessions")
		return nil, ErrInternalServer
	}
	if len(active) == 0 {
		return nil, nil
	}
	onlineIDs, err := s.presence.ListOnline(ctx, domain.RoleStaff, s.onlineSince())
	if err != nil {
		logrus.WithError(err).Error("Failed to list online staff")
		return nil, ErrInternalServer
	}
	online := make(map[string]bool, len(onlineIDs))
	for _, id := range onlineIDs {
		online[id] = true
	}

	var out []dto.Outbound
	for _, session := range active {
		if session.StaffID == nil || online[*session.StaffID] {
			continue
		}
		staffID := *session.StaffID
		logCtx := logrus.WithFields(logrus.Fields{"session_id": session.ID, "staff_id": staffID})
		if err := s.sessions.Requeue(ctx, session.ID, staffID); err != nil {
			if !errors.Is(err, repository.ErrConflict) {
				logCtx.WithError(err).Warn("Failed to requeue session")
			}
			continue
		}
		logCtx.Info("Staff offline, session requeued")
		out = append(out,
			dto.To(dto.Frame{Type: dto.OutSessionRemoved, SessionID: session.ID, Reason: "staff_offline"}, domain.StaffPeer(staffID)),
			dto.To(dto.Frame{Type: dto.OutWaiting, SessionID: session.ID, Reason: "staff_offline"}, domain.VisitorPeer(session.VisitorID)),
		)
	}
	if len(out) > 0 {
		out = append(out, s.queueUpdate(ctx)...)
	}
	return out, nil
}

// =====================================================================
// 查询
// =====================================================================

// GetSession 查询单个会话
func (s *ChatService) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	return s.findSession(ctx, sessionID)
}

// ListSessions 分页查询会话
func (s *ChatService) ListSessions(ctx context.Context, filter domain.SessionFilter, page domain.Page) (domain.PagedResult[domain.ChatSession], error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return domain.PagedResult[domain.ChatSession]{}, ErrInvalidInput
	}
	page = page.Normalize()
	items, total, err := s.sessions.List(ctx, filter, page)
	if err != nil {
		logrus.WithError(err).Error("Failed to list sessions")
		return domain.PagedResult[domain.ChatSession]{}, ErrInternalServer
	}
	return domain.NewPagedResult(items, total, page), nil
}

// History 分页查询会话的已落库消息
func (s *ChatService) History(ctx context.Context, sessionID string, page domain.Page) (domain.PagedResult[domain.ChatMessage], error) {
	if _, err := s.findSession(ctx, sessionID); err != nil {
		return domain.PagedResult[domain.ChatMessage]{}, err
	}
	page = page.Normalize()
	items, total, err := s.messages.ListBySession(ctx, sessionID, page)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to list messages")
		return domain.PagedResult[domain.ChatMessage]{}, ErrInternalServer
	}
	return domain.NewPagedResult(items, total, page), nil
}

// =====================================================================
// 私有辅助函数
// =====================================================================

// openSession 恢复访客未结束的会话，或创建新会话
func (s *ChatService) openSession(ctx context.Context, visitorID, name string) (*domain.ChatSession, []dto.Outbound, error) {
	logCtx := logrus.WithField("visitor_id", visitorID)
	visitor := domain.VisitorPeer(visitorID)

	session, created, err := s.findOrCreateSession(ctx, visitorID, name)
	if err != nil {
		return nil, nil, err
	}
	resumed := !created

	out := []dto.Outbound{dto.To(s.welcomeFrame(ctx, session, resumed), visitor)}

	switch session.Status {
	case domain.SessionActive:
		if session.StaffID == nil {
			break
		}
		if profile, err := s.staffProfile(ctx, *session.StaffID); err == nil {
			out = append(out, dto.To(dto.Frame{Type: dto.OutAssigned, SessionID: session.ID, Staff: &profile}, visitor))
		}
	case domain.SessionWaiting:
		assigned, frames, err := s.assignWaiting(ctx)
		if err != nil {
			logCtx.WithError(err).Warn("Assigning waiting sessions failed")
		}
		out = append(out, frames...)
		if !assigned[session.ID] {
			out = append(out, dto.To(dto.Frame{
				Type:      dto.OutWaiting,
				SessionID: session.ID,
				Position:  s.queuePosition(ctx, session),
			}, visitor))
			if !resumed {
				out = append(out, s.queueUpdate(ctx)...)
			}
		}
	}
	logCtx.WithFields(logrus.Fields{"session_id": session.ID, "resumed": resumed, "status": session.Status}).Info("Visitor session opened")
	return session, out, nil
}

type openResult struct {
	session *domain.ChatSession
	created bool
}

// findOrCreateSession 返回访客未结束的会话，不存在时创建。
// 本节点的并发调用由 singleflight 合并，跨节点的竞争由唯一索引拦截后重新读取。
func (s *ChatService) findOrCreateSession(ctx context.Context, visitorID, name string) (*domain.ChatSession, bool, error) {
	v, err, _ := s.opening.Do(visitorID, func() (interface{}, error) {
		logCtx := logrus.WithField("visitor_id", visitorID)
		session, err := s.sessions.FindOpenByVisitor(ctx, visitorID)
		if err == nil {
			return openResult{session: session}, nil
		}
		if !errors.Is(err, repository.ErrSessionNotFound) {
			logCtx.WithError(err).Error("Failed to find open session for visitor")
			return nil, ErrInternalServer
		}

		session, err = s.createSession(ctx, visitorID, name)
		if errors.Is(err, repository.ErrDuplicateEntry) {
			logCtx.Info("Open session created concurrently, resuming it")
			session, err = s.sessions.FindOpenByVisitor(ctx, visitorID)
			if err != nil {
				logCtx.WithError(err).Error("Failed to reload open session for visitor")
				return nil, ErrInternalServer
			}
			return openResult{session: session}, nil
		}
		if err != nil {
			return nil, err
		}
		return openResult{session: session, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(openResult)
	session := *res.session // 合并的调用方各自持有副本
	return &session, res.created, nil
}

func (s *ChatService) createSession(ctx context.Context, visitorID, name string) (*domain.ChatSession, error) {
	now := s.now()
	displayName := s.filter.CleanName(name, visitorNameMax)
	if displayName == "" {
		displayName = "访客-" + visitorID[:8]
	}
	session := &domain.ChatSession{
		ID:           uuid.NewString(),
		VisitorID:    visitorID,
		VisitorName:  displayName,
		Status:       domain.SessionWaiting,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, err
		}
		logrus.WithError(err).WithField("visitor_id", visitorID).Error("Failed to create chat session")
		return nil, ErrInternalServer
	}
	s.count(ctx, domain.CounterSessions)
	s.publish(ctx, domain.ChatEvent{
		Type:      domain.EventSessionOpened,
		SessionID: session.ID,
		VisitorID: visitorID,
	})
	return session, nil
}

// welcomeFrame 生成访客的欢迎帧，恢复会话时附带最近消息
func (s *ChatService) welcomeFrame(ctx context.Context, session *domain.ChatSession, withHistory bool) dto.Frame {
	var history []domain.ChatMessage
	if withHistory {
		history = s.recentHistory(ctx, session.ID)
	}
	snapshot := *session
	return dto.Frame{
		Type:      dto.OutWelcome,
		SessionID: session.ID,
		VisitorID: session.VisitorID,
		Session:   &snapshot,
		History:   history,
	}
}

// staffWelcome 生成客服的欢迎帧: 个人资料、进行中的会话与排队数量
func (s *ChatService) staffWelcome(ctx context.Context, staff *domain.Staff) (dto.Frame, error) {
	active, err := s.sessions.ListActiveByStaff(ctx, staff.ID)
	if err != nil {
		logrus.WithError(err).WithField("staff_id", staff.ID).Error("Failed to load active sessions of staff")
		return dto.Frame{}, ErrInternalServer
	}
	waiting, err := s.sessions.CountByStatus(ctx, domain.SessionWaiting)
	if err != nil {
		logrus.WithError(err).Warn("Failed to count waiting sessions")
	}
	profile := staff.Profile()
	return dto.Frame{
		Type:         dto.OutWelcome,
		Staff:        &profile,
		Sessions:     active,
		WaitingCount: &waiting,
	}, nil
}

// assignmentFrames 生成会话分配后的通知: 访客收到客服资料，客服收到会话与历史
func (s *ChatService) assignmentFrames(ctx context.Context, session *domain.ChatSession, profile domain.StaffProfile) []dto.Outbound {
	snapshot := *session
	return []dto.Outbound{
		dto.To(dto.Frame{Type: dto.OutAssigned, SessionID: session.ID, Staff: &profile}, domain.VisitorPeer(session.VisitorID)),
		dto.To(dto.Frame{
			Type:      dto.OutSessionAssigned,
			SessionID: session.ID,
			Session:   &snapshot,
			History:   s.recentHistory(ctx, session.ID),
		}, domain.StaffPeer(profile.ID)),
	}
}

// queueUpdate 通知全体客服当前排队数量
func (s *ChatService) queueUpdate(ctx context.Context) []dto.Outbound {
	waiting, err := s.sessions.CountByStatus(ctx, domain.SessionWaiting)
	if err != nil {
		logrus.WithError(err).Warn("Failed to count waiting sessions")
		return nil
	}
	return []dto.Outbound{dto.To(dto.QueueFrame(waiting), domain.AllStaff())}
}

// queuePosition 返回会话在队列中的位置 (从 1 开始)
func (s *ChatService) queuePosition(ctx context.Context, session *domain.ChatSession) int64 {
	ahead, err := s.sessions.CountWaitingBefore(ctx, session.CreatedAt)
	if err != nil {
		logrus.WithError(err).WithField("session_id", session.ID).Warn("Failed to compute queue position")
		return 0
	}
	return ahead + 1
}

// onlineStaffLoads 返回在线且启用的客服及其负载
func (s *ChatService) onlineStaffLoads(ctx context.Context) ([]domain.StaffLoad, map[string]domain.Staff, error) {
	ids, err := s.presence.ListOnline(ctx, domain.RoleStaff, s.onlineSince())
	if err != nil {
		logrus.WithError(err).Error("Failed to list online staff")
		return nil, nil, ErrInternalServer
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}
	staffList, err := s.staff.FindByIDs(ctx, ids)
	if err != nil {
		logrus.WithError(err).Error("Failed to load online staff")
		return nil, nil, ErrInternalServer
	}
	byID := make(map[string]domain.Staff, len(staffList))
	activeIDs := make([]string, 0, len(staffList))
	for _, st := range staffList {
		if !st.IsActive {
			continue
		}
		byID[st.ID] = st
		activeIDs = append(activeIDs, st.ID)
	}
	if len(activeIDs) == 0 {
		return nil, nil, nil
	}
	counts, err := s.sessions.CountActiveByStaff(ctx, activeIDs)
	if err != nil {
		logrus.WithError(err).Error("Failed to count staff load")
		return nil, nil, ErrInternalServer
	}
	loads := make([]domain.StaffLoad, 0, len(activeIDs))
	for _, id := range activeIDs {
		loads = append(loads, domain.StaffLoad{
			StaffID:  id,
			Active:   counts[id],
			Capacity: byID[id].MaxConcurrentChats,
		})
	}
	return loads, byID, nil
}

// checkCapacity 提前拒绝已满员的客服。最终以 Assign/Reassign 事务内的检查为准。
func (s *ChatService) checkCapacity(ctx context.Context, staffID string, capacity int, full error) error {
	counts, err := s.sessions.CountActiveByStaff(ctx, []string{staffID})
	if err != nil {
		logrus.WithError(err).WithField("staff_id", staffID).Error("Failed to count staff load")
		return ErrInternalServer
	}
	if counts[staffID] >= capacity {
		return full
	}
	return nil
}

// findLoad 返回 staffID 在负载列表中的条目
func findLoad(loads []domain.StaffLoad, staffID string) *domain.StaffLoad {
	for i := range loads {
		if loads[i].StaffID == staffID {
			return &loads[i]
		}
	}
	return nil
}

// record 交给持久化任务并写入最近消息缓存。
// 任务投递失败时退回同步写库，两者都失败才返回错误。
func (s *ChatService) record(ctx context.Context, msg domain.ChatMessage) error {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": msg.SessionID, "message_id": msg.ID})
	if err := s.persister.PersistMessage(ctx, msg); err != nil {
		logCtx.WithError(err).Warn("Failed to enqueue message persistence, saving synchronously")
		if err := s.messages.SaveBatch(ctx, []domain.ChatMessage{msg}); err != nil {
			logCtx.WithError(err).Error("Failed to save message")
			return ErrInternalServer
		}
		if err := s.sessions.Touch(ctx, msg.SessionID, msg.CreatedAt, 1); err != nil {
			logCtx.WithError(err).Warn("Failed to touch session")
		}
	}
	if err := s.state.PushRecentMessage(ctx, msg); err != nil {
		logCtx.WithError(err).Warn("Failed to push message to recent history")
	}
	s.count(ctx, domain.CounterMessages)
	return nil
}

func (s *ChatService) newMessage(sessionID string, sender domain.Peer, senderName, text string) domain.ChatMessage {
	return domain.ChatMessage{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		SenderRole: sender.Role,
		SenderID:   sender.ID,
		SenderName: senderName,
		Kind:       domain.MessageText,
		Content:    text,
		CreatedAt:  s.now(),
	}
}

// recentHistory 读取最近消息缓存，失败时返回空
func (s *ChatService) recentHistory(ctx context.Context, sessionID string) []domain.ChatMessage {
	history, err := s.state.GetRecentMessages(ctx, sessionID, s.opts.HistoryLimit)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Warn("Failed to load recent messages")
		return nil
	}
	return history
}

func (s *ChatService) findSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to find session")
		return nil, ErrInternalServer
	}
	return session, nil
}

func (s *ChatService) loadStaff(ctx context.Context, staffID string) (*domain.Staff, error) {
	staff, err := s.staff.FindByID(ctx, staffID)
	if err != nil {
		if errors.Is(err, repository.ErrStaffNotFound) {
			return nil, ErrStaffNotFound
		}
		logrus.WithError(err).WithField("staff_id", staffID).Error("Failed to load staff")
		return nil, ErrInternalServer
	}
	s.profilesMu.Lock()
	s.profiles[staff.ID] = staff.Profile()
	s.profilesMu.Unlock()
	return staff, nil
}

// staffProfile 优先读取缓存
func (s *ChatService) staffProfile(ctx context.Context, staffID string) (domain.StaffProfile, error) {
	s.profilesMu.RLock()
	profile, ok := s.profiles[staffID]
	s.profilesMu.RUnlock()
	if ok {
		return profile, nil
	}
	staff, err := s.loadStaff(ctx, staffID)
	if err != nil {
		return domain.StaffProfile{}, err
	}
	return staff.Profile(), nil
}

func (s *ChatService) count(ctx context.Context, name string) {
	if err := s.state.IncrementCounter(ctx, domain.DayKey(s.now()), name); err != nil {
		logrus.WithError(err).WithField("counter", name).Warn("Failed to increment counter")
	}
}

func (s *ChatService) publish(ctx context.Context, event domain.ChatEvent) {
	event.ID = uuid.NewString()
	event.OccurredAt = s.now()
	if err := s.events.Publish(ctx, event); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"event_type": event.Type,
			"session_id": event.SessionID,
		}).Warn("Failed to publish chat event")
	}
}

func isParticipant(session *domain.ChatSession, peer domain.Peer) bool {
	switch peer.Role {
	case domain.RoleVisitor:
		return session.VisitorID == peer.ID
	case domain.RoleStaff:
		return session.AssignedTo(peer.ID)
	}
	return false
}
