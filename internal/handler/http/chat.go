package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/dto"
	"github.com/lsiswin/RecyclingApi-sub001/internal/middleware"
)

// ChatOperations 是 ChatHandler 依赖的会话操作，由 service.ChatService 实现
type ChatOperations interface {
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)
	ListSessions(ctx context.Context, filter domain.SessionFilter, page domain.Page) (domain.PagedResult[domain.ChatSession], error)
	History(ctx context.Context, sessionID string, page domain.Page) (domain.PagedResult[domain.ChatMessage], error)
	AcceptSession(ctx context.Context, staffID, sessionID string) ([]dto.Outbound, error)
	CloseSession(ctx context.Context, actor domain.Peer, sessionID string) ([]dto.Outbound, error)
	TransferSession(ctx context.Context, fromStaffID, sessionID, toStaffID string) ([]dto.Outbound, error)
}

// StatsOperations 由 service.StatsService 实现
type StatsOperations interface {
	Overview(ctx context.Context) (*domain.ChatStats, error)
	OnlineStaff(ctx context.Context) ([]domain.StaffPresence, error)
	Availability(ctx context.Context) (domain.Availability, error)
}

// FrameDeliverer 把操作产生的推送帧交给 Hub
type FrameDeliverer interface {
	Deliver(ctx context.Context, outs []dto.Outbound)
	ConnectionCount() int
}

// ChatHandler 封装了客服后台使用的聊天 REST 接口
type ChatHandler struct {
	chat  ChatOperations
	stats StatsOperations
	hub   FrameDeliverer
}

// NewChatHandler 创建 ChatHandler 实例
func NewChatHandler(chat ChatOperations, stats StatsOperations, hub FrameDeliverer) *ChatHandler {
	if chat == nil || stats == nil || hub == nil {
		panic("ChatHandler dependencies cannot be nil")
	}
	return &ChatHandler{chat: chat, stats: stats, hub: hub}
}

// ListSessionsQuery 会话列表查询参数
type ListSessionsQuery struct {
	Status    string `form:"status" binding:"omitempty,oneof=waiting active closed"`
	StaffID   string `form:"staffId" binding:"omitempty,max=64"`
	VisitorID string `form:"visitorId" binding:"omitempty,max=36"`
	Page      int    `form:"page" binding:"omitempty,min=1"`
	PageSize  int    `form:"pageSize" binding:"omitempty,min=1,max=100"`
}

// PageQuery 分页参数
type PageQuery struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"pageSize" binding:"omitempty,min=1,max=100"`
}

// TransferRequest 转接请求体
type TransferRequest struct {
	TargetStaffID string `json:"targetStaffId" binding:"required,max=64"`
}

// Availability 公开接口: 聊天挂件打开前探测是否有客服在线
func (h *ChatHandler) Availability(c *gin.Context) {
	avail, err := h.stats.Availability(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, avail)
}

// Stats 返回统计面板数据
func (h *ChatHandler) Stats(c *gin.Context) {
	stats, err := h.stats.Overview(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	stats.LocalConnections = h.hub.ConnectionCount()
	SuccessResponse(c, http.StatusOK, stats)
}

// OnlineStaff 返回在线客服列表
func (h *ChatHandler) OnlineStaff(c *gin.Context) {
	list, err := h.stats.OnlineStaff(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, list)
}

// ListSessions 分页查询会话
func (h *ChatHandler) ListSessions(c *gin.Context) {
	var q ListSessionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		logrus.WithError(err).Debug("Handler.ListSessions: invalid query")
		ErrorResponse(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}
	filter := domain.SessionFilter{
		Status:    domain.SessionStatus(q.Status),
		StaffID:   q.StaffID,
		VisitorID: q.VisitorID,
	}
	result, err := h.chat.ListSessions(c.Request.Context(), filter, domain.Page{Page: q.Page, PageSize: q.PageSize})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, result)
}

// GetSession 查询单个会话
func (h *ChatHandler) GetSession(c *gin.Context) {
	session, err := h.chat.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, session)
}

// History 分页查询会话消息
func (h *ChatHandler) History(c *gin.Context) {
	var q PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}
	result, err := h.chat.History(c.Request.Context(), c.Param("id"), domain.Page{Page: q.Page, PageSize: q.PageSize})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, result)
}

// Accept 客服接入等待中的会话
func (h *ChatHandler) Accept(c *gin.Context) {
	staffID, ok := middleware.CurrentUserID(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	sessionID := c.Param("id")
	out, err := h.chat.AcceptSession(c.Request.Context(), staffID, sessionID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	h.hub.Deliver(c.Request.Context(), out)
	h.respondWithSession(c, sessionID, "Session accepted")
}

// Close 客服结束会话
func (h *ChatHandler) Close(c *gin.Context) {
	staffID, ok := middleware.CurrentUserID(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	sessionID := c.Param("id")
	out, err := h.chat.CloseSession(c.Request.Context(), domain.StaffPeer(staffID), sessionID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	h.hub.Deliver(c.Request.Context(), out)
	h.respondWithSession(c, sessionID, "Session closed")
}

// Transfer 把会话转给其他客服
func (h *ChatHandler) Transfer(c *gin.Context) {
	staffID, ok := middleware.CurrentUserID(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	sessionID := c.Param("id")
	out, err := h.chat.TransferSession(c.Request.Context(), staffID, sessionID, req.TargetStaffID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	h.hub.Deliver(c.Request.Context(), out)
	h.respondWithSession(c, sessionID, "Session transferred")
}

// respondWithSession 返回操作后的会话状态。操作已经成功，查询失败时 data 为 null。
func (h *ChatHandler) respondWithSession(c *gin.Context, sessionID, message string) {
	session, err := h.chat.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Warn("Failed to reload session after update")
		MessageResponse(c, http.StatusOK, message, nil)
		return
	}
	MessageResponse(c, http.StatusOK, message, session)
}
