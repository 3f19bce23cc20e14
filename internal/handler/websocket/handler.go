package websocket

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/dto"
	"github.com/lsiswin/RecyclingApi-sub001/internal/hub"
	"github.com/lsiswin/RecyclingApi-sub001/internal/middleware"
)

// WebSocketHandler 负责处理 WebSocket 升级请求和客户端注册
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigin 为空或 "*" 时不校验 Origin。
func NewWebSocketHandler(h *hub.Hub, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigin),
	}

	return &WebSocketHandler{
		upgrader: upgrader,
		hub:      h,
	}
}

// originChecker 返回握手时使用的 Origin 校验函数
func originChecker(allowedOrigin string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if allowedOrigin == "" || allowedOrigin == "*" {
			return true
		}
		origin := r.Header.Get("Origin")
		// 非浏览器客户端不带 Origin
		return origin == "" || strings.EqualFold(origin, allowedOrigin)
	}
}

// VisitorConnection 处理访客连接: /ws/chat/visitor?visitorId=&name=
// visitorId 缺失或不是 uuid 时由服务端生成，并通过 welcome 帧告知客户端。
func (h *WebSocketHandler) VisitorConnection(c *gin.Context) {
	visitorID := c.Query("visitorId")
	if _, err := uuid.Parse(visitorID); err != nil {
		visitorID = uuid.NewString()
	}
	logCtx := logrus.WithFields(logrus.Fields{"role": domain.RoleVisitor, "visitor_id": visitorID})

	h.serve(c, domain.VisitorPeer(visitorID), c.Query("name"), logCtx)
}

// StaffConnection 处理客服连接: /ws/chat/staff，需放在 Auth 中间件之后
func (h *WebSocketHandler) StaffConnection(c *gin.Context) {
	staffID, ok := middleware.CurrentUserID(c)
	if !ok {
		logrus.Warn("WS Handler: User ID not found in context")
		c.JSON(http.StatusUnauthorized, dto.Fail("User not authenticated"))
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"role": domain.RoleStaff, "staff_id": staffID})

	h.serve(c, domain.StaffPeer(staffID), "", logCtx)
}

// serve 升级连接并把客户端交给 Hub
func (h *WebSocketHandler) serve(c *gin.Context, peer domain.Peer, name string, logCtx *logrus.Entry) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}
	logCtx.Info("WS Handler: Connection upgraded to WebSocket")

	client := hub.NewClient(h.hub, conn, peer, name)
	if !h.hub.QueueMessage(hub.HubMessage{Type: "register", Client: client}) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}

	go client.Run()
	logCtx.Debug("WS Handler: Client read/write pumps started")
}
