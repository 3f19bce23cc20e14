package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/dto"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端 (访客或客服)。
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	peer    domain.Peer
	name    string // 访客昵称，客服为空
	send    chan []byte
	limiter *rate.Limiter

	ready     chan struct{} // 会话建立后关闭，ReadPump 才开始读取
	readyOnce sync.Once
	closing   chan struct{} // send 通道关闭时一并关闭

	mu        sync.Mutex
	closed    bool
	sessionID string // 访客当前会话
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, peer domain.Peer, name string) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		peer:    peer,
		name:    name,
		send:    make(chan []byte, sendBufferSize),
		limiter: newLimiter(hub.opts),
		ready:   make(chan struct{}),
		closing: make(chan struct{}),
	}
}

// Run 启动客户端的读写 goroutine。写协程立即运行，读协程等到 Hub 标记就绪。
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) logCtx() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"role": c.peer.Role, "peer_id": c.peer.ID})
}

// ReadPump 读取 WebSocket 消息并交给 Hub 处理。
func (c *Client) ReadPump() {
	select {
	case <-c.ready:
	case <-c.closing:
		// 连接在就绪前被拒绝，由 WritePump 写完错误帧后关闭连接
		return
	}

	defer func() {
		unregisterMsg := HubMessage{Type: "unregister", Client: c}
		select {
		case c.hub.messageChan <- unregisterMsg:
		case <-time.After(1 * time.Second):
			c.logCtx().Warn("Timeout sending unregister message to Hub channel")
		}
		c.CloseConn()
		c.logCtx().Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logCtx().WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.logCtx().Debug("WebSocket connection closed normally or read error")
			}
			break
		}
		if messageType != websocket.TextMessage {
			c.logCtx().Debugf("Received non-text message type: %d", messageType)
			continue
		}
		c.hub.handleFrame(c, message)
	}
}

// WritePump 将 send 通道中的消息写入 WebSocket 连接，并定期发送 Ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.CloseConn()
		c.logCtx().Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 注销时关闭了 send 通道
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logCtx().WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logCtx().WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}

// trySend 非阻塞写入 send 通道。通道已满或已关闭时返回 false。
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// sendFrame 直接向本连接推送一帧 (错误提示等)
func (c *Client) sendFrame(frame dto.Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.logCtx().WithError(err).Error("Failed to marshal frame")
		return
	}
	if !c.trySend(payload) {
		c.logCtx().WithField("frame_type", frame.Type).Warn("Client send channel full, frame dropped")
	}
}

// closeSend 关闭 send 通道，只执行一次
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	close(c.closing)
}

// markReady 允许 ReadPump 开始读取客户端帧
func (c *Client) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *Client) setSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// SessionID 返回访客当前会话 ID
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) Peer() domain.Peer { return c.peer }
func (c *Client) Name() string      { return c.name }

// CloseConn 关闭底层连接，读协程随后退出并触发注销
func (c *Client) CloseConn() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
