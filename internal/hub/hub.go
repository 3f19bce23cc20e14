package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/dto"
	"github.com/lsiswin/RecyclingApi-sub001/internal/metrics"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16 * 1024

	sendBufferSize = 256
	handleTimeout  = 10 * time.Second
)

var (
	ErrUnsupportedFrame = errors.New("unsupported frame type")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrRateLimited      = errors.New("too many messages, slow down")
)

// ChatEngine 是 Hub 依赖的业务接口，由 service.ChatService 实现
type ChatEngine interface {
	ConnectVisitor(ctx context.Context, visitorID, name string) (*domain.ChatSession, []dto.Outbound, error)
	ResumeVisitor(ctx context.Context, visitorID string) (*domain.ChatSession, []dto.Frame, error)
	StartSession(ctx context.Context, visitorID, name string) (*domain.ChatSession, []dto.Outbound, error)
	DisconnectVisitor(ctx context.Context, visitorID string) error
	ConnectStaff(ctx context.Context, staffID string) (*domain.Staff, []dto.Outbound, error)
	StaffWelcome(ctx context.Context, staffID string) (dto.Frame, error)
	DisconnectStaff(ctx context.Context, staffID string) error
	Heartbeat(ctx context.Context, peers []domain.Peer) error

	SendVisitorMessage(ctx context.Context, visitorID, sessionID, content string) ([]dto.Outbound, error)
	SendStaffMessage(ctx context.Context, staffID, sessionID, content string) ([]dto.Outbound, error)
	Typing(ctx context.Context, from domain.Peer, sessionID string) ([]dto.Outbound, error)
	AcceptSession(ctx context.Context, staffID, sessionID string) ([]dto.Outbound, error)
	TransferSession(ctx context.Context, fromStaffID, sessionID, toStaffID string) ([]dto.Outbound, error)
	CloseSession(ctx context.Context, actor domain.Peer, sessionID string) ([]dto.Outbound, error)
}

// Relay 在多个节点之间转发推送帧 (Redis Pub/Sub)
type Relay interface {
	Publish(ctx context.Context, origin string, out dto.Outbound) error
	Subscribe(ctx context.Context, self string, handler func(dto.Outbound)) error
	Close() error
}

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type   string // "register", "unregister"
	Client *Client
}

// Options 是 Hub 的可调参数
type Options struct {
	NodeID            string        // 本节点标识，用于忽略自己发布的转发帧
	MessageRate       float64       // 每个连接每秒允许的帧数
	MessageBurst      int           // 突发上限
	HeartbeatInterval time.Duration // 刷新在线状态的周期
	Metrics           metrics.MetricsCollector
}

func (o Options) withDefaults() Options {
	if o.NodeID == "" {
		o.NodeID = "node-local"
	}
	if o.MessageRate <= 0 {
		o.MessageRate = 5
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = 10
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NopCollector{}
	}
	return o
}

// peerConns 是一个参与者在本节点上的全部连接
type peerConns struct {
	clients   map[*Client]bool
	connected bool // 首个连接的 ConnectVisitor/ConnectStaff 已完成
}

// Hub 维护本节点的全部连接，并把业务层产出的帧投递给目标参与者。
// 同一参与者可以有多个连接 (多个标签页)，每个连接都会收到推送。
// 只有参与者的第一个连接会调用 ConnectVisitor/ConnectStaff，之后的连接只收到自己的欢迎帧。
type Hub struct {
	messageChan chan HubMessage
	done        chan struct{}
	stopOnce    sync.Once

	// map[role]map[peerID]*peerConns
	clients   map[domain.Role]map[string]*peerConns
	clientsMu sync.RWMutex

	engine ChatEngine
	relay  Relay // 为 nil 时只做本地投递
	opts   Options
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(engine ChatEngine, relay Relay, opts Options) *Hub {
	if engine == nil {
		panic("ChatEngine cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		done:        make(chan struct{}),
		clients: map[domain.Role]map[string]*peerConns{
			domain.RoleVisitor: {},
			domain.RoleStaff:   {},
		},
		engine: engine,
		relay:  relay,
		opts:   opts.withDefaults(),
	}
}

// NodeID 返回本节点标识
func (h *Hub) NodeID() string { return h.opts.NodeID }

// Run 启动 Hub 的主事件处理循环，应在单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithFields(logrus.Fields{"component": "hub", "node_id": h.opts.NodeID})
	log.Info("Hub is running...")
	for {
		select {
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(msg.Client)
			case "unregister":
				h.unregisterClient(msg.Client)
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		case <-h.done:
			log.Info("Hub is shutting down...")
			return
		}
	}
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。队列已满时返回 false。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		fields := logrus.Fields{"message_type": msg.Type}
		if msg.Client != nil {
			fields["role"] = msg.Client.peer.Role
			fields["peer_id"] = msg.Client.peer.ID
		}
		logrus.WithFields(fields).Warn("Hub message channel full, dropping message")
		return false
	}
}

// registerClient 登记连接。参与者的第一个连接异步调用业务层建立会话，
// 其余连接等待其完成或直接获取当前状态。连接在就绪之前不会读取客户端帧。
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	peer := client.Peer()
	h.clientsMu.Lock()
	conns, ok := h.clients[peer.Role][peer.ID]
	if !ok {
		conns = &peerConns{clients: make(map[*Client]bool)}
		h.clients[peer.Role][peer.ID] = conns
	}
	conns.clients[client] = true
	joined := conns.connected
	total := len(conns.clients)
	h.clientsMu.Unlock()

	h.opts.Metrics.ConnectionOpened(peer.Role)
	logrus.WithFields(logrus.Fields{
		"role":        peer.Role,
		"peer_id":     peer.ID,
		"connections": total,
	}).Info("Client registered to Hub")

	switch {
	case !ok:
		go h.onConnect(client)
	case joined:
		go h.onJoin(client)
	}
	// 其余情况: 首个连接仍在建立会话，完成后一并就绪
}

// unregisterClient 移除连接；参与者的最后一个连接断开时通知业务层
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	peer := client.Peer()
	logCtx := logrus.WithFields(logrus.Fields{"role": peer.Role, "peer_id": peer.ID})

	h.clientsMu.Lock()
	conns, ok := h.clients[peer.Role][peer.ID]
	if !ok || !conns.clients[client] {
		h.clientsMu.Unlock()
		logCtx.Warn("Client not found during unregister")
		return
	}
	delete(conns.clients, client)
	last := len(conns.clients) == 0
	if last {
		delete(h.clients[peer.Role], peer.ID)
	}
	h.clientsMu.Unlock()

	client.closeSend()
	h.opts.Metrics.ConnectionClosed(peer.Role)
	logCtx.WithField("last_connection", last).Info("Client unregistered from Hub")

	if last {
		go h.onLastDisconnect(peer)
	}
}

// onConnect 处理参与者的第一个连接
func (h *Hub) onConnect(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	peer := client.Peer()
	logCtx := logrus.WithFields(logrus.Fields{"role": peer.Role, "peer_id": peer.ID, "operation": "onConnect"})

	var (
		out       []dto.Outbound
		sessionID string
		err       error
	)
	switch peer.Role {
	case domain.RoleVisitor:
		var session *domain.ChatSession
		session, out, err = h.engine.ConnectVisitor(ctx, peer.ID, client.Name())
		if err == nil && session != nil {
			sessionID = session.ID
		}
	case domain.RoleStaff:
		_, out, err = h.engine.ConnectStaff(ctx, peer.ID)
	}

	// 期间登记的其他连接与首个连接一起就绪
	pending := h.markConnected(peer)
	if err != nil {
		logCtx.WithError(err).Warn("Connection rejected by chat service")
		for _, c := range pending {
			h.reject(c, err)
		}
		return
	}
	for _, c := range pending {
		if sessionID != "" {
			c.setSessionID(sessionID)
		}
	}
	h.Deliver(ctx, out)
	for _, c := range pending {
		c.markReady()
	}
}

// onJoin 处理参与者的后续连接: 只给这个连接发送当前状态
func (h *Hub) onJoin(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	peer := client.Peer()

	var (
		frames []dto.Frame
		err    error
	)
	switch peer.Role {
	case domain.RoleVisitor:
		var session *domain.ChatSession
		session, frames, err = h.engine.ResumeVisitor(ctx, peer.ID)
		if err == nil && session != nil {
			client.setSessionID(session.ID)
		}
	case domain.RoleStaff:
		var welcome dto.Frame
		welcome, err = h.engine.StaffWelcome(ctx, peer.ID)
		frames = []dto.Frame{welcome}
	}
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"role": peer.Role, "peer_id": peer.ID}).Warn("Additional connection rejected by chat service")
		h.reject(client, err)
		return
	}
	for _, f := range frames {
		client.sendFrame(f)
	}
	client.markReady()
}

// markConnected 标记参与者已完成首次连接，返回当前全部连接
func (h *Hub) markConnected(peer domain.Peer) []*Client {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	conns, ok := h.clients[peer.Role][peer.ID]
	if !ok {
		return nil
	}
	conns.connected = true
	clients := make([]*Client, 0, len(conns.clients))
	for c := range conns.clients {
		clients = append(clients, c)
	}
	return clients
}

// reject 把错误原因推送给连接后注销它。send 通道关闭后 WritePump 会先写完缓冲中的帧再关闭连接。
func (h *Hub) reject(client *Client, err error) {
	client.sendFrame(dto.ErrorFrame("", err.Error()))
	h.unregisterClient(client)
}

func (h *Hub) onLastDisconnect(peer domain.Peer) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	var err error
	switch peer.Role {
	case domain.RoleVisitor:
		err = h.engine.DisconnectVisitor(ctx, peer.ID)
	case domain.RoleStaff:
		err = h.engine.DisconnectStaff(ctx, peer.ID)
	}
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"role": peer.Role, "peer_id": peer.ID}).Warn("Failed to record disconnect")
	}
}

// handleFrame 处理一条客户端帧。它在连接的读协程中同步执行，
// 因此同一连接发出的帧按顺序处理。
func (h *Hub) handleFrame(client *Client, raw []byte) {
	if !client.limiter.Allow() {
		h.opts.Metrics.RecordFrameDropped("rate_limited")
		client.sendFrame(dto.ErrorFrame("", ErrRateLimited.Error()))
		return
	}
	var in dto.InboundFrame
	if err := json.Unmarshal(raw, &in); err != nil || in.Type == "" {
		client.sendFrame(dto.ErrorFrame("", ErrMalformedFrame.Error()))
		return
	}
	h.opts.Metrics.RecordFrameReceived(in.Type)

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	out, err := h.dispatch(ctx, client, in)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"role":       client.peer.Role,
			"peer_id":    client.peer.ID,
			"frame_type": in.Type,
			"session_id": in.SessionID,
		}).Debug("Frame rejected")
		client.sendFrame(dto.ErrorFrame(in.SessionID, err.Error()))
		return
	}
	h.Deliver(ctx, out)
}

func (h *Hub) dispatch(ctx context.Context, client *Client, in dto.InboundFrame) ([]dto.Outbound, error) {
	peer := client.Peer()
	if peer.Role == domain.RoleVisitor {
		sessionID := in.SessionID
		if sessionID == "" {
			sessionID = client.SessionID()
		}
		switch in.Type {
		case dto.InMessage:
			return h.engine.SendVisitorMessage(ctx, peer.ID, sessionID, in.Content)
		case dto.InTyping:
			return h.engine.Typing(ctx, peer, sessionID)
		case dto.InClose:
			return h.engine.CloseSession(ctx, peer, sessionID)
		case dto.InStart:
			name := in.Name
			if name == "" {
				name = client.Name()
			}
			session, out, err := h.engine.StartSession(ctx, peer.ID, name)
			if err == nil && session != nil {
				h.setVisitorSession(peer.ID, session.ID)
				client.setSessionID(session.ID)
			}
			return out, err
		}
		return nil, ErrUnsupportedFrame
	}

	switch in.Type {
	case dto.InMessage:
		return h.engine.SendStaffMessage(ctx, peer.ID, in.SessionID, in.Content)
	case dto.InTyping:
		return h.engine.Typing(ctx, peer, in.SessionID)
	case dto.InAccept:
		return h.engine.AcceptSession(ctx, peer.ID, in.SessionID)
	case dto.InClose:
		return h.engine.CloseSession(ctx, peer, in.SessionID)
	case dto.InTransfer:
		return h.engine.TransferSession(ctx, peer.ID, in.SessionID, in.TargetStaffID)
	}
	return nil, ErrUnsupportedFrame
}

// setVisitorSession 让访客在本节点的全部连接切换到新会话
func (h *Hub) setVisitorSession(visitorID, sessionID string) {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	if conns, ok := h.clients[domain.RoleVisitor][visitorID]; ok {
		for c := range conns.clients {
			c.setSessionID(sessionID)
		}
	}
}

// Deliver 投递业务层产出的帧。本地没有连接的接收者与广播帧会通过 Relay 转发给其他节点。
func (h *Hub) Deliver(ctx context.Context, outs []dto.Outbound) {
	for _, out := range outs {
		remote := h.deliverLocal(out)
		if len(remote) == 0 || h.relay == nil {
			continue
		}
		forward := dto.Outbound{To: remote, Frame: out.Frame}
		if err := h.relay.Publish(ctx, h.opts.NodeID, forward); err != nil {
			logrus.WithError(err).WithField("frame_type", out.Frame.Type).Warn("Failed to relay frame to other nodes")
		}
	}
}

// DeliverRelayed 处理其他节点转发来的帧，只做本地投递
func (h *Hub) DeliverRelayed(out dto.Outbound) {
	h.deliverLocal(out)
}

// deliverLocal 投递给本地连接，返回需要转发的接收者
func (h *Hub) deliverLocal(out dto.Outbound) []domain.Peer {
	payload, err := json.Marshal(out.Frame)
	if err != nil {
		logrus.WithError(err).WithField("frame_type", out.Frame.Type).Error("Failed to marshal frame")
		return nil
	}

	var remote []domain.Peer
	var targets []*Client
	h.clientsMu.RLock()
	for _, peer := range out.To {
		if peer.IsBroadcast() {
			for _, conns := range h.clients[peer.Role] {
				for c := range conns.clients {
					targets = append(targets, c)
				}
			}
			remote = append(remote, peer)
			continue
		}
		conns, ok := h.clients[peer.Role][peer.ID]
		if !ok || len(conns.clients) == 0 {
			remote = append(remote, peer)
			continue
		}
		for c := range conns.clients {
			targets = append(targets, c)
		}
	}
	h.clientsMu.RUnlock()

	for _, c := range targets {
		if !c.trySend(payload) {
			h.opts.Metrics.RecordFrameDropped("send_buffer_full")
			logrus.WithFields(logrus.Fields{
				"role":       c.peer.Role,
				"peer_id":    c.peer.ID,
				"frame_type": out.Frame.Type,
			}).Warn("Client send channel full, frame dropped")
		}
	}
	return remote
}

// StartRelay 订阅跨节点转发频道
func (h *Hub) StartRelay(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}
	return h.relay.Subscribe(ctx, h.opts.NodeID, h.DeliverRelayed)
}

// RunHeartbeat 周期刷新本地连接参与者的在线状态，直到 ctx 结束
func (h *Hub) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			peers := h.LocalPeers()
			if len(peers) == 0 {
				continue
			}
			hbCtx, cancel := context.WithTimeout(ctx, handleTimeout)
			if err := h.engine.Heartbeat(hbCtx, peers); err != nil {
				logrus.WithError(err).WithField("peers", len(peers)).Warn("Heartbeat round failed")
			}
			cancel()
		case <-ctx.Done():
			return
		case <-h.done:
			return
		}
	}
}

// LocalPeers 返回本节点有连接的全部参与者
func (h *Hub) LocalPeers() []domain.Peer {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	var peers []domain.Peer
	for role, byID := range h.clients {
		for id := range byID {
			peers = append(peers, domain.Peer{Role: role, ID: id})
		}
	}
	return peers
}

// ConnectionCount 返回本节点的连接总数
func (h *Hub) ConnectionCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	n := 0
	for _, byID := range h.clients {
		for _, conns := range byID {
			n += len(conns.clients)
		}
	}
	return n
}

// Stop 停止主循环与心跳，关闭全部连接和转发订阅
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.clientsMu.RLock()
		for _, byID := range h.clients {
			for _, conns := range byID {
				for c := range conns.clients {
					c.closeSend()
					c.CloseConn()
				}
			}
		}
		h.clientsMu.RUnlock()
		if h.relay != nil {
			if err := h.relay.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close relay subscription")
			}
		}
	})
}

func newLimiter(opts Options) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(opts.MessageRate), opts.MessageBurst)
}
