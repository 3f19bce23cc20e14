package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/dto"
	"github.com/lsiswin/RecyclingApi-sub001/internal/hub"
	"github.com/lsiswin/RecyclingApi-sub001/internal/middleware"
)

// welcomeEngine 只实现连接相关逻辑: 访客连接时回一帧 welcome
type welcomeEngine struct {
	connected chan domain.Peer
}

func (e *welcomeEngine) ConnectVisitor(_ context.Context, visitorID, name string) (*domain.ChatSession, []dto.Outbound, error) {
	e.connected <- domain.VisitorPeer(visitorID)
	session := &domain.ChatSession{ID: "s-1", VisitorID: visitorID, VisitorName: name, Status: domain.SessionWaiting}
	frame := dto.Frame{Type: dto.OutWelcome, SessionID: session.ID, VisitorID: visitorID, Session: session}
	return session, []dto.Outbound{dto.To(frame, domain.VisitorPeer(visitorID))}, nil
}

func (e *welcomeEngine) ConnectStaff(_ context.Context, staffID string) (*domain.Staff, []dto.Outbound, error) {
	e.connected <- domain.StaffPeer(staffID)
	return &domain.Staff{ID: staffID, IsActive: true}, nil, nil
}

func (e *welcomeEngine) ResumeVisitor(_ context.Context, visitorID string) (*domain.ChatSession, []dto.Frame, error) {
	return nil, []dto.Frame{{Type: dto.OutWelcome, VisitorID: visitorID}}, nil
}

func (e *welcomeEngine) StaffWelcome(_ context.Context, staffID string) (dto.Frame, error) {
	return dto.Frame{Type: dto.OutWelcome, Staff: &domain.StaffProfile{ID: staffID}}, nil
}

func (e *welcomeEngine) StartSession(context.Context, string, string) (*domain.ChatSession, []dto.Outbound, error) {
	return nil, nil, nil
}
func (e *welcomeEngine) DisconnectVisitor(context.Context, string) error { return nil }
func (e *welcomeEngine) DisconnectStaff(context.Context, string) error   { return nil }
func (e *welcomeEngine) Heartbeat(context.Context, []domain.Peer) error  { return nil }
func (e *welcomeEngine) SendVisitorMessage(context.Context, string, string, string) ([]dto.Outbound, error) {
	return nil, nil
}
func (e *welcomeEngine) SendStaffMessage(context.Context, string, string, string) ([]dto.Outbound, error) {
	return nil, nil
}
func (e *welcomeEngine) Typing(context.Context, domain.Peer, string) ([]dto.Outbound, error) {
	return nil, nil
}
func (e *welcomeEngine) AcceptSession(context.Context, string, string) ([]dto.Outbound, error) {
	return nil, nil
}
func (e *welcomeEngine) TransferSession(context.Context, string, string, string) ([]dto.Outbound, error) {
	return nil, nil
}
func (e *welcomeEngine) CloseSession(context.Context, domain.Peer, string) ([]dto.Outbound, error) {
	return nil, nil
}

func setupServer(t *testing.T, origin string) (*httptest.Server, *welcomeEngine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := &welcomeEngine{connected: make(chan domain.Peer, 4)}
	h := hub.NewHub(engine, nil, hub.Options{NodeID: "test"})
	go h.Run()
	t.Cleanup(h.Stop)

	handler := NewWebSocketHandler(h, origin)
	router := gin.New()
	router.GET("/ws/chat/visitor", handler.VisitorConnection)
	router.GET("/ws/chat/staff", func(c *gin.Context) {
		// 模拟 Auth 中间件
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set(middleware.ContextUserIDKey, id)
		}
		c.Next()
	}, handler.StaffConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, engine
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestVisitorConnection_WelcomeFrame(t *testing.T) {
	srv, engine := setupServer(t, "")
	visitorID := uuid.NewString()

	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL(srv, "/ws/chat/visitor?visitorId="+visitorID+"&name=Alice"), nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case peer := <-engine.connected:
		assert.Equal(t, domain.VisitorPeer(visitorID), peer)
	case <-time.After(2 * time.Second):
		t.Fatal("visitor was not connected to the chat engine")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame dto.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, dto.OutWelcome, frame.Type)
	assert.Equal(t, visitorID, frame.VisitorID)
	assert.Equal(t, "s-1", frame.SessionID)
}

func TestVisitorConnection_GeneratesVisitorID(t *testing.T) {
	srv, engine := setupServer(t, "")

	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL(srv, "/ws/chat/visitor?visitorId=not-a-uuid"), nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case peer := <-engine.connected:
		assert.Equal(t, domain.RoleVisitor, peer.Role)
		assert.NotEqual(t, "not-a-uuid", peer.ID)
		_, err := uuid.Parse(peer.ID)
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("visitor was not connected to the chat engine")
	}
}

func TestStaffConnection_RequiresUser(t *testing.T) {
	srv, _ := setupServer(t, "")

	_, resp, err := gorillaws.DefaultDialer.Dial(wsURL(srv, "/ws/chat/staff"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStaffConnection_Registers(t *testing.T) {
	srv, engine := setupServer(t, "")

	header := http.Header{}
	header.Set("X-Test-User", "42")
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL(srv, "/ws/chat/staff"), header)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case peer := <-engine.connected:
		assert.Equal(t, domain.StaffPeer("42"), peer)
	case <-time.After(2 * time.Second):
		t.Fatal("staff was not connected to the chat engine")
	}
}

func TestOriginChecker(t *testing.T) {
	newReq := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws/chat/visitor", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	t.Run("Any origin when unset", func(t *testing.T) {
		check := originChecker("")
		assert.True(t, check(newReq("http://evil.example")))
	})

	t.Run("Wildcard", func(t *testing.T) {
		check := originChecker("*")
		assert.True(t, check(newReq("http://evil.example")))
	})

	t.Run("Configured origin", func(t *testing.T) {
		check := originChecker("http://localhost:3000")
		assert.True(t, check(newReq("http://localhost:3000")))
		assert.True(t, check(newReq("")))
		assert.False(t, check(newReq("http://evil.example")))
	})
}
