package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/dto"
	"github.com/lsiswin/RecyclingApi-sub001/internal/middleware"
	"github.com/lsiswin/RecyclingApi-sub001/internal/service"
)

type mockChat struct{ mock.Mock }

func (m *mockChat) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	args := m.Called(ctx, sessionID)
	s, _ := args.Get(0).(*domain.ChatSession)
	return s, args.Error(1)
}

func (m *mockChat) ListSessions(ctx context.Context, filter domain.SessionFilter, page domain.Page) (domain.PagedResult[domain.ChatSession], error) {
	args := m.Called(ctx, filter, page)
	return args.Get(0).(domain.PagedResult[domain.ChatSession]), args.Error(1)
}

func (m *mockChat) History(ctx context.Context, sessionID string, page domain.Page) (domain.PagedResult[domain.ChatMessage], error) {
	args := m.Called(ctx, sessionID, page)
	return args.Get(0).(domain.PagedResult[domain.ChatMessage]), args.Error(1)
}

func (m *mockChat) AcceptSession(ctx context.Context, staffID, sessionID string) ([]dto.Outbound, error) {
	args := m.Called(ctx, staffID, sessionID)
	out, _ := args.Get(0).([]dto.Outbound)
	return out, args.Error(1)
}

func (m *mockChat) CloseSession(ctx context.Context, actor domain.Peer, sessionID string) ([]dto.Outbound, error) {
	args := m.Called(ctx, actor, sessionID)
	out, _ := args.Get(0).([]dto.Outbound)
	return out, args.Error(1)
}

func (m *mockChat) TransferSession(ctx context.Context, fromStaffID, sessionID, toStaffID string) ([]dto.Outbound, error) {
	args := m.Called(ctx, fromStaffID, sessionID, toStaffID)
	out, _ := args.Get(0).([]dto.Outbound)
	return out, args.Error(1)
}

type mockStats struct{ mock.Mock }

func (m *mockStats) Overview(ctx context.Context) (*domain.ChatStats, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*domain.ChatStats)
	return s, args.Error(1)
}

func (m *mockStats) OnlineStaff(ctx context.Context) ([]domain.StaffPresence, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]domain.StaffPresence)
	return list, args.Error(1)
}

func (m *mockStats) Availability(ctx context.Context) (domain.Availability, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.Availability), args.Error(1)
}

// recordingHub 记录交给 Hub 投递的帧
type recordingHub struct {
	delivered []dto.Outbound
	conns     int
}

func (r *recordingHub) Deliver(_ context.Context, outs []dto.Outbound) {
	r.delivered = append(r.delivered, outs...)
}

func (r *recordingHub) ConnectionCount() int { return r.conns }

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupRouter(chat *mockChat, stats *mockStats, hub *recordingHub, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewChatHandler(chat, stats, hub)
	router := gin.New()
	router.GET("/api/chat/availability", h.Availability)

	staff := router.Group("/api/chat", func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.ContextUserIDKey, userID)
		}
		c.Next()
	})
	staff.GET("/stats", h.Stats)
	staff.GET("/staff/online", h.OnlineStaff)
	staff.GET("/sessions", h.ListSessions)
	staff.GET("/sessions/:id", h.GetSession)
	staff.GET("/sessions/:id/messages", h.History)
	staff.POST("/sessions/:id/accept", h.Accept)
	staff.POST("/sessions/:id/close", h.Close)
	staff.POST("/sessions/:id/transfer", h.Transfer)
	return router
}

func perform(t *testing.T, router *gin.Engine, method, path string, body []byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "response must be an envelope: %s", w.Body.String())
	return w, env
}

func TestChatHandler_Availability(t *testing.T) {
	chat, stats, hub := new(mockChat), new(mockStats), &recordingHub{}
	stats.On("Availability", mock.Anything).Return(domain.Availability{Online: true, OnlineStaff: 2}, nil)
	router := setupRouter(chat, stats, hub, "")

	w, env := perform(t, router, http.MethodGet, "/api/chat/availability", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"online":true,"onlineStaff":2}`, string(env.Data))
}

func TestChatHandler_StatsIncludesLocalConnections(t *testing.T) {
	chat, stats, hub := new(mockChat), new(mockStats), &recordingHub{conns: 7}
	stats.On("Overview", mock.Anything).Return(&domain.ChatStats{OnlineStaff: 3, WaitingSessions: 1}, nil)
	router := setupRouter(chat, stats, hub, "staff-1")

	w, env := perform(t, router, http.MethodGet, "/api/chat/stats", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var got domain.ChatStats
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 7, got.LocalConnections)
	assert.Equal(t, int64(3), got.OnlineStaff)
}

func TestChatHandler_ListSessions(t *testing.T) {
	t.Run("Passes filter and page", func(t *testing.T) {
		chat, stats, hub := new(mockChat), new(mockStats), &recordingHub{}
		filter := domain.SessionFilter{Status: domain.SessionWaiting, StaffID: "staff-2"}
		page := domain.Page{Page: 2, PageSize: 10}
		result := domain.NewPagedResult([]domain.ChatSession{{ID: "s-1"}}, 11, page)
		chat.On("ListSessions", mock.Anything, filter, page).Return(result, nil)
		router := setupRouter(chat, stats, hub, "staff-1")

		w, env := perform(t, router, http.MethodGet, "/api/chat/sessions?status=waiting&staffId=staff-2&page=2&pageSize=10", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, env.Success)
		var got domain.PagedResult[domain.ChatSession]
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, int64(11), got.Total)
		assert.Equal(t, 2, got.TotalPages)
		chat.AssertExpectations(t)
	})

	t.Run("Invalid status", func(t *testing.T) {
		chat, stats, hub := new(mockChat), new(mockStats), &recordingHub{}
		router := setupRouter(chat, stats, hub, "staff-1")

		w, env := perform(t, router, http.MethodGet, "/api/chat/sessions?status=archived", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.False(t, env.Success)
		assert.Equal(t, "null", string(env.Data))
		chat.AssertNotCalled(t, "ListSessions", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestChatHandler_GetSession_NotFound(t *testing.T) {
	chat, stats, hub := new(mockChat), new(mockStats), &recordingHub{}
	chat.On("GetSession", mock.Anything, "missing").Return(nil, service.ErrSessionNotFound)
	router := setupRouter(chat, stats, hub, "staff-1")

	w, env := perform(t, router, http.MethodGet, "/api/chat/sessions/missing", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, service.ErrSessionNotFound.Error(), env.Message)
}

func TestChatHandler_History(t *testing.T) {
	chat, stats, hub := new(mockChat), new(mockStats), &recordingHub{}
	page := domain.Page{Page: 1, PageSize: 50}
	msgs := []domain.ChatMessage{{ID: "m-1", SessionID: "s-1", Content: "hi"}}
	chat.On("History", mock.Anything, "s-1", page).Return(domain.NewPagedResult(msgs, 1, page), nil)
	router := setupRouter(chat, stats, hub, "staff-1")

	w, env := perform(t, router, http.MethodGet, "/api/chat/sessions/s-1/messages?page=1&pageSize=50", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var got domain.PagedResult[domain.ChatMessage]
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "hi", got.Items[0].Content)
}

func TestChatHandler_Accept(t *testing.T) {
	t.Run("Delivers frames and returns session", func(t *testing.T) {
		chat, stats, hub := new(mockChat), new(mockStats), &recordingHub{}
		staffID := "staff-1"
		out := []dto.Outbound{dto.To(dto.Frame{Type: dto.OutAssigned, SessionID: "s-1"}, domain.VisitorPeer("v-1"))}
		chat.On("AcceptSession", mock.Anything, "staff-1", "s-1").Return(out, nil)
		chat.On("GetSession", mock.Anything, "s-1").Return(&domain.ChatSession{ID: "s-1", Status: domain.SessionActive, StaffID: &staffID}, nil)
		router := setupRouter(chat, stats, hub, staffID)

		w, env := perform(t, router, http.MethodPost, "/api/chat/sessions/s-1/accept", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, env.Success)
		assert.Equal(t, "Session accepted", env.Message)
		assert.Equal(t, out, hub.delivered)
		var got domain.ChatSession
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, domain.SessionActive, got.Status)
	})

	t.Run("Conflict when already taken", func(t *testing.T) {
		chat, stats, hub := new(mockChat), new(mockStats), &recordingHub{}
		chat.On("AcceptSession", mock.Anything, "staff-1", "s-1").Return(nil, service.ErrSessionNotWaiting)
		router := setupRouter(chat, stats, hub, "staff-1")

		w, env := perform(t, router, http.MethodPost, "/api/chat/sessions/s-1/accept", nil)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.False(t, env.Success)
		assert.Empty(t, hub.delivered)
	})

	t.Run("At capacity", func(t *testing.T) {
		chat, stats, hub := new(mockChat), new(mockStats), &recordingHub{}
		chat.On("AcceptSession", mock.Anything, "staff-1", "s-1").Return(nil, service.ErrStaffAtCapacity)
		router := setupRouter(chat, stats, hub, "staff-1")

		w, _ := perform(t, router, http.MethodPost, "/api/chat/sessions/s-1/accept", nil)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		chat, stats, hub := new(mockChat), new(mockStats), &recordingHub{}
		router := setupRouter(chat, stats, hub, "")

		w, env := perform(t, router, http.MethodPost, "/api/chat/sessions/s-1/accept", nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, env.Success)
	})
}

func TestChatHandler_Close(t *testing.T) {
	chat, stats, hub := new(mockChat), new(mockStats), &recordingHub{}
	out := []dto.Outbound{dto.To(dto.Frame{Type: dto.OutSessionClosed, SessionID: "s-1"}, domain.VisitorPeer("v-1"))}
	chat.On("CloseSession", mock.Anything, domain.StaffPeer("staff-1"), "s-1").Return(out, nil)
	chat.On("GetSession", mock.Anything, "s-1").Return(nil, errors.New("db down"))
	router := setupRouter(chat, stats, hub, "staff-1")

	w, env := perform(t, router, http.MethodPost, "/api/chat/sessions/s-1/close", nil)

	// 关闭已经成功，重新查询失败只影响 data
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "null", string(env.Data))
	assert.Equal(t, out, hub.delivered)
}

func TestChatHandler_Transfer(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		chat, stats, hub := new(mockChat), new(mockStats), &recordingHub{}
		chat.On("TransferSession", mock.Anything, "staff-1", "s-1", "staff-2").Return([]dto.Outbound{}, nil)
		chat.On("GetSession", mock.Anything, "s-1").Return(&domain.ChatSession{ID: "s-1"}, nil)
		router := setupRouter(chat, stats, hub, "staff-1")

		w, env := perform(t, router, http.MethodPost, "/api/chat/sessions/s-1/transfer", []byte(`{"targetStaffId":"staff-2"}`))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Session transferred", env.Message)
		chat.AssertExpectations(t)
	})

	t.Run("Missing target", func(t *testing.T) {
		chat, stats, hub := new(mockChat), new(mockStats), &recordingHub{}
		router := setupRouter(chat, stats, hub, "staff-1")

		w, env := perform(t, router, http.MethodPost, "/api/chat/sessions/s-1/transfer", []byte(`{}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.False(t, env.Success)
	})

	t.Run("Target unavailable", func(t *testing.T) {
		chat, stats, hub := new(mockChat), new(mockStats), &recordingHub{}
		chat.On("TransferSession", mock.Anything, "staff-1", "s-1", "staff-9").Return(nil, service.ErrStaffUnavailable)
		router := setupRouter(chat, stats, hub, "staff-1")

		w, _ := perform(t, router, http.MethodPost, "/api/chat/sessions/s-1/transfer", []byte(`{"targetStaffId":"staff-9"}`))

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestHandleServiceError_Internal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	HandleServiceError(c, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "An unexpected error occurred")
	assert.NotContains(t, w.Body.String(), "boom")
}
