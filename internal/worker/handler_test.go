package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/dto"
	"github.com/lsiswin/RecyclingApi-sub001/internal/repository/mocks"
	"github.com/lsiswin/RecyclingApi-sub001/internal/tasks"
)

func TestMessagePersistenceHandler(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	msg := domain.ChatMessage{
		ID:         "m-1",
		SessionID:  "s-1",
		SenderRole: domain.RoleVisitor,
		SenderID:   "v-1",
		Kind:       domain.MessageText,
		Content:    "hello",
		CreatedAt:  created,
	}

	t.Run("Saves message and touches session", func(t *testing.T) {
		messages := mocks.NewMessageRepository(t)
		sessions := mocks.NewSessionRepository(t)
		messages.On("SaveBatch", mock.Anything, []domain.ChatMessage{msg}).Return(nil).Once()
		sessions.On("Touch", mock.Anything, "s-1", created, 1).Return(nil).Once()

		task, err := tasks.NewMessagePersistTask(msg)
		require.NoError(t, err)

		h := NewMessagePersistenceHandler(messages, sessions, nil)
		assert.NoError(t, h.ProcessTask(context.Background(), task))
	})

	t.Run("Save failure is retried", func(t *testing.T) {
		messages := mocks.NewMessageRepository(t)
		sessions := mocks.NewSessionRepository(t)
		messages.On("SaveBatch", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

		task, err := tasks.NewMessagePersistTask(msg)
		require.NoError(t, err)

		h := NewMessagePersistenceHandler(messages, sessions, nil)
		err = h.ProcessTask(context.Background(), task)
		require.Error(t, err)
		assert.False(t, errors.Is(err, asynq.SkipRetry))
		sessions.AssertNotCalled(t, "Touch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Touch failure does not fail the task", func(t *testing.T) {
		messages := mocks.NewMessageRepository(t)
		sessions := mocks.NewSessionRepository(t)
		messages.On("SaveBatch", mock.Anything, mock.Anything).Return(nil).Once()
		sessions.On("Touch", mock.Anything, "s-1", created, 1).Return(errors.New("db down")).Once()

		task, err := tasks.NewMessagePersistTask(msg)
		require.NoError(t, err)

		h := NewMessagePersistenceHandler(messages, sessions, nil)
		assert.NoError(t, h.ProcessTask(context.Background(), task))
	})

	t.Run("Malformed payload skips retry", func(t *testing.T) {
		messages := mocks.NewMessageRepository(t)
		sessions := mocks.NewSessionRepository(t)

		h := NewMessagePersistenceHandler(messages, sessions, nil)
		err := h.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeMessagePersist, []byte("{not json")))
		require.Error(t, err)
		assert.True(t, errors.Is(err, asynq.SkipRetry))
	})
}

type stubSweeper struct {
	out []dto.Outbound
	err error
}

func (s stubSweeper) SweepIdle(context.Context) ([]dto.Outbound, error) { return s.out, s.err }

type captureDeliverer struct{ got []dto.Outbound }

func (c *captureDeliverer) Deliver(_ context.Context, outs []dto.Outbound) {
	c.got = append(c.got, outs...)
}

func TestSessionSweepHandler(t *testing.T) {
	closed := dto.To(dto.Frame{Type: dto.OutSessionClosed, SessionID: "s-1", Reason: "idle"}, domain.VisitorPeer("v-1"))

	t.Run("Delivers sweep frames", func(t *testing.T) {
		deliverer := &captureDeliverer{}
		h := NewSessionSweepHandler(stubSweeper{out: []dto.Outbound{closed}}, deliverer, nil)

		assert.NoError(t, h.ProcessTask(context.Background(), tasks.NewSessionSweepTask(30*time.Second)))
		assert.Equal(t, []dto.Outbound{closed}, deliverer.got)
	})

	t.Run("Partial failure still delivers", func(t *testing.T) {
		deliverer := &captureDeliverer{}
		h := NewSessionSweepHandler(stubSweeper{out: []dto.Outbound{closed}, err: errors.New("boom")}, deliverer, nil)

		assert.Error(t, h.ProcessTask(context.Background(), tasks.NewSessionSweepTask(30*time.Second)))
		assert.Len(t, deliverer.got, 1)
	})
}
