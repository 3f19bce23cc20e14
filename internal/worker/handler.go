package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/metrics"
	"github.com/lsiswin/RecyclingApi-sub001/internal/repository"
	"github.com/lsiswin/RecyclingApi-sub001/internal/tasks"
)

// MessagePersistenceHandler 处理消息落库任务
type MessagePersistenceHandler struct {
	messages  repository.MessageRepository
	sessions  repository.SessionRepository
	collector metrics.MetricsCollector
}

// NewMessagePersistenceHandler 创建 Handler 实例
func NewMessagePersistenceHandler(messages repository.MessageRepository, sessions repository.SessionRepository, collector metrics.MetricsCollector) *MessagePersistenceHandler {
	if messages == nil || sessions == nil {
		panic("repositories cannot be nil for MessagePersistenceHandler")
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &MessagePersistenceHandler{messages: messages, sessions: sessions, collector: collector}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *MessagePersistenceHandler) ProcessTask(ctx context.Context, t *asynq.Task) (err error) {
	defer func() { h.collector.RecordTaskProcessed(t.Type(), err) }()

	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})

	payload, err := tasks.ParseMessagePersistPayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	msg := payload.Message
	logCtx = logCtx.WithFields(logrus.Fields{"message_id": msg.ID, "session_id": msg.SessionID})

	if err := h.messages.SaveBatch(ctx, []domain.ChatMessage{msg}); err != nil {
		logCtx.WithError(err).Error("Failed to save chat message")
		return fmt.Errorf("failed to save message %s: %w", msg.ID, err)
	}
	// Touch 失败不触发重试，否则消息数会重复累加
	if err := h.sessions.Touch(ctx, msg.SessionID, msg.CreatedAt, 1); err != nil {
		logCtx.WithError(err).Warn("Failed to touch session after saving message")
	}

	logCtx.Debug("Message persistence task processed successfully")
	return nil
}
