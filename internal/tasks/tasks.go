package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
)

// 定义任务类型常量
const (
	TypeMessagePersist = "chat:message:persist" // 聊天消息落库
	TypeSessionSweep   = "chat:session:sweep"   // 周期巡检: 空闲会话、离线客服、等待队列
)

// 队列名称，与 worker.Server 的 Queues 配置一致
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// MessagePersistPayload 定义了消息落库任务的数据结构
type MessagePersistPayload struct {
	Message domain.ChatMessage `json:"message"`
}

// NewMessagePersistTask 创建消息落库任务。任务 ID 使用消息 ID，重复入队会被 asynq 拒绝。
func NewMessagePersistTask(msg domain.ChatMessage) (*asynq.Task, error) {
	payload, err := json.Marshal(MessagePersistPayload{Message: msg})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message payload: %w", err)
	}
	return asynq.NewTask(TypeMessagePersist, payload,
		asynq.TaskID("msg:"+msg.ID),
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(10),
		asynq.Timeout(30*time.Second),
	), nil
}

// ParseMessagePersistPayload 解析消息落库任务
func ParseMessagePersistPayload(t *asynq.Task) (MessagePersistPayload, error) {
	var payload MessagePersistPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	if payload.Message.ID == "" || payload.Message.SessionID == "" {
		return payload, errors.New("message payload is missing ids")
	}
	return payload, nil
}

// NewSessionSweepTask 创建巡检任务。多个节点的调度器同时入队时，Unique 保证同一周期只执行一次。
func NewSessionSweepTask(interval time.Duration) *asynq.Task {
	return asynq.NewTask(TypeSessionSweep, nil,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Unique(interval),
		asynq.Timeout(interval),
	)
}

// TaskEnqueuer 是 asynq.Client 的子集，便于测试
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// MessageEnqueuer 把消息交给后台 worker 落库，实现 service.MessagePersister
type MessageEnqueuer struct {
	client TaskEnqueuer
}

// NewMessageEnqueuer 创建 MessageEnqueuer
func NewMessageEnqueuer(client TaskEnqueuer) *MessageEnqueuer {
	if client == nil {
		panic("asynq client cannot be nil for MessageEnqueuer")
	}
	return &MessageEnqueuer{client: client}
}

// PersistMessage 入队消息落库任务
func (e *MessageEnqueuer) PersistMessage(ctx context.Context, msg domain.ChatMessage) error {
	task, err := NewMessagePersistTask(msg)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil // 已在队列中
		}
		return fmt.Errorf("failed to enqueue message %s: %w", msg.ID, err)
	}
	return nil
}
