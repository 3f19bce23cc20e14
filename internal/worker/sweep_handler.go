package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/lsiswin/RecyclingApi-sub001/internal/dto"
	"github.com/lsiswin/RecyclingApi-sub001/internal/metrics"
)

// Sweeper 执行一轮会话巡检，由 service.ChatService 实现
type Sweeper interface {
	SweepIdle(ctx context.Context) ([]dto.Outbound, error)
}

// Deliverer 投递巡检产生的推送帧，由 hub.Hub 实现
type Deliverer interface {
	Deliver(ctx context.Context, outs []dto.Outbound)
}

// SessionSweepHandler 处理周期性的会话巡检任务
type SessionSweepHandler struct {
	sweeper   Sweeper
	hub       Deliverer
	collector metrics.MetricsCollector
}

// NewSessionSweepHandler 创建 Handler 实例
func NewSessionSweepHandler(sweeper Sweeper, hub Deliverer, collector metrics.MetricsCollector) *SessionSweepHandler {
	if sweeper == nil {
		panic("Sweeper cannot be nil for SessionSweepHandler")
	}
	if hub == nil {
		panic("Deliverer cannot be nil for SessionSweepHandler")
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &SessionSweepHandler{sweeper: sweeper, hub: hub, collector: collector}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *SessionSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) (err error) {
	defer func() { h.collector.RecordTaskProcessed(t.Type(), err) }()

	logCtx := logrus.WithField("task_type", t.Type())
	logCtx.Debug("Processing periodic session sweep task...")

	out, err := h.sweeper.SweepIdle(ctx)
	// 部分失败时仍投递已经产生的帧
	if len(out) > 0 {
		h.hub.Deliver(ctx, out)
	}
	if err != nil {
		logCtx.WithError(err).Error("Session sweep failed")
		return err
	}
	logCtx.WithField("frames", len(out)).Debug("Session sweep task processed successfully")
	return nil
}
