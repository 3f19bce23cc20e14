// Package metrics 提供 Prometheus 指标的收集与暴露。
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/service"
)

// MetricsCollector 是指标收集接口，Hub、中间件与后台任务通过它上报。
type MetricsCollector interface {
	ConnectionOpened(role domain.Role)
	ConnectionClosed(role domain.Role)
	RecordFrameReceived(frameType string)
	RecordFrameDropped(reason string)
	RecordChatEvent(eventType string)
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
	RecordTaskProcessed(taskType string, err error)
}

// Collector 是基于 Prometheus 的实现。
type Collector struct {
	connections   *prometheus.GaugeVec
	framesIn      *prometheus.CounterVec
	framesDropped *prometheus.CounterVec
	chatEvents    *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	tasks         *prometheus.CounterVec
}

// NewCollector 创建 Collector 并注册到指定的 Registerer。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recycling_chat_connections",
			Help: "本节点当前的 WebSocket 连接数",
		}, []string{"role"}),
		framesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recycling_chat_frames_received_total",
			Help: "收到的客户端帧数量 (按类型)",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recycling_chat_frames_dropped_total",
			Help: "被丢弃的帧数量 (限流、发送队列满等)",
		}, []string{"reason"}),
		chatEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recycling_chat_events_total",
			Help: "会话生命周期事件数量",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recycling_http_requests_total",
			Help: "HTTP 请求数量",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recycling_http_request_duration_seconds",
			Help:    "HTTP 请求耗时 (秒)",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recycling_tasks_processed_total",
			Help: "后台任务处理数量",
		}, []string{"task", "result"}),
	}

	reg.MustRegister(
		c.connections,
		c.framesIn,
		c.framesDropped,
		c.chatEvents,
		c.httpRequests,
		c.httpLatency,
		c.tasks,
	)
	return c
}

// ConnectionOpened 连接数 +1
func (c *Collector) ConnectionOpened(role domain.Role) {
	c.connections.WithLabelValues(string(role)).Inc()
}

// ConnectionClosed 连接数 -1
func (c *Collector) ConnectionClosed(role domain.Role) {
	c.connections.WithLabelValues(string(role)).Dec()
}

func (c *Collector) RecordFrameReceived(frameType string) {
	c.framesIn.WithLabelValues(frameType).Inc()
}

func (c *Collector) RecordFrameDropped(reason string) {
	c.framesDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordChatEvent(eventType string) {
	c.chatEvents.WithLabelValues(eventType).Inc()
}

// RecordHTTPRequest 记录请求数与耗时。route 使用路由模板，避免标签基数过高。
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTaskProcessed 记录后台任务结果
func (c *Collector) RecordTaskProcessed(taskType string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.tasks.WithLabelValues(taskType, result).Inc()
}

// NopCollector 不记录任何指标，用于测试
type NopCollector struct{}

func (NopCollector) ConnectionOpened(domain.Role)                         {}
func (NopCollector) ConnectionClosed(domain.Role)                         {}
func (NopCollector) RecordFrameReceived(string)                           {}
func (NopCollector) RecordFrameDropped(string)                            {}
func (NopCollector) RecordChatEvent(string)                               {}
func (NopCollector) RecordHTTPRequest(string, string, int, time.Duration) {}
func (NopCollector) RecordTaskProcessed(string, error)                    {}

// CountingPublisher 在发布集成事件的同时记录事件计数
type CountingPublisher struct {
	next      service.EventPublisher
	collector MetricsCollector
}

// NewCountingPublisher 包装一个 EventPublisher
func NewCountingPublisher(next service.EventPublisher, collector MetricsCollector) *CountingPublisher {
	if next == nil {
		next = service.NopEventPublisher{}
	}
	return &CountingPublisher{next: next, collector: collector}
}

// Publish 先计数再转发，转发失败不影响计数
func (p *CountingPublisher) Publish(ctx context.Context, event domain.ChatEvent) error {
	p.collector.RecordChatEvent(event.Type)
	return p.next.Publish(ctx, event)
}

// Handler 返回 Prometheus 抓取用的 HTTP Handler。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
