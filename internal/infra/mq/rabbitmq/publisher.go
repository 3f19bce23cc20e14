package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
)

// DefaultExchange 是集成事件使用的 topic exchange
const DefaultExchange = "chat.events"

const publishTimeout = 5 * time.Second

var ErrPublisherClosed = errors.New("event publisher is closed")

// EventPublisher 把聊天集成事件发布到 RabbitMQ。路由键即事件类型，
// 下游按 "session.*" 或 "message.*" 绑定队列。
type EventPublisher struct {
	conn     *amqp.Connection
	exchange string

	mu      sync.Mutex // amqp.Channel 不能并发发布
	channel *amqp.Channel
	closed  bool
}

// NewEventPublisher 连接 RabbitMQ 并声明 exchange
func NewEventPublisher(url, exchange string) (*EventPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // args
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	logrus.WithField("exchange", exchange).Info("Connected to RabbitMQ and declared exchange")
	return &EventPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish 发布一条事件 (JSON，持久化投递)
func (p *EventPublisher) Publish(ctx context.Context, event domain.ChatEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		event.Type, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.OccurredAt,
			Type:         event.Type,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}
	return nil
}

// Close 关闭 channel 与连接
func (p *EventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	chErr := p.channel.Close()
	connErr := p.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}
