package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/lsiswin/RecyclingApi-sub001/internal/dto"
)

// RelayEnvelope 是跨节点转发的消息，Origin 标识发布节点
type RelayEnvelope struct {
	Origin   string       `json:"origin"`
	Outbound dto.Outbound `json:"outbound"`
}

// RedisRelay 使用 Redis Pub/Sub 在多个服务节点之间转发推送帧
type RedisRelay struct {
	client  *redis.Client
	channel string

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewRedisRelay 创建 RedisRelay 实例
func NewRedisRelay(client *redis.Client, keyPrefix string) *RedisRelay {
	if client == nil {
		panic("redis client cannot be nil for RedisRelay")
	}
	if keyPrefix == "" {
		keyPrefix = "chat:"
	}
	return &RedisRelay{client: client, channel: keyPrefix + "relay"}
}

// Publish 将推送帧发布到转发频道
func (r *RedisRelay) Publish(ctx context.Context, origin string, out dto.Outbound) error {
	payload, err := json.Marshal(RelayEnvelope{Origin: origin, Outbound: out})
	if err != nil {
		return fmt.Errorf("redis: failed to marshal relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"channel":      r.channel,
			"payload_size": len(payload),
			"frame_type":   out.Frame.Type,
		}).WithError(err).Error("Redis Publish failed")
		return fmt.Errorf("redis: failed to publish to channel %s: %w", r.channel, err)
	}
	return nil
}

// Subscribe 订阅转发频道，并在独立 goroutine 中把其他节点的帧交给 handler。
// 本节点发布的帧会被忽略。
func (r *RedisRelay) Subscribe(ctx context.Context, self string, handler func(dto.Outbound)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	// 等待订阅确认，确保连接可用
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis: failed to subscribe to %s: %w", r.channel, err)
	}
	r.mu.Lock()
	r.pubsub = pubsub
	r.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"component": "relay", "channel": r.channel})
	log.Info("Relay subscription started")
	go func() {
		for msg := range pubsub.Channel() {
			var env RelayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.WithError(err).Warn("Dropping malformed relay payload")
				continue
			}
			if env.Origin == self {
				continue
			}
			handler(env.Outbound)
		}
		log.Info("Relay subscription closed")
	}()
	return nil
}

// Close 停止订阅
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub == nil {
		return nil
	}
	err := r.pubsub.Close()
	r.pubsub = nil
	return err
}
