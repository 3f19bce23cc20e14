package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	// 导入 Redis 客户端库
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/repository"
)

const (
	recentMessagesLimit = 100            // 每个会话缓存的最近消息条数
	recentMessagesTTL   = 24 * time.Hour // 最近消息缓存过期时间
	countersTTL         = 72 * time.Hour // 每日计数器保留时间
)

// RedisStateRepository 是 PresenceRepository 与 StateRepository 接口的 Redis 实现
type RedisStateRepository struct {
	client *redis.Client // 依赖 Redis 客户端
	// Redis key 的前缀，方便与其他应用共用一个实例
	keyPrefix string
}

// NewRedisStateRepository 创建 RedisStateRepository 实例
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "chat:"
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

var (
	_ repository.PresenceRepository = (*RedisStateRepository)(nil)
	_ repository.StateRepository    = (*RedisStateRepository)(nil)
)

// --- Key Generation Helpers ---
func (r *RedisStateRepository) presenceKey(role domain.Role) string {
	return fmt.Sprintf("%spresence:%s", r.keyPrefix, role)
}

func (r *RedisStateRepository) recentMessagesKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:recent", r.keyPrefix, sessionID)
}

func (r *RedisStateRepository) countersKey(day string) string {
	return fmt.Sprintf("%sstats:%s", r.keyPrefix, day)
}

func scoreOf(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// --- PresenceRepository ---

// MarkOnline 以 Unix 时间为分数写入有序集合
func (r *RedisStateRepository) MarkOnline(ctx context.Context, peer domain.Peer, at time.Time) error {
	key := r.presenceKey(peer.Role)
	err := r.client.ZAdd(ctx, key, &redis.Z{Score: float64(at.Unix()), Member: peer.ID}).Err()
	if err != nil {
		return fmt.Errorf("redis: failed to mark %s %s online on %s: %w", peer.Role, peer.ID, key, err)
	}
	return nil
}

// MarkOffline 从有序集合中移除
func (r *RedisStateRepository) MarkOffline(ctx context.Context, peer domain.Peer) error {
	key := r.presenceKey(peer.Role)
	if err := r.client.ZRem(ctx, key, peer.ID).Err(); err != nil {
		return fmt.Errorf("redis: failed to mark %s %s offline on %s: %w", peer.Role, peer.ID, key, err)
	}
	return nil
}

// IsOnline 检查最后心跳是否晚于 since
func (r *RedisStateRepository) IsOnline(ctx context.Context, peer domain.Peer, since time.Time) (bool, error) {
	key := r.presenceKey(peer.Role)
	score, err := r.client.ZScore(ctx, key, peer.ID).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("redis: failed to read presence of %s %s: %w", peer.Role, peer.ID, err)
	}
	return int64(score) >= since.Unix(), nil
}

// ListOnline 返回心跳晚于 since 的成员
func (r *RedisStateRepository) ListOnline(ctx context.Context, role domain.Role, since time.Time) ([]string, error) {
	key := r.presenceKey(role)
	ids, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: scoreOf(since), Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to list online %s from %s: %w", role, key, err)
	}
	return ids, nil
}

// CountOnline 统计心跳晚于 since 的成员数量
func (r *RedisStateRepository) CountOnline(ctx context.Context, role domain.Role, since time.Time) (int64, error) {
	key := r.presenceKey(role)
	count, err := r.client.ZCount(ctx, key, scoreOf(since), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis: failed to count online %s from %s: %w", role, key, err)
	}
	return count, nil
}

// PurgeStale 删除 before 之前的心跳 (节点宕机后遗留的记录)
func (r *RedisStateRepository) PurgeStale(ctx context.Context, role domain.Role, before time.Time) (int64, error) {
	key := r.presenceKey(role)
	removed, err := r.client.ZRemRangeByScore(ctx, key, "-inf", "("+scoreOf(before)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: failed to purge stale %s presence on %s: %w", role, key, err)
	}
	return removed, nil
}

// --- StateRepository ---

// PushRecentMessage 将消息追加到最近消息列表并保留最近 100 条
func (r *RedisStateRepository) PushRecentMessage(ctx context.Context, msg domain.ChatMessage) error {
	key := r.recentMessagesKey(msg.SessionID)
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal message %s for history: %w", msg.ID, err)
	}
	pipe := r.client.Pipeline()
	pipe.RPush(ctx, key, string(msgBytes))
	pipe.LTrim(ctx, key, -recentMessagesLimit, -1)
	pipe.Expire(ctx, key, recentMessagesTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to push message to history for session %s on key %s: %w", msg.SessionID, key, err)
	}
	return nil
}

// GetRecentMessages 获取最近 limit 条消息
func (r *RedisStateRepository) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 || limit > recentMessagesLimit {
		limit = recentMessagesLimit
	}
	key := r.recentMessagesKey(sessionID)
	items, err := r.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get recent messages for session %s from %s: %w", sessionID, key, err)
	}
	messages := make([]domain.ChatMessage, 0, len(items))
	for _, item := range items {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			logrus.Warnf("redis: failed to unmarshal message from history for session %s: %v", sessionID, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// DropRecentMessages 删除会话的消息缓存
func (r *RedisStateRepository) DropRecentMessages(ctx context.Context, sessionID string) error {
	key := r.recentMessagesKey(sessionID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: failed to drop recent messages on key %s: %w", key, err)
	}
	return nil
}

// IncrementCounter 原子地递增某天的计数器
func (r *RedisStateRepository) IncrementCounter(ctx context.Context, day, name string) error {
	key := r.countersKey(day)
	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, key, name, 1)
	pipe.Expire(ctx, key, countersTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to increment counter %s on key %s: %w", name, key, err)
	}
	return nil
}

// GetCounters 返回某天的全部计数器
func (r *RedisStateRepository) GetCounters(ctx context.Context, day string) (map[string]int64, error) {
	key := r.countersKey(day)
	raw, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get counters from %s: %w", key, err)
	}
	counters := make(map[string]int64, len(raw))
	for name, value := range raw {
		n, parseErr := strconv.ParseInt(value, 10, 64)
		if parseErr != nil {
			logrus.Warnf("redis: invalid counter value '%s' for %s on %s", value, name, key)
			continue
		}
		counters[name] = n
	}
	return counters, nil
}
