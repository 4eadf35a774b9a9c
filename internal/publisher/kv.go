package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	rediscommon "respirosync/common/redis"
)

// ErrCacheMiss 实时快照不存在或已过期
var ErrCacheMiss = errors.New("cache miss")

// KVStore 实时快照存储（单元测试中替换 Redis）
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// StreamWriter 指标/告警流写入
type StreamWriter interface {
	PublishJSON(ctx context.Context, stream string, data interface{}) (string, error)
}

// RedisStore 同一个 Redis 连接上的快照存储与流写入
//
// 流按 maxLen 近似裁剪；maxLen <= 0 时不裁剪。
type RedisStore struct {
	client *redis.Client
	maxLen int64
}

// NewRedisStore 创建 Redis 存储
func NewRedisStore(client *redis.Client, maxLen int64) *RedisStore {
	return &RedisStore{client: client, maxLen: maxLen}
}

// Get 读取快照，不存在时返回 ErrCacheMiss
func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", fmt.Errorf("%w: %s", ErrCacheMiss, key)
	case err != nil:
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return val, nil
}

// Set 写入快照并设置过期时间
func (r *RedisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// PublishJSON 追加一条 JSON 消息到流
func (r *RedisStore) PublishJSON(ctx context.Context, stream string, data interface{}) (string, error) {
	return rediscommon.PublishJSONToStream(ctx, r.client, stream, r.maxLen, data)
}
