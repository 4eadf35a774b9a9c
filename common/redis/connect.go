package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"respirosync/common/config"
)

// pingTimeout 启动时连接检查的超时
const pingTimeout = 5 * time.Second

// Connect 创建客户端并确认可用；失败时关闭客户端
//
// 写入路径每秒一次，连接池保持很小。
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		DialTimeout:  pingTimeout,
		WriteTimeout: time.Second,
		ReadTimeout:  time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
