// Package publisher 将指标快照写入 Redis：实时快照键 + 指标流
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"respirosync/internal/config"
	"respirosync/internal/models"
)

// CacheManager Redis 缓存管理器（实时快照 + 指标流）
type CacheManager struct {
	config  *config.Config
	kv      KVStore
	streams StreamWriter
	logger  *zap.Logger
}

// NewCacheManager 创建缓存管理器；streams 为 nil 时只写实时快照
func NewCacheManager(
	cfg *config.Config,
	kv KVStore,
	streams StreamWriter,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		config:  cfg,
		kv:      kv,
		streams: streams,
		logger:  logger,
	}
}

// RealtimeKey 会话实时快照键，如 respirosync:session:{id}:realtime
func (c *CacheManager) RealtimeKey(sessionID string) string {
	return fmt.Sprintf("%s%s:realtime", c.config.Cache.RealtimeKeyPrefix, sessionID)
}

// UpdateRealtime 更新会话实时快照
func (c *CacheManager) UpdateRealtime(ctx context.Context, m *models.SleepMetrics) error {
	key := c.RealtimeKey(m.SessionID)

	jsonData, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	ttl := time.Duration(c.config.Cache.RealtimeTTL) * time.Second
	if err := c.kv.Set(ctx, key, string(jsonData), ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated realtime cache",
		zap.String("session_id", m.SessionID),
		zap.String("key", key),
	)
	return nil
}

// GetRealtime 读取会话实时快照
func (c *CacheManager) GetRealtime(ctx context.Context, sessionID string) (*models.SleepMetrics, error) {
	raw, err := c.kv.Get(ctx, c.RealtimeKey(sessionID))
	if err != nil {
		return nil, err
	}

	var m models.SleepMetrics
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	return &m, nil
}

// PublishMetrics 追加到指标流
func (c *CacheManager) PublishMetrics(ctx context.Context, m *models.SleepMetrics) (string, error) {
	if c.streams == nil {
		return "", nil
	}
	id, err := c.streams.PublishJSON(ctx, c.config.Cache.MetricsStream, m)
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %s: %w", c.config.Cache.MetricsStream, err)
	}
	return id, nil
}

// Handle 实现 poller.Sink；空闲状态不写入
func (c *CacheManager) Handle(ctx context.Context, m *models.SleepMetrics, err error) {
	if err != nil || m == nil {
		return
	}

	if err := c.UpdateRealtime(ctx, m); err != nil {
		c.logger.Warn("Failed to update realtime cache",
			zap.String("session_id", m.SessionID),
			zap.Error(err),
		)
	}
	if _, err := c.PublishMetrics(ctx, m); err != nil {
		c.logger.Warn("Failed to publish metrics",
			zap.String("session_id", m.SessionID),
			zap.Error(err),
		)
	}
}
