package app

import (
	"context"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pgha-monitor/internal/config"
	redisstorage "github.com/taoyao-code/pgha-monitor/internal/storage/redis"
)

// NewStatusPublisher 创建 Redis 状态发布器；未启用时返回 nil, nil
func NewStatusPublisher(ctx context.Context, cfg cfgpkg.RedisConfig, instance string, logger *zap.Logger) (*redisstorage.StatusPublisher, error) {
	if !cfg.Enabled {
		logger.Info("redis is disabled, skipping status publisher")
		return nil, nil
	}

	client, err := redisstorage.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("redis status publisher initialized",
		zap.String("addr", cfg.Addr),
		zap.String("key", cfg.Key),
		zap.Duration("ttl", cfg.TTL),
		zap.Duration("publish_timeout", cfg.PublishTimeout))

	return redisstorage.NewStatusPublisher(client, cfg.Key, cfg.TTL, cfg.PublishTimeout, instance, logger), nil
}
