package health

import (
	"context"
	"fmt"
	"time"

	redisstorage "github.com/taoyao-code/pgha-monitor/internal/storage/redis"
)

// RedisChecker 状态发布端健康检查器
type RedisChecker struct {
	publisher *redisstorage.StatusPublisher
}

// NewRedisChecker 创建Redis健康检查器
func NewRedisChecker(publisher *redisstorage.StatusPublisher) *RedisChecker {
	return &RedisChecker{publisher: publisher}
}

// Name 返回检查器名称
func (c *RedisChecker) Name() string {
	return "redis"
}

// Check Ping 失败为 unhealthy；状态键过期（发布停滞）为 degraded
func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	if err := c.publisher.Client().HealthCheck(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	ttl, err := c.publisher.TTL(ctx)
	if err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("ttl lookup failed: %v", err),
			Latency: time.Since(start),
		}
	}

	status := StatusHealthy
	message := "ok"
	if ttl <= 0 {
		status = StatusDegraded
		message = "status key missing"
	}

	stats := c.publisher.Client().Stats()
	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"key":         c.publisher.Key(),
			"ttl_ms":      ttl.Milliseconds(),
			"total_conns": stats.TotalConns,
			"idle_conns":  stats.IdleConns,
			"timeouts":    stats.Timeouts,
		},
		Latency: time.Since(start),
	}
}
