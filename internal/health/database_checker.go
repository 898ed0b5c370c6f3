package health

import (
	"context"
	"fmt"
	"time"
)

// PingFunc 建立一次新连接并立即关闭
type PingFunc func(ctx context.Context) error

// DatabaseChecker 数据库健康检查器：经由代理层重新握手，不复用探测连接
type DatabaseChecker struct {
	ping    PingFunc
	timeout time.Duration
}

// NewDatabaseChecker 创建数据库健康检查器
func NewDatabaseChecker(ping PingFunc, timeout time.Duration) *DatabaseChecker {
	return &DatabaseChecker{ping: ping, timeout: timeout}
}

// Name 返回检查器名称
func (c *DatabaseChecker) Name() string {
	return "database"
}

// Check 执行健康检查
func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("connect failed: %v", err),
			Latency: time.Since(start),
		}
	}

	latency := time.Since(start)
	status := StatusHealthy
	message := "ok"

	// 握手耗时过长通常意味着代理层在排队或正在切换
	if c.timeout > 0 && latency > c.timeout/2 {
		status = StatusDegraded
		message = "slow connect"
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"connect_ms": latency.Milliseconds(),
		},
		Latency: latency,
	}
}
