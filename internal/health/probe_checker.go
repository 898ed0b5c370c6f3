package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taoyao-code/pgha-monitor/internal/probe"
)

// ProbeChecker 汇报探测循环的最新结果。
// 探测循环写入，HTTP 读取，因此需要加锁。
type ProbeChecker struct {
	threshold int

	mu   sync.RWMutex
	last *probe.Outcome
}

// NewProbeChecker 创建探测状态检查器
func NewProbeChecker(threshold int) *ProbeChecker {
	return &ProbeChecker{threshold: threshold}
}

// Observe 实现 probe.Observer
func (c *ProbeChecker) Observe(_ context.Context, o probe.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = &o
}

// Last 最近一轮结果
func (c *ProbeChecker) Last() (probe.Outcome, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return probe.Outcome{}, false
	}
	return *c.last, true
}

// Name 返回检查器名称
func (c *ProbeChecker) Name() string {
	return "probe"
}

// Check 连续失败达到阈值为 unhealthy，有失败为 degraded
func (c *ProbeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	o, ok := c.Last()
	if !ok {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "pending first iteration",
			Latency: time.Since(start),
		}
	}

	status := StatusHealthy
	message := "ok"
	switch {
	case o.State.Failures >= c.threshold:
		status = StatusUnhealthy
		message = fmt.Sprintf("%d consecutive failures", o.State.Failures)
	case o.State.Failures > 0:
		status = StatusDegraded
		message = fmt.Sprintf("%d consecutive failures", o.State.Failures)
	}

	details := map[string]interface{}{
		"seq":                  o.State.Seq,
		"consecutive_failures": o.State.Failures,
		"write_ok":             o.Write.OK,
		"read_ok":              o.Read.OK,
		"checked_at":           o.At,
	}
	if o.Read.OK {
		details["total_records"] = o.Read.Total
	}
	if o.Read.Latest != nil {
		details["latest_id"] = o.Read.Latest.ID
		details["latest_node"] = o.Read.Latest.NodeName
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}
