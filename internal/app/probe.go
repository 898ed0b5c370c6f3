package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pgha-monitor/internal/config"
	"github.com/taoyao-code/pgha-monitor/internal/probe"
	pgstorage "github.com/taoyao-code/pgha-monitor/internal/storage/pg"
)

// ProbeOptions 由配置生成探测参数
func ProbeOptions(cfg cfgpkg.ProbeConfig) probe.Options {
	return probe.Options{
		Interval:         cfg.Interval,
		QueryTimeout:     cfg.QueryTimeout,
		FailureThreshold: cfg.FailureThreshold,
		IdentitySetting:  cfg.IdentitySetting,
		FallbackNode:     cfg.FallbackNode,
	}
}

// NewMonitor 创建探测循环
func NewMonitor(cfg cfgpkg.ProbeConfig, dialer *pgstorage.Dialer, log *zap.Logger, observers ...probe.Observer) *probe.Monitor {
	return probe.NewMonitor(ProbeDial(dialer), ProbeOptions(cfg), log, observers...)
}
