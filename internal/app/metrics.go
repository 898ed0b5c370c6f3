package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taoyao-code/pgha-monitor/internal/metrics"
)

// NewMetrics 初始化注册表与探测指标
func NewMetrics() (*prometheus.Registry, *metrics.MonitorMetrics) {
	reg := metrics.NewRegistry()
	m := metrics.NewMonitorMetrics(reg)
	return reg, m
}
