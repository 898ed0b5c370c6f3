package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taoyao-code/pgha-monitor/internal/probe"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// MonitorMetrics 探测指标
type MonitorMetrics struct {
	ProbeTotal          *prometheus.CounterVec   // labels: step, result=ok|connection|query
	ProbeDuration       *prometheus.HistogramVec // labels: step
	ConsecutiveFailures prometheus.Gauge
	RecordsTotal        prometheus.Gauge // test_data 当前行数
	LatestRecordID      prometheus.Gauge
	RestorationsTotal   prometheus.Counter
	DegradedTotal       prometheus.Counter
	SchemaAttemptsTotal *prometheus.CounterVec // labels: result=ok|error
	LastSuccess         prometheus.Gauge       // 最近一次完整成功的 unix 时间
}

// NewMonitorMetrics 注册并返回探测指标
func NewMonitorMetrics(reg prometheus.Registerer) *MonitorMetrics {
	m := &MonitorMetrics{
		ProbeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pgha_probe_total",
			Help: "Probe steps executed by step and result.",
		}, []string{"step", "result"}),
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pgha_probe_duration_seconds",
			Help:    "Probe step latency including connection setup.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"step"}),
		ConsecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgha_consecutive_failures",
			Help: "Iterations in a row with at least one failed step.",
		}),
		RecordsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgha_records_total",
			Help: "Rows in test_data as seen by the last read probe.",
		}),
		LatestRecordID: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgha_latest_record_id",
			Help: "Highest test_data id seen by the last read probe.",
		}),
		RestorationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgha_restorations_total",
			Help: "Times connectivity was restored after failures.",
		}),
		DegradedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgha_degraded_iterations_total",
			Help: "Iterations at or above the consecutive failure threshold.",
		}),
		SchemaAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pgha_schema_attempts_total",
			Help: "Schema initialization attempts by result.",
		}, []string{"result"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pgha_last_success_timestamp_seconds",
			Help: "Unix time of the last fully successful iteration.",
		}),
	}
	reg.MustRegister(m.ProbeTotal, m.ProbeDuration, m.ConsecutiveFailures, m.RecordsTotal,
		m.LatestRecordID, m.RestorationsTotal, m.DegradedTotal, m.SchemaAttemptsTotal, m.LastSuccess)
	return m
}

// Observe 实现 probe.Observer
func (m *MonitorMetrics) Observe(_ context.Context, o probe.Outcome) {
	m.observeStep(o.Write)
	m.observeStep(o.Read)

	m.ConsecutiveFailures.Set(float64(o.State.Failures))
	if o.Read.OK {
		m.RecordsTotal.Set(float64(o.Read.Total))
		if o.Read.Latest != nil {
			m.LatestRecordID.Set(float64(o.Read.Latest.ID))
		}
	}
	if o.Restored > 0 {
		m.RestorationsTotal.Inc()
	}
	if o.Degraded {
		m.DegradedTotal.Inc()
	}
	if o.OK() {
		m.LastSuccess.Set(float64(o.At.Unix()))
	}
}

// SchemaAttempt 记录一次建表尝试
func (m *MonitorMetrics) SchemaAttempt(_ int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SchemaAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *MonitorMetrics) observeStep(r probe.StepResult) {
	result := "ok"
	if !r.OK {
		result = string(r.Kind)
	}
	m.ProbeTotal.WithLabelValues(string(r.Step), result).Inc()
	m.ProbeDuration.WithLabelValues(string(r.Step)).Observe(r.Duration.Seconds())
}
