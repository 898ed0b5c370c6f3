package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/pgha-monitor/internal/config"
	"github.com/taoyao-code/pgha-monitor/internal/health"
	"github.com/taoyao-code/pgha-monitor/internal/metrics"
	"github.com/taoyao-code/pgha-monitor/internal/migrate"
	"github.com/taoyao-code/pgha-monitor/internal/probe"
	pgstorage "github.com/taoyao-code/pgha-monitor/internal/storage/pg"
)

// NewDialer 创建 pgx 拨号器；logging.sql 打开时挂载 SQL 追踪
func NewDialer(db cfgpkg.DatabaseConfig, connectTimeout time.Duration, traceSQL bool, log *zap.Logger) (*pgstorage.Dialer, error) {
	var tracer *zap.Logger
	if traceSQL {
		tracer = log
	}
	return pgstorage.NewDialer(db.DSN(), connectTimeout, tracer)
}

// ProbeDial 适配为探测循环使用的 DialFunc
func ProbeDial(d *pgstorage.Dialer) probe.DialFunc {
	return func(ctx context.Context) (probe.Conn, error) {
		s, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// SchemaDial 适配为建表使用的 DialFunc
func SchemaDial(d *pgstorage.Dialer) migrate.DialFunc {
	return func(ctx context.Context) (migrate.SchemaConn, error) {
		s, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// PingFunc 健康检查用：握手后立即关闭
func PingFunc(d *pgstorage.Dialer) health.PingFunc {
	return func(ctx context.Context) error {
		s, err := d.Dial(ctx)
		if err != nil {
			return err
		}
		return s.Close(ctx)
	}
}

// EnsureSchema 启动期建表，固定间隔重试直到成功或预算耗尽
func EnsureSchema(ctx context.Context, cfg *cfgpkg.Config, m *metrics.MonitorMetrics, log *zap.Logger) error {
	dialer, err := NewDialer(cfg.Database, cfg.Schema.ConnectTimeout, cfg.Logging.SQL, log)
	if err != nil {
		return err
	}

	runner := migrate.Runner{
		Dial:        SchemaDial(dialer),
		MaxAttempts: cfg.Schema.MaxAttempts,
		Delay:       cfg.Schema.RetryDelay,
		Logger:      log,
		IsTransient: pgstorage.IsConnectionError,
	}
	if m != nil {
		runner.OnAttempt = m.SchemaAttempt
	}
	return runner.Up(ctx)
}
