package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

// Dialer 按需建立独立的 pgx 连接（不使用连接池）。
// 连接池与故障切换由前置的 PgBouncer/HAProxy 负责，监控端每次操作都要重新握手，
// 这样才能真实反映代理层的可用性。
type Dialer struct {
	base *pgx.ConnConfig
}

// NewDialer 解析 DSN 并设置连接超时；logger 非空时挂载 SQL 追踪
func NewDialer(dsn string, connectTimeout time.Duration, logger *zap.Logger) (*Dialer, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	// 0 表示沿用驱动默认（不设超时）
	cfg.ConnectTimeout = connectTimeout

	if logger != nil {
		cfg.Tracer = &tracelog.TraceLog{
			Logger:   &pgxZapLogger{logger: logger},
			LogLevel: tracelog.LogLevelTrace,
		}
	}
	return &Dialer{base: cfg}, nil
}

// ConnectTimeout 返回当前连接超时
func (d *Dialer) ConnectTimeout() time.Duration {
	return d.base.ConnectTimeout
}

// Dial 建立一个新连接，调用方负责 Close
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	conn, err := pgx.ConnectConfig(ctx, d.base.Copy())
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn}, nil
}

// pgxZapLogger 实现 tracelog.Logger 接口,将 pgx 日志适配到 zap
type pgxZapLogger struct {
	logger *zap.Logger
}

func (l *pgxZapLogger) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]interface{}) {
	fields := make([]zap.Field, 0, len(data))
	for k, v := range data {
		fields = append(fields, zap.Any(k, v))
	}

	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		l.logger.Debug("[SQL] "+msg, fields...)
	case tracelog.LogLevelInfo:
		l.logger.Info("[SQL] "+msg, fields...)
	case tracelog.LogLevelWarn:
		l.logger.Warn("[SQL] "+msg, fields...)
	case tracelog.LogLevelError:
		l.logger.Error("[SQL] "+msg, fields...)
	default:
		l.logger.Debug("[SQL] "+msg, fields...)
	}
}
