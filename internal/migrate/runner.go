package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/pgha-monitor/internal/logging"
)

// ErrSchemaUnavailable 重试次数耗尽仍无法建表
var ErrSchemaUnavailable = errors.New("failed to connect to database after multiple attempts")

// SchemaConn 建表所需的最小连接能力
type SchemaConn interface {
	EnsureTable(ctx context.Context) error
	Close(ctx context.Context) error
}

// DialFunc 每次尝试建立一个新连接
type DialFunc func(ctx context.Context) (SchemaConn, error)

// Runner 启动期建表执行器：固定间隔重试，不做指数退避
type Runner struct {
	Dial        DialFunc
	MaxAttempts int
	Delay       time.Duration
	Logger      *zap.Logger

	// IsTransient 判断错误是否值得重试；为空时所有错误都重试
	IsTransient func(error) bool
	// OnAttempt 每次尝试后回调（指标统计），可为空
	OnAttempt func(attempt int, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// Up 确保 test_data 表存在。成功返回 nil；
// 预算耗尽返回包装 ErrSchemaUnavailable 的错误；不可重试的错误立即返回。
func (r Runner) Up(ctx context.Context) error {
	if r.Dial == nil {
		return errors.New("migrate: dial func is nil")
	}
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("migrate: max attempts must be positive, got %d", r.MaxAttempts)
	}
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		err := r.attempt(ctx)
		if r.OnAttempt != nil {
			r.OnAttempt(attempt, err)
		}
		if err == nil {
			log.Info("Table created/verified")
			return nil
		}
		if r.IsTransient != nil && !r.IsTransient(err) {
			log.Error("ensure schema failed", zap.Error(err))
			return fmt.Errorf("ensure schema: %w", err)
		}

		lastErr = err
		log.Info("Waiting for database to be ready...",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.MaxAttempts),
			logging.ErrorSummary(err))

		if attempt == r.MaxAttempts {
			break
		}
		if err := sleep(ctx, r.Delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w (%d attempts): %w", ErrSchemaUnavailable, r.MaxAttempts, lastErr)
}

// attempt 单次建表，连接无论成败都关闭
func (r Runner) attempt(ctx context.Context) error {
	conn, err := r.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.WithoutCancel(ctx))
	return conn.EnsureTable(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
