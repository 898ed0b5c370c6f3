package migrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errRefused = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

// fakeDB 第 readyAt 次尝试开始可用（0 表示永不可用）
type fakeDB struct {
	readyAt  int
	attempts int
	closed   int
	ensured  int
	execErr  error
}

type fakeConn struct{ db *fakeDB }

func (c *fakeConn) EnsureTable(ctx context.Context) error {
	if c.db.execErr != nil {
		return c.db.execErr
	}
	c.db.ensured++
	return nil
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.db.closed++
	return nil
}

func (f *fakeDB) dial(ctx context.Context) (SchemaConn, error) {
	f.attempts++
	if f.readyAt == 0 || f.attempts < f.readyAt {
		return nil, errRefused
	}
	return &fakeConn{db: f}, nil
}

// recordSleep 记录等待时长，不真正休眠
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestRunner_SucceedsOnKthAttempt(t *testing.T) {
	db := &fakeDB{readyAt: 4}
	var delays []time.Duration
	core, logs := observer.New(zapcore.InfoLevel)

	r := Runner{
		Dial:        db.dial,
		MaxAttempts: 30,
		Delay:       2 * time.Second,
		Logger:      zap.New(core),
		sleep:       recordSleep(&delays),
	}

	require.NoError(t, r.Up(context.Background()))
	assert.Equal(t, 4, db.attempts, "成功后不应继续重试")
	assert.Equal(t, 1, db.ensured)
	assert.Equal(t, 1, db.closed)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, delays)

	assert.Equal(t, 3, logs.FilterMessage("Waiting for database to be ready...").Len())
	assert.Equal(t, 1, logs.FilterMessage("Table created/verified").Len())
}

func TestRunner_ExhaustsBudget(t *testing.T) {
	db := &fakeDB{}
	var delays []time.Duration
	var observed []int

	r := Runner{
		Dial:        db.dial,
		MaxAttempts: 5,
		Delay:       2 * time.Second,
		OnAttempt:   func(attempt int, err error) { observed = append(observed, attempt) },
		sleep:       recordSleep(&delays),
	}

	err := r.Up(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaUnavailable)
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, 5, db.attempts)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, observed)

	// 尝试之间固定间隔
	require.Len(t, delays, 4)
	for _, d := range delays {
		assert.Equal(t, 2*time.Second, d)
	}
}

func TestRunner_NonTransientIsFatal(t *testing.T) {
	permission := errors.New("permission denied for schema public")
	db := &fakeDB{readyAt: 1, execErr: permission}
	var delays []time.Duration

	r := Runner{
		Dial:        db.dial,
		MaxAttempts: 10,
		Delay:       time.Second,
		IsTransient: func(err error) bool { return errors.Is(err, errRefused) },
		sleep:       recordSleep(&delays),
	}

	err := r.Up(context.Background())
	require.ErrorIs(t, err, permission)
	assert.NotErrorIs(t, err, ErrSchemaUnavailable)
	assert.Equal(t, 1, db.attempts)
	assert.Equal(t, 1, db.closed, "失败时连接也要关闭")
	assert.Empty(t, delays)
}

func TestRunner_ContextCancelledWhileWaiting(t *testing.T) {
	db := &fakeDB{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := Runner{Dial: db.dial, MaxAttempts: 3, Delay: time.Hour}
	err := r.Up(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, db.attempts)
}

func TestRunner_InvalidConfig(t *testing.T) {
	assert.Error(t, Runner{MaxAttempts: 1}.Up(context.Background()))

	db := &fakeDB{}
	assert.Error(t, Runner{Dial: db.dial}.Up(context.Background()))
}
