package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/pgha-monitor/internal/logging"
	pgstorage "github.com/taoyao-code/pgha-monitor/internal/storage/pg"
)

const closeTimeout = time.Second

// Options 探测参数
type Options struct {
	Interval         time.Duration // 两轮之间的固定休眠
	QueryTimeout     time.Duration // 单个步骤（连接之后）的最长耗时，0 不限制
	FailureThreshold int           // 连续失败告警阈值
	IdentitySetting  string        // 用作节点标签的服务器参数
	FallbackNode     string        // 参数查询失败时的标签
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Interval:         time.Second,
		QueryTimeout:     5 * time.Second,
		FailureThreshold: 10,
		IdentitySetting:  "cluster_name",
		FallbackNode:     "postgres-node",
	}
}

// UnknownNode 参数存在但为空时的标签
const UnknownNode = "unknown"

// Monitor 写/读探测循环
type Monitor struct {
	dial      DialFunc
	opts      Options
	logger    *zap.Logger
	observers []Observer

	isConnErr func(error) bool
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// NewMonitor 创建探测器
func NewMonitor(dial DialFunc, opts Options, logger *zap.Logger, observers ...Observer) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.IdentitySetting == "" {
		opts.IdentitySetting = def.IdentitySetting
	}
	if opts.FallbackNode == "" {
		opts.FallbackNode = def.FallbackNode
	}
	return &Monitor{
		dial:      dial,
		opts:      opts,
		logger:    logger,
		observers: observers,
		isConnErr: pgstorage.IsConnectionError,
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

// Options 返回生效的参数
func (m *Monitor) Options() Options {
	return m.opts
}

// Run 持续探测直到 ctx 取消（中断信号）。中断是唯一的正常退出路径，返回 nil。
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Starting continuous monitoring (Ctrl+C to stop)...",
		zap.Duration("interval", m.opts.Interval),
		zap.Int("failure_threshold", m.opts.FailureThreshold))

	st := InitialState()
	for ctx.Err() == nil {
		st = m.safeIterate(ctx, st)
		if err := m.sleep(ctx, m.opts.Interval); err != nil {
			break
		}
	}

	m.logger.Info("Monitoring stopped by user",
		zap.Int64("seq", st.Seq),
		zap.Int("consecutive_failures", st.Failures))
	return nil
}

// safeIterate 循环边界：探测步骤中的 panic 只影响本轮，状态保持不变
func (m *Monitor) safeIterate(ctx context.Context, st State) (next State) {
	defer func() {
		if r := recover(); r != nil {
			next = st
			m.logger.Error("Unexpected error", logging.ErrorSummary(fmt.Errorf("%v", r)))
		}
	}()
	next, _ = m.Iterate(ctx, st)
	return next
}

// Iterate 执行一轮：写探测、读探测、记账。被中断的轮次不计入失败。
func (m *Monitor) Iterate(ctx context.Context, st State) (State, Outcome) {
	w := m.Write(ctx, st.Seq)
	r := m.Read(ctx)

	if ctx.Err() != nil {
		return st, Outcome{State: st, Write: w, Read: r, At: m.now()}
	}

	next, out := m.account(st, w, r)
	for _, o := range m.observers {
		m.notify(ctx, o, out)
	}
	return next, out
}

// notify 单个观察者的 panic 不影响已记账的状态和其他观察者
func (m *Monitor) notify(ctx context.Context, o Observer, out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("observer panicked", logging.ErrorSummary(fmt.Errorf("%v", r)))
		}
	}()
	o.Observe(ctx, out)
}

// account 根据两个步骤的结果更新状态。任一步骤失败即整轮失败。
func (m *Monitor) account(st State, w, r StepResult) (State, Outcome) {
	out := Outcome{Write: w, Read: r, At: m.now()}

	if !w.OK || !r.OK {
		st.Failures++
		if st.Failures >= m.opts.FailureThreshold {
			out.Degraded = true
			m.logger.Warn("Too many consecutive failures. Check your setup.",
				zap.Int("consecutive_failures", st.Failures),
				zap.Int("threshold", m.opts.FailureThreshold))
		}
		out.State = st
		return st, out
	}

	if st.Failures > 0 {
		out.Restored = st.Failures
		m.logger.Info("Connection restored",
			zap.Int("after_failures", st.Failures))
	}
	st.Failures = 0
	st.Seq++
	out.State = st
	return st, out
}

// Write 写探测：新连接、读取节点标签、插入记录并提交
func (m *Monitor) Write(ctx context.Context, seq int64) StepResult {
	start := time.Now()
	res := StepResult{Step: StepWrite, Data: fmt.Sprintf("Test data #%d", seq)}

	err := m.withConn(ctx, func(ctx context.Context, conn Conn) error {
		res.NodeName = m.nodeName(ctx, conn)
		id, err := conn.InsertRecord(ctx, res.Data, res.NodeName)
		if err != nil {
			return err
		}
		res.RecordID = id
		return nil
	})
	res.Duration = time.Since(start)
	m.finish(ctx, &res, err)

	if res.OK {
		m.logger.Info("WRITE",
			zap.Int64("id", res.RecordID),
			zap.String("data", res.Data),
			zap.String("node", res.NodeName))
	}
	return res
}

// Read 读探测：新连接、统计总数、读取最新一条
func (m *Monitor) Read(ctx context.Context) StepResult {
	start := time.Now()
	res := StepResult{Step: StepRead}

	err := m.withConn(ctx, func(ctx context.Context, conn Conn) error {
		total, err := conn.Count(ctx)
		if err != nil {
			return err
		}
		latest, err := conn.Latest(ctx)
		if err != nil {
			return err
		}
		res.Total, res.Latest = total, latest
		return nil
	})
	res.Duration = time.Since(start)
	m.finish(ctx, &res, err)

	if !res.OK {
		return res
	}
	if res.Latest == nil {
		m.logger.Info("READ: No records found", zap.Int64("total", res.Total))
		return res
	}
	m.logger.Info("READ",
		zap.Int64("total", res.Total),
		zap.Int64("latest_id", res.Latest.ID),
		zap.String("latest_data", res.Latest.Data),
		zap.String("latest_node", res.Latest.NodeName),
		zap.Time("latest_created_at", res.Latest.CreatedAt))
	return res
}

// nodeName 查询失败回退到 FallbackNode，不影响写探测
func (m *Monitor) nodeName(ctx context.Context, conn Conn) string {
	name, err := conn.Setting(ctx, m.opts.IdentitySetting)
	if err != nil {
		m.logger.Debug("identity lookup failed, using fallback",
			zap.String("setting", m.opts.IdentitySetting),
			logging.ErrorSummary(err))
		return m.opts.FallbackNode
	}
	if name == "" {
		return UnknownNode
	}
	return name
}

// withConn 建立连接并保证关闭
func (m *Monitor) withConn(ctx context.Context, fn func(ctx context.Context, conn Conn) error) error {
	if m.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.QueryTimeout)
		defer cancel()
	}

	conn, err := m.dial(ctx)
	if err != nil {
		return &dialError{err: err}
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		_ = conn.Close(cctx)
	}()
	return fn(ctx, conn)
}

// finish 分类错误并输出 WRITE ERROR / READ ERROR
func (m *Monitor) finish(ctx context.Context, res *StepResult, err error) {
	if err == nil {
		res.OK = true
		return
	}

	res.Err = err
	var de *dialError
	if errors.As(err, &de) || m.isConnErr(err) {
		res.Kind = KindConnection
	} else {
		res.Kind = KindQuery
	}

	// 中断导致的失败不输出
	if ctx.Err() != nil {
		return
	}

	msg := logging.Summarize(err, logging.SummaryLen)
	if res.Kind == KindConnection {
		msg = "Connection failed - " + msg
	}
	tag := "WRITE ERROR"
	if res.Step == StepRead {
		tag = "READ ERROR"
	}
	m.logger.Error(tag, zap.String("error", msg), zap.String("kind", string(res.Kind)))
}

// dialError 标记建连阶段的失败
type dialError struct{ err error }

func (e *dialError) Error() string { return e.err.Error() }
func (e *dialError) Unwrap() error { return e.err }

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
