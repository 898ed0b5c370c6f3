package probe

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

	pgstorage "github.com/taoyao-code/pgha-monitor/internal/storage/pg"
)

var errRefused = errors.New("dial tcp 10.0.0.5:6432: connect: connection refused")

// fakeStore 内存版 test_data
type fakeStore struct {
	records []pgstorage.Record
	nextID  int64

	down       bool  // 建连失败
	setting    string
	settingErr error // 节点参数查询失败
	insertErr  error
	countErr   error

	panicMsg string // 插入时 panic

	dials  int
	closes int
}

type fakeConn struct{ s *fakeStore }

func (c *fakeConn) Setting(ctx context.Context, name string) (string, error) {
	if c.s.settingErr != nil {
		return "", c.s.settingErr
	}
	return c.s.setting, nil
}

func (c *fakeConn) InsertRecord(ctx context.Context, data, nodeName string) (int64, error) {
	if c.s.panicMsg != "" {
		panic(c.s.panicMsg)
	}
	if c.s.insertErr != nil {
		return 0, c.s.insertErr
	}
	c.s.nextID++
	c.s.records = append(c.s.records, pgstorage.Record{
		ID: c.s.nextID, Data: data, NodeName: nodeName, CreatedAt: time.Now(),
	})
	return c.s.nextID, nil
}

func (c *fakeConn) Count(ctx context.Context) (int64, error) {
	if c.s.countErr != nil {
		return 0, c.s.countErr
	}
	return int64(len(c.s.records)), nil
}

func (c *fakeConn) Latest(ctx context.Context) (*pgstorage.Record, error) {
	if len(c.s.records) == 0 {
		return nil, nil
	}
	rec := c.s.records[len(c.s.records)-1]
	return &rec, nil
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.s.closes++
	return nil
}

func (s *fakeStore) dial(ctx context.Context) (Conn, error) {
	s.dials++
	if s.down {
		return nil, errRefused
	}
	return &fakeConn{s: s}, nil
}

func newTestMonitor(t *testing.T, s *fakeStore, observers ...Observer) (*Monitor, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	opts := DefaultOptions()
	opts.Interval = time.Millisecond
	m := NewMonitor(s.dial, opts, zap.New(core), observers...)
	return m, logs
}

func TestMonitor_EmptyTableThenWrite(t *testing.T) {
	s := &fakeStore{setting: "pg-ha"}
	m, logs := newTestMonitor(t, s)
	ctx := context.Background()

	r := m.Read(ctx)
	require.True(t, r.OK)
	assert.Equal(t, int64(0), r.Total)
	assert.Nil(t, r.Latest)
	assert.Equal(t, 1, logs.FilterMessage("READ: No records found").Len())

	w := m.Write(ctx, 1)
	require.True(t, w.OK)
	assert.Equal(t, "Test data #1", w.Data)
	assert.Equal(t, "pg-ha", w.NodeName)

	r = m.Read(ctx)
	require.True(t, r.OK)
	assert.Equal(t, int64(1), r.Total)
	require.NotNil(t, r.Latest)
	assert.Equal(t, "Test data #1", r.Latest.Data)

	reads := logs.FilterMessage("READ").All()
	require.Len(t, reads, 1)
	fields := reads[0].ContextMap()
	assert.Equal(t, int64(1), fields["total"])
	assert.Equal(t, "Test data #1", fields["latest_data"])

	// 每个步骤独立建连并关闭
	assert.Equal(t, 3, s.dials)
	assert.Equal(t, 3, s.closes)
}

func TestMonitor_WriteIDsIncrease(t *testing.T) {
	s := &fakeStore{setting: "pg-ha"}
	m, _ := newTestMonitor(t, s)
	ctx := context.Background()

	st := InitialState()
	var last int64
	for i := 0; i < 5; i++ {
		var out Outcome
		st, out = m.Iterate(ctx, st)
		require.True(t, out.OK())
		assert.Greater(t, out.Write.RecordID, last)
		last = out.Write.RecordID
	}
	assert.Equal(t, int64(6), st.Seq)
	assert.Equal(t, "Test data #5", s.records[4].Data)
}

func TestMonitor_IdentityFallback(t *testing.T) {
	s := &fakeStore{settingErr: errors.New(`unrecognized configuration parameter "cluster_name"`)}
	m, logs := newTestMonitor(t, s)

	w := m.Write(context.Background(), 3)
	require.True(t, w.OK, "节点参数查询失败不影响写探测")
	assert.Equal(t, "postgres-node", w.NodeName)
	assert.Equal(t, "postgres-node", s.records[0].NodeName)
	assert.Equal(t, 1, logs.FilterMessage("WRITE").Len())
	assert.Equal(t, 0, logs.FilterMessage("WRITE ERROR").Len())
}

func TestMonitor_EmptyIdentityIsUnknown(t *testing.T) {
	s := &fakeStore{setting: ""}
	m, _ := newTestMonitor(t, s)

	w := m.Write(context.Background(), 1)
	require.True(t, w.OK)
	assert.Equal(t, UnknownNode, w.NodeName)
}

func TestMonitor_ConnectionFailureReported(t *testing.T) {
	s := &fakeStore{down: true}
	m, logs := newTestMonitor(t, s)

	w := m.Write(context.Background(), 1)
	assert.False(t, w.OK)
	assert.Equal(t, KindConnection, w.Kind)
	assert.ErrorIs(t, w.Err, errRefused)

	entries := logs.FilterMessage("WRITE ERROR").All()
	require.Len(t, entries, 1)
	msg := entries[0].ContextMap()["error"].(string)
	assert.Contains(t, msg, "Connection failed - ")
	assert.LessOrEqual(t, len(msg), len("Connection failed - ")+50+3)
	assert.Equal(t, 0, s.closes, "建连失败无需关闭")
}

func TestMonitor_QueryFailureReported(t *testing.T) {
	s := &fakeStore{countErr: errors.New(`relation "test_data" does not exist`)}
	m, logs := newTestMonitor(t, s)

	r := m.Read(context.Background())
	assert.False(t, r.OK)
	assert.Equal(t, KindQuery, r.Kind)
	entries := logs.FilterMessage("READ ERROR").All()
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].ContextMap()["error"], "Connection failed")
	assert.Equal(t, 1, s.closes, "失败时连接也要关闭")
}

func TestMonitor_DegradedThenRestored(t *testing.T) {
	s := &fakeStore{down: true, setting: "pg-ha"}
	var outcomes []Outcome
	m, logs := newTestMonitor(t, s, ObserverFunc(func(ctx context.Context, o Outcome) {
		outcomes = append(outcomes, o)
	}))
	ctx := context.Background()

	st := InitialState()
	for i := 0; i < 10; i++ {
		st, _ = m.Iterate(ctx, st)
	}
	assert.Equal(t, 10, st.Failures)
	assert.Equal(t, int64(1), st.Seq, "失败轮次不推进序号")

	warnings := logs.FilterMessage("Too many consecutive failures. Check your setup.")
	require.Equal(t, 1, warnings.Len(), "第 10 轮达到阈值")
	assert.Equal(t, zapcore.WarnLevel, warnings.All()[0].Level)
	assert.True(t, outcomes[9].Degraded)
	assert.False(t, outcomes[8].Degraded)

	s.down = false
	st, out := m.Iterate(ctx, st)
	assert.True(t, out.OK())
	assert.Equal(t, 10, out.Restored)
	assert.Equal(t, 0, st.Failures)
	assert.Equal(t, int64(2), st.Seq)
	assert.Equal(t, "Test data #1", s.records[0].Data)

	restored := logs.FilterMessage("Connection restored").All()
	require.Len(t, restored, 1)
	assert.Equal(t, int64(10), restored[0].ContextMap()["after_failures"])

	// 再次成功不会重复恢复提示
	_, out = m.Iterate(ctx, st)
	assert.Equal(t, 0, out.Restored)
	assert.Equal(t, 1, logs.FilterMessage("Connection restored").Len())
	assert.Len(t, outcomes, 12)
}

func TestMonitor_WarningRepeatsWhileFailing(t *testing.T) {
	s := &fakeStore{down: true}
	m, logs := newTestMonitor(t, s)

	st := InitialState()
	for i := 0; i < 13; i++ {
		st, _ = m.Iterate(context.Background(), st)
	}
	assert.Equal(t, 4, logs.FilterMessage("Too many consecutive failures. Check your setup.").Len())
}

func TestMonitor_PartialFailureCountsAsFailure(t *testing.T) {
	s := &fakeStore{setting: "pg-ha", countErr: errors.New("canceling statement due to statement timeout")}
	m, _ := newTestMonitor(t, s)

	st, out := m.Iterate(context.Background(), State{Seq: 4, Failures: 2})
	assert.True(t, out.Write.OK)
	assert.False(t, out.Read.OK)
	assert.False(t, out.OK())
	assert.Equal(t, State{Seq: 4, Failures: 3}, st)
}

func TestMonitor_PanicIsContained(t *testing.T) {
	s := &fakeStore{setting: "pg-ha", panicMsg: "driver exploded"}
	m, logs := newTestMonitor(t, s)

	before := State{Seq: 7, Failures: 1}
	after := m.safeIterate(context.Background(), before)
	assert.Equal(t, before, after)

	entries := logs.FilterMessage("Unexpected error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "driver exploded", entries[0].ContextMap()["error"])
	assert.Equal(t, 1, s.closes, "panic 时连接仍然关闭")
}

func TestMonitor_ObserverPanicKeepsAccounting(t *testing.T) {
	s := &fakeStore{setting: "pg-ha"}
	var seen []Outcome
	m, logs := newTestMonitor(t, s,
		ObserverFunc(func(ctx context.Context, o Outcome) { panic("observer exploded") }),
		ObserverFunc(func(ctx context.Context, o Outcome) { seen = append(seen, o) }),
	)
	ctx := context.Background()

	st := m.safeIterate(ctx, State{Seq: 7, Failures: 3})
	assert.Equal(t, State{Seq: 8, Failures: 0}, st, "已写入的记录和恢复状态不回滚")
	require.Len(t, seen, 1, "后续观察者照常收到结果")
	assert.Equal(t, 3, seen[0].Restored)

	st = m.safeIterate(ctx, st)
	assert.Equal(t, State{Seq: 9, Failures: 0}, st)
	assert.Equal(t, 1, logs.FilterMessage("Connection restored").Len())
	assert.Equal(t, 0, logs.FilterMessage("Unexpected error").Len())
	assert.Equal(t, 2, logs.FilterMessage("observer panicked").Len())
	require.Len(t, s.records, 2)
	assert.Equal(t, "Test data #7", s.records[0].Data)
	assert.Equal(t, "Test data #8", s.records[1].Data)
}

func TestMonitor_InterruptedIterationNotCounted(t *testing.T) {
	s := &fakeStore{down: true}
	m, logs := newTestMonitor(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st, _ := m.Iterate(ctx, State{Seq: 1, Failures: 9})
	assert.Equal(t, State{Seq: 1, Failures: 9}, st)
	assert.Equal(t, 0, logs.FilterMessage("WRITE ERROR").Len())
	assert.Equal(t, 0, logs.FilterMessage("Too many consecutive failures. Check your setup.").Len())
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	s := &fakeStore{setting: "pg-ha"}
	m, logs := newTestMonitor(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	var sleeps []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		if len(sleeps) == 3 {
			cancel()
		}
		return ctx.Err()
	}

	require.NoError(t, m.Run(ctx))
	assert.Len(t, s.records, 3)
	assert.Equal(t, []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}, sleeps)

	stopped := logs.FilterMessage("Monitoring stopped by user").All()
	require.Len(t, stopped, 1)
	assert.Equal(t, int64(4), stopped[0].ContextMap()["seq"])
}

func TestNewMonitorDefaults(t *testing.T) {
	m := NewMonitor(nil, Options{}, nil)
	assert.Equal(t, DefaultOptions().Interval, m.Options().Interval)
	assert.Equal(t, 10, m.Options().FailureThreshold)
	assert.Equal(t, "cluster_name", m.Options().IdentitySetting)
	assert.Equal(t, "postgres-node", m.Options().FallbackNode)
}
