package probe

import (
	"context"
	"time"

	pgstorage "github.com/taoyao-code/pgha-monitor/internal/storage/pg"
)

// Conn 单次探测使用的数据库连接
type Conn interface {
	Setting(ctx context.Context, name string) (string, error)
	InsertRecord(ctx context.Context, data, nodeName string) (int64, error)
	Count(ctx context.Context) (int64, error)
	Latest(ctx context.Context) (*pgstorage.Record, error)
	Close(ctx context.Context) error
}

// DialFunc 为每个步骤建立新连接（带短超时）
type DialFunc func(ctx context.Context) (Conn, error)

// Step 探测步骤
type Step string

const (
	StepWrite Step = "write"
	StepRead  Step = "read"
)

// Kind 失败类别
type Kind string

const (
	KindNone       Kind = ""
	KindConnection Kind = "connection" // 拒绝连接/超时，等待下一轮重试
	KindQuery      Kind = "query"      // 连接正常但语句失败
)

// StepResult 单个步骤的结果
type StepResult struct {
	Step     Step
	OK       bool
	Kind     Kind
	Err      error
	Duration time.Duration

	// 写步骤
	RecordID int64
	Data     string
	NodeName string

	// 读步骤
	Total  int64
	Latest *pgstorage.Record
}

// State 循环持有的状态，逐轮传入传出
type State struct {
	Seq      int64 // 仅用于 payload 文本
	Failures int   // 连续失败轮数
}

// InitialState 首轮状态
func InitialState() State {
	return State{Seq: 1}
}

// Outcome 一轮探测的完整结果
type Outcome struct {
	State    State // 记账之后的状态
	Write    StepResult
	Read     StepResult
	Restored int  // 本轮恢复前的连续失败数，未恢复为 0
	Degraded bool // 连续失败达到阈值
	At       time.Time
}

// OK 两个步骤均成功
func (o Outcome) OK() bool {
	return o.Write.OK && o.Read.OK
}

// Observer 接收每轮结果（指标、健康状态、Redis 发布）
type Observer interface {
	Observe(ctx context.Context, o Outcome)
}

// ObserverFunc 函数适配
type ObserverFunc func(ctx context.Context, o Outcome)

func (f ObserverFunc) Observe(ctx context.Context, o Outcome) { f(ctx, o) }
