package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taoyao-code/pgha-monitor/internal/logging"
	"github.com/taoyao-code/pgha-monitor/internal/probe"
)

// historyLen 历史列表保留的条数
const historyLen = 100

// DefaultPublishTimeout 单次发布的默认上限，小于默认探测间隔
const DefaultPublishTimeout = 500 * time.Millisecond

// Status 发布到 Redis 的探测快照
type Status struct {
	Instance            string    `json:"instance"`
	At                  time.Time `json:"at"`
	Seq                 int64     `json:"seq"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Degraded            bool      `json:"degraded"`
	Restored            int       `json:"restored,omitempty"`
	WriteOK             bool      `json:"write_ok"`
	WriteError          string    `json:"write_error,omitempty"`
	ReadOK              bool      `json:"read_ok"`
	ReadError           string    `json:"read_error,omitempty"`
	RecordID            int64     `json:"record_id,omitempty"`
	Node                string    `json:"node,omitempty"`
	TotalRecords        int64     `json:"total_records,omitempty"`
	LatestID            int64     `json:"latest_id,omitempty"`
}

// NewStatus 由一轮结果生成快照
func NewStatus(instance string, o probe.Outcome) Status {
	s := Status{
		Instance:            instance,
		At:                  o.At,
		Seq:                 o.State.Seq,
		ConsecutiveFailures: o.State.Failures,
		Degraded:            o.Degraded,
		Restored:            o.Restored,
		WriteOK:             o.Write.OK,
		WriteError:          logging.Summarize(o.Write.Err, logging.SummaryLen),
		ReadOK:              o.Read.OK,
		ReadError:           logging.Summarize(o.Read.Err, logging.SummaryLen),
	}
	if o.Write.OK {
		s.RecordID = o.Write.RecordID
		s.Node = o.Write.NodeName
	}
	if o.Read.OK {
		s.TotalRecords = o.Read.Total
		if o.Read.Latest != nil {
			s.LatestID = o.Read.Latest.ID
		}
	}
	return s
}

// StatusPublisher 每轮把快照写入 <key>（带 TTL）并追加到 <key>:history
type StatusPublisher struct {
	client   *Client
	key      string
	ttl      time.Duration
	timeout  time.Duration
	instance string
	logger   *zap.Logger
}

// NewStatusPublisher 创建发布器；timeout 限制 Observe 中单次发布的耗时，
// 避免 Redis 无响应时拖慢探测循环。<=0 使用 DefaultPublishTimeout
func NewStatusPublisher(client *Client, key string, ttl, timeout time.Duration, instance string, logger *zap.Logger) *StatusPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &StatusPublisher{client: client, key: key, ttl: ttl, timeout: timeout, instance: instance, logger: logger}
}

// Client 底层客户端
func (p *StatusPublisher) Client() *Client { return p.client }

// Key 状态键
func (p *StatusPublisher) Key() string { return p.key }

// HistoryKey 历史列表键
func (p *StatusPublisher) HistoryKey() string { return p.key + ":history" }

// Observe 实现 probe.Observer；发布失败只记录日志
func (p *StatusPublisher) Observe(ctx context.Context, o probe.Outcome) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.Publish(ctx, NewStatus(p.instance, o)); err != nil {
		p.logger.Warn("publish status to redis failed",
			zap.Duration("timeout", p.timeout),
			logging.ErrorSummary(err))
	}
}

// Publish 写入快照
func (p *StatusPublisher) Publish(ctx context.Context, s Status) error {
	data, err := sonic.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.key, data, p.ttl)
		pipe.LPush(ctx, p.HistoryKey(), data)
		pipe.LTrim(ctx, p.HistoryKey(), 0, historyLen-1)
		return nil
	})
	return err
}

// Latest 读取当前快照；键不存在返回 nil, nil
func (p *StatusPublisher) Latest(ctx context.Context) (*Status, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Status
	if err := sonic.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	return &s, nil
}

// TTL 状态键剩余有效期；键不存在时为负值
func (p *StatusPublisher) TTL(ctx context.Context) (time.Duration, error) {
	return p.client.TTL(ctx, p.key).Result()
}
