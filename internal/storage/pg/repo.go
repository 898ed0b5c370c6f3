package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateTableSQL 探测表结构（幂等）
const CreateTableSQL = `CREATE TABLE IF NOT EXISTS test_data (
    id SERIAL PRIMARY KEY,
    data TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    node_name TEXT
)`

// Record 探测记录
type Record struct {
	ID        int64     `json:"id"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	NodeName  string    `json:"node_name"`
}

// Session 单次操作使用的连接，用完即关
type Session struct {
	conn *pgx.Conn
}

// Close 关闭连接
func (s *Session) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// EnsureTable 在事务中执行建表语句并提交
func (s *Session) EnsureTable(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, CreateTableSQL)
		return err
	})
}

// Setting 读取服务器参数（如 cluster_name）；参数不存在时返回错误，NULL 返回空串
func (s *Session) Setting(ctx context.Context, name string) (string, error) {
	var v *string
	if err := s.conn.QueryRow(ctx, `SELECT current_setting($1)`, name).Scan(&v); err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

// InsertRecord 写入一条探测记录，返回数据库分配的 id
func (s *Session) InsertRecord(ctx context.Context, data, nodeName string) (int64, error) {
	const q = `INSERT INTO test_data (data, node_name) VALUES ($1, $2) RETURNING id`
	var id int64
	err := pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q, data, nodeName).Scan(&id)
	})
	return id, err
}

// Count 记录总数
func (s *Session) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn.QueryRow(ctx, `SELECT COUNT(*) FROM test_data`).Scan(&n)
	return n, err
}

// Latest 最新一条记录；表为空时返回 nil, nil
func (s *Session) Latest(ctx context.Context) (*Record, error) {
	const q = `SELECT id, COALESCE(data, ''), created_at, COALESCE(node_name, '')
               FROM test_data
               ORDER BY id DESC
               LIMIT 1`
	var (
		rec       Record
		createdAt *time.Time
	)
	err := s.conn.QueryRow(ctx, q).Scan(&rec.ID, &rec.Data, &createdAt, &rec.NodeName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if createdAt != nil {
		rec.CreatedAt = *createdAt
	}
	return &rec, nil
}
