// 包 store: 提供与 PostgreSQL 的数据访问层（推送事件日志）以及 Redis 快照缓存
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"region-sync/internal/logger"
)

// Store: 数据库访问入口，持有连接池
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Open: 使用 DSN 打开数据库连接并配置连接池参数
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	return &Store{db: db}, nil
}

// Close: 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Event: 一条已落库的推送事件
type Event struct {
	ID         int64           `json:"id"`
	Kind       string          `json:"kind"`
	EntityID   string          `json:"entityId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// InsertEvent: 写入一条事件；负载须为合法 JSON
func (s *Store) InsertEvent(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO _push_events(kind, entity_id, payload, received_at)
        VALUES($1, NULLIF($2, ''), $3, $4)`, e.Kind, e.EntityID, []byte(e.Payload), e.ReceivedAt)
	return err
}

// 文档注释：按时间倒序读取最近的事件
// 参数：kind 为空时不过滤；limit 不在 (0,500] 时取 50。
func (s *Store) RecentEvents(ctx context.Context, kind string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, kind, COALESCE(entity_id, ''), payload, received_at
        FROM _push_events
        WHERE ($1 = '' OR kind = $1)
        ORDER BY received_at DESC, id DESC
        LIMIT $2`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		var e Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.EntityID, &payload, &e.ReceivedAt); err != nil {
			return nil, err
		}
		e.Payload = payload
		out = append(out, e)
	}
	logger.L().Debug("journal_recent", "kind", kind, "count", len(out))
	return out, rows.Err()
}

// PruneEvents: 删除 before 之前收到的事件，返回删除行数
func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM _push_events WHERE received_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountEvents: 按种类统计事件数，用于状态接口
func (s *Store) CountEvents(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(1) FROM _push_events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}
