package migrate

import (
	"database/sql"

	"region-sync/internal/logger"
)

// 背景：首次运行自动创建推送事件日志表与索引
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(db *sql.DB) error {
	for i, s := range statements() {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}

func statements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS _push_events (
            id BIGSERIAL PRIMARY KEY,
            kind TEXT NOT NULL,
            entity_id TEXT,
            payload JSONB NOT NULL,
            received_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_push_events_kind_time ON _push_events(kind, received_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_push_events_time ON _push_events(received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_push_events_entity ON _push_events(entity_id) WHERE entity_id IS NOT NULL`,
	}
}
