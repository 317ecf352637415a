package main

import (
	"context"
	"flag"
	"os"
	"time"

	"region-sync/internal/config"
	"region-sync/internal/logger"
	"region-sync/internal/store"
	"region-sync/internal/utils"
)

// 文档注释：推送事件日志的保留窗口
// 背景：常驻服务每天凌晨清理一次；该命令用于手动清理或在服务停用日志时由外部定时任务调用。
// 约束：只删除 _push_events 中早于保留窗口的行；-dsn 缺省时使用 PG_* 环境变量。
func main() {
	config.LoadDotEnv()
	l := logger.Setup()
	dsn := flag.String("dsn", "", "postgres DSN (default: built from PG_* env)")
	days := flag.Int("days", 0, "retention in days (default: JOURNAL_RETAIN_DAYS or 30)")
	dry := flag.Bool("dry-run", false, "only report counts")
	flag.Parse()

	cfg, err := config.Parse()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	keep := cfg.JournalRetainDays
	if *days > 0 {
		keep = *days
	}
	if keep <= 0 {
		l.Error("journal_retain_invalid", "days", keep)
		os.Exit(1)
	}

	var st *store.Store
	if *dsn != "" {
		st, err = store.Open(*dsn)
	} else {
		db, e := utils.OpenPostgresFromEnv()
		if e == nil && db == nil {
			l.Error("db_not_configured", "hint", "set PG_HOST or pass -dsn")
			os.Exit(1)
		}
		err = e
		if db != nil {
			st = store.AttachDB(db)
		}
	}
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	before := time.Now().AddDate(0, 0, -keep)
	if *dry {
		counts, err := st.CountEvents(ctx)
		if err != nil {
			l.Error("journal_count_error", "err", err)
			os.Exit(1)
		}
		l.Info("journal_prune_dry_run", "before", before, "counts", counts)
		return
	}
	n, err := st.PruneEvents(ctx, before)
	if err != nil {
		l.Error("journal_prune_error", "err", err)
		os.Exit(1)
	}
	l.Info("journal_prune_done", "before", before, "days", keep, "rows", n)
}
