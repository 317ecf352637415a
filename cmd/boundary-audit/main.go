package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"region-sync/internal/config"
	"region-sync/internal/geometry"
	"region-sync/internal/logger"
	"region-sync/internal/model"
	"region-sync/internal/upstream"
)

// 文档注释：边界数据审计
// 背景：上游区域服务的边界格式不统一，无法识别的边界在地图上不绘制且只在日志中留痕；该命令集中列出它们。
// 约束：逐层级拉取全部区域；任一层级拉取失败或存在告警时退出码为 1。
func main() {
	config.LoadDotEnv()
	l := logger.Setup()
	only := flag.String("type", "", "audit a single region type (DISTRICT, CITY, REGION, COUNTRY)")
	timeout := flag.Duration("timeout", 30*time.Second, "per-type fetch timeout")
	flag.Parse()

	cfg, err := config.Parse()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	types := []model.RegionType{model.Country, model.Province, model.City, model.District}
	if *only != "" {
		t, err := model.ParseRegionType(*only)
		if err != nil {
			l.Error("audit_type_invalid", "type", *only)
			os.Exit(2)
		}
		types = []model.RegionType{t}
	}

	rec := &geometry.Recorder{}
	c := upstream.New(cfg.UpstreamBaseURL, &http.Client{Timeout: *timeout}, geometry.NewNormalizer(rec))
	failed := false
	for _, t := range types {
		before := len(rec.Warnings())
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		regions, err := c.RegionsByType(ctx, t)
		cancel()
		if err != nil {
			l.Error("audit_fetch_error", "type", t, "err", err)
			failed = true
			continue
		}
		drawable := 0
		for _, r := range regions {
			if r.Drawable() {
				drawable++
			}
		}
		fmt.Printf("%-8s regions=%d drawable=%d warnings=%d\n", t, len(regions), drawable, len(rec.Warnings())-before)
	}
	for _, w := range rec.Warnings() {
		fmt.Printf("WARN region=%q reason=%s geometry=%s excerpt=%s\n", w.Region, w.Reason, w.GeometryType, w.Excerpt)
	}
	if failed || len(rec.Warnings()) > 0 {
		os.Exit(1)
	}
}
