// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"region-sync/internal/activity"
	"region-sync/internal/api"
	"region-sync/internal/config"
	"region-sync/internal/geometry"
	"region-sync/internal/livefeed"
	"region-sync/internal/locate"
	"region-sync/internal/logger"
	"region-sync/internal/metrics"
	"region-sync/internal/middleware"
	"region-sync/internal/migrate"
	"region-sync/internal/navigator"
	"region-sync/internal/poller"
	"region-sync/internal/presence"
	"region-sync/internal/realtime"
	"region-sync/internal/store"
	"region-sync/internal/tracing"
	"region-sync/internal/upstream"
	"region-sync/internal/utils"
)

func main() {
	cfg, err := config.Load()
	// 日志初始化
	l := logger.Setup()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	l.Debug("config_ok", "api_base", cfg.APIBase, "upstream", cfg.UpstreamBaseURL, "realtime", cfg.RealtimeURL, "offline", cfg.RealtimeOffline)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTrace, err := tracing.Setup(ctx, "region-sync", cfg.OTelEndpoint, cfg.OTelEnable)
	if err != nil {
		l.Error("tracing_setup_error", "err", err)
	}

	// 边界告警同时写日志与供状态接口检视
	warnings := &geometry.Recorder{Limit: 200}
	norm := geometry.NewNormalizer(geometry.Tee(geometry.LogSink{}, warnings))
	hc := &http.Client{Timeout: cfg.FetchTimeout}
	up := upstream.New(cfg.UpstreamBaseURL, hc, norm)
	activitySvc := upstream.New(cfg.ActivityBaseURL, hc, norm)
	interactionSvc := upstream.New(cfg.InteractionBaseURL, hc, norm)

	var tr realtime.Transport
	if cfg.RealtimeOffline {
		tr = realtime.NewMemTransport()
		l.Info("realtime_offline")
	} else {
		tr = &realtime.StompTransport{
			URL:       cfg.RealtimeURL,
			Origin:    cfg.RealtimeOrigin,
			Login:     cfg.RealtimeLogin,
			Passcode:  cfg.RealtimePasscode,
			HeartBeat: cfg.HeartBeat,
		}
	}
	ch := realtime.New(tr, realtime.WithRetryDelay(cfg.ReconnectDelay))

	deps := api.Deps{
		Channel:      ch,
		Warnings:     warnings,
		Strikes:      up,
		Users:        up,
		Supply:       up,
		Interactions: interactionSvc,
		Threshold:    cfg.RatingThreshold,
	}

	// 推送事件日志：PG_HOST 未配置时关闭
	var journal *store.Journal
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
	} else if db == nil {
		l.Info("db_disabled")
	} else {
		defer db.Close()
		l.Info("db_open_ok")
		if err := migrate.EnsureSchema(db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		st := store.AttachDB(db)
		deps.Events = st
		if cfg.JournalEnable {
			journal = store.NewJournal(st, cfg.JournalBuffer)
			go journal.Run(context.Background())
			journal.Bind(ch)
			retain := time.Duration(cfg.JournalRetainDays) * 24 * time.Hour
			poller.StartDaily(ctx, time.Local, 3, poller.Job{Name: "journal_prune", Run: func(ctx context.Context) error {
				n, err := st.PruneEvents(ctx, time.Now().Add(-retain))
				if err == nil {
					l.Info("journal_pruned", "rows", n)
				}
				return err
			}})
			l.Info("journal_enabled", "buffer", cfg.JournalBuffer, "retain_days", cfg.JournalRetainDays)
		}
	}

	navOpts := []navigator.Option{
		navigator.WithTimeout(cfg.FetchTimeout),
		navigator.WithRatingThreshold(cfg.RatingThreshold),
	}
	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
		navOpts = append(navOpts, navigator.WithSnapshotter(store.NewSnapshotCache(rc, cfg.SnapshotTTL)))
		deps.Dedupe = api.NewRedisBloom(rc, 5*time.Second)
	}

	nav := navigator.New(up, cfg.RegionType(), navOpts...)
	nav.Bind(ch, norm)
	deps.Nav = nav

	recon := activity.New(activitySvc, activity.WithTimeout(cfg.FetchTimeout))
	deps.Activity = recon

	jobs := []poller.Job{{Name: "regions_refresh", Run: nav.Refresh}}
	if cfg.SubjectID != "" {
		tracker := presence.New(up, cfg.SubjectID, cfg.NearbyRadiusKm)
		tracker.Bind(ch)
		deps.Presence = tracker
		jobs = append(jobs, poller.Job{Name: "nearby_poll", Run: tracker.Poll})
		go func() {
			if err := tracker.Load(ctx); err != nil {
				l.Warn("presence_load_error", "subject", cfg.SubjectID, "err", err)
			}
		}()
	}

	if loc, err := locate.Open(locate.Paths{GeoIPCity: cfg.GeoIPCityPath, GeoIPASN: cfg.GeoIPASNPath, IP2RegionV4: cfg.IP2RegionV4Path}); err != nil {
		l.Error("locate_open_error", "err", err)
	} else {
		defer loc.Close()
		deps.Locator = loc
	}

	hub := livefeed.New(cfg.LiveBuffer, livefeed.InitialView(nav))
	hub.BindNavigator(nav)
	hub.BindStrikes(ch)
	hub.BindActivity(recon)
	deps.Live = hub

	// 首次拉取前先用快照填充，拉取失败时界面仍有内容
	nav.Seed(ctx)
	go func() {
		if err := nav.SelectTopLevel(ctx, cfg.RegionType()); err != nil {
			l.Warn("initial_select_error", "err", err)
		}
	}()
	if cfg.SubjectID != "" {
		ch.Connect(cfg.SubjectID)
	} else {
		l.Warn("realtime_no_subject", "hint", "set SUBJECT_ID to receive push updates")
	}

	p := poller.New(cfg.PollInterval, cfg.FetchTimeout, jobs...)
	p.Start(ctx)

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(deps)
	mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, apiMux))
	mux.Handle(cfg.APIBase+"/metrics", metrics.Handler())

	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler, cfg.RateLimitEnabled, cfg.RateLimitQPS, cfg.RateLimitBurst,
		cfg.APIBase+"/metrics", cfg.APIBase+"/live")
	s := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		var err error
		if cfg.TLSEnable {
			if err := utils.EnsureSelfSignedCert(cfg.TLSCertPath, cfg.TLSKeyPath, "region-sync.local", "localhost"); err != nil {
				l.Error("tls_cert_error", "err", err)
			}
			l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLSCertPath)
			err = s.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			l.Info("listening", "addr", cfg.Addr)
			err = s.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("listen_error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	l.Info("shutdown_begin")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.Shutdown(sctx)
	hub.Close()
	ch.Dispose()
	p.Wait()
	nav.Wait()
	if journal != nil {
		journal.Close(5 * time.Second)
	}
	if err := shutdownTrace(sctx); err != nil {
		l.Warn("tracing_shutdown_error", "err", err)
	}
	l.Info("shutdown_done")
}
