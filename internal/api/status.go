package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"region-sync/internal/geometry"
	"region-sync/internal/locate"
	"region-sync/internal/logger"
	"region-sync/internal/model"
	"region-sync/internal/presence"
	"region-sync/internal/store"
)

func (s *server) recentEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		writeErr(w, r, errNotConfigured, "")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	events, err := s.Events.RecentEvents(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		writeErr(w, r, err, "")
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// locate：按访问者 IP 给出地图初始中心与行政区名称
func (s *server) locate(w http.ResponseWriter, r *http.Request) {
	if !s.Locator.Enabled() {
		writeErr(w, r, errNotConfigured, "")
		return
	}
	loc, err := s.Locator.Lookup(locate.ClientIP(r))
	if err != nil {
		writeErr(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *server) nearby(w http.ResponseWriter, r *http.Request) {
	if s.Presence == nil {
		writeErr(w, r, errNotConfigured, "")
		return
	}
	snap := s.Presence.Snapshot()
	if snap.Nearby == nil {
		snap.Nearby = []model.User{}
	}
	writeJSON(w, http.StatusOK, snap)
}

// statusBody：运行状态概览
type statusBody struct {
	Realtime   string             `json:"realtime"`
	Subject    string             `json:"subject,omitempty"`
	RegionType model.RegionType   `json:"regionType"`
	Target     string             `json:"targetRegionId,omitempty"`
	Loading    bool               `json:"loading"`
	Error      string             `json:"error,omitempty"`
	Regions    int                `json:"regions"`
	Threshold  float64            `json:"ratingThreshold"`
	Warnings   []geometry.Warning `json:"boundaryWarnings"`
	Presence   *presence.Snapshot `json:"presence,omitempty"`
	Locate     bool               `json:"locate"`
	Journal    bool               `json:"journal"`
	Counts     map[string]int64   `json:"journalCounts,omitempty"`
	Uptime     string             `json:"uptime"`
}

// eventCounter：日志存储可选提供按种类的计数
type eventCounter interface {
	CountEvents(ctx context.Context) (map[string]int64, error)
}

// 告警列表只返回最近的若干条
const statusWarnings = 20

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	v := s.Nav.View()
	body := statusBody{
		RegionType: v.RegionType,
		Target:     v.TargetRegionID,
		Loading:    v.Loading,
		Error:      v.Error,
		Regions:    len(v.Regions),
		Threshold:  s.Threshold,
		Warnings:   []geometry.Warning{},
		Locate:     s.Locator.Enabled(),
		Journal:    s.Events != nil,
		Uptime:     time.Since(s.started).Truncate(time.Second).String(),
	}
	if s.Channel != nil {
		body.Realtime = s.Channel.State().String()
		body.Subject = s.Channel.Subject()
	}
	if s.Warnings != nil {
		ws := s.Warnings.Warnings()
		if len(ws) > statusWarnings {
			ws = ws[len(ws)-statusWarnings:]
		}
		body.Warnings = ws
	}
	if c, ok := s.Events.(eventCounter); ok {
		if counts, err := c.CountEvents(r.Context()); err == nil {
			body.Counts = counts
		} else {
			logger.L().Warn("status_journal_count_error", "err", err)
		}
	}
	if s.Presence != nil {
		snap := s.Presence.Snapshot()
		body.Presence = &snap
	}
	writeJSON(w, http.StatusOK, body)
}
