package store

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"region-sync/internal/logger"
	"region-sync/internal/metrics"
	"region-sync/internal/realtime"
)

// 文档注释：推送事件日志的后台写入器
// 背景：推送回调运行在通道的投递协程上，不能等待数据库；事件先进入有界缓冲，由单个协程落库。
// 约束：缓冲满时丢弃并计数；写入失败只记录，不重试。
type Journal struct {
	insert func(ctx context.Context, e Event) error
	ch     chan Event
	now    func() time.Time

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewJournal: buffer<=0 时取 256
func NewJournal(s *Store, buffer int) *Journal {
	return newJournal(s.InsertEvent, buffer)
}

func newJournal(insert func(context.Context, Event) error, buffer int) *Journal {
	if buffer <= 0 {
		buffer = 256
	}
	return &Journal{insert: insert, ch: make(chan Event, buffer), now: time.Now, done: make(chan struct{})}
}

// Run: 消费缓冲直到 Close 或 ctx 结束；Close 时先写完缓冲中的事件
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-j.ch:
			if !ok {
				return
			}
			j.write(ctx, e)
		}
	}
}

func (j *Journal) write(ctx context.Context, e Event) {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := j.insert(wctx, e); err != nil {
		metrics.JournalFailTotal.Inc()
		logger.L().Error("journal_write_error", "kind", e.Kind, "err", err)
		return
	}
	metrics.JournalWritesTotal.Inc()
}

// Record: 非阻塞入队；返回是否已接收
func (j *Journal) Record(kind realtime.Kind, body []byte) bool {
	payload := bytes.TrimSpace(body)
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(body))
	}
	e := Event{
		Kind:       string(kind),
		EntityID:   entityID(payload),
		Payload:    append(json.RawMessage(nil), payload...),
		ReceivedAt: j.now(),
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return false
	}
	select {
	case j.ch <- e:
		return true
	default:
		metrics.JournalDroppedTotal.Inc()
		logger.L().Warn("journal_drop", "kind", kind)
		return false
	}
}

// Bind: 订阅全部入站种类
func (j *Journal) Bind(ch *realtime.Channel) (unbind func()) {
	var offs []func()
	for _, k := range realtime.InboundKinds() {
		offs = append(offs, ch.Register(k, func(ev realtime.Event) { j.Record(ev.Kind, ev.Body) }))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// Close: 停止接收并等待 Run 写完缓冲；Run 未启动时立即返回
func (j *Journal) Close(wait time.Duration) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()
	if wait <= 0 {
		return
	}
	select {
	case <-j.done:
	case <-time.After(wait):
	}
}

// entityID: 负载中的区域或用户标识；数组负载（附近用户列表）没有单一实体
func entityID(payload []byte) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return ""
	}
	for _, k := range []string{"id", "regionId", "userId"} {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
		var n json.Number
		if json.Unmarshal(raw, &n) == nil {
			return n.String()
		}
	}
	return ""
}
