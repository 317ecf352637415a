// 包 realtime：订阅后端推送主题并分发给按类型注册的订阅者，断线按固定间隔自动重连
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"region-sync/internal/logger"
	"region-sync/internal/metrics"
)

// State：通道状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// DefaultRetryDelay：断线后的固定重连间隔
const DefaultRetryDelay = 5 * time.Second

type handlerEntry struct {
	id uint64
	fn Handler
}

// Channel：实时通道
// 生命周期：New → Connect → Disconnect → Dispose；由调用方显式构造并注入到各消费者。
// 约束：同一时刻至多一个会话；切换主体或断开后，旧会话的投递按代号丢弃，不会串到新会话。
type Channel struct {
	transport  Transport
	retryDelay time.Duration
	log        *slog.Logger

	// opMu 串行化 Connect/Disconnect/Dispose
	opMu sync.Mutex

	mu        sync.Mutex
	handlers  map[Kind][]handlerEntry
	nextID    uint64
	subject   string
	session   Session
	sessionID string
	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
	disposed  bool

	state atomic.Int32
}

type Option func(*Channel)

func WithRetryDelay(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.log = l
		}
	}
}

func New(t Transport, opts ...Option) *Channel {
	c := &Channel{
		transport:  t,
		retryDelay: DefaultRetryDelay,
		log:        logger.L(),
		handlers:   make(map[Kind][]handlerEntry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect：为主体建立会话，已有会话先完整拆除
// 约束：立即返回，不向调用方抛错；拨号失败只记录日志并在固定间隔后重试
func (c *Channel) Connect(subjectID string) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.disconnectLocked()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		c.log.Warn("realtime_connect_after_dispose", "subject", subjectID)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.subject = subjectID
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.log.Info("realtime_connect", "subject", subjectID)
	go c.run(ctx, subjectID, done)
}

// Disconnect：停止待执行的重连、退订所有主题并关闭会话；可重复调用
func (c *Channel) Disconnect() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.disconnectLocked()
}

func (c *Channel) disconnectLocked() {
	c.mu.Lock()
	cancel, done, subject := c.cancel, c.done, c.subject
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.log.Info("realtime_disconnected", "subject", subject)
}

// Dispose：断开并丢弃所有订阅者，之后的 Connect 不再生效
func (c *Channel) Dispose() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.disconnectLocked()
	c.mu.Lock()
	c.disposed = true
	c.handlers = make(map[Kind][]handlerEntry)
	c.mu.Unlock()
}

func (c *Channel) State() State { return State(c.state.Load()) }

func (c *Channel) IsConnected() bool { return c.State() == StateConnected }

// Subject：当前会话所属主体，未连接时为空
func (c *Channel) Subject() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return ""
	}
	return c.subject
}

// Register：按类型追加订阅者，按注册顺序调用；返回注销函数
func (c *Channel) Register(kind Kind, h Handler) (unregister func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[kind] = append(c.handlers[kind], handlerEntry{id: id, fn: h})
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			list := c.handlers[kind]
			for i, e := range list {
				if e.id == id {
					c.handlers[kind] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish：序列化并发送到出站目的地；未连接时丢弃并返回 ErrNotConnected
func (c *Channel) Publish(kind Kind, payload any) error {
	dest, ok := outbound[kind]
	if !ok {
		return ErrUnknownKind
	}
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil || !c.IsConnected() {
		c.log.Debug("realtime_publish_dropped", "kind", kind)
		return ErrNotConnected
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return sess.Send(dest, "application/json", body)
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
	metrics.RealtimeState.Set(float64(s))
}

func (c *Channel) run(ctx context.Context, subject string, done chan struct{}) {
	defer close(done)
	defer c.setState(StateDisconnected)
	for {
		c.setState(StateConnecting)
		sess, err := c.transport.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.RealtimeDialFailTotal.Inc()
			c.log.Warn("realtime_dial_error", "subject", subject, "err", err, "retry_in", c.retryDelay)
			c.setState(StateDisconnected)
			if !waitRetry(ctx, c.retryDelay) {
				return
			}
			continue
		}
		subs, err := c.establish(sess, subject)
		if err != nil {
			c.log.Warn("realtime_establish_error", "subject", subject, "err", err, "retry_in", c.retryDelay)
			c.teardown(sess, subs)
			c.setState(StateDisconnected)
			if ctx.Err() != nil || !waitRetry(ctx, c.retryDelay) {
				return
			}
			continue
		}
		c.setState(StateConnected)
		metrics.RealtimeConnectsTotal.Inc()
		c.log.Info("realtime_connected", "subject", subject, "session_id", c.currentSessionID())

		select {
		case <-ctx.Done():
			c.teardown(sess, subs)
			return
		case <-sess.Done():
			var cause error
			if e, ok := sess.(interface{ Err() error }); ok {
				cause = e.Err()
			}
			c.log.Warn("realtime_session_lost", "subject", subject, "err", cause, "retry_in", c.retryDelay)
			c.teardown(sess, subs)
			c.setState(StateDisconnected)
			if !waitRetry(ctx, c.retryDelay) {
				return
			}
		}
	}
}

// establish：先公布主体标识，再订阅全部主题
func (c *Channel) establish(sess Session, subject string) ([]Subscription, error) {
	sid := uuid.NewString()
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.session = sess
	c.sessionID = sid
	c.mu.Unlock()

	if err := sess.Send(DestConnect, "text/plain", []byte(subject)); err != nil {
		return nil, err
	}
	var subs []Subscription
	for _, t := range Topics(subject) {
		sub, err := sess.Subscribe(t.Destination, func(body []byte) {
			c.dispatch(gen, sid, t, body)
		})
		if err != nil {
			return subs, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (c *Channel) teardown(sess Session, subs []Subscription) {
	c.mu.Lock()
	if c.session == sess {
		c.session = nil
		c.sessionID = ""
	}
	c.gen++
	c.mu.Unlock()
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			c.log.Debug("realtime_unsubscribe_error", "err", err)
		}
	}
	if err := sess.Close(); err != nil {
		c.log.Debug("realtime_close_error", "err", err)
	}
}

func (c *Channel) currentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// dispatch：代号不匹配说明会话已被替换或关闭，直接丢弃
func (c *Channel) dispatch(gen uint64, sid string, t Topic, body []byte) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		metrics.StaleDroppedTotal.WithLabelValues("realtime").Inc()
		return
	}
	list := c.handlers[t.Kind]
	hs := make([]Handler, len(list))
	for i, e := range list {
		hs[i] = e.fn
	}
	c.mu.Unlock()

	metrics.PushEventsTotal.WithLabelValues(string(t.Kind)).Inc()
	ev := Event{Kind: t.Kind, Destination: t.Destination, SessionID: sid, Body: body}
	for _, h := range hs {
		c.invoke(h, ev)
	}
}

func (c *Channel) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("realtime_handler_panic", "kind", ev.Kind, "panic", r)
		}
	}()
	h(ev)
}

func waitRetry(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		delay = time.Second
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
