package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3"
	"golang.org/x/net/websocket"

	"region-sync/internal/logger"
)

// 文档注释：STOMP over WebSocket 传输
// 背景：后端使用 Spring 的 STOMP 代理，浏览器端经 SockJS 接入；服务端直连其原生 WebSocket 端点。
// 约束：心跳默认 4s/4s；Close 优先发送 DISCONNECT 等待回执，超时后强制断开，避免关闭时被死连接卡住。
type StompTransport struct {
	URL       string
	Origin    string
	Host      string
	Login     string
	Passcode  string
	HeartBeat time.Duration
	// CloseTimeout：等待 DISCONNECT 回执的上限
	CloseTimeout time.Duration
}

const (
	DefaultHeartBeat    = 4 * time.Second
	defaultCloseTimeout = 2 * time.Second
)

var (
	ErrSessionClosed      = errors.New("stomp session closed")
	errUnsubscribeTimeout = errors.New("stomp unsubscribe timeout")
)

func (t *StompTransport) Dial(ctx context.Context) (Session, error) {
	origin := t.Origin
	if origin == "" {
		origin = "http://localhost/"
	}
	cfg, err := websocket.NewConfig(t.URL, origin)
	if err != nil {
		return nil, err
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	hb := t.HeartBeat
	if hb <= 0 {
		hb = DefaultHeartBeat
	}
	opts := []func(*stomp.Conn) error{stomp.ConnOpt.HeartBeat(hb, hb)}
	if t.Host != "" {
		opts = append(opts, stomp.ConnOpt.Host(t.Host))
	}
	if t.Login != "" {
		opts = append(opts, stomp.ConnOpt.Login(t.Login, t.Passcode))
	}
	conn, err := stomp.Connect(ws, opts...)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	ct := t.CloseTimeout
	if ct <= 0 {
		ct = defaultCloseTimeout
	}
	return &stompSession{conn: conn, done: make(chan struct{}), closeTimeout: ct}, nil
}

type stompSession struct {
	conn         *stomp.Conn
	closeTimeout time.Duration

	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	err    error
	closed bool
}

func (s *stompSession) Send(destination, contentType string, body []byte) error {
	return s.conn.Send(destination, contentType, body)
}

func (s *stompSession) Subscribe(destination string, deliver func([]byte)) (Subscription, error) {
	sub, err := s.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, err
	}
	ss := &stompSubscription{sub: sub, timeout: s.closeTimeout}
	go func() {
		for msg := range sub.C {
			if msg.Err != nil {
				if !ss.leaving.Load() {
					s.fail(msg.Err)
				}
				return
			}
			deliver(msg.Body)
		}
		// 主动退订同样会关闭 sub.C，此时会话仍然可用
		if !ss.leaving.Load() {
			s.fail(ErrSessionClosed)
		}
	}()
	return ss, nil
}

// fail：首次失败时关闭 Done；主动关闭后不再视为意外断开
func (s *stompSession) fail(err error) {
	s.mu.Lock()
	closed := s.closed
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	if !closed {
		logger.L().Debug("stomp_session_fail", "err", err)
	}
	s.once.Do(func() { close(s.done) })
}

func (s *stompSession) Done() <-chan struct{} { return s.done }

// Err：导致会话结束的首个错误
func (s *stompSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stompSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case <-s.done:
		// 连接已断开，无法等待回执
		return s.conn.MustDisconnect()
	default:
	}
	res := make(chan error, 1)
	go func() { res <- s.conn.Disconnect() }()
	timer := time.NewTimer(s.closeTimeout)
	defer timer.Stop()
	select {
	case err := <-res:
		return err
	case <-timer.C:
		return s.conn.MustDisconnect()
	}
}

type stompSubscription struct {
	sub     *stomp.Subscription
	timeout time.Duration
	leaving atomic.Bool
}

// Unsubscribe：等待代理回执；超时后交由随后的 Close 释放
func (s *stompSubscription) Unsubscribe() error {
	s.leaving.Store(true)
	if !s.sub.Active() {
		return nil
	}
	res := make(chan error, 1)
	go func() { res <- s.sub.Unsubscribe() }()
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case err := <-res:
		return err
	case <-timer.C:
		return errUnsubscribeTimeout
	}
}
