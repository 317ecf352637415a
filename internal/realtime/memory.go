package realtime

import (
	"context"
	"sync"
)

// MemTransport：进程内传输，离线模式与测试使用
// 每次 Dial 替换当前会话；Inject 只投递给当前会话的订阅
type MemTransport struct {
	mu   sync.Mutex
	cur  *memSession
	sent []Sent
}

// Sent：经内存会话发出的一帧
type Sent struct {
	Destination string
	ContentType string
	Body        []byte
}

func NewMemTransport() *MemTransport { return &MemTransport{} }

func (m *MemTransport) Dial(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &memSession{owner: m, subs: make(map[string][]*memSub), done: make(chan struct{})}
	m.mu.Lock()
	m.cur = s
	m.mu.Unlock()
	return s, nil
}

// Inject：模拟服务端推送；返回收到该帧的订阅数
func (m *MemTransport) Inject(destination string, body []byte) int {
	m.mu.Lock()
	s := m.cur
	m.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.deliver(destination, body)
}

// Drop：模拟连接意外断开
func (m *MemTransport) Drop() {
	m.mu.Lock()
	s := m.cur
	m.mu.Unlock()
	if s != nil {
		s.closeOnce.Do(func() { close(s.done) })
	}
}

// Subscribed：当前会话是否订阅了 destination
func (m *MemTransport) Subscribed(destination string) bool {
	m.mu.Lock()
	s := m.cur
	m.mu.Unlock()
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[destination]) > 0
}

func (m *MemTransport) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

type memSession struct {
	owner     *MemTransport
	mu        sync.Mutex
	subs      map[string][]*memSub
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

type memSub struct {
	s       *memSession
	dest    string
	deliver func([]byte)
}

func (s *memSession) Send(destination, contentType string, body []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	s.owner.mu.Lock()
	s.owner.sent = append(s.owner.sent, Sent{Destination: destination, ContentType: contentType, Body: append([]byte(nil), body...)})
	s.owner.mu.Unlock()
	return nil
}

func (s *memSession) Subscribe(destination string, deliver func([]byte)) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	sub := &memSub{s: s, dest: destination, deliver: deliver}
	s.subs[destination] = append(s.subs[destination], sub)
	return sub, nil
}

func (s *memSession) Done() <-chan struct{} { return s.done }

func (s *memSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.subs = make(map[string][]*memSub)
	s.mu.Unlock()
	return nil
}

func (s *memSession) deliver(destination string, body []byte) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	subs := append([]*memSub(nil), s.subs[destination]...)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.deliver(body)
	}
	return len(subs)
}

func (u *memSub) Unsubscribe() error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	list := u.s.subs[u.dest]
	for i, x := range list {
		if x == u {
			u.s.subs[u.dest] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	return nil
}
