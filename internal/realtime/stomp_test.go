package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"golang.org/x/net/websocket"

	"region-sync/internal/model"
)

// testBroker：最小 STOMP 代理，只实现客户端用到的帧
type testBroker struct {
	mu     sync.Mutex
	w      *frame.Writer
	subs   map[string]string // destination -> subscription id
	sends  []*frame.Frame
	closed bool
}

func (b *testBroker) handle(ws *websocket.Conn) {
	r := frame.NewReader(ws)
	w := frame.NewWriter(ws)
	b.mu.Lock()
	b.w = w
	b.mu.Unlock()
	for {
		f, err := r.Read()
		if err != nil {
			return
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.CONNECT, frame.STOMP:
			b.write(frame.New(frame.CONNECTED, frame.Version, "1.2", frame.HeartBeat, "0,0"))
		case frame.SUBSCRIBE:
			b.mu.Lock()
			b.subs[f.Header.Get(frame.Destination)] = f.Header.Get(frame.Id)
			b.mu.Unlock()
		case frame.SEND:
			b.mu.Lock()
			b.sends = append(b.sends, f)
			b.mu.Unlock()
		case frame.UNSUBSCRIBE, frame.DISCONNECT:
			if rc := f.Header.Get(frame.Receipt); rc != "" {
				b.write(frame.New(frame.RECEIPT, frame.ReceiptId, rc))
			}
			if f.Command == frame.DISCONNECT {
				b.mu.Lock()
				b.closed = true
				b.mu.Unlock()
				return
			}
		}
	}
}

func (b *testBroker) write(f *frame.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.w.Write(f)
}

func (b *testBroker) push(t *testing.T, dest, body string) {
	t.Helper()
	b.mu.Lock()
	id := b.subs[dest]
	b.mu.Unlock()
	if id == "" {
		t.Fatalf("broker has no subscription for %s", dest)
	}
	f := frame.New(frame.MESSAGE,
		frame.Destination, dest,
		frame.Subscription, id,
		frame.MessageId, "m-1",
		frame.ContentType, "application/json")
	f.Body = []byte(body)
	b.write(f)
}

func (b *testBroker) subCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *testBroker) firstSend() *frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sends) == 0 {
		return nil
	}
	return b.sends[0]
}

func (b *testBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func TestStompTransportEndToEnd(t *testing.T) {
	b := &testBroker{subs: make(map[string]string)}
	srv := httptest.NewServer(websocket.Handler(b.handle))
	defer srv.Close()

	tr := &StompTransport{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		Origin:       srv.URL,
		CloseTimeout: time.Second,
	}
	ch := New(tr, WithRetryDelay(50*time.Millisecond))

	got := make(chan model.StrikeNotification, 1)
	Handle(ch, KindStrike, func(n model.StrikeNotification) { got <- n })

	ch.Connect("42")
	waitFor(t, "subscriptions", func() bool { return b.subCount() == 5 && ch.IsConnected() })

	first := b.firstSend()
	if first == nil || first.Header.Get(frame.Destination) != DestConnect || string(first.Body) != "42" {
		t.Fatalf("announce frame = %+v", first)
	}

	b.push(t, "/topic/missile-launch", `{"regionId":"7","missileType":"ORESHNIK"}`)
	select {
	case n := <-got:
		if n.RegionID != "7" || n.MissileType != "ORESHNIK" {
			t.Fatalf("notification = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("strike notification not delivered")
	}

	ch.Disconnect()
	if ch.IsConnected() {
		t.Fatalf("still connected")
	}
	waitFor(t, "broker disconnect", b.isClosed)
}

func TestStompUnsubscribeKeepsSessionOpen(t *testing.T) {
	b := &testBroker{subs: make(map[string]string)}
	srv := httptest.NewServer(websocket.Handler(b.handle))
	defer srv.Close()

	tr := &StompTransport{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		Origin:       srv.URL,
		CloseTimeout: time.Second,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := tr.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sub, err := sess.Subscribe("/topic/missile-launch", func([]byte) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, "subscription", func() bool { return b.subCount() == 1 })
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	select {
	case <-sess.Done():
		t.Fatalf("session reported as dropped after unsubscribe")
	default:
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitFor(t, "broker disconnect", b.isClosed)
}
