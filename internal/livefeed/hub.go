// 包 livefeed：向浏览器推送视图变化、打击通知与轨迹的 WebSocket 广播
package livefeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"region-sync/internal/logger"
	"region-sync/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message：下发帧
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// 文档注释：广播中心
// 背景：视图监听回调在导航器的调用方协程上执行，不能被慢客户端拖住。
// 约束：每个客户端一个有界发送队列；队列满时断开该客户端，其余客户端不受影响。
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int
	initial  func() []Message

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

// New：initial 为新连接首先收到的帧（当前视图等），可为空
func New(buffer int, initial func() []Message) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		buffer:  buffer,
		initial: initial,
		clients: make(map[string]*client),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Warn("live_upgrade_error", "err", err)
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, h.buffer)}
	if h.initial != nil {
		for _, m := range h.initial() {
			if b, err := json.Marshal(m); err == nil {
				c.send <- b
			}
			if len(c.send) == cap(c.send) {
				break
			}
		}
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	metrics.LiveClients.Inc()
	logger.L().Info("live_client_join", "client", c.id, "clients", n, "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop：只处理控制帧；读错误即客户端离开
func (h *Hub) readLoop(c *client) {
	defer h.drop(c, "closed")
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()
	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				h.drop(c, "write_error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c, "ping_error")
				return
			}
		}
	}
}

// drop：从集合移除并关闭发送队列；可重复调用
func (h *Hub) drop(c *client, reason string) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		n := len(h.clients)
		close(c.send)
		h.mu.Unlock()
		metrics.LiveClients.Dec()
		logger.L().Info("live_client_leave", "client", c.id, "reason", reason, "clients", n)
	})
}

// Broadcast：序列化一次，非阻塞投递给所有客户端
func (h *Hub) Broadcast(typ string, data any) {
	b, err := json.Marshal(Message{Type: typ, Data: data})
	if err != nil {
		logger.L().Error("live_encode_error", "type", typ, "err", err)
		return
	}
	h.mu.Lock()
	var slow []*client
	for _, c := range h.clients {
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()
	for _, c := range slow {
		h.drop(c, "slow")
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close：断开所有客户端并拒绝新连接
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()
	for _, c := range all {
		h.drop(c, "shutdown")
	}
}
