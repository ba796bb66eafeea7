package views

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/GrainArc/GeoEdit/pgmvt"
)

// 要素变更推送：每次写成功后向所有客户端广播 invalidate

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 16
)

// InvalidateMessage 客户端收到后重新拉取对应瓦片与要素
type InvalidateMessage struct {
	Type   string       `json:"type"`
	Layer  string       `json:"layer"`
	Keys   []string     `json:"keys,omitempty"`
	Tiles  []pgmvt.Tile `json:"tiles,omitempty"`
	Purged bool         `json:"purged"`
	Handle string       `json:"handle,omitempty"`
}

func newInvalidateMessage(handle string, keys []string, inv pgmvt.Invalidation) InvalidateMessage {
	return InvalidateMessage{
		Type:   "invalidate",
		Layer:  inv.Layer,
		Keys:   keys,
		Tiles:  inv.Tiles,
		Purged: inv.Purged,
		Handle: handle,
	}
}

type client struct {
	conn *websocket.Conn
	send chan InvalidateMessage
	once sync.Once
}

func (cl *client) close() {
	cl.once.Do(func() { close(cl.send) })
}

// Hub 管理 websocket 连接
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// Broadcast 不阻塞写请求，发送队列已满的客户端直接断开
func (h *Hub) Broadcast(msg InvalidateMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		select {
		case cl.send <- msg:
		default:
			log.Warn().Msg("websocket client too slow, dropping")
			delete(h.clients, cl)
			cl.close()
		}
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 断开所有客户端
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for cl := range h.clients {
		delete(h.clients, cl)
		cl.close()
	}
}

func (h *Hub) register(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl] = true
	return true
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[cl] {
		delete(h.clients, cl)
		cl.close()
	}
}

// ServeWS 升级为 websocket 并注册客户端
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade to websocket")
		return
	}
	cl := &client{conn: conn, send: make(chan InvalidateMessage, sendBuffer)}
	if !h.register(cl) {
		conn.Close()
		return
	}
	log.Debug().Str("remote", c.Request.RemoteAddr).Msg("websocket client connected")

	go h.writeLoop(cl)
	h.readLoop(cl)
}

// readLoop 客户端消息忽略，只用于发现断开
func (h *Hub) readLoop(cl *client) {
	defer h.unregister(cl)
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("websocket error")
			}
			return
		}
	}
}

func (h *Hub) writeLoop(cl *client) {
	pingTicker := time.NewTicker(pingInterval)
	defer func() {
		pingTicker.Stop()
		cl.conn.Close()
		log.Debug().Msg("websocket session closed")
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Msg("failed to send invalidation")
				h.unregister(cl)
				return
			}
		case <-pingTicker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Msg("ping failed")
				h.unregister(cl)
				return
			}
		}
	}
}
