package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把房間狀態變更即時推送給正確的連線，而不被慢速客戶端拖垮？
//
// 設計方案：
//   ✅ Hub 模式 - 集中管理所有連線，支援單播 / 房間廣播 / 全域廣播
//   ✅ 緩衝 channel 異步發送 - 緩衝滿即丟棄，遞送是盡力而為
//   ✅ Ping/Pong 心跳 - 檢測死連線（54s/60s）
//   ✅ 出站大小上限 - 超標的訊息整則丟棄並記錄警告，不截斷送出

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Hub WebSocket 連線中心
//
// 連線以玩家 ID 為鍵集中管理；房間廣播由呼叫端給出成員 ID 列表，
// Hub 不需要知道房間結構，也就不會和房間鎖交錯。
type Hub struct {
	registry *Registry
	router   *Router
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
}

// Client 單一 WebSocket 連線
type Client struct {
	session   *Session
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	closeOnce sync.Once
}

// NewHub 創建連線中心並接上路由與註冊表
func NewHub(reg *Registry, logger *slog.Logger) *Hub {
	hub := &Hub{
		registry: reg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
		},
		clients: make(map[string]*Client),
	}
	hub.router = NewRouter(reg, logger)
	reg.SetBroadcaster(hub)
	return hub
}

// ServeWS 處理 WebSocket 連線
//
// 升級連線 → 註冊會期 → 啟動讀寫 goroutine → 傳送房間列表快照。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	sess := h.registry.Connect()
	client := &Client{
		session: sess,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     h,
	}
	h.register(client)

	go client.writePump()
	go client.readPump()

	h.registry.SendRoomsListTo(sess.ID)

	h.logger.Info("WebSocket 連線建立",
		"player_id", sess.ID,
		"remote", r.RemoteAddr)
}

// register 註冊連線
func (h *Hub) register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.session.ID] = client
}

// unregister 取消註冊連線
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if actual, ok := h.clients[client.session.ID]; ok && actual == client {
		delete(h.clients, client.session.ID)
		client.closeOnce.Do(func() {
			close(client.send)
		})
	}
}

// SendToPlayer 單播訊息給指定玩家
func (h *Hub) SendToPlayer(playerID string, message any) {
	h.SendToPlayers([]string{playerID}, message)
}

// SendToPlayers 傳送訊息給一組玩家（房間廣播）
//
// 序列化一次、逐連線入列。找不到連線或緩衝區滿都靜默跳過，
// 遞送失敗永遠不影響呼叫端。
func (h *Hub) SendToPlayers(playerIDs []string, message any) {
	data, ok := h.encode(message)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, id := range playerIDs {
		client, exists := h.clients[id]
		if !exists {
			continue
		}
		client.enqueue(data)
	}
}

// SendToAll 廣播訊息給所有連線（房間列表更新）
func (h *Hub) SendToAll(message any) {
	data, ok := h.encode(message)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		client.enqueue(data)
	}
}

// encode 序列化出站訊息並檢查大小上限
func (h *Hub) encode(message any) ([]byte, bool) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化出站訊息失敗", "error", err)
		return nil, false
	}
	if len(data) > h.registry.cfg.MaxMessageSize {
		h.logger.Warn("出站訊息過大，已丟棄", "size", len(data))
		return nil, false
	}
	return data, true
}

// ConnectionCount 當前連線數（供監控端點使用）
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop 關閉所有連線
func (h *Hub) Stop() {
	h.mu.Lock()
	for _, client := range h.clients {
		client.closeOnce.Do(func() {
			close(client.send)
		})
		client.conn.Close()
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	h.logger.Info("WebSocket Hub 已停止")
}

// enqueue 非阻塞入列；緩衝區滿即丟棄（慢速客戶端不拖累房間）
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("連線緩衝區滿，訊息已丟棄",
			"player_id", c.session.ID)
	}
}

// readPump 讀取客戶端訊息
//
// 心跳機制（讀取端）：60 秒內沒有任何訊息（包括 Pong）即關閉連線，
// 配合 writePump 的 54 秒 Ping 留 6 秒餘量。
// 讀取迴圈結束即視為斷線：註銷連線並執行與主動離開相同的清理。
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.hub.registry.Disconnect(c.session)
		c.conn.Close()
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"player_id", c.session.ID)
			}
			return
		}

		if messageType == websocket.TextMessage {
			c.hub.router.Handle(c.session, data)
		}
	}
}

// writePump 寫入訊息到客戶端
//
// 心跳機制（發送端）：每 54 秒發送 Ping，避開常見的 60 秒代理超時。
// send channel 關閉表示 Hub 端要求收尾，送出關閉幀後結束。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			// 批量送出隊列中剩餘的訊息
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
