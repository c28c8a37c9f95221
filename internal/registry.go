package internal

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config 伺服器核心參數
type Config struct {
	RoomCount      int           // 房間池大小
	GameOverDelay  time.Duration // 最後一擊到 game_over 廣播的間隔
	MessageLimit   int           // 每視窗接受的訊息數上限
	MessageWindow  time.Duration // 訊息額度視窗
	MaxMessageSize int           // 進出站訊息的位元組上限
}

// DefaultConfig 預設參數
func DefaultConfig() Config {
	return Config{
		RoomCount:      5,
		GameOverDelay:  time.Second,
		MessageLimit:   60,
		MessageWindow:  time.Minute,
		MaxMessageSize: 10000,
	}
}

// withDefaults 補齊零值欄位
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RoomCount <= 0 {
		c.RoomCount = def.RoomCount
	}
	if c.GameOverDelay <= 0 {
		c.GameOverDelay = def.GameOverDelay
	}
	if c.MessageLimit <= 0 {
		c.MessageLimit = def.MessageLimit
	}
	if c.MessageWindow <= 0 {
		c.MessageWindow = def.MessageWindow
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	return c
}

// Session 連線會期：每個 WebSocket 連線對應一筆
//
// 身分是臨時的：連線時隨機產生、斷線即丟棄，不做任何持久化。
// RoomID 為 0 表示不在任何房間。欄位只透過註冊表與房間操作修改，
// 不讓任意程式碼路徑直接碰觸。
type Session struct {
	ID     string
	Name   string
	RoomID int
	Ready  bool

	limiter *MessageLimiter
}

// Limiter 返回這條連線的訊息額度控制器
func (s *Session) Limiter() *MessageLimiter {
	return s.limiter
}

// Broadcaster 出站訊息的遞送介面
//
// 由 WebSocket Hub 實作；遞送是盡力而為，找不到連線或
// 緩衝區滿都靜默跳過，永遠不阻塞呼叫端。
type Broadcaster interface {
	SendToPlayer(playerID string, message any)
	SendToPlayers(playerIDs []string, message any)
	SendToAll(message any)
}

// Registry 會期註冊表
//
// 系統設計考量：
//
//  1. 固定房間池：
//     行程啟動時創建 N 個房間（編號 1..N），永不增減。
//     所有房間變更都透過 Room 的操作進行，沒有全域可變狀態散落各處。
//
//  2. 會期映射：
//     連線 → {臨時 ID、顯示名稱、所在房間、準備狀態、訊息額度}。
//     連線建立時註冊、斷線時註銷；斷線時若還在房間內，
//     執行與主動離開完全相同的清理。
//
//  3. 讀寫鎖：
//     房間列表廣播（讀）遠多於連線進出（寫）。
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.RWMutex
	rooms       map[int]*Room
	sessions    map[string]*Session
	broadcaster Broadcaster
}

// NewRegistry 創建註冊表並初始化房間池
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	g := &Registry{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		rooms:    make(map[int]*Room),
		sessions: make(map[string]*Session),
	}
	for i := 1; i <= g.cfg.RoomCount; i++ {
		g.rooms[i] = newRoom(i, g)
	}

	logger.Info("房間池已初始化", "rooms", g.cfg.RoomCount)
	return g
}

// SetBroadcaster 綁定出站遞送層（啟動時由 Hub 呼叫一次）
func (g *Registry) SetBroadcaster(b Broadcaster) {
	g.mu.Lock()
	g.broadcaster = b
	g.mu.Unlock()
}

// Connect 註冊新連線
//
// 指派隨機的臨時 ID 與預設名稱，並配置訊息額度控制器。
func (g *Registry) Connect() *Session {
	sess := &Session{
		ID:      uuid.NewString(),
		Name:    fmt.Sprintf("玩家_%d", rand.Intn(1000)),
		limiter: NewMessageLimiter(g.cfg.MessageLimit, g.cfg.MessageWindow),
	}

	g.mu.Lock()
	g.sessions[sess.ID] = sess
	g.mu.Unlock()

	g.logger.Info("新連線",
		"player_id", sess.ID,
		"player_name", sess.Name)
	return sess
}

// Disconnect 註銷連線
//
// 若連線還在房間內，執行與主動離開相同的清理（通知對手、重置房間）。
func (g *Registry) Disconnect(sess *Session) {
	if sess == nil {
		return
	}

	if room, err := g.Room(sess.RoomID); err == nil {
		room.Leave(sess)
	}

	g.mu.Lock()
	delete(g.sessions, sess.ID)
	g.mu.Unlock()

	g.logger.Info("連線中斷", "player_id", sess.ID)
}

// Room 取得房間
func (g *Registry) Room(id int) (*Room, error) {
	g.mu.RLock()
	room, ok := g.rooms[id]
	g.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("房間不存在: %d", id)
	}
	return room, nil
}

// Session 取得會期
func (g *Registry) Session(id string) (*Session, bool) {
	g.mu.RLock()
	sess, ok := g.sessions[id]
	g.mu.RUnlock()
	return sess, ok
}

// SessionCount 當前連線數
func (g *Registry) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// RoomsSnapshot 房間列表快照（依編號排序）
func (g *Registry) RoomsSnapshot() []RoomSummary {
	summaries := make([]RoomSummary, 0, g.cfg.RoomCount)
	for i := 1; i <= g.cfg.RoomCount; i++ {
		room, err := g.Room(i)
		if err != nil {
			continue
		}
		summaries = append(summaries, room.Snapshot())
	}
	return summaries
}

// SendRoomsListTo 傳送房間列表快照給指定玩家
func (g *Registry) SendRoomsListTo(playerID string) {
	g.sendToPlayer(playerID, roomsListMessage{
		Type:  TypeRoomsList,
		Rooms: g.RoomsSnapshot(),
	})
}

// broadcastRoomsList 廣播房間列表給所有連線（房間佔用變化時呼叫）
func (g *Registry) broadcastRoomsList() {
	g.sendToAll(roomsListMessage{
		Type:  TypeRoomsList,
		Rooms: g.RoomsSnapshot(),
	})
}

// Stats 統計資訊（供監控端點使用）
func (g *Registry) Stats() map[string]any {
	return map[string]any{
		"sessions": g.SessionCount(),
		"rooms":    g.RoomsSnapshot(),
	}
}

// 出站遞送的內部轉接；Broadcaster 尚未綁定時靜默丟棄

func (g *Registry) getBroadcaster() Broadcaster {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.broadcaster
}

func (g *Registry) sendToPlayer(playerID string, message any) {
	if b := g.getBroadcaster(); b != nil {
		b.SendToPlayer(playerID, message)
	}
}

func (g *Registry) sendToPlayers(playerIDs []string, message any) {
	if b := g.getBroadcaster(); b != nil {
		b.SendToPlayers(playerIDs, message)
	}
}

func (g *Registry) sendToAll(message any) {
	if b := g.getBroadcaster(); b != nil {
		b.SendToAll(message)
	}
}
