package internal

import (
	"sync"
	"time"
)

// MessageLimiter 每連線的訊息額度控制。
//
// 系統設計考量：
//   - 視窗計數器：視窗經過即歸零重算，實作簡單、記憶體固定
//   - 超額只拒絕該則訊息並回覆錯誤，不斷線（避免誤傷正常玩家）
//   - 每個連線獨立一把鎖，彼此互不影響
//
// 與滑動視窗的取捨：
//   滑動視窗更精確但需要記錄每筆時間戳記；
//   這裡的流量極小（60 則/分鐘），視窗邊界誤差可以接受。
type MessageLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	count       int
	windowStart time.Time
}

// NewMessageLimiter 創建訊息額度控制器
func NewMessageLimiter(limit int, window time.Duration) *MessageLimiter {
	return &MessageLimiter{
		limit:       limit,
		window:      window,
		windowStart: time.Now(),
	}
}

// Allow 檢查是否接受這一則訊息
//
// 視窗經過即重置計數；視窗內已接受 limit 則後一律拒絕。
func (l *MessageLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.windowStart) > l.window {
		l.count = 0
		l.windowStart = now
	}

	if l.count >= l.limit {
		return false
	}
	l.count++
	return true
}

// Count 返回當前視窗內已接受的訊息數（用於監控）
func (l *MessageLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
