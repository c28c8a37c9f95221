package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
)

// Router 入站訊息路由
//
// 系統設計考量：
//
//  1. 准入控制在解析之前：
//     訊息額度與大小上限先檢查，超標直接回覆錯誤，
//     不花力氣解析可能是惡意構造的載荷。
//
//  2. 封閉的分派：
//     訊息類型是列舉出來的封閉集合，未知類型是錯誤而非靜默忽略。
//
//  3. 錯誤分類：
//     協議錯誤（格式、超量、超大）、驗證錯誤（數值範圍、佈署不合法、
//     非你的回合）、狀態錯誤（階段不對）都只回覆當事人，連線保持開啟；
//     任何一則訊息的失敗都不影響行程。
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRouter 創建訊息路由
func NewRouter(reg *Registry, logger *slog.Logger) *Router {
	return &Router{
		registry: reg,
		logger:   logger,
	}
}

// Handle 處理一則入站訊息（每連線的讀取 goroutine 逐則呼叫）
func (rt *Router) Handle(sess *Session, data []byte) {
	if !sess.limiter.Allow() {
		rt.logger.Warn("超過訊息額度", "player_id", sess.ID)
		rt.replyError(sess, "訊息太頻繁，請稍後再試")
		return
	}

	if len(data) > rt.registry.cfg.MaxMessageSize {
		rt.logger.Warn("入站訊息過大",
			"player_id", sess.ID,
			"size", len(data))
		rt.replyError(sess, "訊息過大")
		return
	}

	kind, err := decodeEnvelope(data)
	if err != nil {
		rt.logger.Debug("訊息格式錯誤", "player_id", sess.ID, "error", err)
		rt.replyError(sess, "訊息格式錯誤")
		return
	}

	switch kind {
	case TypeGetRooms:
		rt.registry.SendRoomsListTo(sess.ID)
	case TypeJoinRoom:
		rt.handleJoinRoom(sess, data)
	case TypeLeaveRoom:
		rt.handleLeaveRoom(sess)
	case TypePlaceShips:
		rt.handlePlaceShips(sess, data)
	case TypeShoot:
		rt.handleShoot(sess, data)
	case TypeChatMessage:
		rt.handleChat(sess, data)
	case TypePlayerReady:
		// 保留的掛鉤，目前不做任何事
	default:
		rt.logger.Debug("未知的訊息類型", "player_id", sess.ID, "type", kind)
		rt.replyError(sess, "未知的訊息類型")
	}
}

// handleJoinRoom 加入房間
//
// 已在其他房間時先執行離開，再嘗試加入目標房間。
func (rt *Router) handleJoinRoom(sess *Session, data []byte) {
	var msg joinRoomMessage
	if err := json.Unmarshal(data, &msg); err != nil ||
		msg.RoomID < 1 || msg.RoomID > rt.registry.cfg.RoomCount {
		rt.replyError(sess, "房間編號不正確")
		return
	}

	if sess.RoomID != 0 {
		if current, err := rt.registry.Room(sess.RoomID); err == nil {
			current.Leave(sess)
		}
	}

	room, err := rt.registry.Room(msg.RoomID)
	if err != nil {
		rt.replyError(sess, "房間不存在")
		return
	}
	if err := room.Join(sess); err != nil {
		rt.replyError(sess, err.Error())
	}
}

// handleLeaveRoom 離開房間（不在房間內時靜默忽略）
func (rt *Router) handleLeaveRoom(sess *Session) {
	if sess.RoomID == 0 {
		return
	}
	room, err := rt.registry.Room(sess.RoomID)
	if err != nil {
		return
	}
	room.Leave(sess)
}

// handlePlaceShips 提交艦隊佈署
func (rt *Router) handlePlaceShips(sess *Session, data []byte) {
	if sess.RoomID == 0 {
		rt.replyError(sess, "你不在房間內")
		return
	}

	var msg placeShipsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		rt.replyError(sess, "艦隊資料不正確")
		return
	}

	room, err := rt.registry.Room(sess.RoomID)
	if err != nil {
		rt.replyError(sess, "房間不存在")
		return
	}

	if err := room.PlaceShips(sess, msg.Ships); err != nil {
		var placementErr *PlacementError
		if errors.As(err, &placementErr) {
			rt.registry.sendToPlayer(sess.ID, placementErrorMessage{
				Type:    TypePlacementError,
				Message: placementErr.Reason,
			})
			return
		}
		rt.replyError(sess, err.Error())
	}
}

// handleShoot 射擊
func (rt *Router) handleShoot(sess *Session, data []byte) {
	if sess.RoomID == 0 {
		rt.replyError(sess, "你不在房間內")
		return
	}

	var msg shootMessage
	if err := json.Unmarshal(data, &msg); err != nil ||
		!inBounds(msg.X, msg.Y) {
		rt.replyError(sess, "座標不正確")
		return
	}

	room, err := rt.registry.Room(sess.RoomID)
	if err != nil {
		rt.replyError(sess, "房間不存在")
		return
	}

	if err := room.Shoot(sess, msg.X, msg.Y); err != nil {
		rt.replyError(sess, err.Error())
	}
}

// handleChat 聊天訊息：消毒後廣播給房間成員
func (rt *Router) handleChat(sess *Session, data []byte) {
	var msg chatInMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		rt.replyError(sess, "聊天訊息格式錯誤")
		return
	}

	if sess.RoomID == 0 {
		return
	}
	room, err := rt.registry.Room(sess.RoomID)
	if err != nil {
		return
	}

	text := sanitizeChat(msg.Text)
	if text == "" {
		return
	}
	room.BroadcastChat(sess, text)
}

// replyError 回覆錯誤給當事人（永不廣播）
func (rt *Router) replyError(sess *Session, text string) {
	rt.registry.sendToPlayer(sess.ID, newErrorMessage(text))
}
