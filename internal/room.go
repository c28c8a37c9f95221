package internal

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// 系統設計問題：
//   如何讓一個房間在兩名玩家的交錯操作下維持一致的遊戲狀態？
//
// 核心挑戰：
//   1. 狀態管理：房間有明確的階段轉換（大廳 → 佈署 → 戰鬥 → 結束 → 重置）
//   2. 原子操作：一則訊息對房間的讀取與提交之間不能被其他訊息插入
//   3. 延遲廣播：最後一擊與遊戲結束通知之間隔約一秒，期間房間可能被重置
//   4. 即時通知：每次狀態變更都要推送給房間成員與全域房間列表
//
// 設計方案：
//   ✅ 有限狀態機（FSM）- 每個操作先檢查階段再執行
//   ✅ 每房間一把互斥鎖 - 操作全程持鎖，等價於單執行緒事件模型
//   ✅ 世代編號 - 延遲回呼執行前重新驗證房間狀態，過期即放棄
//   ✅ 失敗只回覆當事人 - 驗證在暫存狀態上進行，不污染共享狀態

// Phase 房間階段
//
// 狀態轉換規則：
//   - lobby → placement：第二名玩家加入
//   - placement → battle：兩名玩家都完成佈署
//   - battle → game_over：任一方艦隊全滅
//   - game_over → lobby/placement：延遲廣播後重置（兩人都留下則直接重新佈署）
//   - 任何階段：玩家離開或斷線 → 立即重置
type Phase string

const (
	PhaseLobby     Phase = "lobby"     // 等待玩家加入
	PhasePlacement Phase = "placement" // 佈署艦隊中
	PhaseBattle    Phase = "battle"    // 戰鬥進行中
	PhaseGameOver  Phase = "game_over" // 勝負已分，等待延遲廣播
)

// PlacementError 整批佈署驗證失敗
//
// 與一般錯誤區分，路由層據此回覆 placement_error 而非 error。
type PlacementError struct {
	Reason string
}

func (e *PlacementError) Error() string {
	return e.Reason
}

// Room 遊戲房間
//
// 系統設計考量：
//
//  1. 併發控制（Mutex）：
//     問題：兩名玩家的訊息由不同的連線 goroutine 處理
//     方案：每個房間一把互斥鎖，操作從讀取到提交全程持有
//     效果：重現單執行緒事件模型的原子性保證
//
//  2. 固定生命週期：
//     房間在行程啟動時創建、永不銷毀，只會重置。
//     沒有動態創建就沒有清理問題，容量規劃一目了然。
//
//  3. 世代編號（generation）：
//     問題：遊戲結束的廣播延遲約一秒，期間對手可能斷線觸發重置，
//     過期的回呼若照常執行會把 game_over 廣播進一個全新的對局
//     方案：排程時捕捉世代編號，回呼執行前持鎖比對，不符即放棄
type Room struct {
	ID int

	reg           *Registry
	logger        *slog.Logger
	gameOverDelay time.Duration

	mu          sync.Mutex
	players     []*Session
	boards      map[string]*Board
	fleets      map[string][]Ship
	currentTurn string
	phase       Phase
	shipsPlaced int
	generation  uint64
}

// newRoom 創建房間（由 Registry 在啟動時呼叫）
func newRoom(id int, reg *Registry) *Room {
	return &Room{
		ID:            id,
		reg:           reg,
		logger:        reg.logger,
		gameOverDelay: reg.cfg.GameOverDelay,
		boards:        make(map[string]*Board),
		fleets:        make(map[string][]Ship),
		phase:         PhaseLobby,
	}
}

// Join 玩家加入房間
//
// 只允許在大廳階段、且尚有空位時加入。成功後：
//   - 回覆 room_joined 給加入者
//   - 廣播 room_update 給房間成員
//   - 第二名玩家到齊即進入佈署階段
func (r *Room) Join(sess *Session) error {
	r.mu.Lock()
	err := r.joinLocked(sess)
	r.mu.Unlock()

	if err == nil {
		r.reg.broadcastRoomsList()
	}
	return err
}

func (r *Room) joinLocked(sess *Session) error {
	if len(r.players) >= 2 {
		return fmt.Errorf("房間已滿")
	}
	if r.phase != PhaseLobby {
		return fmt.Errorf("遊戲已經開始")
	}

	r.players = append(r.players, sess)
	sess.RoomID = r.ID
	r.boards[sess.ID] = NewBoard()
	r.fleets[sess.ID] = nil

	r.logger.Info("玩家加入房間",
		"room_id", r.ID,
		"player_id", sess.ID,
		"players", len(r.players))

	r.reg.sendToPlayer(sess.ID, roomJoinedMessage{
		Type:         TypeRoomJoined,
		RoomID:       r.ID,
		PlayerID:     sess.ID,
		PlayersCount: len(r.players),
	})
	r.sendRoomUpdateLocked()

	if len(r.players) == 2 {
		r.startPlacementLocked()
	}
	return nil
}

// Leave 玩家離開房間（主動離開或斷線都走這裡）
//
// 大廳階段只更新成員列表；遊戲已開始則立即重置房間並通知留下的玩家；
// 房間變空一律重置。
func (r *Room) Leave(sess *Session) {
	r.mu.Lock()
	r.leaveLocked(sess)
	r.mu.Unlock()

	r.reg.sendToPlayer(sess.ID, leftRoomMessage{Type: TypeLeftRoom})
	r.reg.broadcastRoomsList()
}

func (r *Room) leaveLocked(sess *Session) {
	idx := -1
	for i, p := range r.players {
		if p.ID == sess.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	r.players = append(r.players[:idx], r.players[idx+1:]...)
	delete(r.boards, sess.ID)
	delete(r.fleets, sess.ID)
	sess.RoomID = 0
	sess.Ready = false

	r.logger.Info("玩家離開房間",
		"room_id", r.ID,
		"player_id", sess.ID,
		"players", len(r.players))

	if len(r.players) > 0 {
		r.sendToRoomLocked(playerLeftMessage{
			Type:         TypePlayerLeft,
			PlayerID:     sess.ID,
			PlayersCount: len(r.players),
		})
		if r.phase != PhaseLobby {
			r.resetLocked()
		} else {
			r.sendRoomUpdateLocked()
		}
	} else {
		r.resetLocked()
	}
}

// PlaceShips 提交整批艦隊佈署
//
// 驗證在全新的暫存棋盤上重演（見 ValidateFleet）；任何一艘不合法
// 整批拒絕，已提交的狀態不變，玩家可修正後重新提交。
// 每名玩家每回合只能成功提交一次。
func (r *Room) PlaceShips(sess *Session, ships []Ship) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhasePlacement {
		return fmt.Errorf("現在不是佈署階段")
	}
	if len(r.fleets[sess.ID]) > 0 {
		return fmt.Errorf("已經佈署過艦隊了")
	}

	board, err := ValidateFleet(ships)
	if err != nil {
		return &PlacementError{Reason: err.Error()}
	}

	r.boards[sess.ID] = board
	r.fleets[sess.ID] = ships
	r.shipsPlaced++

	r.logger.Info("玩家完成佈署",
		"room_id", r.ID,
		"player_id", sess.ID,
		"ships_placed", r.shipsPlaced)

	r.reg.sendToPlayer(sess.ID, shipsPlacedMessage{
		Type:  TypeShipsPlaced,
		Ships: ships,
	})
	r.sendToRoomLocked(shipsPlacedUpdateMessage{
		Type:         TypeShipsPlacedUpdate,
		PlayerID:     sess.ID,
		ShipsPlaced:  r.shipsPlaced,
		TotalPlayers: len(r.players),
	})

	if r.shipsPlaced == 2 {
		r.startBattleLocked()
	}
	return nil
}

// Shoot 對對手棋盤射擊
//
// 規則：
//   - 只有輪到的玩家可以射擊
//   - 已打過的格子拒絕，且不消耗回合
//   - 未命中換手、命中續打（連擊規則）
//   - 擊沉最後一艘船：立即進入 game_over 階段（不再接受射擊），
//     延遲約一秒後才廣播 game_over 並重置，讓客戶端先渲染最後一擊
func (r *Room) Shoot(sess *Session, x, y int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseBattle {
		return fmt.Errorf("戰鬥尚未開始")
	}
	if r.currentTurn != sess.ID {
		return fmt.Errorf("還沒輪到你")
	}

	opp := r.opponentLocked(sess.ID)
	if opp == nil {
		return fmt.Errorf("找不到對手")
	}

	board := r.boards[opp.ID]
	result, err := board.ApplyShot(r.fleets[opp.ID], x, y)
	if err != nil {
		return err
	}

	cells := result.CellsAround
	if cells == nil {
		cells = []Coord{}
	}
	r.sendToRoomLocked(shotResultMessage{
		Type:           TypeShotResult,
		X:              x,
		Y:              y,
		Hit:            result.Hit,
		ShipSunk:       result.Sunk,
		SunkShip:       result.SunkShip,
		CellsAround:    cells,
		PlayerID:       sess.ID,
		TargetPlayerID: opp.ID,
	})

	if result.Sunk && board.AllSunk(r.fleets[opp.ID]) {
		r.phase = PhaseGameOver
		r.currentTurn = ""

		gen := r.generation
		winnerID, winnerName := sess.ID, sess.Name
		r.logger.Info("遊戲結束",
			"room_id", r.ID,
			"winner", winnerID)

		time.AfterFunc(r.gameOverDelay, func() {
			r.finishGame(gen, winnerID, winnerName)
		})
	} else if !result.Hit {
		r.currentTurn = opp.ID
		r.sendToRoomLocked(turnChangeMessage{
			Type:          TypeTurnChange,
			CurrentPlayer: opp.ID,
		})
	}
	return nil
}

// finishGame 延遲的遊戲結束廣播與重置
//
// 世代編號或階段不符表示房間在延遲期間已被重置（例如對手斷線），
// 過期的結束通知直接放棄。
func (r *Room) finishGame(gen uint64, winnerID, winnerName string) {
	r.mu.Lock()
	if r.generation != gen || r.phase != PhaseGameOver {
		r.mu.Unlock()
		r.logger.Debug("過期的遊戲結束通知已忽略", "room_id", r.ID)
		return
	}

	r.sendToRoomLocked(gameOverMessage{
		Type:       TypeGameOver,
		Winner:     winnerID,
		WinnerName: winnerName,
	})
	r.resetLocked()
	r.mu.Unlock()

	r.reg.broadcastRoomsList()
}

// BroadcastChat 廣播聊天訊息給房間成員（文字已在路由層消毒）
func (r *Room) BroadcastChat(sess *Session, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sendToRoomLocked(chatOutMessage{
		Type:       TypeChatMessage,
		PlayerID:   sess.ID,
		PlayerName: sess.Name,
		Text:       text,
		Timestamp:  time.Now().Format("15:04:05"),
	})
}

// Snapshot 返回房間列表用的摘要
func (r *Room) Snapshot() RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := r.phase != PhaseLobby
	status := "等待中"
	switch {
	case started:
		status = "遊戲中"
	case len(r.players) >= 2:
		status = "已滿"
	}
	return RoomSummary{
		ID:           r.ID,
		PlayersCount: len(r.players),
		GameStarted:  started,
		Status:       status,
	}
}

// Phase 返回當前階段
func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// CurrentTurn 返回當前輪到的玩家 ID（空字串表示無人）
func (r *Room) CurrentTurn() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentTurn
}

// PlayerCount 返回房間內玩家數
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// ShipsPlaced 返回已完成佈署的玩家數
func (r *Room) ShipsPlaced() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shipsPlaced
}

// startPlacementLocked 進入佈署階段
func (r *Room) startPlacementLocked() {
	r.phase = PhasePlacement
	r.shipsPlaced = 0
	for _, p := range r.players {
		r.fleets[p.ID] = nil
	}

	r.logger.Info("開始佈署階段", "room_id", r.ID)

	r.sendToRoomLocked(placementStartMessage{
		Type:      TypePlacementStart,
		Message:   "請佈署你的艦隊！",
		BoardSize: BoardSize,
	})
}

// startBattleLocked 進入戰鬥階段，隨機選出先手
func (r *Room) startBattleLocked() {
	first := r.players[rand.Intn(len(r.players))]
	r.currentTurn = first.ID
	r.phase = PhaseBattle

	r.logger.Info("戰鬥開始",
		"room_id", r.ID,
		"first_turn", first.ID)

	r.sendToRoomLocked(gameStartMessage{
		Type:          TypeGameStart,
		CurrentPlayer: first.ID,
		Message:       "遊戲開始！",
	})
}

// resetLocked 完整重置房間
//
// 棋盤與艦隊清空、回合與佈署計數歸零、世代編號遞增。
// 兩名玩家都還在就直接重新進入佈署階段，否則回到大廳。
func (r *Room) resetLocked() {
	r.generation++
	r.phase = PhaseLobby
	r.shipsPlaced = 0
	r.currentTurn = ""

	for _, p := range r.players {
		r.boards[p.ID] = NewBoard()
		r.fleets[p.ID] = nil
		p.Ready = false
	}

	r.logger.Info("房間已重置", "room_id", r.ID, "players", len(r.players))

	if len(r.players) == 2 {
		r.startPlacementLocked()
	}
}

// opponentLocked 找出指定玩家的對手
func (r *Room) opponentLocked(playerID string) *Session {
	for _, p := range r.players {
		if p.ID != playerID {
			return p
		}
	}
	return nil
}

// memberIDsLocked 房間成員的玩家 ID 列表
func (r *Room) memberIDsLocked() []string {
	ids := make([]string, 0, len(r.players))
	for _, p := range r.players {
		ids = append(ids, p.ID)
	}
	return ids
}

// sendToRoomLocked 廣播訊息給所有房間成員
func (r *Room) sendToRoomLocked(message any) {
	r.reg.sendToPlayers(r.memberIDsLocked(), message)
}

// sendRoomUpdateLocked 廣播成員列表更新
func (r *Room) sendRoomUpdateLocked() {
	infos := make([]PlayerInfo, 0, len(r.players))
	for _, p := range r.players {
		infos = append(infos, PlayerInfo{ID: p.ID, Name: p.Name, Ready: p.Ready})
	}
	r.sendToRoomLocked(roomUpdateMessage{
		Type:         TypeRoomUpdate,
		Players:      infos,
		PlayersCount: len(r.players),
	})
}
