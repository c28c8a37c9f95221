package internal

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// 系統設計問題：
//   如何把不可信的客戶端訊息安全地轉成型別明確的操作？
//
// 設計方案：
//   ✅ 封閉的訊息類型集合 - 不在白名單內一律拒絕
//   ✅ 逐類型的結構解碼 - 欄位型別錯誤（如座標是小數或字串）在解碼期就失敗
//   ✅ 聊天文字消毒 - 移除標籤、跳脫特殊字元，防止注入到任何 HTML 客戶端

// 入站訊息類型（白名單）
const (
	TypeGetRooms    = "get_rooms"
	TypeJoinRoom    = "join_room"
	TypeLeaveRoom   = "leave_room"
	TypePlaceShips  = "place_ships"
	TypeShoot       = "shoot"
	TypeChatMessage = "chat_message"
	TypePlayerReady = "player_ready"
)

// 出站訊息類型
const (
	TypeRoomsList         = "rooms_list"
	TypeRoomJoined        = "room_joined"
	TypeRoomUpdate        = "room_update"
	TypePlayerLeft        = "player_left"
	TypeLeftRoom          = "left_room"
	TypePlacementStart    = "placement_start"
	TypeShipsPlaced       = "ships_placed"
	TypeShipsPlacedUpdate = "ships_placed_update"
	TypePlacementError    = "placement_error"
	TypeGameStart         = "game_start"
	TypeTurnChange        = "turn_change"
	TypeShotResult        = "shot_result"
	TypeGameOver          = "game_over"
	TypeError             = "error"
)

// 聊天文字長度限制
const (
	chatInboundLimit   = 200 // 消毒前
	chatBroadcastLimit = 500 // 廣播時
)

// envelope 訊息信封，只看 type 欄位
type envelope struct {
	Type string `json:"type"`
}

// decodeEnvelope 解出訊息類型
//
// 不是 JSON 物件、或缺少 type 欄位，都視為格式錯誤。
func decodeEnvelope(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("訊息格式錯誤: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("訊息缺少 type 欄位")
	}
	return env.Type, nil
}

// 入站訊息載荷
type joinRoomMessage struct {
	RoomID int `json:"roomId"`
}

type placeShipsMessage struct {
	Ships []Ship `json:"ships"`
}

type shootMessage struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type chatInMessage struct {
	Text string `json:"text"`
}

// RoomSummary 房間列表的單筆摘要
type RoomSummary struct {
	ID           int    `json:"id"`
	PlayersCount int    `json:"playersCount"`
	GameStarted  bool   `json:"gameStarted"`
	Status       string `json:"status"`
}

// PlayerInfo 房間內玩家的公開資訊
type PlayerInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

// 出站訊息載荷
type roomsListMessage struct {
	Type  string        `json:"type"`
	Rooms []RoomSummary `json:"rooms"`
}

type roomJoinedMessage struct {
	Type         string `json:"type"`
	RoomID       int    `json:"roomId"`
	PlayerID     string `json:"playerId"`
	PlayersCount int    `json:"playersCount"`
}

type roomUpdateMessage struct {
	Type         string       `json:"type"`
	Players      []PlayerInfo `json:"players"`
	PlayersCount int          `json:"playersCount"`
}

type playerLeftMessage struct {
	Type         string `json:"type"`
	PlayerID     string `json:"playerId"`
	PlayersCount int    `json:"playersCount"`
}

type leftRoomMessage struct {
	Type string `json:"type"`
}

type placementStartMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	BoardSize int    `json:"boardSize"`
}

type shipsPlacedMessage struct {
	Type  string `json:"type"`
	Ships []Ship `json:"ships"`
}

type shipsPlacedUpdateMessage struct {
	Type         string `json:"type"`
	PlayerID     string `json:"playerId"`
	ShipsPlaced  int    `json:"shipsPlaced"`
	TotalPlayers int    `json:"totalPlayers"`
}

type placementErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type gameStartMessage struct {
	Type          string `json:"type"`
	CurrentPlayer string `json:"currentPlayer"`
	Message       string `json:"message"`
}

type turnChangeMessage struct {
	Type          string `json:"type"`
	CurrentPlayer string `json:"currentPlayer"`
}

type shotResultMessage struct {
	Type           string  `json:"type"`
	X              int     `json:"x"`
	Y              int     `json:"y"`
	Hit            bool    `json:"hit"`
	ShipSunk       bool    `json:"shipSunk"`
	SunkShip       *Ship   `json:"sunkShip"`
	CellsAround    []Coord `json:"cellsAroundShip"`
	PlayerID       string  `json:"playerId"`
	TargetPlayerID string  `json:"targetPlayerId"`
}

type gameOverMessage struct {
	Type       string `json:"type"`
	Winner     string `json:"winner"`
	WinnerName string `json:"winnerName"`
}

type chatOutMessage struct {
	Type       string `json:"type"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newErrorMessage(text string) errorMessage {
	return errorMessage{Type: TypeError, Message: text}
}

// htmlTagPattern 比對完整的 HTML 標籤
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// chatEscapes 需要跳脫的特殊字元
var chatEscapes = map[rune]string{
	'&':  "&amp;",
	'<':  "&lt;",
	'>':  "&gt;",
	'"':  "&quot;",
	'\'': "&#x27;",
	'/':  "&#x2F;",
	'`':  "&grave;",
	'=':  "&#x3D;",
}

// sanitizeChat 聊天文字消毒
//
// 流程：截斷到入站上限 → 移除 HTML 標籤 → 單趟跳脫特殊字元 →
// 去除前後空白 → 截斷到廣播上限。空字串表示無內容可廣播。
func sanitizeChat(text string) string {
	if runes := []rune(text); len(runes) > chatInboundLimit {
		text = string(runes[:chatInboundLimit])
	}

	text = htmlTagPattern.ReplaceAllString(text, "")

	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if esc, ok := chatEscapes[r]; ok {
			sb.WriteString(esc)
		} else {
			sb.WriteRune(r)
		}
	}

	text = strings.TrimSpace(sb.String())
	if runes := []rune(text); len(runes) > chatBroadcastLimit {
		text = string(runes[:chatBroadcastLimit])
	}
	return text
}
