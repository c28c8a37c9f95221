package internal_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/koopa0/battleship/internal"
	"github.com/stretchr/testify/require"
)

// testLogger 測試用日誌（丟棄輸出）
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordedMessage 一筆被攔截的出站訊息
//
// targets 為 nil 表示全域廣播；payload 是序列化後再解回的通用形式，
// 測試據此檢查實際送上線路的欄位。
type recordedMessage struct {
	targets []string
	payload map[string]any
}

// recorder 攔截出站訊息的 Broadcaster 假實作
type recorder struct {
	mu     sync.Mutex
	events []recordedMessage
}

func (r *recorder) SendToPlayer(playerID string, message any) {
	r.record([]string{playerID}, message)
}

func (r *recorder) SendToPlayers(playerIDs []string, message any) {
	r.record(playerIDs, message)
}

func (r *recorder) SendToAll(message any) {
	r.record(nil, message)
}

func (r *recorder) record(targets []string, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		panic(err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		panic(err)
	}

	r.mu.Lock()
	r.events = append(r.events, recordedMessage{targets: targets, payload: payload})
	r.mu.Unlock()
}

// sentTo 返回送給指定玩家的訊息（含全域廣播）
func (r *recorder) sentTo(playerID string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []map[string]any
	for _, ev := range r.events {
		if ev.targets == nil {
			out = append(out, ev.payload)
			continue
		}
		for _, id := range ev.targets {
			if id == playerID {
				out = append(out, ev.payload)
				break
			}
		}
	}
	return out
}

// lastOfType 返回送給指定玩家的最後一則指定類型訊息
func (r *recorder) lastOfType(playerID, msgType string) map[string]any {
	msgs := r.sentTo(playerID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == msgType {
			return msgs[i]
		}
	}
	return nil
}

// countOfType 統計所有事件中指定類型的出現次數
func (r *recorder) countOfType(msgType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, ev := range r.events {
		if ev.payload["type"] == msgType {
			count++
		}
	}
	return count
}

// clear 清空已攔截的訊息
func (r *recorder) clear() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// newTestEnv 建立測試環境：註冊表 + 攔截出站訊息的 recorder
func newTestEnv(t *testing.T, cfg internal.Config) (*internal.Registry, *recorder) {
	t.Helper()

	reg := internal.NewRegistry(cfg, testLogger())
	rec := &recorder{}
	reg.SetBroadcaster(rec)
	return reg, rec
}

// seatTwoPlayers 讓兩名玩家進入一號房（結束時房間處於佈署階段）
func seatTwoPlayers(t *testing.T, reg *internal.Registry) (*internal.Room, *internal.Session, *internal.Session) {
	t.Helper()

	room, err := reg.Room(1)
	require.NoError(t, err)

	p1 := reg.Connect()
	p2 := reg.Connect()
	require.NoError(t, room.Join(p1))
	require.NoError(t, room.Join(p2))
	require.Equal(t, internal.PhasePlacement, room.Phase())
	return room, p1, p2
}

// startBattle 讓兩名玩家完成佈署並進入戰鬥（返回先手與後手）
func startBattle(t *testing.T, reg *internal.Registry) (*internal.Room, *internal.Session, *internal.Session) {
	t.Helper()

	room, p1, p2 := seatTwoPlayers(t, reg)
	require.NoError(t, room.PlaceShips(p1, validFleet()))
	require.NoError(t, room.PlaceShips(p2, validFleet()))
	require.Equal(t, internal.PhaseBattle, room.Phase())

	first, second := p1, p2
	if room.CurrentTurn() == p2.ID {
		first, second = p2, p1
	}
	return room, first, second
}
