package internal_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/koopa0/battleship/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRouter 建立路由測試環境
func newTestRouter(t *testing.T, cfg internal.Config) (*internal.Router, *internal.Registry, *recorder) {
	t.Helper()

	reg, rec := newTestEnv(t, cfg)
	return internal.NewRouter(reg, testLogger()), reg, rec
}

// TestRouter_Admission 測試解析前的准入控制
func TestRouter_Admission(t *testing.T) {
	t.Run("rate limit rejects excess messages", func(t *testing.T) {
		cfg := internal.DefaultConfig()
		cfg.MessageLimit = 3
		cfg.MessageWindow = time.Minute
		router, reg, rec := newTestRouter(t, cfg)
		sess := reg.Connect()

		for i := 0; i < 3; i++ {
			router.Handle(sess, []byte(`{"type":"get_rooms"}`))
		}
		assert.Equal(t, 3, rec.countOfType("rooms_list"))

		rec.clear()
		router.Handle(sess, []byte(`{"type":"get_rooms"}`))

		errMsg := rec.lastOfType(sess.ID, "error")
		require.NotNil(t, errMsg)
		assert.Contains(t, errMsg["message"], "訊息太頻繁")
		assert.Zero(t, rec.countOfType("rooms_list"), "超額的訊息不應被處理")
	})

	t.Run("oversized message rejected without disconnect", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		sess := reg.Connect()

		huge := fmt.Sprintf(`{"type":"chat_message","text":"%s"}`, strings.Repeat("a", 10001))
		router.Handle(sess, []byte(huge))

		errMsg := rec.lastOfType(sess.ID, "error")
		require.NotNil(t, errMsg)
		assert.Contains(t, errMsg["message"], "訊息過大")

		// 連線還活著，後續訊息照常處理
		rec.clear()
		router.Handle(sess, []byte(`{"type":"get_rooms"}`))
		assert.Equal(t, 1, rec.countOfType("rooms_list"))
	})

	t.Run("malformed payloads rejected", func(t *testing.T) {
		tests := []struct {
			name    string
			payload string
		}{
			{name: "not json", payload: "not json at all"},
			{name: "json array", payload: `[1,2,3]`},
			{name: "missing type field", payload: `{"roomId":1}`},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				router, reg, rec := newTestRouter(t, internal.DefaultConfig())
				sess := reg.Connect()

				router.Handle(sess, []byte(tt.payload))

				errMsg := rec.lastOfType(sess.ID, "error")
				require.NotNil(t, errMsg)
				assert.Contains(t, errMsg["message"], "訊息格式錯誤")
			})
		}
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		sess := reg.Connect()

		router.Handle(sess, []byte(`{"type":"become_admin"}`))

		errMsg := rec.lastOfType(sess.ID, "error")
		require.NotNil(t, errMsg)
		assert.Contains(t, errMsg["message"], "未知的訊息類型")
	})

	t.Run("player_ready accepted silently", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		sess := reg.Connect()

		rec.clear()
		router.Handle(sess, []byte(`{"type":"player_ready"}`))
		assert.Empty(t, rec.sentTo(sess.ID))
	})
}

// TestRouter_JoinLeave 測試加入與離開房間的路由
func TestRouter_JoinLeave(t *testing.T) {
	t.Run("join seats the player", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		sess := reg.Connect()

		router.Handle(sess, []byte(`{"type":"join_room","roomId":2}`))

		assert.Equal(t, 2, sess.RoomID)
		joined := rec.lastOfType(sess.ID, "room_joined")
		require.NotNil(t, joined)
		assert.Equal(t, float64(2), joined["roomId"])
	})

	t.Run("invalid room ids rejected", func(t *testing.T) {
		tests := []struct {
			name    string
			payload string
		}{
			{name: "zero", payload: `{"type":"join_room","roomId":0}`},
			{name: "out of range", payload: `{"type":"join_room","roomId":99}`},
			{name: "negative", payload: `{"type":"join_room","roomId":-1}`},
			{name: "not a number", payload: `{"type":"join_room","roomId":"1"}`},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				router, reg, rec := newTestRouter(t, internal.DefaultConfig())
				sess := reg.Connect()

				router.Handle(sess, []byte(tt.payload))

				assert.Equal(t, 0, sess.RoomID)
				errMsg := rec.lastOfType(sess.ID, "error")
				require.NotNil(t, errMsg)
				assert.Contains(t, errMsg["message"], "房間編號不正確")
			})
		}
	})

	t.Run("joining another room leaves the current one", func(t *testing.T) {
		router, reg, _ := newTestRouter(t, internal.DefaultConfig())
		sess := reg.Connect()

		router.Handle(sess, []byte(`{"type":"join_room","roomId":1}`))
		router.Handle(sess, []byte(`{"type":"join_room","roomId":3}`))

		assert.Equal(t, 3, sess.RoomID)
		room1, err := reg.Room(1)
		require.NoError(t, err)
		assert.Equal(t, 0, room1.PlayerCount())
	})

	t.Run("leave while not seated is silent", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		sess := reg.Connect()

		rec.clear()
		router.Handle(sess, []byte(`{"type":"leave_room"}`))
		assert.Empty(t, rec.sentTo(sess.ID))
	})

	t.Run("leave returns to lobby", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		sess := reg.Connect()

		router.Handle(sess, []byte(`{"type":"join_room","roomId":1}`))
		router.Handle(sess, []byte(`{"type":"leave_room"}`))

		assert.Equal(t, 0, sess.RoomID)
		assert.NotNil(t, rec.lastOfType(sess.ID, "left_room"))
	})
}

// TestRouter_PlaceShips 測試佈署訊息的路由
func TestRouter_PlaceShips(t *testing.T) {
	t.Run("not in a room rejected", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		sess := reg.Connect()

		router.Handle(sess, []byte(`{"type":"place_ships","ships":[]}`))

		errMsg := rec.lastOfType(sess.ID, "error")
		require.NotNil(t, errMsg)
		assert.Contains(t, errMsg["message"], "你不在房間內")
	})

	t.Run("invalid fleet answered with placement_error", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		_, p1, _ := seatTwoPlayers(t, reg)

		payload, err := json.Marshal(map[string]any{
			"type":  "place_ships",
			"ships": validFleet()[:2],
		})
		require.NoError(t, err)
		router.Handle(p1, payload)

		placementErr := rec.lastOfType(p1.ID, "placement_error")
		require.NotNil(t, placementErr)
		assert.NotEmpty(t, placementErr["message"])
	})

	t.Run("valid fleet confirmed", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		room, p1, _ := seatTwoPlayers(t, reg)

		payload, err := json.Marshal(map[string]any{
			"type":  "place_ships",
			"ships": validFleet(),
		})
		require.NoError(t, err)
		router.Handle(p1, payload)

		assert.Equal(t, 1, room.ShipsPlaced())
		confirm := rec.lastOfType(p1.ID, "ships_placed")
		require.NotNil(t, confirm)
		ships, ok := confirm["ships"].([]any)
		require.True(t, ok)
		assert.Len(t, ships, 10)
	})
}

// TestRouter_Shoot 測試射擊訊息的路由
func TestRouter_Shoot(t *testing.T) {
	t.Run("not in a room rejected", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		sess := reg.Connect()

		router.Handle(sess, []byte(`{"type":"shoot","x":0,"y":0}`))

		errMsg := rec.lastOfType(sess.ID, "error")
		require.NotNil(t, errMsg)
		assert.Contains(t, errMsg["message"], "你不在房間內")
	})

	t.Run("invalid coordinates rejected before touching the room", func(t *testing.T) {
		tests := []struct {
			name    string
			payload string
		}{
			{name: "x out of range", payload: `{"type":"shoot","x":10,"y":0}`},
			{name: "negative y", payload: `{"type":"shoot","x":0,"y":-1}`},
			{name: "fractional coordinate", payload: `{"type":"shoot","x":1.5,"y":0}`},
			{name: "string coordinate", payload: `{"type":"shoot","x":"3","y":0}`},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				router, reg, rec := newTestRouter(t, internal.DefaultConfig())
				_, first, _ := startBattle(t, reg)

				router.Handle(first, []byte(tt.payload))

				errMsg := rec.lastOfType(first.ID, "error")
				require.NotNil(t, errMsg)
				assert.Contains(t, errMsg["message"], "座標不正確")
			})
		}
	})

	t.Run("valid shot applied", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		_, first, second := startBattle(t, reg)

		router.Handle(first, []byte(`{"type":"shoot","x":0,"y":0}`))

		result := rec.lastOfType(second.ID, "shot_result")
		require.NotNil(t, result)
		assert.Equal(t, true, result["hit"])
	})

	t.Run("turn violation answered with error", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		_, _, second := startBattle(t, reg)

		router.Handle(second, []byte(`{"type":"shoot","x":0,"y":0}`))

		errMsg := rec.lastOfType(second.ID, "error")
		require.NotNil(t, errMsg)
		assert.Contains(t, errMsg["message"], "還沒輪到你")
	})
}

// TestRouter_Chat 測試聊天訊息的消毒與廣播
func TestRouter_Chat(t *testing.T) {
	t.Run("sanitized text broadcast to the room", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		_, p1, p2 := seatTwoPlayers(t, reg)

		payload := `{"type":"chat_message","text":"<script>alert(1)</script>hello & \"hi\""}`
		router.Handle(p1, []byte(payload))

		chat := rec.lastOfType(p2.ID, "chat_message")
		require.NotNil(t, chat)
		assert.Equal(t, "alert(1)hello &amp; &quot;hi&quot;", chat["text"])
		assert.Equal(t, p1.ID, chat["playerId"])
		assert.Equal(t, p1.Name, chat["playerName"])
		assert.NotEmpty(t, chat["timestamp"])
	})

	t.Run("long text truncated before sanitizing", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		_, p1, p2 := seatTwoPlayers(t, reg)

		payload := fmt.Sprintf(`{"type":"chat_message","text":"%s"}`, strings.Repeat("x", 300))
		router.Handle(p1, []byte(payload))

		chat := rec.lastOfType(p2.ID, "chat_message")
		require.NotNil(t, chat)
		text, ok := chat["text"].(string)
		require.True(t, ok)
		assert.Len(t, text, 200)
	})

	t.Run("whitespace-only text dropped", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		_, p1, _ := seatTwoPlayers(t, reg)

		rec.clear()
		router.Handle(p1, []byte(`{"type":"chat_message","text":"   "}`))
		assert.Zero(t, rec.countOfType("chat_message"))
	})

	t.Run("chat outside a room dropped silently", func(t *testing.T) {
		router, reg, rec := newTestRouter(t, internal.DefaultConfig())
		sess := reg.Connect()

		rec.clear()
		router.Handle(sess, []byte(`{"type":"chat_message","text":"hello"}`))
		assert.Empty(t, rec.sentTo(sess.ID))
	})
}
