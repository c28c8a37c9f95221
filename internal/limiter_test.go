package internal_test

import (
	"sync"
	"testing"
	"time"

	"github.com/koopa0/battleship/internal"
	"github.com/stretchr/testify/assert"
)

// TestMessageLimiter_Allow 測試固定視窗額度判定
func TestMessageLimiter_Allow(t *testing.T) {
	t.Run("allows up to limit within window", func(t *testing.T) {
		limiter := internal.NewMessageLimiter(3, time.Minute)

		for i := 0; i < 3; i++ {
			assert.True(t, limiter.Allow(), "第 %d 則訊息應該被接受", i+1)
		}
		assert.False(t, limiter.Allow(), "超過額度的訊息應該被拒絕")
		assert.False(t, limiter.Allow())
	})

	t.Run("window elapse resets the count", func(t *testing.T) {
		limiter := internal.NewMessageLimiter(2, 20*time.Millisecond)

		assert.True(t, limiter.Allow())
		assert.True(t, limiter.Allow())
		assert.False(t, limiter.Allow())

		time.Sleep(30 * time.Millisecond)

		assert.True(t, limiter.Allow(), "視窗過期後額度應該重置")
		assert.Equal(t, 1, limiter.Count())
	})

	t.Run("rejected messages still count as attempts", func(t *testing.T) {
		limiter := internal.NewMessageLimiter(1, time.Minute)

		assert.True(t, limiter.Allow())
		assert.False(t, limiter.Allow())
		assert.False(t, limiter.Allow())
		// 拒絕不展延視窗，額度在視窗過期後照常恢復
		assert.Equal(t, 1, limiter.Count())
	})
}

// TestMessageLimiter_Concurrent 測試並發呼叫下的額度總量
func TestMessageLimiter_Concurrent(t *testing.T) {
	limiter := internal.NewMessageLimiter(50, time.Minute)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed, "並發下也只能放行額度內的訊息數")
}
