package eventbus

import "time"

const (
	// initialBackoff は再購読の初回遅延。
	initialBackoff = time.Second
	// maxBackoff は再購読の最大遅延。
	maxBackoff = 30 * time.Second
)

// CalculateBackoff は連続失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回1秒、2倍ずつ増加、最大30秒。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
