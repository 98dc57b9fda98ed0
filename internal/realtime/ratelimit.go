package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

// defaultRateQuota はクライアント発イベントの許容数（ウィンドウあたり）。
const defaultRateQuota = 100

// defaultRateWindow はレート制限の観測ウィンドウ。
const defaultRateWindow = time.Minute

// newConnLimiter は接続ごとのトークンバケット式レートリミッタを生成する。
// バーストとしてquota個まで即時に許容し、その後はウィンドウ内で
// quota回のペースに平滑化される。
func newConnLimiter(quota int, window time.Duration) *rate.Limiter {
	if quota < 1 {
		quota = 1
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(quota)), quota)
}
