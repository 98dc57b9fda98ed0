package queue

import (
	"math/rand"
	"time"

	"github.com/nao1215/notifyhub/pkg/event"
)

// Policy は優先度と遅延の対応、およびリトライバックオフを一元管理するポリシー表。
// DispatcherとプロデューサーはこのPolicyのみを参照し、遅延の根拠を一箇所に集約する。
type Policy struct {
	// InitialDelays は優先度ごとの配信前遅延。
	// 緊急度の低いトラフィックを抑制しつつ、枯渇はさせない。
	InitialDelays map[event.Priority]time.Duration
	// BackoffBase はリトライバックオフの初期値。
	BackoffBase time.Duration
	// BackoffMax はリトライバックオフの上限値。
	BackoffMax time.Duration
	// JitterFraction はバックオフに加えるジッターの割合（0.0〜1.0）。
	// 同時リトライの集中（thundering herd）を避けるために使用する。
	JitterFraction float64
}

// DefaultPolicy は既定のポリシー表を返す。
func DefaultPolicy() Policy {
	return Policy{
		InitialDelays: map[event.Priority]time.Duration{
			event.PriorityUrgent: 0,
			event.PriorityHigh:   5 * time.Second,
			event.PriorityMedium: 30 * time.Second,
			event.PriorityLow:    2 * time.Minute,
		},
		BackoffBase:    3 * time.Second,
		BackoffMax:     5 * time.Minute,
		JitterFraction: 0.2,
	}
}

// InitialDelay は優先度に対応する配信前遅延を返す。
// 未定義の優先度は最も低い優先度と同じ遅延として扱う。
func (p Policy) InitialDelay(priority event.Priority) time.Duration {
	if d, ok := p.InitialDelays[priority]; ok {
		return d
	}
	return p.InitialDelays[event.PriorityLow]
}

// Backoff はattempt回目の失敗後に待つべき遅延を返す。
// 遅延は試行ごとに倍増し、上限で頭打ちになる。ジッターを加算するため
// 戻り値は呼び出しごとに変動するが、基準値は単調非減少である。
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := p.BackoffBase << uint(attempt-1)
	if backoff > p.BackoffMax || backoff <= 0 {
		backoff = p.BackoffMax
	}

	if p.JitterFraction > 0 {
		jitter := time.Duration(rand.Float64() * p.JitterFraction * float64(backoff))
		backoff += jitter
	}
	return backoff
}
