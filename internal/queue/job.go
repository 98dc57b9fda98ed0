package queue

import (
	"time"

	"github.com/nao1215/notifyhub/pkg/event"
)

// JobType はジョブの種類を表す識別子。
// 現在は通知配信のみだが、キュー自体はジョブ種別に依存しない。
type JobType string

const (
	// JobTypeNotificationDispatch は通知の永続化とブロードキャストを行うジョブを表す。
	JobTypeNotificationDispatch JobType = "notification_dispatch"
)

// Job はキューに保持される配信ジョブ。Redis上にJSON形式で永続化される。
type Job struct {
	// ID はジョブの一意識別子（UUID）。
	ID string `json:"id"`
	// Type はジョブの種類。
	Type JobType `json:"type"`
	// Payload は作成予定の通知のフィールド一式。
	Payload event.DispatchPayload `json:"payload"`
	// Priority はジョブの優先度。配信前遅延を決定する。
	Priority event.Priority `json:"priority"`
	// EnqueuedAt はジョブが投入された日時。
	EnqueuedAt time.Time `json:"enqueued_at"`
	// ReadyAt はジョブが処理可能になる日時（投入日時＋優先度遅延）。
	ReadyAt time.Time `json:"ready_at"`
	// AttemptsMade はこれまでの処理試行回数。予約のたびにインクリメントされる。
	AttemptsMade int `json:"attempts_made"`
	// MaxAttempts は最大試行回数。到達するとジョブは終端失敗となる。
	MaxAttempts int `json:"max_attempts"`
	// TimeoutMs は1試行あたりの処理タイムアウト（ミリ秒）。
	// この時間内にハートビートがなければストールとみなし再投入する。
	TimeoutMs int64 `json:"timeout_ms"`
	// LastError は直近の試行で発生したエラーメッセージ。
	LastError string `json:"last_error,omitempty"`
}

// Timeout は1試行あたりの処理タイムアウトをtime.Durationで返す。
func (j *Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutMs) * time.Millisecond
}

// Exhausted は試行回数が上限に達したかを判定する。
func (j *Job) Exhausted() bool {
	return j.AttemptsMade >= j.MaxAttempts
}
