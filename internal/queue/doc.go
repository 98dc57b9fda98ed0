// Package queue はRedisを背後に持つ通知配信ジョブキューを提供する。
//
// プロデューサーが投入したジョブを優先度依存の遅延付きで保持し、
// 複数ワーカーへ一度に一つずつ配布する。処理中のジョブはリース（期限付きロック）で
// 管理され、ハートビートが途絶えたジョブはストール扱いとなり自動的に再投入される。
// リトライの遅延は指数バックオフ＋ジッターで決定する。
//
// ジョブの状態遷移:
//
//	Enqueued → Delayed → Processing → { Completed | Retrying → Delayed | Failed }
//
// Failed は attemptsMade == maxAttempts に達した時点で終端となる。
package queue
