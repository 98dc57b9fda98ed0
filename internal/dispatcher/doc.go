// Package dispatcher は配信ジョブキューの唯一のコンシューマーを提供する。
//
// 複数のワーカーが共有キューからジョブを取得し、検証 → 永続化 → ブロードキャスト
// の順で処理する。検証失敗は恒久的失敗としてリトライしない。永続化失敗は一時的
// 失敗としてキューのバックオフ付きリトライに委ねる。ブロードキャスト失敗は
// ログのみ残してジョブを成功として完了する（通知はすでに永続化されており、
// 次回のポーリングやログイン時に参照できるため）。
package dispatcher
