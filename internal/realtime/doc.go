// Package realtime はWebSocketによるリアルタイム配信サービスを提供する。
//
// 接続はJWT認証を通過した後、組織IDから導出されたルームに参加する。
// ルーム名は常にサーバ側でJWTクレームから導出し、クライアントの入力を
// 使用しない。これによりテナント間のイベント漏洩を構造的に防ぐ。
//
// 複数インスタンス構成では共有ブローカー（Redis Pub/Sub）経由で
// イベントを交換する。ブローカー経由で受信したイベントはローカル接続へ
// のみ配信し、再発行しない（無限ループ防止）。
package realtime
