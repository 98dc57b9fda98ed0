// Package broker はRedis Pub/Subを用いたプロセス間のイベント伝搬を提供する。
//
// 複数のrealtimeインスタンスがロードバランサ背後で動作する場合でも、
// あるインスタンスで発生したブロードキャストを全インスタンスへ届ける。
// 切断時は自動的にバックオフ付きで再接続する。切断中はローカル接続への
// 配信のみが継続し、インスタンス間の伝搬は劣化する（致命的エラーとはしない）。
package broker
