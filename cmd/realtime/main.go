// リアルタイム配信サービスのエントリポイント。
// WebSocket接続を収容し、通知イベントを組織ごとのルームへ配信する。
// 複数インスタンス構成では共有ブローカー経由でイベントを交換する。
package main

import (
	"context"
	"log"
	"os"

	"github.com/nao1215/notifyhub/internal/realtime"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	server, err := realtime.NewServer(port)
	if err != nil {
		log.Fatalf("リアルタイム配信サーバーの初期化に失敗: %v", err)
	}

	server.StartRelay(context.Background())

	log.Printf("リアルタイム配信サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("リアルタイム配信サービスの起動に失敗: %v", err)
	}
}
