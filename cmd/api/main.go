// 通知APIサービスのエントリポイント。
// 通知の作成（配信キューへの投入）と照会・既読管理のREST APIを提供する。
// 作成された通知の永続化と配信はDispatcherが非同期に行う。
package main

import (
	"log"
	"os"

	"github.com/nao1215/notifyhub/internal/store"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server, err := store.NewServer(port)
	if err != nil {
		log.Fatalf("通知APIサーバーの初期化に失敗: %v", err)
	}

	log.Printf("通知APIサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("通知APIサービスの起動に失敗: %v", err)
	}
}
