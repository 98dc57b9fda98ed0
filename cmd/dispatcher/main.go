// 配信ワーカーサービスのエントリポイント。
// 配信キューからジョブを取り出し、検証 → 永続化 → ブロードキャストの
// パイプラインを実行する。ストールしたジョブの回収もこのサービスが担う。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/notifyhub/internal/broker"
	"github.com/nao1215/notifyhub/internal/dispatcher"
	"github.com/nao1215/notifyhub/internal/queue"
	"github.com/nao1215/notifyhub/pkg/httpclient"
)

// defaultWorkers は既定の並行ワーカー数。
const defaultWorkers = 4

// reclaimInterval はストールジョブ回収の実行間隔。
const reclaimInterval = 10 * time.Second

func main() {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("Redis URLの解析に失敗: %v", err)
	}
	rdb := redis.NewClient(opts)

	storeURL := os.Getenv("STORE_URL")
	if storeURL == "" {
		storeURL = "http://localhost:8080"
	}

	workers := defaultWorkers
	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			log.Fatalf("WORKERSの値が不正です: %s", v)
		}
		workers = n
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeClient := httpclient.New(storeURL)

	// 起動時の到達性確認。失敗してもリトライに委ねて起動は継続する
	var health struct {
		Status string `json:"status"`
	}
	if err := storeClient.GetJSON(ctx, "/health", &health); err != nil {
		log.Printf("通知APIサービスに到達できません（起動は継続します）: %v", err)
	}

	q := queue.New(rdb, queue.DefaultPolicy())
	q.StartReclaimer(ctx, reclaimInterval)

	d := dispatcher.New(q, storeClient, broker.New(rdb), workers)
	d.Start(ctx)

	log.Printf("配信ワーカーサービスを起動しました: workers=%d, store=%s", workers, storeURL)

	<-ctx.Done()
	log.Println("シグナルを受信しました。ワーカーの終了を待ちます")
	d.Wait()
	log.Println("配信ワーカーサービスを停止しました")
}
