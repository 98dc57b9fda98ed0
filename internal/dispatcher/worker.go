package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/notifyhub/internal/broker"
	"github.com/nao1215/notifyhub/internal/queue"
	"github.com/nao1215/notifyhub/pkg/event"
	"github.com/nao1215/notifyhub/pkg/httpclient"
)

// defaultPollInterval はキューが空のときの再ポーリング間隔。
const defaultPollInterval = 500 * time.Millisecond

// Dispatcher は配信ジョブを処理するワーカープール。
type Dispatcher struct {
	// queue は配信ジョブの取得元キュー。
	queue *queue.Queue
	// storeClient は通知ストア（APIサービスの内部API）へのHTTPクライアント。
	storeClient *httpclient.Client
	// broker はブロードキャスト用の共有ブローカー。
	broker *broker.Broker
	// workers は並行ワーカー数。キューの同時処理ジョブ数の上限となる。
	workers int
	// pollInterval はキューが空のときの再ポーリング間隔。
	pollInterval time.Duration
	// origin はブローカー発行時に付与するインスタンス識別子。
	origin string
	// wg は全ワーカーの終了待ち合わせに使用する。
	wg sync.WaitGroup
}

// New は新しいDispatcherを生成する。
func New(q *queue.Queue, storeClient *httpclient.Client, b *broker.Broker, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		queue:        q,
		storeClient:  storeClient,
		broker:       b,
		workers:      workers,
		pollInterval: defaultPollInterval,
		origin:       "dispatcher-" + uuid.New().String(),
	}
}

// Start はワーカープールを起動する。停止はコンテキストのキャンセルで行う。
func (d *Dispatcher) Start(ctx context.Context) {
	log.Printf("[Dispatcher] ワーカープールを開始します: workers=%d", d.workers)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.runWorker(ctx, i)
	}
}

// Wait は全ワーカーの終了を待つ。
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// runWorker は1ワーカーの取得・処理ループ。
func (d *Dispatcher) runWorker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		if ctx.Err() != nil {
			log.Printf("[Dispatcher] ワーカーを停止しました: worker=%d", id)
			return
		}

		job, err := d.queue.Reserve(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrEmpty) {
				log.Printf("[Dispatcher] ジョブ取得エラー: worker=%d: %v", id, err)
			}
			select {
			case <-ctx.Done():
			case <-time.After(d.pollInterval):
			}
			continue
		}

		d.process(ctx, job)
	}
}

// process は1ジョブを検証 → 永続化 → ブロードキャストの順で処理する。
// ステップの実行順序は固定であり、途中で失敗した場合に後続ステップは実行されない。
func (d *Dispatcher) process(ctx context.Context, job *queue.Job) {
	// 処理中はリースを更新し続け、ストール判定を防ぐ
	stopHeartbeat := d.startHeartbeat(ctx, job)
	defer stopHeartbeat()

	// Step 1: 検証。失敗は恒久的エラーでありリトライしない。
	if err := job.Payload.Validate(); err != nil {
		d.failPermanently(ctx, job, fmt.Errorf("ペイロードの検証に失敗: %w", err))
		return
	}

	// Step 2: 永続化。失敗は一時的エラーとしてバックオフ付きリトライに委ねる。
	attemptCtx, cancel := context.WithTimeout(ctx, job.Timeout())
	persisted, err := d.persist(attemptCtx, job)
	cancel()
	if err != nil {
		d.retryOrFail(ctx, job, fmt.Errorf("通知の永続化に失敗: %w", err))
		return
	}

	// Step 3: ブロードキャスト。失敗してもジョブは成功として完了する。
	if err := d.publishBroadcast(ctx, persisted); err != nil {
		log.Printf("[Dispatcher] ブロードキャストに失敗（通知は永続化済み）: job_id=%s, notification_id=%s, org_id=%s: %v",
			job.ID, persisted.NotificationID, persisted.OrganizationID, err)
	}

	if err := d.queue.Complete(ctx, job); err != nil {
		log.Printf("[Dispatcher] ジョブ完了処理エラー: job_id=%s: %v", job.ID, err)
		return
	}
	log.Printf("[Dispatcher] ジョブを完了しました: job_id=%s, notification_id=%s, attempts=%d",
		job.ID, persisted.NotificationID, job.AttemptsMade)
}

// startHeartbeat はジョブのリースを定期的に延長するゴルーチンを開始する。
// 返却された関数を呼び出すことで停止する。
func (d *Dispatcher) startHeartbeat(ctx context.Context, job *queue.Job) func() {
	interval := job.Timeout() / 3
	if interval < time.Second {
		interval = time.Second
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.queue.Heartbeat(ctx, job); err != nil {
					log.Printf("[Dispatcher] ハートビート送信エラー: job_id=%s: %v", job.ID, err)
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// persistedNotification は通知ストアの内部APIレスポンスに対応する構造体。
type persistedNotification struct {
	// NotificationID は永続化済み通知の一意識別子。
	NotificationID string `json:"id"`
	// OrganizationID は通知が属する組織のID。
	OrganizationID string `json:"organization_id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Type は通知の種類。
	Type string `json:"type"`
	// Priority は通知の優先度。
	Priority string `json:"priority"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Metadata は拡張用の任意キー/値データ。
	Metadata map[string]any `json:"metadata"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// persist は通知ストアの内部APIを呼び出して通知を永続化する。
// 通知の対象ユーザーと組織をプリンシパルヘッダーとして伝播し、
// ストア側のアクセスログで配信主体を追跡できるようにする。
func (d *Dispatcher) persist(ctx context.Context, job *queue.Job) (*persistedNotification, error) {
	ctx = httpclient.WithUserID(ctx, job.Payload.UserID)
	ctx = httpclient.WithOrganizationID(ctx, job.Payload.OrganizationID)

	var persisted persistedNotification
	if err := d.storeClient.PostJSON(ctx, "/api/v1/internal/notifications", job.Payload, &persisted); err != nil {
		return nil, err
	}
	return &persisted, nil
}

// publishBroadcast は永続化済み通知をWebSocketイベントに変換し、
// 共有ブローカーのテナント別チャネルへ発行する。
// チャネル名は通知自身の組織IDから導出し、外部入力を使用しない。
func (d *Dispatcher) publishBroadcast(ctx context.Context, persisted *persistedNotification) error {
	createdAt, err := time.Parse(time.RFC3339, persisted.CreatedAt)
	if err != nil {
		createdAt = time.Now().UTC()
	}

	notificationType := event.NotificationType(persisted.Type)
	socketEvent, err := event.NewSocketEvent(notificationType.SocketType(), event.NotificationPayload{
		NotificationID:   persisted.NotificationID,
		OrganizationID:   persisted.OrganizationID,
		UserID:           persisted.UserID,
		NotificationType: notificationType,
		Priority:         event.Priority(persisted.Priority),
		Title:            persisted.Title,
		Message:          persisted.Message,
		Metadata:         persisted.Metadata,
		CreatedAt:        createdAt,
	})
	if err != nil {
		return err
	}

	return d.broker.Publish(ctx, event.RoomID(persisted.OrganizationID), event.BrokerMessage{
		Origin: d.origin,
		Event:  socketEvent,
	})
}

// failPermanently はジョブを恒久的失敗として終端処理する。
// 運用トリアージのため、最後のエラー・試行回数・元のペイロードをログに残す。
func (d *Dispatcher) failPermanently(ctx context.Context, job *queue.Job, cause error) {
	log.Printf("[Dispatcher] ジョブを恒久的失敗として終端します: job_id=%s, attempts=%d/%d, error=%v, org_id=%s, user_id=%s, type=%s, title=%q",
		job.ID, job.AttemptsMade, job.MaxAttempts, cause,
		job.Payload.OrganizationID, job.Payload.UserID, job.Payload.Type, job.Payload.Title)
	if err := d.queue.Fail(ctx, job); err != nil {
		log.Printf("[Dispatcher] ジョブ終端処理エラー: job_id=%s: %v", job.ID, err)
	}
}

// retryOrFail は一時的失敗のジョブを再スケジュールする。
// 試行回数が上限に達している場合は恒久的失敗として終端する。
func (d *Dispatcher) retryOrFail(ctx context.Context, job *queue.Job, cause error) {
	retried, err := d.queue.Retry(ctx, job, cause)
	if err != nil {
		log.Printf("[Dispatcher] リトライ登録エラー: job_id=%s: %v", job.ID, err)
		return
	}
	if !retried {
		d.failPermanently(ctx, job, cause)
		return
	}
	log.Printf("[Dispatcher] ジョブを再スケジュールしました: job_id=%s, attempts=%d/%d, next=%s: %v",
		job.ID, job.AttemptsMade, job.MaxAttempts, job.ReadyAt.Format(time.RFC3339), cause)
}
