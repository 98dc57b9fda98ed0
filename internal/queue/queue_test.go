package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nao1215/notifyhub/pkg/event"
)

// setupTestQueue はミニチュアRedisを背後に持つテスト用のキューを構築する。
// テスト終了時にRedisとクライアントをクリーンアップする。
func setupTestQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	// テストを決定的にするため、ジッターなしの短いバックオフを使用する
	policy := Policy{
		InitialDelays: map[event.Priority]time.Duration{
			event.PriorityUrgent: 0,
			event.PriorityHigh:   5 * time.Second,
			event.PriorityMedium: 30 * time.Second,
			event.PriorityLow:    2 * time.Minute,
		},
		BackoffBase:    10 * time.Millisecond,
		BackoffMax:     100 * time.Millisecond,
		JitterFraction: 0,
	}
	return New(rdb, policy), rdb
}

// testPayload はテスト用の有効な配信ペイロードを生成する。
func testPayload(priority event.Priority) event.DispatchPayload {
	return event.DispatchPayload{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Type:           event.TypeUsageThreshold,
		Priority:       priority,
		Title:          "使用量アラート",
		Message:        "使用量がしきい値を超過しました",
	}
}

// TestEnqueue はジョブ投入のテスト。
func TestEnqueue(t *testing.T) {
	t.Parallel()

	t.Run("有効なペイロードを投入するとジョブIDが返ること", func(t *testing.T) {
		t.Parallel()
		q, rdb := setupTestQueue(t)

		jobID, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityUrgent), 3, 30_000)
		if err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}
		if jobID == "" {
			t.Fatal("Enqueue()が空のジョブIDを返した")
		}

		// 待機中ZSETとジョブ本体の両方が登録されていること
		count, err := rdb.ZCard(context.Background(), keyDelayed).Result()
		if err != nil {
			t.Fatalf("ZCardに失敗: %v", err)
		}
		if count != 1 {
			t.Errorf("待機中ジョブ数 = %d, want 1", count)
		}
		exists, err := rdb.Exists(context.Background(), jobKey(jobID)).Result()
		if err != nil {
			t.Fatalf("Existsに失敗: %v", err)
		}
		if exists != 1 {
			t.Error("ジョブ本体がRedisに保存されていない")
		}
	})

	t.Run("不正なペイロードはErrInvalidPayloadで拒否されること", func(t *testing.T) {
		t.Parallel()
		q, rdb := setupTestQueue(t)

		payload := testPayload(event.PriorityUrgent)
		payload.Title = ""
		_, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, payload, 3, 30_000)
		if !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("Enqueue() error = %v, want ErrInvalidPayload", err)
		}

		// 不正なジョブは一切登録されないこと
		count, _ := rdb.ZCard(context.Background(), keyDelayed).Result()
		if count != 0 {
			t.Errorf("待機中ジョブ数 = %d, want 0", count)
		}
	})

	t.Run("未定義の通知種類はErrInvalidPayloadで拒否されること", func(t *testing.T) {
		t.Parallel()
		q, _ := setupTestQueue(t)

		payload := testPayload(event.PriorityUrgent)
		payload.Type = event.NotificationType("BOGUS")
		if _, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, payload, 3, 30_000); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("Enqueue() error = %v, want ErrInvalidPayload", err)
		}
	})
}

// TestReserve はジョブ予約のテスト。
func TestReserve(t *testing.T) {
	t.Parallel()

	t.Run("処理可能なジョブがない場合はErrEmptyが返ること", func(t *testing.T) {
		t.Parallel()
		q, _ := setupTestQueue(t)

		if _, err := q.Reserve(context.Background()); !errors.Is(err, ErrEmpty) {
			t.Fatalf("Reserve() error = %v, want ErrEmpty", err)
		}
	})

	t.Run("URGENTジョブは遅延なしで即座に予約できること", func(t *testing.T) {
		t.Parallel()
		q, _ := setupTestQueue(t)

		jobID, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityUrgent), 3, 30_000)
		if err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}

		job, err := q.Reserve(context.Background())
		if err != nil {
			t.Fatalf("Reserve()でエラーが発生: %v", err)
		}
		if job.ID != jobID {
			t.Errorf("job.ID = %q, want %q", job.ID, jobID)
		}
		if job.AttemptsMade != 1 {
			t.Errorf("AttemptsMade = %d, want 1", job.AttemptsMade)
		}
	})

	t.Run("配信前遅延が経過していないジョブは予約できないこと", func(t *testing.T) {
		t.Parallel()
		q, _ := setupTestQueue(t)

		// LOWは2分の遅延を持つため、投入直後は処理可能にならない
		if _, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityLow), 3, 30_000); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}

		if _, err := q.Reserve(context.Background()); !errors.Is(err, ErrEmpty) {
			t.Fatalf("Reserve() error = %v, want ErrEmpty", err)
		}
	})

	t.Run("遅延の短い優先度のジョブが先に処理可能になること", func(t *testing.T) {
		t.Parallel()
		q, _ := setupTestQueue(t)

		if _, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityLow), 3, 30_000); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}
		urgentID, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityUrgent), 3, 30_000)
		if err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}

		job, err := q.Reserve(context.Background())
		if err != nil {
			t.Fatalf("Reserve()でエラーが発生: %v", err)
		}
		if job.ID != urgentID {
			t.Errorf("job.ID = %q, want URGENTジョブの %q", job.ID, urgentID)
		}

		// LOWジョブはまだ処理可能でない
		if _, err := q.Reserve(context.Background()); !errors.Is(err, ErrEmpty) {
			t.Fatalf("Reserve() error = %v, want ErrEmpty", err)
		}
	})

	t.Run("予約済みのジョブは他のワーカーから見えないこと", func(t *testing.T) {
		t.Parallel()
		q, _ := setupTestQueue(t)

		if _, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityUrgent), 3, 30_000); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}

		if _, err := q.Reserve(context.Background()); err != nil {
			t.Fatalf("Reserve()でエラーが発生: %v", err)
		}
		if _, err := q.Reserve(context.Background()); !errors.Is(err, ErrEmpty) {
			t.Fatalf("2回目のReserve() error = %v, want ErrEmpty", err)
		}
	})

	t.Run("本体が消えた待機エントリは破棄されること", func(t *testing.T) {
		t.Parallel()
		q, rdb := setupTestQueue(t)

		// 本体なしのエントリを待機中ZSETへ直接登録する
		if err := rdb.ZAdd(context.Background(), keyDelayed, redis.Z{
			Score:  float64(time.Now().UTC().Add(-time.Second).UnixMilli()),
			Member: "ghost-job",
		}).Err(); err != nil {
			t.Fatalf("待機中エントリの追加に失敗: %v", err)
		}

		if _, err := q.Reserve(context.Background()); !errors.Is(err, ErrEmpty) {
			t.Fatalf("Reserve() error = %v, want ErrEmpty", err)
		}

		// エントリ自体も破棄され、再走査の対象にならないこと
		count, _ := rdb.ZCard(context.Background(), keyDelayed).Result()
		if count != 0 {
			t.Errorf("待機中ジョブ数 = %d, want 0", count)
		}
	})

	t.Run("予約のたびに試行回数がインクリメントされること", func(t *testing.T) {
		t.Parallel()
		q, _ := setupTestQueue(t)

		if _, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityUrgent), 5, 30_000); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}

		for want := 1; want <= 3; want++ {
			job, err := q.Reserve(context.Background())
			if err != nil {
				t.Fatalf("Reserve()でエラーが発生: %v", err)
			}
			if job.AttemptsMade != want {
				t.Errorf("AttemptsMade = %d, want %d", job.AttemptsMade, want)
			}

			// バックオフなしで即時再投入し、次の予約を可能にする
			job.ReadyAt = time.Now().UTC()
			if err := q.saveJob(context.Background(), job); err != nil {
				t.Fatalf("ジョブの保存に失敗: %v", err)
			}
			if err := q.rdb.ZRem(context.Background(), keyProcessing, job.ID).Err(); err != nil {
				t.Fatalf("処理中エントリの削除に失敗: %v", err)
			}
			if err := q.rdb.ZAdd(context.Background(), keyDelayed, redis.Z{
				Score:  float64(job.ReadyAt.UnixMilli()),
				Member: job.ID,
			}).Err(); err != nil {
				t.Fatalf("待機中エントリの追加に失敗: %v", err)
			}
		}
	})
}

// TestMoveZSet はZSET間の原子的なメンバー移動のテスト。
// ジョブが待機中・処理中のどちらのZSETにも属さない瞬間を作らないための基盤となる。
func TestMoveZSet(t *testing.T) {
	t.Parallel()

	t.Run("移動元のメンバーが指定スコアで移動先へ移ること", func(t *testing.T) {
		t.Parallel()
		q, rdb := setupTestQueue(t)

		if err := rdb.ZAdd(context.Background(), keyDelayed, redis.Z{Score: 100, Member: "job-1"}).Err(); err != nil {
			t.Fatalf("待機中エントリの追加に失敗: %v", err)
		}

		moved, err := q.moveZSet(context.Background(), keyDelayed, keyProcessing, "job-1", 200)
		if err != nil {
			t.Fatalf("moveZSet()でエラーが発生: %v", err)
		}
		if !moved {
			t.Fatal("moveZSet() = false, want true")
		}

		if count, _ := rdb.ZCard(context.Background(), keyDelayed).Result(); count != 0 {
			t.Errorf("移動元のメンバー数 = %d, want 0", count)
		}
		score, err := rdb.ZScore(context.Background(), keyProcessing, "job-1").Result()
		if err != nil {
			t.Fatalf("移動先のZScoreに失敗: %v", err)
		}
		if score != 200 {
			t.Errorf("移動先のスコア = %f, want 200", score)
		}
	})

	t.Run("移動元に存在しないメンバーは移動先に追加されないこと", func(t *testing.T) {
		t.Parallel()
		q, rdb := setupTestQueue(t)

		moved, err := q.moveZSet(context.Background(), keyDelayed, keyProcessing, "job-1", 200)
		if err != nil {
			t.Fatalf("moveZSet()でエラーが発生: %v", err)
		}
		if moved {
			t.Fatal("moveZSet() = true, want false")
		}

		if count, _ := rdb.ZCard(context.Background(), keyProcessing).Result(); count != 0 {
			t.Errorf("移動先のメンバー数 = %d, want 0", count)
		}
	})

	t.Run("同一メンバーの同時移動は一方だけが成功すること", func(t *testing.T) {
		t.Parallel()
		q, rdb := setupTestQueue(t)

		if err := rdb.ZAdd(context.Background(), keyDelayed, redis.Z{Score: 100, Member: "job-1"}).Err(); err != nil {
			t.Fatalf("待機中エントリの追加に失敗: %v", err)
		}

		first, err := q.moveZSet(context.Background(), keyDelayed, keyProcessing, "job-1", 200)
		if err != nil {
			t.Fatalf("1回目のmoveZSet()でエラーが発生: %v", err)
		}
		second, err := q.moveZSet(context.Background(), keyDelayed, keyProcessing, "job-1", 300)
		if err != nil {
			t.Fatalf("2回目のmoveZSet()でエラーが発生: %v", err)
		}
		if !first || second {
			t.Errorf("moveZSet() = (%v, %v), want (true, false)", first, second)
		}

		// スコアが2回目の移動で上書きされていないこと
		score, _ := rdb.ZScore(context.Background(), keyProcessing, "job-1").Result()
		if score != 200 {
			t.Errorf("移動先のスコア = %f, want 200", score)
		}
	})
}

// TestCompleteAndFail はジョブ終端処理のテスト。
func TestCompleteAndFail(t *testing.T) {
	t.Parallel()

	t.Run("Completeでジョブがキューから消えること", func(t *testing.T) {
		t.Parallel()
		q, rdb := setupTestQueue(t)

		if _, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityUrgent), 3, 30_000); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}
		job, err := q.Reserve(context.Background())
		if err != nil {
			t.Fatalf("Reserve()でエラーが発生: %v", err)
		}

		if err := q.Complete(context.Background(), job); err != nil {
			t.Fatalf("Complete()でエラーが発生: %v", err)
		}

		exists, _ := rdb.Exists(context.Background(), jobKey(job.ID)).Result()
		if exists != 0 {
			t.Error("完了済みジョブの本体が残っている")
		}
		count, _ := rdb.ZCard(context.Background(), keyProcessing).Result()
		if count != 0 {
			t.Errorf("処理中ジョブ数 = %d, want 0", count)
		}
	})

	t.Run("Failでジョブがキューから消えること", func(t *testing.T) {
		t.Parallel()
		q, rdb := setupTestQueue(t)

		if _, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityUrgent), 3, 30_000); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}
		job, err := q.Reserve(context.Background())
		if err != nil {
			t.Fatalf("Reserve()でエラーが発生: %v", err)
		}

		if err := q.Fail(context.Background(), job); err != nil {
			t.Fatalf("Fail()でエラーが発生: %v", err)
		}

		exists, _ := rdb.Exists(context.Background(), jobKey(job.ID)).Result()
		if exists != 0 {
			t.Error("失敗済みジョブの本体が残っている")
		}
	})
}

// TestRetry はリトライ再スケジュールのテスト。
func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("試行回数に余裕がある場合は再スケジュールされること", func(t *testing.T) {
		t.Parallel()
		q, rdb := setupTestQueue(t)

		if _, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityUrgent), 3, 30_000); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}
		job, err := q.Reserve(context.Background())
		if err != nil {
			t.Fatalf("Reserve()でエラーが発生: %v", err)
		}

		requeued, err := q.Retry(context.Background(), job, errors.New("一時的な接続障害"))
		if err != nil {
			t.Fatalf("Retry()でエラーが発生: %v", err)
		}
		if !requeued {
			t.Fatal("Retry() = false, want true")
		}

		// 待機中ZSETに戻り、処理中ZSETから消えていること
		delayed, _ := rdb.ZCard(context.Background(), keyDelayed).Result()
		if delayed != 1 {
			t.Errorf("待機中ジョブ数 = %d, want 1", delayed)
		}
		processing, _ := rdb.ZCard(context.Background(), keyProcessing).Result()
		if processing != 0 {
			t.Errorf("処理中ジョブ数 = %d, want 0", processing)
		}

		// 直近のエラーが記録されていること
		reloaded, err := q.loadJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("ジョブの再取得に失敗: %v", err)
		}
		if reloaded.LastError != "一時的な接続障害" {
			t.Errorf("LastError = %q, want %q", reloaded.LastError, "一時的な接続障害")
		}
	})

	t.Run("試行回数が上限に達した場合は再スケジュールされないこと", func(t *testing.T) {
		t.Parallel()
		q, _ := setupTestQueue(t)

		if _, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityUrgent), 1, 30_000); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}
		job, err := q.Reserve(context.Background())
		if err != nil {
			t.Fatalf("Reserve()でエラーが発生: %v", err)
		}

		requeued, err := q.Retry(context.Background(), job, errors.New("一時的な接続障害"))
		if err != nil {
			t.Fatalf("Retry()でエラーが発生: %v", err)
		}
		if requeued {
			t.Fatal("Retry() = true, want false")
		}
	})

	t.Run("リトライされたジョブはバックオフ経過後に再予約できること", func(t *testing.T) {
		t.Parallel()
		q, _ := setupTestQueue(t)

		if _, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityUrgent), 3, 30_000); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}
		job, err := q.Reserve(context.Background())
		if err != nil {
			t.Fatalf("Reserve()でエラーが発生: %v", err)
		}
		if _, err := q.Retry(context.Background(), job, errors.New("一時的な接続障害")); err != nil {
			t.Fatalf("Retry()でエラーが発生: %v", err)
		}

		// バックオフ（10ms）の経過を待つ
		time.Sleep(50 * time.Millisecond)

		retried, err := q.Reserve(context.Background())
		if err != nil {
			t.Fatalf("Reserve()でエラーが発生: %v", err)
		}
		if retried.ID != job.ID {
			t.Errorf("job.ID = %q, want %q", retried.ID, job.ID)
		}
		if retried.AttemptsMade != 2 {
			t.Errorf("AttemptsMade = %d, want 2", retried.AttemptsMade)
		}
	})
}

// TestHeartbeat はリース延長のテスト。
func TestHeartbeat(t *testing.T) {
	t.Parallel()

	q, rdb := setupTestQueue(t)

	if _, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityUrgent), 3, 30_000); err != nil {
		t.Fatalf("Enqueue()でエラーが発生: %v", err)
	}
	job, err := q.Reserve(context.Background())
	if err != nil {
		t.Fatalf("Reserve()でエラーが発生: %v", err)
	}

	before, err := rdb.ZScore(context.Background(), keyProcessing, job.ID).Result()
	if err != nil {
		t.Fatalf("ZScoreに失敗: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := q.Heartbeat(context.Background(), job); err != nil {
		t.Fatalf("Heartbeat()でエラーが発生: %v", err)
	}

	after, err := rdb.ZScore(context.Background(), keyProcessing, job.ID).Result()
	if err != nil {
		t.Fatalf("ZScoreに失敗: %v", err)
	}
	if after <= before {
		t.Errorf("リース期限が延長されていない: before=%f, after=%f", before, after)
	}
}

// TestReclaimStalled はストールジョブ回収のテスト。
func TestReclaimStalled(t *testing.T) {
	t.Parallel()

	t.Run("リース期限切れのジョブが再投入されること", func(t *testing.T) {
		t.Parallel()
		q, rdb := setupTestQueue(t)

		// タイムアウト1msのジョブを予約し、リースを即座に失効させる
		if _, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityUrgent), 3, 1); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}
		job, err := q.Reserve(context.Background())
		if err != nil {
			t.Fatalf("Reserve()でエラーが発生: %v", err)
		}
		time.Sleep(10 * time.Millisecond)

		reclaimed, err := q.ReclaimStalled(context.Background())
		if err != nil {
			t.Fatalf("ReclaimStalled()でエラーが発生: %v", err)
		}
		if reclaimed != 1 {
			t.Errorf("回収数 = %d, want 1", reclaimed)
		}

		// 待機中ZSETへ戻り、ストールの痕跡が記録されていること
		delayed, _ := rdb.ZCard(context.Background(), keyDelayed).Result()
		if delayed != 1 {
			t.Errorf("待機中ジョブ数 = %d, want 1", delayed)
		}
		reloaded, err := q.loadJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("ジョブの再取得に失敗: %v", err)
		}
		if reloaded.LastError == "" {
			t.Error("ストール理由がLastErrorに記録されていない")
		}
	})

	t.Run("試行上限に達したストールジョブは終端失敗となること", func(t *testing.T) {
		t.Parallel()
		q, rdb := setupTestQueue(t)

		if _, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityUrgent), 1, 1); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}
		job, err := q.Reserve(context.Background())
		if err != nil {
			t.Fatalf("Reserve()でエラーが発生: %v", err)
		}
		time.Sleep(10 * time.Millisecond)

		reclaimed, err := q.ReclaimStalled(context.Background())
		if err != nil {
			t.Fatalf("ReclaimStalled()でエラーが発生: %v", err)
		}
		if reclaimed != 0 {
			t.Errorf("回収数 = %d, want 0", reclaimed)
		}

		// ジョブ本体が削除され、どのZSETにも残っていないこと
		exists, _ := rdb.Exists(context.Background(), jobKey(job.ID)).Result()
		if exists != 0 {
			t.Error("終端失敗したジョブの本体が残っている")
		}
		delayed, _ := rdb.ZCard(context.Background(), keyDelayed).Result()
		if delayed != 0 {
			t.Errorf("待機中ジョブ数 = %d, want 0", delayed)
		}
	})

	t.Run("本体が消えた処理中エントリは破棄されること", func(t *testing.T) {
		t.Parallel()
		q, rdb := setupTestQueue(t)

		// 本体なしのリース期限切れエントリを処理中ZSETへ直接登録する
		if err := rdb.ZAdd(context.Background(), keyProcessing, redis.Z{
			Score:  float64(time.Now().UTC().Add(-time.Second).UnixMilli()),
			Member: "ghost-job",
		}).Err(); err != nil {
			t.Fatalf("処理中エントリの追加に失敗: %v", err)
		}

		reclaimed, err := q.ReclaimStalled(context.Background())
		if err != nil {
			t.Fatalf("ReclaimStalled()でエラーが発生: %v", err)
		}
		if reclaimed != 0 {
			t.Errorf("回収数 = %d, want 0", reclaimed)
		}

		// エントリ自体も破棄され、回収のたびに再走査されないこと
		count, _ := rdb.ZCard(context.Background(), keyProcessing).Result()
		if count != 0 {
			t.Errorf("処理中ジョブ数 = %d, want 0", count)
		}
	})

	t.Run("リースが有効なジョブは回収されないこと", func(t *testing.T) {
		t.Parallel()
		q, _ := setupTestQueue(t)

		if _, err := q.Enqueue(context.Background(), JobTypeNotificationDispatch, testPayload(event.PriorityUrgent), 3, 30_000); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}
		if _, err := q.Reserve(context.Background()); err != nil {
			t.Fatalf("Reserve()でエラーが発生: %v", err)
		}

		reclaimed, err := q.ReclaimStalled(context.Background())
		if err != nil {
			t.Fatalf("ReclaimStalled()でエラーが発生: %v", err)
		}
		if reclaimed != 0 {
			t.Errorf("回収数 = %d, want 0", reclaimed)
		}
	})
}
