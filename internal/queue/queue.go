package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nao1215/notifyhub/pkg/event"
)

var (
	// ErrUnavailable はブローカー（Redis）に到達できないことを表す。
	// プロデューサーに同期的に返され、リトライするかどうかは呼び出し側が決める。
	ErrUnavailable = errors.New("キューが利用できません")
	// ErrInvalidPayload はジョブペイロードの検証失敗を表す。リトライ対象外。
	ErrInvalidPayload = errors.New("ジョブペイロードが不正です")
	// ErrEmpty は処理可能なジョブが存在しないことを表す。
	ErrEmpty = errors.New("処理可能なジョブがありません")
)

// Redisキー定義。
const (
	// keyDelayed は処理可能時刻をスコアに持つ待機中ジョブのZSET。
	keyDelayed = "dispatch:delayed"
	// keyProcessing はリース期限をスコアに持つ処理中ジョブのZSET。
	keyProcessing = "dispatch:processing"
	// keyJobPrefix はジョブ本体（JSON）を保持するキーの接頭辞。
	keyJobPrefix = "dispatch:job:"
)

// reserveCandidates は1回の予約で走査する候補ジョブ数の上限。
// 複数ワーカーが同じ候補を取り合った場合に備えて余裕を持たせる。
const reserveCandidates = 8

// moveScript はZSET間のメンバー移動を原子的に行う。
// 移動元からのZREMが成功した場合のみ移動先へZADDするため、
// 途中でコマンドが失敗してもジョブがどちらのZSETにも属さない状態は生じない。
// 移動元に存在しなかった場合（他のワーカーや回収ループに先を越された場合）は
// 0を返し、移動先には何も追加しない。
var moveScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
	return 1
end
return 0
`)

// moveZSet はmoveScriptを実行し、メンバーを移動できたかどうかを返す。
func (q *Queue) moveZSet(ctx context.Context, from, to, member string, score int64) (bool, error) {
	moved, err := moveScript.Run(ctx, q.rdb, []string{from, to}, member, score).Int()
	if err != nil {
		return false, err
	}
	return moved == 1, nil
}

// Queue はRedisを背後に持つ配信ジョブキュー。
// 投入・予約・完了・リトライ・ストール回収の操作を提供する。
type Queue struct {
	// rdb はRedisクライアント。
	rdb *redis.Client
	// policy は優先度遅延とバックオフを決定するポリシー表。
	policy Policy
}

// New は新しいQueueを生成する。
func New(rdb *redis.Client, policy Policy) *Queue {
	return &Queue{rdb: rdb, policy: policy}
}

// Policy はこのキューが使用するポリシー表を返す。
func (q *Queue) Policy() Policy {
	return q.policy
}

// jobKey はジョブ本体を保持するRedisキーを返す。
func jobKey(id string) string {
	return keyJobPrefix + id
}

// Enqueue は配信ジョブをキューへ投入し、ジョブIDを返す。
// ペイロードは投入時点で検証され、不正な場合はErrInvalidPayloadを返す。
// Redisに到達できない場合はErrUnavailableを返す。
// ジョブは優先度に応じた遅延の後に処理可能となる。
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, payload event.DispatchPayload, maxAttempts int, timeoutMs int64) (string, error) {
	if err := payload.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if timeoutMs <= 0 {
		timeoutMs = 30_000
	}

	now := time.Now().UTC()
	job := &Job{
		ID:           uuid.New().String(),
		Type:         jobType,
		Payload:      payload,
		Priority:     payload.Priority,
		EnqueuedAt:   now,
		ReadyAt:      now.Add(q.policy.InitialDelay(payload.Priority)),
		AttemptsMade: 0,
		MaxAttempts:  maxAttempts,
		TimeoutMs:    timeoutMs,
	}

	if err := q.saveJob(ctx, job); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := q.rdb.ZAdd(ctx, keyDelayed, redis.Z{
		Score:  float64(job.ReadyAt.UnixMilli()),
		Member: job.ID,
	}).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return job.ID, nil
}

// Reserve は処理可能なジョブを1件取得し、処理中状態へ移す。
// 取得されたジョブはリース（TimeoutMs）付きで処理中ZSETに登録され、
// 試行回数がインクリメントされる。処理可能なジョブがない場合はErrEmptyを返す。
// 待機ZSETから処理中ZSETへの移動は原子的に行われるため、同一ジョブが
// 複数ワーカーへ配布されることも、移動途中の障害でジョブが両ZSETから
// 消えることもない。
func (q *Queue) Reserve(ctx context.Context) (*Job, error) {
	now := time.Now().UTC()
	candidates, err := q.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: reserveCandidates,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for _, id := range candidates {
		// 本体の読み取りは所有権の確定前に行う。この時点でジョブはまだ待機ZSETに
		// 属しているため、後続の失敗でジョブが失われることはない。
		job, err := q.loadJob(ctx, id)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// 本体が消えた孤児エントリは破棄する
				log.Printf("[Queue] ジョブ本体が見つかりません。エントリを破棄します: job_id=%s", id)
				if err := q.rdb.ZRem(ctx, keyDelayed, id).Err(); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
				}
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		lease := now.Add(job.Timeout())
		claimed, err := q.moveZSet(ctx, keyDelayed, keyProcessing, id, lease.UnixMilli())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if !claimed {
			// 他のワーカーに先を越された
			continue
		}

		job.AttemptsMade++
		if err := q.saveJob(ctx, job); err != nil {
			// 本体の更新に失敗してもジョブは処理中ZSETに残っており、
			// リース期限後にストール回収で再投入される
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return job, nil
	}
	return nil, ErrEmpty
}

// Heartbeat は処理中ジョブのリース期限を延長する。
// ワーカーが処理を継続している間、定期的に呼び出すことでストール判定を防ぐ。
func (q *Queue) Heartbeat(ctx context.Context, job *Job) error {
	expiry := time.Now().UTC().Add(job.Timeout())
	if err := q.rdb.ZAddXX(ctx, keyProcessing, redis.Z{
		Score:  float64(expiry.UnixMilli()),
		Member: job.ID,
	}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Complete はジョブを成功として終端処理し、キューから削除する。
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	return q.discard(ctx, job.ID)
}

// Fail はジョブを恒久的な失敗として終端処理し、キューから削除する。
// 失敗の文脈情報のログ出力は呼び出し側の責務とする。
func (q *Queue) Fail(ctx context.Context, job *Job) error {
	return q.discard(ctx, job.ID)
}

// discard はジョブ本体と処理中エントリを削除する。
func (q *Queue) discard(ctx context.Context, jobID string) error {
	if err := q.rdb.ZRem(ctx, keyProcessing, jobID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := q.rdb.Del(ctx, jobKey(jobID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Retry は一時的な失敗のあとジョブをバックオフ付きで再スケジュールする。
// 試行回数が上限に達している場合は再スケジュールせずfalseを返す。
// その場合、呼び出し側がFailで終端処理を行う。
func (q *Queue) Retry(ctx context.Context, job *Job, cause error) (bool, error) {
	if job.Exhausted() {
		return false, nil
	}

	job.LastError = cause.Error()
	job.ReadyAt = time.Now().UTC().Add(q.policy.Backoff(job.AttemptsMade))

	// 本体を先に更新する。移動に失敗してもジョブは処理中ZSETに残っており、
	// リース期限後にストール回収で再投入される。
	if err := q.saveJob(ctx, job); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := q.moveZSet(ctx, keyProcessing, keyDelayed, job.ID, job.ReadyAt.UnixMilli()); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

// ReclaimStalled はリース期限切れの処理中ジョブを回収し、再投入する。
// ワーカーがハートビートを送らないままクラッシュしたジョブが対象となる。
// ストールも1回の試行として数えられるため、上限に達したジョブは終端失敗となる。
// 回収したジョブ数を返す。
func (q *Queue) ReclaimStalled(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	stalled, err := q.rdb.ZRangeByScore(ctx, keyProcessing, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	reclaimed := 0
	for _, id := range stalled {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// 本体が消えた宙吊りエントリは破棄する
				log.Printf("[Queue] ジョブ本体が見つかりません。処理中エントリを破棄します: job_id=%s", id)
				if err := q.rdb.ZRem(ctx, keyProcessing, id).Err(); err != nil {
					return reclaimed, fmt.Errorf("%w: %v", ErrUnavailable, err)
				}
				continue
			}
			return reclaimed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if job.Exhausted() {
			log.Printf("[Queue] ストールしたジョブが試行上限に達したため終端失敗とします: job_id=%s, attempts=%d/%d, last_error=%q, org_id=%s, user_id=%s",
				job.ID, job.AttemptsMade, job.MaxAttempts, job.LastError, job.Payload.OrganizationID, job.Payload.UserID)
			// 本体を先に削除する。エントリの除去に失敗しても、次回の回収で
			// 宙吊りエントリとして破棄される
			if err := q.rdb.Del(ctx, jobKey(job.ID)).Err(); err != nil {
				return reclaimed, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			if err := q.rdb.ZRem(ctx, keyProcessing, id).Err(); err != nil {
				return reclaimed, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			continue
		}

		job.LastError = "ワーカーのハートビートが途絶えました"
		job.ReadyAt = now.Add(q.policy.Backoff(job.AttemptsMade))
		if err := q.saveJob(ctx, job); err != nil {
			return reclaimed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		moved, err := q.moveZSet(ctx, keyProcessing, keyDelayed, id, job.ReadyAt.UnixMilli())
		if err != nil {
			return reclaimed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if !moved {
			// 他の回収ループに先を越された
			continue
		}
		log.Printf("[Queue] ストールしたジョブを再投入しました: job_id=%s, attempts=%d/%d", job.ID, job.AttemptsMade, job.MaxAttempts)
		reclaimed++
	}
	return reclaimed, nil
}

// StartReclaimer はストール回収ループをバックグラウンドで開始する。
// 停止はコンテキストのキャンセルで行う。
func (q *Queue) StartReclaimer(ctx context.Context, interval time.Duration) {
	go func() {
		log.Println("[Queue] ストール回収ループを開始します")
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[Queue] ストール回収ループを停止しました")
				return
			case <-ticker.C:
				if _, err := q.ReclaimStalled(ctx); err != nil {
					log.Printf("[Queue] ストール回収エラー: %v", err)
				}
			}
		}
	}()
}

// saveJob はジョブ本体をJSON形式でRedisへ保存する。
func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("ジョブのシリアライズに失敗: %w", err)
	}
	return q.rdb.Set(ctx, jobKey(job.ID), data, 0).Err()
}

// loadJob はRedisからジョブ本体を取得する。
func (q *Queue) loadJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("ジョブのデシリアライズに失敗: %w", err)
	}
	return &job, nil
}
