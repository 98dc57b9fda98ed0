package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrPublishFailed はブローカーへのイベント発行失敗を表す。
// 配信経路のエラーであり、永続化済みの通知には影響しない。
var ErrPublishFailed = errors.New("ブローカーへの発行に失敗しました")

// Handler は購読チャネルにイベントが届いた際に呼び出される関数。
// channelは実際に配信されたチャネル名、payloadはイベント本体（JSON）。
type Handler func(channel string, payload []byte)

// reconnectBaseDelay は再接続バックオフの初期値。
const reconnectBaseDelay = 500 * time.Millisecond

// reconnectMaxDelay は再接続バックオフの上限値。
const reconnectMaxDelay = 30 * time.Second

// Broker はRedis Pub/Subによる共有ブローカーアダプタ。
// publish/subscribeのみを公開し、トランスポートの詳細を隠蔽する。
type Broker struct {
	// rdb はRedisクライアント。
	rdb *redis.Client
}

// New は新しいBrokerを生成する。
func New(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb}
}

// Publish はチャネルへイベントを発行する。
// payloadはJSON形式にシリアライズされる。
func (b *Broker) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("%w: channel=%s: %v", ErrPublishFailed, channel, err)
	}
	return nil
}

// Subscribe はパターンに一致するチャネル群の購読をバックグラウンドで開始する。
// トランスポート障害時はバックオフ付きで再購読する。購読が一定期間維持された
// あとの切断は新しい障害として扱い、バックオフは初期値から再開する。
// 停止はコンテキストのキャンセルで行う。
func (b *Broker) Subscribe(ctx context.Context, pattern string, handler Handler) {
	go func() {
		var delay time.Duration
		for {
			if ctx.Err() != nil {
				return
			}

			sub := b.rdb.PSubscribe(ctx, pattern)
			log.Printf("[Broker] チャネルの購読を開始します: pattern=%s", pattern)

			started := time.Now()
			err := b.receiveLoop(ctx, sub, handler)
			_ = sub.Close()

			delay = nextReconnectDelay(delay, time.Since(started))
			if err != nil {
				log.Printf("[Broker] 購読が中断されました。%v後に再接続します: %v", delay, err)
			}

			select {
			case <-ctx.Done():
				log.Printf("[Broker] 購読を停止しました: pattern=%s", pattern)
				return
			case <-time.After(delay):
			}
		}
	}()
}

// nextReconnectDelay は次回の再接続までの待機時間を返す。
// 直前の購読がreconnectMaxDelay以上維持されていた場合は健全だったとみなし、
// バックオフを初期値に戻す。そうでなければ前回の待機時間を倍増する（上限あり）。
func nextReconnectDelay(previous, connectedFor time.Duration) time.Duration {
	if connectedFor >= reconnectMaxDelay {
		return reconnectBaseDelay
	}
	next := previous * 2
	if next < reconnectBaseDelay {
		next = reconnectBaseDelay
	}
	if next > reconnectMaxDelay {
		next = reconnectMaxDelay
	}
	return next
}

// receiveLoop はメッセージ受信を繰り返し、ハンドラへ渡す。
// トランスポートエラーで抜けた場合、呼び出し側が再接続する。
func (b *Broker) receiveLoop(ctx context.Context, sub *redis.PubSub, handler Handler) error {
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		handler(msg.Channel, []byte(msg.Payload))
	}
}
