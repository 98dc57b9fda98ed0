package realtime

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nao1215/notifyhub/pkg/event"
	"golang.org/x/time/rate"
)

// sendBufferSize は接続ごとの送信キューの容量。
// キューが満杯の接続へのイベントは破棄される（遅い接続が全体を塞がないため）。
const sendBufferSize = 64

// connection はWebSocket接続1本の状態。
type connection struct {
	// id は接続の一意識別子。
	id string
	// userID は接続ユーザーのID（JWTクレーム由来）。
	userID string
	// organizationID は接続ユーザーの組織ID（JWTクレーム由来）。
	organizationID string
	// roomID は参加中のルームID。organizationIDから導出される。
	roomID string
	// ws はWebSocketコネクション。
	ws *websocket.Conn
	// send は書き込みポンプへの送信キュー。
	send chan any
	// limiter はクライアント発イベントのレートリミッタ。
	limiter *rate.Limiter
	// closeOnce はsendチャネルの二重クローズを防ぐ。
	closeOnce sync.Once
}

// enqueue はイベントを送信キューへ積む。キューが満杯なら破棄してfalseを返す。
func (c *connection) enqueue(v any) bool {
	select {
	case c.send <- v:
		return true
	default:
		return false
	}
}

// shutdown は送信キューを閉じ、書き込みポンプを終了させる。
func (c *connection) shutdown() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub はルームと接続の対応を管理する。
// ルームは最初の参加時に生成され、最後の離脱時に破棄される。
type Hub struct {
	// mu はroomsを保護する。ブロードキャストは読み取りロックで並行実行できる。
	mu sync.RWMutex
	// rooms はルームID → 接続ID → 接続の二段マップ。
	rooms map[string]map[string]*connection
}

// NewHub は新しいHubを生成する。
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*connection)}
}

// join は接続をルームへ参加させる。ルームが未作成なら生成する。
func (h *Hub) join(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[c.roomID]
	if !ok {
		room = make(map[string]*connection)
		h.rooms[c.roomID] = room
	}
	room[c.id] = c
	log.Printf("[Realtime] ルームに参加しました: room=%s, user_id=%s, members=%d", c.roomID, c.userID, len(room))
}

// leave は接続をルームから離脱させる。空になったルームは破棄する。
func (h *Hub) leave(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	delete(room, c.id)
	if len(room) == 0 {
		delete(h.rooms, c.roomID)
	}
	log.Printf("[Realtime] ルームから離脱しました: room=%s, user_id=%s, members=%d", c.roomID, c.userID, len(room))
}

// emitLocal はローカル接続のうちルームの全メンバーへイベントを配信し、
// 配信できた接続数を返す。送信キューが満杯の接続へは配信せず破棄する。
func (h *Hub) emitLocal(roomID string, ev *event.SocketEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room, ok := h.rooms[roomID]
	if !ok {
		return 0
	}

	delivered := 0
	for _, c := range room {
		if c.enqueue(ev) {
			delivered++
		} else {
			log.Printf("[Realtime] 送信キューが満杯のためイベントを破棄しました: room=%s, conn=%s, type=%s", roomID, c.id, ev.Type)
		}
	}
	return delivered
}

// roomSize はルームの現在のメンバー数を返す。
func (h *Hub) roomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// roomCount は現在存在するルーム数を返す。
func (h *Hub) roomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
