package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/nao1215/notifyhub/internal/broker"
	"github.com/nao1215/notifyhub/pkg/event"
	"github.com/nao1215/notifyhub/pkg/middleware"
)

// writeWait はWebSocket書き込みのタイムアウト。
const writeWait = 10 * time.Second

// pongWait はpong応答の待ち時間。この間に応答がなければ接続を切断する。
const pongWait = 60 * time.Second

// pingInterval はping送信間隔。pongWaitより短くなければならない。
const pingInterval = (pongWait * 9) / 10

// maxMessageSize はクライアントから受信するメッセージの最大バイト数。
const maxMessageSize = 4096

// brokerChannelPattern は購読対象のブローカーチャネルパターン。
// チャネル名はルームIDと一致する。
const brokerChannelPattern = "org_*"

// Server はリアルタイム配信サービスのWebSocketサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// hub はルームと接続の管理を行うハブ。
	hub *Hub
	// broker はインスタンス間のイベント交換に使用する共有ブローカー。
	broker *broker.Broker
	// jwtSecret はJWT署名検証用のシークレット。
	jwtSecret string
	// origin はブローカー発行時に付与するインスタンス識別子。
	// 自分自身が発行したメッセージの再配信を防ぐために使用する。
	origin string
	// upgrader はHTTP接続をWebSocketへアップグレードする。
	upgrader websocket.Upgrader
	// rateQuota は接続ごとのクライアント発イベント許容数（rateWindowあたり）。
	rateQuota int
	// rateWindow はレート制限の観測ウィンドウ。
	rateWindow time.Duration
}

// NewServer は新しいリアルタイム配信サーバーを生成する。
// Redis接続の確立とルーティングの設定を行う。
func NewServer(port string) (*Server, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("Redis URLの解析に失敗: %w", err)
	}
	rdb := redis.NewClient(opts)

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:    router,
		port:      port,
		hub:       NewHub(),
		broker:    broker.New(rdb),
		jwtSecret: jwtSecret,
		origin:    "realtime-" + uuid.New().String(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// リバースプロキシ配下での運用を想定し、Origin検証は上流に委ねる
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rateQuota:  defaultRateQuota,
		rateWindow: defaultRateWindow,
	}
	s.setupRoutes()

	return s, nil
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	// WebSocket接続。JWT認証はアップグレード前に行う
	s.router.GET("/ws", s.handleWebSocket())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "realtime"})
	})
}

// StartRelay は共有ブローカーの購読を開始する。
// 他インスタンス（およびDispatcher）が発行したイベントをローカル接続へ中継する。
func (s *Server) StartRelay(ctx context.Context) {
	s.broker.Subscribe(ctx, brokerChannelPattern, s.handleBrokerMessage)
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// handleBrokerMessage はブローカーから受信したイベントをローカル接続へ配信する。
// ブローカー経由のイベントは再発行しない（無限ループ防止）。
func (s *Server) handleBrokerMessage(channel string, payload []byte) {
	var msg event.BrokerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("[Realtime] ブローカーメッセージの解析に失敗: channel=%s: %v", channel, err)
		return
	}
	if msg.Origin == s.origin || msg.Event == nil {
		return
	}
	s.hub.emitLocal(channel, msg.Event)
}

// extractToken はクエリパラメータまたはAuthorizationヘッダーからJWTを取り出す。
// ブラウザのWebSocket APIはカスタムヘッダーを送信できないため、
// クエリパラメータでの受け渡しを主経路とする。
func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// handleWebSocket はWebSocket接続を受け付けるハンドラ。
// 認証に失敗した接続はアップグレード前に拒否し、いかなるルームにも参加させない。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "認証トークンが必要です"})
			return
		}

		claims, err := middleware.ParseToken(s.jwtSecret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "認証トークンが無効です"})
			return
		}

		ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[Realtime] WebSocketへのアップグレードに失敗: user_id=%s: %v", claims.UserID, err)
			return
		}

		conn := &connection{
			id:             uuid.New().String(),
			userID:         claims.UserID,
			organizationID: claims.OrganizationID,
			// ルームは常にJWTクレームの組織IDから導出する
			roomID:  event.RoomID(claims.OrganizationID),
			ws:      ws,
			send:    make(chan any, sendBufferSize),
			limiter: newConnLimiter(s.rateQuota, s.rateWindow),
		}

		s.hub.join(conn)
		go s.writePump(conn)
		s.readPump(conn)
	}
}

// clientEvent はクライアントから受信するアクションイベントのJSON構造。
type clientEvent struct {
	// Action はアクションの種類（例: "alert_acknowledged"）。
	Action string `json:"action"`
	// TargetID はアクションの対象（通知ID等）。
	TargetID string `json:"target_id"`
}

// errorEvent はクライアントへ送信する非致命的エラーのJSON構造。
type errorEvent struct {
	// Error はエラーメッセージ。
	Error string `json:"error"`
	// Code はエラーコード。
	Code string `json:"code"`
	// Timestamp はエラーの発生日時。
	Timestamp time.Time `json:"timestamp"`
}

// readPump はクライアントからのメッセージを読み取り続ける。
// 接続の切断とともにルームから離脱させ、後始末を行う。
func (s *Server) readPump(c *connection) {
	defer func() {
		s.hub.leave(c)
		c.shutdown()
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Realtime] 接続が異常終了しました: conn=%s, user_id=%s: %v", c.id, c.userID, err)
			}
			return
		}

		// レート制限超過時はイベントを破棄し、送信者にのみエラーを通知する。
		// 接続は維持される
		if !c.limiter.Allow() {
			c.enqueue(errorEvent{
				Error:     "イベントの送信頻度が制限を超えています",
				Code:      "RATE_LIMIT_EXCEEDED",
				Timestamp: time.Now().UTC(),
			})
			continue
		}

		var clientEv clientEvent
		if err := json.Unmarshal(data, &clientEv); err != nil || clientEv.Action == "" {
			c.enqueue(errorEvent{
				Error:     "イベントの形式が不正です",
				Code:      "INVALID_EVENT",
				Timestamp: time.Now().UTC(),
			})
			continue
		}

		s.broadcastUserAction(c, clientEv)
	}
}

// broadcastUserAction はクライアント発のアクションを送信者のルームへ配信する。
// 配信先ルームは接続確立時にJWTクレームから導出したものを使用し、
// クライアントの入力からは決して導出しない。
func (s *Server) broadcastUserAction(c *connection, clientEv clientEvent) {
	socketEvent, err := event.NewSocketEvent(event.SocketTypeUserAction, event.UserActionPayload{
		UserID:   c.userID,
		Action:   clientEv.Action,
		TargetID: clientEv.TargetID,
	})
	if err != nil {
		log.Printf("[Realtime] イベントの生成に失敗: conn=%s: %v", c.id, err)
		return
	}

	s.hub.emitLocal(c.roomID, socketEvent)

	// ブローカー発行の失敗はローカル配信に影響させない
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := s.broker.Publish(ctx, c.roomID, event.BrokerMessage{
		Origin: s.origin,
		Event:  socketEvent,
	}); err != nil {
		log.Printf("[Realtime] ブローカーへの発行に失敗（ローカル配信は完了）: room=%s: %v", c.roomID, err)
	}
}

// writePump は送信キューのイベントをクライアントへ書き込み続ける。
// アイドル時は定期的にpingを送信し、接続の生存を確認する。
func (s *Server) writePump(c *connection) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case v, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteJSON(v); err != nil {
				log.Printf("[Realtime] イベントの送信に失敗: conn=%s: %v", c.id, err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
