package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/nao1215/notifyhub/internal/queue"
	"github.com/nao1215/notifyhub/pkg/event"
	"github.com/nao1215/notifyhub/pkg/middleware"
	"github.com/nao1215/notifyhub/pkg/migration"
)

// defaultMaxAttempts は配信ジョブの既定の最大試行回数。
const defaultMaxAttempts = 3

// defaultTimeoutMs は配信ジョブの既定の処理タイムアウト（ミリ秒）。
const defaultTimeoutMs = 30_000

// defaultCacheTTL は読み取りキャッシュの既定の生存期間。
const defaultCacheTTL = 30 * time.Second

// Server は通知APIサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store は通知の永続化と照会を行うデータアクセス層。
	store *Store
	// queue は配信ジョブの投入先キュー。
	queue *queue.Queue
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewServer は新しい通知APIサーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成、Redis接続の確立を行う。
func NewServer(port string) (*Server, error) {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "/data/notifications.db"
	}

	sqlDB, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	schemaVersion, err := migration.Version(sqlDB)
	if err != nil {
		return nil, fmt.Errorf("スキーマバージョンの取得に失敗: %w", err)
	}
	log.Printf("[API] スキーマバージョン: %d", schemaVersion)

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("Redis URLの解析に失敗: %w", err)
	}
	rdb := redis.NewClient(opts)

	allowedOrigins := strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",")
	if len(allowedOrigins) == 1 && allowedOrigins[0] == "" {
		allowedOrigins = []string{"http://localhost:3000"}
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(allowedOrigins))

	s := &Server{
		router: router,
		port:   port,
		store:  NewStore(sqlDB, NewCache(rdb, defaultCacheTTL)),
		queue:  queue.New(rdb, queue.DefaultPolicy()),
		db:     sqlDB,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		notifications := api.Group("/notifications")
		{
			// 通知作成（キュー投入のみ。202で即時応答）
			notifications.POST("", s.handleCreate())
			// 通知の一括作成
			notifications.POST("/batch", s.handleCreateBatch())
			// 組織の通知一覧取得（作成日時降順・ページネーション）
			notifications.GET("", s.handleListByOrganization())
			// 自分宛の通知一覧取得（優先度降順・作成日時降順・ページネーション）
			notifications.GET("/mine", s.handleListByUser())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 通知を一括で既読にする
			notifications.PUT("/read", s.handleMarkAsRead())
			// 通知をアーカイブする
			notifications.PUT("/:id/archive", s.handleArchive())
		}
	}

	// 内部API。Dispatcherからの永続化依頼を受ける。
	// 信頼されたネットワーク内からのみ到達可能である前提。
	internal := s.router.Group("/api/v1/internal")
	{
		internal.POST("/notifications", s.handleInternalCreate())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "api"})
	})
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// OrganizationID は通知が属する組織のID。
	OrganizationID string `json:"organization_id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Type は通知の種類。
	Type string `json:"type"`
	// Priority は通知の優先度。
	Priority string `json:"priority"`
	// Status は通知の既読状態。
	Status string `json:"status"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Metadata は拡張用の任意キー/値データ。
	Metadata map[string]any `json:"metadata,omitempty"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// UpdatedAt は最終更新日時（RFC3339形式）。
	UpdatedAt string `json:"updated_at"`
}

// toNotificationResponse はストアのレコードをJSONレスポンスに変換する。
func toNotificationResponse(n Notification) notificationResponse {
	return notificationResponse{
		ID:             n.ID,
		OrganizationID: n.OrganizationID,
		UserID:         n.UserID,
		Type:           string(n.Type),
		Priority:       string(n.Priority),
		Status:         string(n.Status),
		Title:          n.Title,
		Message:        n.Message,
		Metadata:       n.Metadata,
		CreatedAt:      n.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      n.UpdatedAt.Format(time.RFC3339),
	}
}

// toNotificationResponses はレコードのスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(notifications []Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, toNotificationResponse(n))
	}
	return responses
}

// createRequest は通知作成リクエストのJSON構造。
// 組織IDはクライアント入力ではなく認証済みプリンシパルから取得する。
type createRequest struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"userId" binding:"required"`
	// Type は通知の種類。
	Type string `json:"type" binding:"required"`
	// Priority は通知の優先度。
	Priority string `json:"priority" binding:"required"`
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required"`
	// Metadata は拡張用の任意キー/値データ。
	Metadata map[string]any `json:"metadata"`
}

// toDispatchPayload はリクエストを配信ジョブのペイロードに変換する。
func (r createRequest) toDispatchPayload(orgID string) event.DispatchPayload {
	return event.DispatchPayload{
		OrganizationID: orgID,
		UserID:         r.UserID,
		Type:           event.NotificationType(r.Type),
		Priority:       event.Priority(r.Priority),
		Title:          r.Title,
		Message:        r.Message,
		Metadata:       r.Metadata,
	}
}

// handleCreate は通知作成リクエストをキューへ投入するハンドラ。
// 永続化と配信は非同期に行われるため、投入完了時点で202を返す。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := middleware.GetOrganizationID(c)
		if orgID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "組織IDが取得できません"})
			return
		}

		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		jobID, err := s.queue.Enqueue(c.Request.Context(), queue.JobTypeNotificationDispatch,
			req.toDispatchPayload(orgID), defaultMaxAttempts, defaultTimeoutMs)
		if err != nil {
			s.respondEnqueueError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
	}
}

// createBatchRequest は通知一括作成リクエストのJSON構造。
type createBatchRequest struct {
	// Notifications は作成する通知の一覧。
	Notifications []createRequest `json:"notifications" binding:"required,min=1"`
}

// handleCreateBatch は複数の通知作成リクエストをまとめてキューへ投入するハンドラ。
// いずれかの投入で検証エラーがあれば全体を400で拒否する。
func (s *Server) handleCreateBatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := middleware.GetOrganizationID(c)
		if orgID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "組織IDが取得できません"})
			return
		}

		var req createBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		// 投入前に全件を検証し、部分投入を避ける
		payloads := make([]event.DispatchPayload, 0, len(req.Notifications))
		for i, r := range req.Notifications {
			payload := r.toDispatchPayload(orgID)
			if err := payload.Validate(); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%d件目が不正です: %v", i+1, err)})
				return
			}
			payloads = append(payloads, payload)
		}

		jobIDs := make([]string, 0, len(payloads))
		for _, payload := range payloads {
			jobID, err := s.queue.Enqueue(c.Request.Context(), queue.JobTypeNotificationDispatch,
				payload, defaultMaxAttempts, defaultTimeoutMs)
			if err != nil {
				s.respondEnqueueError(c, err)
				return
			}
			jobIDs = append(jobIDs, jobID)
		}

		c.JSON(http.StatusAccepted, gin.H{"job_ids": jobIDs})
	}
}

// respondEnqueueError はキュー投入エラーを適切なHTTPステータスに変換する。
func (s *Server) respondEnqueueError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, queue.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, queue.ErrUnavailable):
		log.Printf("[API] キューが利用できません: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "キューが利用できません。しばらくしてから再試行してください"})
	default:
		log.Printf("[API] 通知投入エラー: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の投入に失敗しました"})
	}
}

// pageParams はクエリパラメータからページネーション設定を取得する。
func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

// handleListByOrganization は認証済みプリンシパルの組織の通知一覧を返すハンドラ。
func (s *Server) handleListByOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := middleware.GetOrganizationID(c)
		if orgID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "組織IDが取得できません"})
			return
		}

		page, pageSize := pageParams(c)
		items, total, err := s.store.ListByOrganization(c.Request.Context(), orgID, page, pageSize)
		if err != nil {
			if errors.Is(err, ErrMalformedID) {
				c.JSON(http.StatusNotFound, gin.H{"error": "組織が見つかりません"})
				return
			}
			log.Printf("[API] 組織別通知一覧取得エラー: org_id=%s: %v", orgID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"notifications": toNotificationResponses(items),
			"total":         total,
		})
	}
}

// handleListByUser は認証済みユーザー宛の通知一覧を返すハンドラ。
func (s *Server) handleListByUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		page, pageSize := pageParams(c)
		items, total, err := s.store.ListByUser(c.Request.Context(), userID, page, pageSize)
		if err != nil {
			if errors.Is(err, ErrMalformedID) {
				c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
				return
			}
			log.Printf("[API] ユーザー別通知一覧取得エラー: user_id=%s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"notifications": toNotificationResponses(items),
			"total":         total,
		})
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		items, err := s.store.ListUnreadByUser(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, ErrMalformedID) {
				c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
				return
			}
			log.Printf("[API] 未読通知一覧取得エラー: user_id=%s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(items))
	}
}

// markAsReadRequest は既読化リクエストのJSON構造。
type markAsReadRequest struct {
	// IDs は既読にする通知IDの一覧。
	IDs []string `json:"ids" binding:"required,min=1"`
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 他ユーザーが所有する通知IDはエラーにせず黙って無視する（存在の漏洩防止）。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req markAsReadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.store.MarkAsRead(c.Request.Context(), userID, req.IDs); err != nil {
			log.Printf("[API] 通知既読化エラー: user_id=%s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読化に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleArchive は指定された通知をアーカイブするハンドラ。
func (s *Server) handleArchive() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		id := c.Param("id")
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが必要です"})
			return
		}

		if err := s.store.Archive(c.Request.Context(), userID, id); err != nil {
			log.Printf("[API] 通知アーカイブエラー: user_id=%s, id=%s: %v", userID, id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知のアーカイブに失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知をアーカイブしました"})
	}
}

// internalCreateRequest はDispatcherからの永続化依頼のJSON構造。
// 検証済みジョブペイロードのフィールドをそのまま運ぶ。
type internalCreateRequest struct {
	// OrganizationID は通知が属する組織のID。
	OrganizationID string `json:"organizationId" binding:"required"`
	// UserID は通知先のユーザーID。
	UserID string `json:"userId" binding:"required"`
	// Type は通知の種類。
	Type string `json:"type" binding:"required"`
	// Priority は通知の優先度。
	Priority string `json:"priority" binding:"required"`
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required"`
	// Metadata は拡張用の任意キー/値データ。
	Metadata map[string]any `json:"metadata"`
}

// handleInternalCreate は通知を永続化するハンドラ。
// 内部API（Dispatcherから呼び出される）。検証エラーは400で返し、
// Dispatcher側で恒久的失敗として扱われる。
func (s *Server) handleInternalCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req internalCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		created, err := s.store.Create(c.Request.Context(), Notification{
			OrganizationID: req.OrganizationID,
			UserID:         req.UserID,
			Type:           event.NotificationType(req.Type),
			Priority:       event.Priority(req.Priority),
			Title:          req.Title,
			Message:        req.Message,
			Metadata:       req.Metadata,
		})
		if err != nil {
			if errors.Is(err, ErrValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			log.Printf("[API] 通知作成エラー: org_id=%s, user_id=%s: %v", req.OrganizationID, req.UserID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			return
		}

		c.JSON(http.StatusCreated, toNotificationResponse(*created))
	}
}
