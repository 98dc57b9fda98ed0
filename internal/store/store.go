package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/notifyhub/pkg/event"
)

var (
	// ErrValidation は通知レコードの必須フィールド欠落・不正値を表す。
	ErrValidation = errors.New("通知の検証に失敗しました")
	// ErrMalformedID は識別子の形式不正を表す。
	// 結果が0件であることはエラーではなく、このエラーは形式不正の場合のみ返す。
	ErrMalformedID = errors.New("識別子の形式が不正です")
)

// Notification は永続化される通知レコード。
type Notification struct {
	// ID は通知の一意識別子（UUID）。作成時に生成され変更されない。
	ID string `json:"id"`
	// OrganizationID は通知が属する組織のID。作成後は変更されない。
	OrganizationID string `json:"organization_id"`
	// UserID は通知先のユーザーID。作成後は変更されない。
	UserID string `json:"user_id"`
	// Type は通知の種類。作成後は変更されない。
	Type event.NotificationType `json:"type"`
	// Priority は通知の優先度。配信遅延の決定に使用し、保存順序には影響しない。
	Priority event.Priority `json:"priority"`
	// Status は通知の既読状態。順方向にのみ遷移する。
	Status event.Status `json:"status"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Metadata は拡張用の任意キー/値データ。
	Metadata map[string]any `json:"metadata,omitempty"`
	// CreatedAt は通知の作成日時。
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt は最終更新日時。状態が変わるたびに進む。
	UpdatedAt time.Time `json:"updated_at"`
}

// Store は通知の永続化と照会を行うデータアクセス層。
// SQLiteを単一の真実の源泉とし、読み取りは短寿命キャッシュを経由する。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// cache は読み取り結果の短寿命キャッシュ。nilの場合はキャッシュなしで動作する。
	cache *Cache
}

// NewStore は新しいStoreを生成する。cacheはnilでもよい。
func NewStore(db *sql.DB, cache *Cache) *Store {
	return &Store{db: db, cache: cache}
}

// validIdentifier は識別子の形式を検証する。
// 空文字・64文字超・英数字とハイフン/アンダースコア以外の文字を含む場合は不正とする。
func validIdentifier(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Create は通知を検証して永続化し、ID・タイムスタンプが付与されたレコードを返す。
// 必須フィールドの欠落・不正値の場合はErrValidationを返す。
// 作成直後の状態は優先度にかかわらず必ずUNREADとなる。
func (s *Store) Create(ctx context.Context, n Notification) (*Notification, error) {
	payload := event.DispatchPayload{
		OrganizationID: n.OrganizationID,
		UserID:         n.UserID,
		Type:           n.Type,
		Priority:       n.Priority,
		Title:          n.Title,
		Message:        n.Message,
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := time.Now().UTC()
	n.ID = uuid.New().String()
	n.Status = event.StatusUnread
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}

	metadataJSON, err := json.Marshal(n.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadataのシリアライズに失敗: %v", ErrValidation, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, organization_id, user_id, type, priority, status, title, message, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.OrganizationID, n.UserID, string(n.Type), string(n.Priority), string(n.Status),
		n.Title, n.Message, string(metadataJSON),
		n.CreatedAt.Format(time.RFC3339Nano), n.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("通知の保存に失敗: %w", err)
	}

	s.invalidateCache(ctx, n.OrganizationID, n.UserID)
	return &n, nil
}

// ListByOrganization は組織に属する通知を作成日時降順でページ取得する。
// 総件数も併せて返す。結果が0件でもエラーにはならない。
// 組織IDの形式が不正な場合のみErrMalformedIDを返す。
func (s *Store) ListByOrganization(ctx context.Context, orgID string, page, pageSize int) ([]Notification, int64, error) {
	if !validIdentifier(orgID) {
		return nil, 0, fmt.Errorf("%w: organization_id=%q", ErrMalformedID, orgID)
	}
	page, pageSize = normalizePage(page, pageSize)

	if cached, ok := s.cache.getList(ctx, scopeOrganization, orgID, page, pageSize); ok {
		return cached.Items, cached.Total, nil
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE organization_id = ?`, orgID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("通知件数の取得に失敗: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, user_id, type, priority, status, title, message, metadata, created_at, updated_at
		FROM notifications
		WHERE organization_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		orgID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("組織別通知一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items, err := scanNotifications(rows)
	if err != nil {
		return nil, 0, err
	}

	s.cache.setList(ctx, scopeOrganization, orgID, page, pageSize, cachedList{Items: items, Total: total})
	return items, total, nil
}

// ListByUser はユーザー宛の通知を優先度降順・作成日時降順でページ取得する。
// 総件数も併せて返す。ユーザーIDの形式が不正な場合のみErrMalformedIDを返す。
func (s *Store) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]Notification, int64, error) {
	if !validIdentifier(userID) {
		return nil, 0, fmt.Errorf("%w: user_id=%q", ErrMalformedID, userID)
	}
	page, pageSize = normalizePage(page, pageSize)

	if cached, ok := s.cache.getList(ctx, scopeUser, userID, page, pageSize); ok {
		return cached.Items, cached.Total, nil
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ?`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("通知件数の取得に失敗: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, user_id, type, priority, status, title, message, metadata, created_at, updated_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY `+priorityRankSQL+` DESC, created_at DESC
		LIMIT ? OFFSET ?`,
		userID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ユーザー別通知一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items, err := scanNotifications(rows)
	if err != nil {
		return nil, 0, err
	}

	s.cache.setList(ctx, scopeUser, userID, page, pageSize, cachedList{Items: items, Total: total})
	return items, total, nil
}

// ListUnreadByUser はユーザー宛の未読通知を優先度降順・作成日時降順で全件取得する。
func (s *Store) ListUnreadByUser(ctx context.Context, userID string) ([]Notification, error) {
	if !validIdentifier(userID) {
		return nil, fmt.Errorf("%w: user_id=%q", ErrMalformedID, userID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, user_id, type, priority, status, title, message, metadata, created_at, updated_at
		FROM notifications
		WHERE user_id = ? AND status = 'UNREAD'
		ORDER BY `+priorityRankSQL+` DESC, created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("未読通知一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanNotifications(rows)
}

// MarkAsRead は指定されたIDの通知を既読にする。
// 対象ユーザーが所有していないIDは、存在の漏洩を避けるためエラーにせず黙って無視する。
// 既読済みの通知を再度既読化しても状態は変わらない（冪等）。
// WHERE句で現在の状態を検査するため、並行更新があっても状態が後退することはない。
func (s *Store) MarkAsRead(ctx context.Context, userID string, ids []string) error {
	if !validIdentifier(userID) {
		return fmt.Errorf("%w: user_id=%q", ErrMalformedID, userID)
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+2)
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano), userID)
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'READ', updated_at = ?
		WHERE user_id = ? AND status = 'UNREAD' AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("通知の既読化に失敗: %w", err)
	}

	s.invalidateCacheByUser(ctx, userID)
	return nil
}

// Archive は指定された通知をアーカイブ済みにする。
// 順方向遷移のみを許可し、所有していない通知は黙って無視する（既読化と同じ方針）。
func (s *Store) Archive(ctx context.Context, userID, id string) error {
	if !validIdentifier(userID) {
		return fmt.Errorf("%w: user_id=%q", ErrMalformedID, userID)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'ARCHIVED', updated_at = ?
		WHERE user_id = ? AND id = ? AND status != 'ARCHIVED'`,
		time.Now().UTC().Format(time.RFC3339Nano), userID, id,
	)
	if err != nil {
		return fmt.Errorf("通知のアーカイブに失敗: %w", err)
	}

	s.invalidateCacheByUser(ctx, userID)
	return nil
}

// priorityRankSQL は優先度文字列を全順序に変換するSQL式。
const priorityRankSQL = `CASE priority WHEN 'URGENT' THEN 3 WHEN 'HIGH' THEN 2 WHEN 'MEDIUM' THEN 1 ELSE 0 END`

// normalizePage はページ番号とページサイズを有効範囲に丸める。
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

// scanNotifications はSQL結果セットを通知レコードのスライスへ変換する。
func scanNotifications(rows *sql.Rows) ([]Notification, error) {
	items := make([]Notification, 0)
	for rows.Next() {
		var (
			n            Notification
			typ          string
			priority     string
			status       string
			metadataJSON string
			createdAt    string
			updatedAt    string
		)
		if err := rows.Scan(&n.ID, &n.OrganizationID, &n.UserID, &typ, &priority, &status,
			&n.Title, &n.Message, &metadataJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("通知レコードの読み取りに失敗: %w", err)
		}

		n.Type = event.NotificationType(typ)
		n.Priority = event.Priority(priority)
		n.Status = event.Status(status)

		if err := json.Unmarshal([]byte(metadataJSON), &n.Metadata); err != nil {
			return nil, fmt.Errorf("metadataのデシリアライズに失敗: %w", err)
		}

		var err error
		if n.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("created_atの解析に失敗: %w", err)
		}
		if n.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("updated_atの解析に失敗: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

// invalidateCache は組織・ユーザー両方のキャッシュバージョンを進める。
func (s *Store) invalidateCache(ctx context.Context, orgID, userID string) {
	s.cache.invalidate(ctx, scopeOrganization, orgID)
	s.cache.invalidate(ctx, scopeUser, userID)
}

// invalidateCacheByUser はユーザーの所属組織を特定できない書き込み経路で使用する。
// 通知テーブルからユーザーの組織を引いたうえで両方を無効化する。
func (s *Store) invalidateCacheByUser(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}

	var orgID string
	err := s.db.QueryRowContext(ctx,
		`SELECT organization_id FROM notifications WHERE user_id = ? LIMIT 1`, userID,
	).Scan(&orgID)
	if err == nil && orgID != "" {
		s.cache.invalidate(ctx, scopeOrganization, orgID)
	}
	s.cache.invalidate(ctx, scopeUser, userID)
}
