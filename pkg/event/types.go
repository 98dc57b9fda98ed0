package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SocketEventVersion はクライアントへ配信するイベントのスキーマバージョン。
// 前方互換性のため、ペイロード構造を変更する際にインクリメントする。
const SocketEventVersion = "1.0"

// SocketType はクライアントへWebSocket経由で配信するイベントの種類を表す。
type SocketType string

const (
	// SocketTypeSubscriptionUpdated はサブスクリプションの更新を表す。
	SocketTypeSubscriptionUpdated SocketType = "SUBSCRIPTION_UPDATED"
	// SocketTypeUsageAlert は使用量しきい値の超過を表す。
	SocketTypeUsageAlert SocketType = "USAGE_ALERT"
	// SocketTypeAIInsight はAI分析による洞察イベントを表す。
	SocketTypeAIInsight SocketType = "AI_INSIGHT"
	// SocketTypeUserAction はクライアント起点のアクション（アラート確認等）を表す。
	SocketTypeUserAction SocketType = "USER_ACTION"
)

// NotificationType は通知の種類を表す。
type NotificationType string

const (
	// TypeSubscriptionRenewal はサブスクリプション更新期限の通知を表す。
	TypeSubscriptionRenewal NotificationType = "SUBSCRIPTION_RENEWAL"
	// TypeUsageThreshold は使用量しきい値超過の通知を表す。
	TypeUsageThreshold NotificationType = "USAGE_THRESHOLD"
	// TypeAIInsight はAI分析による洞察の通知を表す。
	TypeAIInsight NotificationType = "AI_INSIGHT"
	// TypeSystemAlert はシステムアラートの通知を表す。
	TypeSystemAlert NotificationType = "SYSTEM_ALERT"
)

// Valid は通知の種類が定義済みのものかを判定する。
func (t NotificationType) Valid() bool {
	switch t {
	case TypeSubscriptionRenewal, TypeUsageThreshold, TypeAIInsight, TypeSystemAlert:
		return true
	default:
		return false
	}
}

// SocketType は通知の種類に対応するWebSocketイベントの種類を返す。
// SYSTEM_ALERTはクライアント側で汎用アクションとして扱うためUSER_ACTIONに対応づける。
func (t NotificationType) SocketType() SocketType {
	switch t {
	case TypeSubscriptionRenewal:
		return SocketTypeSubscriptionUpdated
	case TypeUsageThreshold:
		return SocketTypeUsageAlert
	case TypeAIInsight:
		return SocketTypeAIInsight
	default:
		return SocketTypeUserAction
	}
}

// Priority は通知の優先度を表す。配信前遅延の決定に使用し、保存順序には影響しない。
type Priority string

const (
	// PriorityLow は最も低い優先度を表す。
	PriorityLow Priority = "LOW"
	// PriorityMedium は中程度の優先度を表す。
	PriorityMedium Priority = "MEDIUM"
	// PriorityHigh は高い優先度を表す。
	PriorityHigh Priority = "HIGH"
	// PriorityUrgent は最も高い優先度を表す。配信前遅延なしで処理される。
	PriorityUrgent Priority = "URGENT"
)

// Valid は優先度が定義済みのものかを判定する。
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Rank は優先度の全順序を返す。値が大きいほど優先度が高い。
// 一覧取得時の優先度降順ソートに使用する。
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Status は通知の既読状態を表す。
// UNREAD → READ → ARCHIVED の順方向にのみ遷移し、後退しない。
type Status string

const (
	// StatusUnread は未読状態を表す。作成直後の通知は必ずこの状態になる。
	StatusUnread Status = "UNREAD"
	// StatusRead は既読状態を表す。
	StatusRead Status = "READ"
	// StatusArchived はアーカイブ済み状態を表す。終端状態であり以降遷移しない。
	StatusArchived Status = "ARCHIVED"
)

// rank は状態の順序を返す。順方向遷移の判定に使用する。
func (s Status) rank() int {
	switch s {
	case StatusUnread:
		return 0
	case StatusRead:
		return 1
	case StatusArchived:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo は現在の状態からnextへの遷移が順方向かを判定する。
// 同一状態への遷移は冪等な更新として許可する。
func (s Status) CanTransitionTo(next Status) bool {
	if s.rank() < 0 || next.rank() < 0 {
		return false
	}
	return s.rank() <= next.rank()
}

// SocketEvent はクライアントへ配信するイベントのエンベロープ。
// バージョン番号を持ち、ペイロードの構造はTypeごとに異なる。
type SocketEvent struct {
	// Type はイベントの種類。
	Type SocketType `json:"type"`
	// Payload はイベント固有のデータ（JSON形式）。
	Payload json.RawMessage `json:"payload"`
	// Version はイベントスキーマのバージョン。
	Version string `json:"version"`
	// Timestamp はイベントの生成日時。
	Timestamp time.Time `json:"timestamp"`
}

// NotificationPayload は通知作成イベントのペイロード。
// Dispatcherが通知を永続化した後、ブロードキャスト用イベントに載せて配信する。
type NotificationPayload struct {
	// NotificationID は永続化済み通知の一意識別子。
	NotificationID string `json:"notification_id"`
	// OrganizationID は通知が属する組織のID。
	OrganizationID string `json:"organization_id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// NotificationType は通知の種類。
	NotificationType NotificationType `json:"notification_type"`
	// Priority は通知の優先度。
	Priority Priority `json:"priority"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Metadata は拡張用の任意キー/値データ。
	Metadata map[string]any `json:"metadata,omitempty"`
	// CreatedAt は通知の作成日時。
	CreatedAt time.Time `json:"created_at"`
}

// UserActionPayload はクライアント起点のアクションイベントのペイロード。
type UserActionPayload struct {
	// UserID はアクションを実行したユーザーのID。
	UserID string `json:"user_id"`
	// Action はアクションの種類（例: "alert_acknowledged"）。
	Action string `json:"action"`
	// TargetID はアクションの対象（通知ID等）。
	TargetID string `json:"target_id,omitempty"`
}

// maxTitleLength はタイトルの最大長。
const maxTitleLength = 200

// maxMessageLength はメッセージ本文の最大長。
const maxMessageLength = 2000

// DispatchPayload はプロデューサーがDispatch Queueへ投入する通知作成要求。
// 永続化前の通知のフィールドを運ぶ。
type DispatchPayload struct {
	// OrganizationID は通知が属する組織のID。
	OrganizationID string `json:"organizationId"`
	// UserID は通知先のユーザーID。
	UserID string `json:"userId"`
	// Type は通知の種類。
	Type NotificationType `json:"type"`
	// Priority は通知の優先度。
	Priority Priority `json:"priority"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Metadata は拡張用の任意キー/値データ。
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate はペイロードの必須フィールドと列挙値を検証する。
// 検証失敗は恒久的エラーであり、リトライしても回復しない。
func (p DispatchPayload) Validate() error {
	if strings.TrimSpace(p.OrganizationID) == "" {
		return fmt.Errorf("organizationIdは必須です")
	}
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("userIdは必須です")
	}
	if !p.Type.Valid() {
		return fmt.Errorf("typeが不正です: %q", p.Type)
	}
	if !p.Priority.Valid() {
		return fmt.Errorf("priorityが不正です: %q", p.Priority)
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("titleは必須です")
	}
	if len(p.Title) > maxTitleLength {
		return fmt.Errorf("titleが長すぎます: %d文字（上限%d文字）", len(p.Title), maxTitleLength)
	}
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("messageは必須です")
	}
	if len(p.Message) > maxMessageLength {
		return fmt.Errorf("messageが長すぎます: %d文字（上限%d文字）", len(p.Message), maxMessageLength)
	}
	return nil
}

// RoomID は組織IDからテナント単位のルーム名を生成する。
// ブロードキャスト時の認可判定と共有ブローカーのチャネル名の両方に使用する。
func RoomID(organizationID string) string {
	return "org_" + organizationID
}
