package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// NewSocketEvent は新しいWebSocket配信用イベントを生成する。
// payloadにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func NewSocketEvent(socketType SocketType, payload any) (*SocketEvent, error) {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("イベントペイロードのシリアライズに失敗: %w", err)
	}

	return &SocketEvent{
		Type:      socketType,
		Payload:   jsonPayload,
		Version:   SocketEventVersion,
		Timestamp: time.Now().UTC(),
	}, nil
}

// DecodePayload はイベントのPayloadフィールドを指定された型にデシリアライズする。
func DecodePayload[T any](e *SocketEvent) (*T, error) {
	var payload T
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, fmt.Errorf("イベントペイロードのデシリアライズに失敗: %w", err)
	}
	return &payload, nil
}
