package event

// BrokerMessage は共有ブローカーを流れるブロードキャストメッセージのエンベロープ。
//
// Originには発行元インスタンスの識別子を入れる。購読側は自分自身が発行した
// メッセージを読み飛ばすことで、ローカル配信との二重配信を防ぐ
// （ローカル接続へはブローカーを経由せず直接配信するため）。
type BrokerMessage struct {
	// Origin は発行元インスタンスの一意識別子。
	Origin string `json:"origin"`
	// Event はブロードキャストするWebSocketイベント。
	Event *SocketEvent `json:"event"`
}
