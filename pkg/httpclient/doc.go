// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 各サービスが他のサービスのAPIを呼び出す際に使用する。
// Dispatcherから通知ストアへの永続化依頼など、サービス間の通信パターンを統一する。
// コンテキストに設定されたプリンシパル（ユーザーID・組織ID）をヘッダーで伝播する。
package httpclient
