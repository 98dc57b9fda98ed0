// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証、リクエストログ、パニックリカバリ、
// CORS設定など、全サービスで共通して使用するミドルウェアを含む。
// JWTクレームは認証済みプリンシパル（ユーザーID・組織ID・ロール）を運ぶ。
package middleware
