// Package store は通知の永続化と照会を担う通知ストアサービスの内部実装を提供する。
//
// 通知レコードの作成・組織別一覧・ユーザー別一覧・未読一覧・既読化・アーカイブを行う。
// すべての照会は組織ID（テナント）で分離される。読み取り結果は短寿命のRedisキャッシュに
// 保持され、書き込みのたびに対象組織・ユーザーのキャッシュが無効化される。
// 通知の作成はキューへの投入のみを行い、永続化はDispatcherが内部APIを通じて依頼する。
package store
