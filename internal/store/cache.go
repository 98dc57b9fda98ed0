package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheScope はキャッシュキーの分離単位（組織別・ユーザー別）。
type cacheScope string

const (
	// scopeOrganization は組織別一覧のキャッシュスコープ。
	scopeOrganization cacheScope = "org"
	// scopeUser はユーザー別一覧のキャッシュスコープ。
	scopeUser cacheScope = "user"
)

// cachedList はキャッシュに保持する一覧取得結果。
type cachedList struct {
	// Items は取得された通知レコード。
	Items []Notification `json:"items"`
	// Total は総件数。
	Total int64 `json:"total"`
}

// Cache は一覧取得結果の短寿命Redisキャッシュ。
//
// キーにスコープごとのバージョン番号を埋め込み、書き込み時はバージョンを
// INCRするだけで当該スコープの全エントリを論理的に無効化する。
// 古いバージョンのエントリはTTL経過で自然に消える。
// キャッシュ層のエラーは読み書きとも握りつぶしてDBへフォールバックする。
type Cache struct {
	// rdb はRedisクライアント。
	rdb *redis.Client
	// ttl はエントリの生存期間。
	ttl time.Duration
}

// NewCache は新しいCacheを生成する。
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// versionKey はスコープのバージョン番号を保持するキーを返す。
func versionKey(scope cacheScope, id string) string {
	return fmt.Sprintf("cache:ver:%s:%s", scope, id)
}

// listKey は一覧取得結果のエントリキーを返す。
func listKey(scope cacheScope, id string, version int64, page, pageSize int) string {
	return fmt.Sprintf("cache:list:%s:%s:v%d:p%d:s%d", scope, id, version, page, pageSize)
}

// currentVersion はスコープの現在バージョンを返す。未設定なら0。
func (c *Cache) currentVersion(ctx context.Context, scope cacheScope, id string) (int64, error) {
	v, err := c.rdb.Get(ctx, versionKey(scope, id)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// getList はキャッシュから一覧取得結果を引く。ヒットしなければfalseを返す。
// nilレシーバーでも安全に動作する（キャッシュなし構成）。
func (c *Cache) getList(ctx context.Context, scope cacheScope, id string, page, pageSize int) (*cachedList, bool) {
	if c == nil {
		return nil, false
	}

	version, err := c.currentVersion(ctx, scope, id)
	if err != nil {
		log.Printf("[Cache] バージョン取得エラー（DBへフォールバック）: %v", err)
		return nil, false
	}

	data, err := c.rdb.Get(ctx, listKey(scope, id, version, page, pageSize)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[Cache] 読み取りエラー（DBへフォールバック）: %v", err)
		}
		return nil, false
	}

	var cached cachedList
	if err := json.Unmarshal(data, &cached); err != nil {
		log.Printf("[Cache] デシリアライズエラー（DBへフォールバック）: %v", err)
		return nil, false
	}
	return &cached, true
}

// setList は一覧取得結果をTTL付きでキャッシュへ保存する。
func (c *Cache) setList(ctx context.Context, scope cacheScope, id string, page, pageSize int, list cachedList) {
	if c == nil {
		return
	}

	version, err := c.currentVersion(ctx, scope, id)
	if err != nil {
		log.Printf("[Cache] バージョン取得エラー（保存をスキップ）: %v", err)
		return
	}

	data, err := json.Marshal(list)
	if err != nil {
		log.Printf("[Cache] シリアライズエラー（保存をスキップ）: %v", err)
		return
	}

	if err := c.rdb.Set(ctx, listKey(scope, id, version, page, pageSize), data, c.ttl).Err(); err != nil {
		log.Printf("[Cache] 書き込みエラー（保存をスキップ）: %v", err)
	}
}

// invalidate はスコープのバージョンを進め、既存エントリを論理的に無効化する。
func (c *Cache) invalidate(ctx context.Context, scope cacheScope, id string) {
	if c == nil {
		return
	}
	if err := c.rdb.Incr(ctx, versionKey(scope, id)).Err(); err != nil {
		log.Printf("[Cache] 無効化エラー: scope=%s, id=%s: %v", scope, id, err)
	}
}
