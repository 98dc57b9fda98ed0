package store

import (
	"database/sql"
	"embed"

	"github.com/nao1215/notifyhub/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// initSchema はマイグレーションを実行して通知テーブルのスキーマを適用する。
func initSchema(db *sql.DB) error {
	return migration.Run(db, migrationsFS, "migrations")
}
