// Package migration はSQLiteデータベースのマイグレーションを管理する。
// embed.FSからSQLファイルを読み込み、バージョン管理テーブルで適用状態を追跡する。
package migration

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strconv"
	"strings"
)

// migrationFile は1つのマイグレーションファイルを表す。
// ファイル名形式: 000001_description.up.sql
type migrationFile struct {
	version int
	name    string
	path    string
}

// Run はembedされたマイグレーションファイルをバージョン順に適用する。
// 未適用のマイグレーションのみ実行し、適用済みのものはスキップする。
// 各マイグレーションはバージョン記録とともに単一トランザクションで適用される。
func Run(db *sql.DB, fsys fs.FS, dir string) error {
	if err := ensureVersionTable(db); err != nil {
		return fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}

	migrations, err := collectMigrations(fsys, dir)
	if err != nil {
		return fmt.Errorf("マイグレーションファイルの収集に失敗: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		if err := applyMigration(db, fsys, m); err != nil {
			return fmt.Errorf("マイグレーション %06d の適用に失敗: %w", m.version, err)
		}
		log.Printf("[Migration] マイグレーション %06d_%s を適用しました", m.version, m.name)
	}

	return nil
}

// Version は現在適用されているスキーマバージョンを返す。
// 一度もマイグレーションが適用されていない場合は0を返す。
func Version(db *sql.DB) (int, error) {
	if err := ensureVersionTable(db); err != nil {
		return 0, fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("スキーマバージョンの取得に失敗: %w", err)
	}
	return version, nil
}

// ensureVersionTable はバージョン管理テーブルを作成する。
func ensureVersionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)
	`)
	return err
}

// appliedVersions は適用済みのマイグレーションバージョンを取得する。
func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// collectMigrations はディレクトリからup.sqlファイルを収集してバージョン順にソートする。
// 同一バージョンのファイルが複数ある場合はエラーを返す。
func collectMigrations(fsys fs.FS, dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]string)
	var migrations []migrationFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		m, ok := parseFileName(entry.Name())
		if !ok {
			continue
		}

		if prev, dup := seen[m.version]; dup {
			return nil, fmt.Errorf("バージョン %06d が重複しています: %s と %s", m.version, prev, entry.Name())
		}
		seen[m.version] = entry.Name()

		m.path = dir + "/" + entry.Name()
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})

	return migrations, nil
}

// parseFileName はファイル名からバージョンと説明を取り出す。
// 形式に合わないファイルは無視される（ok=false）。
func parseFileName(name string) (migrationFile, bool) {
	if !strings.HasSuffix(name, ".up.sql") {
		return migrationFile{}, false
	}

	parts := strings.SplitN(name, "_", 2)
	if len(parts) < 2 {
		return migrationFile{}, false
	}

	version, err := strconv.Atoi(parts[0])
	if err != nil || version <= 0 {
		return migrationFile{}, false
	}

	return migrationFile{
		version: version,
		name:    strings.TrimSuffix(parts[1], ".up.sql"),
	}, true
}

// applyMigration は1つのマイグレーションをトランザクション内で適用する。
// SQL実行とバージョン記録が常に一体でコミットされる。
func applyMigration(db *sql.DB, fsys fs.FS, m migrationFile) error {
	content, err := fs.ReadFile(fsys, m.path)
	if err != nil {
		return fmt.Errorf("ファイル読み込みに失敗: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("SQL実行に失敗: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("バージョン記録に失敗: %w", err)
	}

	return tx.Commit()
}
