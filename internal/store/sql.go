package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/teebox/internal/database"
)

// sqlQueries は方言ごとのプレースホルダーに合わせたクエリ群。
type sqlQueries struct {
	get    string
	upsert string
	delete string
	clear  string
}

var postgresQueries = sqlQueries{
	get: `SELECT value FROM client_store WHERE namespace = $1 AND key = $2`,
	upsert: `INSERT INTO client_store (namespace, key, value, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
	delete: `DELETE FROM client_store WHERE namespace = $1 AND key = $2`,
	clear:  `DELETE FROM client_store WHERE namespace = $1`,
}

var sqliteQueries = sqlQueries{
	get: `SELECT value FROM client_store WHERE namespace = ? AND key = ?`,
	upsert: `INSERT INTO client_store (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	delete: `DELETE FROM client_store WHERE namespace = ? AND key = ?`,
	clear:  `DELETE FROM client_store WHERE namespace = ?`,
}

// SQLStore はclient_storeテーブルに値を保持するストア。
// PostgreSQLとSQLiteで共通に使用する。
type SQLStore struct {
	db        *sql.DB
	namespace string
	queries   sqlQueries
	now       func() time.Time
}

// OpenSQLiteStore はSQLiteファイルを開き、マイグレーションを適用したストアを返す。
func OpenSQLiteStore(_ context.Context, path, namespace string) (*SQLStore, error) {
	db, err := database.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(database.SQLiteURL(path)); err != nil {
		db.Close()
		return nil, err
	}
	return newSQLStore(db, namespace, sqliteQueries), nil
}

// OpenPostgresStore はPostgreSQLに接続し、マイグレーションを適用したストアを返す。
func OpenPostgresStore(ctx context.Context, databaseURL, namespace string) (*SQLStore, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.RunMigrations(databaseURL); err != nil {
		db.Close()
		return nil, err
	}
	return newSQLStore(db, namespace, postgresQueries), nil
}

func newSQLStore(db *sql.DB, namespace string, q sqlQueries) *SQLStore {
	return &SQLStore{db: db, namespace: namespace, queries: q, now: time.Now}
}

// Get はキーの値を返す。
func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.queries.get, s.namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

// Set はキーに値を保存する。既存の値は上書きする。
func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.queries.upsert, s.namespace, key, value, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete はキーを削除する。存在しないキーはエラーにしない。
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.queries.delete, s.namespace, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Clear は名前空間の全キーを削除する。
func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.queries.clear, s.namespace); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}

// Close はDB接続を閉じる。
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
