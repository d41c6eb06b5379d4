// Package store はクライアント側の永続状態を保持するキーバリューストアを提供する。
// ブラウザのローカルストレージに相当し、名前空間ごとに1ユーザー分のデータを持つ。
package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Store は名前空間で区切られた文字列のキーバリューストア。
// 読み込みと書き込みは非アトミックで、1名前空間につき1セッションの利用を前提とする。
type Store interface {
	// Get は値を返す。キーが存在しない場合はok=falseを返す。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Clear は名前空間内の全キーを削除する。
	Clear(ctx context.Context) error
	Close() error
}

// Open はURLのスキームに応じたバックエンドを開く。
//
//	memory://                  プロセス内メモリ
//	sqlite:///path/to/file.db  SQLiteファイル（マイグレーションを自動適用）
//	postgres://...             PostgreSQL（マイグレーションを自動適用）
//	redis://...                Redis
func Open(ctx context.Context, rawURL, namespace string) (Store, error) {
	if strings.TrimSpace(namespace) == "" {
		return nil, fmt.Errorf("store namespace is required")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid store URL: %w", err)
	}

	switch u.Scheme {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		path := u.Host + u.Path
		if path == "" {
			return nil, fmt.Errorf("invalid store URL: sqlite path is empty")
		}
		return OpenSQLiteStore(ctx, path, namespace)
	case "postgres", "postgresql":
		return OpenPostgresStore(ctx, rawURL, namespace)
	case "redis", "rediss":
		return OpenRedisStore(ctx, rawURL, namespace)
	default:
		return nil, fmt.Errorf("unsupported store URL scheme: %q", u.Scheme)
	}
}
