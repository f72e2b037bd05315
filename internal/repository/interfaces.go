// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"
)

// TokenRepository はブラウザセッションに紐づくプロバイダーセッションの永続化インターフェース。
// ペイロードの中身（アクセストークン、リフレッシュトークン等）は呼び出し側が決める。
type TokenRepository interface {
	// Save はキーに対するペイロードを保存する。既存の場合は上書きする。
	Save(ctx context.Context, key string, payload []byte, expiresAt time.Time) error

	// Load はキーに対するペイロードを取得する。存在しないか期限切れの場合はnilを返す。
	Load(ctx context.Context, key string) ([]byte, error)

	// Delete はキーに対するペイロードを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error

	// DeleteExpired は期限切れのペイロードを削除し、削除件数を返す。
	// TTLで自動削除されるストアでは常に0を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
