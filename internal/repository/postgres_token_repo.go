package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresTokenRepo はPostgreSQLを使用したトークンリポジトリ。
// portal_tokensテーブルに保存し、期限切れ行はクリーンアップワーカーが削除する。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// Save はペイロードを保存する。既存の場合は上書きする。
func (r *PostgresTokenRepo) Save(ctx context.Context, key string, payload []byte, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO portal_tokens (key, payload, expires_at, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (key) DO UPDATE
		 SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at, updated_at = now()`,
		key, payload, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Load はペイロードを取得する。存在しないか期限切れの場合はnilを返す。
func (r *PostgresTokenRepo) Load(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload
		 FROM portal_tokens
		 WHERE key = $1 AND expires_at > now()`,
		key,
	).Scan(&payload)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	return payload, nil
}

// Delete はペイロードを削除する。
func (r *PostgresTokenRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM portal_tokens WHERE key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのペイロードを削除し、削除件数を返す。
func (r *PostgresTokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM portal_tokens WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
