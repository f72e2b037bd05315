package repository

import (
	"context"
	"sync"
	"time"
)

type memoryToken struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryTokenRepo はプロセス内メモリを使用したトークンリポジトリ。
// 再起動でセッションは失われる。TOKEN_STORE=memory（既定）で使う。
type MemoryTokenRepo struct {
	mu     sync.RWMutex
	tokens map[string]memoryToken
	now    func() time.Time
}

// NewMemoryTokenRepo はMemoryTokenRepoを生成する。
func NewMemoryTokenRepo() *MemoryTokenRepo {
	return &MemoryTokenRepo{
		tokens: make(map[string]memoryToken),
		now:    time.Now,
	}
}

// Save はペイロードを保存する。
func (r *MemoryTokenRepo) Save(_ context.Context, key string, payload []byte, expiresAt time.Time) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[key] = memoryToken{payload: buf, expiresAt: expiresAt}
	return nil
}

// Load はペイロードを取得する。期限切れの場合はnilを返す。
func (r *MemoryTokenRepo) Load(_ context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tok, ok := r.tokens[key]
	if !ok || !r.now().Before(tok.expiresAt) {
		return nil, nil
	}
	buf := make([]byte, len(tok.payload))
	copy(buf, tok.payload)
	return buf, nil
}

// Delete はペイロードを削除する。
func (r *MemoryTokenRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, key)
	return nil
}

// DeleteExpired は期限切れのペイロードを削除する。
func (r *MemoryTokenRepo) DeleteExpired(_ context.Context) (int64, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for key, tok := range r.tokens {
		if !now.Before(tok.expiresAt) {
			delete(r.tokens, key)
			n++
		}
	}
	return n, nil
}

// compile-time interface check
var _ TokenRepository = (*MemoryTokenRepo)(nil)
