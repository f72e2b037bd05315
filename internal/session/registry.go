package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/alumniportal/internal/provider"
)

// ProviderFactory はブラウザセッションIDに対応するプロバイダークライアントを生成する。
type ProviderFactory func(browserID string) provider.Provider

// RegistryConfig はRegistryの設定を保持する。
type RegistryConfig struct {
	IdleTimeout     time.Duration // この時間操作のないストアを破棄する
	CleanupInterval time.Duration // アイドルストアの掃除間隔
	Store           Options       // 各ストアに渡す設定
}

// Registry はブラウザセッションIDごとのStoreを管理する。
// ストアは初回アクセス時に起動し、アイドル状態が続くと破棄する。
// 破棄してもプロバイダー側のセッションは永続化されているため、次回アクセス時に復元される。
type Registry struct {
	config      RegistryConfig
	newProvider ProviderFactory
	logger      *slog.Logger

	mu     sync.RWMutex
	stores map[string]*Store
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	done   chan struct{}
}

// NewRegistry は新しいRegistryを生成する。
// バックグラウンドでアイドルストアのクリーンアップを開始する。
func NewRegistry(newProvider ProviderFactory, config RegistryConfig) *Registry {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 30 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	logger := config.Store.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Store.Now == nil {
		config.Store.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		config:      config,
		newProvider: newProvider,
		logger:      logger,
		stores:      make(map[string]*Store),
		ctx:         ctx,
		cancel:      cancel,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}

	go r.cleanupLoop()

	return r
}

// Get はブラウザセッションIDのStoreを取得する。存在しなければ生成して起動する。
func (r *Registry) Get(browserID string) (*Store, error) {
	r.mu.RLock()
	s, exists := r.stores[browserID]
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return nil, ErrClosed
	}
	if exists {
		s.Touch()
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	// ダブルチェック
	if s, exists := r.stores[browserID]; exists {
		s.Touch()
		return s, nil
	}

	opts := r.config.Store
	opts.Logger = r.logger.With(slog.String("browser_id", browserID))
	s = NewStore(r.newProvider(browserID), opts)
	s.Start(r.ctx)
	r.stores[browserID] = s

	return s, nil
}

// Count は現在管理しているストア数を返す。テストおよびメトリクス用。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stores)
}

// Close は全てのストアを停止し、クリーンアップを終了する。
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	stores := r.stores
	r.stores = make(map[string]*Store)
	r.mu.Unlock()

	close(r.stopCh)
	<-r.done

	for _, s := range stores {
		s.Close()
	}
	r.cancel()
}

// cleanupLoop はバックグラウンドでアイドルストアを定期的に破棄する。
func (r *Registry) cleanupLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.evictIdle(); n > 0 {
				r.logger.Info("アイドル状態のセッションストアを破棄しました",
					slog.Int("count", n),
				)
			}
		case <-r.stopCh:
			return
		}
	}
}

// evictIdle は最終操作時刻がIdleTimeoutを超えたストアを破棄し、破棄した数を返す。
func (r *Registry) evictIdle() int {
	now := r.config.Store.Now()

	var idle []*Store
	r.mu.Lock()
	for id, s := range r.stores {
		if now.Sub(s.LastActive()) > r.config.IdleTimeout {
			idle = append(idle, s)
			delete(r.stores, id)
		}
	}
	r.mu.Unlock()

	// Closeはループの終了を待つためロックの外で呼ぶ
	for _, s := range idle {
		s.Close()
	}
	return len(idle)
}
