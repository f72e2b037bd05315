// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/alumniportal/internal/middleware"
	"github.com/hitoshi/alumniportal/internal/session"
)

// SessionStore はハンドラーが必要とするブラウザ単位のセッションストアの操作。
type SessionStore interface {
	Snapshot() session.State
	WaitSettled(ctx context.Context) (session.State, error)
	Watch() (<-chan session.State, func())
	Login(ctx context.Context, req session.LoginRequest) error
	Register(ctx context.Context, req session.RegisterRequest) (session.RegisterOutcome, error)
	Logout(ctx context.Context)
	ChangePassword(ctx context.Context, newPassword string) error
}

// SessionStoreFinder はブラウザセッションIDからストアを取得する。
type SessionStoreFinder interface {
	Find(browserID string) (SessionStore, error)
}

// defaultSettleTimeout はストアの読み込み完了を待つ既定の上限。
const defaultSettleTimeout = 10 * time.Second

// sessionContext はリクエストに対応するセッションストアを解決する共通処理。
type sessionContext struct {
	stores        SessionStoreFinder
	settleTimeout time.Duration
}

// store はリクエストのブラウザセッションIDに対応するストアを返す。
// 取得できない場合はレスポンスを書き込みfalseを返す。
func (c *sessionContext) store(w http.ResponseWriter, r *http.Request) (SessionStore, bool) {
	browserID, err := middleware.BrowserIDFromContext(r.Context())
	if err != nil {
		slog.Error("browser session id missing", slog.String("path", r.URL.Path))
		middleware.WriteInternalServerError(w)
		return nil, false
	}

	s, err := c.stores.Find(browserID)
	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			middleware.WriteServiceUnavailable(w)
			return nil, false
		}
		slog.Error("failed to get session store",
			slog.String("browser_id", browserID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	return s, true
}

// settle はストアの読み込み完了を上限付きで待つ。
// 上限に達した場合やストアが閉じられた場合はerrを返す。
func (c *sessionContext) settle(ctx context.Context, s SessionStore) (session.State, error) {
	timeout := c.settleTimeout
	if timeout <= 0 {
		timeout = defaultSettleTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.WaitSettled(ctx)
}

// operationContext はプロバイダー呼び出しを伴う操作用のコンテキストを返す。
func (c *sessionContext) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.settleTimeout
	if timeout <= 0 {
		timeout = defaultSettleTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
